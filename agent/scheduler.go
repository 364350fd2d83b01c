package agent

import (
	"sync"
	"time"
)

// TimerID is an opaque handle to a scheduled wake-up. Zero is never issued.
type TimerID uint64

// Scheduler arms one-shot wake-ups. Cancel is idempotent and safe on a timer
// that already fired or was already cancelled; it reports whether the timer
// was still pending.
type Scheduler interface {
	Schedule(d time.Duration, fn func()) TimerID
	Cancel(id TimerID) bool
	// CancelAll drops every pending timer and reports how many there were.
	CancelAll() int
	Pending() int
}

var _ Scheduler = &TimerArena{}

// TimerArena is the wall clock Scheduler. A fired timer leaves the arena
// before its callback runs, so cancelling it afterwards is a no-op.
type TimerArena struct {
	mtx    sync.Mutex
	next   TimerID
	timers map[TimerID]*time.Timer
}

func NewTimerArena() *TimerArena {
	return &TimerArena{
		timers: make(map[TimerID]*time.Timer),
	}
}

func (a *TimerArena) Schedule(d time.Duration, fn func()) TimerID {
	if d < 0 {
		d = 0
	}
	a.mtx.Lock()
	defer a.mtx.Unlock()
	a.next++
	id := a.next
	a.timers[id] = time.AfterFunc(d, func() {
		a.mtx.Lock()
		_, ok := a.timers[id]
		delete(a.timers, id)
		a.mtx.Unlock()
		if ok {
			fn()
		}
	})
	return id
}

func (a *TimerArena) Cancel(id TimerID) bool {
	a.mtx.Lock()
	defer a.mtx.Unlock()
	t, ok := a.timers[id]
	if !ok {
		return false
	}
	delete(a.timers, id)
	t.Stop()
	return true
}

func (a *TimerArena) Pending() int {
	a.mtx.Lock()
	defer a.mtx.Unlock()
	return len(a.timers)
}

func (a *TimerArena) CancelAll() int {
	a.mtx.Lock()
	defer a.mtx.Unlock()
	n := len(a.timers)
	for id, t := range a.timers {
		t.Stop()
		delete(a.timers, id)
	}
	return n
}
