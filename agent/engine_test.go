package agent

import (
	"context"
	"math"
	"path/filepath"
	"sync"
	"testing"
	"time"

	cmtlog "github.com/cometbft/cometbft/libs/log"
	"github.com/stretchr/testify/require"

	"github.com/calehh/vp-proxy/state"
	"github.com/calehh/vp-proxy/types"
)

// manualScheduler only fires timers when told to.
type manualScheduler struct {
	mtx    sync.Mutex
	next   TimerID
	fns    map[TimerID]func()
	delays map[TimerID]time.Duration
}

func newManualScheduler() *manualScheduler {
	return &manualScheduler{
		fns:    make(map[TimerID]func()),
		delays: make(map[TimerID]time.Duration),
	}
}

func (s *manualScheduler) Schedule(d time.Duration, fn func()) TimerID {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	s.next++
	s.fns[s.next] = fn
	s.delays[s.next] = d
	return s.next
}

func (s *manualScheduler) Cancel(id TimerID) bool {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	_, ok := s.fns[id]
	delete(s.fns, id)
	delete(s.delays, id)
	return ok
}

func (s *manualScheduler) CancelAll() int {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	n := len(s.fns)
	s.fns = make(map[TimerID]func())
	s.delays = make(map[TimerID]time.Duration)
	return n
}

func (s *manualScheduler) Pending() int {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return len(s.fns)
}

func (s *manualScheduler) Delay(id TimerID) time.Duration {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return s.delays[id]
}

func (s *manualScheduler) Fire(id TimerID) bool {
	s.mtx.Lock()
	fn, ok := s.fns[id]
	delete(s.fns, id)
	delete(s.delays, id)
	s.mtx.Unlock()
	if ok {
		fn()
	}
	return ok
}

type testEngine struct {
	*Engine
	mock  *MockClient
	sched *manualScheduler
	clock time.Time
}

func newTestEngine(t *testing.T, mutate func(*EngineConfig), opts ...Option) *testEngine {
	te := &testEngine{
		mock:  NewMockClient(),
		sched: newManualScheduler(),
		clock: time.Unix(2000, 0),
	}
	cfg := DefaultEngineConfig()
	cfg.RetryDelay = 0
	cfg.MaxVoteAttempts = 3
	cfg.MaxDiscoveryAttempts = 2
	if mutate != nil {
		mutate(&cfg)
	}
	opts = append([]Option{
		WithScheduler(te.sched),
		WithClock(func() time.Time { return te.clock }),
	}, opts...)
	te.Engine = NewEngine(cmtlog.NewNopLogger(), cfg, MockClientFactory{Mock: te.mock}, opts...)
	require.NoError(t, te.SetGovernance("http://gov"))
	require.NoError(t, te.SetLedger("http://ledger"))
	t.Cleanup(te.Close)
	return te
}

// watchFrom takes the watch lock without launching the discovery loop.
func (te *testEngine) watchFrom(mark types.LowWaterMark) {
	te.mtx.Lock()
	defer te.mtx.Unlock()
	te.watching = true
	te.hasMark = true
	te.mark = mark
}

func (te *testEngine) setNeuron(id types.NeuronID) {
	te.mtx.Lock()
	defer te.mtx.Unlock()
	te.neuron = id
}

func (te *testEngine) addCouncil(t *testing.T, neurons ...types.NeuronID) {
	for _, n := range neurons {
		require.NoError(t, te.AddCouncilMember("member-"+string(n), n))
	}
}

func (te *testEngine) watchedIDs() []types.ProposalID {
	ids := make([]types.ProposalID, 0)
	for _, e := range te.Watchlist() {
		ids = append(ids, e.ID)
	}
	return ids
}

func prop(id types.ProposalID, created uint64) types.Proposal {
	return types.Proposal{
		ID:           id,
		ActionType:   1,
		Title:        "proposal",
		CreatedAt:    created,
		VotingPeriod: 90000,
		Ballots:      map[types.NeuronID]types.Ballot{},
	}
}

func TestCheckProposalsDeadline(t *testing.T) {
	ctx := context.Background()

	te := newTestEngine(t, nil)
	te.mock.AddProposal(prop(2, 1000))
	te.watchFrom(types.LowWaterMark{ID: 1, CreatedAt: 500})
	te.clock = time.Unix(87400, 0)
	require.NoError(t, te.CheckProposals(ctx))
	require.Empty(t, te.Watchlist(), "deadline 1000+90000-3600 reached")
	mark, ok := te.Mark()
	require.True(t, ok)
	require.Equal(t, types.ProposalID(2), mark.ID)

	te = newTestEngine(t, nil)
	te.mock.AddProposal(prop(2, 1000))
	te.watchFrom(types.LowWaterMark{ID: 1, CreatedAt: 500})
	te.clock = time.Unix(87399, 0)
	require.NoError(t, te.CheckProposals(ctx))
	wl := te.Watchlist()
	require.Len(t, wl, 1)
	require.Equal(t, int64(87400), wl[0].Deadline)
	require.Equal(t, types.ParticipationUndecided, wl[0].Status)
	require.False(t, wl[0].Locked)
	require.Equal(t, time.Second, te.sched.Delay(TimerID(wl[0].Timer)))
}

func TestCheckProposalsSkips(t *testing.T) {
	te := newTestEngine(t, nil)
	admin := prop(2, 1000)
	admin.Title = "[vp-proxy] add council member"
	decided := prop(3, 1100)
	decided.DecidedAt = 1500
	rewarded := prop(4, 1200)
	rewarded.RewardDistributedAt = 1600
	excluded := prop(5, 1300)
	excluded.ActionType = 7
	open := prop(6, 1400)
	for _, p := range []types.Proposal{admin, decided, rewarded, excluded, open} {
		te.mock.AddProposal(p)
	}
	te.DisallowActionType(7)
	te.watchFrom(types.LowWaterMark{ID: 1, CreatedAt: 500})

	require.NoError(t, te.CheckProposals(context.Background()))
	require.Equal(t, []types.ProposalID{6}, te.watchedIDs())
	require.Equal(t, []types.ActionType{7}, te.mock.Lists[0].ExcludeTypes)
	require.Nil(t, te.mock.Lists[0].BeforeProposal)
}

func TestCheckProposalsPaging(t *testing.T) {
	te := newTestEngine(t, func(c *EngineConfig) { c.PageLimit = 2 })
	for i := 1; i <= 6; i++ {
		te.mock.AddProposal(prop(types.ProposalID(i), uint64(1000*i)))
	}
	te.watchFrom(types.LowWaterMark{ID: 1, CreatedAt: 1000})

	require.NoError(t, te.CheckProposals(context.Background()))
	require.Equal(t, []types.ProposalID{2, 3, 4, 5, 6}, te.watchedIDs())
	require.Len(t, te.mock.Lists, 3)
	require.Equal(t, types.ProposalID(5), *te.mock.Lists[1].BeforeProposal)
	require.Equal(t, types.ProposalID(3), *te.mock.Lists[2].BeforeProposal)
	mark, _ := te.Mark()
	require.Equal(t, types.LowWaterMark{ID: 6, ActionType: 1, CreatedAt: 6000}, mark)

	// oldest first
	wl := te.Watchlist()
	require.Less(t, wl[0].Timer, wl[4].Timer)

	require.NoError(t, te.CheckProposals(context.Background()))
	require.Len(t, te.mock.Lists, 4)
	require.Len(t, te.Watchlist(), 5)
	require.Equal(t, 5, te.sched.Pending())
}

func TestCheckProposalsMarkNeverRegresses(t *testing.T) {
	te := newTestEngine(t, nil)
	te.mock.AddProposal(prop(11, 4000))
	te.watchFrom(types.LowWaterMark{ID: 10, CreatedAt: 5000})

	require.NoError(t, te.CheckProposals(context.Background()))
	mark, _ := te.Mark()
	require.Equal(t, types.ProposalID(10), mark.ID)
	require.Equal(t, uint64(5000), mark.CreatedAt)
	require.Empty(t, te.Watchlist())
}

func TestCheckProposalsFailedPageLeavesNoState(t *testing.T) {
	te := newTestEngine(t, func(c *EngineConfig) { c.PageLimit = 2 })
	for i := 1; i <= 5; i++ {
		te.mock.AddProposal(prop(types.ProposalID(i), uint64(1000*i)))
	}
	te.watchFrom(types.LowWaterMark{ID: 1, CreatedAt: 1000})

	calls := 0
	te.mock.OnCall("list_proposals", func() {
		calls++
		if calls == 2 {
			te.mock.FailNext("list_proposals", 1)
		}
	})
	err := te.CheckProposals(context.Background())
	require.True(t, IsRemote(err))
	require.Empty(t, te.Watchlist())
	mark, _ := te.Mark()
	require.Equal(t, types.ProposalID(1), mark.ID)

	require.NoError(t, te.CheckProposals(context.Background()))
	require.Equal(t, []types.ProposalID{2, 3, 4, 5}, te.watchedIDs())
}

func TestCheckProposalsSkipsFinalized(t *testing.T) {
	ctx := context.Background()
	te := newTestEngine(t, nil)
	te.setNeuron("aa")
	te.mock.AddProposal(prop(2, 1000))
	te.watchFrom(types.LowWaterMark{ID: 1, CreatedAt: 500})
	require.NoError(t, te.CheckProposals(ctx))
	_, err := te.VoteNow(ctx, 2)
	require.NoError(t, err)

	te.mtx.Lock()
	te.mark = types.LowWaterMark{ID: 1, CreatedAt: 500}
	te.mtx.Unlock()
	require.NoError(t, te.CheckProposals(ctx))
	require.Empty(t, te.Watchlist())
	require.Len(t, te.History(), 1)
}

func TestTriggerDiscovery(t *testing.T) {
	ctx := context.Background()
	te := newTestEngine(t, nil)
	require.ErrorIs(t, te.TriggerDiscovery(ctx), ErrNotWatching)

	te.mock.AddProposal(prop(2, 1000))
	te.watchFrom(types.LowWaterMark{ID: 1, CreatedAt: 500})
	te.mock.FailNext("list_proposals", 1)
	require.NoError(t, te.TriggerDiscovery(ctx))
	require.Len(t, te.Watchlist(), 1)

	te.mock.FailNext("list_proposals", 2)
	require.True(t, IsRemote(te.TriggerDiscovery(ctx)))
	require.True(t, te.IsWatching(), "an abandoned cycle keeps watching")
}

func TestStartStopWatching(t *testing.T) {
	idle := NewEngine(cmtlog.NewNopLogger(), DefaultEngineConfig(), nil)
	defer idle.Close()
	require.ErrorIs(t, idle.StartWatching(types.LowWaterMark{}), ErrGovernanceNotSet)

	te := newTestEngine(t, nil)
	te.mock.AddProposal(prop(2, 1000))
	require.ErrorIs(t, te.StopWatching(), ErrNotWatching)

	require.NoError(t, te.StartWatching(types.LowWaterMark{ID: 1, CreatedAt: 500}))
	require.ErrorIs(t, te.StartWatching(types.LowWaterMark{}), ErrAlreadyWatching)
	require.Eventually(t, func() bool { return len(te.Watchlist()) == 1 }, 2*time.Second, 10*time.Millisecond)

	te.mtx.Lock()
	te.appendHistoryLocked(types.HistoryEntry{ID: 1, Status: types.ParticipationVotedFor})
	te.mtx.Unlock()

	require.NoError(t, te.StopWatching())
	require.False(t, te.IsWatching())
	require.Empty(t, te.Watchlist())
	require.Zero(t, te.sched.Pending())
	require.Len(t, te.History(), 1)
	require.ErrorIs(t, te.StopWatching(), ErrNotWatching)
}

func TestDisallowActionType(t *testing.T) {
	te := newTestEngine(t, nil)
	a := prop(2, 1000)
	b := prop(3, 1100)
	b.ActionType = 5
	te.mock.AddProposal(a)
	te.mock.AddProposal(b)
	te.watchFrom(types.LowWaterMark{ID: 1, CreatedAt: 500})
	require.NoError(t, te.CheckProposals(context.Background()))
	require.Len(t, te.Watchlist(), 2)

	require.Equal(t, []types.ProposalID{2}, te.DisallowActionType(1))
	require.Equal(t, []types.ProposalID{3}, te.watchedIDs())
	require.Equal(t, 1, te.sched.Pending())
	require.Empty(t, te.History())
	require.Equal(t, []types.ActionType{1}, te.ExcludedActionTypes())

	te.AllowActionType(1)
	require.Empty(t, te.ExcludedActionTypes())
	require.Equal(t, []types.ProposalID{3}, te.watchedIDs())
}

func TestCouncil(t *testing.T) {
	te := newTestEngine(t, nil)
	require.ErrorIs(t, te.AddCouncilMember("nobody", ""), ErrInvalidMember)
	require.NoError(t, te.AddCouncilMember("alice", "n1"))
	require.NoError(t, te.AddCouncilMember("bob", "n2"))
	require.NoError(t, te.AddCouncilMember("alice again", "n1"))
	require.Len(t, te.Council(), 3)

	require.Equal(t, 2, te.RemoveCouncilMember("n1"))
	require.Equal(t, []types.CouncilMember{{Name: "bob", NeuronID: "n2"}}, te.Council())
	require.Zero(t, te.RemoveCouncilMember("n9"))

	te.EmergencyReset()
	require.Empty(t, te.Council())
}

func TestHistoryStoreAndPaging(t *testing.T) {
	ctx := context.Background()
	store, err := NewGormHistoryStore(cmtlog.NewNopLogger(), filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	defer store.Close()

	te := newTestEngine(t, nil, WithHistoryStore(store))
	te.setNeuron("aa")
	for i := 2; i <= 4; i++ {
		te.mock.AddProposal(prop(types.ProposalID(i), uint64(1000*i)))
	}
	te.watchFrom(types.LowWaterMark{ID: 1, CreatedAt: 500})
	require.NoError(t, te.CheckProposals(ctx))
	for i := 2; i <= 4; i++ {
		_, err := te.VoteNow(ctx, types.ProposalID(i))
		require.NoError(t, err)
	}

	entries, err := store.Entries()
	require.NoError(t, err)
	require.Len(t, entries, 3)

	page, total := te.HistoryPage(0, 2)
	require.EqualValues(t, 3, total)
	require.Equal(t, types.ProposalID(4), page[0].ID)
	require.Equal(t, types.ProposalID(3), page[1].ID)
	page, _ = te.HistoryPage(1, 2)
	require.Len(t, page, 1)
	require.Equal(t, types.ProposalID(2), page[0].ID)

	reloaded := newTestEngine(t, nil, WithHistoryStore(store))
	require.NoError(t, reloaded.LoadHistory())
	require.Equal(t, te.History(), reloaded.History())

	require.NoError(t, te.ClearHistory())
	require.Empty(t, te.History())
	entries, err = store.Entries()
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestCloseDropsTimers(t *testing.T) {
	te := newTestEngine(t, nil)
	for i := 2; i <= 4; i++ {
		te.mock.AddProposal(prop(types.ProposalID(i), uint64(1000*i)))
	}
	te.watchFrom(types.LowWaterMark{ID: 1, CreatedAt: 500})
	require.NoError(t, te.CheckProposals(context.Background()))
	require.Equal(t, 3, te.sched.Pending())

	te.Close()
	require.Zero(t, te.sched.Pending())
	te.Close()
}

func TestHistoryPageBounds(t *testing.T) {
	store, err := NewGormHistoryStore(cmtlog.NewNopLogger(), filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	defer store.Close()

	for name, te := range map[string]*testEngine{
		"memory": newTestEngine(t, nil),
		"store":  newTestEngine(t, nil, WithHistoryStore(store)),
	} {
		te.mtx.Lock()
		for i := 1; i <= 150; i++ {
			te.appendHistoryLocked(types.HistoryEntry{ID: types.ProposalID(i), ActionType: 1, Status: types.ParticipationVotedFor})
		}
		te.mtx.Unlock()

		page, total := te.HistoryPage(0, 1000)
		require.EqualValues(t, 150, total, name)
		require.Len(t, page, MaxPageLimit, name)
		require.Equal(t, types.ProposalID(150), page[0].ID, name)

		page, _ = te.HistoryPage(1, 0)
		require.Len(t, page, 50, name)
		require.Equal(t, types.ProposalID(1), page[49].ID, name)

		page, total = te.HistoryPage(1<<62+1, 2)
		require.Empty(t, page, name)
		require.EqualValues(t, 150, total, name)

		page, _ = te.HistoryPage(math.MaxInt, MaxPageLimit)
		require.Empty(t, page, name)
	}
}

func TestSnapshotRestore(t *testing.T) {
	db, err := state.NewMemStateDB(cmtlog.NewNopLogger())
	require.NoError(t, err)
	defer db.Close()

	te := newTestEngine(t, nil, WithSnapshotStore(db))
	te.addCouncil(t, "n1", "n2")
	te.DisallowActionType(9)
	te.setNeuron("aa")
	te.mock.AddProposal(prop(2, 1000))
	te.watchFrom(types.LowWaterMark{ID: 1, CreatedAt: 500})
	require.NoError(t, te.CheckProposals(context.Background()))

	snap, err := db.LoadSnapshot()
	require.NoError(t, err)
	require.True(t, snap.Watching)
	require.Equal(t, "http://gov", snap.GovernanceURL)
	require.Len(t, snap.Watchlist, 1)
	require.Equal(t, uint64(87400), snap.Watchlist[0].Deadline)
	require.Equal(t, types.ProposalID(2), snap.Mark.ID)

	restored := newTestEngine(t, nil)
	require.NoError(t, restored.Restore(snap))
	require.True(t, restored.IsWatching())
	require.Equal(t, []types.ProposalID{2}, restored.watchedIDs())
	require.Equal(t, te.Council(), restored.Council())
	require.Equal(t, []types.ActionType{9}, restored.ExcludedActionTypes())
	neuron, ok := restored.Neuron()
	require.True(t, ok)
	require.Equal(t, types.NeuronID("aa"), neuron)
	mark, _ := restored.Mark()
	require.Equal(t, types.ProposalID(2), mark.ID)
	require.ErrorIs(t, restored.Restore(snap), ErrAlreadyWatching)
}

func TestRestoreRejectsUnknownVersion(t *testing.T) {
	te := newTestEngine(t, nil)
	te.addCouncil(t, "n1")
	snap := te.Snapshot()
	snap.Version = types.SnapshotVersion + 1
	snap.Watching = true

	restored := newTestEngine(t, nil)
	require.ErrorIs(t, restored.Restore(snap), state.ErrSnapshotVersion)
	require.False(t, restored.IsWatching())
	require.Empty(t, restored.Council())
}
