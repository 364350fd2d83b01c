package agent

import (
	"context"
	"sort"
	"sync"
	"time"

	cmtlog "github.com/cometbft/cometbft/libs/log"

	"github.com/calehh/vp-proxy/config"
	"github.com/calehh/vp-proxy/crypto"
	"github.com/calehh/vp-proxy/state"
	"github.com/calehh/vp-proxy/types"
)

type EngineConfig struct {
	DiscoveryInterval    time.Duration
	GraceWindow          time.Duration
	PageLimit            int
	MaxVoteAttempts      int
	MaxDiscoveryAttempts int
	RetryDelay           time.Duration
	AdminTitlePrefix     string
}

func EngineConfigFrom(w *config.WatcherConfig) EngineConfig {
	return EngineConfig{
		DiscoveryInterval:    w.DiscoveryInterval,
		GraceWindow:          w.GraceWindow,
		PageLimit:            w.PageLimit,
		MaxVoteAttempts:      w.MaxVoteAttempts,
		MaxDiscoveryAttempts: w.MaxDiscoveryAttempts,
		RetryDelay:           w.RetryDelay,
		AdminTitlePrefix:     w.AdminTitlePrefix,
	}
}

func DefaultEngineConfig() EngineConfig {
	return EngineConfigFrom(config.DefaultWatcherConfig())
}

// ClientFactory turns configured addresses into remote clients.
type ClientFactory interface {
	Governance(url string) GovernanceClient
	Ledger(url string) LedgerClient
}

// SnapshotStore persists engine snapshots, see state.StateDB.
type SnapshotStore interface {
	SaveSnapshot(snap types.Snapshot) error
}

type Option func(*Engine)

func WithScheduler(s Scheduler) Option {
	return func(e *Engine) { e.sched = s }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func WithIdentity(id *crypto.Identity) Option {
	return func(e *Engine) { e.identity = id }
}

func WithHistoryStore(s HistoryStore) Option {
	return func(e *Engine) { e.store = s }
}

func WithVoteJournal(j *state.VoteJournal) Option {
	return func(e *Engine) { e.journal = j }
}

func WithSnapshotStore(s SnapshotStore) Option {
	return func(e *Engine) { e.snapshots = s }
}

// Engine is the proposal discovery and voting engine. All of its state is
// guarded by mtx, which is never held across a remote call: every remote call
// is a point where other operations may run.
type Engine struct {
	mtx    sync.Mutex
	logger cmtlog.Logger
	cfg    EngineConfig
	now    func() time.Time

	sched     Scheduler
	factory   ClientFactory
	identity  *crypto.Identity
	store     HistoryStore
	journal   *state.VoteJournal
	snapshots SnapshotStore

	govAddr    string
	gov        GovernanceClient
	ledgerAddr string
	ledger     LedgerClient

	council  []types.CouncilMember
	excluded map[types.ActionType]struct{}
	hasMark  bool
	mark     types.LowWaterMark

	neuron        types.NeuronID
	pendingClaim  *uint64
	bootstrapping bool

	watching   bool
	watchlist  map[types.ProposalID]*types.WatchEntry
	history    []types.HistoryEntry
	historyIdx map[types.ProposalID]int

	// discoveryMtx serializes discovery cycles.
	discoveryMtx  sync.Mutex
	stopDiscovery context.CancelFunc

	persistMtx sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed bool
}

func NewEngine(logger cmtlog.Logger, cfg EngineConfig, factory ClientFactory, opts ...Option) *Engine {
	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		logger:     logger.With("module", "engine"),
		cfg:        cfg,
		now:        time.Now,
		factory:    factory,
		excluded:   make(map[types.ActionType]struct{}),
		watchlist:  make(map[types.ProposalID]*types.WatchEntry),
		history:    make([]types.HistoryEntry, 0),
		historyIdx: make(map[types.ProposalID]int),
		ctx:        ctx,
		cancel:     cancel,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.sched == nil {
		e.sched = NewTimerArena()
	}
	if e.cfg.PageLimit <= 0 || e.cfg.PageLimit > MaxPageLimit {
		e.cfg.PageLimit = MaxPageLimit
	}
	if e.cfg.DiscoveryInterval <= 0 {
		e.cfg.DiscoveryInterval = config.DefaultDiscoveryInterval
	}
	if e.cfg.MaxVoteAttempts <= 0 {
		e.cfg.MaxVoteAttempts = 1
	}
	if e.cfg.MaxDiscoveryAttempts <= 0 {
		e.cfg.MaxDiscoveryAttempts = 1
	}
	return e
}

// LoadHistory fills the in-memory history from the history store.
func (e *Engine) LoadHistory() error {
	if e.store == nil {
		return nil
	}
	entries, err := e.store.Entries()
	if err != nil {
		return err
	}
	e.mtx.Lock()
	defer e.mtx.Unlock()
	e.history = make([]types.HistoryEntry, 0, len(entries))
	e.historyIdx = make(map[types.ProposalID]int, len(entries))
	for _, h := range entries {
		e.history = append(e.history, h)
		e.historyIdx[h.ID] = len(e.history) - 1
	}
	e.logger.Info("history loaded", "entries", len(entries))
	return nil
}

// Close stops every background activity and waits for in-flight votes. It
// does not flip the watch lock, so a snapshot taken afterwards still resumes
// watching on the next start.
func (e *Engine) Close() {
	e.mtx.Lock()
	if e.closed {
		e.mtx.Unlock()
		return
	}
	e.closed = true
	if e.stopDiscovery != nil {
		e.stopDiscovery()
		e.stopDiscovery = nil
	}
	dropped := e.sched.CancelAll()
	e.mtx.Unlock()
	e.logger.Debug("engine closed", "timers", dropped)
	e.cancel()
	e.wg.Wait()
}

func (e *Engine) SetGovernance(url string) error {
	if e.factory == nil {
		return ErrGovernanceNotSet
	}
	cli := e.factory.Governance(url)
	e.mtx.Lock()
	e.govAddr = url
	e.gov = cli
	e.mtx.Unlock()
	e.logger.Info("governance set", "url", url)
	e.persist()
	return nil
}

func (e *Engine) SetLedger(url string) error {
	if e.factory == nil {
		return ErrLedgerNotSet
	}
	cli := e.factory.Ledger(url)
	e.mtx.Lock()
	e.ledgerAddr = url
	e.ledger = cli
	e.mtx.Unlock()
	e.logger.Info("ledger set", "url", url)
	e.persist()
	return nil
}

func (e *Engine) GovernanceAddress() string {
	e.mtx.Lock()
	defer e.mtx.Unlock()
	return e.govAddr
}

func (e *Engine) LedgerAddress() string {
	e.mtx.Lock()
	defer e.mtx.Unlock()
	return e.ledgerAddr
}

// StartWatching primes the low-water mark, takes the watch lock and launches
// the discovery cycle.
func (e *Engine) StartWatching(from types.LowWaterMark) error {
	e.mtx.Lock()
	if e.gov == nil {
		e.mtx.Unlock()
		return ErrGovernanceNotSet
	}
	if e.watching {
		e.mtx.Unlock()
		return ErrAlreadyWatching
	}
	e.mark = from
	e.hasMark = true
	e.watching = true
	Watching.Set(1)
	e.startDiscoveryLocked()
	e.mtx.Unlock()
	e.logger.Info("watching started", "from", from.ID, "created", from.CreatedAt)
	e.persist()
	return nil
}

// StopWatching releases the watch lock, cancels every timer and clears the
// watchlist. History is kept.
func (e *Engine) StopWatching() error {
	e.mtx.Lock()
	if !e.watching {
		e.mtx.Unlock()
		return ErrNotWatching
	}
	e.watching = false
	Watching.Set(0)
	for id, entry := range e.watchlist {
		e.sched.Cancel(TimerID(entry.Timer))
		delete(e.watchlist, id)
	}
	WatchlistSize.Set(0)
	if e.stopDiscovery != nil {
		e.stopDiscovery()
		e.stopDiscovery = nil
	}
	e.mtx.Unlock()
	e.logger.Info("watching stopped")
	e.persist()
	return nil
}

func (e *Engine) IsWatching() bool {
	e.mtx.Lock()
	defer e.mtx.Unlock()
	return e.watching
}

func (e *Engine) Mark() (types.LowWaterMark, bool) {
	e.mtx.Lock()
	defer e.mtx.Unlock()
	return e.mark, e.hasMark
}

// advanceMarkLocked moves the mark forward, never backward.
func (e *Engine) advanceMarkLocked(m types.LowWaterMark) {
	if e.hasMark && m.CreatedAt < e.mark.CreatedAt {
		e.logger.Error("refuse to regress low-water mark", "mark", e.mark.ID, "candidate", m.ID)
		return
	}
	e.mark = m
	e.hasMark = true
}

func (e *Engine) AddCouncilMember(name string, neuron types.NeuronID) error {
	if neuron == "" {
		return ErrInvalidMember
	}
	e.mtx.Lock()
	for _, m := range e.council {
		if m.NeuronID == neuron {
			// Duplicates would count this neuron's ballot twice.
			e.logger.Error("duplicate council member neuron", "neuron", neuron, "name", name, "existing", m.Name)
			break
		}
	}
	e.council = append(e.council, types.CouncilMember{Name: name, NeuronID: neuron})
	e.mtx.Unlock()
	e.persist()
	return nil
}

// RemoveCouncilMember removes every member holding neuron and returns how
// many were removed.
func (e *Engine) RemoveCouncilMember(neuron types.NeuronID) int {
	e.mtx.Lock()
	kept := e.council[:0]
	removed := 0
	for _, m := range e.council {
		if m.NeuronID == neuron {
			removed++
			continue
		}
		kept = append(kept, m)
	}
	e.council = kept
	e.mtx.Unlock()
	if removed > 0 {
		e.persist()
	}
	return removed
}

// EmergencyReset empties the council. Pending votes then fall back to no.
func (e *Engine) EmergencyReset() {
	e.mtx.Lock()
	e.council = nil
	e.mtx.Unlock()
	e.logger.Info("council reset")
	e.persist()
}

func (e *Engine) Council() []types.CouncilMember {
	e.mtx.Lock()
	defer e.mtx.Unlock()
	return append([]types.CouncilMember{}, e.council...)
}

// DisallowActionType excludes t from discovery and evicts matching watchlist
// entries without recording history. It returns the evicted ids.
func (e *Engine) DisallowActionType(t types.ActionType) []types.ProposalID {
	e.mtx.Lock()
	e.excluded[t] = struct{}{}
	evicted := make([]types.ProposalID, 0)
	for id, entry := range e.watchlist {
		if entry.ActionType != t {
			continue
		}
		e.sched.Cancel(TimerID(entry.Timer))
		delete(e.watchlist, id)
		evicted = append(evicted, id)
	}
	WatchlistSize.Set(float64(len(e.watchlist)))
	e.mtx.Unlock()
	sort.Slice(evicted, func(i, j int) bool { return evicted[i] < evicted[j] })
	e.logger.Info("action type disallowed", "type", t, "evicted", len(evicted))
	e.persist()
	return evicted
}

// AllowActionType only affects future discovery cycles.
func (e *Engine) AllowActionType(t types.ActionType) {
	e.mtx.Lock()
	delete(e.excluded, t)
	e.mtx.Unlock()
	e.logger.Info("action type allowed", "type", t)
	e.persist()
}

func (e *Engine) ExcludedActionTypes() []types.ActionType {
	e.mtx.Lock()
	defer e.mtx.Unlock()
	return e.excludedLocked()
}

func (e *Engine) excludedLocked() []types.ActionType {
	res := make([]types.ActionType, 0, len(e.excluded))
	for t := range e.excluded {
		res = append(res, t)
	}
	sort.Slice(res, func(i, j int) bool { return res[i] < res[j] })
	return res
}

// Watchlist returns the scheduled proposals ordered by deadline.
func (e *Engine) Watchlist() []types.WatchEntry {
	e.mtx.Lock()
	res := make([]types.WatchEntry, 0, len(e.watchlist))
	for _, entry := range e.watchlist {
		res = append(res, *entry)
	}
	e.mtx.Unlock()
	sort.Slice(res, func(i, j int) bool {
		if res[i].Deadline == res[j].Deadline {
			return res[i].ID < res[j].ID
		}
		return res[i].Deadline < res[j].Deadline
	})
	return res
}

func (e *Engine) History() []types.HistoryEntry {
	e.mtx.Lock()
	defer e.mtx.Unlock()
	return append([]types.HistoryEntry{}, e.history...)
}

// HistoryPage returns the newest entries first. pageSize is capped at
// MaxPageLimit; a page past the end is empty.
func (e *Engine) HistoryPage(page int, pageSize int) ([]types.HistoryEntry, uint64) {
	e.mtx.Lock()
	defer e.mtx.Unlock()
	page, pageSize = normalizePage(page, pageSize)
	total := uint64(len(e.history))
	if page > len(e.history)/pageSize {
		return []types.HistoryEntry{}, total
	}
	if e.store != nil {
		entries, n, err := e.store.Page(page, pageSize)
		if err == nil {
			return entries, n
		}
		e.logger.Error("read history page fail", "page", page, "err", err)
	}
	res := make([]types.HistoryEntry, 0, pageSize)
	for i := len(e.history) - 1 - page*pageSize; i >= 0 && len(res) < pageSize; i-- {
		res = append(res, e.history[i])
	}
	return res, total
}

func normalizePage(page int, pageSize int) (int, int) {
	if pageSize <= 0 || pageSize > MaxPageLimit {
		pageSize = MaxPageLimit
	}
	if page < 0 {
		page = 0
	}
	return page, pageSize
}

func (e *Engine) ClearHistory() error {
	e.mtx.Lock()
	defer e.mtx.Unlock()
	if e.store != nil {
		if err := e.store.Clear(); err != nil {
			e.logger.Error("clear history fail", "err", err)
			return err
		}
	}
	e.history = make([]types.HistoryEntry, 0)
	e.historyIdx = make(map[types.ProposalID]int)
	e.logger.Info("history cleared")
	return nil
}

// Votes lists the votes this proxy cast, as recorded in the vote journal.
func (e *Engine) Votes() ([]state.JournalRecord, error) {
	if e.journal == nil {
		return nil, ErrJournalNotSet
	}
	return e.journal.Records()
}

func (e *Engine) Neuron() (types.NeuronID, bool) {
	e.mtx.Lock()
	defer e.mtx.Unlock()
	return e.neuron, e.neuron != ""
}

func (e *Engine) PendingClaim() (uint64, bool) {
	e.mtx.Lock()
	defer e.mtx.Unlock()
	if e.pendingClaim == nil {
		return 0, false
	}
	return *e.pendingClaim, true
}

// appendHistoryLocked writes h once; a second outcome for the same id is
// dropped.
func (e *Engine) appendHistoryLocked(h types.HistoryEntry) bool {
	if _, ok := e.historyIdx[h.ID]; ok {
		return false
	}
	if e.store != nil {
		if err := e.store.Append(h); err != nil {
			e.logger.Error("persist history fail", "proposal", h.ID, "err", err)
		}
	}
	e.history = append(e.history, h)
	e.historyIdx[h.ID] = len(e.history) - 1
	return true
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
