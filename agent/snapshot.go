package agent

import (
	"fmt"
	"sort"
	"time"

	"github.com/calehh/vp-proxy/state"
	"github.com/calehh/vp-proxy/types"
)

// Snapshot captures the engine state needed to resume after a restart.
// History lives in the history store and is not part of it.
func (e *Engine) Snapshot() types.Snapshot {
	e.mtx.Lock()
	defer e.mtx.Unlock()
	snap := types.Snapshot{
		Version:       types.SnapshotVersion,
		GovernanceURL: e.govAddr,
		LedgerURL:     e.ledgerAddr,
		Council:       append([]types.CouncilMember{}, e.council...),
		Excluded:      make([]uint64, 0, len(e.excluded)),
		HasMark:       e.hasMark,
		Mark:          e.mark,
		Neuron:        string(e.neuron),
		Watching:      e.watching,
		Watchlist:     make([]types.SnapshotEntry, 0, len(e.watchlist)),
	}
	for _, t := range e.excludedLocked() {
		snap.Excluded = append(snap.Excluded, uint64(t))
	}
	if e.pendingClaim != nil {
		snap.HasPending = true
		snap.PendingClaim = *e.pendingClaim
	}
	for _, entry := range e.watchlist {
		snap.Watchlist = append(snap.Watchlist, types.SnapshotEntry{
			ID:         uint64(entry.ID),
			ActionType: uint64(entry.ActionType),
			CreatedAt:  entry.CreatedAt,
			Deadline:   uint64(entry.Deadline),
		})
	}
	sort.Slice(snap.Watchlist, func(i, j int) bool { return snap.Watchlist[i].ID < snap.Watchlist[j].ID })
	return snap
}

// Restore loads snap into an idle engine. Watchlist timers are re-armed, an
// expired deadline fires right away, and discovery resumes if the snapshot
// was watching.
func (e *Engine) Restore(snap types.Snapshot) error {
	if snap.Version != types.SnapshotVersion {
		return fmt.Errorf("%w: %d", state.ErrSnapshotVersion, snap.Version)
	}
	var gov GovernanceClient
	var ledger LedgerClient
	if e.factory != nil {
		if snap.GovernanceURL != "" {
			gov = e.factory.Governance(snap.GovernanceURL)
		}
		if snap.LedgerURL != "" {
			ledger = e.factory.Ledger(snap.LedgerURL)
		}
	}

	e.mtx.Lock()
	if e.watching {
		e.mtx.Unlock()
		return ErrAlreadyWatching
	}
	if gov != nil {
		e.govAddr, e.gov = snap.GovernanceURL, gov
	}
	if ledger != nil {
		e.ledgerAddr, e.ledger = snap.LedgerURL, ledger
	}
	e.council = append([]types.CouncilMember{}, snap.Council...)
	e.excluded = make(map[types.ActionType]struct{}, len(snap.Excluded))
	for _, t := range snap.Excluded {
		e.excluded[types.ActionType(t)] = struct{}{}
	}
	e.hasMark, e.mark = snap.HasMark, snap.Mark
	e.neuron = types.NeuronID(snap.Neuron)
	e.pendingClaim = nil
	if snap.HasPending {
		n := snap.PendingClaim
		e.pendingClaim = &n
	}

	for id, entry := range e.watchlist {
		e.sched.Cancel(TimerID(entry.Timer))
		delete(e.watchlist, id)
	}
	restored := 0
	if snap.Watching && e.gov != nil {
		e.watching = true
		Watching.Set(1)
		now := e.now()
		for _, s := range snap.Watchlist {
			id := types.ProposalID(s.ID)
			if _, done := e.historyIdx[id]; done {
				continue
			}
			if _, ok := e.excluded[types.ActionType(s.ActionType)]; ok {
				continue
			}
			e.scheduleLocked(types.WatchEntry{
				ID:         id,
				ActionType: types.ActionType(s.ActionType),
				CreatedAt:  s.CreatedAt,
				Deadline:   int64(s.Deadline),
			}, now)
			restored++
		}
		e.startDiscoveryLocked()
	} else if snap.Watching {
		e.logger.Error("can't resume watching without governance service")
	}
	e.mtx.Unlock()

	e.logger.Info("engine restored", "watching", snap.Watching, "watchlist", restored, "council", len(snap.Council))
	return nil
}

// persist writes a snapshot to the snapshot store, if any.
func (e *Engine) persist() {
	if e.snapshots == nil {
		return
	}
	e.persistMtx.Lock()
	defer e.persistMtx.Unlock()
	start := time.Now()
	if err := e.snapshots.SaveSnapshot(e.Snapshot()); err != nil {
		e.logger.Error("save snapshot fail", "err", err)
		return
	}
	e.logger.Debug("snapshot saved", "elapsed", time.Since(start))
}
