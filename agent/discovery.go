package agent

import (
	"context"
	"errors"
	"time"

	"github.com/calehh/vp-proxy/types"
)

func (e *Engine) startDiscoveryLocked() {
	if e.stopDiscovery != nil {
		e.stopDiscovery()
	}
	ctx, cancel := context.WithCancel(e.ctx)
	e.stopDiscovery = cancel
	e.wg.Add(1)
	go e.discoveryLoop(ctx)
}

// discoveryLoop runs a cycle right away and then once per DiscoveryInterval
// until watching stops.
func (e *Engine) discoveryLoop(ctx context.Context) {
	defer e.wg.Done()
	_ = e.runDiscovery(ctx)

	ticker := time.NewTicker(e.cfg.DiscoveryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !e.IsWatching() {
				return
			}
			_ = e.runDiscovery(ctx)
		}
	}
}

// TriggerDiscovery runs one discovery cycle now, with retries, and returns
// its final error.
func (e *Engine) TriggerDiscovery(ctx context.Context) error {
	if !e.IsWatching() {
		return ErrNotWatching
	}
	return e.runDiscovery(ctx)
}

func (e *Engine) runDiscovery(ctx context.Context) error {
	var err error
	for attempt := 1; attempt <= e.cfg.MaxDiscoveryAttempts; attempt++ {
		err = e.CheckProposals(ctx)
		if err == nil {
			DiscoveryCycles.WithLabelValues("ok").Inc()
			return nil
		}
		if errors.Is(err, ErrNotWatching) || ctx.Err() != nil {
			return err
		}
		if !IsRemote(err) {
			break
		}
		e.logger.Error("discovery cycle fail", "attempt", attempt, "err", err)
		if attempt == e.cfg.MaxDiscoveryAttempts {
			break
		}
		DiscoveryCycles.WithLabelValues("retry").Inc()
		if !sleepCtx(ctx, e.cfg.RetryDelay) {
			return ctx.Err()
		}
	}
	DiscoveryCycles.WithLabelValues("abandoned").Inc()
	e.logger.Error("discovery cycle abandoned", "err", err)
	return err
}

// CheckProposals pages newest-first through the governance service down to
// the low-water mark and schedules every proposal still open for voting.
// Nothing is scheduled and the mark is kept unless the whole scan succeeds.
func (e *Engine) CheckProposals(ctx context.Context) error {
	e.discoveryMtx.Lock()
	defer e.discoveryMtx.Unlock()

	e.mtx.Lock()
	if !e.watching {
		e.mtx.Unlock()
		return ErrNotWatching
	}
	gov := e.gov
	if gov == nil {
		e.mtx.Unlock()
		return ErrGovernanceNotSet
	}
	hasMark, mark := e.hasMark, e.mark
	excluded := e.excludedLocked()
	e.mtx.Unlock()

	limit := e.cfg.PageLimit
	var before *types.ProposalID
	var newest *types.Proposal
	candidates := make([]types.Proposal, 0)
	pages := 0
scan:
	for {
		page, err := gov.ListProposals(ctx, ListProposalsRequest{
			Limit:          uint32(limit),
			BeforeProposal: before,
			ExcludeTypes:   excluded,
		})
		if err != nil {
			if IsRemote(err) {
				recordRemoteFailure("list_proposals")
			}
			return err
		}
		pages++
		if len(page) == 0 {
			break
		}
		if newest == nil {
			p := page[0]
			newest = &p
		}
		for i := range page {
			p := page[i]
			if before != nil && p.ID >= *before {
				e.logger.Error("list proposals out of order", "before", *before, "got", p.ID)
				break scan
			}
			if hasMark && (p.ID == mark.ID || p.CreatedAt <= mark.CreatedAt) {
				break scan
			}
			candidates = append(candidates, p)
			id := p.ID
			before = &id
		}
		if len(page) < limit {
			break
		}
	}

	e.mtx.Lock()
	if !e.watching {
		e.mtx.Unlock()
		return ErrNotWatching
	}
	now := e.now()
	scheduled := 0
	for i := len(candidates) - 1; i >= 0; i-- {
		if e.considerLocked(&candidates[i], now) {
			scheduled++
		}
	}
	if newest != nil {
		e.advanceMarkLocked(types.MarkOf(newest))
	}
	markID := e.mark.ID
	e.mtx.Unlock()

	e.logger.Info("discovery cycle done", "pages", pages, "seen", len(candidates), "scheduled", scheduled, "mark", markID)
	e.persist()
	return nil
}

// considerLocked schedules p unless it is already tracked, excluded,
// administrative, closed or past its deadline.
func (e *Engine) considerLocked(p *types.Proposal, now time.Time) bool {
	if _, ok := e.watchlist[p.ID]; ok {
		return false
	}
	if _, ok := e.historyIdx[p.ID]; ok {
		return false
	}
	if _, ok := e.excluded[p.ActionType]; ok {
		return false
	}
	if p.IsAdministrative(e.cfg.AdminTitlePrefix) {
		e.logger.Debug("skip administrative proposal", "proposal", p.ID)
		return false
	}
	if p.Decided() || p.RewardDistributed() {
		e.logger.Debug("skip closed proposal", "proposal", p.ID)
		return false
	}
	deadline := p.Deadline(e.cfg.GraceWindow)
	if !now.Before(deadline) {
		e.logger.Info("skip proposal past deadline", "proposal", p.ID, "deadline", deadline.Unix())
		return false
	}
	e.scheduleLocked(types.WatchEntry{
		ID:         p.ID,
		ActionType: p.ActionType,
		CreatedAt:  p.CreatedAt,
		Deadline:   deadline.Unix(),
	}, now)
	return true
}

// scheduleLocked arms the entry's wake-up and puts it on the watchlist.
func (e *Engine) scheduleLocked(entry types.WatchEntry, now time.Time) {
	id := entry.ID
	delay := time.Unix(entry.Deadline, 0).Sub(now)
	timer := e.sched.Schedule(delay, func() { e.onDeadline(id) })
	entry.Timer = uint64(timer)
	entry.Status = types.ParticipationUndecided
	entry.Locked = false
	e.watchlist[id] = &entry
	ProposalsScheduled.Inc()
	WatchlistSize.Set(float64(len(e.watchlist)))
	e.logger.Info("proposal scheduled", "proposal", id, "type", entry.ActionType, "deadline", entry.Deadline)
}
