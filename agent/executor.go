package agent

import (
	"context"
	"errors"
	"fmt"

	"github.com/calehh/vp-proxy/state"
	"github.com/calehh/vp-proxy/types"
)

// TallyResult is the aggregation of the council's ballots on one proposal.
type TallyResult struct {
	Decision  int64 `json:"decision"`
	Voters    int   `json:"voters"`
	Threshold int   `json:"threshold"`
}

// Vote is yes only with a strict majority quorum of the council and a
// positive sum of their votes.
func (t TallyResult) Vote() types.Vote {
	if t.Voters > t.Threshold && t.Decision > 0 {
		return types.VoteYes
	}
	return types.VoteNo
}

// Tally sums the ballots of council members. Every present ballot counts
// toward the quorum, an unspecified one included.
func Tally(council []types.CouncilMember, ballots map[types.NeuronID]types.Ballot) TallyResult {
	res := TallyResult{Threshold: len(council) / 2}
	for _, m := range council {
		b, ok := ballots[m.NeuronID]
		if !ok {
			continue
		}
		res.Decision += int64(b.Vote)
		res.Voters++
	}
	return res
}

func (e *Engine) onDeadline(id types.ProposalID) {
	e.mtx.Lock()
	if e.closed {
		e.mtx.Unlock()
		return
	}
	e.wg.Add(1)
	e.mtx.Unlock()
	defer e.wg.Done()
	if _, err := e.runVote(e.ctx, id); err != nil {
		e.logger.Debug("deadline vote ended", "proposal", id, "err", err)
	}
}

// VoteNow runs the vote executor for a watched proposal right away.
func (e *Engine) VoteNow(ctx context.Context, id types.ProposalID) (types.ParticipationStatus, error) {
	e.mtx.Lock()
	_, ok := e.watchlist[id]
	e.mtx.Unlock()
	if !ok {
		return types.ParticipationUndecided, ErrProposalNotWatched
	}
	return e.runVote(ctx, id)
}

// isAbort reports errors that leave the entry untouched: the entry is gone,
// busy, or the engine stopped.
func isAbort(err error) bool {
	return errors.Is(err, ErrWatchingStopped) ||
		errors.Is(err, ErrProposalNotWatched) ||
		errors.Is(err, ErrProposalLocked) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

func (e *Engine) runVote(ctx context.Context, id types.ProposalID) (types.ParticipationStatus, error) {
	var lastErr error
	for attempt := 1; attempt <= e.cfg.MaxVoteAttempts; attempt++ {
		status, entry, err := e.voteAttempt(ctx, id)
		if err == nil {
			return status, nil
		}
		if isAbort(err) {
			e.logger.Info("vote aborted", "proposal", id, "err", err)
			return types.ParticipationUndecided, err
		}
		if !IsRemote(err) {
			e.logger.Error("vote fail", "proposal", id, "err", err)
			e.finalize(entry, types.ParticipationFailedToVote, false)
			return types.ParticipationFailedToVote, err
		}
		lastErr = err
		e.logger.Error("vote attempt fail", "proposal", id, "attempt", attempt, "err", err)
		if attempt < e.cfg.MaxVoteAttempts && !sleepCtx(ctx, e.cfg.RetryDelay) {
			return types.ParticipationUndecided, ctx.Err()
		}
	}

	e.mtx.Lock()
	entry, ok := e.watchlist[id]
	var snap types.WatchEntry
	if ok {
		snap = *entry
	}
	e.mtx.Unlock()
	if !ok {
		return types.ParticipationUndecided, ErrProposalNotWatched
	}
	e.logger.Error("vote retries exhausted", "proposal", id, "attempts", e.cfg.MaxVoteAttempts, "err", lastErr)
	e.finalize(snap, types.ParticipationFailedToVote, false)
	return types.ParticipationFailedToVote, fmt.Errorf("vote on proposal %d failed after %d attempts: %w", id, e.cfg.MaxVoteAttempts, lastErr)
}

// voteAttempt is one pass of the executor. On a retryable or aborting error
// the entry is unlocked again, or untouched.
func (e *Engine) voteAttempt(ctx context.Context, id types.ProposalID) (types.ParticipationStatus, types.WatchEntry, error) {
	e.mtx.Lock()
	if !e.watching {
		e.mtx.Unlock()
		return 0, types.WatchEntry{}, ErrWatchingStopped
	}
	entry, ok := e.watchlist[id]
	if !ok {
		e.mtx.Unlock()
		return 0, types.WatchEntry{}, ErrProposalNotWatched
	}
	if entry.Locked {
		e.mtx.Unlock()
		return 0, types.WatchEntry{}, ErrProposalLocked
	}
	snap := *entry
	gov := e.gov
	if gov == nil {
		e.mtx.Unlock()
		return 0, snap, ErrGovernanceNotSet
	}
	entry.Locked = true
	council := append([]types.CouncilMember{}, e.council...)
	neuron := e.neuron
	e.mtx.Unlock()

	proposal, err := gov.GetProposal(ctx, id)
	if err != nil {
		e.release(id)
		if IsRemote(err) {
			recordRemoteFailure("get_proposal")
		}
		return 0, snap, err
	}

	if e.journal != nil {
		rec, err := e.journal.Lookup(id)
		if err != nil {
			e.logger.Error("lookup vote journal fail", "proposal", id, "err", err)
		} else if rec != nil {
			e.logger.Info("vote already cast", "proposal", id, "vote", rec.Vote)
			return e.finalize(snap, types.ParticipationOf(rec.Vote), true), snap, nil
		}
	}

	if proposal.RewardDistributed() {
		e.logger.Info("proposal closed before vote", "proposal", id)
		return e.finalize(snap, types.ParticipationTooLate, false), snap, nil
	}

	tally := Tally(council, proposal.Ballots)
	vote := tally.Vote()

	if neuron == "" {
		e.release(id)
		return 0, snap, ErrNeuronNotSet
	}
	if err := e.checkWatched(id); err != nil {
		return 0, snap, err
	}
	_, err = gov.ManageNeuron(ctx, ManageNeuronRequest{
		Subaccount:   string(neuron),
		RegisterVote: &RegisterVote{Proposal: id, Vote: vote},
	})
	if err != nil {
		e.release(id)
		if IsRemote(err) {
			recordRemoteFailure("register_vote")
		}
		return 0, snap, err
	}
	VotesCast.WithLabelValues(vote.String()).Inc()
	e.logger.Info("vote cast", "proposal", id, "vote", vote,
		"decision", tally.Decision, "voters", tally.Voters, "threshold", tally.Threshold)

	if e.journal != nil {
		if err := e.journal.Record(state.JournalRecord{
			Proposal: id,
			Neuron:   neuron,
			Vote:     vote,
			CastAt:   e.now().Unix(),
		}); err != nil {
			e.logger.Error("record vote journal fail", "proposal", id, "err", err)
		}
	}
	return e.finalize(snap, types.ParticipationOf(vote), true), snap, nil
}

// checkWatched confirms the entry survived the remote read. An entry evicted or
// stopped meanwhile must not be voted on.
func (e *Engine) checkWatched(id types.ProposalID) error {
	e.mtx.Lock()
	defer e.mtx.Unlock()
	if !e.watching {
		return ErrWatchingStopped
	}
	if entry, ok := e.watchlist[id]; !ok || !entry.Locked {
		return ErrProposalNotWatched
	}
	return nil
}

func (e *Engine) release(id types.ProposalID) {
	e.mtx.Lock()
	defer e.mtx.Unlock()
	if entry, ok := e.watchlist[id]; ok {
		entry.Locked = false
	}
}

// finalize moves the proposal from the watchlist to history in one step. An
// outcome for a proposal no longer watched is only kept when the vote was
// really cast.
func (e *Engine) finalize(snap types.WatchEntry, status types.ParticipationStatus, cast bool) types.ParticipationStatus {
	e.mtx.Lock()
	entry, watched := e.watchlist[snap.ID]
	if watched {
		e.sched.Cancel(TimerID(entry.Timer))
		delete(e.watchlist, snap.ID)
		WatchlistSize.Set(float64(len(e.watchlist)))
	} else if !cast {
		e.mtx.Unlock()
		e.logger.Info("drop outcome of unwatched proposal", "proposal", snap.ID, "status", status)
		return status
	}
	appended := e.appendHistoryLocked(snap.Finalize(status, e.now().Unix()))
	e.mtx.Unlock()

	if appended {
		recordParticipation(status)
		e.logger.Info("proposal finalized", "proposal", snap.ID, "status", status)
	}
	e.persist()
	return status
}
