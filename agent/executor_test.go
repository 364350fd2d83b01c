package agent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/calehh/vp-proxy/state"
	"github.com/calehh/vp-proxy/types"
)

func ballots(votes map[types.NeuronID]types.Vote) map[types.NeuronID]types.Ballot {
	res := make(map[types.NeuronID]types.Ballot, len(votes))
	for n, v := range votes {
		res[n] = types.Ballot{Vote: v}
	}
	return res
}

func TestTally(t *testing.T) {
	council := []types.CouncilMember{
		{Name: "a", NeuronID: "n1"},
		{Name: "b", NeuronID: "n2"},
		{Name: "c", NeuronID: "n3"},
		{Name: "d", NeuronID: "n4"},
		{Name: "e", NeuronID: "n5"},
	}

	res := Tally(council, ballots(map[types.NeuronID]types.Vote{"n1": types.VoteYes, "n2": types.VoteYes, "n3": types.VoteNo}))
	require.Equal(t, TallyResult{Decision: 1, Voters: 3, Threshold: 2}, res)
	require.Equal(t, types.VoteYes, res.Vote())

	res = Tally(council, ballots(map[types.NeuronID]types.Vote{"n1": types.VoteYes, "n2": types.VoteYes}))
	require.Equal(t, TallyResult{Decision: 2, Voters: 2, Threshold: 2}, res)
	require.Equal(t, types.VoteNo, res.Vote(), "no quorum")

	res = Tally(council, ballots(map[types.NeuronID]types.Vote{"n1": types.VoteYes, "n2": types.VoteNo, "n3": types.VoteYes, "n4": types.VoteNo}))
	require.Equal(t, types.VoteNo, res.Vote(), "tie")

	res = Tally(council, ballots(map[types.NeuronID]types.Vote{"x": types.VoteYes, "y": types.VoteYes, "z": types.VoteYes, "n1": types.VoteYes}))
	require.Equal(t, TallyResult{Decision: 1, Voters: 1, Threshold: 2}, res, "outsiders are ignored")

	small := council[:3]
	res = Tally(small, ballots(map[types.NeuronID]types.Vote{"n1": types.VoteYes, "n2": types.VoteUnspecified, "n3": types.VoteUnspecified}))
	require.Equal(t, TallyResult{Decision: 1, Voters: 3, Threshold: 1}, res, "unspecified ballots count toward the quorum")
	require.Equal(t, types.VoteYes, res.Vote())

	require.Equal(t, types.VoteNo, Tally(nil, ballots(map[types.NeuronID]types.Vote{"n1": types.VoteYes})).Vote())
}

// watchProposal schedules p through a discovery cycle and returns its entry.
func (te *testEngine) watchProposal(t *testing.T, p types.Proposal) types.WatchEntry {
	te.mock.AddProposal(p)
	te.watchFrom(types.LowWaterMark{ID: 1, CreatedAt: 500})
	require.NoError(t, te.CheckProposals(context.Background()))
	for _, e := range te.Watchlist() {
		if e.ID == p.ID {
			return e
		}
	}
	t.Fatalf("proposal %d not scheduled", p.ID)
	return types.WatchEntry{}
}

func TestVoteOnDeadline(t *testing.T) {
	te := newTestEngine(t, nil)
	te.setNeuron("aa")
	te.addCouncil(t, "n1", "n2", "n3")
	p := prop(2, 1000)
	p.Ballots = ballots(map[types.NeuronID]types.Vote{"n1": types.VoteYes, "n2": types.VoteYes})
	entry := te.watchProposal(t, p)

	require.True(t, te.sched.Fire(TimerID(entry.Timer)))
	require.Empty(t, te.Watchlist())
	require.Equal(t, []RegisterVote{{Proposal: 2, Vote: types.VoteYes}}, te.mock.VotesCast())
	require.Equal(t, []types.HistoryEntry{{
		ID:          2,
		ActionType:  1,
		CreatedAt:   1000,
		Status:      types.ParticipationVotedFor,
		FinalizedAt: 2000,
	}}, te.History())
}

func TestVoteWithoutQuorumVotesNo(t *testing.T) {
	te := newTestEngine(t, nil)
	te.setNeuron("aa")
	te.addCouncil(t, "n1", "n2", "n3", "n4", "n5")
	p := prop(2, 1000)
	p.Ballots = ballots(map[types.NeuronID]types.Vote{"n1": types.VoteYes, "n2": types.VoteYes})
	te.watchProposal(t, p)

	status, err := te.VoteNow(context.Background(), 2)
	require.NoError(t, err)
	require.Equal(t, types.ParticipationVotedAgainst, status)
	require.Equal(t, []RegisterVote{{Proposal: 2, Vote: types.VoteNo}}, te.mock.VotesCast())
}

func TestVoteTooLate(t *testing.T) {
	te := newTestEngine(t, nil)
	te.setNeuron("aa")
	te.watchProposal(t, prop(2, 1000))
	te.mock.SetRewardDistributed(2, 90000)

	status, err := te.VoteNow(context.Background(), 2)
	require.NoError(t, err)
	require.Equal(t, types.ParticipationTooLate, status)
	require.Empty(t, te.mock.VotesCast())
	require.Equal(t, types.ParticipationTooLate, te.History()[0].Status)
	require.Zero(t, te.sched.Pending())
}

func TestVoteRetries(t *testing.T) {
	te := newTestEngine(t, nil)
	te.setNeuron("aa")
	te.watchProposal(t, prop(2, 1000))
	te.mock.FailNext("get_proposal", 2)

	status, err := te.VoteNow(context.Background(), 2)
	require.NoError(t, err)
	require.Equal(t, types.ParticipationVotedAgainst, status)
	require.Len(t, te.mock.VotesCast(), 1)
}

func TestVoteRetriesExhausted(t *testing.T) {
	te := newTestEngine(t, nil)
	te.setNeuron("aa")
	te.watchProposal(t, prop(2, 1000))
	te.mock.FailNext("manage_neuron", 3)

	status, err := te.VoteNow(context.Background(), 2)
	require.Error(t, err)
	require.True(t, IsRemote(err))
	require.Equal(t, types.ParticipationFailedToVote, status)
	require.Empty(t, te.Watchlist())
	require.Equal(t, types.ParticipationFailedToVote, te.History()[0].Status)
	require.Empty(t, te.mock.VotesCast())
}

func TestVoteDomainErrorNotRetried(t *testing.T) {
	te := newTestEngine(t, nil)
	te.setNeuron("aa")
	te.watchFrom(types.LowWaterMark{ID: 1, CreatedAt: 500})
	te.mtx.Lock()
	te.scheduleLocked(types.WatchEntry{ID: 42, ActionType: 1, CreatedAt: 1000, Deadline: 87400}, te.clock)
	te.mtx.Unlock()

	calls := 0
	te.mock.OnCall("get_proposal", func() { calls++ })
	status, err := te.VoteNow(context.Background(), 42)
	require.ErrorIs(t, err, ErrProposalNotFound)
	require.True(t, IsDomain(err))
	require.Equal(t, 1, calls)
	require.Equal(t, types.ParticipationFailedToVote, status)
	require.Equal(t, types.ProposalID(42), te.History()[0].ID)
}

func TestVoteWithoutNeuronFails(t *testing.T) {
	te := newTestEngine(t, nil)
	te.watchProposal(t, prop(2, 1000))

	status, err := te.VoteNow(context.Background(), 2)
	require.ErrorIs(t, err, ErrNeuronNotSet)
	require.Equal(t, types.ParticipationFailedToVote, status)
	require.Empty(t, te.Watchlist())
}

func TestVoteNowUnwatched(t *testing.T) {
	te := newTestEngine(t, nil)
	_, err := te.VoteNow(context.Background(), 7)
	require.ErrorIs(t, err, ErrProposalNotWatched)
}

func TestVoteExactlyOnce(t *testing.T) {
	ctx := context.Background()
	te := newTestEngine(t, nil)
	te.setNeuron("aa")
	entry := te.watchProposal(t, prop(2, 1000))

	var inner error
	te.mock.OnCall("get_proposal", func() {
		_, inner = te.VoteNow(ctx, 2)
	})
	_, err := te.VoteNow(ctx, 2)
	require.NoError(t, err)
	require.ErrorIs(t, inner, ErrProposalLocked)

	_, err = te.VoteNow(ctx, 2)
	require.ErrorIs(t, err, ErrProposalNotWatched)
	require.False(t, te.sched.Fire(TimerID(entry.Timer)), "timer cancelled on finalize")
	require.Len(t, te.History(), 1)
	require.Len(t, te.mock.VotesCast(), 1)
}

func TestStopWhileVoteInFlight(t *testing.T) {
	te := newTestEngine(t, nil)
	te.setNeuron("aa")
	te.watchProposal(t, prop(2, 1000))

	te.mock.OnCall("get_proposal", func() {
		require.NoError(t, te.StopWatching())
		te.mock.FailNext("get_proposal", 1)
	})
	_, err := te.VoteNow(context.Background(), 2)
	require.ErrorIs(t, err, ErrWatchingStopped)
	require.False(t, te.IsWatching())
	require.Empty(t, te.Watchlist())
	require.Empty(t, te.History())
	require.Empty(t, te.mock.VotesCast())
	require.Zero(t, te.sched.Pending())
}

func TestStopDuringCastKeepsOutcome(t *testing.T) {
	te := newTestEngine(t, nil)
	te.setNeuron("aa")
	te.watchProposal(t, prop(2, 1000))

	te.mock.OnCall("manage_neuron", func() {
		require.NoError(t, te.StopWatching())
	})
	status, err := te.VoteNow(context.Background(), 2)
	require.NoError(t, err)
	require.Equal(t, types.ParticipationVotedAgainst, status)
	require.Len(t, te.mock.VotesCast(), 1)
	require.Len(t, te.History(), 1)
	require.Empty(t, te.Watchlist())
}

func TestVoteJournal(t *testing.T) {
	ctx := context.Background()
	journal, err := state.NewMemVoteJournal()
	require.NoError(t, err)
	defer journal.Close()

	te := newTestEngine(t, nil, WithVoteJournal(journal))
	te.setNeuron("aa")
	te.watchProposal(t, prop(2, 1000))
	require.NoError(t, journal.Record(state.JournalRecord{Proposal: 2, Neuron: "aa", Vote: types.VoteYes, CastAt: 1500}))

	status, err := te.VoteNow(ctx, 2)
	require.NoError(t, err)
	require.Equal(t, types.ParticipationVotedFor, status)
	require.Empty(t, te.mock.VotesCast())

	p := prop(3, 1100)
	te.mock.AddProposal(p)
	require.NoError(t, te.CheckProposals(ctx))
	_, err = te.VoteNow(ctx, 3)
	require.NoError(t, err)
	rec, err := journal.Lookup(3)
	require.NoError(t, err)
	require.NotNil(t, rec)
	require.Equal(t, types.VoteNo, rec.Vote)
	require.Equal(t, types.NeuronID("aa"), rec.Neuron)
}

func TestEvictWhileVoteInFlight(t *testing.T) {
	te := newTestEngine(t, nil)
	te.setNeuron("aa")
	te.watchProposal(t, prop(2, 1000))

	var evicted []types.ProposalID
	te.mock.OnCall("get_proposal", func() {
		evicted = te.DisallowActionType(1)
	})
	status, err := te.VoteNow(context.Background(), 2)
	require.ErrorIs(t, err, ErrProposalNotWatched)
	require.Equal(t, types.ParticipationUndecided, status)
	require.Equal(t, []types.ProposalID{2}, evicted)
	require.Empty(t, te.mock.VotesCast())
	require.Empty(t, te.History())
	require.Empty(t, te.Watchlist())
	require.Zero(t, te.sched.Pending())
}

func TestVoteJournalWinsOverRewardDistributed(t *testing.T) {
	journal, err := state.NewMemVoteJournal()
	require.NoError(t, err)
	defer journal.Close()

	te := newTestEngine(t, nil, WithVoteJournal(journal))
	te.setNeuron("aa")
	te.watchProposal(t, prop(2, 1000))
	te.mock.SetRewardDistributed(2, 90000)
	require.NoError(t, journal.Record(state.JournalRecord{Proposal: 2, Neuron: "aa", Vote: types.VoteYes, CastAt: 1500}))

	status, err := te.VoteNow(context.Background(), 2)
	require.NoError(t, err)
	require.Equal(t, types.ParticipationVotedFor, status)
	require.Empty(t, te.mock.VotesCast())
	require.Equal(t, types.ParticipationVotedFor, te.History()[0].Status)
}

// requireConsistent checks that no proposal is both watched and finalized and
// that each proposal is finalized at most once.
func (te *testEngine) requireConsistent(t *testing.T) {
	t.Helper()
	te.mtx.Lock()
	defer te.mtx.Unlock()
	seen := make(map[types.ProposalID]struct{}, len(te.history))
	for _, h := range te.history {
		_, dup := seen[h.ID]
		require.False(t, dup, "proposal %d finalized twice", h.ID)
		seen[h.ID] = struct{}{}
	}
	require.Len(t, te.historyIdx, len(te.history))
	for id := range te.watchlist {
		_, done := seen[id]
		require.False(t, done, "proposal %d both watched and finalized", id)
	}
}

func TestWatchlistAndHistoryStayDisjoint(t *testing.T) {
	ctx := context.Background()
	te := newTestEngine(t, nil)
	te.setNeuron("aa")
	for i := 2; i <= 4; i++ {
		te.mock.AddProposal(prop(types.ProposalID(i), uint64(1000*i)))
	}
	evictable := prop(5, 5000)
	evictable.ActionType = 7
	te.mock.AddProposal(evictable)

	te.watchFrom(types.LowWaterMark{ID: 1, CreatedAt: 500})
	require.NoError(t, te.CheckProposals(ctx))
	require.Equal(t, []types.ProposalID{2, 3, 4, 5}, te.watchedIDs())
	te.requireConsistent(t)

	var timer TimerID
	for _, e := range te.Watchlist() {
		if e.ID == 2 {
			timer = TimerID(e.Timer)
		}
	}
	require.True(t, te.sched.Fire(timer))
	te.requireConsistent(t)

	te.mock.SetRewardDistributed(3, 90000)
	status, err := te.VoteNow(ctx, 3)
	require.NoError(t, err)
	require.Equal(t, types.ParticipationTooLate, status)
	te.requireConsistent(t)

	te.mock.FailNext("manage_neuron", 3)
	status, err = te.VoteNow(ctx, 4)
	require.Error(t, err)
	require.Equal(t, types.ParticipationFailedToVote, status)
	te.requireConsistent(t)

	require.Equal(t, []types.ProposalID{5}, te.DisallowActionType(7))
	te.requireConsistent(t)

	require.NoError(t, te.CheckProposals(ctx))
	require.Empty(t, te.Watchlist())
	te.requireConsistent(t)

	require.NoError(t, te.StopWatching())
	te.requireConsistent(t)

	te.mock.AddProposal(prop(6, 6000))
	te.watchFrom(types.LowWaterMark{ID: 1, CreatedAt: 500})
	require.NoError(t, te.CheckProposals(ctx))
	require.Equal(t, []types.ProposalID{6}, te.watchedIDs())
	te.requireConsistent(t)

	_, err = te.VoteNow(ctx, 6)
	require.NoError(t, err)
	te.requireConsistent(t)

	ids := make([]types.ProposalID, 0)
	for _, h := range te.History() {
		ids = append(ids, h.ID)
	}
	require.Equal(t, []types.ProposalID{2, 3, 4, 6}, ids)
}
