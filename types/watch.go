package types

type ParticipationStatus uint8

const (
	ParticipationUndecided    ParticipationStatus = 0
	ParticipationVotedFor     ParticipationStatus = 1
	ParticipationVotedAgainst ParticipationStatus = 2
	ParticipationTooLate      ParticipationStatus = 3
	ParticipationFailedToVote ParticipationStatus = 4
)

func (s ParticipationStatus) String() string {
	switch s {
	case ParticipationVotedFor:
		return "voted_for"
	case ParticipationVotedAgainst:
		return "voted_against"
	case ParticipationTooLate:
		return "too_late"
	case ParticipationFailedToVote:
		return "failed_to_vote"
	default:
		return "undecided"
	}
}

// Terminal reports whether the status ends a proposal's life on the watchlist.
func (s ParticipationStatus) Terminal() bool {
	return s != ParticipationUndecided
}

func ParticipationOf(v Vote) ParticipationStatus {
	if v == VoteYes {
		return ParticipationVotedFor
	}
	return ParticipationVotedAgainst
}

// WatchEntry is a proposal currently scheduled for voting.
type WatchEntry struct {
	ID         ProposalID          `json:"id"`
	ActionType ActionType          `json:"action_type"`
	CreatedAt  uint64              `json:"creation_timestamp"`
	Deadline   int64               `json:"deadline"`
	Timer      uint64              `json:"timer"`
	Status     ParticipationStatus `json:"participation_status"`
	Locked     bool                `json:"locked"`
}

// HistoryEntry is the finalized outcome of a watched proposal.
type HistoryEntry struct {
	ID          ProposalID          `json:"id"`
	ActionType  ActionType          `json:"action_type"`
	CreatedAt   uint64              `json:"creation_timestamp"`
	Status      ParticipationStatus `json:"participation_status"`
	FinalizedAt int64               `json:"finalized_at"`
}

func (e *WatchEntry) Finalize(status ParticipationStatus, at int64) HistoryEntry {
	return HistoryEntry{
		ID:          e.ID,
		ActionType:  e.ActionType,
		CreatedAt:   e.CreatedAt,
		Status:      status,
		FinalizedAt: at,
	}
}
