package types

import (
	"strings"
	"time"
)

// DefaultGraceWindow is subtracted from the end of the voting period so the
// vote lands before the remote service closes the proposal.
const DefaultGraceWindow = time.Hour

type ProposalID uint64

type ActionType uint64

// NeuronID is the hex encoded identifier of a neuron (stake position).
type NeuronID string

type Vote int32

const (
	VoteNo          Vote = -1
	VoteUnspecified Vote = 0
	VoteYes         Vote = 1
)

func (v Vote) String() string {
	switch v {
	case VoteYes:
		return "yes"
	case VoteNo:
		return "no"
	default:
		return "unspecified"
	}
}

type Ballot struct {
	Vote Vote `json:"vote"`
}

// Proposal is the live record answered by the governance service. Timestamps
// are unix seconds, zero meaning "not happened yet".
type Proposal struct {
	ID                  ProposalID          `json:"id"`
	ActionType          ActionType          `json:"action_type"`
	Title               string              `json:"title"`
	CreatedAt           uint64              `json:"proposal_creation_timestamp_seconds"`
	VotingPeriod        uint64              `json:"voting_period_seconds"`
	DecidedAt           uint64              `json:"decided_timestamp_seconds"`
	RewardDistributedAt uint64              `json:"reward_event_end_timestamp_seconds"`
	Ballots             map[NeuronID]Ballot `json:"ballots"`
}

func (p *Proposal) Decided() bool {
	return p.DecidedAt != 0
}

func (p *Proposal) RewardDistributed() bool {
	return p.RewardDistributedAt != 0
}

// Deadline is the moment the proxy casts its vote: the end of the voting
// period minus the grace window.
func (p *Proposal) Deadline(grace time.Duration) time.Time {
	end := int64(p.CreatedAt) + int64(p.VotingPeriod)
	return time.Unix(end, 0).Add(-grace)
}

// IsAdministrative reports whether the proposal only reconfigures the proxy
// itself, recognized by its title prefix.
func (p *Proposal) IsAdministrative(prefix string) bool {
	if prefix == "" {
		return false
	}
	return strings.HasPrefix(strings.TrimSpace(p.Title), prefix)
}

// LowWaterMark is the newest proposal processed by the last discovery cycle.
type LowWaterMark struct {
	ID         ProposalID `json:"id"`
	ActionType ActionType `json:"action_type"`
	CreatedAt  uint64     `json:"creation_timestamp"`
}

func MarkOf(p *Proposal) LowWaterMark {
	return LowWaterMark{ID: p.ID, ActionType: p.ActionType, CreatedAt: p.CreatedAt}
}

type CouncilMember struct {
	Name     string   `json:"name"`
	NeuronID NeuronID `json:"neuron_id"`
}
