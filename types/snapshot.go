package types

// SnapshotVersion is bumped whenever the Snapshot layout changes.
const SnapshotVersion uint64 = 1

// Snapshot is the engine state persisted across restarts and upgrades. It is
// rlp encoded, so every field is an unsigned integer, string, bool or a slice
// of those.
type Snapshot struct {
	Version       uint64
	GovernanceURL string
	LedgerURL     string
	Council       []CouncilMember
	Excluded      []uint64
	HasMark       bool
	Mark          LowWaterMark
	Neuron        string
	PendingClaim  uint64
	HasPending    bool
	Watching      bool
	Watchlist     []SnapshotEntry
}

type SnapshotEntry struct {
	ID         uint64
	ActionType uint64
	CreatedAt  uint64
	Deadline   uint64
}
