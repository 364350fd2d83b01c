package agent

import "github.com/calehh/vp-proxy/types"

// sqlite models

type HistoryRecord struct {
	Id                uint64 `gorm:"primary_key;AUTO_INCREMENT" json:"id"`
	ProposalId        uint64 `gorm:"unique_index" json:"proposal_id"`
	ActionType        uint64 `json:"action_type"`
	CreationTimestamp uint64 `json:"creation_timestamp"`
	Status            uint8  `json:"status"`
	FinalizedAt       int64  `json:"finalized_at"`
}

func (HistoryRecord) TableName() string {
	return "history"
}

func historyRecordOf(e types.HistoryEntry) HistoryRecord {
	return HistoryRecord{
		ProposalId:        uint64(e.ID),
		ActionType:        uint64(e.ActionType),
		CreationTimestamp: e.CreatedAt,
		Status:            uint8(e.Status),
		FinalizedAt:       e.FinalizedAt,
	}
}

func (r HistoryRecord) Entry() types.HistoryEntry {
	return types.HistoryEntry{
		ID:          types.ProposalID(r.ProposalId),
		ActionType:  types.ActionType(r.ActionType),
		CreatedAt:   r.CreationTimestamp,
		Status:      types.ParticipationStatus(r.Status),
		FinalizedAt: r.FinalizedAt,
	}
}
