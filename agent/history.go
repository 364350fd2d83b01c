package agent

import (
	cmtlog "github.com/cometbft/cometbft/libs/log"
	"github.com/jinzhu/gorm"
	_ "github.com/jinzhu/gorm/dialects/sqlite"

	"github.com/calehh/vp-proxy/types"
)

// HistoryStore durably keeps finalized outcomes. The engine writes through to
// it and reloads it on start.
type HistoryStore interface {
	Append(entry types.HistoryEntry) error
	Entries() ([]types.HistoryEntry, error)
	// Page returns the newest entries first along with the total count.
	Page(page int, pageSize int) ([]types.HistoryEntry, uint64, error)
	Clear() error
	Close() error
}

var _ HistoryStore = &GormHistoryStore{}

type GormHistoryStore struct {
	logger cmtlog.Logger
	db     *gorm.DB
}

func NewGormHistoryStore(logger cmtlog.Logger, dbPath string) (*GormHistoryStore, error) {
	logger = logger.With("module", "history")
	logger.Info("NewGormHistoryStore", "dbPath", dbPath)
	db, err := gorm.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&HistoryRecord{}).Error; err != nil {
		db.Close()
		return nil, err
	}
	return &GormHistoryStore{logger: logger, db: db}, nil
}

func (s *GormHistoryStore) Append(entry types.HistoryEntry) error {
	rec := historyRecordOf(entry)
	if err := s.db.Create(&rec).Error; err != nil {
		s.logger.Error("save history fail", "proposal", entry.ID, "err", err)
		return err
	}
	return nil
}

func (s *GormHistoryStore) Entries() ([]types.HistoryEntry, error) {
	var records []HistoryRecord
	if err := s.db.Order("id asc").Find(&records).Error; err != nil {
		return nil, err
	}
	entries := make([]types.HistoryEntry, 0, len(records))
	for _, r := range records {
		entries = append(entries, r.Entry())
	}
	return entries, nil
}

func (s *GormHistoryStore) Page(page int, pageSize int) ([]types.HistoryEntry, uint64, error) {
	page, pageSize = normalizePage(page, pageSize)
	var total uint64
	if err := s.db.Model(&HistoryRecord{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	if uint64(page) > total/uint64(pageSize) {
		return []types.HistoryEntry{}, total, nil
	}
	var records []HistoryRecord
	err := s.db.Order("id desc").Offset(page * pageSize).Limit(pageSize).Find(&records).Error
	if err != nil {
		return nil, 0, err
	}
	entries := make([]types.HistoryEntry, 0, len(records))
	for _, r := range records {
		entries = append(entries, r.Entry())
	}
	return entries, total, nil
}

func (s *GormHistoryStore) Clear() error {
	return s.db.Exec("DELETE FROM history").Error
}

func (s *GormHistoryStore) Close() error {
	return s.db.Close()
}
