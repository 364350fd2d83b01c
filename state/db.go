package state

import (
	"errors"
	"sync"

	cosmoslog "cosmossdk.io/log"
	cmtlog "github.com/cometbft/cometbft/libs/log"
	"github.com/cosmos/iavl"
	dbm "github.com/cosmos/iavl/db"
	"github.com/ethereum/go-ethereum/rlp"

	"github.com/calehh/vp-proxy/types"
)

const (
	// keepVersions is how many snapshot versions survive pruning.
	keepVersions = 16
	cacheSize    = 128
)

var (
	KeySnapshot = []byte("snapshot")

	ErrNoSnapshot      = errors.New("no snapshot")
	ErrSnapshotVersion = errors.New("unsupported snapshot version")
	ErrStateDBClosed   = errors.New("state db closed")
)

// StateDB keeps versioned engine snapshots in an iavl tree backed by goleveldb.
type StateDB struct {
	mtx sync.Mutex

	dir    string
	logger cmtlog.Logger
	db     *iavl.MutableTree
	closed bool
}

func NewStateDB(dir string, logger cmtlog.Logger) (*StateDB, error) {
	ldb, err := dbm.NewDB("vpp", "goleveldb", dir)
	if err != nil {
		return nil, err
	}
	return newStateDB(ldb, dir, logger)
}

// NewMemStateDB is a non persistent StateDB, used by tests and dry runs.
func NewMemStateDB(logger cmtlog.Logger) (*StateDB, error) {
	return newStateDB(dbm.NewMemDB(), "", logger)
}

func newStateDB(ldb dbm.DB, dir string, logger cmtlog.Logger) (*StateDB, error) {
	logger = logger.With("module", "statedb")
	tree := iavl.NewMutableTree(ldb, cacheSize, true, cosmosLogger{logger: logger})
	version, err := tree.Load()
	if err != nil {
		return nil, err
	}
	logger.Info("load db success", "version", version)
	return &StateDB{
		dir:    dir,
		logger: logger,
		db:     tree,
	}, nil
}

func (db *StateDB) Close() error {
	db.mtx.Lock()
	defer db.mtx.Unlock()
	if db.closed {
		return nil
	}
	db.closed = true
	return db.db.Close()
}

func (db *StateDB) Version() int64 {
	db.mtx.Lock()
	defer db.mtx.Unlock()
	return db.db.Version()
}

// SaveSnapshot writes snap as a new tree version and prunes old versions.
func (db *StateDB) SaveSnapshot(snap types.Snapshot) error {
	snap.Version = types.SnapshotVersion
	dat, err := rlp.EncodeToBytes(&snap)
	if err != nil {
		return err
	}
	db.mtx.Lock()
	defer db.mtx.Unlock()
	if db.closed {
		return ErrStateDBClosed
	}
	if _, err := db.db.Set(KeySnapshot, dat); err != nil {
		return err
	}
	_, version, err := db.db.SaveVersion()
	if err != nil {
		return err
	}
	if version > keepVersions {
		if err := db.db.DeleteVersionsTo(version - keepVersions); err != nil {
			db.logger.Error("prune snapshot versions fail", "version", version, "err", err)
		}
	}
	db.logger.Debug("snapshot saved", "version", version, "watchlist", len(snap.Watchlist))
	return nil
}

// LoadSnapshot returns the latest snapshot, or ErrNoSnapshot on a fresh db.
func (db *StateDB) LoadSnapshot() (types.Snapshot, error) {
	var snap types.Snapshot
	db.mtx.Lock()
	if db.closed {
		db.mtx.Unlock()
		return snap, ErrStateDBClosed
	}
	dat, err := db.db.Get(KeySnapshot)
	db.mtx.Unlock()
	if err != nil {
		return snap, err
	}
	if len(dat) == 0 {
		return snap, ErrNoSnapshot
	}
	if err := rlp.DecodeBytes(dat, &snap); err != nil {
		return snap, err
	}
	if snap.Version != types.SnapshotVersion {
		return snap, ErrSnapshotVersion
	}
	return snap, nil
}

// cosmosLogger hands the cometbft logger to iavl.
type cosmosLogger struct {
	logger cmtlog.Logger
}

var _ cosmoslog.Logger = cosmosLogger{}

func (l cosmosLogger) Info(msg string, keyVals ...any) {
	l.logger.Info(msg, keyVals...)
}

func (l cosmosLogger) Warn(msg string, keyVals ...any) {
	l.logger.Info(msg, keyVals...)
}

func (l cosmosLogger) Error(msg string, keyVals ...any) {
	l.logger.Error(msg, keyVals...)
}

func (l cosmosLogger) Debug(msg string, keyVals ...any) {
	l.logger.Debug(msg, keyVals...)
}

func (l cosmosLogger) With(keyVals ...any) cosmoslog.Logger {
	return cosmosLogger{logger: l.logger.With(keyVals...)}
}

func (l cosmosLogger) Impl() any {
	return l.logger
}
