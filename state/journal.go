package state

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/calehh/vp-proxy/types"
)

var (
	keyVotePrefix = []byte("v/")

	ErrJournalClosed = errors.New("journal closed")
)

// JournalRecord is a vote the proxy has already registered remotely.
type JournalRecord struct {
	Proposal types.ProposalID `json:"proposal"`
	Neuron   types.NeuronID   `json:"neuron"`
	Vote     types.Vote       `json:"vote"`
	CastAt   int64            `json:"cast_at"`
}

// VoteJournal remembers cast votes so a proposal is never voted twice, even
// when the process dies between casting and recording the outcome.
type VoteJournal struct {
	mtx    sync.RWMutex
	db     *leveldb.DB
	closed bool
}

func OpenVoteJournal(dir string) (*VoteJournal, error) {
	db, err := leveldb.OpenFile(dir, nil)
	if err != nil {
		return nil, err
	}
	return &VoteJournal{db: db}, nil
}

func NewMemVoteJournal() (*VoteJournal, error) {
	db, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		return nil, err
	}
	return &VoteJournal{db: db}, nil
}

func voteKey(id types.ProposalID) []byte {
	key := make([]byte, len(keyVotePrefix)+8)
	copy(key, keyVotePrefix)
	binary.BigEndian.PutUint64(key[len(keyVotePrefix):], uint64(id))
	return key
}

func (j *VoteJournal) Record(rec JournalRecord) error {
	dat, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	j.mtx.RLock()
	defer j.mtx.RUnlock()
	if j.closed {
		return ErrJournalClosed
	}
	return j.db.Put(voteKey(rec.Proposal), dat, nil)
}

// Lookup returns the recorded vote for id, or nil when none was cast.
func (j *VoteJournal) Lookup(id types.ProposalID) (*JournalRecord, error) {
	j.mtx.RLock()
	defer j.mtx.RUnlock()
	if j.closed {
		return nil, ErrJournalClosed
	}
	dat, err := j.db.Get(voteKey(id), nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	var rec JournalRecord
	if err := json.Unmarshal(dat, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Records returns every journaled vote ordered by proposal id.
func (j *VoteJournal) Records() ([]JournalRecord, error) {
	j.mtx.RLock()
	defer j.mtx.RUnlock()
	if j.closed {
		return nil, ErrJournalClosed
	}
	iter := j.db.NewIterator(util.BytesPrefix(keyVotePrefix), nil)
	defer iter.Release()
	records := make([]JournalRecord, 0)
	for iter.Next() {
		var rec JournalRecord
		if err := json.Unmarshal(iter.Value(), &rec); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, iter.Error()
}

func (j *VoteJournal) Close() error {
	j.mtx.Lock()
	defer j.mtx.Unlock()
	if j.closed {
		return nil
	}
	j.closed = true
	return j.db.Close()
}
