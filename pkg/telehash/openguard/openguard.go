// Package openguard implements the replay guard spec.md §4.2 step 9
// requires: for each sender hashname, the last accepted "at" timestamp,
// rejecting any open whose "at" is not strictly greater.
//
// Grounded on the teacher's core/rawdb.Database interface shape (a small
// key-value contract with an in-memory and a persistent implementation)
// re-targeted at hashname→timestamp records instead of arbitrary blobs, with
// the persistent implementation backed by github.com/syndtr/goleveldb
// instead of the teacher's hand-rolled flat-file store.
package openguard

import (
	"encoding/binary"
	"math"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"

	"github.com/telehash/telehash/pkg/telehash/identity"
)

// Ledger is the collaborator openpkt.Parse consults. It satisfies
// openpkt.ReplayGuard.
type Ledger interface {
	LastOpen(hashname identity.Hashname) int64
	RecordOpen(hashname identity.Hashname, at int64)
}

// Memory is an in-process Ledger backed by a mutex-guarded map. It is the
// default when SwitchConfig.ReplayLedgerPath is empty.
type Memory struct {
	mu   sync.RWMutex
	last map[identity.Hashname]int64
}

// NewMemory returns an empty Memory ledger.
func NewMemory() *Memory {
	return &Memory{last: make(map[identity.Hashname]int64)}
}

// LastOpen returns math.MinInt64 for a sender never seen before, so any
// finite "at" is accepted.
func (m *Memory) LastOpen(hashname identity.Hashname) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if v, ok := m.last[hashname]; ok {
		return v
	}
	return math.MinInt64
}

func (m *Memory) RecordOpen(hashname identity.Hashname, at int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.last[hashname] = at
}

var _ Ledger = (*Memory)(nil)

// LevelDB is a durable Ledger so a restarted switch still rejects opens
// replayed from before its last shutdown.
type LevelDB struct {
	db *leveldb.DB
}

// OpenLevelDB opens (creating if absent) a LevelDB-backed ledger at dir.
func OpenLevelDB(dir string) (*LevelDB, error) {
	db, err := leveldb.OpenFile(dir, nil)
	if err != nil {
		return nil, err
	}
	return &LevelDB{db: db}, nil
}

// Close releases the underlying database handle.
func (l *LevelDB) Close() error {
	return l.db.Close()
}

func (l *LevelDB) LastOpen(hashname identity.Hashname) int64 {
	v, err := l.db.Get(hashname[:], nil)
	if err != nil || len(v) != 8 {
		return math.MinInt64
	}
	return int64(binary.BigEndian.Uint64(v))
}

func (l *LevelDB) RecordOpen(hashname identity.Hashname, at int64) {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(at))
	_ = l.db.Put(hashname[:], buf[:], nil)
}

var _ Ledger = (*LevelDB)(nil)
