// Package store is the key-value engine behind a development node: an
// in-memory skiplist made durable by a write-ahead log that is replayed on
// open and rewritten when it grows too far past the live data.
package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const (
	walName = "wal.log"

	// DefaultCompactThreshold is how many dead records the log may carry
	// before it is rewritten.
	DefaultCompactThreshold = 4096
)

var ErrClosed = errors.New("store: closed")

type Option func(*DB)

func WithLogger(l *zap.Logger) Option {
	return func(db *DB) { db.logger = l }
}

// WithSyncWrites fsyncs the log after every write instead of only flushing
// it to the OS.
func WithSyncWrites(on bool) Option {
	return func(db *DB) { db.syncWrites = on }
}

func WithCompactThreshold(n int) Option {
	return func(db *DB) { db.compactThreshold = n }
}

type DB struct {
	dir              string
	logger           *zap.Logger
	syncWrites       bool
	compactThreshold int

	mu      sync.RWMutex
	data    *skipList
	wal     *wal
	seq     uint64
	records int
	closed  bool
}

// Open loads the database in dir, creating dir if needed.
func Open(dir string, opts ...Option) (*DB, error) {
	db := &DB{
		dir:              dir,
		logger:           zap.NewNop(),
		compactThreshold: DefaultCompactThreshold,
		data:             newSkipList(),
	}
	for _, opt := range opts {
		opt(db)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	path := filepath.Join(dir, walName)
	seq, n, err := replayWAL(path, func(r record) {
		if r.op == opPut {
			db.data.Put(r.key, r.value)
		} else {
			db.data.Delete(r.key)
		}
	})
	if err != nil {
		return nil, err
	}
	db.seq, db.records = seq, n

	if db.wal, err = openWAL(path); err != nil {
		return nil, err
	}
	db.logger.Info("store opened",
		zap.String("dir", dir),
		zap.Int("keys", db.data.Len()),
		zap.Int("records", n))

	if db.records-db.data.Len() > db.compactThreshold {
		if err := db.Compact(); err != nil {
			db.wal.close()
			return nil, err
		}
	}
	return db, nil
}

func (db *DB) Get(key string) (string, bool) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.data.Get(key)
}

func (db *DB) Len() int {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.data.Len()
}

func (db *DB) Put(key, value string) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.putLocked(key, value)
}

// Delete removes key and reports whether it existed. Deleting a missing key
// writes nothing.
func (db *DB) Delete(key string) (bool, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return false, ErrClosed
	}
	if _, ok := db.data.Get(key); !ok {
		return false, nil
	}
	db.seq++
	if err := db.wal.writeDel(db.seq, key); err != nil {
		return false, err
	}
	if err := db.commitLocked(); err != nil {
		return false, err
	}
	db.data.Delete(key)
	return true, nil
}

// Update runs fn on the current value of key and stores what it returns if
// write is true. fn runs under the write lock, so read-modify-write commands
// are atomic.
func (db *DB) Update(key string, fn func(old string, ok bool) (value string, write bool, err error)) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return ErrClosed
	}
	old, ok := db.data.Get(key)
	value, write, err := fn(old, ok)
	if err != nil || !write {
		return err
	}
	return db.putLocked(key, value)
}

func (db *DB) putLocked(key, value string) error {
	if db.closed {
		return ErrClosed
	}
	db.seq++
	if err := db.wal.writePut(db.seq, key, value); err != nil {
		return err
	}
	if err := db.commitLocked(); err != nil {
		return err
	}
	db.data.Put(key, value)
	return nil
}

func (db *DB) commitLocked() error {
	db.records++
	if db.syncWrites {
		return db.wal.sync()
	}
	return db.wal.flush()
}

// Sync makes every write so far durable.
func (db *DB) Sync() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return ErrClosed
	}
	return db.wal.sync()
}

// Compact rewrites the log with one PUT per live key. The new log is fully
// written and synced before it replaces the old one.
func (db *DB) Compact() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return ErrClosed
	}

	tmp := filepath.Join(db.dir, walName+".tmp")
	_ = os.Remove(tmp)
	next, err := openWAL(tmp)
	if err != nil {
		return err
	}
	db.data.Ascend(func(key, value string) bool {
		err = next.writePut(db.seq, key, value)
		return err == nil
	})
	if err = multierr.Append(err, next.close()); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("compact: %w", err)
	}

	before := db.records
	if err := db.wal.close(); err != nil {
		return err
	}
	path := filepath.Join(db.dir, walName)
	if err := os.Rename(tmp, path); err != nil {
		return err
	}
	if db.wal, err = openWAL(path); err != nil {
		db.closed = true
		return err
	}
	db.records = db.data.Len()
	db.logger.Info("log compacted", zap.Int("before", before), zap.Int("after", db.records))
	return nil
}

func (db *DB) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return nil
	}
	db.closed = true
	return db.wal.close()
}
