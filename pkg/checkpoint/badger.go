package checkpoint

import (
	"fmt"
	"sync/atomic"

	"github.com/dgraph-io/badger/v4"

	"github.com/fortiblox/intcode/internal/types"
)

// Key prefixes for BadgerDB storage.
var (
	// prefixCheckpoint is the prefix for checkpoint records.
	// Key format: prefixCheckpoint + session ID (16 bytes)
	prefixCheckpoint = []byte{0x01}
)

// Config contains configuration for the BadgerDB store.
type Config struct {
	// Path is the directory path for the database.
	Path string `toml:"path"`

	// InMemory runs the database in memory (for testing).
	InMemory bool `toml:"in_memory"`

	// SyncWrites ensures writes are synced to disk.
	SyncWrites bool `toml:"sync_writes"`

	// NumCompactors is the number of compaction workers.
	NumCompactors int `toml:"num_compactors"`

	// ValueLogFileSize is the size of each value log file.
	ValueLogFileSize int64 `toml:"value_log_file_size"`

	// Logger is an optional logger. Nil disables badger's logging.
	Logger badger.Logger `toml:"-"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig(path string) Config {
	return Config{
		Path:             path,
		NumCompactors:    2,
		ValueLogFileSize: 64 << 20, // 64MB
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Path == "" && !c.InMemory {
		return fmt.Errorf("%w: path is required unless in_memory is set", ErrConfigInvalid)
	}
	// Badger refuses fewer than two compactors.
	if c.NumCompactors != 0 && c.NumCompactors < 2 {
		return fmt.Errorf("%w: num_compactors must be at least 2", ErrConfigInvalid)
	}
	if c.ValueLogFileSize < 0 {
		return fmt.Errorf("%w: value_log_file_size must not be negative", ErrConfigInvalid)
	}
	return nil
}

// BadgerStore is a BadgerDB-backed checkpoint store.
type BadgerStore struct {
	db     *badger.DB
	closed atomic.Bool
}

// Open opens a BadgerDB checkpoint store.
func Open(cfg Config) (*BadgerStore, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	opts := badger.DefaultOptions(cfg.Path)
	if cfg.InMemory {
		opts = opts.WithInMemory(true).WithDir("").WithValueDir("")
	}
	opts = opts.
		WithSyncWrites(cfg.SyncWrites).
		WithLogger(cfg.Logger)
	if cfg.NumCompactors > 0 {
		opts = opts.WithNumCompactors(cfg.NumCompactors)
	}
	if cfg.ValueLogFileSize > 0 {
		opts = opts.WithValueLogFileSize(cfg.ValueLogFileSize)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

func checkpointKey(session types.SessionID) []byte {
	key := make([]byte, 0, len(prefixCheckpoint)+len(session))
	key = append(key, prefixCheckpoint...)
	return append(key, session[:]...)
}

// Save stores a checkpoint.
func (b *BadgerStore) Save(rec *Record) error {
	if b.closed.Load() {
		return ErrClosed
	}

	data, err := encodeRecord(rec)
	if err != nil {
		return err
	}
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(checkpointKey(rec.Session), data)
	})
}

// Load retrieves the checkpoint for a session.
func (b *BadgerStore) Load(session types.SessionID) (*Record, error) {
	if b.closed.Load() {
		return nil, ErrClosed
	}

	var rec *Record
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(checkpointKey(session))
		if err == badger.ErrKeyNotFound {
			return ErrCheckpointNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			r, err := decodeRecord(val)
			if err != nil {
				return err
			}
			rec = r
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// Delete removes the checkpoint for a session.
func (b *BadgerStore) Delete(session types.SessionID) error {
	if b.closed.Load() {
		return ErrClosed
	}

	key := checkpointKey(session)
	return b.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(key); err == badger.ErrKeyNotFound {
			return ErrCheckpointNotFound
		} else if err != nil {
			return err
		}
		return txn.Delete(key)
	})
}

// List returns summaries of all checkpoints in session ID order.
func (b *BadgerStore) List() ([]Summary, error) {
	if b.closed.Load() {
		return nil, ErrClosed
	}

	var out []Summary
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefixCheckpoint
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				rec, err := decodeRecord(val)
				if err != nil {
					return err
				}
				out = append(out, rec.Summary())
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	return out, err
}

// RunGC runs garbage collection on the value log.
func (b *BadgerStore) RunGC() error {
	if b.closed.Load() {
		return ErrClosed
	}
	return b.db.RunValueLogGC(0.5)
}

// Close closes the database.
func (b *BadgerStore) Close() error {
	if b.closed.Swap(true) {
		return ErrClosed
	}
	return b.db.Close()
}

var _ Store = (*BadgerStore)(nil)
