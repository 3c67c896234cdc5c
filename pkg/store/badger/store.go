// Package badger implements store.SettingsStore on BadgerDB.
package badger

import (
	"context"
	"errors"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/marmos91/ecquota/internal/logger"
	"github.com/marmos91/ecquota/pkg/store"
)

// BadgerSettingsStore persists directory settings in an embedded BadgerDB.
//
// Settings survive restarts and crashes (BadgerDB is WAL based). Every
// operation runs in its own BadgerDB transaction, so the store is safe for
// concurrent use without an additional lock.
//
// See keys.go for the key layout and serialization.go for the value format.
type BadgerSettingsStore struct {
	db *badger.DB
}

// BadgerSettingsStoreConfig contains configuration for creating a BadgerDB
// settings store.
type BadgerSettingsStoreConfig struct {
	// DBPath is the directory where BadgerDB stores its files.
	DBPath string `mapstructure:"db_path"`

	// InMemory keeps the database in memory only. DBPath is ignored.
	InMemory bool `mapstructure:"in_memory"`

	// BlockCacheSizeMB is BadgerDB's block cache size in MB (default: 16)
	BlockCacheSizeMB int64 `mapstructure:"block_cache_size_mb"`

	// IndexCacheSizeMB is BadgerDB's index cache size in MB (default: 8)
	IndexCacheSizeMB int64 `mapstructure:"index_cache_size_mb"`
}

// NewBadgerSettingsStore opens (or creates) a settings database.
//
// The schema version key is written on first open and checked on every
// later open, so a database written by an incompatible build is refused
// rather than misread.
func NewBadgerSettingsStore(ctx context.Context, config BadgerSettingsStoreConfig) (*BadgerSettingsStore, error) {
	// Check context before database operations
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if config.DBPath == "" && !config.InMemory {
		return nil, errors.New("badger settings store: db_path is required")
	}

	// Step 1: Prepare BadgerDB options
	var opts badger.Options
	if config.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(config.DBPath)
	}

	// Settings are tiny and rarely written
	opts = opts.WithLoggingLevel(badger.WARNING)
	opts = opts.WithCompression(options.None)

	blockCacheMB := config.BlockCacheSizeMB
	if blockCacheMB == 0 {
		blockCacheMB = 16
	}
	indexCacheMB := config.IndexCacheSizeMB
	if indexCacheMB == 0 {
		indexCacheMB = 8
	}
	opts = opts.WithBlockCacheSize(blockCacheMB << 20)
	opts = opts.WithIndexCacheSize(indexCacheMB << 20)

	// Step 2: Open BadgerDB
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB at %s: %w", config.DBPath, err)
	}

	s := &BadgerSettingsStore{db: db}

	// Step 3: Stamp or verify the schema version
	if err := s.initializeSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Debug("Opened settings store: path=%s in_memory=%v", config.DBPath, config.InMemory)
	return s, nil
}

func (s *BadgerSettingsStore) initializeSchema() error {
	return s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keySchema))
		if errors.Is(err, badger.ErrKeyNotFound) {
			data, err := encodeVersion()
			if err != nil {
				return err
			}
			return txn.Set([]byte(keySchema), data)
		}
		if err != nil {
			return fmt.Errorf("failed to read schema version: %w", err)
		}

		return item.Value(func(val []byte) error {
			v, err := decodeVersion(val)
			if err != nil {
				return fmt.Errorf("failed to decode schema version: %w", err)
			}
			if v != recordVersion {
				return fmt.Errorf("unsupported schema version %d (want %d)", v, recordVersion)
			}
			return nil
		})
	})
}

// wrap maps BadgerDB's closed error to store.ErrClosed.
func wrap(err error) error {
	if errors.Is(err, badger.ErrDBClosed) {
		return store.ErrClosed
	}
	return err
}

// Put implements store.SettingsStore.
func (s *BadgerSettingsStore) Put(ctx context.Context, settings store.DirectorySettings) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	settings.Path = store.CleanPath(settings.Path)
	data, err := encodeSettings(settings)
	if err != nil {
		return err
	}

	return wrap(s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(keyDirectory(settings.Path), data)
	}))
}

// Get implements store.SettingsStore.
func (s *BadgerSettingsStore) Get(ctx context.Context, path string) (store.DirectorySettings, error) {
	if err := ctx.Err(); err != nil {
		return store.DirectorySettings{}, err
	}

	path = store.CleanPath(path)

	var out store.DirectorySettings
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(keyDirectory(path))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return store.ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			out, err = decodeSettings(path, val)
			return err
		})
	})
	if err != nil {
		return store.DirectorySettings{}, wrap(err)
	}
	return out, nil
}

// Delete implements store.SettingsStore.
func (s *BadgerSettingsStore) Delete(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return wrap(s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(keyDirectory(store.CleanPath(path)))
	}))
}

// List implements store.SettingsStore.
//
// Keys sort bytewise, which matches the path ordering of the other
// backends because every key shares the same prefix.
func (s *BadgerSettingsStore) List(ctx context.Context) ([]store.DirectorySettings, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var out []store.DirectorySettings
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := []byte(prefixDirectory)
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}

			item := it.Item()
			path := pathFromKey(item.KeyCopy(nil))
			err := item.Value(func(val []byte) error {
				settings, err := decodeSettings(path, val)
				if err != nil {
					return err
				}
				out = append(out, settings)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, wrap(err)
	}
	return out, nil
}

// Healthcheck implements store.SettingsStore.
func (s *BadgerSettingsStore) Healthcheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if s.db.IsClosed() {
		return store.ErrClosed
	}

	// A read transaction fails if the database is closed or corrupted
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(keySchema))
		return err
	})
	if err != nil {
		return fmt.Errorf("healthcheck failed: %w", wrap(err))
	}
	return nil
}

// Close closes the BadgerDB database. The store must not be used afterwards.
func (s *BadgerSettingsStore) Close() error {
	if s.db.IsClosed() {
		return nil
	}
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close BadgerDB: %w", err)
	}
	return nil
}
