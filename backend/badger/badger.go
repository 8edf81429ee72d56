// Package badger provides a durable backend.Store on BadgerDB.
package badger

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/dgraph-io/badger/v4"

	"codestreak/backend"
)

func init() {
	backend.RegisterStoreWithPriority("badger", func(path string) (backend.Store, error) {
		return New(path)
	}, 20)
}

// Backend implements backend.Store using BadgerDB
type Backend struct {
	db *badger.DB
}

// New opens (creating if needed) a BadgerDB directory at path.
// An empty path opens an in-memory database.
func New(path string) (*Backend, error) {
	var opts badger.Options
	if path == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(path, 0755); err != nil {
			return nil, fmt.Errorf("create badger directory: %w", err)
		}
		opts = badger.DefaultOptions(path)
	}
	// Badger logs to stderr by default; the CLI output must stay clean.
	opts = opts.WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &Backend{db: db}, nil
}

// Get returns the value stored under key, or backend.ErrNotFound.
func (b *Backend) Get(_ context.Context, key string) ([]byte, error) {
	var value []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return backend.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("get %s: %w", key, err)
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	return value, nil
}

// Set replaces the value stored under key.
func (b *Backend) Set(_ context.Context, key string, value []byte) error {
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), value)
	})
}

// Delete removes key. Deleting a missing key is not an error.
func (b *Backend) Delete(_ context.Context, key string) error {
	return b.db.Update(func(txn *badger.Txn) error {
		if err := txn.Delete([]byte(key)); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("delete %s: %w", key, err)
		}
		return nil
	})
}

// Keys returns all keys with the given prefix in key order.
func (b *Backend) Keys(_ context.Context, prefix string) ([]string, error) {
	keys := []string{}
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		p := []byte(prefix)
		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			keys = append(keys, string(it.Item().KeyCopy(nil)))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}
	return keys, nil
}

// Clear deletes every key.
func (b *Backend) Clear(_ context.Context) error {
	return b.db.DropAll()
}

// Close closes the database
func (b *Backend) Close() error {
	return b.db.Close()
}
