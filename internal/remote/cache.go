package remote

import (
	"errors"
	"fmt"
	"time"

	badger "github.com/dgraph-io/badger/v4"
)

// Cache stores raw GET response bodies keyed by URL. It lets a development
// setup replay the site without hitting the network.
type Cache interface {
	Get(key string) ([]byte, bool, error)
	Set(key string, body []byte) error
}

// BadgerCache is a [Cache] persisted in a badger key-value store. Entries
// expire after the configured TTL.
type BadgerCache struct {
	db  *badger.DB
	ttl time.Duration
}

// OpenBadgerCache opens (or creates) a cache in dir. An empty dir keeps the
// cache in memory only.
func OpenBadgerCache(dir string, ttl time.Duration) (*BadgerCache, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening response cache %q: %w", dir, err)
	}
	return &BadgerCache{db: db, ttl: ttl}, nil
}

// Get returns the cached body for key. A miss is (nil, false, nil).
func (c *BadgerCache) Get(key string) ([]byte, bool, error) {
	var body []byte
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		body, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("reading cache entry %q: %w", key, err)
	}
	return body, true, nil
}

// Set stores body under key.
func (c *BadgerCache) Set(key string, body []byte) error {
	err := c.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry([]byte(key), body)
		if c.ttl > 0 {
			e = e.WithTTL(c.ttl)
		}
		return txn.SetEntry(e)
	})
	if err != nil {
		return fmt.Errorf("writing cache entry %q: %w", key, err)
	}
	return nil
}

// Close flushes and closes the underlying store.
func (c *BadgerCache) Close() error {
	return c.db.Close()
}
