// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

// Package badgerdb implements the marketplace record store backed by a
// badger key-value database. Badger's serializable transactions supply the
// all-or-nothing commit semantics required of every marketplace operation.
package badgerdb

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dgraph-io/badger"

	"vendue.org/vendue/mkt"
	"vendue.org/vendue/server/db"
)

// Config is the configuration settings for the badger-backed store.
type Config struct {
	Path string
	Log  mkt.Logger
}

// Store is the badger-backed marketplace store. Store implements db.Store.
type Store struct {
	*badger.DB
	log      mkt.Logger
	wg       sync.WaitGroup
	updateWG sync.WaitGroup
}

var _ db.Store = (*Store)(nil)

// New constructs a new Store at the configured filesystem path.
func New(cfg *Config) (*Store, error) {
	opts := badger.DefaultOptions(cfg.Path).WithLogger(&badgerLoggerWrapper{cfg.Log})
	bdb, err := badger.Open(opts)
	if err == badger.ErrTruncateNeeded {
		// Probably a Windows thing.
		// https://github.com/dgraph-io/badger/issues/744
		cfg.Log.Warnf("Error opening badger db: %v", err)
		// Try again with value log truncation enabled.
		opts.Truncate = true
		cfg.Log.Warnf("Attempting to reopen badger DB with the Truncate option set...")
		bdb, err = badger.Open(opts)
	}
	if err != nil {
		return nil, err
	}

	return &Store{
		DB:  bdb,
		log: cfg.Log,
	}, nil
}

// Connect starts the store, and creates goroutines to perform shutdown when
// the context is canceled.
func (s *Store) Connect(ctx context.Context) (*sync.WaitGroup, error) {
	s.wg.Add(1)
	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer func() {
			ticker.Stop()
			s.updateWG.Wait()
			s.Close()
			s.wg.Done()
		}()
		for {
			select {
			case <-ticker.C:
				err := s.RunValueLogGC(0.5)
				if err != nil && !errors.Is(err, badger.ErrNoRewrite) {
					s.log.Errorf("garbage collection error: %v", err)
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	return &s.wg, nil
}

// View runs f in a read-only transaction.
func (s *Store) View(f func(db.Tx) error) error {
	return s.DB.View(func(txn *badger.Txn) error {
		return f(&tx{txn})
	})
}

// Update runs f in a read-write transaction. Badger can return an ErrConflict
// if a read and write happen concurrently, in which case the transaction is
// retried with backoff.
func (s *Store) Update(f func(db.Tx) error) (err error) {
	s.updateWG.Add(1)
	defer s.updateWG.Done()

	const maxRetries = 10
	sleepTime := 5 * time.Millisecond

	for i := 0; i < maxRetries; i++ {
		err = s.DB.Update(func(txn *badger.Txn) error {
			return f(&tx{txn})
		})
		if err == nil || !errors.Is(err, badger.ErrConflict) {
			return err
		}
		sleepTime *= 2
		time.Sleep(sleepTime)
	}

	return err
}

// tx adapts a badger transaction to db.Tx.
type tx struct {
	txn *badger.Txn
}

// prefixedKey prepends the table's key-space prefix.
func prefixedKey(table db.Table, key []byte) []byte {
	k := make([]byte, 0, len(key)+1)
	k = append(k, byte(table))
	return append(k, key...)
}

func (t *tx) Get(table db.Table, key []byte) ([]byte, error) {
	item, err := t.txn.Get(prefixedKey(table, key))
	if err != nil {
		return nil, convertError(err)
	}
	return item.ValueCopy(nil)
}

func (t *tx) Has(table db.Table, key []byte) (bool, error) {
	_, err := t.txn.Get(prefixedKey(table, key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (t *tx) Set(table db.Table, key, value []byte) error {
	return t.txn.Set(prefixedKey(table, key), value)
}

func (t *tx) Delete(table db.Table, key []byte) error {
	err := t.txn.Delete(prefixedKey(table, key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil
	}
	return err
}

// convertError translates badger errors to the store's semantics so that the
// caller doesn't have to import badger.
func convertError(err error) error {
	switch {
	case errors.Is(err, badger.ErrKeyNotFound):
		return db.ErrKeyNotFound
	}
	return err
}
