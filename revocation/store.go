// Package revocation persists revoked token block ids in a local
// badger database. The store implements token.RevocationChecker, so
// an authorizer can fail closed on revoked tokens before evaluation.
// Distribution of revocations between verifiers is out of scope; the
// store only answers for ids it was told about.
package revocation

import (
	"fmt"

	"github.com/dgraph-io/badger/v4"
)

// keyPrefix namespaces revocation entries inside the database.
var keyPrefix = []byte("rev/")

// Store is a badger-backed revoked-id set.
type Store struct {
	db *badger.DB
}

// Open opens (creating if needed) a store at the given path.
func Open(path string) (*Store, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger: %w", err)
	}
	return &Store{db: db}, nil
}

// OpenInMemory opens an ephemeral store, useful for tests and
// short-lived verifiers.
func OpenInMemory() (*Store, error) {
	opts := badger.DefaultOptions("").WithInMemory(true)
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func storageKey(id []byte) []byte {
	key := make([]byte, 0, len(keyPrefix)+len(id))
	key = append(key, keyPrefix...)
	return append(key, id...)
}

// Revoke records a block revocation id.
func (s *Store) Revoke(id []byte) error {
	if len(id) == 0 {
		return fmt.Errorf("empty revocation id")
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(storageKey(id), nil)
	})
}

// RevokeAll records every id in one transaction, typically a token's
// full revocation id list.
func (s *Store) RevokeAll(ids [][]byte) error {
	return s.db.Update(func(txn *badger.Txn) error {
		for _, id := range ids {
			if len(id) == 0 {
				return fmt.Errorf("empty revocation id")
			}
			if err := txn.Set(storageKey(id), nil); err != nil {
				return err
			}
		}
		return nil
	})
}

// IsRevoked reports whether the id has been revoked.
func (s *Store) IsRevoked(id []byte) (bool, error) {
	var found bool
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(storageKey(id))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return nil
	})
	return found, err
}

// Each calls f for every revoked id. Iteration stops on error.
func (s *Store) Each(f func(id []byte) error) error {
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = keyPrefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			key := it.Item().Key()
			id := make([]byte, len(key)-len(keyPrefix))
			copy(id, key[len(keyPrefix):])
			if err := f(id); err != nil {
				return err
			}
		}
		return nil
	})
}
