package secrets

import (
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
)

// SecureStore is a string key-value store for secret material.
type SecureStore interface {
	// Get returns the value and whether it was present.
	Get(name string) (string, bool, error)
	Set(name, value string) error
}

const secretPrefix = "secret/"

// BadgerStore keeps secrets in badger under the secret/ prefix.
type BadgerStore struct {
	db *badger.DB
}

// NewBadgerStore wraps an open database.
func NewBadgerStore(db *badger.DB) *BadgerStore {
	return &BadgerStore{db: db}
}

func (s *BadgerStore) Get(name string) (string, bool, error) {
	var value []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(secretPrefix + name))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read secret %s: %w", name, err)
	}
	return string(value), true, nil
}

func (s *BadgerStore) Set(name, value string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(secretPrefix+name), []byte(value))
	})
	if err != nil {
		return fmt.Errorf("write secret %s: %w", name, err)
	}
	return nil
}
