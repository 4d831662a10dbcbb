// Package kv is a small scalar key-value store for process settings,
// repurposed from internal/storage/db.go's badger-backed
// Storage. The original Storage tried to be the task store too (SaveTask/
// GetAllTasks over JSON blobs keyed by "task_"+id) — that role now belongs
// to internal/store, which needs secondary indices and filtered bulk
// updates badger cannot express. What's kept here is exactly the scalar
// GetString/SetString/IncrementStat surface db.go already had; this
// module's config package uses GetString/SetString.
package kv

import (
	"encoding/json"

	"github.com/dgraph-io/badger/v4"
)

type KV struct {
	db *badger.DB
}

// Open opens (creating if absent) a badger store at dir.
func Open(dir string) (*KV, error) {
	opts := badger.DefaultOptions(dir)
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &KV{db: db}, nil
}

func (k *KV) Close() error {
	return k.db.Close()
}

// GetString retrieves a single string value, returning "" if absent.
func (k *KV) GetString(key string) (string, error) {
	var val string
	err := k.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		return item.Value(func(v []byte) error {
			val = string(v)
			return nil
		})
	})
	if err == badger.ErrKeyNotFound {
		return "", nil
	}
	return val, err
}

// SetString stores a single string value.
func (k *KV) SetString(key, val string) error {
	return k.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), []byte(val))
	})
}

// IncrementStat atomically increments a JSON-encoded int64 counter.
func (k *KV) IncrementStat(key string, delta int64) error {
	return k.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		var current int64
		if err == nil {
			_ = item.Value(func(val []byte) error {
				return json.Unmarshal(val, &current)
			})
		} else if err != badger.ErrKeyNotFound {
			return err
		}
		current += delta
		valBytes, _ := json.Marshal(current)
		return txn.Set([]byte(key), valBytes)
	})
}

// GetStatInt reads a counter set via IncrementStat, 0 if absent.
func (k *KV) GetStatInt(key string) (int64, error) {
	var val int64
	err := k.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		return item.Value(func(v []byte) error {
			return json.Unmarshal(v, &val)
		})
	})
	if err == badger.ErrKeyNotFound {
		return 0, nil
	}
	return val, err
}
