package storage

import (
	"fmt"

	"github.com/colorfulnotion/rvm/log"
	"github.com/syndtr/goleveldb/leveldb"
	leveldbstorage "github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// PersistenceStore wraps LevelDB for raw key-value persistence of archived
// sessions. LevelDB handles its own synchronization.
type PersistenceStore struct {
	db   *leveldb.DB
	path string
}

// NewPersistenceStore opens or creates a LevelDB database at the given path.
// If path is empty, uses in-memory storage.
func NewPersistenceStore(path string) (*PersistenceStore, error) {
	var db *leveldb.DB
	var err error

	if path == "" {
		db, err = leveldb.Open(leveldbstorage.NewMemStorage(), nil)
	} else {
		db, err = leveldb.OpenFile(path, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open database at %s: %w", path, err)
	}
	log.Debug(log.Storage, "Opened store", "path", path)
	return &PersistenceStore{db: db, path: path}, nil
}

// NewMemoryPersistenceStore creates an in-memory PersistenceStore for testing.
func NewMemoryPersistenceStore() (*PersistenceStore, error) {
	return NewPersistenceStore("")
}

// Get retrieves a value by key. Returns (nil, false, nil) if not found.
func (ps *PersistenceStore) Get(key []byte) ([]byte, bool, error) {
	data, err := ps.db.Get(key, nil)
	if err == leveldb.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("Get %q: %w", key, err)
	}
	return data, true, nil
}

func (ps *PersistenceStore) Has(key []byte) (bool, error) {
	return ps.db.Has(key, nil)
}

func (ps *PersistenceStore) Put(key []byte, value []byte) error {
	return ps.db.Put(key, value, nil)
}

func (ps *PersistenceStore) Delete(key []byte) error {
	return ps.db.Delete(key, nil)
}

// Write applies puts and deletes atomically.
func (ps *PersistenceStore) Write(puts [][2][]byte, deletes [][]byte) error {
	batch := new(leveldb.Batch)
	for _, kv := range puts {
		batch.Put(kv[0], kv[1])
	}
	for _, k := range deletes {
		batch.Delete(k)
	}
	if err := ps.db.Write(batch, nil); err != nil {
		return fmt.Errorf("write batch of %d puts, %d deletes: %w", len(puts), len(deletes), err)
	}
	return nil
}

// GetWithPrefix returns all key-value pairs with the given prefix, in key order.
func (ps *PersistenceStore) GetWithPrefix(prefix []byte) ([][2][]byte, error) {
	iter := ps.db.NewIterator(util.BytesPrefix(prefix), nil)
	defer iter.Release()

	var results [][2][]byte
	for iter.Next() {
		// iterator buffers are reused
		key := append([]byte(nil), iter.Key()...)
		value := append([]byte(nil), iter.Value()...)
		results = append(results, [2][]byte{key, value})
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("GetWithPrefix %q: %w", prefix, err)
	}
	return results, nil
}

func (ps *PersistenceStore) Path() string {
	return ps.path
}

func (ps *PersistenceStore) Close() error {
	return ps.db.Close()
}
