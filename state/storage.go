package state

import (
	"github.com/holiman/uint256"
	"golang.org/x/exp/slices"
)

// Storage is a sparse word-to-word map. Zero values are not stored, so two
// storages holding the same non-zero entries are identical. The value a key
// held before its first write is tracked for the SSTORE gas schedule.
type Storage struct {
	data     map[uint256.Int]uint256.Int
	original map[uint256.Int]uint256.Int
}

// StorageEntry is one key/value pair.
type StorageEntry struct {
	Key   uint256.Int
	Value uint256.Int
}

func NewStorage() *Storage {
	return &Storage{
		data:     make(map[uint256.Int]uint256.Int),
		original: make(map[uint256.Int]uint256.Int),
	}
}

func (s *Storage) Get(key *uint256.Int) uint256.Int {
	return s.data[*key]
}

// Original returns the value key held before its first write in this
// execution, and whether it has been written at all.
func (s *Storage) Original(key *uint256.Int) (uint256.Int, bool) {
	v, ok := s.original[*key]
	if !ok {
		return s.data[*key], false
	}
	return v, true
}

// Set writes value and returns the previous value and whether this was the
// first write of key.
func (s *Storage) Set(key, value *uint256.Int) (prev uint256.Int, firstWrite bool) {
	prev = s.data[*key]
	if _, seen := s.original[*key]; !seen {
		s.original[*key] = prev
		firstWrite = true
	}
	s.put(key, value)
	return prev, firstWrite
}

// Revert undoes a Set: it restores prev and, for a first write, forgets the
// recorded original.
func (s *Storage) Revert(key, prev *uint256.Int, firstWrite bool) {
	s.put(key, prev)
	if firstWrite {
		delete(s.original, *key)
	}
}

func (s *Storage) put(key, value *uint256.Int) {
	if value.IsZero() {
		delete(s.data, *key)
		return
	}
	s.data[*key] = *value
}

func (s *Storage) Len() int {
	return len(s.data)
}

// Entries returns all non-zero entries ordered by key.
func (s *Storage) Entries() []StorageEntry {
	return sortedEntries(s.data)
}

func (s *Storage) originals() []StorageEntry {
	return sortedEntries(s.original)
}

func (s *Storage) restore(entries, originals []StorageEntry) {
	clear(s.data)
	clear(s.original)
	for i := range entries {
		s.put(&entries[i].Key, &entries[i].Value)
	}
	for _, e := range originals {
		s.original[e.Key] = e.Value
	}
}

func sortedEntries(m map[uint256.Int]uint256.Int) []StorageEntry {
	keys := make([]uint256.Int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, func(a, b uint256.Int) int {
		return a.Cmp(&b)
	})
	out := make([]StorageEntry, len(keys))
	for i, k := range keys {
		out[i] = StorageEntry{Key: k, Value: m[k]}
	}
	return out
}
