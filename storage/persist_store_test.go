package storage

import (
	"bytes"
	"path/filepath"
	"testing"
)

func TestPersistenceStore_BasicOperations(t *testing.T) {
	ps, err := NewMemoryPersistenceStore()
	if err != nil {
		t.Fatalf("Failed to create memory store: %v", err)
	}
	defer ps.Close()

	key := []byte("session/fib")
	value := []byte("digest")

	if err := ps.Put(key, value); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	got, found, err := ps.Get(key)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !found {
		t.Fatal("Expected key to be found")
	}
	if !bytes.Equal(got, value) {
		t.Errorf("Get returned %q, want %q", got, value)
	}

	_, found, err = ps.Get([]byte("session/missing"))
	if err != nil {
		t.Fatalf("Get non-existent failed: %v", err)
	}
	if found {
		t.Error("Expected key not to be found")
	}

	if err := ps.Delete(key); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if ok, err := ps.Has(key); err != nil || ok {
		t.Errorf("Has after delete = %v, %v", ok, err)
	}
}

func TestPersistenceStore_WriteBatch(t *testing.T) {
	ps, err := NewMemoryPersistenceStore()
	if err != nil {
		t.Fatalf("Failed to create memory store: %v", err)
	}
	defer ps.Close()

	if err := ps.Put([]byte("stale"), []byte("x")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	puts := [][2][]byte{
		{[]byte("a"), []byte("1")},
		{[]byte("b"), []byte("2")},
	}
	if err := ps.Write(puts, [][]byte{[]byte("stale")}); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	for _, kv := range puts {
		got, found, err := ps.Get(kv[0])
		if err != nil || !found || !bytes.Equal(got, kv[1]) {
			t.Errorf("Get %q = %q, %v, %v", kv[0], got, found, err)
		}
	}
	if ok, _ := ps.Has([]byte("stale")); ok {
		t.Error("Expected stale key to be deleted")
	}
}

func TestPersistenceStore_GetWithPrefix(t *testing.T) {
	ps, err := NewMemoryPersistenceStore()
	if err != nil {
		t.Fatalf("Failed to create memory store: %v", err)
	}
	defer ps.Close()

	prefix := []byte("session/")
	keys := [][]byte{
		[]byte("session/c"),
		[]byte("session/a"),
		[]byte("session/b"),
		[]byte("sessions"),
		[]byte("blob/a"),
	}
	for _, key := range keys {
		if err := ps.Put(key, []byte("value-"+string(key))); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
	}

	results, err := ps.GetWithPrefix(prefix)
	if err != nil {
		t.Fatalf("GetWithPrefix failed: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("Expected 3 results, got %d", len(results))
	}
	for i, want := range []string{"session/a", "session/b", "session/c"} {
		if string(results[i][0]) != want {
			t.Errorf("result %d key %q, want %q", i, results[i][0], want)
		}
		if string(results[i][1]) != "value-"+want {
			t.Errorf("result %d value %q", i, results[i][1])
		}
	}
}

func TestPersistenceStore_ReopenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db")
	ps, err := NewPersistenceStore(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := ps.Put([]byte("k"), []byte("v")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := ps.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	ps, err = NewPersistenceStore(path)
	if err != nil {
		t.Fatalf("Reopen failed: %v", err)
	}
	defer ps.Close()
	if ps.Path() != path {
		t.Errorf("Path() = %q", ps.Path())
	}
	got, found, err := ps.Get([]byte("k"))
	if err != nil || !found || string(got) != "v" {
		t.Errorf("Get after reopen = %q, %v, %v", got, found, err)
	}
}
