package storage

import (
	"errors"
	"path/filepath"
	"testing"
)

func runDatabaseSuite(t *testing.T, db Database) {
	t.Helper()

	if _, err := db.Get([]byte("missing")); !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("expected ErrKeyNotFound, got %v", err)
	}

	if err := db.Put([]byte("a/1"), []byte("one")); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := db.Put([]byte("a/2"), []byte("two")); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := db.Put([]byte("b/1"), []byte("three")); err != nil {
		t.Fatalf("put: %v", err)
	}

	value, err := db.Get([]byte("a/1"))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(value) != "one" {
		t.Fatalf("unexpected value: %q", value)
	}

	has, err := db.Has([]byte("a/2"))
	if err != nil || !has {
		t.Fatalf("expected key to exist: %v", err)
	}

	keys, err := db.KeysWithPrefix([]byte("a/"))
	if err != nil {
		t.Fatalf("prefix scan: %v", err)
	}
	if len(keys) != 2 || string(keys[0]) != "a/1" || string(keys[1]) != "a/2" {
		t.Fatalf("unexpected prefix keys: %v", keys)
	}

	if err := db.Delete([]byte("a/1")); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := db.Get([]byte("a/1")); !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("expected deleted key to be gone, got %v", err)
	}
}

func TestMemDB(t *testing.T) {
	db := NewMemDB()
	defer db.Close()
	runDatabaseSuite(t, db)
}

func TestMemDBValueIsolation(t *testing.T) {
	db := NewMemDB()
	defer db.Close()

	original := []byte("value")
	if err := db.Put([]byte("key"), original); err != nil {
		t.Fatalf("put: %v", err)
	}
	original[0] = 'X'

	stored, err := db.Get([]byte("key"))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(stored) != "value" {
		t.Fatalf("stored value aliased caller buffer: %q", stored)
	}
}

func TestLevelDB(t *testing.T) {
	db, err := NewLevelDB(filepath.Join(t.TempDir(), "db"))
	if err != nil {
		t.Fatalf("open leveldb: %v", err)
	}
	defer db.Close()
	runDatabaseSuite(t, db)
}
