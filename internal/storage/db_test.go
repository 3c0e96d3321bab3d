package storage

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

// testDB runs the shared suite against a DB implementation.
func testDB(t *testing.T, db DB) {
	t.Helper()

	t.Run("GetPutOverwrite", func(t *testing.T) {
		tests := []struct {
			key, value []byte
		}{
			{[]byte("b/1"), []byte("block one")},
			{[]byte("b/1"), []byte("block one, replaced")},
			{[]byte{0x00, 0x01, 0xff}, bytes.Repeat([]byte{0xab}, 300)},
			{[]byte("empty"), []byte{}},
		}
		for _, tt := range tests {
			if err := db.Put(tt.key, tt.value); err != nil {
				t.Fatalf("Put(%x): %v", tt.key, err)
			}
			got, err := db.Get(tt.key)
			if err != nil {
				t.Fatalf("Get(%x): %v", tt.key, err)
			}
			if !bytes.Equal(got, tt.value) {
				t.Errorf("Get(%x) = %q, want %q", tt.key, got, tt.value)
			}
		}
	})

	t.Run("Missing", func(t *testing.T) {
		if _, err := db.Get([]byte("missing")); !errors.Is(err, ErrNotFound) {
			t.Errorf("Get(missing) = %v, want ErrNotFound", err)
		}
		if ok, err := db.Has([]byte("missing")); ok || err != nil {
			t.Errorf("Has(missing) = %v, %v", ok, err)
		}
		if err := db.Delete([]byte("missing")); err != nil {
			t.Errorf("Delete(missing) = %v", err)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		db.Put([]byte("tip"), []byte("h"))
		if ok, _ := db.Has([]byte("tip")); !ok {
			t.Fatal("Has(tip) = false after Put")
		}
		if err := db.Delete([]byte("tip")); err != nil {
			t.Fatalf("Delete: %v", err)
		}
		if _, err := db.Get([]byte("tip")); !errors.Is(err, ErrNotFound) {
			t.Errorf("Get after Delete = %v", err)
		}
	})

	t.Run("ForEach", func(t *testing.T) {
		db.Put([]byte("h/1"), []byte("a"))
		db.Put([]byte("h/2"), []byte("b"))
		db.Put([]byte("h/3"), []byte("c"))
		db.Put([]byte("r/1"), []byte("x"))

		seen := map[string]string{}
		if err := db.ForEach([]byte("h/"), func(key, value []byte) error {
			seen[string(key)] = string(value)
			return nil
		}); err != nil {
			t.Fatalf("ForEach: %v", err)
		}
		if len(seen) != 3 || seen["h/2"] != "b" {
			t.Errorf("ForEach(h/) = %v", seen)
		}

		count := 0
		db.ForEach([]byte("none/"), func(_, _ []byte) error {
			count++
			return nil
		})
		if count != 0 {
			t.Errorf("ForEach(none/) visited %d keys", count)
		}
	})

	t.Run("Batch", func(t *testing.T) {
		batcher, ok := db.(Batcher)
		if !ok {
			t.Skip("store does not batch")
		}
		db.Put([]byte("batch/old"), []byte("x"))

		b := batcher.NewBatch()
		b.Put([]byte("batch/a"), []byte("1"))
		b.Put([]byte("batch/b"), []byte("2"))
		b.Delete([]byte("batch/old"))

		if ok, _ := db.Has([]byte("batch/a")); ok {
			t.Error("batched write visible before Commit()")
		}
		if err := b.Commit(); err != nil {
			t.Fatalf("Commit() error: %v", err)
		}
		for _, k := range []string{"batch/a", "batch/b"} {
			if ok, _ := db.Has([]byte(k)); !ok {
				t.Errorf("%s missing after Commit()", k)
			}
		}
		if ok, _ := db.Has([]byte("batch/old")); ok {
			t.Error("batched delete not applied")
		}
	})
}

func TestMemoryDB(t *testing.T) {
	db := NewMemory()
	defer db.Close()
	testDB(t, db)
}

func TestMemoryDB_Ordered(t *testing.T) {
	db := NewMemory()
	for _, k := range []string{"k/c", "k/a", "other", "k/b"} {
		db.Put([]byte(k), []byte(k))
	}
	var got []string
	db.ForEach([]byte("k/"), func(key, _ []byte) error {
		got = append(got, string(key))
		return nil
	})
	if strings.Join(got, ",") != "k/a,k/b,k/c" {
		t.Errorf("ForEach order = %v", got)
	}
}

func TestMemoryBatch_LastWriteWins(t *testing.T) {
	db := NewMemory()
	db.Put([]byte("gone"), []byte("x"))
	b := db.NewBatch()
	b.Put([]byte("k"), []byte("1"))
	b.Delete([]byte("k"))
	b.Put([]byte("k"), []byte("2"))
	b.Put([]byte("empty"), nil)
	b.Delete([]byte("gone"))
	if ok, _ := db.Has([]byte("k")); ok {
		t.Fatal("batch visible before Commit")
	}
	if err := b.Commit(); err != nil {
		t.Fatal(err)
	}
	if v, _ := db.Get([]byte("k")); string(v) != "2" {
		t.Errorf("k = %q, want 2", v)
	}
	if ok, _ := db.Has([]byte("empty")); !ok {
		t.Error("empty value should be stored")
	}
	if ok, _ := db.Has([]byte("gone")); ok {
		t.Error("deleted key still present")
	}
}

func TestBadgerDB(t *testing.T) {
	db, err := NewBadger(t.TempDir())
	if err != nil {
		t.Fatalf("NewBadger() error: %v", err)
	}
	defer db.Close()
	testDB(t, db)
}

func TestBadgerDB_Reopen(t *testing.T) {
	dir := t.TempDir()

	db1, err := NewBadger(dir)
	if err != nil {
		t.Fatalf("NewBadger() error: %v", err)
	}
	db1.Put([]byte("tip"), []byte("block0"))

	if _, err := NewBadger(dir); !errors.Is(err, ErrLocked) {
		t.Errorf("second open = %v, want ErrLocked", err)
	}
	db1.Close()

	db2, err := NewBadger(dir)
	if err != nil {
		t.Fatalf("reopen error: %v", err)
	}
	defer db2.Close()
	if db2.Path() != dir {
		t.Errorf("Path() = %q", db2.Path())
	}
	if val, err := db2.Get([]byte("tip")); err != nil || string(val) != "block0" {
		t.Errorf("persisted value = %q, %v", val, err)
	}
}
