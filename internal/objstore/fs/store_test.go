package fs

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/minilake/minilake/internal/objstore"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return store
}

func TestNewRequiresRoot(t *testing.T) {
	if _, err := New("   "); err == nil {
		t.Fatal("New() expected error for blank root")
	}
}

func TestPutGetRoundtrip(t *testing.T) {
	store := newStore(t)
	payload := []byte("hello parquet")

	info, err := store.Put(context.Background(), "tables/orders/part-0.parquet", bytes.NewReader(payload), int64(len(payload)))
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if info.Key != "tables/orders/part-0.parquet" || info.Size != int64(len(payload)) {
		t.Fatalf("Put() info = %+v", info)
	}

	reader, err := store.Get(context.Background(), "tables/orders/part-0.parquet")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	defer func() { _ = reader.Close() }()
	read, err := io.ReadAll(reader)
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	if !bytes.Equal(read, payload) {
		t.Fatalf("Get() = %q, want %q", read, payload)
	}
}

func TestPutIfAbsentFailsOnExisting(t *testing.T) {
	store := newStore(t)
	payload := []byte("v0")

	if _, err := store.PutIfAbsent(context.Background(), "_log/0.json", bytes.NewReader(payload), 2); err != nil {
		t.Fatalf("PutIfAbsent() first write error = %v", err)
	}
	_, err := store.PutIfAbsent(context.Background(), "_log/0.json", bytes.NewReader(payload), 2)
	if !errors.Is(err, objstore.ErrObjectExists) {
		t.Fatalf("PutIfAbsent() second write error = %v, want ErrObjectExists", err)
	}
}

func TestGetMissingObject(t *testing.T) {
	store := newStore(t)
	if _, err := store.Get(context.Background(), "missing.parquet"); !errors.Is(err, objstore.ErrObjectNotFound) {
		t.Fatalf("Get() error = %v, want ErrObjectNotFound", err)
	}
	if _, err := store.Stat(context.Background(), "missing.parquet"); !errors.Is(err, objstore.ErrObjectNotFound) {
		t.Fatalf("Stat() error = %v, want ErrObjectNotFound", err)
	}
}

func TestDeleteIsIdempotent(t *testing.T) {
	store := newStore(t)
	payload := []byte("x")
	if _, err := store.Put(context.Background(), "a.parquet", bytes.NewReader(payload), 1); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	if err := store.Delete(context.Background(), "a.parquet"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if err := store.Delete(context.Background(), "a.parquet"); err != nil {
		t.Fatalf("Delete() second call error = %v", err)
	}
}

func TestListFiltersAndSorts(t *testing.T) {
	store := newStore(t)
	for _, key := range []string{"_log/1.json", "_log/0.json", "data/part-0.parquet"} {
		if _, err := store.Put(context.Background(), key, bytes.NewReader([]byte("x")), 1); err != nil {
			t.Fatalf("Put(%q) error = %v", key, err)
		}
	}

	objects, err := store.List(context.Background(), "_log/")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(objects) != 2 {
		t.Fatalf("List() = %d objects, want 2", len(objects))
	}
	if objects[0].Key != "_log/0.json" || objects[1].Key != "_log/1.json" {
		t.Fatalf("List() keys = %q, %q", objects[0].Key, objects[1].Key)
	}

	all, err := store.List(context.Background(), "")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("List() all = %d objects, want 3", len(all))
	}
}

func TestRejectsPathTraversal(t *testing.T) {
	store := newStore(t)
	if _, err := store.Put(context.Background(), "../escape.txt", bytes.NewReader([]byte("x")), 1); err == nil {
		t.Fatal("Put() expected error for path traversal key")
	}
	if _, err := store.Get(context.Background(), "a/../../escape.txt"); err == nil {
		t.Fatal("Get() expected error for path traversal key")
	}
}
