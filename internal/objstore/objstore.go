package objstore

import (
	"context"
	"errors"
	"io"
	"time"
)

var (
	ErrObjectNotFound = errors.New("object not found")
	ErrObjectExists   = errors.New("object already exists")
)

type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified time.Time
}

// Store is table-rooted object access: keys are relative to one table's
// root. The commit log and vacuum are its only consumers; bulk data
// movement goes through the query engine instead.
type Store interface {
	Put(ctx context.Context, key string, body io.Reader, size int64) (ObjectInfo, error)
	// PutIfAbsent fails with ErrObjectExists when the key is already
	// present. Commit-log writers rely on it for version exclusivity.
	PutIfAbsent(ctx context.Context, key string, body io.Reader, size int64) (ObjectInfo, error)
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Stat(ctx context.Context, key string) (ObjectInfo, error)
	Delete(ctx context.Context, key string) error
	// List returns objects under prefix in lexical key order.
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
}
