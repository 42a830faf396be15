package storage

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"github.com/minilake/minilake/internal/delta"
	"github.com/minilake/minilake/internal/engine"
	"github.com/minilake/minilake/internal/objstore"
	fsstore "github.com/minilake/minilake/internal/objstore/fs"
	s3store "github.com/minilake/minilake/internal/objstore/s3"
)

// Kind is the closed set of backend variants.
type Kind int

const (
	KindLocal Kind = iota + 1
	KindS3
)

func (k Kind) String() string {
	switch k {
	case KindLocal:
		return "local"
	case KindS3:
		return "s3"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// S3Options are the credential/endpoint settings shared by the commit
// log client and the engine's remote session. Built once at backend
// construction, immutable afterwards.
type S3Options struct {
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	Prefix          string
	UseSSL          bool
}

// Backend maps logical table paths to physical locations for one
// storage variant. It is a tagged variant rather than an interface
// hierarchy: every per-kind branch is an exhaustive switch on Kind,
// and only the factory constructs it.
type Backend struct {
	kind    Kind
	session *engine.Session

	// local
	root string

	// s3
	s3opts   S3Options
	s3client *s3store.Client
}

func (b *Backend) Kind() Kind {
	return b.kind
}

// Resolve maps a logical path to its physical location. Pure: no I/O,
// deterministic for a given configuration.
func (b *Backend) Resolve(logical string) (string, error) {
	cleaned, err := cleanLogicalPath(logical)
	if err != nil {
		return "", err
	}
	switch b.kind {
	case KindLocal:
		return filepath.Join(b.root, filepath.FromSlash(cleaned)), nil
	case KindS3:
		scheme := "s3://" + b.s3opts.Bucket
		if b.s3opts.Prefix != "" {
			return scheme + "/" + path.Join(b.s3opts.Prefix, cleaned), nil
		}
		return scheme + "/" + cleaned, nil
	default:
		return "", fmt.Errorf("unknown backend kind %v", b.kind)
	}
}

// LoadFiles returns the ordered file manifest of the requested
// snapshot as absolute references. For the s3 variant it first makes
// sure the engine session can reach the object store.
func (b *Backend) LoadFiles(ctx context.Context, logical string, sel delta.Selector) ([]string, error) {
	resolved, err := b.Resolve(logical)
	if err != nil {
		return nil, err
	}
	if err := b.EnsureSession(ctx); err != nil {
		return nil, err
	}

	store, err := b.tableStore(logical)
	if err != nil {
		return nil, err
	}
	table, err := delta.OpenAt(ctx, store, sel)
	if err != nil {
		return nil, err
	}

	relative := table.Files()
	absolute := make([]string, 0, len(relative))
	for _, rel := range relative {
		absolute = append(absolute, b.absoluteRef(resolved, rel))
	}
	return absolute, nil
}

// EnsureSession applies the remote-access session configuration the
// variant needs. Idempotent; a no-op for the local variant.
func (b *Backend) EnsureSession(ctx context.Context) error {
	switch b.kind {
	case KindLocal:
		return nil
	case KindS3:
		return b.session.EnsureRemote(ctx, engine.RemoteConfig{
			Endpoint:        b.s3opts.Endpoint,
			Region:          b.s3opts.Region,
			AccessKeyID:     b.s3opts.AccessKeyID,
			SecretAccessKey: b.s3opts.SecretAccessKey,
			UseSSL:          b.s3opts.UseSSL,
		})
	default:
		return fmt.Errorf("unknown backend kind %v", b.kind)
	}
}

// tableStore opens table-rooted object access for the commit log.
func (b *Backend) tableStore(logical string) (objstore.Store, error) {
	cleaned, err := cleanLogicalPath(logical)
	if err != nil {
		return nil, err
	}
	switch b.kind {
	case KindLocal:
		return fsstore.New(filepath.Join(b.root, filepath.FromSlash(cleaned)))
	case KindS3:
		return s3store.NewStore(b.s3client, b.s3opts.Bucket, path.Join(b.s3opts.Prefix, cleaned))
	default:
		return nil, fmt.Errorf("unknown backend kind %v", b.kind)
	}
}

// absoluteRef joins a manifest-relative file path onto the resolved
// table location.
func (b *Backend) absoluteRef(resolved, rel string) string {
	if b.kind == KindLocal {
		return filepath.Join(resolved, filepath.FromSlash(rel))
	}
	return resolved + "/" + rel
}

// cleanLogicalPath validates a caller-supplied logical path. Logical
// paths never carry a scheme; resolution is backend-exclusive.
func cleanLogicalPath(logical string) (string, error) {
	trimmed := strings.TrimSpace(logical)
	if trimmed == "" {
		return "", fmt.Errorf("logical path is required")
	}
	if strings.Contains(trimmed, "://") {
		return "", fmt.Errorf("logical path %q must not contain a storage scheme", logical)
	}
	if strings.HasPrefix(trimmed, "/") {
		return "", fmt.Errorf("logical path %q must be relative", logical)
	}
	cleaned := path.Clean(trimmed)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("invalid logical path: %q", logical)
	}
	return cleaned, nil
}
