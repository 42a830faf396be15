package storage

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/minilake/minilake/internal/engine"
	s3store "github.com/minilake/minilake/internal/objstore/s3"
)

// Type selects the backend variant in configuration.
type Type string

const (
	TypeLocal Type = "local"
	TypeS3    Type = "s3"
)

type Config struct {
	Type Type
	// LocalRoot is the root directory for local tables. Defaults to
	// "delta-tables".
	LocalRoot string
	S3        S3Options
}

// New selects and constructs a backend from configuration and wraps it
// in the operations core. For the s3 variant all four credentials are
// mandatory and the bucket must be reachable; both are checked here so
// no operation ever runs against a half-built backend.
func New(ctx context.Context, cfg Config, session *engine.Session, logger *slog.Logger) (*Store, error) {
	if session == nil {
		return nil, fmt.Errorf("%w: engine session is required", ErrConfiguration)
	}

	switch cfg.Type {
	case TypeLocal:
		root := strings.TrimSpace(cfg.LocalRoot)
		if root == "" {
			root = "delta-tables"
		}
		backend := &Backend{kind: KindLocal, session: session, root: root}
		return &Store{backend: backend, session: session, logger: logger}, nil

	case TypeS3:
		missing := missingS3Fields(cfg.S3)
		if len(missing) > 0 {
			return nil, fmt.Errorf("%w: incomplete s3 configuration, missing %s", ErrConfiguration, strings.Join(missing, ", "))
		}
		client, err := s3store.NewClient(s3store.Config{
			Endpoint:        cfg.S3.Endpoint,
			Region:          cfg.S3.Region,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
			UseSSL:          cfg.S3.UseSSL,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
		}
		if err := client.CheckBucket(ctx, cfg.S3.Bucket); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
		}
		backend := &Backend{kind: KindS3, session: session, s3opts: cfg.S3, s3client: client}
		return &Store{backend: backend, session: session, logger: logger}, nil

	default:
		return nil, fmt.Errorf("%w: unknown storage type %q", ErrConfiguration, cfg.Type)
	}
}

// newStoreWith wires a Store around an explicit backend. Test seam.
func newStoreWith(backend *Backend, session *engine.Session, logger *slog.Logger) *Store {
	return &Store{backend: backend, session: session, logger: logger}
}

func missingS3Fields(opts S3Options) []string {
	missing := make([]string, 0, 4)
	if strings.TrimSpace(opts.Endpoint) == "" {
		missing = append(missing, "endpoint")
	}
	if strings.TrimSpace(opts.AccessKeyID) == "" {
		missing = append(missing, "access key")
	}
	if strings.TrimSpace(opts.SecretAccessKey) == "" {
		missing = append(missing, "secret key")
	}
	if strings.TrimSpace(opts.Bucket) == "" {
		missing = append(missing, "bucket")
	}
	return missing
}
