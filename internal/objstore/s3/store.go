package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"sort"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/minilake/minilake/internal/objstore"
)

type Config struct {
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool
}

type client interface {
	Put(ctx context.Context, bucket, key string, reader io.Reader, size int64) (objstore.ObjectInfo, error)
	Get(ctx context.Context, bucket, key string) (io.ReadCloser, error)
	Stat(ctx context.Context, bucket, key string) (objstore.ObjectInfo, error)
	Delete(ctx context.Context, bucket, key string) error
	List(ctx context.Context, bucket, prefix string) ([]objstore.ObjectInfo, error)
	BucketExists(ctx context.Context, bucket string) (bool, error)
}

// Client wraps the minio SDK. One Client is shared across all tables of
// a backend; per-table Stores are cheap views over it.
type Client struct {
	impl client
}

func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, fmt.Errorf("s3 endpoint is required")
	}
	endpoint, secure, err := parseEndpoint(cfg.Endpoint, cfg.UseSSL)
	if err != nil {
		return nil, err
	}
	impl, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: secure,
		Region: strings.TrimSpace(cfg.Region),
	})
	if err != nil {
		return nil, fmt.Errorf("create s3 client: %w", err)
	}
	return &Client{impl: &minioClient{client: impl}}, nil
}

func NewClientWith(impl client) (*Client, error) {
	if impl == nil {
		return nil, fmt.Errorf("client implementation is required")
	}
	return &Client{impl: impl}, nil
}

// CheckBucket verifies the bucket is reachable with the configured
// credentials. Used for connectivity verification only.
func (c *Client) CheckBucket(ctx context.Context, bucket string) error {
	exists, err := c.impl.BucketExists(ctx, bucket)
	if err != nil {
		return fmt.Errorf("check bucket %q: %w", bucket, err)
	}
	if !exists {
		return fmt.Errorf("bucket %q does not exist or is not accessible", bucket)
	}
	return nil
}

// Store is a table-rooted view over a bucket prefix.
type Store struct {
	client *Client
	bucket string
	prefix string
}

func NewStore(c *Client, bucket, prefix string) (*Store, error) {
	if c == nil {
		return nil, fmt.Errorf("client is required")
	}
	if strings.TrimSpace(bucket) == "" {
		return nil, fmt.Errorf("bucket is required")
	}
	return &Store{client: c, bucket: strings.TrimSpace(bucket), prefix: cleanPrefix(prefix)}, nil
}

func (s *Store) Put(ctx context.Context, key string, body io.Reader, size int64) (objstore.ObjectInfo, error) {
	normalized, err := s.normalizeKey(key)
	if err != nil {
		return objstore.ObjectInfo{}, err
	}
	info, err := s.client.impl.Put(ctx, s.bucket, normalized, body, size)
	if err != nil {
		return objstore.ObjectInfo{}, fmt.Errorf("put object %q: %w", normalized, err)
	}
	info.Key = strings.TrimPrefix(strings.TrimPrefix(info.Key, s.prefix), "/")
	return info, nil
}

// PutIfAbsent checks for the key before writing. Against plain S3 this
// is check-then-put, not a conditional write; concurrent committers to
// the same version are arbitrated by the object store's last write.
func (s *Store) PutIfAbsent(ctx context.Context, key string, body io.Reader, size int64) (objstore.ObjectInfo, error) {
	normalized, err := s.normalizeKey(key)
	if err != nil {
		return objstore.ObjectInfo{}, err
	}
	if _, err := s.client.impl.Stat(ctx, s.bucket, normalized); err == nil {
		return objstore.ObjectInfo{}, objstore.ErrObjectExists
	} else if !errors.Is(err, objstore.ErrObjectNotFound) {
		return objstore.ObjectInfo{}, fmt.Errorf("stat object %q: %w", normalized, err)
	}
	return s.Put(ctx, key, body, size)
}

func (s *Store) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	normalized, err := s.normalizeKey(key)
	if err != nil {
		return nil, err
	}
	reader, err := s.client.impl.Get(ctx, s.bucket, normalized)
	if err != nil {
		if errors.Is(err, objstore.ErrObjectNotFound) {
			return nil, objstore.ErrObjectNotFound
		}
		return nil, fmt.Errorf("get object %q: %w", normalized, err)
	}
	return reader, nil
}

func (s *Store) Stat(ctx context.Context, key string) (objstore.ObjectInfo, error) {
	normalized, err := s.normalizeKey(key)
	if err != nil {
		return objstore.ObjectInfo{}, err
	}
	info, err := s.client.impl.Stat(ctx, s.bucket, normalized)
	if err != nil {
		if errors.Is(err, objstore.ErrObjectNotFound) {
			return objstore.ObjectInfo{}, objstore.ErrObjectNotFound
		}
		return objstore.ObjectInfo{}, fmt.Errorf("stat object %q: %w", normalized, err)
	}
	info.Key = strings.TrimPrefix(strings.TrimPrefix(info.Key, s.prefix), "/")
	return info, nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	normalized, err := s.normalizeKey(key)
	if err != nil {
		return err
	}
	if err := s.client.impl.Delete(ctx, s.bucket, normalized); err != nil {
		if errors.Is(err, objstore.ErrObjectNotFound) {
			return nil
		}
		return fmt.Errorf("delete object %q: %w", normalized, err)
	}
	return nil
}

func (s *Store) List(ctx context.Context, prefix string) ([]objstore.ObjectInfo, error) {
	full := s.prefix
	if prefix != "" {
		full = path.Join(s.prefix, path.Clean(strings.TrimPrefix(prefix, "/")))
	}
	listed, err := s.client.impl.List(ctx, s.bucket, full)
	if err != nil {
		return nil, fmt.Errorf("list objects under %q: %w", prefix, err)
	}
	objects := make([]objstore.ObjectInfo, 0, len(listed))
	for _, info := range listed {
		info.Key = strings.TrimPrefix(strings.TrimPrefix(info.Key, s.prefix), "/")
		objects = append(objects, info)
	}
	sort.Slice(objects, func(i, j int) bool { return objects[i].Key < objects[j].Key })
	return objects, nil
}

func (s *Store) normalizeKey(key string) (string, error) {
	key = strings.TrimSpace(strings.TrimPrefix(key, "/"))
	if key == "" {
		return "", fmt.Errorf("object key is required")
	}
	cleaned := path.Clean(key)
	if cleaned == "." || strings.HasPrefix(cleaned, "../") || strings.Contains(cleaned, "/../") {
		return "", fmt.Errorf("invalid object key: %q", key)
	}
	if s.prefix == "" {
		return cleaned, nil
	}
	return path.Join(s.prefix, cleaned), nil
}

func cleanPrefix(prefix string) string {
	prefix = strings.TrimSpace(strings.TrimPrefix(prefix, "/"))
	if prefix == "" {
		return ""
	}
	prefix = path.Clean(prefix)
	if prefix == "." {
		return ""
	}
	return prefix
}

func parseEndpoint(raw string, useSSL bool) (string, bool, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false, fmt.Errorf("endpoint is required")
	}
	if strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://") {
		parsed, err := url.Parse(raw)
		if err != nil {
			return "", false, fmt.Errorf("parse endpoint URL: %w", err)
		}
		if parsed.Host == "" {
			return "", false, fmt.Errorf("endpoint host is required")
		}
		if parsed.Scheme == "https" {
			return parsed.Host, true, nil
		}
		return parsed.Host, useSSL, nil
	}
	return raw, useSSL, nil
}

type minioClient struct {
	client *minio.Client
}

func (m *minioClient) Put(ctx context.Context, bucket, key string, reader io.Reader, size int64) (objstore.ObjectInfo, error) {
	uploadInfo, err := m.client.PutObject(ctx, bucket, key, reader, size, minio.PutObjectOptions{})
	if err != nil {
		return objstore.ObjectInfo{}, mapMinioErr(err)
	}
	return objstore.ObjectInfo{Key: uploadInfo.Key, Size: uploadInfo.Size}, nil
}

func (m *minioClient) Get(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	obj, err := m.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, mapMinioErr(err)
	}
	if _, err := obj.Stat(); err != nil {
		_ = obj.Close()
		return nil, mapMinioErr(err)
	}
	return obj, nil
}

func (m *minioClient) Stat(ctx context.Context, bucket, key string) (objstore.ObjectInfo, error) {
	obj, err := m.client.StatObject(ctx, bucket, key, minio.StatObjectOptions{})
	if err != nil {
		return objstore.ObjectInfo{}, mapMinioErr(err)
	}
	return objstore.ObjectInfo{Key: obj.Key, Size: obj.Size, LastModified: obj.LastModified}, nil
}

func (m *minioClient) Delete(ctx context.Context, bucket, key string) error {
	if err := m.client.RemoveObject(ctx, bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return mapMinioErr(err)
	}
	return nil
}

func (m *minioClient) List(ctx context.Context, bucket, prefix string) ([]objstore.ObjectInfo, error) {
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	objects := make([]objstore.ObjectInfo, 0)
	for obj := range m.client.ListObjects(ctx, bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return nil, mapMinioErr(obj.Err)
		}
		objects = append(objects, objstore.ObjectInfo{Key: obj.Key, Size: obj.Size, LastModified: obj.LastModified})
	}
	return objects, nil
}

func (m *minioClient) BucketExists(ctx context.Context, bucket string) (bool, error) {
	exists, err := m.client.BucketExists(ctx, bucket)
	if err != nil {
		return false, mapMinioErr(err)
	}
	return exists, nil
}

func mapMinioErr(err error) error {
	if err == nil {
		return nil
	}
	var response minio.ErrorResponse
	if errors.As(err, &response) {
		switch response.Code {
		case "NoSuchKey", "NoSuchBucket", "NotFound":
			return objstore.ErrObjectNotFound
		}
	}
	return err
}
