package fs

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/minilake/minilake/internal/objstore"
)

// Store serves objects from a directory on local disk.
type Store struct {
	root string
}

func New(root string) (*Store, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, fmt.Errorf("root directory is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create root directory %q: %w", root, err)
	}
	return &Store{root: root}, nil
}

func (s *Store) Put(ctx context.Context, key string, body io.Reader, size int64) (objstore.ObjectInfo, error) {
	return s.write(ctx, key, body, false)
}

func (s *Store) PutIfAbsent(ctx context.Context, key string, body io.Reader, size int64) (objstore.ObjectInfo, error) {
	return s.write(ctx, key, body, true)
}

func (s *Store) write(_ context.Context, key string, body io.Reader, exclusive bool) (objstore.ObjectInfo, error) {
	target, err := s.localPath(key)
	if err != nil {
		return objstore.ObjectInfo{}, err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return objstore.ObjectInfo{}, fmt.Errorf("create parent directory: %w", err)
	}

	flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if exclusive {
		flags = os.O_WRONLY | os.O_CREATE | os.O_EXCL
	}
	file, err := os.OpenFile(target, flags, 0o644)
	if err != nil {
		if exclusive && os.IsExist(err) {
			return objstore.ObjectInfo{}, objstore.ErrObjectExists
		}
		return objstore.ObjectInfo{}, fmt.Errorf("create object %q: %w", key, err)
	}

	written, err := io.Copy(file, body)
	if err != nil {
		_ = file.Close()
		_ = os.Remove(target)
		return objstore.ObjectInfo{}, fmt.Errorf("write object %q: %w", key, err)
	}
	if err := file.Close(); err != nil {
		return objstore.ObjectInfo{}, fmt.Errorf("close object %q: %w", key, err)
	}
	return objstore.ObjectInfo{Key: normalizeKey(key), Size: written}, nil
}

func (s *Store) Get(_ context.Context, key string) (io.ReadCloser, error) {
	target, err := s.localPath(key)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(target)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, objstore.ErrObjectNotFound
		}
		return nil, fmt.Errorf("open object %q: %w", key, err)
	}
	return file, nil
}

func (s *Store) Stat(_ context.Context, key string) (objstore.ObjectInfo, error) {
	target, err := s.localPath(key)
	if err != nil {
		return objstore.ObjectInfo{}, err
	}
	info, err := os.Stat(target)
	if err != nil {
		if os.IsNotExist(err) {
			return objstore.ObjectInfo{}, objstore.ErrObjectNotFound
		}
		return objstore.ObjectInfo{}, fmt.Errorf("stat object %q: %w", key, err)
	}
	return objstore.ObjectInfo{Key: normalizeKey(key), Size: info.Size(), LastModified: info.ModTime()}, nil
}

func (s *Store) Delete(_ context.Context, key string) error {
	target, err := s.localPath(key)
	if err != nil {
		return err
	}
	if err := os.Remove(target); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete object %q: %w", key, err)
	}
	return nil
}

func (s *Store) List(_ context.Context, prefix string) ([]objstore.ObjectInfo, error) {
	objects := make([]objstore.ObjectInfo, 0)
	err := filepath.WalkDir(s.root, func(walked string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(s.root, walked)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if prefix != "" && !strings.HasPrefix(key, prefix) {
			return nil
		}
		info, err := entry.Info()
		if err != nil {
			return err
		}
		objects = append(objects, objstore.ObjectInfo{Key: key, Size: info.Size(), LastModified: info.ModTime()})
		return nil
	})
	if err != nil {
		if os.IsNotExist(err) {
			return objects, nil
		}
		return nil, fmt.Errorf("list objects under %q: %w", prefix, err)
	}
	sort.Slice(objects, func(i, j int) bool { return objects[i].Key < objects[j].Key })
	return objects, nil
}

func (s *Store) localPath(key string) (string, error) {
	cleaned := normalizeKey(key)
	if cleaned == "" {
		return "", fmt.Errorf("object key is required")
	}
	if cleaned == "." || strings.HasPrefix(cleaned, "../") || strings.Contains(cleaned, "/../") {
		return "", fmt.Errorf("invalid object key: %q", key)
	}
	return filepath.Join(s.root, filepath.FromSlash(cleaned)), nil
}

func normalizeKey(key string) string {
	return path.Clean(strings.TrimPrefix(strings.TrimSpace(key), "/"))
}
