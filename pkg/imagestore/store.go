package imagestore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/redis/go-redis/v9"
)

// ErrMissing is returned by a Backend when nothing is stored under a locator
var ErrMissing = errors.New("image not found")

// Backend persists raw image bytes
type Backend interface {
	// Put stores data under name and returns the locator used to read it back
	Put(ctx context.Context, name string, data []byte) (string, error)

	// Get reads the bytes stored under locator. Returns ErrMissing if absent.
	Get(ctx context.Context, locator string) ([]byte, error)

	// Delete removes the bytes stored under locator. Deleting a missing locator is not an error.
	Delete(ctx context.Context, locator string) error
}

// FileStore implements Backend on a local directory
type FileStore struct {
	dir string
}

// NewFileStore creates the directory if needed and returns a store rooted there
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create image directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// Put writes to a temp file and renames it into place so readers never see a partial image
func (s *FileStore) Put(ctx context.Context, name string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	locator := filepath.Join(s.dir, name)
	tmp, err := os.CreateTemp(s.dir, ".upload-*")
	if err != nil {
		return "", err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}
	if err := os.Rename(tmp.Name(), locator); err != nil {
		return "", err
	}
	return locator, nil
}

func (s *FileStore) Get(ctx context.Context, locator string) ([]byte, error) {
	path, err := s.resolve(locator)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrMissing
		}
		return nil, err
	}
	return data, nil
}

func (s *FileStore) Delete(ctx context.Context, locator string) error {
	path, err := s.resolve(locator)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// resolve rejects locators that point outside the store directory
func (s *FileStore) resolve(locator string) (string, error) {
	clean := filepath.Clean(locator)
	if filepath.Dir(clean) != filepath.Clean(s.dir) {
		return "", ErrMissing
	}
	return clean, nil
}

// RedisStore implements Backend using Redis string values
type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: prefix,
	}
}

func (s *RedisStore) Put(ctx context.Context, name string, data []byte) (string, error) {
	key := s.prefix + name
	if err := s.client.Set(ctx, key, data, 0).Err(); err != nil {
		return "", err
	}
	return key, nil
}

func (s *RedisStore) Get(ctx context.Context, locator string) ([]byte, error) {
	if !strings.HasPrefix(locator, s.prefix) {
		return nil, ErrMissing
	}
	data, err := s.client.Get(ctx, locator).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrMissing
		}
		return nil, err
	}
	return data, nil
}

func (s *RedisStore) Delete(ctx context.Context, locator string) error {
	if !strings.HasPrefix(locator, s.prefix) {
		return nil
	}
	return s.client.Del(ctx, locator).Err()
}
