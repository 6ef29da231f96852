package credstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go-session-client/internal/model"
)

// codec turns the key/value document into file bytes and back.
type codec interface {
	encode(values map[string]string) ([]byte, error)
	decode(data []byte) (map[string]string, error)
}

// fileBackend stores every key in a single document, rewritten atomically on each change.
type fileBackend struct {
	name  string
	path  string
	codec codec
	mu    sync.Mutex
}

func newFileBackend(name string, path string, c codec) (*fileBackend, error) {
	if path == "" {
		return nil, errors.New("credential file path is required")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create credential dir: %w", err)
	}

	return &fileBackend{name: name, path: path, codec: c}, nil
}

func (b *fileBackend) Name() string { return b.name }

func (b *fileBackend) Get(_ context.Context, key string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	values, err := b.loadLocked()
	if err != nil {
		return "", err
	}

	value, ok := values[key]
	if !ok {
		return "", model.ErrNotFound
	}
	return value, nil
}

func (b *fileBackend) Set(_ context.Context, key string, value string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	values, err := b.loadLocked()
	if err != nil {
		return err
	}

	values[key] = value
	return b.saveLocked(values)
}

func (b *fileBackend) Delete(_ context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	values, err := b.loadLocked()
	if err != nil {
		return err
	}

	if _, ok := values[key]; !ok {
		return nil
	}

	delete(values, key)
	return b.saveLocked(values)
}

func (b *fileBackend) loadLocked() (map[string]string, error) {
	data, err := os.ReadFile(b.path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", b.path, err)
	}

	if len(data) == 0 {
		return map[string]string{}, nil
	}

	values, err := b.codec.decode(data)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", b.path, err)
	}
	if values == nil {
		values = map[string]string{}
	}

	return values, nil
}

func (b *fileBackend) saveLocked(values map[string]string) error {
	data, err := b.codec.encode(values)
	if err != nil {
		return fmt.Errorf("encode credentials: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(b.path), ".credentials-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}

	if err := os.Rename(tmpName, b.path); err != nil {
		return fmt.Errorf("replace %s: %w", b.path, err)
	}

	return nil
}

type jsonCodec struct{}

func (jsonCodec) encode(values map[string]string) ([]byte, error) {
	return json.MarshalIndent(values, "", "  ")
}

func (jsonCodec) decode(data []byte) (map[string]string, error) {
	var values map[string]string
	if err := json.Unmarshal(data, &values); err != nil {
		return nil, err
	}
	return values, nil
}

// LocalFileBackend is the best-effort store: a plain JSON document readable only by the owner.
type LocalFileBackend struct {
	*fileBackend
}

func NewLocalFileBackend(path string) (*LocalFileBackend, error) {
	fb, err := newFileBackend("local", path, jsonCodec{})
	if err != nil {
		return nil, err
	}
	return &LocalFileBackend{fileBackend: fb}, nil
}
