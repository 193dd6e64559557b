package kv

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/culture-survey/backend/pkg/logger"
)

const fileBackendName = "file"

// FileStore keeps one pretty-printed JSON document per key under dir. It is
// meant for single-process local use: the mutex serializes writers inside
// this process only, and nothing guards against a second process.
type FileStore struct {
	dir string
	mu  sync.Mutex
}

// NewFileStore creates dir if needed and verifies it is writable. Any
// failure is reported as ErrNotConfigured.
func NewFileStore(dir string) (*FileStore, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("%w: empty data directory", ErrNotConfigured)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create data directory: %v", ErrNotConfigured, err)
	}

	probe, err := os.CreateTemp(dir, ".write-probe-*")
	if err != nil {
		return nil, fmt.Errorf("%w: data directory not writable: %v", ErrNotConfigured, err)
	}
	probe.Close()
	os.Remove(probe.Name())

	logger.Info("Local file store initialized", zap.String("dir", dir))

	return &FileStore{dir: dir}, nil
}

func (s *FileStore) Name() string {
	return fileBackendName
}

func (s *FileStore) Dir() string {
	return s.dir
}

func (s *FileStore) GetRaw(_ context.Context, key string) ([]byte, bool, error) {
	path, err := s.path(key)
	if err != nil {
		return nil, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return readFile(path)
}

// CompareAndSwap rewrites the file for key when its current bytes equal old.
func (s *FileStore) CompareAndSwap(_ context.Context, key string, old, next []byte) (bool, error) {
	path, err := s.path(key)
	if err != nil {
		return false, err
	}

	var pretty bytes.Buffer
	if err := json.Indent(&pretty, next, "", "  "); err != nil {
		return false, fmt.Errorf("%w: key %s: %v", ErrSerialization, key, err)
	}
	pretty.WriteByte('\n')

	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists, err := readFile(path)
	if err != nil {
		return false, err
	}
	if !matches(current, exists, old) {
		return false, nil
	}

	if err := writeFileAtomic(path, pretty.Bytes()); err != nil {
		return false, fmt.Errorf("failed to write %s: %w", path, err)
	}
	return true, nil
}

func (s *FileStore) Delete(_ context.Context, key string) error {
	path, err := s.path(key)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete %s: %w", path, err)
	}
	return nil
}

func (s *FileStore) path(key string) (string, error) {
	if key == "" || strings.ContainsAny(key, `/\`) || strings.Contains(key, "..") {
		return "", fmt.Errorf("invalid storage key %q", key)
	}
	return filepath.Join(s.dir, key+".json"), nil
}

func readFile(path string) ([]byte, bool, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return data, true, nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}
