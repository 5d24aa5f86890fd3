package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/c360studio/braindump/roadmap"
)

// IndexFileName is the owner index inside the data directory.
const IndexFileName = ".project_index.json"

// FileStore keeps projects under {dir}/{ownerId}/{projectId}.json.
type FileStore struct {
	dir    string
	logger *slog.Logger

	// indexMu serializes index read-mutate-write sequences.
	indexMu sync.Mutex
}

// FileStoreOption configures a FileStore.
type FileStoreOption func(*FileStore)

// WithFileLogger sets the logger.
func WithFileLogger(logger *slog.Logger) FileStoreOption {
	return func(s *FileStore) {
		s.logger = logger
	}
}

// NewFileStore creates a FileStore rooted at dir, creating it if needed.
func NewFileStore(dir string, opts ...FileStoreOption) (*FileStore, error) {
	if dir == "" {
		return nil, errors.New("data directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	s := &FileStore{dir: dir, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Backend implements ProjectStore.
func (s *FileStore) Backend() string { return "file" }

// Save implements ProjectStore.
func (s *FileStore) Save(ctx context.Context, ownerID string, rm *roadmap.Roadmap) error {
	if !ValidProjectID(rm.ProjectID) {
		return ErrInvalidProjectID
	}
	if err := checkOwner(ownerID); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.MarshalIndent(rm, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal project: %w", err)
	}

	ownerDir := filepath.Join(s.dir, ownerID)
	if err := os.MkdirAll(ownerDir, 0o755); err != nil {
		return fmt.Errorf("create owner directory: %w", err)
	}
	path := filepath.Join(ownerDir, rm.ProjectID+".json")
	if err := writeFileAtomic(path, data); err != nil {
		return fmt.Errorf("write project: %w", err)
	}

	s.indexMu.Lock()
	defer s.indexMu.Unlock()

	idx, err := s.readIndex()
	if err != nil {
		return err
	}
	idx[rm.ProjectID] = ownerID
	if err := s.writeIndex(idx); err != nil {
		return err
	}

	s.logger.Info("Project saved locally", "project_id", rm.ProjectID, "owner_id", ownerID, "path", path)
	return nil
}

// GetForUser implements ProjectStore.
func (s *FileStore) GetForUser(ctx context.Context, projectID, userID string) (*roadmap.Roadmap, error) {
	if !ValidProjectID(projectID) {
		return nil, ErrInvalidProjectID
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	idx, err := s.readIndex()
	if err != nil {
		return nil, err
	}
	owner, err := idx.resolve(projectID, userID)
	if err != nil {
		return nil, err
	}
	if checkOwner(owner) != nil {
		return nil, ErrNotFound
	}

	data, err := os.ReadFile(filepath.Join(s.dir, owner, projectID+".json"))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read project: %w", err)
	}

	rm, err := decodeProject(data)
	if err != nil {
		return nil, fmt.Errorf("unmarshal project: %w", err)
	}
	return rm, nil
}

func (s *FileStore) indexPath() string {
	return filepath.Join(s.dir, IndexFileName)
}

func (s *FileStore) readIndex() (Index, error) {
	data, err := os.ReadFile(s.indexPath())
	if errors.Is(err, fs.ErrNotExist) {
		return Index{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read project index: %w", err)
	}
	return parseIndex(data, "file", s.logger), nil
}

func (s *FileStore) writeIndex(idx Index) error {
	data, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal project index: %w", err)
	}
	if err := writeFileAtomic(s.indexPath(), data); err != nil {
		return fmt.Errorf("write project index: %w", err)
	}
	return nil
}

// writeFileAtomic writes to a temp file in the same directory, syncs it and
// renames it over path.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".braindump-tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}
