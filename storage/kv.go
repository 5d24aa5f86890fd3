package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/c360studio/braindump/roadmap"
	"github.com/nats-io/nats.go/jetstream"
)

// DefaultBucket is the KV bucket holding projects and the owner index.
const DefaultBucket = "BRAINDUMP_PROJECTS"

const (
	indexKey      = "index"
	projectPrefix = "project."

	// indexUpdateAttempts bounds compare-and-set retries when another
	// process updated the index between our read and write.
	indexUpdateAttempts = 3
)

// KVStore keeps projects in a NATS KV bucket: one key per project
// ("project.<id>") plus an "index" key holding the owner index.
type KVStore struct {
	kv     jetstream.KeyValue
	logger *slog.Logger

	indexMu sync.Mutex
}

// KVStoreOption configures a KVStore.
type KVStoreOption func(*kvStoreOptions)

type kvStoreOptions struct {
	bucket string
	logger *slog.Logger
}

// WithBucket overrides the bucket name.
func WithBucket(name string) KVStoreOption {
	return func(o *kvStoreOptions) {
		if name != "" {
			o.bucket = name
		}
	}
}

// WithKVLogger sets the logger.
func WithKVLogger(logger *slog.Logger) KVStoreOption {
	return func(o *kvStoreOptions) {
		o.logger = logger
	}
}

// NewKVStore opens the project bucket, creating it if it does not exist.
func NewKVStore(ctx context.Context, js jetstream.JetStream, opts ...KVStoreOption) (*KVStore, error) {
	o := kvStoreOptions{bucket: DefaultBucket, logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	kv, err := getOrCreateBucket(ctx, js, o.bucket)
	if err != nil {
		return nil, fmt.Errorf("create projects bucket: %w", err)
	}
	return &KVStore{kv: kv, logger: o.logger}, nil
}

func getOrCreateBucket(ctx context.Context, js jetstream.JetStream, name string) (jetstream.KeyValue, error) {
	kv, err := js.KeyValue(ctx, name)
	if err == nil {
		return kv, nil
	}
	// Bucket doesn't exist, create it
	return js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      name,
		Description: fmt.Sprintf("Braindump %s storage", strings.ToLower(name)),
		History:     5, // Keep last 5 revisions
	})
}

// Backend implements ProjectStore.
func (s *KVStore) Backend() string { return "nats-kv" }

// Save implements ProjectStore.
func (s *KVStore) Save(ctx context.Context, ownerID string, rm *roadmap.Roadmap) error {
	if !ValidProjectID(rm.ProjectID) {
		return ErrInvalidProjectID
	}
	if err := checkOwner(ownerID); err != nil {
		return err
	}

	data, err := json.Marshal(rm)
	if err != nil {
		return fmt.Errorf("marshal project: %w", err)
	}
	if _, err := s.kv.Put(ctx, projectPrefix+rm.ProjectID, data); err != nil {
		return fmt.Errorf("store project: %w", err)
	}

	s.indexMu.Lock()
	defer s.indexMu.Unlock()

	var lastErr error
	for attempt := 1; attempt <= indexUpdateAttempts; attempt++ {
		idx, revision, err := s.readIndex(ctx)
		if err != nil {
			return err
		}
		idx[rm.ProjectID] = ownerID
		if lastErr = s.writeIndex(ctx, idx, revision); lastErr == nil {
			s.logger.Info("Project saved to KV", "project_id", rm.ProjectID, "owner_id", ownerID)
			return nil
		}
		s.logger.Warn("Project index update conflicted, retrying",
			"project_id", rm.ProjectID, "attempt", attempt, "error", lastErr)
	}
	return fmt.Errorf("update project index: %w", lastErr)
}

// GetForUser implements ProjectStore.
func (s *KVStore) GetForUser(ctx context.Context, projectID, userID string) (*roadmap.Roadmap, error) {
	if !ValidProjectID(projectID) {
		return nil, ErrInvalidProjectID
	}

	idx, _, err := s.readIndex(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := idx.resolve(projectID, userID); err != nil {
		return nil, err
	}

	entry, err := s.kv.Get(ctx, projectPrefix+projectID)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get project: %w", err)
	}

	rm, err := decodeProject(entry.Value())
	if err != nil {
		return nil, fmt.Errorf("unmarshal project: %w", err)
	}
	return rm, nil
}

// readIndex returns the index and its revision; revision 0 means the key is absent.
func (s *KVStore) readIndex(ctx context.Context) (Index, uint64, error) {
	entry, err := s.kv.Get(ctx, indexKey)
	if err != nil {
		if isNotFound(err) {
			return Index{}, 0, nil
		}
		return nil, 0, fmt.Errorf("read project index: %w", err)
	}
	return parseIndex(entry.Value(), "kv", s.logger), entry.Revision(), nil
}

func (s *KVStore) writeIndex(ctx context.Context, idx Index, revision uint64) error {
	data, err := json.Marshal(idx)
	if err != nil {
		return fmt.Errorf("marshal project index: %w", err)
	}
	if revision == 0 {
		_, err = s.kv.Create(ctx, indexKey, data)
	} else {
		_, err = s.kv.Update(ctx, indexKey, data, revision)
	}
	return err
}
