package metrics

import (
	"context"

	"github.com/c360studio/braindump/roadmap"
	"github.com/c360studio/braindump/storage"
)

// InstrumentStore counts every Save and GetForUser on store.
func (m *Metrics) InstrumentStore(store storage.ProjectStore) storage.ProjectStore {
	return &instrumentedStore{ProjectStore: store, metrics: m}
}

type instrumentedStore struct {
	storage.ProjectStore
	metrics *Metrics
}

func (s *instrumentedStore) Save(ctx context.Context, ownerID string, rm *roadmap.Roadmap) error {
	err := s.ProjectStore.Save(ctx, ownerID, rm)
	s.metrics.ObserveStore(s.Backend(), "save", err)
	return err
}

func (s *instrumentedStore) GetForUser(ctx context.Context, projectID, userID string) (*roadmap.Roadmap, error) {
	rm, err := s.ProjectStore.GetForUser(ctx, projectID, userID)
	s.metrics.ObserveStore(s.Backend(), "get", err)
	return rm, err
}
