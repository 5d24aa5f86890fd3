package metrics

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/braindump/llm"
	"github.com/c360studio/braindump/roadmap"
	"github.com/c360studio/braindump/storage"
	"github.com/c360studio/braindump/transcribe"
)

func TestGenerationObserver(t *testing.T) {
	_, m := NewRegistry()

	m.ObserveAttempt("structuring", llm.OutcomeValidationFail)
	m.ObserveAttempt("structuring", llm.OutcomeSuccess)
	m.ObserveGeneration("structuring", llm.Telemetry{
		Attempts:         2,
		Corrections:      1,
		PromptTokens:     120,
		CompletionTokens: 80,
		EstimatedCost:    0.002,
		DurationMs:       1500,
	}, nil)
	m.ObserveGeneration("structuring", llm.Telemetry{Attempts: 1}, errors.New("boom"))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.GenerationAttempts.WithLabelValues("structuring", llm.OutcomeSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.GenerationAttempts.WithLabelValues("structuring", llm.OutcomeValidationFail)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Generations.WithLabelValues("structuring", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Generations.WithLabelValues("structuring", "error")))
	assert.Equal(t, 120.0, testutil.ToFloat64(m.GenerationTokens.WithLabelValues("structuring", "prompt")))
	assert.Equal(t, 80.0, testutil.ToFloat64(m.GenerationTokens.WithLabelValues("structuring", "completion")))
	assert.InDelta(t, 0.002, testutil.ToFloat64(m.GenerationCost.WithLabelValues("structuring")), 1e-9)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Corrections.WithLabelValues("structuring")))
}

func TestTranscriptionObserver(t *testing.T) {
	_, m := NewRegistry()

	m.SessionStarted()
	m.SessionStarted()
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ActiveSessions))

	m.EventSent(transcribe.EventTextDelta)
	m.EventSent(transcribe.EventDone)
	m.SessionEnded(transcribe.OutcomeDone, 3, 1, 2*time.Second)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ActiveSessions))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TranscriptionSessions.WithLabelValues("done")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.TranscriptionDeltas))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DroppedFrames))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventsSent.WithLabelValues(string(transcribe.EventDone))))
}

func TestObserveStore(t *testing.T) {
	_, m := NewRegistry()

	m.ObserveStore("file", "save", nil)
	m.ObserveStore("file", "get", errors.New("not found"))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.StoreOperations.WithLabelValues("file", "save", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StoreOperations.WithLabelValues("file", "get", "error")))
}

func TestInstrumentAndHandler(t *testing.T) {
	reg, m := NewRegistry()

	h := m.Instrument("/structure", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/structure", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequests.WithLabelValues("/structure", "post", "418")))

	srv := httptest.NewServer(Handler(reg))
	defer srv.Close()
	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	text := string(body)
	assert.True(t, strings.Contains(text, "braindump_http_requests_total"), "exposition lists API metrics")
	assert.Contains(t, text, "go_goroutines")
}

type stubStore struct {
	err error
}

func (s stubStore) Save(context.Context, string, *roadmap.Roadmap) error { return s.err }

func (s stubStore) GetForUser(context.Context, string, string) (*roadmap.Roadmap, error) {
	return nil, storage.ErrNotFound
}

func (s stubStore) Backend() string { return "stub" }

func TestInstrumentStore(t *testing.T) {
	_, m := NewRegistry()
	store := m.InstrumentStore(stubStore{})

	require.NoError(t, store.Save(context.Background(), "alice", &roadmap.Roadmap{ProjectID: "p1"}))
	_, err := store.GetForUser(context.Background(), "p1", "alice")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.Equal(t, "stub", store.Backend())

	assert.Equal(t, 1.0, testutil.ToFloat64(m.StoreOperations.WithLabelValues("stub", "save", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StoreOperations.WithLabelValues("stub", "get", "error")))
}
