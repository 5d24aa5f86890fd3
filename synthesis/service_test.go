package synthesis_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/braindump/llm"
	"github.com/c360studio/braindump/llm/testutil"
	"github.com/c360studio/braindump/roadmap"
	"github.com/c360studio/braindump/storage"
	"github.com/c360studio/braindump/synthesis"
)

const launchBrainDump = "Launch app by Q3: auth first, then feed depends on auth"

const launchRoadmap = `{
  "projectId": "",
  "title": "Launch app by Q3",
  "objectives": [
    {"id": "obj-1", "text": "Ship authentication", "priority": "high"},
    {"id": "obj-2", "text": "Ship the feed", "priority": "medium"}
  ],
  "tasks": [
    {"id": "task-1", "title": "Build auth", "objectiveId": "obj-1", "status": "backlog", "estimate": "L", "priority": "high", "dependsOn": []},
    {"id": "task-2", "title": "Build feed", "objectiveId": "obj-2", "status": "backlog", "estimate": "L", "priority": "medium", "dependsOn": ["task-1"]}
  ],
  "revisionHistory": []
}`

const cyclicRoadmap = `{
  "title": "Loop",
  "objectives": [{"id": "obj-1", "text": "Go round", "priority": "low"}],
  "tasks": [
    {"id": "A", "title": "A", "objectiveId": "obj-1", "estimate": "S", "priority": "low", "dependsOn": ["B"]},
    {"id": "B", "title": "B", "objectiveId": "obj-1", "estimate": "S", "priority": "low", "dependsOn": ["A"]}
  ]
}`

// envelope wraps content the way completion endpoints answer.
func envelope(t *testing.T, content string) string {
	t.Helper()
	data, err := json.Marshal(map[string]any{"outputs": []map[string]string{{"text": content}}})
	require.NoError(t, err)
	return string(data)
}

// memStore is an in-memory ProjectStore that counts saves.
type memStore struct {
	mu       sync.Mutex
	projects map[string]*roadmap.Roadmap
	owners   map[string]string
	saves    int
}

func newMemStore() *memStore {
	return &memStore{projects: map[string]*roadmap.Roadmap{}, owners: map[string]string{}}
}

func (m *memStore) Save(_ context.Context, ownerID string, rm *roadmap.Roadmap) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	m.projects[rm.ProjectID] = rm.Clone()
	m.owners[rm.ProjectID] = ownerID
	return nil
}

func (m *memStore) GetForUser(_ context.Context, projectID, userID string) (*roadmap.Roadmap, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	owner, ok := m.owners[projectID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	if owner != userID {
		return nil, storage.ErrForbidden
	}
	return m.projects[projectID].Clone(), nil
}

func (m *memStore) Backend() string { return "memory" }

func (m *memStore) saveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

var fixedNow = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

func newService(t *testing.T, completer llm.Completer, store storage.ProjectStore, opts ...synthesis.Option) *synthesis.Service {
	t.Helper()
	cfg := llm.DefaultGenerationConfig()
	cfg.BackoffBase = 0
	gen := llm.NewGenerator(completer, cfg, llm.WithSleep(func(context.Context, time.Duration) error { return nil }))
	opts = append([]synthesis.Option{synthesis.WithClock(func() time.Time { return fixedNow })}, opts...)
	return synthesis.NewService(gen, store, synthesis.DefaultConfig(), opts...)
}

func TestGenerate_EndToEnd(t *testing.T) {
	store, err := storage.NewFileStore(t.TempDir())
	require.NoError(t, err)
	mock := &testutil.MockCompleter{Steps: []testutil.Step{{Content: envelope(t, launchRoadmap)}}}
	svc := newService(t, mock, store)
	ctx := context.Background()

	first, err := svc.Generate(ctx, synthesis.GenerateRequest{Text: launchBrainDump})
	require.NoError(t, err)
	second, err := svc.Generate(ctx, synthesis.GenerateRequest{Text: launchBrainDump})
	require.NoError(t, err)

	rm := first.Roadmap
	assert.GreaterOrEqual(t, len(rm.Objectives), 2)
	assert.False(t, roadmap.HasCycle(rm.Tasks))
	for _, task := range rm.Tasks {
		for _, dep := range task.DependsOn {
			assert.NotNil(t, rm.Task(dep), "task %s depends on unknown %s", task.ID, dep)
		}
	}
	assert.NotEmpty(t, rm.ProjectID)
	assert.NotEqual(t, rm.ProjectID, second.Roadmap.ProjectID)
	assert.Equal(t, launchBrainDump, rm.BrainDump)
	assert.True(t, rm.CreatedAt.Equal(fixedNow))
	assert.Nil(t, rm.Planning)
	assert.Equal(t, 1, first.Telemetry.Attempts)

	stored, err := store.GetForUser(ctx, rm.ProjectID, "anonymous")
	require.NoError(t, err)
	assert.Equal(t, rm.Title, stored.Title)

	// The brain dump reached the model inside the fenced payload only.
	req := mock.Requests()[0]
	assert.Equal(t, "structuring", req.Capability)
	assert.Contains(t, req.Messages[1].Content, "<input_json>")
	assert.NotContains(t, req.Messages[0].Content, launchBrainDump)
}

func TestGenerate_CycleIsRejectedAndNotPersisted(t *testing.T) {
	store := newMemStore()
	mock := &testutil.MockCompleter{Steps: []testutil.Step{{Content: cyclicRoadmap}}}
	svc := newService(t, mock, store)

	_, err := svc.Generate(context.Background(), synthesis.GenerateRequest{Text: "two tasks waiting on each other"})

	var cycleErr *roadmap.CircularDependencyError
	require.ErrorAs(t, err, &cycleErr)
	assert.Contains(t, cycleErr.Cycle, "A")
	assert.Contains(t, cycleErr.Cycle, "B")
	assert.Equal(t, 0, store.saveCount())
	assert.Equal(t, 1, mock.Calls(), "cycles are not retried")
}

func TestGenerate_InputValidation(t *testing.T) {
	mock := &testutil.MockCompleter{}
	svc := newService(t, mock, newMemStore())

	for _, req := range []synthesis.GenerateRequest{
		{Text: ""},
		{Text: "   \n\t"},
		{Text: "valid text", UserID: "../etc"},
	} {
		_, err := svc.Generate(context.Background(), req)
		var inputErr *synthesis.InputValidationError
		assert.ErrorAs(t, err, &inputErr, "request %+v", req)
	}
	assert.Equal(t, 0, mock.Calls())
}

func TestGenerate_CorrectiveRetry(t *testing.T) {
	invalid := strings.Replace(launchRoadmap, `"title": "Launch app by Q3"`, `"title": ""`, 1)
	mock := &testutil.MockCompleter{Steps: []testutil.Step{
		{Content: invalid},
		{Content: launchRoadmap},
	}}
	store := newMemStore()
	svc := newService(t, mock, store)

	got, err := svc.Generate(context.Background(), synthesis.GenerateRequest{Text: launchBrainDump, UserID: "user-1"})
	require.NoError(t, err)

	assert.Equal(t, 2, mock.Calls())
	assert.Equal(t, 1, got.Telemetry.Corrections)
	retry := mock.Requests()[1]
	assert.Contains(t, retry.Messages[0].Content, "## Required Schema")
	assert.Contains(t, retry.Messages[1].Content, "title: required")
	assert.Equal(t, 1, store.saveCount())
}

func TestGenerate_ValidationExhausted(t *testing.T) {
	mock := &testutil.MockCompleter{Steps: []testutil.Step{{Content: `{"title": "no tasks"}`}}}
	store := newMemStore()
	svc := newService(t, mock, store)

	_, err := svc.Generate(context.Background(), synthesis.GenerateRequest{Text: launchBrainDump})

	var exhausted *llm.ValidationExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 2, exhausted.Attempts)
	var schemaErr *roadmap.SchemaValidationError
	assert.ErrorAs(t, err, &schemaErr)
	assert.Equal(t, 0, store.saveCount())
}

func TestGenerate_NonJSONAnswer(t *testing.T) {
	mock := &testutil.MockCompleter{Steps: []testutil.Step{{Content: "Sure! Here is your roadmap."}}}
	svc := newService(t, mock, newMemStore())

	_, err := svc.Generate(context.Background(), synthesis.GenerateRequest{Text: launchBrainDump})
	assert.True(t, llm.IsParseError(err), "got %v", err)
	assert.Equal(t, 2, mock.Calls())
}

func TestGenerate_Planning(t *testing.T) {
	var withPlanning map[string]any
	require.NoError(t, json.Unmarshal([]byte(launchRoadmap), &withPlanning))
	withPlanning["planning"] = map[string]any{
		"startDate": "2026-03-02",
		"endDate":   "2026-03-03",
		"slots": []map[string]any{
			{"taskId": "task-1", "day": "2026-03-02", "slot": "AM", "done": true},
			{"taskId": "task-2", "day": "2026-03-02", "slot": "PM", "done": false},
		},
	}
	body, err := json.Marshal(withPlanning)
	require.NoError(t, err)

	t.Run("requested", func(t *testing.T) {
		mock := &testutil.MockCompleter{Steps: []testutil.Step{{Content: string(body)}}}
		got, err := newService(t, mock, newMemStore()).Generate(context.Background(),
			synthesis.GenerateRequest{Text: launchBrainDump, IncludePlanning: true})
		require.NoError(t, err)
		require.NotNil(t, got.Roadmap.Planning)
		assert.Len(t, got.Roadmap.Planning.Slots, 2)
		assert.False(t, got.Roadmap.Planning.Slots[0].Done, "new slots start not done")
		assert.Contains(t, mock.Requests()[0].Messages[0].Content, "## Planning")
	})

	t.Run("not requested", func(t *testing.T) {
		mock := &testutil.MockCompleter{Steps: []testutil.Step{{Content: string(body)}}}
		got, err := newService(t, mock, newMemStore()).Generate(context.Background(),
			synthesis.GenerateRequest{Text: launchBrainDump})
		require.NoError(t, err)
		assert.Nil(t, got.Roadmap.Planning)
	})
}

func TestGenerate_TransportError(t *testing.T) {
	mock := &testutil.MockCompleter{Err: errors.New("connection refused")}
	svc := newService(t, mock, newMemStore())

	_, err := svc.Generate(context.Background(), synthesis.GenerateRequest{Text: launchBrainDump})
	assert.True(t, llm.IsTransportError(err))
	assert.Equal(t, 1, mock.Calls())
}

func seedProject(t *testing.T, store *memStore) *roadmap.Roadmap {
	t.Helper()
	rm, err := roadmap.DecodeRoadmap([]byte(launchRoadmap))
	require.NoError(t, err)
	rm.Normalize()
	rm.ProjectID = "p-1"
	require.NoError(t, store.Save(context.Background(), "user-1", rm))
	return rm
}

const addDocsRevision = `{
  "revisedRoadmap": [
    {"id": "task-1", "title": "Build auth", "objectiveId": "obj-1", "estimate": "L", "priority": "high", "dependsOn": [], "status": "unchanged"},
    {"id": "task-2", "title": "Build feed", "objectiveId": "obj-2", "estimate": "M", "priority": "medium", "dependsOn": ["task-1"], "status": "modified"},
    {"id": "task-3", "title": "Write docs", "objectiveId": "obj-2", "estimate": "S", "priority": "low", "dependsOn": ["task-2"], "status": "added"}
  ],
  "changesSummary": {"itemsModified": 1, "itemsAdded": 1, "itemsRemoved": 0, "confidenceScore": 0.9}
}`

func TestRevise_StoredProject(t *testing.T) {
	store := newMemStore()
	seedProject(t, store)
	mock := &testutil.MockCompleter{Steps: []testutil.Step{{Content: addDocsRevision}}}
	svc := newService(t, mock, store)

	got, err := svc.Revise(context.Background(), synthesis.ReviseRequest{
		ProjectID:   " p-1 ",
		UserID:      "user-1",
		Instruction: "Add documentation and shrink the feed",
	})
	require.NoError(t, err)

	assert.Equal(t, 1, got.Revision.ChangesSummary.ItemsAdded)
	assert.Len(t, got.Roadmap.Tasks, 3)
	assert.Equal(t, roadmap.EstimateM, got.Roadmap.Task("task-2").Estimate)
	require.Len(t, got.Roadmap.RevisionHistory, 1)
	assert.True(t, got.Roadmap.RevisionHistory[0].Timestamp.Equal(fixedNow))

	stored, err := store.GetForUser(context.Background(), "p-1", "user-1")
	require.NoError(t, err)
	assert.Len(t, stored.Tasks, 3)
	assert.Equal(t, 2, store.saveCount())
	assert.Equal(t, "revising", mock.Requests()[0].Capability)
}

func TestRevise_Lookup(t *testing.T) {
	store := newMemStore()
	seedProject(t, store)
	mock := &testutil.MockCompleter{Steps: []testutil.Step{{Content: addDocsRevision}}}
	svc := newService(t, mock, store)
	ctx := context.Background()
	instruction := "Add documentation please"

	_, err := svc.Revise(ctx, synthesis.ReviseRequest{ProjectID: "p-1", UserID: "user-2", Instruction: instruction})
	assert.ErrorIs(t, err, storage.ErrForbidden)

	_, err = svc.Revise(ctx, synthesis.ReviseRequest{ProjectID: "p-9", UserID: "user-1", Instruction: instruction})
	assert.ErrorIs(t, err, storage.ErrNotFound)

	var inputErr *synthesis.InputValidationError
	_, err = svc.Revise(ctx, synthesis.ReviseRequest{ProjectID: "p/1", UserID: "user-1", Instruction: instruction})
	assert.ErrorAs(t, err, &inputErr)

	_, err = svc.Revise(ctx, synthesis.ReviseRequest{ProjectID: "p-1", UserID: "user-1", Instruction: "too short"})
	assert.ErrorAs(t, err, &inputErr)

	_, err = svc.Revise(ctx, synthesis.ReviseRequest{ProjectID: "p-1", Instruction: instruction})
	assert.ErrorAs(t, err, &inputErr)

	assert.Equal(t, 0, mock.Calls())
}

func TestRevise_InlineRoadmapIsNotPersisted(t *testing.T) {
	store := newMemStore()
	current := seedProject(t, store)
	mock := &testutil.MockCompleter{Steps: []testutil.Step{{Content: addDocsRevision}}}
	svc := newService(t, mock, store)

	got, err := svc.Revise(context.Background(), synthesis.ReviseRequest{
		Roadmap:     current,
		Instruction: "Add documentation and shrink the feed",
	})
	require.NoError(t, err)
	assert.Len(t, got.Roadmap.Tasks, 3)
	assert.Equal(t, 1, store.saveCount(), "only the seed save")
	assert.Len(t, current.Tasks, 2, "input roadmap untouched")
}

func TestRevise_CycleIsRejected(t *testing.T) {
	store := newMemStore()
	seedProject(t, store)
	cyclic := `{
	  "revisedRoadmap": [
	    {"id": "task-1", "title": "Build auth", "objectiveId": "obj-1", "estimate": "L", "priority": "high", "dependsOn": ["task-2"], "status": "modified"},
	    {"id": "task-2", "title": "Build feed", "objectiveId": "obj-2", "estimate": "L", "priority": "medium", "dependsOn": ["task-1"], "status": "unchanged"}
	  ],
	  "changesSummary": {"itemsModified": 1, "itemsAdded": 0, "itemsRemoved": 0, "confidenceScore": 0.5}
	}`
	mock := &testutil.MockCompleter{Steps: []testutil.Step{{Content: cyclic}}}
	svc := newService(t, mock, store)

	_, err := svc.Revise(context.Background(), synthesis.ReviseRequest{
		ProjectID: "p-1", UserID: "user-1", Instruction: "Auth should wait for the feed",
	})
	var cycleErr *roadmap.CircularDependencyError
	assert.ErrorAs(t, err, &cycleErr)
	assert.Equal(t, 1, store.saveCount())
}

func TestRevise_UnchangedTasksKeepStoredEdges(t *testing.T) {
	store := newMemStore()
	seedProject(t, store)
	// The edges quoted on unchanged tasks form a loop, but Apply keeps the
	// stored edges for them, so the applied roadmap is acyclic.
	revision := `{
	  "revisedRoadmap": [
	    {"id": "task-1", "title": "Build auth", "objectiveId": "obj-1", "estimate": "L", "priority": "high", "dependsOn": ["task-2"], "status": "unchanged"},
	    {"id": "task-2", "title": "Build feed", "objectiveId": "obj-2", "estimate": "L", "priority": "medium", "dependsOn": ["task-1"], "status": "unchanged"},
	    {"id": "task-3", "title": "Write docs", "objectiveId": "obj-2", "estimate": "S", "priority": "low", "dependsOn": ["task-2"], "status": "added"}
	  ],
	  "changesSummary": {"itemsModified": 0, "itemsAdded": 1, "itemsRemoved": 0, "confidenceScore": 0.8}
	}`
	mock := &testutil.MockCompleter{Steps: []testutil.Step{{Content: revision}}}
	svc := newService(t, mock, store)

	got, err := svc.Revise(context.Background(), synthesis.ReviseRequest{
		ProjectID: "p-1", UserID: "user-1", Instruction: "Add documentation for the feed",
	})
	require.NoError(t, err)
	assert.Empty(t, got.Roadmap.Task("task-1").DependsOn)
	assert.Equal(t, []string{"task-1"}, got.Roadmap.Task("task-2").DependsOn)
	assert.Equal(t, []string{"task-2"}, got.Roadmap.Task("task-3").DependsOn)
	assert.False(t, roadmap.HasCycle(got.Roadmap.Tasks))
	assert.Equal(t, 2, store.saveCount())
}

func TestClarify(t *testing.T) {
	mock := &testutil.MockCompleter{Steps: []testutil.Step{
		{Content: `{"needsClarification": true, "question": "Which platforms?"}`},
	}}
	svc := newService(t, mock, nil)

	got, err := svc.Clarify(context.Background(), "build an app for stuff")
	require.NoError(t, err)
	assert.True(t, got.NeedsClarification)
	assert.Equal(t, "Which platforms?", got.Question)

	req := mock.Requests()[0]
	assert.Equal(t, "clarifying", req.Capability)
	assert.Equal(t, 256, req.MaxTokens)

	_, err = svc.Clarify(context.Background(), "short")
	var inputErr *synthesis.InputValidationError
	assert.ErrorAs(t, err, &inputErr)
}

func TestDemoCompleter(t *testing.T) {
	store := newMemStore()
	demo := synthesis.DemoCompleter{Now: func() time.Time { return fixedNow }}
	svc := newService(t, demo, store)
	ctx := context.Background()

	generated, err := svc.Generate(ctx, synthesis.GenerateRequest{Text: launchBrainDump, IncludePlanning: true, UserID: "demo"})
	require.NoError(t, err)
	require.NotNil(t, generated.Roadmap.Planning)
	assert.Equal(t, "2026-03-02", generated.Roadmap.Planning.StartDate)
	assert.Equal(t, synthesis.DemoModel, generated.Telemetry.Model)

	revised, err := svc.Revise(ctx, synthesis.ReviseRequest{
		ProjectID: generated.Roadmap.ProjectID, UserID: "demo", Instruction: "Add a review step at the end",
	})
	require.NoError(t, err)
	assert.Len(t, revised.Roadmap.Tasks, len(generated.Roadmap.Tasks)+1)
	last := revised.Roadmap.Tasks[len(revised.Roadmap.Tasks)-1]
	assert.Equal(t, "task-4", last.ID)
	assert.Equal(t, []string{"task-3"}, last.DependsOn)

	clarified, err := svc.Clarify(ctx, launchBrainDump)
	require.NoError(t, err)
	assert.False(t, clarified.NeedsClarification)
}
