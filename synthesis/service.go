// Package synthesis turns brain dumps into persisted roadmaps.
//
// Service composes the prompt builders, the validated generation loop, the
// dependency cycle detector and a ProjectStore into the three operations the
// API exposes: Generate, Revise and Clarify.
package synthesis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/c360studio/braindump/llm"
	"github.com/c360studio/braindump/model"
	"github.com/c360studio/braindump/prompts"
	"github.com/c360studio/braindump/roadmap"
	"github.com/c360studio/braindump/storage"
)

// Config holds per-operation generation settings.
type Config struct {
	StructuringCapability string `yaml:"structuring_capability"`
	RevisingCapability    string `yaml:"revising_capability"`
	ClarifyingCapability  string `yaml:"clarifying_capability"`

	// ClarifyMaxTokens caps the clarification answer.
	ClarifyMaxTokens int `yaml:"clarify_max_tokens"`

	// MinTextLength applies to revision instructions and clarification input.
	MinTextLength int `yaml:"min_text_length"`

	// DefaultOwner owns roadmaps generated without a user id.
	DefaultOwner string `yaml:"default_owner"`
}

// DefaultConfig returns the standard capabilities, 256 clarification tokens
// and a 10 character minimum.
func DefaultConfig() Config {
	return Config{
		StructuringCapability: string(model.CapabilityStructuring),
		RevisingCapability:    string(model.CapabilityRevising),
		ClarifyingCapability:  string(model.CapabilityClarifying),
		ClarifyMaxTokens:      256,
		MinTextLength:         10,
		DefaultOwner:          "anonymous",
	}
}

// Service is the roadmap synthesis service.
type Service struct {
	gen    *llm.Generator
	store  storage.ProjectStore
	config Config
	logger *slog.Logger
	now    func() time.Time
	newID  func() string
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// WithIDGenerator replaces the project id generator.
func WithIDGenerator(newID func() string) Option {
	return func(s *Service) {
		s.newID = newID
	}
}

// NewService creates a Service. A nil store disables persistence.
func NewService(gen *llm.Generator, store storage.ProjectStore, cfg Config, opts ...Option) *Service {
	defaults := DefaultConfig()
	if cfg.StructuringCapability == "" {
		cfg.StructuringCapability = defaults.StructuringCapability
	}
	if cfg.RevisingCapability == "" {
		cfg.RevisingCapability = defaults.RevisingCapability
	}
	if cfg.ClarifyingCapability == "" {
		cfg.ClarifyingCapability = defaults.ClarifyingCapability
	}
	if cfg.DefaultOwner == "" {
		cfg.DefaultOwner = defaults.DefaultOwner
	}

	s := &Service{
		gen:    gen,
		store:  store,
		config: cfg,
		logger: slog.Default(),
		now:    time.Now,
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GenerateRequest is the input of Generate.
type GenerateRequest struct {
	Text            string
	IncludePlanning bool

	// UserID owns the stored roadmap. Empty uses Config.DefaultOwner.
	UserID string
}

// Generated is a finished roadmap and the cost of producing it.
type Generated struct {
	Roadmap   *roadmap.Roadmap
	Telemetry llm.Telemetry
}

// Generate structures a brain dump into a roadmap, rejects dependency
// cycles, assigns a fresh projectId and persists the result.
func (s *Service) Generate(ctx context.Context, req GenerateRequest) (*Generated, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, invalidInput("text", "must not be empty")
	}
	owner := req.UserID
	if owner == "" {
		owner = s.config.DefaultOwner
	}
	if !storage.ValidOwnerID(owner) {
		return nil, invalidInput("userId", "must match [A-Za-z0-9_-]+")
	}

	schema := prompts.RoadmapSchemaDescription
	if req.IncludePlanning {
		schema += "\n\n" + prompts.PlanningSchemaDescription
	}

	res, err := llm.Run(ctx, s.gen, llm.Job[*roadmap.Roadmap]{
		Capability: s.config.StructuringCapability,
		Prompt:     prompts.Structure(req.Text, req.IncludePlanning),
		Validate:   roadmap.DecodeRoadmap,
		Correct:    prompts.WithSchema(schema),
	})
	if err != nil {
		s.logger.Error("Structure generation failed", "error", err)
		return nil, err
	}

	rm := res.Value
	if !req.IncludePlanning {
		rm.Planning = nil
	}
	rm.Normalize()

	if err := roadmap.CheckCycles(rm.Tasks); err != nil {
		s.logger.Error("Cycle detected in task dependencies", "error", err)
		return nil, err
	}

	rm.ProjectID = s.newID()
	rm.CreatedAt = s.now().UTC()
	rm.BrainDump = req.Text
	rm.RevisionHistory = []roadmap.RevisionEntry{}

	if s.store != nil {
		if err := s.store.Save(ctx, owner, rm); err != nil {
			return nil, fmt.Errorf("save project: %w", err)
		}
	}

	s.logger.Info("Roadmap generated",
		"project_id", rm.ProjectID,
		"objectives", len(rm.Objectives),
		"tasks", len(rm.Tasks),
		"has_planning", rm.Planning != nil,
		"attempts", res.Telemetry.Attempts,
		"duration_ms", res.Telemetry.DurationMs)

	return &Generated{Roadmap: rm, Telemetry: res.Telemetry}, nil
}

// ReviseRequest is the input of Revise. Either ProjectID and UserID address a
// stored roadmap, or Roadmap carries one inline.
type ReviseRequest struct {
	ProjectID   string
	UserID      string
	Roadmap     *roadmap.Roadmap
	Instruction string
}

// Revised is the outcome of Revise.
type Revised struct {
	Revision  *roadmap.Revision
	Roadmap   *roadmap.Roadmap
	Telemetry llm.Telemetry
}

// Revise applies a natural-language instruction to a roadmap. The stored
// variant persists the revised roadmap; the inline variant only returns it.
func (s *Service) Revise(ctx context.Context, req ReviseRequest) (*Revised, error) {
	instruction := strings.TrimSpace(req.Instruction)
	if err := s.checkLength("instruction", instruction); err != nil {
		return nil, err
	}

	current, persist, err := s.loadForRevision(ctx, req)
	if err != nil {
		return nil, err
	}

	currentJSON, err := json.Marshal(revisionView(current))
	if err != nil {
		return nil, fmt.Errorf("marshal roadmap: %w", err)
	}

	res, err := llm.Run(ctx, s.gen, llm.Job[*roadmap.Revision]{
		Capability: s.config.RevisingCapability,
		Prompt:     prompts.Revise(string(currentJSON), instruction),
		Validate:   roadmap.RevisionValidator(current),
		Correct:    prompts.WithSchema(prompts.RevisionSchemaDescription),
	})
	if err != nil {
		s.logger.Error("Revision generation failed", "project_id", current.ProjectID, "error", err)
		return nil, err
	}

	rev := res.Value
	updated, err := roadmap.Apply(current, rev, instruction, s.now())
	if err != nil {
		s.logger.Error("Revision could not be applied", "project_id", current.ProjectID, "error", err)
		return nil, err
	}
	// Unchanged tasks keep their stored edges, so only the applied graph counts.
	if err := roadmap.CheckCycles(updated.Tasks); err != nil {
		s.logger.Error("Cycle detected in revised dependencies", "project_id", current.ProjectID, "error", err)
		return nil, err
	}

	if persist && s.store != nil {
		if err := s.store.Save(ctx, req.UserID, updated); err != nil {
			return nil, fmt.Errorf("save project: %w", err)
		}
	}

	s.logger.Info("Roadmap revised",
		"project_id", updated.ProjectID,
		"modified", rev.ChangesSummary.ItemsModified,
		"added", rev.ChangesSummary.ItemsAdded,
		"removed", rev.ChangesSummary.ItemsRemoved,
		"persisted", persist && s.store != nil,
		"attempts", res.Telemetry.Attempts)

	return &Revised{Revision: rev, Roadmap: updated, Telemetry: res.Telemetry}, nil
}

func (s *Service) loadForRevision(ctx context.Context, req ReviseRequest) (*roadmap.Roadmap, bool, error) {
	if req.Roadmap != nil {
		if err := roadmap.Validate(req.Roadmap); err != nil {
			return nil, false, invalidInput("roadmap", "%v", err)
		}
		return req.Roadmap, false, nil
	}

	projectID, err := storage.SanitizeProjectID(req.ProjectID)
	if err != nil {
		return nil, false, invalidInput("projectId", "must match [A-Za-z0-9_-]+")
	}
	if req.UserID == "" {
		return nil, false, invalidInput("userId", "required")
	}
	if s.store == nil {
		return nil, false, errors.New("project storage is not configured")
	}

	current, err := s.store.GetForUser(ctx, projectID, req.UserID)
	if err != nil {
		return nil, false, err
	}
	return current, true, nil
}

// revisionView is the part of a roadmap the model needs to revise it.
func revisionView(rm *roadmap.Roadmap) any {
	return struct {
		Title      string              `json:"title"`
		Objectives []roadmap.Objective `json:"objectives"`
		Tasks      []roadmap.Task      `json:"tasks"`
	}{rm.Title, rm.Objectives, rm.Tasks}
}

// Clarify asks whether a brain dump is too ambiguous to structure, and if so
// for the single most important follow-up question.
func (s *Service) Clarify(ctx context.Context, brainDump string) (*roadmap.Clarification, error) {
	if err := s.checkLength("brainDump", strings.TrimSpace(brainDump)); err != nil {
		return nil, err
	}

	res, err := llm.Run(ctx, s.gen, llm.Job[*roadmap.Clarification]{
		Capability: s.config.ClarifyingCapability,
		Prompt:     prompts.Clarify(brainDump),
		Validate:   roadmap.DecodeClarification,
		Correct:    prompts.WithSchema(prompts.ClarificationSchemaDescription),
		MaxTokens:  s.config.ClarifyMaxTokens,
	})
	if err != nil {
		s.logger.Error("Clarification failed", "error", err)
		return nil, err
	}

	s.logger.Debug("Clarification answered", "needs_clarification", res.Value.NeedsClarification)
	return res.Value, nil
}

func (s *Service) checkLength(field, value string) error {
	if value == "" {
		return invalidInput(field, "must not be empty")
	}
	if n := utf8.RuneCountInString(value); n < s.config.MinTextLength {
		return invalidInput(field, "must be at least %d characters, got %d", s.config.MinTextLength, n)
	}
	return nil
}

// Store returns the configured project store, or nil.
func (s *Service) Store() storage.ProjectStore {
	return s.store
}
