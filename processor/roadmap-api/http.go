package roadmapapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/c360studio/braindump/llm"
	"github.com/c360studio/braindump/metrics"
	"github.com/c360studio/braindump/roadmap"
	"github.com/c360studio/braindump/storage"
	"github.com/c360studio/braindump/synthesis"
)

// maxRequestBodySize limits POST body sizes to prevent DoS.
const maxRequestBodySize = 1 << 20 // 1 MB

// Error codes carried in the "error" field of error bodies.
const (
	codeInvalidInput       = "invalid_input"
	codePayloadTooLarge    = "payload_too_large"
	codeForbidden          = "forbidden"
	codeNotFound           = "not_found"
	codeCircularDependency = "circular_dependency"
	codeValidationFailed   = "validation_failed"
	codeInvalidModelOutput = "invalid_model_output"
	codeUnavailable        = "unavailable"
	codeInternal           = "internal_error"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// RegisterHTTPHandlers registers all roadmap-api HTTP handlers under the given prefix.
// An empty prefix mounts them at the root. Handlers are registered as:
//
//	POST <prefix>/structure
//	POST <prefix>/revise
//	POST <prefix>/clarify
//	GET  <prefix>/project/{id}?userId=
//	GET  <prefix>/templates
//	GET  <prefix>/templates/{slug}
//	GET  <prefix>/health
//	GET  <prefix>/metrics
//	GET  <prefix>/ws/transcribe
func (c *Component) RegisterHTTPHandlers(prefix string, mux *http.ServeMux) {
	// Normalise: ensure leading slash and trailing slash.
	if !strings.HasPrefix(prefix, "/") {
		prefix = "/" + prefix
	}
	if !strings.HasSuffix(prefix, "/") {
		prefix = prefix + "/"
	}

	c.handle(mux, prefix, "structure", c.handleStructure)
	c.handle(mux, prefix, "revise", c.handleRevise)
	c.handle(mux, prefix, "clarify", c.handleClarify)
	c.handle(mux, prefix, "project/", c.handleProject)
	c.handle(mux, prefix, "templates", c.handleTemplates)
	c.handle(mux, prefix, "templates/", c.handleTemplate)
	c.handle(mux, prefix, "ws/transcribe", c.handleTranscribe)

	mux.HandleFunc(prefix+"health", c.handleHealth)
	if c.deps.Gatherer != nil {
		mux.Handle(prefix+"metrics", metrics.Handler(c.deps.Gatherer))
	}
}

// Handler returns a mux with every route mounted at the root.
func (c *Component) Handler() http.Handler {
	mux := http.NewServeMux()
	c.RegisterHTTPHandlers("", mux)
	return mux
}

// handle mounts h behind the running check and the HTTP collectors.
func (c *Component) handle(mux *http.ServeMux, prefix, route string, h http.HandlerFunc) {
	var handler http.Handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if c.state.Load() != stateRunning {
			writeError(w, http.StatusServiceUnavailable, codeUnavailable, "Service is not running", nil)
			return
		}
		h(w, r)
	})
	if c.deps.Metrics != nil {
		handler = c.deps.Metrics.Instrument("/"+strings.TrimSuffix(route, "/"), handler)
	}
	mux.Handle(prefix+route, handler)
}

// ----------------------------------------------------------------------------
// POST /structure
// ----------------------------------------------------------------------------

type structureRequest struct {
	Text            string `json:"text"`
	IncludePlanning bool   `json:"includePlanning"`
	UserID          string `json:"userId"`
}

func (c *Component) handleStructure(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req structureRequest
	if !c.decodeJSON(w, r, &req) {
		return
	}

	res, err := c.deps.Service.Generate(r.Context(), synthesis.GenerateRequest{
		Text:            req.Text,
		IncludePlanning: req.IncludePlanning,
		UserID:          req.UserID,
	})
	if err != nil {
		c.writeServiceError(w, "structure", err, "Failed to generate roadmap")
		return
	}
	writeJSON(w, http.StatusOK, res.Roadmap)
}

// ----------------------------------------------------------------------------
// POST /revise
// ----------------------------------------------------------------------------

// reviseRequest also accepts roadmapId and revisionInstructions as aliases.
type reviseRequest struct {
	ProjectID            string           `json:"projectId"`
	RoadmapID            string           `json:"roadmapId"`
	Instruction          string           `json:"instruction"`
	RevisionInstructions string           `json:"revisionInstructions"`
	UserID               string           `json:"userId"`
	Roadmap              *roadmap.Roadmap `json:"roadmap"`
}

type reviseResponse struct {
	RevisedRoadmap []roadmap.RevisedTask   `json:"revisedRoadmap"`
	ChangesSummary *roadmap.ChangesSummary `json:"changesSummary"`
	Roadmap        *roadmap.Roadmap        `json:"roadmap"`
}

func (c *Component) handleRevise(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req reviseRequest
	if !c.decodeJSON(w, r, &req) {
		return
	}
	projectID := firstNonEmpty(req.ProjectID, req.RoadmapID)
	instruction := firstNonEmpty(req.Instruction, req.RevisionInstructions)

	res, err := c.deps.Service.Revise(r.Context(), synthesis.ReviseRequest{
		ProjectID:   projectID,
		UserID:      req.UserID,
		Roadmap:     req.Roadmap,
		Instruction: instruction,
	})
	if err != nil {
		c.writeServiceError(w, "revise", err, "Failed to revise roadmap")
		return
	}
	writeJSON(w, http.StatusOK, reviseResponse{
		RevisedRoadmap: res.Revision.RevisedRoadmap,
		ChangesSummary: res.Revision.ChangesSummary,
		Roadmap:        res.Roadmap,
	})
}

// ----------------------------------------------------------------------------
// POST /clarify
// ----------------------------------------------------------------------------

type clarifyRequest struct {
	BrainDump string `json:"brainDump"`
}

func (c *Component) handleClarify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req clarifyRequest
	if !c.decodeJSON(w, r, &req) {
		return
	}

	res, err := c.deps.Service.Clarify(r.Context(), req.BrainDump)
	if err != nil {
		c.writeServiceError(w, "clarify", err, "Failed to check clarification")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ----------------------------------------------------------------------------
// GET /project/{id}?userId=
// ----------------------------------------------------------------------------

func (c *Component) handleProject(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	store := c.deps.Service.Store()
	if store == nil {
		writeError(w, http.StatusServiceUnavailable, codeUnavailable, "Project storage is not configured", nil)
		return
	}

	projectID, err := storage.SanitizeProjectID(lastSegment(r.URL.Path, "project"))
	if err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidInput, "Invalid project id", nil)
		return
	}
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		writeError(w, http.StatusBadRequest, codeInvalidInput, "userId is required", nil)
		return
	}

	rm, err := store.GetForUser(r.Context(), projectID, userID)
	if err != nil {
		c.writeServiceError(w, "project", err, "Failed to load project")
		return
	}
	writeJSON(w, http.StatusOK, rm)
}

// ----------------------------------------------------------------------------
// GET /templates, GET /templates/{slug}
// ----------------------------------------------------------------------------

func (c *Component) handleTemplates(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	catalog, err := c.deps.Templates.Get(r.Context())
	if err != nil {
		c.logger.Error("Failed to load templates", "error", err)
		writeError(w, http.StatusInternalServerError, codeInternal, "Failed to load templates", nil)
		return
	}
	writeJSON(w, http.StatusOK, catalog.Summaries())
}

func (c *Component) handleTemplate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	slug := lastSegment(r.URL.Path, "templates")
	if slug == "" {
		c.handleTemplates(w, r)
		return
	}

	catalog, err := c.deps.Templates.Get(r.Context())
	if err != nil {
		c.logger.Error("Failed to load templates", "error", err)
		writeError(w, http.StatusInternalServerError, codeInternal, "Failed to load templates", nil)
		return
	}
	tmpl, err := catalog.Get(slug)
	if err != nil {
		writeError(w, http.StatusNotFound, codeNotFound, "Template not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, tmpl)
}

// ----------------------------------------------------------------------------
// GET /health
// ----------------------------------------------------------------------------

type healthResponse struct {
	Status         string    `json:"status"`
	Version        string    `json:"version"`
	Uptime         int64     `json:"uptime"`
	Timestamp      time.Time `json:"timestamp"`
	Storage        string    `json:"storage"`
	ActiveSessions int64     `json:"activeSessions"`
}

func (c *Component) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	health := c.Health()
	resp := healthResponse{
		Status:         "ok",
		Version:        c.config.Version,
		Uptime:         int64(health.Uptime.Seconds()),
		Timestamp:      health.LastCheck.UTC(),
		Storage:        c.storageBackend(),
		ActiveSessions: c.active.Load(),
	}
	status := http.StatusOK
	if !health.Healthy {
		resp.Status = health.Status
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

// ----------------------------------------------------------------------------
// Helpers
// ----------------------------------------------------------------------------

// decodeJSON reads a size-limited JSON body into dst, answering 400 or 413 on failure.
func (c *Component) decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, c.config.MaxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, codePayloadTooLarge, "Request body too large", nil)
			return false
		}
		writeError(w, http.StatusBadRequest, codeInvalidInput, "Invalid request body", nil)
		return false
	}
	return true
}

// writeServiceError maps a synthesis or storage failure onto an HTTP status.
func (c *Component) writeServiceError(w http.ResponseWriter, op string, err error, fallback string) {
	var (
		inputErr  *synthesis.InputValidationError
		cycleErr  *roadmap.CircularDependencyError
		schemaErr *roadmap.SchemaValidationError
		exhausted *llm.ValidationExhaustedError
	)

	switch {
	case errors.As(err, &inputErr):
		writeError(w, http.StatusBadRequest, codeInvalidInput, inputErr.Error(), nil)
	case errors.Is(err, storage.ErrInvalidProjectID), errors.Is(err, storage.ErrInvalidOwnerID):
		writeError(w, http.StatusBadRequest, codeInvalidInput, err.Error(), nil)
	case errors.Is(err, storage.ErrForbidden):
		writeError(w, http.StatusForbidden, codeForbidden, "Project belongs to another user", nil)
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, codeNotFound, "Project not found", nil)
	case errors.As(err, &cycleErr):
		c.logger.Warn("Rejected roadmap with dependency cycle", "op", op, "cycle", cycleErr.Cycle)
		writeError(w, http.StatusUnprocessableEntity, codeCircularDependency,
			"Circular task dependencies detected", cycleErr.Cycle)
	case errors.As(err, &exhausted):
		c.logger.Warn("Model output failed validation", "op", op, "attempts", exhausted.Attempts, "error", exhausted.LastErr)
		var details any
		if errors.As(exhausted.LastErr, &schemaErr) {
			details = schemaErr.Issues
		}
		writeError(w, http.StatusUnprocessableEntity, codeValidationFailed,
			"AI output failed validation after retries", details)
	case errors.As(err, &schemaErr):
		writeError(w, http.StatusUnprocessableEntity, codeValidationFailed, "AI output failed validation", schemaErr.Issues)
	case llm.IsParseError(err):
		c.logger.Warn("Model returned invalid JSON", "op", op, "error", err)
		writeError(w, http.StatusBadGateway, codeInvalidModelOutput, "AI returned invalid JSON", nil)
	default:
		c.logger.Error("Request failed", "op", op, "error", err)
		writeError(w, http.StatusInternalServerError, codeInternal, fallback, nil)
	}
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	writeJSON(w, status, ErrorResponse{Error: code, Message: message, Details: details})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// lastSegment returns the path segment following marker, e.g. the id in /project/{id}.
func lastSegment(path, marker string) string {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	for i, p := range parts {
		if p == marker && i+1 < len(parts) {
			return parts[i+1]
		}
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
