package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
)

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature *float64      `json:"temperature,omitempty"`
	MaxTokens   *int          `json:"max_tokens,omitempty"`
}

type chatChoice struct {
	Index        int         `json:"index"`
	Message      chatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

type chatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type chatResponse struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"`
	Created int64        `json:"created"`
	Model   string       `json:"model"`
	Choices []chatChoice `json:"choices"`
	Usage   chatUsage    `json:"usage"`
}

// recordedCall is one served request, kept for assertions.
type recordedCall struct {
	Model     string        `json:"model"`
	Fixture   string        `json:"fixture"`
	Call      int           `json:"call"`
	Messages  []chatMessage `json:"messages"`
	Timestamp time.Time     `json:"timestamp"`
}

type server struct {
	fixtures fixtureSet
	logger   *slog.Logger

	mu    sync.Mutex
	calls map[string][]recordedCall // by requested model
	total int
}

func newServer(fixtures fixtureSet, logger *slog.Logger) *server {
	if logger == nil {
		logger = slog.Default()
	}
	return &server{
		fixtures: fixtures,
		logger:   logger,
		calls:    make(map[string][]recordedCall),
	}
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	// Providers append /chat/completions to whatever base URL they are given.
	mux.HandleFunc("/v1/chat/completions", s.handleChatCompletions)
	mux.HandleFunc("/chat/completions", s.handleChatCompletions)
	mux.HandleFunc("/v1/models", s.handleModels)
	mux.HandleFunc("/stats", s.handleStats)
	mux.HandleFunc("/requests", s.handleRequests)
	return mux
}

func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return
	}

	fixture, seq, ok := s.fixtures.lookup(req.Model)
	if !ok {
		s.logger.Warn("No fixture for model", "model", req.Model)
		http.Error(w, fmt.Sprintf("no fixture for model %q", req.Model), http.StatusNotFound)
		return
	}

	call := s.record(req, fixture)
	content := seq[min(call, len(seq))-1]
	s.logger.Debug("Serving fixture", "model", req.Model, "fixture", fixture, "call", call, "bytes", len(content))

	writeJSON(w, http.StatusOK, chatResponse{
		ID:      "mock-" + uuid.NewString(),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   req.Model,
		Choices: []chatChoice{{
			Message:      chatMessage{Role: "assistant", Content: content},
			FinishReason: "stop",
		}},
		Usage: estimateUsage(req.Messages, content),
	})
}

// record stores the call and returns its 1-based index for the model.
func (s *server) record(req chatRequest, fixture string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.total++
	call := len(s.calls[req.Model]) + 1
	s.calls[req.Model] = append(s.calls[req.Model], recordedCall{
		Model:     req.Model,
		Fixture:   fixture,
		Call:      call,
		Messages:  req.Messages,
		Timestamp: time.Now(),
	})
	return call
}

// estimateUsage counts roughly four characters per token.
func estimateUsage(messages []chatMessage, content string) chatUsage {
	prompt := 0
	for _, m := range messages {
		prompt += len(m.Content) / 4
	}
	completion := len(content) / 4
	return chatUsage{PromptTokens: prompt, CompletionTokens: completion, TotalTokens: prompt + completion}
}

func (s *server) handleModels(w http.ResponseWriter, _ *http.Request) {
	type entry struct {
		ID      string `json:"id"`
		Object  string `json:"object"`
		OwnedBy string `json:"owned_by"`
	}
	data := []entry{}
	for _, name := range s.fixtures.models() {
		data = append(data, entry{ID: name, Object: "model", OwnedBy: "mock-llm"})
	}
	writeJSON(w, http.StatusOK, map[string]any{"object": "list", "data": data})
}

func (s *server) handleStats(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	byModel := make(map[string]int, len(s.calls))
	for name, calls := range s.calls {
		byModel[name] = len(calls)
	}
	total := s.total
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{"total_calls": total, "calls_by_model": byModel})
}

// handleRequests lists recorded calls, optionally filtered by ?model= and ?call=.
func (s *server) handleRequests(w http.ResponseWriter, r *http.Request) {
	model := r.URL.Query().Get("model")
	call := 0
	if v := r.URL.Query().Get("call"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			http.Error(w, "call must be a positive integer", http.StatusBadRequest)
			return
		}
		call = n
	}

	s.mu.Lock()
	out := make(map[string][]recordedCall)
	for name, calls := range s.calls {
		if model != "" && name != model {
			continue
		}
		for _, c := range calls {
			if call == 0 || c.Call == call {
				out[name] = append(out[name], c)
			}
		}
	}
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{"requests_by_model": out})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
