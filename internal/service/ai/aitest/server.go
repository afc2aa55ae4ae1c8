// Package aitest provides a fake OpenAI-compatible server for tests.
package aitest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/sashabaranov/go-openai"
)

// Config describes how the fake server behaves.
type Config struct {
	// Prefix is the path the API is mounted under, e.g. "/v1".
	Prefix string
	// Models are the ids returned by GET {prefix}/models.
	Models []string
	// ModelsBody overrides the catalog response body when set.
	ModelsBody string
	// Reply holds the streamed delta chunks of every completion.
	Reply []string
	// FailChat makes the completion endpoint answer 500.
	FailChat bool
}

// Server is a running fake completion server.
type Server struct {
	*httptest.Server

	cfg Config

	mu        sync.Mutex
	requests  []openai.ChatCompletionRequest
	paths     []string
	authHeads []string
}

// NewServer starts a fake server and closes it when the test ends.
func NewServer(t testing.TB, cfg Config) *Server {
	t.Helper()

	s := &Server{cfg: cfg}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(s.Close)
	return s
}

// Requests returns the chat completion requests received so far.
func (s *Server) Requests() []openai.ChatCompletionRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]openai.ChatCompletionRequest(nil), s.requests...)
}

// Paths returns every requested path in arrival order.
func (s *Server) Paths() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.paths...)
}

// Authorizations returns the Authorization headers in arrival order.
func (s *Server) Authorizations() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.authHeads...)
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.paths = append(s.paths, r.URL.Path)
	s.authHeads = append(s.authHeads, r.Header.Get("Authorization"))
	s.mu.Unlock()

	switch {
	case r.Method == http.MethodGet && r.URL.Path == s.cfg.Prefix+"/models":
		s.handleModels(w)
	case r.Method == http.MethodPost && r.URL.Path == s.cfg.Prefix+"/chat/completions":
		s.handleCompletion(w, r)
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

func (s *Server) handleModels(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	if s.cfg.ModelsBody != "" {
		fmt.Fprint(w, s.cfg.ModelsBody)
		return
	}

	data := make([]map[string]any, 0, len(s.cfg.Models))
	for _, id := range s.cfg.Models {
		data = append(data, map[string]any{"id": id, "object": "model", "created": 0, "owned_by": "aitest"})
	}
	json.NewEncoder(w).Encode(map[string]any{"object": "list", "data": data})
}

func (s *Server) handleCompletion(w http.ResponseWriter, r *http.Request) {
	var req openai.ChatCompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	s.mu.Lock()
	s.requests = append(s.requests, req)
	s.mu.Unlock()

	if s.cfg.FailChat {
		writeError(w, http.StatusInternalServerError, "model crashed")
		return
	}

	if !req.Stream {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"id":     "chatcmpl-test",
			"object": "chat.completion",
			"model":  req.Model,
			"choices": []map[string]any{{
				"index":         0,
				"message":       map[string]string{"role": "assistant", "content": strings.Join(s.cfg.Reply, "")},
				"finish_reason": "stop",
			}},
		})
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	flusher, _ := w.(http.Flusher)
	for _, chunk := range s.cfg.Reply {
		payload, _ := json.Marshal(map[string]any{
			"id":     "chatcmpl-test",
			"object": "chat.completion.chunk",
			"model":  req.Model,
			"choices": []map[string]any{{
				"index": 0,
				"delta": map[string]string{"content": chunk},
			}},
		})
		fmt.Fprintf(w, "data: %s\n\n", payload)
		if flusher != nil {
			flusher.Flush()
		}
	}
	fmt.Fprint(w, "data: [DONE]\n\n")
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{"message": message, "type": "aitest_error"},
	})
}
