package chat

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/zhouzirui/webchat/backend/internal/config"
	"github.com/zhouzirui/webchat/backend/internal/model/chat"
	"github.com/zhouzirui/webchat/backend/internal/service/ai"
)

var (
	ErrBaseURLRequired = errors.New("ollama url is required")
	ErrSessionNotFound = errors.New("session not found")
)

type entry struct {
	session     *Session
	broadcaster *Broadcaster
}

// Service keeps the live chat sessions of this process.
type Service struct {
	resolver  Resolver
	transport Transport
	prompt    *ai.PromptBuilder
	defaults  config.SessionConfig

	mu       sync.RWMutex
	sessions map[string]entry
}

// NewService creates the in-memory session registry.
func NewService(resolver Resolver, transport Transport, prompt *ai.PromptBuilder, defaults config.SessionConfig) *Service {
	return &Service{
		resolver:  resolver,
		transport: transport,
		prompt:    prompt,
		defaults:  defaults,
		sessions:  make(map[string]entry),
	}
}

// CreateSession provisions a session and starts its initialization in the
// background. Empty fields of cfg fall back to the server defaults.
func (s *Service) CreateSession(ctx context.Context, cfg chat.Config) (chat.Snapshot, error) {
	cfg = s.applyDefaults(cfg)
	if cfg.OllamaURL == "" {
		return chat.Snapshot{}, ErrBaseURLRequired
	}

	id := uuid.NewString()
	broadcaster := NewBroadcaster()
	session := NewSession(ctx, id, cfg, Options{
		Resolver:  s.resolver,
		Transport: s.transport,
		Prompt:    s.prompt,
		Notifier:  broadcaster,
		Observer:  broadcaster,
		OnCanonicalURL: func(canonicalURL string) {
			log.Printf("[chat] session=%s base url normalized to %s", id, canonicalURL)
		},
		ClearDelay: s.defaults.ClearDelay,
	})

	s.mu.Lock()
	s.sessions[id] = entry{session: session, broadcaster: broadcaster}
	s.mu.Unlock()

	session.Start()
	return session.Snapshot(), nil
}

// GetSession retrieves a session by identifier.
func (s *Service) GetSession(_ context.Context, sessionID string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return e.session, nil
}

// Subscribe opens a render feed for the session.
func (s *Service) Subscribe(_ context.Context, sessionID string, buffer int) (<-chan Event, func(), error) {
	s.mu.RLock()
	e, ok := s.sessions[sessionID]
	s.mu.RUnlock()
	if !ok {
		return nil, nil, ErrSessionNotFound
	}

	events, cancel := e.broadcaster.Subscribe(buffer)
	return events, cancel, nil
}

// DeleteSession closes the session and its feeds.
func (s *Service) DeleteSession(_ context.Context, sessionID string) error {
	s.mu.Lock()
	e, ok := s.sessions[sessionID]
	delete(s.sessions, sessionID)
	s.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}

	e.session.Close()
	e.broadcaster.Close()
	return nil
}

// Close shuts every session down.
func (s *Service) Close() {
	s.mu.Lock()
	sessions := s.sessions
	s.sessions = make(map[string]entry)
	s.mu.Unlock()

	for _, e := range sessions {
		e.session.Close()
		e.broadcaster.Close()
	}
}

func (s *Service) applyDefaults(cfg chat.Config) chat.Config {
	cfg.OllamaURL = strings.TrimSpace(cfg.OllamaURL)
	cfg.DefaultModel = strings.TrimSpace(cfg.DefaultModel)

	if cfg.OllamaURL == "" {
		cfg.OllamaURL = s.defaults.BaseURL
		if cfg.APIKey == "" {
			cfg.APIKey = s.defaults.APIKey
		}
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = s.defaults.DefaultModel
	}
	return cfg
}
