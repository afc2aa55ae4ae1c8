package chat

import (
	"context"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/google/uuid"

	"github.com/zhouzirui/webchat/backend/internal/model/chat"
	"github.com/zhouzirui/webchat/backend/internal/service/ai"
	"github.com/zhouzirui/webchat/backend/internal/service/endpoint"
)

const defaultClearDelay = 300 * time.Millisecond

// Resolver picks the canonical base URL for a session.
type Resolver interface {
	Resolve(ctx context.Context, rawURL, apiKey string) (endpoint.Result, error)
}

// Transport provides the model catalog and the streaming chat model.
type Transport interface {
	ListModels(ctx context.Context, baseURL, apiKey string) []chat.ModelInfo
	NewChatModel(baseURL, apiKey string) model.BaseChatModel
}

// Notifier shows user-visible notifications.
type Notifier interface {
	Notify(notice chat.Notice)
}

// Observer renders the session after every mutation. Render is called with the
// session lock held, so implementations must not call back into the session.
type Observer interface {
	Render(snapshot chat.Snapshot)
}

// Options wires the collaborators of a Session.
type Options struct {
	Resolver  Resolver
	Transport Transport
	Prompt    *ai.PromptBuilder
	Notifier  Notifier
	Observer  Observer
	// OnCanonicalURL is invoked asynchronously when the base URL had to be normalized.
	OnCanonicalURL func(canonicalURL string)
	ClearDelay     time.Duration
}

// Session is the controller of one chat view: it owns the conversation and
// turns send/clear/model-switch calls into state transitions.
type Session struct {
	id   string
	cfg  chat.Config
	opts Options

	ctx    context.Context
	cancel context.CancelFunc

	mu           sync.Mutex
	state        chat.State
	revision     uint64
	messages     []chat.Message
	input        string
	model        string
	models       []chat.ModelInfo
	loading      bool
	sending      bool
	canonicalURL string
	initErr      string
	chatModel    model.BaseChatModel
	subscription *ai.Subscription
	clearTimer   *time.Timer
	closed       bool
}

// NewSession creates an uninitialized session. parent only contributes values;
// the session lives until Close is called.
func NewSession(parent context.Context, id string, cfg chat.Config, opts Options) *Session {
	if opts.Prompt == nil {
		opts.Prompt = ai.NewPromptBuilder("")
	}
	if opts.ClearDelay <= 0 {
		opts.ClearDelay = defaultClearDelay
	}

	ctx, cancel := context.WithCancel(context.WithoutCancel(parent))
	return &Session{
		id:     id,
		cfg:    cfg,
		opts:   opts,
		ctx:    ctx,
		cancel: cancel,
		state:  chat.StateUninitialized,
		models: []chat.ModelInfo{},
	}
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// Start runs Initialize in the background.
func (s *Session) Start() {
	go s.Initialize()
}

// Initialize resolves the endpoint, loads the catalog and selects the default
// model. It runs once; resolver failure leaves the session ready without a
// model and is never retried.
func (s *Session) Initialize() {
	s.mu.Lock()
	if s.closed || s.state != chat.StateUninitialized {
		s.mu.Unlock()
		return
	}
	s.state = chat.StateInitializing
	s.loading = true
	s.emitLocked()
	s.mu.Unlock()

	result, err := s.opts.Resolver.Resolve(s.ctx, s.cfg.OllamaURL, s.cfg.APIKey)
	if err != nil {
		log.Printf("[chat] session=%s endpoint resolution failed: %v", s.id, err)

		s.mu.Lock()
		defer s.mu.Unlock()
		if s.closed {
			return
		}
		s.state = chat.StateReady
		s.loading = false
		s.initErr = "cannot connect to the server, check the address"
		s.emitLocked()
		s.notifyLocked(chat.NoticeError, "Cannot connect to the server, please check the address")
		return
	}

	models := s.opts.Transport.ListModels(s.ctx, result.CanonicalURL, s.cfg.APIKey)
	chatModel := s.opts.Transport.NewChatModel(result.CanonicalURL, s.cfg.APIKey)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	s.canonicalURL = result.CanonicalURL
	s.chatModel = chatModel
	s.models = models
	switch {
	case s.cfg.DefaultModel != "":
		s.model = s.cfg.DefaultModel
	case len(models) > 0:
		s.model = models[0].ID
	}
	s.state = chat.StateReady
	s.loading = false
	s.emitLocked()

	if result.Normalized {
		s.notifyLocked(chat.NoticeSuccess, "Added the /v1 suffix to reach the server")
		if s.opts.OnCanonicalURL != nil {
			go s.opts.OnCanonicalURL(result.CanonicalURL)
		}
	}
	if s.model == "" {
		s.notifyLocked(chat.NoticeWarning, "No models available on the server")
	}

	log.Printf("[chat] session=%s ready url=%s model=%q catalog=%d", s.id, s.canonicalURL, s.model, len(models))
}

// Send starts a completion for text. It reports false when the send was not
// started: blank text, session not ready, no model, or a send already in flight.
func (s *Session) Send(text string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sendLocked(text, false)
}

// SendInput sends the input buffer and empties it when the send starts.
func (s *Session) SendInput() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sendLocked(s.input, true)
}

// SetInput replaces the input buffer.
func (s *Session) SetInput(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.input = text
	s.emitLocked()
}

// SetModel selects a model. Switching models with a non-empty conversation
// clears it since context is not shared across models.
func (s *Session) SetModel(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || id == "" || id == s.model {
		return
	}

	s.model = id
	s.emitLocked()

	if len(s.messages) > 0 {
		s.clearLocked()
	}
}

// Clear empties the conversation. While a send is in flight the streaming
// message is detached at once and the clear happens after a short delay; the
// request itself is not cancelled.
func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clearLocked()
}

// Snapshot returns a copy of the current state.
func (s *Session) Snapshot() chat.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Close tears the session down and detaches any active stream.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	s.closed = true
	if s.clearTimer != nil {
		s.clearTimer.Stop()
		s.clearTimer = nil
	}
	if s.subscription != nil {
		s.subscription.Detach()
		s.subscription = nil
	}
	s.cancel()
}

func (s *Session) sendLocked(text string, fromInput bool) bool {
	switch {
	case strings.TrimSpace(text) == "":
		return false
	case s.closed || s.state != chat.StateReady:
		log.Printf("[chat] session=%s send ignored in state %s", s.id, s.state)
		return false
	case s.sending || s.clearTimer != nil:
		log.Printf("[chat] session=%s send ignored: request in flight", s.id)
		return false
	case s.chatModel == nil || s.model == "":
		log.Printf("[chat] session=%s send ignored: no endpoint or model", s.id)
		return false
	}

	now := time.Now().UTC()
	userMsg := chat.Message{ID: newMessageID(), Role: chat.RoleUser, Content: text, CreatedAt: now}
	placeholder := chat.Message{ID: newMessageID(), Role: chat.RoleAssistant, Streaming: true, CreatedAt: now}

	s.messages = append(s.messages, userMsg, placeholder)
	history := cloneMessages(s.messages[:len(s.messages)-1])

	s.sending = true
	s.state = chat.StateSending
	if fromInput {
		s.input = ""
	}
	s.emitLocked()

	go s.stream(placeholder.ID, s.model, history, s.chatModel)
	return true
}

func (s *Session) stream(messageID, modelID string, history []chat.Message, chatModel model.BaseChatModel) {
	input, err := s.opts.Prompt.Build(s.ctx, history)
	if err != nil {
		s.failStream(messageID, err)
		return
	}

	reader, err := chatModel.Stream(s.ctx, input, model.WithModel(modelID))
	if err != nil {
		s.failStream(messageID, err)
		return
	}

	sub := ai.Subscribe(reader, ai.Handlers{
		OnChunk: func(content string) { s.appendChunk(messageID, content) },
		OnDone:  func() { s.finishStream(messageID) },
		OnError: func(err error) { s.failStream(messageID, err) },
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		sub.Detach()
		return
	}
	if idx := s.indexLocked(messageID); idx >= 0 && s.messages[idx].Streaming {
		s.subscription = sub
	}
}

func (s *Session) appendChunk(messageID, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexLocked(messageID)
	if s.closed || idx < 0 || !s.messages[idx].Streaming {
		return
	}
	s.messages[idx].Content += content
	s.emitLocked()
}

func (s *Session) finishStream(messageID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	if idx := s.indexLocked(messageID); idx >= 0 {
		s.messages[idx].Streaming = false
	}
	s.endSendLocked()
	s.emitLocked()
}

func (s *Session) failStream(messageID string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	idx := s.indexLocked(messageID)
	if idx < 0 || !s.messages[idx].Streaming {
		log.Printf("[chat] session=%s stale stream failure for message=%s: %v", s.id, messageID, err)
		s.endSendLocked()
		s.emitLocked()
		return
	}

	log.Printf("[chat] session=%s stream failed for message=%s: %v", s.id, messageID, err)
	s.messages = append(s.messages[:idx], s.messages[idx+1:]...)
	s.endSendLocked()
	s.emitLocked()
	s.notifyLocked(chat.NoticeError, "Failed to send the message, please try again")
}

func (s *Session) endSendLocked() {
	s.sending = false
	s.subscription = nil
	if s.state == chat.StateSending {
		s.state = chat.StateReady
	}
}

func (s *Session) clearLocked() {
	if s.closed {
		return
	}

	if s.sending {
		for i := range s.messages {
			s.messages[i].Streaming = false
		}
		if s.clearTimer == nil {
			s.clearTimer = time.AfterFunc(s.opts.ClearDelay, s.flushClear)
		}
	} else {
		if s.clearTimer != nil {
			s.clearTimer.Stop()
			s.clearTimer = nil
		}
		s.messages = nil
	}

	s.emitLocked()
	s.notifyLocked(chat.NoticeSuccess, "Context cleared")
}

func (s *Session) flushClear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.clearTimer = nil
	if s.closed {
		return
	}
	s.messages = nil
	s.emitLocked()
}

func (s *Session) indexLocked(messageID string) int {
	for i := range s.messages {
		if s.messages[i].ID == messageID {
			return i
		}
	}
	return -1
}

func (s *Session) emitLocked() {
	s.revision++
	if s.opts.Observer != nil {
		s.opts.Observer.Render(s.snapshotLocked())
	}
}

func (s *Session) notifyLocked(level chat.NoticeLevel, message string) {
	log.Printf("[chat] session=%s %s: %s", s.id, level, message)
	if s.opts.Notifier != nil {
		s.opts.Notifier.Notify(chat.Notice{SessionID: s.id, Level: level, Message: message})
	}
}

func (s *Session) snapshotLocked() chat.Snapshot {
	return chat.Snapshot{
		SessionID:    s.id,
		State:        s.state,
		Revision:     s.revision,
		Messages:     cloneMessages(s.messages),
		Input:        s.input,
		Model:        s.model,
		Models:       append([]chat.ModelInfo{}, s.models...),
		Loading:      s.loading,
		Sending:      s.sending,
		CanonicalURL: s.canonicalURL,
		Error:        s.initErr,
	}
}

func cloneMessages(messages []chat.Message) []chat.Message {
	copied := make([]chat.Message, len(messages))
	copy(copied, messages)
	return copied
}

// newMessageID returns a time-ordered identifier.
func newMessageID() string {
	return uuid.Must(uuid.NewV7()).String()
}
