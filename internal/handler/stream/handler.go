package stream

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	chatService "github.com/zhouzirui/webchat/backend/internal/service/chat"
	"github.com/zhouzirui/webchat/backend/pkg/utils"
)

const (
	feedBuffer        = 64
	heartbeatInterval = 15 * time.Second
)

// Feeds opens render feeds for chat sessions.
type Feeds interface {
	Subscribe(ctx context.Context, sessionID string, buffer int) (<-chan chatService.Event, func(), error)
}

// Handler pushes session snapshots and notices via Server-Sent Events
type Handler struct {
	feeds Feeds
}

// New creates a new stream handler
func New(feeds Feeds) *Handler {
	return &Handler{feeds: feeds}
}

// RegisterRoutes 注册SSE路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/sessions/{sessionID}/events", h.handleEvents)
}

func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	events, cancel, err := h.feeds.Subscribe(r.Context(), sessionID, feedBuffer)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, chatService.ErrSessionNotFound) {
			status = http.StatusNotFound
		}
		utils.RespondError(w, status, err.Error())
		return
	}
	defer cancel()

	utils.SetupSSEHeaders(w)
	utils.SendSSEChunk(w, flusher, map[string]any{
		"event":     "status",
		"sessionId": sessionID,
		"message":   "stream established",
	})
	log.Printf("[stream] opening feed for session=%s", sessionID)

	if err := h.pump(r.Context(), w, flusher, events); err != nil {
		log.Printf("[stream] feed for session=%s ended: %v", sessionID, err)
		return
	}
	log.Printf("[stream] closing feed for session=%s", sessionID)
}

// pump forwards events until the client leaves or the session is deleted.
func (h *Handler) pump(ctx context.Context, w http.ResponseWriter, flusher http.Flusher, events <-chan chatService.Event) error {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				utils.SendSSEEvent(w, flusher, "closed", map[string]string{"message": "session closed"})
				return nil
			}
			utils.SendSSEEvent(w, flusher, string(ev.Type), eventPayload(ev))
		case t := <-ticker.C:
			utils.SendSSEEvent(w, flusher, "heartbeat", map[string]string{
				"time": t.UTC().Format(time.RFC3339),
			})
		}
	}
}

func eventPayload(ev chatService.Event) any {
	if ev.Type == chatService.EventNotice {
		return ev.Notice
	}
	return ev.Snapshot
}
