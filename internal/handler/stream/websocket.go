package stream

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	chatService "github.com/zhouzirui/webchat/backend/internal/service/chat"
)

const (
	readTimeout  = 60 * time.Second
	pingInterval = 54 * time.Second
	writeTimeout = 10 * time.Second
)

// Sessions resolves sessions and their feeds for the WebSocket handler.
type Sessions interface {
	Feeds
	GetSession(ctx context.Context, sessionID string) (*chatService.Session, error)
}

// WebSocketHandler WebSocket会话处理器：推送渲染事件并接收指令
type WebSocketHandler struct {
	sessions Sessions
	upgrader websocket.Upgrader
}

// NewWebSocketHandler 创建WebSocket处理器
func NewWebSocketHandler(sessions Sessions) *WebSocketHandler {
	return &WebSocketHandler{
		sessions: sessions,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes 注册WebSocket路由
func (h *WebSocketHandler) RegisterRoutes(r chi.Router) {
	r.Get("/sessions/{sessionID}/ws", h.handleWebSocket)
}

// Command is one inbound instruction from the browser.
type Command struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type outgoingMessage struct {
	Type      string      `json:"type"`
	SessionID string      `json:"sessionId,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

func (h *WebSocketHandler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	session, err := h.sessions.GetSession(r.Context(), sessionID)
	if err != nil {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}

	events, cancelFeed, err := h.sessions.Subscribe(r.Context(), sessionID, feedBuffer)
	if err != nil {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}
	defer cancelFeed()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[websocket] upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	log.Printf("[websocket] new connection for session: %s", sessionID)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	replies := make(chan outgoingMessage, 8)
	go h.writeLoop(ctx, cancel, conn, sessionID, events, replies)

	conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})

	for {
		var cmd Command
		if err := conn.ReadJSON(&cmd); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[websocket] read error: %v", err)
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(readTimeout))

		reply := h.applyCommand(session, cmd)
		select {
		case replies <- reply:
		case <-ctx.Done():
			return
		}
	}
}

// applyCommand runs one command against the session and builds the reply.
func (h *WebSocketHandler) applyCommand(session *chatService.Session, cmd Command) outgoingMessage {
	var payload struct {
		Text  string `json:"text"`
		Model string `json:"model"`
	}
	if len(cmd.Data) > 0 {
		if err := json.Unmarshal(cmd.Data, &payload); err != nil {
			return errorMessage("invalid command data")
		}
	}

	switch cmd.Type {
	case "send":
		var accepted bool
		if payload.Text == "" {
			accepted = session.SendInput()
		} else {
			accepted = session.Send(payload.Text)
		}
		return ackMessage(cmd.Type, accepted)
	case "input":
		session.SetInput(payload.Text)
		return ackMessage(cmd.Type, true)
	case "model":
		if payload.Model == "" {
			return errorMessage("model is required")
		}
		session.SetModel(payload.Model)
		return ackMessage(cmd.Type, true)
	case "clear":
		session.Clear()
		return ackMessage(cmd.Type, true)
	default:
		return errorMessage("unknown command type: " + cmd.Type)
	}
}

// writeLoop owns every write on conn: feed events, command replies and pings.
func (h *WebSocketHandler) writeLoop(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, sessionID string, events <-chan chatService.Event, replies <-chan outgoingMessage) {
	defer cancel()
	defer conn.Close()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		var err error
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				h.closeConn(conn, "session closed")
				return
			}
			err = h.write(conn, outgoingMessage{
				Type:      string(ev.Type),
				SessionID: sessionID,
				Data:      eventPayload(ev),
				Timestamp: time.Now().Unix(),
			})
		case reply := <-replies:
			reply.SessionID = sessionID
			err = h.write(conn, reply)
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			err = conn.WriteMessage(websocket.PingMessage, nil)
		}
		if err != nil {
			if !errors.Is(err, websocket.ErrCloseSent) {
				log.Printf("[websocket] write failed for session=%s: %v", sessionID, err)
			}
			return
		}
	}
}

func (h *WebSocketHandler) write(conn *websocket.Conn, msg outgoingMessage) error {
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteJSON(msg)
}

func (h *WebSocketHandler) closeConn(conn *websocket.Conn, reason string) {
	deadline := time.Now().Add(writeTimeout)
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
	if err := conn.WriteControl(websocket.CloseMessage, msg, deadline); err != nil {
		log.Printf("[websocket] close failed: %v", err)
	}
}

func ackMessage(command string, accepted bool) outgoingMessage {
	return outgoingMessage{
		Type:      "ack",
		Data:      map[string]any{"command": command, "accepted": accepted},
		Timestamp: time.Now().Unix(),
	}
}

func errorMessage(message string) outgoingMessage {
	return outgoingMessage{
		Type:      "error",
		Data:      map[string]string{"message": message},
		Timestamp: time.Now().Unix(),
	}
}
