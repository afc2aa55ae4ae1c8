package chat

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/webchat/backend/internal/model/chat"
	chatService "github.com/zhouzirui/webchat/backend/internal/service/chat"
	"github.com/zhouzirui/webchat/backend/pkg/utils"
)

// Handler 聊天会话的HTTP处理器
type Handler struct {
	chatSvc *chatService.Service
}

// New 创建聊天处理器
func New(chatSvc *chatService.Service) *Handler {
	return &Handler{chatSvc: chatSvc}
}

// RegisterRoutes 注册聊天相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/sessions", h.handleCreateSession)
	r.Get("/sessions/{sessionID}", h.handleGetSession)
	r.Delete("/sessions/{sessionID}", h.handleDeleteSession)
	r.Post("/sessions/{sessionID}/messages", h.handleSend)
	r.Delete("/sessions/{sessionID}/messages", h.handleClear)
	r.Put("/sessions/{sessionID}/input", h.handleSetInput)
	r.Put("/sessions/{sessionID}/model", h.handleSetModel)
}

// handleCreateSession 创建会话并开始初始化
func (h *Handler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var payload chat.Config
	if err := decodeBody(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	snapshot, err := h.chatSvc.CreateSession(r.Context(), payload)
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	utils.RespondJSON(w, http.StatusCreated, snapshot)
}

func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	session, ok := h.lookup(w, r)
	if !ok {
		return
	}
	utils.RespondJSON(w, http.StatusOK, session.Snapshot())
}

func (h *Handler) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := h.chatSvc.DeleteSession(r.Context(), chi.URLParam(r, "sessionID")); err != nil {
		respondServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleSend 发送消息；text 为空时发送输入框内容
func (h *Handler) handleSend(w http.ResponseWriter, r *http.Request) {
	session, ok := h.lookup(w, r)
	if !ok {
		return
	}

	var payload struct {
		Text string `json:"text"`
	}
	if err := decodeBody(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var accepted bool
	if payload.Text == "" {
		accepted = session.SendInput()
	} else {
		accepted = session.Send(payload.Text)
	}
	if !accepted {
		utils.RespondJSON(w, http.StatusConflict, map[string]any{
			"error":    "message not sent",
			"snapshot": session.Snapshot(),
		})
		return
	}

	utils.RespondJSON(w, http.StatusAccepted, session.Snapshot())
}

func (h *Handler) handleClear(w http.ResponseWriter, r *http.Request) {
	session, ok := h.lookup(w, r)
	if !ok {
		return
	}
	session.Clear()
	utils.RespondJSON(w, http.StatusOK, session.Snapshot())
}

func (h *Handler) handleSetInput(w http.ResponseWriter, r *http.Request) {
	session, ok := h.lookup(w, r)
	if !ok {
		return
	}

	var payload struct {
		Text string `json:"text"`
	}
	if err := decodeBody(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	session.SetInput(payload.Text)
	utils.RespondJSON(w, http.StatusOK, session.Snapshot())
}

func (h *Handler) handleSetModel(w http.ResponseWriter, r *http.Request) {
	session, ok := h.lookup(w, r)
	if !ok {
		return
	}

	var payload struct {
		Model string `json:"model"`
	}
	if err := decodeBody(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if payload.Model == "" {
		utils.RespondError(w, http.StatusBadRequest, "model is required")
		return
	}

	session.SetModel(payload.Model)
	utils.RespondJSON(w, http.StatusOK, session.Snapshot())
}

func (h *Handler) lookup(w http.ResponseWriter, r *http.Request) (*chatService.Session, bool) {
	session, err := h.chatSvc.GetSession(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		respondServiceError(w, err)
		return nil, false
	}
	return session, true
}

// decodeBody 解析JSON请求体，空请求体视为零值
func decodeBody(r *http.Request, v any) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func respondServiceError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	if errors.Is(err, chatService.ErrSessionNotFound) {
		status = http.StatusNotFound
	}
	utils.RespondError(w, status, err.Error())
}
