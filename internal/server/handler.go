package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/coachchat/internal/logger"
	"github.com/coachchat/internal/middleware"
	"github.com/coachchat/internal/model"
	"github.com/coachchat/internal/push"
	"github.com/coachchat/internal/repository"
)

// Handler serves the REST half of the backend contract.
type Handler struct {
	repo     repository.Messages
	hub      *Hub
	notifier *push.Notifier
}

func NewHandler(repo repository.Messages, hub *Hub, notifier *push.Notifier) *Handler {
	return &Handler{repo: repo, hub: hub, notifier: notifier}
}

// Routes mounts all authenticated API routes on r.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/api/conversations", h.Conversations)
	r.Post("/api/conversations/{counterpartID}/read", h.MarkRead)
	r.Get("/api/messages", h.AllMessages)
	r.Get("/api/messages/{counterpartID}", h.History)
	r.Post("/api/messages", h.CreateMessage)
	r.Post("/api/messages/{messageID}/reactions", h.AddReaction)
	r.Delete("/api/messages/{messageID}/reactions", h.RemoveReaction)
	r.Post("/api/push/subscribe", h.PushSubscribe)
	r.Delete("/api/push/subscribe", h.PushUnsubscribe)
}

func (h *Handler) Conversations(w http.ResponseWriter, r *http.Request) {
	defer logger.DeferLogDuration("handler.Conversations", time.Now())()
	userID := middleware.GetUserID(r.Context())
	convs, err := h.repo.Conversations(r.Context(), userID)
	if err != nil {
		logger.Errorf("conversations user=%s: %v", userID, err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if convs == nil {
		convs = []model.Conversation{}
	}
	writeJSON(w, http.StatusOK, convs)
}

func (h *Handler) AllMessages(w http.ResponseWriter, r *http.Request) {
	defer logger.DeferLogDuration("handler.AllMessages", time.Now())()
	userID := middleware.GetUserID(r.Context())
	msgs, err := h.repo.ForUser(r.Context(), userID)
	if err != nil {
		logger.Errorf("all messages user=%s: %v", userID, err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if msgs == nil {
		msgs = []model.Message{}
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	defer logger.DeferLogDuration("handler.History", time.Now())()
	userID := middleware.GetUserID(r.Context())
	counterpartID := chi.URLParam(r, "counterpartID")
	if counterpartID == "" {
		writeError(w, http.StatusBadRequest, "counterpart id required")
		return
	}
	msgs, err := h.repo.Between(r.Context(), userID, counterpartID)
	if err != nil {
		logger.Errorf("history user=%s counterpart=%s: %v", userID, counterpartID, err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if msgs == nil {
		msgs = []model.Message{}
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (h *Handler) CreateMessage(w http.ResponseWriter, r *http.Request) {
	defer logger.DeferLogDuration("handler.CreateMessage", time.Now())()
	userID := middleware.GetUserID(r.Context())

	var m model.Message
	if err := json.NewDecoder(r.Body).Decode(&m); err != nil {
		writeError(w, http.StatusBadRequest, "invalid message body")
		return
	}
	if m.ReceiverID == "" || (m.Content == "" && m.Meta == nil) {
		writeError(w, http.StatusBadRequest, "receiver_id and content required")
		return
	}
	m.SenderID = userID

	saved, err := h.repo.Save(r.Context(), &m)
	if err != nil {
		logger.Errorf("create message user=%s: %v", userID, err)
		writeError(w, http.StatusInternalServerError, "failed to save message")
		return
	}
	if h.hub != nil {
		h.hub.Deliver(r.Context(), *saved)
	}
	writeJSON(w, http.StatusCreated, saved)
}

func (h *Handler) MarkRead(w http.ResponseWriter, r *http.Request) {
	defer logger.DeferLogDuration("handler.MarkRead", time.Now())()
	userID := middleware.GetUserID(r.Context())
	counterpartID := chi.URLParam(r, "counterpartID")
	if counterpartID == "" {
		writeError(w, http.StatusBadRequest, "counterpart id required")
		return
	}
	if err := h.repo.MarkRead(r.Context(), userID, counterpartID); err != nil {
		logger.Errorf("mark read user=%s counterpart=%s: %v", userID, counterpartID, err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type reactionRequest struct {
	Emoji string `json:"emoji"`
}

func (h *Handler) AddReaction(w http.ResponseWriter, r *http.Request) {
	h.reaction(w, r, true)
}

func (h *Handler) RemoveReaction(w http.ResponseWriter, r *http.Request) {
	h.reaction(w, r, false)
}

func (h *Handler) reaction(w http.ResponseWriter, r *http.Request, add bool) {
	userID := middleware.GetUserID(r.Context())
	messageID := chi.URLParam(r, "messageID")

	var req reactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Emoji == "" {
		writeError(w, http.StatusBadRequest, "emoji required")
		return
	}

	var err error
	if add {
		err = h.repo.AddReaction(r.Context(), model.Reaction{
			MessageID: messageID,
			UserID:    userID,
			Emoji:     req.Emoji,
			CreatedAt: time.Now().UTC(),
		})
	} else {
		err = h.repo.RemoveReaction(r.Context(), messageID, userID, req.Emoji)
	}
	if errors.Is(err, repository.ErrNotFound) {
		writeError(w, http.StatusNotFound, "message not found")
		return
	}
	if err != nil {
		logger.Errorf("reaction message=%s user=%s: %v", messageID, userID, err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type subscribeRequest struct {
	Subscription push.Subscription `json:"subscription"`
}

func (h *Handler) PushSubscribe(w http.ResponseWriter, r *http.Request) {
	if h.notifier == nil {
		writeError(w, http.StatusServiceUnavailable, "push not configured")
		return
	}
	userID := middleware.GetUserID(r.Context())
	var req subscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Subscription.Endpoint == "" {
		writeError(w, http.StatusBadRequest, "subscription required")
		return
	}
	if err := h.notifier.Subscribe(r.Context(), userID, req.Subscription); err != nil {
		logger.Errorf("push subscribe user=%s: %v", userID, err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type unsubscribeRequest struct {
	Endpoint string `json:"endpoint"`
}

func (h *Handler) PushUnsubscribe(w http.ResponseWriter, r *http.Request) {
	if h.notifier == nil {
		writeError(w, http.StatusServiceUnavailable, "push not configured")
		return
	}
	userID := middleware.GetUserID(r.Context())
	var req unsubscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Endpoint == "" {
		writeError(w, http.StatusBadRequest, "endpoint required")
		return
	}
	if err := h.notifier.Unsubscribe(r.Context(), userID, req.Endpoint); err != nil {
		logger.Errorf("push unsubscribe user=%s: %v", userID, err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
