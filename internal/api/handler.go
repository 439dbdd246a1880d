package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/atera92/mensetsu-app/internal/cleaner"
	"github.com/atera92/mensetsu-app/internal/db"
	"github.com/atera92/mensetsu-app/internal/llm"
	"github.com/atera92/mensetsu-app/internal/models"
	"go.uber.org/zap"
)

const (
	maxBodySize = 1 << 20

	// emptyMessageReply answers a blank message without calling any service.
	emptyMessageReply = "..."
	// errorReply is used when the model produced nothing.
	errorReply = "エラーが発生しました。"
	// retryReply replaces a reply that was entirely parenthetical.
	retryReply = "申し訳ありません。もう一度お願いします。"
	// busyReply turns away a new conversation while the server is full.
	busyReply = "ただいま混み合っています。しばらくしてからもう一度お試しください。"
)

// Conversations produces raw model replies for a conversation.
type Conversations interface {
	SendMessage(ctx context.Context, conversationID, userText string) (string, error)
	Reset(ctx context.Context, conversationID string) error
	Evaluate(ctx context.Context, conversationID string) (*llm.Evaluation, error)
}

// Speaker renders text to audio.
type Speaker interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// ConversationStore is the read side of the history store.
type ConversationStore interface {
	CreateConversation(ctx context.Context, title string) (*models.Conversation, error)
	GetConversation(ctx context.Context, id string) (*models.Conversation, error)
	History(ctx context.Context, conversationID string) ([]models.Turn, error)
}

type Handler struct {
	store               ConversationStore
	conversations       Conversations
	speaker             Speaker
	defaultConversation string
	logger              *zap.Logger
}

func NewHandler(store ConversationStore, conversations Conversations, speaker Speaker, defaultConversation string, logger *zap.Logger) *Handler {
	return &Handler{
		store:               store,
		conversations:       conversations,
		speaker:             speaker,
		defaultConversation: defaultConversation,
		logger:              logger,
	}
}

type CreateConversationRequest struct {
	Title string `json:"title"`
}

// Reply runs one chat turn: generate, clean, speak. It never fails; every
// problem degrades the response instead.
func (h *Handler) Reply(ctx context.Context, req models.ChatRequest) (resp models.ChatResponse) {
	convID := h.conversationID(req.ConversationID)
	resp.ConversationID = convID

	defer func() {
		if p := recover(); p != nil {
			h.logger.Error("panic while handling chat", zap.String("conversation", convID), zap.Any("panic", p))
			if resp.Reply == "" {
				resp.Reply = errorReply
			}
			resp.Audio = nil
		}
	}()

	if strings.TrimSpace(req.Message) == "" {
		resp.Reply = emptyMessageReply
		return resp
	}

	h.logger.Info("user message", zap.String("conversation", convID), zap.String("message", req.Message))

	raw, err := h.conversations.SendMessage(ctx, convID, req.Message)
	if err != nil {
		h.logger.Error("Failed to generate reply", zap.String("conversation", convID), zap.Error(err))
		resp.Reply = errorReply
		if errors.Is(err, llm.ErrBusy) {
			resp.Reply = busyReply
		}
		return resp
	}

	reply := cleaner.Clean(raw)
	if reply == "" {
		h.logger.Warn("reply was empty after cleaning",
			zap.String("conversation", convID),
			zap.String("raw", raw))
		reply = retryReply
	}
	resp.Reply = reply
	h.logger.Info("assistant reply", zap.String("conversation", convID), zap.String("reply", reply))

	audio, err := h.speaker.Synthesize(ctx, reply)
	if err != nil {
		h.logger.Error("Failed to synthesize reply", zap.String("conversation", convID), zap.Error(err))
		return resp
	}
	encoded := base64.StdEncoding.EncodeToString(audio)
	resp.Audio = &encoded
	return resp
}

func (h *Handler) conversationID(requested string) string {
	if id := strings.TrimSpace(requested); id != "" {
		return id
	}
	return h.defaultConversation
}

func (h *Handler) HandleChat(w http.ResponseWriter, r *http.Request) {
	var req models.ChatRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	resp := h.Reply(r.Context(), req)

	w.Header().Set("X-Conversation-Id", resp.ConversationID)
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) CreateConversation(w http.ResponseWriter, r *http.Request) {
	var req CreateConversationRequest
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(&req)
	if err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	conversation, err := h.store.CreateConversation(r.Context(), req.Title)
	if err != nil {
		h.logger.Error("Failed to create conversation", zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("X-Conversation-Id", conversation.ID)
	h.writeJSON(w, http.StatusCreated, conversation)
}

func (h *Handler) GetMessages(w http.ResponseWriter, r *http.Request) {
	convID := h.conversationID(pathParam(r, "id"))
	if !h.conversationExists(w, r, convID) {
		return
	}

	turns, err := h.store.History(r.Context(), convID)
	if err != nil {
		h.logger.Error("Failed to get messages", zap.String("conversation", convID), zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	h.logger.Debug("Retrieved messages",
		zap.String("conversation", convID),
		zap.Int("count", len(turns)))
	h.writeJSON(w, http.StatusOK, turns)
}

// Evaluate grades the conversation's transcript. 404 for an unknown
// conversation, 409 when the candidate has not said anything yet, 502 when
// the model gives no usable verdict.
func (h *Handler) Evaluate(w http.ResponseWriter, r *http.Request) {
	convID := h.conversationID(pathParam(r, "id"))
	if !h.conversationExists(w, r, convID) {
		return
	}

	ev, err := h.conversations.Evaluate(r.Context(), convID)
	switch {
	case errors.Is(err, llm.ErrNothingToEvaluate):
		http.Error(w, "Conversation has no answers to evaluate", http.StatusConflict)
		return
	case err != nil:
		h.logger.Error("Failed to evaluate conversation", zap.String("conversation", convID), zap.Error(err))
		http.Error(w, "Evaluation failed", http.StatusBadGateway)
		return
	}

	w.Header().Set("X-Conversation-Id", convID)
	h.writeJSON(w, http.StatusOK, ev)
}

// conversationExists writes the error response itself when it returns false.
// The default conversation always exists, even before its first turn.
func (h *Handler) conversationExists(w http.ResponseWriter, r *http.Request, convID string) bool {
	_, err := h.store.GetConversation(r.Context(), convID)
	switch {
	case err == nil:
		return true
	case errors.Is(err, db.ErrNotFound):
		if convID == h.defaultConversation {
			return true
		}
		http.Error(w, "Conversation not found", http.StatusNotFound)
	default:
		h.logger.Error("Failed to get conversation", zap.String("conversation", convID), zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
	return false
}

func (h *Handler) DeleteConversation(w http.ResponseWriter, r *http.Request) {
	convID := h.conversationID(pathParam(r, "id"))

	if err := h.conversations.Reset(r.Context(), convID); err != nil {
		h.logger.Error("Failed to delete conversation", zap.String("conversation", convID), zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("Failed to encode response", zap.Error(err))
	}
}
