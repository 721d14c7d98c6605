package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"neuroprom.com/chat-api/internal/core"
	"neuroprom.com/chat-api/internal/logging"
	"neuroprom.com/chat-api/internal/store"
)

const (
	defaultListLimit = 100
	maxBodyBytes     = 1 << 20
)

// Pinger reports whether the durable store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type APIHandler struct {
	chats *core.ChatService
	users *core.UserService
	forms *core.FormService
	db    Pinger
}

func NewAPIHandler(chats *core.ChatService, users *core.UserService, forms *core.FormService, db Pinger) *APIHandler {
	return &APIHandler{chats: chats, users: users, forms: forms, db: db}
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

func (h *APIHandler) RegisterHandler(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !decodeBody(w, r, &req) {
		return
	}

	user, err := h.users.Register(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

func (h *APIHandler) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !decodeBody(w, r, &req) {
		return
	}

	token, err := h.users.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, core.ErrUnauthenticated) {
			w.Header().Set("WWW-Authenticate", "Bearer")
			writeDetail(w, http.StatusUnauthorized, "Incorrect email or password")
			return
		}
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse{AccessToken: token, TokenType: "bearer"})
}

type createChatRequest struct {
	IsAnonymous bool `json:"is_anonymous"`
}

func (h *APIHandler) CreateChatHandler(w http.ResponseWriter, r *http.Request) {
	var req createChatRequest
	if r.ContentLength != 0 && r.Body != http.NoBody {
		if !decodeBody(w, r, &req) {
			return
		}
	}

	chat, err := h.chats.CreateChat(r.Context(), CallerFrom(r.Context()), req.IsAnonymous)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, chat)
}

func (h *APIHandler) ListChatsHandler(w http.ResponseWriter, r *http.Request) {
	skip, ok := queryInt(w, r, "skip", 0)
	if !ok {
		return
	}
	limit, ok := queryInt(w, r, "limit", defaultListLimit)
	if !ok {
		return
	}

	chats, err := h.chats.ListChats(r.Context(), CallerFrom(r.Context()), skip, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, chats)
}

type chatDetailsResponse struct {
	*store.Chat
	Messages []store.Message `json:"messages"`
}

func (h *APIHandler) GetChatHandler(w http.ResponseWriter, r *http.Request) {
	chat, messages, err := h.chats.GetChat(r.Context(), CallerFrom(r.Context()), chi.URLParam(r, "chatID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, chatDetailsResponse{Chat: chat, Messages: messages})
}

type postMessageRequest struct {
	Content string `json:"content"`
}

type turnResponse struct {
	UserMessage      *store.Message `json:"user_message"`
	AssistantMessage *store.Message `json:"assistant_message"`
}

func (h *APIHandler) PostMessageHandler(w http.ResponseWriter, r *http.Request) {
	var req postMessageRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Content == "" {
		writeDetail(w, http.StatusBadRequest, "Message content cannot be empty")
		return
	}

	userMsg, assistantMsg, err := h.chats.SubmitTurn(r.Context(), CallerFrom(r.Context()), chi.URLParam(r, "chatID"), req.Content)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, turnResponse{UserMessage: userMsg, AssistantMessage: assistantMsg})
}

func (h *APIHandler) DeleteChatHandler(w http.ResponseWriter, r *http.Request) {
	if err := h.chats.DeleteChat(r.Context(), CallerFrom(r.Context()), chi.URLParam(r, "chatID")); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

type formRequest struct {
	Name        string  `json:"name"`
	Email       string  `json:"email"`
	Phone       string  `json:"phone"`
	Company     *string `json:"company"`
	Description *string `json:"description"`
}

func (h *APIHandler) SubmitFormHandler(w http.ResponseWriter, r *http.Request) {
	var req formRequest
	if !decodeBody(w, r, &req) {
		return
	}

	form, err := h.forms.SubmitForm(r.Context(), core.FormInput{
		Name:        req.Name,
		Email:       req.Email,
		Phone:       req.Phone,
		Company:     req.Company,
		Description: req.Description,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, form)
}

func (h *APIHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	if err := h.db.Ping(r.Context()); err != nil {
		l := logging.Ctx(r.Context())
		l.Error().Err(err).Msg("health check: database unreachable")
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			writeDetail(w, http.StatusBadRequest, "Request body is required")
			return false
		}
		writeDetail(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return false
	}
	return true
}

func queryInt(w http.ResponseWriter, r *http.Request, name string, def int) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		writeDetail(w, http.StatusBadRequest, "Query parameter "+name+" must be an integer")
		return 0, false
	}
	return v, true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

// writeError maps service errors onto HTTP statuses. Anything unexpected
// is logged and reported as a 500 without internals.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, core.ErrNotFound):
		writeDetail(w, http.StatusNotFound, "Chat not found")
	case errors.Is(err, core.ErrForbidden):
		writeDetail(w, http.StatusForbidden, "Access denied")
	case errors.Is(err, core.ErrUnauthenticated):
		w.Header().Set("WWW-Authenticate", "Bearer")
		writeDetail(w, http.StatusUnauthorized, "Not authenticated")
	case errors.Is(err, core.ErrEmailTaken):
		writeDetail(w, http.StatusBadRequest, "Email already registered")
	case errors.Is(err, core.ErrConflict), errors.Is(err, core.ErrInvalidInput):
		writeDetail(w, http.StatusBadRequest, err.Error())
	default:
		l := logging.Ctx(r.Context())
		l.Error().Err(err).Msg("request failed")
		writeDetail(w, http.StatusInternalServerError, "Internal server error")
	}
}
