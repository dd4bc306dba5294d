package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"gwi.com/neura-chat/internal/auth"
	"gwi.com/neura-chat/internal/config"
	"gwi.com/neura-chat/internal/core"
	"gwi.com/neura-chat/internal/markdown"
	"gwi.com/neura-chat/internal/store"
)

type contextKey string

const userContextKey contextKey = "user"

var errBadRequest = errors.New("invalid request body")

func badRequest(err error) error {
	return fmt.Errorf("%w: %v", errBadRequest, err)
}

type APIHandler struct {
	chatService *core.ChatService
	auth        auth.Provider
	dictation   *core.Dictation
}

func NewAPIHandler(cs *core.ChatService, provider auth.Provider, dictation *core.Dictation) *APIHandler {
	return &APIHandler{
		chatService: cs,
		auth:        provider,
		dictation:   dictation,
	}
}

// JWTAuthMiddleware accepts a token only while its subject is the signed-in user.
func (h *APIHandler) JWTAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			http.Error(w, "Authorization header is required", http.StatusUnauthorized)
			return
		}

		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		userID, err := auth.ValidateJWT(config.AppConfig.JWTSecret, tokenString)
		if err != nil {
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}

		user, err := h.auth.CurrentUser()
		if err != nil {
			log.Printf("Error in JWTAuthMiddleware for user %s: %v", userID, err)
			http.Error(w, "Failed to process user identity", http.StatusInternalServerError)
			return
		}
		if user == nil || user.ID != userID {
			http.Error(w, "User not signed in", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), userContextKey, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type SignupRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type AuthResponse struct {
	User  *store.User `json:"user"`
	Token string      `json:"token"`
}

func (h *APIHandler) SignupHandler(w http.ResponseWriter, r *http.Request) {
	var req SignupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	user, err := h.auth.Signup(r.Context(), req.Name, req.Email, req.Password)
	if err != nil {
		writeError(w, err, "Failed to sign up")
		return
	}
	h.respondWithToken(w, http.StatusCreated, user)
}

func (h *APIHandler) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	user, err := h.auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, err, "Failed to log in")
		return
	}
	h.respondWithToken(w, http.StatusOK, user)
}

func (h *APIHandler) respondWithToken(w http.ResponseWriter, status int, user *store.User) {
	token, err := auth.GenerateJWT(config.AppConfig.JWTSecret, user.ID)
	if err != nil {
		log.Printf("Error generating JWT for user %s: %v", user.ID, err)
		http.Error(w, "Failed to generate token", http.StatusInternalServerError)
		return
	}
	writeJSON(w, status, AuthResponse{User: user, Token: token})
}

// LogoutHandler signs the user out and clears every session.
func (h *APIHandler) LogoutHandler(w http.ResponseWriter, r *http.Request) {
	if err := h.auth.Logout(); err != nil {
		log.Printf("Error logging out: %v", err)
		http.Error(w, "Failed to log out", http.StatusInternalServerError)
		return
	}
	if h.dictation.Listening() {
		_ = h.dictation.Stop()
	}
	h.chatService.Reset()
	w.WriteHeader(http.StatusNoContent)
}

func (h *APIHandler) MeHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, r.Context().Value(userContextKey).(*store.User))
}

func (h *APIHandler) ListModelsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, core.Models)
}

func (h *APIHandler) GetConfigHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.chatService.Config())
}

func (h *APIHandler) UpdateConfigHandler(w http.ResponseWriter, r *http.Request) {
	var req core.ConfigUpdate
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	cfg, err := h.chatService.UpdateConfig(req)
	if err != nil {
		writeError(w, err, "Failed to update config")
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

type ListSessionsResponse struct {
	Sessions []store.Session `json:"sessions"`
	ActiveID string          `json:"activeId"`
}

func (h *APIHandler) ListSessionsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, ListSessionsResponse{
		Sessions: h.chatService.Sessions(),
		ActiveID: h.chatService.ActiveSession().ID,
	})
}

func (h *APIHandler) CreateSessionHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusCreated, h.chatService.CreateSession())
}

func (h *APIHandler) GetSessionHandler(w http.ResponseWriter, r *http.Request) {
	sess, err := h.chatService.Session(chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, err, "Failed to get session")
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (h *APIHandler) DeleteSessionHandler(w http.ResponseWriter, r *http.Request) {
	if err := h.chatService.DeleteSession(chi.URLParam(r, "sessionID")); err != nil {
		writeError(w, err, "Failed to delete session")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *APIHandler) SelectSessionHandler(w http.ResponseWriter, r *http.Request) {
	if err := h.chatService.SelectSession(chi.URLParam(r, "sessionID")); err != nil {
		writeError(w, err, "Failed to select session")
		return
	}
	writeJSON(w, http.StatusOK, h.chatService.ActiveSession())
}

func (h *APIHandler) ExportSessionHandler(w http.ResponseWriter, r *http.Request) {
	data, filename, err := h.chatService.ExportSession(chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, err, "Failed to export session")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	w.Write(data)
}

type RenderResponse struct {
	MessageID string          `json:"messageId"`
	Nodes     []markdown.Node `json:"nodes"`
}

func (h *APIHandler) RenderMessageHandler(w http.ResponseWriter, r *http.Request) {
	msg, err := h.chatService.Message(chi.URLParam(r, "sessionID"), chi.URLParam(r, "messageID"))
	if err != nil {
		writeError(w, err, "Failed to render message")
		return
	}
	nodes := markdown.Render(msg.Content)
	if nodes == nil {
		nodes = []markdown.Node{}
	}
	writeJSON(w, http.StatusOK, RenderResponse{MessageID: msg.ID, Nodes: nodes})
}

func (h *APIHandler) SearchHandler(w http.ResponseWriter, r *http.Request) {
	hits, err := h.chatService.SearchSessions(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		writeError(w, err, "Failed to search history")
		return
	}
	writeJSON(w, http.StatusOK, hits)
}

type DictationState struct {
	Listening bool   `json:"listening"`
	Compose   string `json:"compose"`
}

// StartDictationHandler toggles listening, like the microphone button.
func (h *APIHandler) StartDictationHandler(w http.ResponseWriter, r *http.Request) {
	// The recognizer outlives this request.
	listening, err := h.dictation.Toggle(context.Background())
	if err != nil {
		writeError(w, err, "Failed to toggle dictation")
		return
	}
	writeJSON(w, http.StatusOK, DictationState{Listening: listening, Compose: h.dictation.Compose()})
}

type TranscriptRequest struct {
	Compose  *string                  `json:"compose,omitempty"`
	Segments []core.TranscriptSegment `json:"segments"`
}

func (h *APIHandler) TranscriptHandler(w http.ResponseWriter, r *http.Request) {
	var req TranscriptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	compose := h.dictation.Compose()
	if req.Compose != nil {
		compose = *req.Compose
	}
	compose = core.AppendTranscript(compose, req.Segments)
	h.dictation.SetCompose(compose)
	writeJSON(w, http.StatusOK, DictationState{Listening: h.dictation.Listening(), Compose: compose})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Error encoding response: %v", err)
	}
}

func writeError(w http.ResponseWriter, err error, fallback string) {
	status := errorStatus(err)
	if status == http.StatusInternalServerError {
		log.Printf("%s: %v", fallback, err)
		http.Error(w, fallback, status)
		return
	}
	http.Error(w, err.Error(), status)
}

func errorStatus(err error) int {
	switch {
	case errors.Is(err, errBadRequest),
		errors.Is(err, core.ErrEmptyMessage),
		errors.Is(err, core.ErrUnknownModel),
		errors.Is(err, core.ErrAttachmentTooLarge),
		errors.Is(err, auth.ErrMissingCredentials),
		errors.Is(err, auth.ErrMissingFields):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrSessionNotFound),
		errors.Is(err, store.ErrMessageNotFound):
		return http.StatusNotFound
	case errors.Is(err, auth.ErrInvalidToken):
		return http.StatusUnauthorized
	case errors.Is(err, core.ErrSpeechUnsupported):
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}
