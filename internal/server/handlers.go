package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/ashita-ai/kotoba/internal/auth"
	"github.com/ashita-ai/kotoba/internal/authz"
	"github.com/ashita-ai/kotoba/internal/completion"
	"github.com/ashita-ai/kotoba/internal/ctxutil"
	"github.com/ashita-ai/kotoba/internal/model"
	"github.com/ashita-ai/kotoba/internal/prompt"
	"github.com/ashita-ai/kotoba/internal/storage"
)

// IndexHealth reports whether the vector index is reachable. Satisfied by
// search.QdrantIndex; nil means no index is configured.
type IndexHealth interface {
	Healthy(ctx context.Context) error
}

// Handlers carries the dependencies shared by all HTTP handlers.
type Handlers struct {
	db          *storage.DB
	jwtMgr      *auth.JWTManager
	completions *completion.Service
	index       IndexHealth
	logger      *slog.Logger

	version         string
	protocolVersion model.ProtocolVersion
	maxBodyBytes    int64
}

// HandleAuthToken handles POST /auth/token: exchanges an API key for a JWT.
//
// The key prefix narrows the candidate set before the argon2 comparison.
// When no candidate matches, a dummy verification runs so the response
// time does not reveal whether the prefix exists.
func (h *Handlers) HandleAuthToken(w http.ResponseWriter, r *http.Request) {
	var req model.AuthTokenRequest
	if err := decodeJSON(w, r, &req, h.maxBodyBytes); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body")
		return
	}
	if len(req.APIKey) < auth.KeyPrefixLen {
		auth.DummyVerify()
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "invalid credentials")
		return
	}

	candidates, err := h.db.GetActiveAPIKeysByPrefix(r.Context(), req.APIKey[:auth.KeyPrefixLen])
	if err != nil || len(candidates) == 0 {
		auth.DummyVerify()
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "invalid credentials")
		return
	}

	var matched *model.APIKey
	for i := range candidates {
		valid, verr := auth.VerifyAPIKey(req.APIKey, candidates[i].KeyHash)
		if verr == nil && valid {
			matched = &candidates[i]
			break
		}
	}
	if matched == nil {
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "invalid credentials")
		return
	}

	user, err := h.db.GetUser(r.Context(), matched.UserID)
	if err != nil {
		h.internalError(w, r, "load user for api key", err)
		return
	}

	token, expiresAt, err := h.jwtMgr.IssueToken(user, &matched.ID)
	if err != nil {
		h.internalError(w, r, "issue token", err)
		return
	}

	// Best-effort; a missed timestamp must not block the token.
	if err := h.db.TouchAPIKeyUsed(r.Context(), matched.ID); err != nil {
		h.logger.Warn("touch api key last_used_at", "key_id", matched.ID, "error", err)
	}

	writeJSON(w, r, http.StatusOK, model.AuthTokenResponse{
		Token:     token,
		ExpiresAt: expiresAt,
	})
}

// HandleHealth handles GET /healthz.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	resp := model.HealthResponse{
		Status:   "healthy",
		Postgres: "connected",
		Version:  h.version,
	}
	status := http.StatusOK

	if err := h.db.Ping(r.Context()); err != nil {
		resp.Postgres = "disconnected"
		resp.Status = "unhealthy"
		status = http.StatusServiceUnavailable
	}

	if h.index != nil {
		resp.Index = "connected"
		if err := h.index.Healthy(r.Context()); err != nil {
			resp.Index = "disconnected"
			// Retrieval degrades but completions still work.
			if resp.Status == "healthy" {
				resp.Status = "degraded"
			}
		}
	}

	writeJSON(w, r, status, resp)
}

// HandleCreateSession handles POST /v1/sessions.
func (h *Handlers) HandleCreateSession(w http.ResponseWriter, r *http.Request) {
	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}

	var req model.CreateSessionRequest
	if err := decodeJSON(w, r, &req, h.maxBodyBytes); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body")
		return
	}

	space, err := h.db.GetSpace(r.Context(), req.SpaceID)
	if err != nil {
		h.notFoundOrInternal(w, r, "space", err)
		return
	}
	if space.RoleOf(user.ID) == "" {
		writeError(w, r, http.StatusForbidden, model.ErrCodeForbidden, "not a member of this space")
		return
	}

	session, err := h.db.CreateSession(r.Context(), model.Session{
		SpaceID: space.ID,
		UserID:  user.ID,
		Name:    req.Name,
	})
	if err != nil {
		h.internalError(w, r, "create session", err)
		return
	}
	writeJSON(w, r, http.StatusCreated, session)
}

// HandleSessionMessages handles GET /v1/sessions/{session_id}/messages.
func (h *Handlers) HandleSessionMessages(w http.ResponseWriter, r *http.Request) {
	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}
	sessionID, err := pathUUID(r, "session_id")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid session id")
		return
	}

	session, err := h.db.GetSession(r.Context(), sessionID)
	if err != nil {
		h.notFoundOrInternal(w, r, "session", err)
		return
	}
	if session.UserID != user.ID {
		writeError(w, r, http.StatusForbidden, model.ErrCodeForbidden, "session belongs to another user")
		return
	}

	messages, err := h.db.RecentMessages(r.Context(), sessionID, queryLimit(r, 20))
	if err != nil {
		h.internalError(w, r, "load messages", err)
		return
	}
	writeJSON(w, r, http.StatusOK, messages)
}

// HandleListModels handles GET /v1/models.
func (h *Handlers) HandleListModels(w http.ResponseWriter, r *http.Request) {
	models, err := h.db.ListCompletionModels(r.Context())
	if err != nil {
		h.internalError(w, r, "list models", err)
		return
	}
	writeJSON(w, r, http.StatusOK, models)
}

// completionRequest resolves the wire request into a fully loaded
// completion.Request, enforcing session ownership along the way.
func (h *Handlers) completionRequest(w http.ResponseWriter, r *http.Request) (completion.Request, bool) {
	user, ok := h.currentUser(w, r)
	if !ok {
		return completion.Request{}, false
	}

	var req model.CompletionAPIRequest
	if err := decodeJSON(w, r, &req, h.maxBodyBytes); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body")
		return completion.Request{}, false
	}
	if req.Input == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "input is required")
		return completion.Request{}, false
	}

	session, err := h.db.GetSession(r.Context(), req.SessionID)
	if err != nil {
		h.notFoundOrInternal(w, r, "session", err)
		return completion.Request{}, false
	}
	if session.UserID != user.ID {
		writeError(w, r, http.StatusForbidden, model.ErrCodeForbidden, "session belongs to another user")
		return completion.Request{}, false
	}

	space, err := h.db.GetSpace(r.Context(), session.SpaceID)
	if err != nil {
		h.notFoundOrInternal(w, r, "space", err)
		return completion.Request{}, false
	}

	assistant, err := h.db.GetAssistant(r.Context(), req.AssistantID)
	if err != nil {
		h.notFoundOrInternal(w, r, "assistant", err)
		return completion.Request{}, false
	}
	if assistant.SpaceID != space.ID {
		writeError(w, r, http.StatusForbidden, model.ErrCodeForbidden, "assistant is not in the session's space")
		return completion.Request{}, false
	}

	mdl, err := h.db.GetCompletionModel(r.Context(), assistant.ModelID)
	if err != nil {
		h.notFoundOrInternal(w, r, "completion model", err)
		return completion.Request{}, false
	}

	return completion.Request{
		User:               user,
		Space:              &space,
		Assistant:          &assistant,
		Model:              mdl,
		SessionID:          session.ID,
		Input:              req.Input,
		Files:              req.Files,
		Transcripts:        req.Transcripts,
		CollectionIDs:      req.CollectionIDs,
		Version:            h.protocolVersion,
		UseImageGeneration: req.GenerateImage,
		HistoryLimit:       req.HistoryLimit,
	}, true
}

// HandleCompletion handles POST /v1/completions: a batch invocation whose
// result is persisted as one conversation turn.
func (h *Handlers) HandleCompletion(w http.ResponseWriter, r *http.Request) {
	req, ok := h.completionRequest(w, r)
	if !ok {
		return
	}

	result, err := h.completions.GetResponse(r.Context(), req)
	if err != nil {
		h.completionError(w, r, err)
		return
	}

	if _, err := h.db.AppendMessage(r.Context(), model.Message{
		SessionID:      req.SessionID,
		Question:       req.Input,
		Answer:         result.Text,
		AttachedFiles:  req.Files,
		GeneratedFiles: result.GeneratedFiles,
	}); err != nil {
		h.logger.Error("persist conversation turn", "session_id", req.SessionID, "error", err)
	}

	writeJSON(w, r, http.StatusOK, result)
}

// ssePayload is the wire form of one streamed fragment.
type ssePayload struct {
	Kind     model.FragmentKind   `json:"kind"`
	Text     string               `json:"text,omitempty"`
	ToolCall *model.ToolCallDelta `json:"tool_call,omitempty"`
	File     *model.File          `json:"file,omitempty"`
}

// HandleCompletionStream handles POST /v1/completions/stream: fragments are
// forwarded as SSE data events as they arrive, and the assembled answer is
// persisted once the stream ends.
func (h *Handlers) HandleCompletionStream(w http.ResponseWriter, r *http.Request) {
	req, ok := h.completionRequest(w, r)
	if !ok {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "streaming not supported")
		return
	}

	events, err := h.completions.StreamResponse(r.Context(), req)
	if err != nil {
		h.completionError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	// The server's WriteTimeout would sever long generations.
	rc := http.NewResponseController(w)
	_ = rc.SetWriteDeadline(time.Time{})

	var answer []byte
	var generated []model.File

	for ev := range events {
		if ev.Err != nil {
			writeSSE(w, flusher, "error", map[string]string{"message": "stream failed"})
			h.logger.Error("completion stream", "session_id", req.SessionID, "error", ev.Err)
			return
		}
		frag := ev.Fragment
		switch frag.Kind {
		case model.FragmentText:
			answer = append(answer, frag.Text...)
		case model.FragmentFile:
			if frag.File != nil {
				generated = append(generated, *frag.File)
			}
		}
		writeSSE(w, flusher, "fragment", ssePayload{
			Kind:     frag.Kind,
			Text:     frag.Text,
			ToolCall: frag.ToolCall,
			File:     frag.File,
		})
	}

	// Persist with a fresh context: the client may disconnect right after
	// the final fragment, and the turn should still be recorded.
	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), 5*time.Second)
	defer cancel()
	if _, err := h.db.AppendMessage(persistCtx, model.Message{
		SessionID:      req.SessionID,
		Question:       req.Input,
		Answer:         string(answer),
		AttachedFiles:  req.Files,
		GeneratedFiles: generated,
	}); err != nil {
		h.logger.Error("persist conversation turn", "session_id", req.SessionID, "error", err)
	}

	writeSSE(w, flusher, "done", map[string]int{"generated_files": len(generated)})
}

// completionError maps completion pipeline errors onto HTTP statuses.
func (h *Handlers) completionError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, authz.ErrUnauthorized):
		writeError(w, r, http.StatusForbidden, model.ErrCodeForbidden, "not permitted in this space")
	case errors.Is(err, prompt.ErrQueryTooLong):
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "question is too long for the model's context window")
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "resource not found")
	default:
		h.internalError(w, r, "completion", err)
	}
}

// currentUser materializes the authenticated user from the JWT claims.
// Entitlements ride in the token, so no per-request user lookup is needed.
func (h *Handlers) currentUser(w http.ResponseWriter, r *http.Request) (*model.User, bool) {
	claims := ctxutil.ClaimsFromContext(r.Context())
	if claims == nil {
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "no claims in context")
		return nil, false
	}
	user, err := claims.User()
	if err != nil {
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "malformed token claims")
		return nil, false
	}
	return user, true
}

func (h *Handlers) notFoundOrInternal(w http.ResponseWriter, r *http.Request, what string, err error) {
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, what+" not found")
		return
	}
	h.internalError(w, r, "load "+what, err)
}

func (h *Handlers) internalError(w http.ResponseWriter, r *http.Request, op string, err error) {
	h.logger.Error(op, "request_id", RequestIDFromContext(r.Context()), "error", err)
	writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "internal server error")
}
