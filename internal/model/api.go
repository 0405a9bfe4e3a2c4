package model

import (
	"time"

	"github.com/google/uuid"
)

// Error codes returned in the API error envelope.
const (
	ErrCodeInvalidInput  = "invalid_input"
	ErrCodeUnauthorized  = "unauthorized"
	ErrCodeForbidden     = "forbidden"
	ErrCodeNotFound      = "not_found"
	ErrCodeRateLimited   = "rate_limited"
	ErrCodeInternalError = "internal_error"
)

// ResponseMeta accompanies every API response.
type ResponseMeta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

// APIResponse is the standard success envelope.
type APIResponse struct {
	Data any          `json:"data"`
	Meta ResponseMeta `json:"meta"`
}

// ErrorDetail is the machine-readable error payload.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// APIError is the standard error envelope.
type APIError struct {
	Error ErrorDetail  `json:"error"`
	Meta  ResponseMeta `json:"meta"`
}

// AuthTokenRequest exchanges an API key for a short-lived JWT.
type AuthTokenRequest struct {
	APIKey string `json:"api_key"`
}

// AuthTokenResponse carries the issued JWT.
type AuthTokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// CompletionAPIRequest is the wire form of one completion invocation.
type CompletionAPIRequest struct {
	SessionID     uuid.UUID   `json:"session_id"`
	AssistantID   uuid.UUID   `json:"assistant_id"`
	Input         string      `json:"input"`
	Files         []File      `json:"files,omitempty"`
	Transcripts   []string    `json:"transcripts,omitempty"`
	CollectionIDs []uuid.UUID `json:"collection_ids,omitempty"`
	GenerateImage bool        `json:"generate_image,omitempty"`
	HistoryLimit  int         `json:"history_limit,omitempty"`
}

// CreateSessionRequest opens a conversation thread in a space.
type CreateSessionRequest struct {
	SpaceID uuid.UUID `json:"space_id"`
	Name    string    `json:"name"`
}

// HealthResponse reports component status for the health endpoint.
type HealthResponse struct {
	Status   string `json:"status"`
	Postgres string `json:"postgres"`
	Index    string `json:"index,omitempty"`
	Version  string `json:"version"`
}
