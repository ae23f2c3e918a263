package model

import "time"

// ErrorType classifies a recorded pipeline failure.
type ErrorType string

const (
	ErrRateLimited ErrorType = "rate_limited"
	ErrTimeout     ErrorType = "timeout"
	ErrNotFound    ErrorType = "not_found"
	ErrParse       ErrorType = "parse_error"
	ErrConfig      ErrorType = "config"
	ErrUnknown     ErrorType = "unknown"
)

// MaxErrorMessage bounds PipelineError.Message.
const MaxErrorMessage = 2000

// PipelineError is an operator-visible failure record.
type PipelineError struct {
	ID         string     `json:"id"`
	Worker     Worker     `json:"worker"`
	Stage      Stage      `json:"stage"`
	ErrorType  ErrorType  `json:"error_type"`
	Message    string     `json:"message"`
	BuyerID    string     `json:"buyer_id,omitempty"`
	BuyerName  string     `json:"buyer_name,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

// ErrorFilter selects pipeline errors. Empty fields match everything.
type ErrorFilter struct {
	Worker    Worker
	Stage     Stage
	ErrorType ErrorType
	// Resolved nil matches both; otherwise only resolved or unresolved rows.
	Resolved *bool
	Limit    int
	Offset   int
}
