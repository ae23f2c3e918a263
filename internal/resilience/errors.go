package resilience

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"syscall"

	"github.com/k1p1l0/tendhunt-sub005/internal/model"
)

// ExternalError is a typed failure from an external collaborator (search,
// scrape, AI, SOAP, OCDS). Type drives both retry and operator reporting.
type ExternalError struct {
	Service    string
	Type       model.ErrorType
	StatusCode int
	Err        error
}

func (e *ExternalError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: %s (status %d): %v", e.Service, e.Type, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Service, e.Type, e.Err)
}

func (e *ExternalError) Unwrap() error {
	return e.Err
}

// NewExternalError builds a typed external error.
func NewExternalError(service string, typ model.ErrorType, err error) *ExternalError {
	return &ExternalError{Service: service, Type: typ, Err: err}
}

// FromHTTPStatus maps a non-2xx response to a typed error.
func FromHTTPStatus(service string, statusCode int, body string) *ExternalError {
	if len(body) > 200 {
		body = body[:200]
	}
	return &ExternalError{
		Service:    service,
		Type:       typeForStatus(statusCode),
		StatusCode: statusCode,
		Err:        fmt.Errorf("unexpected status %d: %s", statusCode, body),
	}
}

func typeForStatus(code int) model.ErrorType {
	switch {
	case code == http.StatusTooManyRequests:
		return model.ErrRateLimited
	case code == http.StatusRequestTimeout || code == http.StatusGatewayTimeout:
		return model.ErrTimeout
	case code == http.StatusNotFound || code == http.StatusGone:
		return model.ErrNotFound
	default:
		return model.ErrUnknown
	}
}

// ConfigError reports missing credentials or settings. A stage that returns
// one processes nothing and leaves its cursor untouched.
type ConfigError struct {
	Msg string
}

func (e *ConfigError) Error() string {
	return e.Msg
}

// NewConfigError returns a ConfigError with a formatted message.
func NewConfigError(format string, args ...any) *ConfigError {
	return &ConfigError{Msg: fmt.Sprintf(format, args...)}
}

// IsConfig reports whether err is a ConfigError.
func IsConfig(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// Typed derives an operator-facing error type for any error.
func Typed(err error) model.ErrorType {
	if err == nil {
		return ""
	}
	if IsConfig(err) {
		return model.ErrConfig
	}
	var ee *ExternalError
	if errors.As(err, &ee) && ee.Type != "" {
		return ee.Type
	}
	if errors.Is(err, ErrCircuitOpen) {
		return model.ErrRateLimited
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return model.ErrTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return model.ErrTimeout
	}
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	var xmlErr *xml.SyntaxError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) || errors.As(err, &xmlErr) {
		return model.ErrParse
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "timed out"):
		return model.ErrTimeout
	case strings.Contains(msg, "rate limit") || strings.Contains(msg, "429"):
		return model.ErrRateLimited
	case strings.Contains(msg, "not found") || strings.Contains(msg, "404"):
		return model.ErrNotFound
	case strings.Contains(msg, "parse") || strings.Contains(msg, "invalid character"):
		return model.ErrParse
	}
	return model.ErrUnknown
}

// Class is the retry classification of an error.
type Class string

const (
	ClassTransient Class = "transient"
	ClassPermanent Class = "permanent"
	ClassConfig    Class = "config"
)

// Classify places err in the unified taxonomy: config errors halt the stage,
// transient errors are retried, everything else is recorded and skipped.
func Classify(err error) Class {
	switch {
	case err == nil:
		return ""
	case IsConfig(err):
		return ClassConfig
	case IsTransient(err):
		return ClassTransient
	default:
		return ClassPermanent
	}
}

// IsTransient reports whether err is safe to retry: rate limits, timeouts,
// 5xx responses, and connection-level failures.
func IsTransient(err error) bool {
	if err == nil || IsConfig(err) {
		return false
	}
	// The caller's own deadline is not worth retrying.
	if errors.Is(err, context.Canceled) {
		return false
	}

	var ee *ExternalError
	if errors.As(err, &ee) {
		switch ee.Type {
		case model.ErrRateLimited, model.ErrTimeout:
			return true
		case model.ErrNotFound, model.ErrParse:
			return false
		}
		if IsTransientHTTPStatus(ee.StatusCode) {
			return true
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, p := range []string{
		"connection reset by peer",
		"broken pipe",
		"temporary failure in name resolution",
		"tls handshake timeout",
		"i/o timeout",
		"server closed idle connection",
		"unexpected eof",
	} {
		if strings.Contains(msg, p) {
			return true
		}
	}

	return false
}

// IsTransientHTTPStatus returns true for status codes that are safe to retry.
func IsTransientHTTPStatus(statusCode int) bool {
	switch statusCode {
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}
