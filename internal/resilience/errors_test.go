package resilience

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"syscall"
	"testing"

	"github.com/k1p1l0/tendhunt-sub005/internal/model"
)

func TestFromHTTPStatus_Types(t *testing.T) {
	tests := []struct {
		code int
		want model.ErrorType
	}{
		{429, model.ErrRateLimited},
		{408, model.ErrTimeout},
		{504, model.ErrTimeout},
		{404, model.ErrNotFound},
		{410, model.ErrNotFound},
		{500, model.ErrUnknown},
		{400, model.ErrUnknown},
	}
	for _, tt := range tests {
		err := FromHTTPStatus("jina", tt.code, "body")
		if err.Type != tt.want {
			t.Errorf("status %d: expected %s, got %s", tt.code, tt.want, err.Type)
		}
		if err.StatusCode != tt.code {
			t.Errorf("status %d: StatusCode not kept", tt.code)
		}
	}
}

func TestFromHTTPStatus_TruncatesBody(t *testing.T) {
	long := make([]byte, 1000)
	for i := range long {
		long[i] = 'x'
	}
	err := FromHTTPStatus("svc", 500, string(long))
	if len(err.Error()) > 300 {
		t.Errorf("expected truncated message, got %d chars", len(err.Error()))
	}
}

func TestTyped(t *testing.T) {
	var syntaxErr *json.SyntaxError
	jsonErr := json.Unmarshal([]byte("{bad"), &struct{}{})
	if !errors.As(jsonErr, &syntaxErr) {
		t.Fatal("expected json syntax error")
	}

	tests := []struct {
		name string
		err  error
		want model.ErrorType
	}{
		{"nil", nil, ""},
		{"config", NewConfigError("missing %s", "key"), model.ErrConfig},
		{"external", NewExternalError("apify", model.ErrNotFound, errors.New("x")), model.ErrNotFound},
		{"wrapped external", fmt.Errorf("outer: %w", FromHTTPStatus("jina", 429, "")), model.ErrRateLimited},
		{"deadline", fmt.Errorf("call: %w", context.DeadlineExceeded), model.ErrTimeout},
		{"circuit", ErrCircuitOpen, model.ErrRateLimited},
		{"json", jsonErr, model.ErrParse},
		{"dns timeout", &net.DNSError{IsTimeout: true, Err: "timeout"}, model.ErrTimeout},
		{"message", errors.New("page not found"), model.ErrNotFound},
		{"other", errors.New("boom"), model.ErrUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Typed(tt.err); got != tt.want {
				t.Errorf("Typed() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestClassify(t *testing.T) {
	if Classify(nil) != "" {
		t.Error("nil should have no class")
	}
	if c := Classify(NewConfigError("no key")); c != ClassConfig {
		t.Errorf("expected config, got %s", c)
	}
	if c := Classify(FromHTTPStatus("jina", 503, "")); c != ClassTransient {
		t.Errorf("expected transient for 503, got %s", c)
	}
	if c := Classify(NewExternalError("jina", model.ErrTimeout, errors.New("slow"))); c != ClassTransient {
		t.Errorf("expected transient for timeout, got %s", c)
	}
	if c := Classify(FromHTTPStatus("jina", 404, "")); c != ClassPermanent {
		t.Errorf("expected permanent for 404, got %s", c)
	}
	if c := Classify(NewExternalError("claude", model.ErrParse, errors.New("bad json"))); c != ClassPermanent {
		t.Errorf("expected permanent for parse, got %s", c)
	}
}

func TestIsTransient_ConnectionErrors(t *testing.T) {
	for _, err := range []error{
		fmt.Errorf("write tcp: %w", syscall.ECONNRESET),
		fmt.Errorf("dial tcp: %w", syscall.ECONNREFUSED),
		&net.DNSError{IsTimeout: true, Err: "timeout"},
		errors.New("read: connection reset by peer"),
		errors.New("net/http: TLS handshake timeout"),
	} {
		if !IsTransient(err) {
			t.Errorf("expected %v to be transient", err)
		}
	}
}

func TestIsTransient_NotRetried(t *testing.T) {
	for _, err := range []error{
		nil,
		errors.New("invalid input"),
		context.Canceled,
		NewConfigError("missing token"),
	} {
		if IsTransient(err) {
			t.Errorf("expected %v to be non-transient", err)
		}
	}
}

func TestIsTransientHTTPStatus(t *testing.T) {
	for _, code := range []int{408, 429, 500, 502, 503, 504} {
		if !IsTransientHTTPStatus(code) {
			t.Errorf("expected HTTP %d to be transient", code)
		}
	}
	for _, code := range []int{200, 400, 401, 403, 404, 422} {
		if IsTransientHTTPStatus(code) {
			t.Errorf("expected HTTP %d to NOT be transient", code)
		}
	}
}

func TestExternalError_Unwrap(t *testing.T) {
	inner := errors.New("root cause")
	ee := NewExternalError("firecrawl", model.ErrUnknown, inner)
	if !errors.Is(ee, inner) {
		t.Error("ExternalError should unwrap to the inner error")
	}
}
