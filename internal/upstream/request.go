package upstream

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Chat roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is the descriptor a task carries as its payload. Zero-valued
// fields fall back to the client configuration.
type Request struct {
	Model       string    `json:"model,omitempty"`
	Messages    []Message `json:"messages"`
	Temperature *float64  `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

// Validate reports whether the request can be sent.
func (r Request) Validate() error {
	if len(r.Messages) == 0 {
		return errors.New("request has no messages")
	}
	for i, m := range r.Messages {
		switch strings.TrimSpace(m.Role) {
		case RoleSystem, RoleUser, RoleAssistant:
		default:
			return fmt.Errorf("message %d: unknown role %q", i, m.Role)
		}
	}
	if r.Temperature != nil && (*r.Temperature < 0 || *r.Temperature > 2) {
		return fmt.Errorf("temperature %.2f outside 0..2", *r.Temperature)
	}
	if r.MaxTokens < 0 {
		return fmt.Errorf("max_tokens %d is negative", r.MaxTokens)
	}
	return nil
}

// ErrUpstreamAPI matches every network, HTTP, and response-shape failure from the provider.
var ErrUpstreamAPI = errors.New("upstream api error")

// APIError describes a failed provider call.
type APIError struct {
	Op         string
	StatusCode int
	Message    string
	Body       string
	RetryAfter time.Duration
	Err        error

	empty bool
}

func (e *APIError) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	if e.StatusCode >= 300 {
		fmt.Fprintf(&b, ": http %d", e.StatusCode)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	if e.Body != "" {
		b.WriteString(" (body: ")
		b.WriteString(e.Body)
		b.WriteString(")")
	}
	return b.String()
}

func (e *APIError) Unwrap() error { return e.Err }

// Is makes every APIError match ErrUpstreamAPI.
func (e *APIError) Is(target error) bool { return target == ErrUpstreamAPI }
