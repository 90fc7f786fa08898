package dispatch

import (
	"errors"
	"strings"

	"ferry/internal/decoder"
	"ferry/internal/tasks"
	"ferry/internal/upstream"
)

// DispatchMessage hands a task's request descriptor to the background executor.
type DispatchMessage struct {
	TaskID  string           `json:"task_id"`
	OwnerID string           `json:"owner_id"`
	Request upstream.Request `json:"request"`
}

// ResultMessage reports the outcome of a dispatched task. Exactly one of
// Outcome and ErrorText is set.
type ResultMessage struct {
	TaskID    string           `json:"task_id"`
	OwnerID   string           `json:"owner_id"`
	Outcome   *decoder.Outcome `json:"outcome,omitempty"`
	ErrorText string           `json:"error_text,omitempty"`
}

// Succeeded reports whether the message carries an outcome.
func (m ResultMessage) Succeeded() bool {
	return m.Outcome != nil && strings.TrimSpace(m.ErrorText) == ""
}

// Validate checks the exactly-one-of rule and the task id.
func (m ResultMessage) Validate() error {
	if strings.TrimSpace(m.TaskID) == "" {
		return errors.New("result message missing task id")
	}
	hasError := strings.TrimSpace(m.ErrorText) != ""
	if hasError == (m.Outcome != nil) {
		return errors.New("result message must carry exactly one of outcome or error text")
	}
	return nil
}

// FocusRequest asks the page to bring an owner's view to the front. It never
// changes task state.
type FocusRequest struct {
	OwnerID string `json:"owner_id"`
}

// EnvelopeType discriminates the messages delivered to a page.
type EnvelopeType string

const (
	EnvelopeResult EnvelopeType = "result"
	EnvelopeFocus  EnvelopeType = "focus"
)

// Envelope carries one message from the background executor to a page.
type Envelope struct {
	Type   EnvelopeType   `json:"type"`
	Result *ResultMessage `json:"result,omitempty"`
	Focus  *FocusRequest  `json:"focus,omitempty"`
}

func NewResultEnvelope(msg ResultMessage) Envelope {
	return Envelope{Type: EnvelopeResult, Result: &msg}
}

func NewFocusEnvelope(req FocusRequest) Envelope {
	return Envelope{Type: EnvelopeFocus, Focus: &req}
}

// OwnerID returns the owner the envelope is addressed to.
func (e Envelope) OwnerID() string {
	switch {
	case e.Result != nil:
		return e.Result.OwnerID
	case e.Focus != nil:
		return e.Focus.OwnerID
	}
	return ""
}

// Fallback tells the page to run a task itself because the background
// executor could not take it.
type Fallback struct {
	Task    tasks.Task
	Message DispatchMessage
	Reason  error
}
