package decoder

import (
	"errors"
	"strings"
)

// ErrResponseFormat reports upstream text that contains no valid result object.
var ErrResponseFormat = errors.New("response format error")

const snippetLimit = 200

// ResponseFormatError carries a truncated copy of the text that failed to decode.
type ResponseFormatError struct {
	Snippet string
}

func (e *ResponseFormatError) Error() string {
	if e.Snippet == "" {
		return "response format error: upstream returned empty text"
	}
	return "response format error: no valid result object in upstream text: " + e.Snippet
}

func (e *ResponseFormatError) Unwrap() error { return ErrResponseFormat }

func newResponseFormatError(text string) *ResponseFormatError {
	return &ResponseFormatError{Snippet: Snippet(text, snippetLimit)}
}

// Snippet collapses whitespace and truncates text to limit runes.
func Snippet(text string, limit int) string {
	collapsed := strings.Join(strings.Fields(text), " ")
	runes := []rune(collapsed)
	if limit <= 0 || len(runes) <= limit {
		return collapsed
	}
	return string(runes[:limit]) + "…"
}
