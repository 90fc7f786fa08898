// Package decoder recovers structured results from free-form upstream text.
//
// Upstream models are asked for a JSON object of the form
// {"messages": [ {...}, ... ]} but often wrap it in prose or a fenced code
// block. Decode tries progressively looser extraction strategies and
// classifies each message into a tagged Item. Text that yields no valid
// object fails with a *ResponseFormatError carrying a short snippet.
package decoder
