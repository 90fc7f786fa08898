// Package upstream provides a chat completion client for OpenAI-compatible
// providers (OpenRouter by default).
//
// A task's payload is a Request: model, chat messages, temperature and token
// limit. Complete posts it and returns the text of the first choice,
// tolerating providers that answer with the streaming "delta" shape or the
// legacy "text" field.
//
// # Errors
//
// Network failures, non-2xx responses, undecodable bodies, and empty content
// all surface as *APIError, which matches ErrUpstreamAPI with errors.Is.
//
// # Retry Behaviour
//
// Retry is opt-in through [llm] retry_attempts and defaults to a single
// attempt. When enabled the client retries HTTP 408/429/5xx, empty content
// and network timeouts with exponential backoff (base 1s, max 10s), honouring
// Retry-After. Context cancellation aborts retries immediately.
package upstream
