// Package logging assembles structured slog loggers and formatting helpers used
// across ferry.
//
// It owns the console and JSON handlers, centralizes level and output
// plumbing, and exposes context helpers so code running on behalf of a task
// tags its log lines with the task and owner identifiers. The package also
// provides a no-op logger for tests and wiring code that cannot fail.
package logging
