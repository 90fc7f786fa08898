// Package daemon implements ferryd, the background execution context.
//
// Pages hand tasks over with Submit. A fixed pool of workers marks each task
// processing, runs it through the executor, and records the terminal state
// in the task queue, so a result survives even when no page is attached.
// Applied results are then queued in a per-owner Mailbox that page sessions
// long-poll, and announced through ntfy when a topic is configured.
//
// A flock-based lock file keeps a single ferryd per data directory, and an
// hourly loop removes terminal tasks older than the retention window.
package daemon
