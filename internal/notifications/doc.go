// Package notifications tells the user when a background task finishes.
//
// The default implementation publishes to ntfy using the topic configured in
// config.toml and degrades to a no-op when no topic is set. Every task
// notification carries a click action running `ferry focus <owner>` so the
// page for that owner comes to the front.
package notifications
