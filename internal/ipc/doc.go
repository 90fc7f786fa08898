// Package ipc exposes ferryd over JSON-RPC on a Unix socket and ships the
// matching client used by pages and the CLI.
//
// The Ferry service offers Dispatch (hand a task to the worker pool), Poll
// (long-poll result and focus envelopes for a set of owners), Focus, Status,
// Stop, and TestNotification. Link wraps the client as a dispatch.Channel:
// its reachability check is a dial bounded by DialTimeout followed by a
// status call.
package ipc
