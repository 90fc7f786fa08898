// Package main hosts the ferry CLI entrypoint and command graph.
//
// The Cobra command tree covers the shared key-value store (kv), the blob
// cache (blob), the task queue (task), owner profiles and history, and ferryd
// control. Commands that create tasks open a full session, so a task runs
// in-process whenever ferryd is not answering on its socket.
//
// Configuration resolution and socket discovery live in commandContext;
// subcommands only render results.
package main
