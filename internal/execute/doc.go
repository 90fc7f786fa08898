// Package execute runs a dispatched task: it sends the request descriptor to
// the upstream provider and decodes the returned text into an Outcome.
//
// The same Executor serves the ferryd workers and the in-process fallback a
// page uses when the daemon cannot be reached.
package execute
