// Package tasks persists upstream work items and their lifecycle.
//
// A task moves pending → processing → completed or failed. Create writes the
// pending record first and only then hands the task to the attached
// Dispatcher, so the record is always visible before any outcome is known.
// Complete and Fail may be called on a task that is already terminal; the last
// write wins. Cleanup reclaims terminal tasks by age and never touches work
// that is still pending or processing.
package tasks
