// Package logs reads the JSON log file ferryd writes.
//
// Tail returns the last N matching records or everything past an offset, and
// can wait for new lines in follow mode. A Filter narrows records to one task,
// owner, or minimum level using the field names from the logging package.
// Lines that are not JSON objects pass an empty filter and fail any other.
package logs
