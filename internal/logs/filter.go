package logs

import (
	"encoding/json"
	"strings"

	"ferry/internal/logging"
)

// Filter selects log records. Zero fields match everything.
type Filter struct {
	TaskID   string
	OwnerID  string
	MinLevel string
}

// Empty reports whether the filter matches every line.
func (f Filter) Empty() bool {
	return f.TaskID == "" && f.OwnerID == "" && f.MinLevel == ""
}

// Match reports whether line passes the filter.
func (f Filter) Match(line string) bool {
	if f.Empty() {
		return true
	}
	var record map[string]any
	if err := json.Unmarshal([]byte(line), &record); err != nil {
		return false
	}
	if f.TaskID != "" && stringValue(record, logging.FieldTaskID) != f.TaskID {
		return false
	}
	if f.OwnerID != "" && stringValue(record, logging.FieldOwnerID) != f.OwnerID {
		return false
	}
	if f.MinLevel != "" && levelRank(stringValue(record, "level")) < levelRank(f.MinLevel) {
		return false
	}
	return true
}

func stringValue(record map[string]any, key string) string {
	s, _ := record[key].(string)
	return s
}

func levelRank(level string) int {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return 0
	case "info", "":
		return 1
	case "warn", "warning":
		return 2
	case "error":
		return 3
	default:
		return 1
	}
}

// ValidLevel reports whether level names a known minimum level.
func ValidLevel(level string) bool {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "", "debug", "info", "warn", "warning", "error":
		return true
	}
	return false
}
