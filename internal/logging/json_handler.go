package logging

import (
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"
)

const redacted = "[redacted]"

// secretKeys are masked at any nesting depth in the JSON log.
var secretKeys = map[string]struct{}{
	"api_key":       {},
	"authorization": {},
}

// newJSONHandler renders records the way internal/logs parses them back:
// ts/level/msg keys, lower-case levels, UTC RFC3339Nano timestamps.
func newJSONHandler(w io.Writer, lvl *slog.LevelVar, addSource bool) slog.Handler {
	opts := slog.HandlerOptions{
		Level:       lvl,
		AddSource:   addSource,
		ReplaceAttr: replaceJSONAttr,
	}
	return slog.NewJSONHandler(w, &opts)
}

func replaceJSONAttr(groups []string, attr slog.Attr) slog.Attr {
	if len(groups) == 0 {
		switch attr.Key {
		case slog.TimeKey:
			attr.Key = "ts"
			if attr.Value.Kind() == slog.KindTime {
				attr.Value = slog.StringValue(attr.Value.Time().UTC().Format(time.RFC3339Nano))
			}
			return attr
		case slog.LevelKey:
			attr.Value = slog.StringValue(strings.ToLower(attr.Value.String()))
			return attr
		case slog.SourceKey:
			if src, ok := attr.Value.Any().(*slog.Source); ok && src != nil {
				attr.Value = slog.StringValue(fmt.Sprintf("%s:%d", filepath.Base(src.File), src.Line))
			}
			return attr
		}
	}
	if _, secret := secretKeys[strings.ToLower(attr.Key)]; secret && attr.Value.Kind() != slog.KindGroup {
		if attr.Value.String() != "" {
			attr.Value = slog.StringValue(redacted)
		}
	}
	return attr
}
