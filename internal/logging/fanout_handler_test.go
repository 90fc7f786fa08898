package logging

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestNewFanoutHandlerNilHandlers(t *testing.T) {
	h := newFanoutHandler(nil, nil)
	if _, ok := h.(NoopHandler); !ok {
		t.Errorf("expected NoopHandler for all nil handlers, got %T", h)
	}
}

func TestNewFanoutHandlerFiltersNil(t *testing.T) {
	var buf bytes.Buffer
	inner := slog.NewJSONHandler(&buf, nil)

	if h := newFanoutHandler(nil, inner, nil); h != inner {
		t.Error("expected single non-nil handler to be returned unwrapped")
	}
}

func TestFanoutHandlerRespectsPerHandlerLevels(t *testing.T) {
	var infoBuf, debugBuf bytes.Buffer
	info := slog.NewJSONHandler(&infoBuf, &slog.HandlerOptions{Level: slog.LevelInfo})
	debug := slog.NewJSONHandler(&debugBuf, &slog.HandlerOptions{Level: slog.LevelDebug})

	logger := slog.New(newFanoutHandler(info, debug))
	logger.Debug("low")
	logger.Info("high")

	if strings.Contains(infoBuf.String(), "low") {
		t.Errorf("info handler received debug record: %s", infoBuf.String())
	}
	if !strings.Contains(debugBuf.String(), "low") || !strings.Contains(debugBuf.String(), "high") {
		t.Errorf("debug handler missing records: %s", debugBuf.String())
	}
	if !strings.Contains(infoBuf.String(), "high") {
		t.Errorf("info handler missing info record: %s", infoBuf.String())
	}
}

func TestFanoutHandlerWithAttrsPropagates(t *testing.T) {
	var buf1, buf2 bytes.Buffer
	h := newFanoutHandler(slog.NewJSONHandler(&buf1, nil), slog.NewJSONHandler(&buf2, nil))

	logger := slog.New(h).With(FieldTaskID, "t-1")
	logger.InfoContext(context.Background(), "hello")

	for i, buf := range []*bytes.Buffer{&buf1, &buf2} {
		if !strings.Contains(buf.String(), `"task_id":"t-1"`) {
			t.Errorf("handler %d missing attribute: %s", i, buf.String())
		}
	}
}

type failingHandler struct{ slog.Handler }

func (failingHandler) Handle(context.Context, slog.Record) error { return errors.New("disk full") }

func TestFanoutHandlerKeepsWritingAfterSinkError(t *testing.T) {
	var buf bytes.Buffer
	broken := failingHandler{slog.NewJSONHandler(io.Discard, nil)}
	h := newFanoutHandler(broken, slog.NewJSONHandler(&buf, nil))

	record := slog.NewRecord(time.Now(), slog.LevelInfo, "still here", 0)
	err := h.Handle(context.Background(), record)
	if err == nil || !strings.Contains(err.Error(), "disk full") {
		t.Fatalf("expected sink error to surface, got %v", err)
	}
	if !strings.Contains(buf.String(), "still here") {
		t.Fatalf("healthy sink missed the record: %q", buf.String())
	}
}
