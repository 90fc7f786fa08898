package logs_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"ferry/internal/logs"
)

func writeLog(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ferryd.log")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}
	return path
}

func appendLog(t *testing.T, path, content string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open append: %v", err)
	}
	defer f.Close()
	if _, err := f.WriteString(content); err != nil {
		t.Fatalf("append log: %v", err)
	}
}

func TestTailLastLines(t *testing.T) {
	path := writeLog(t, "a\nb\nc\n")

	result, err := logs.Tail(context.Background(), path, logs.TailOptions{Offset: -1, Limit: 2})
	if err != nil {
		t.Fatalf("tail returned error: %v", err)
	}
	if len(result.Lines) != 2 || result.Lines[0] != "b" || result.Lines[1] != "c" {
		t.Fatalf("unexpected lines: %#v", result.Lines)
	}
	if result.Offset != 6 {
		t.Fatalf("offset = %d, want 6", result.Offset)
	}
}

func TestTailMissingFile(t *testing.T) {
	result, err := logs.Tail(context.Background(), filepath.Join(t.TempDir(), "none.log"), logs.TailOptions{Offset: -1, Limit: 5})
	if err != nil {
		t.Fatalf("tail: %v", err)
	}
	if len(result.Lines) != 0 || result.Offset != 0 {
		t.Fatalf("unexpected result for missing file: %+v", result)
	}
}

func TestTailLeavesPartialLine(t *testing.T) {
	path := writeLog(t, "one\ntw")

	result, err := logs.Tail(context.Background(), path, logs.TailOptions{Offset: 0})
	if err != nil {
		t.Fatalf("tail: %v", err)
	}
	if len(result.Lines) != 1 || result.Offset != 4 {
		t.Fatalf("unexpected result: %+v", result)
	}

	appendLog(t, path, "o\n")
	result, err = logs.Tail(context.Background(), path, logs.TailOptions{Offset: result.Offset})
	if err != nil {
		t.Fatalf("tail: %v", err)
	}
	if len(result.Lines) != 1 || result.Lines[0] != "two" {
		t.Fatalf("expected completed line, got %#v", result.Lines)
	}
}

func TestTailRestartsAfterTruncation(t *testing.T) {
	path := writeLog(t, "x\n")
	if err := os.WriteFile(path, []byte("y\n"), 0o644); err != nil {
		t.Fatalf("rewrite log: %v", err)
	}
	result, err := logs.Tail(context.Background(), path, logs.TailOptions{Offset: 100})
	if err != nil {
		t.Fatalf("tail: %v", err)
	}
	if len(result.Lines) != 1 || result.Lines[0] != "y" {
		t.Fatalf("unexpected lines after truncation: %#v", result.Lines)
	}
}

func TestTailAppliesFilter(t *testing.T) {
	path := writeLog(t,
		`{"level":"info","msg":"a","task_id":"t1","owner_id":"o1"}`+"\n"+
			`{"level":"warn","msg":"b","task_id":"t2","owner_id":"o1"}`+"\n"+
			"plain text line\n"+
			`{"level":"error","msg":"c","task_id":"t1","owner_id":"o2"}`+"\n")

	result, err := logs.Tail(context.Background(), path, logs.TailOptions{
		Offset: -1,
		Limit:  10,
		Filter: logs.Filter{TaskID: "t1"},
	})
	if err != nil {
		t.Fatalf("tail: %v", err)
	}
	if len(result.Lines) != 2 {
		t.Fatalf("expected 2 task lines, got %#v", result.Lines)
	}

	result, err = logs.Tail(context.Background(), path, logs.TailOptions{
		Offset: -1,
		Limit:  10,
		Filter: logs.Filter{OwnerID: "o1", MinLevel: "warn"},
	})
	if err != nil {
		t.Fatalf("tail: %v", err)
	}
	if len(result.Lines) != 1 {
		t.Fatalf("expected 1 warn line for o1, got %#v", result.Lines)
	}
}

func TestTailFollowWaits(t *testing.T) {
	path := writeLog(t, "start\n")

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	result, err := logs.Tail(ctx, path, logs.TailOptions{Offset: -1, Limit: 1})
	if err != nil {
		t.Fatalf("initial tail: %v", err)
	}
	if len(result.Lines) != 1 {
		t.Fatalf("expected initial line, got %#v", result.Lines)
	}

	done := make(chan struct{})
	go func(offset int64) {
		defer close(done)
		res, err := logs.Tail(ctx, path, logs.TailOptions{Offset: offset, Follow: true, Wait: 5 * time.Second})
		if err != nil {
			t.Errorf("follow tail error: %v", err)
		}
		if len(res.Lines) != 1 || res.Lines[0] != "later" {
			t.Errorf("unexpected follow lines: %#v", res.Lines)
		}
	}(result.Offset)

	time.Sleep(200 * time.Millisecond)
	appendLog(t, path, "later\n")

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("tail follow did not return")
	}
}

func TestValidLevel(t *testing.T) {
	for _, level := range []string{"", "debug", "INFO", "warn", "error"} {
		if !logs.ValidLevel(level) {
			t.Fatalf("expected %q to be valid", level)
		}
	}
	if logs.ValidLevel("loud") {
		t.Fatal("expected loud to be invalid")
	}
}
