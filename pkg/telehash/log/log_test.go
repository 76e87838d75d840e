package log

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func newRecordingLogger() (*Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	h := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	return NewWithHandler(h), &buf
}

func TestInfoWritesStructuredRecord(t *testing.T) {
	l, buf := newRecordingLogger()
	l.Info("switch started", "addr", "127.0.0.1:42424")

	var rec map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &rec); err != nil {
		t.Fatalf("unmarshal log line: %v (line: %s)", err, buf.String())
	}
	if rec["msg"] != "switch started" || rec["addr"] != "127.0.0.1:42424" {
		t.Fatalf("record = %v, want msg/addr fields", rec)
	}
}

func TestModuleTagsChildLogger(t *testing.T) {
	l, buf := newRecordingLogger()
	child := l.Module("switch")
	child.Warn("open timed out")

	if !strings.Contains(buf.String(), `"module":"switch"`) {
		t.Fatalf("child logger output missing module tag: %s", buf.String())
	}
}

func TestWithAddsContext(t *testing.T) {
	l, buf := newRecordingLogger()
	l.With("hashname", "abcd").Error("decrypt failure")

	if !strings.Contains(buf.String(), `"hashname":"abcd"`) {
		t.Fatalf("output missing With context: %s", buf.String())
	}
}

func TestSetDefaultIgnoresNil(t *testing.T) {
	orig := Default()
	SetDefault(nil)
	if Default() != orig {
		t.Fatal("SetDefault(nil) replaced the default logger")
	}
}
