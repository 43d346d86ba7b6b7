package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func restoreDefault(t *testing.T) {
	t.Helper()
	prev := slog.Default()
	prevLevel := level.Level()
	t.Cleanup(func() {
		slog.SetDefault(prev)
		level.Set(prevLevel)
	})
}

func TestInitText(t *testing.T) {
	restoreDefault(t)
	var buf bytes.Buffer
	if err := Init(Options{Level: "info", Format: "text", Output: &buf}); err != nil {
		t.Fatal(err)
	}
	slog.Info("hello", "k", "v")
	if !strings.Contains(buf.String(), "msg=hello") || !strings.Contains(buf.String(), "k=v") {
		t.Fatalf("unexpected text output: %q", buf.String())
	}
}

func TestInitJSON(t *testing.T) {
	restoreDefault(t)
	var buf bytes.Buffer
	if err := Init(Options{Level: "debug", Format: "json", Output: &buf}); err != nil {
		t.Fatal(err)
	}
	For("keystore").Debug("loaded")
	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("output is not JSON: %v (%q)", err, buf.String())
	}
	if rec["component"] != "keystore" || rec["msg"] != "loaded" {
		t.Fatalf("unexpected record: %v", rec)
	}
}

func TestInitRejectsBadOptions(t *testing.T) {
	restoreDefault(t)
	if err := Init(Options{Level: "loud"}); err == nil {
		t.Error("unknown level should fail")
	}
	if err := Init(Options{Format: "xml"}); err == nil {
		t.Error("unknown format should fail")
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"  Error  ", slog.LevelError},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.input)
		if err != nil {
			t.Errorf("ParseLevel(%q): %v", tt.input, err)
		}
		if got != tt.want {
			t.Errorf("ParseLevel(%q): got %v, want %v", tt.input, got, tt.want)
		}
	}
	if _, err := ParseLevel("unknown"); err == nil {
		t.Error("ParseLevel(unknown) should fail")
	}
}

func TestSetLevel(t *testing.T) {
	SetLevel(slog.LevelWarn)
	if level.Level() != slog.LevelWarn {
		t.Errorf("SetLevel(Warn): got %v", level.Level())
	}
	SetLevel(slog.LevelInfo)
}

func TestDynamicHandlerEnabled(t *testing.T) {
	SetLevel(slog.LevelWarn)
	defer SetLevel(slog.LevelInfo)

	h := &dynamicHandler{component: "test"}
	if h.Enabled(context.Background(), slog.LevelDebug) {
		t.Error("debug should not be enabled at warn level")
	}
	if !h.Enabled(context.Background(), slog.LevelError) {
		t.Error("error should be enabled at warn level")
	}
}

func TestForFollowsCapture(t *testing.T) {
	logger := For("api")
	c := CaptureForTest()
	defer c.Restore()

	logger.With("user_id", "7").Info("user created")

	if !c.Has(slog.LevelInfo, "user created") {
		t.Fatal("package-level logger did not reach the capture")
	}
	if !c.HasAttr("component", "api") {
		t.Error("component attribute missing")
	}
	if !c.HasAttr("user_id", "7") {
		t.Error("With attributes were dropped")
	}
}

func TestWithAttrsFromContext(t *testing.T) {
	c := CaptureForTest()
	defer c.Restore()

	ctx := WithAttrs(context.Background(), slog.String("request_id", "abc"))
	ctx = WithAttrs(ctx, slog.String("route", "/users"))
	For("api").InfoContext(ctx, "handled")

	if !c.HasAttr("request_id", "abc") || !c.HasAttr("route", "/users") {
		t.Fatalf("context attributes missing: %+v", c.Records())
	}
}

func TestCaptureForTest(t *testing.T) {
	c := CaptureForTest()
	defer c.Restore()

	slog.Info("hello")
	slog.Warn("warning message")
	slog.Debug("debug detail")

	records := c.Records()
	if len(records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(records))
	}

	if !c.Has(slog.LevelInfo, "hello") {
		t.Error("should have info 'hello'")
	}
	if !c.Has(slog.LevelWarn, "warning") {
		t.Error("should have warn 'warning'")
	}
	if c.Has(slog.LevelError, "hello") {
		t.Error("should not match error level")
	}
	if c.Count(slog.LevelInfo) != 1 {
		t.Errorf("info count: got %d, want 1", c.Count(slog.LevelInfo))
	}
}

func TestCaptureRestore(t *testing.T) {
	prev := slog.Default()
	c := CaptureForTest()
	c.Restore()
	if slog.Default() != prev {
		t.Fatal("Restore should reinstate the previous default logger")
	}
}
