package logx

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestZeroLoggerIsNoop(t *testing.T) {
	var l Logger
	if !l.IsZero() {
		t.Fatal("zero logger not reported as zero")
	}
	l.Info("dropped", String("k", "v"))
	if Nop().IsZero() {
		t.Fatal("Nop reported as zero")
	}
}

func TestWriterFieldsAndLevel(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriter(&buf, "info").With(String("comp", "link"))

	l.Debug("hidden")
	l.Info("frame", Int("bytes", 3), Duration("took", 1500*time.Millisecond), Err(errors.New("boom")), Err(nil))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("got %d lines: %q", len(lines), buf.String())
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rec["message"] != "frame" || rec["comp"] != "link" || rec["bytes"] != float64(3) {
		t.Fatalf("record = %v", rec)
	}
	if rec["err"] != "boom" {
		t.Fatalf("err field = %v", rec["err"])
	}
	if c, _ := rec["caller"].(string); !strings.HasPrefix(c, "logging_test.go:") {
		t.Fatalf("caller = %v", rec["caller"])
	}
}

func TestWithDoesNotShareFields(t *testing.T) {
	var buf bytes.Buffer
	base := NewWriter(&buf, "debug")
	a := base.With(String("who", "a"))
	_ = a.With(String("extra", "x"))
	a.Info("one")
	if strings.Contains(buf.String(), "extra") {
		t.Fatalf("derived field leaked: %q", buf.String())
	}
}

func TestServiceApplyFileAndLevel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "bluecast.log")
	svc, l := New(Config{Level: "warn", File: FileConfig{Enabled: true, Path: path}})
	defer svc.Close()

	l.Info("quiet")
	l.Warn("loud")
	if !l.Enabled(LevelWarn) || l.Enabled(LevelInfo) {
		t.Fatal("level not applied")
	}

	svc.Apply(Config{Level: "debug", File: FileConfig{Enabled: true, Path: path}})
	l.Debug("now visible")

	if err := svc.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	out := string(b)
	if strings.Contains(out, "quiet") || !strings.Contains(out, "loud") || !strings.Contains(out, "now visible") {
		t.Fatalf("log file = %q", out)
	}
}

func TestValidLevel(t *testing.T) {
	for _, s := range []string{"", "debug", " INFO ", "warning"} {
		if !ValidLevel(s) {
			t.Fatalf("%q rejected", s)
		}
	}
	if ValidLevel("verbose") {
		t.Fatal("verbose accepted")
	}
}
