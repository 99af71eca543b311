package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{"debug", LevelDebug, false},
		{"INFO", LevelInfo, false},
		{"", LevelInfo, false},
		{" warn ", LevelWarn, false},
		{"warning", LevelWarn, false},
		{"error", LevelError, false},
		{"loud", LevelInfo, true},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNewText(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := New(Config{Level: LevelWarn, Writer: &buf, Component: "worker"})
	logger.Info("hidden")
	logger.Warn("shown", "id", "pkg.f")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("info record below threshold was written: %q", out)
	}
	for _, want := range []string{"msg=shown", "id=pkg.f", "component=worker"} {
		if !strings.Contains(out, want) {
			t.Errorf("output %q missing %q", out, want)
		}
	}
}

func TestNewJSON(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	New(Config{Level: LevelDebug, JSON: true, Writer: &buf}).Debug("parsed", "count", 3)

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("output is not JSON: %v: %q", err, buf.String())
	}
	if rec["msg"] != "parsed" || rec["count"] != float64(3) {
		t.Errorf("record = %v", rec)
	}
}

func TestQuiet(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	New(Config{Quiet: true, Writer: &buf}).Error("nothing")
	if buf.Len() != 0 {
		t.Errorf("quiet logger wrote %q", buf.String())
	}
}
