package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/charmbracelet/log"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want log.Level
	}{
		{"debug", log.DebugLevel},
		{"INFO", log.InfoLevel},
		{" warn ", log.WarnLevel},
		{"error", log.ErrorLevel},
		{"", log.InfoLevel},
		{"chatty", log.InfoLevel},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := ParseLevel(tt.in); got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestNewRespectsLevelAndPrefix(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, "warn").WithPrefix("launcher")

	l.Info("hidden")
	l.Warn("shown", "step", "cleanup")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("info line should be filtered at warn level: %q", out)
	}
	if !strings.Contains(out, "shown") || !strings.Contains(out, "launcher") {
		t.Errorf("expected prefixed warn line, got %q", out)
	}
	if !strings.Contains(out, "step=cleanup") {
		t.Errorf("expected key/value pair, got %q", out)
	}
}

func TestOr(t *testing.T) {
	if Or(nil) == nil {
		t.Fatal("Or(nil) should return a usable logger")
	}
	l := Discard()
	if Or(l) != l {
		t.Error("Or should return the given logger")
	}
}
