package logger

import (
	"bytes"
	"strings"
	"testing"
)

func newTestLogger(level LogLevel) (*Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	cfg := DefaultConfig()
	cfg.Output = &buf
	cfg.Colorize = false
	cfg.ShowTime = false
	cfg.Level = level
	return New(cfg), &buf
}

func TestLevelFiltering(t *testing.T) {
	log, buf := newTestLogger(WARN)

	log.Infof("hidden %d", 1)
	log.Warnf("shown %d", 2)
	log.Errorf("shown %d", 3)

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("Expected INFO line to be filtered, got %q", out)
	}
	if !strings.Contains(out, "[WARN] shown 2") {
		t.Errorf("Expected WARN line, got %q", out)
	}
	if !strings.Contains(out, "[ERROR] shown 3") {
		t.Errorf("Expected ERROR line, got %q", out)
	}
}

func TestNamedSharesSink(t *testing.T) {
	root, buf := newTestLogger(INFO)
	child := root.Named("session").Named("resync")

	child.Infof("polling attempt %d", 2)
	if got := buf.String(); !strings.Contains(got, "[session.resync] polling attempt 2") {
		t.Errorf("Expected component prefix, got %q", got)
	}

	root.SetLevel(ERROR)
	buf.Reset()
	child.Warnf("dropped")
	if buf.Len() != 0 {
		t.Errorf("Expected child to follow parent level, got %q", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want LogLevel
		ok   bool
	}{
		{"debug", DEBUG, true},
		{" Warning ", WARN, true},
		{"ERROR", ERROR, true},
		{"verbose", INFO, false},
	}
	for _, tt := range tests {
		got, ok := ParseLevel(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("ParseLevel(%q) = %v,%v, expected %v,%v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}
