package main

import (
	"bytes"
	"strings"
	"testing"
)

func TestParsePosition(t *testing.T) {
	tests := []struct {
		in   string
		want float64
		ok   bool
	}{
		{"42", 42, true},
		{"12.5", 12.5, true},
		{"1:05", 65, true},
		{"2:03.25", 123.25, true},
		{"x:10", 0, false},
		{"1:zz", 0, false},
		{"", 0, false},
	}

	for _, tt := range tests {
		got, err := parsePosition(tt.in)
		if tt.ok && err != nil {
			t.Errorf("parsePosition(%q) failed: %v", tt.in, err)
			continue
		}
		if !tt.ok {
			if err == nil {
				t.Errorf("Expected error for %q, got %v", tt.in, got)
			}
			continue
		}
		if got != tt.want {
			t.Errorf("parsePosition(%q): expected %v, got %v", tt.in, tt.want, got)
		}
	}
}

func TestShellUnknownCommand(t *testing.T) {
	var out bytes.Buffer
	if !handleShellCommand(nil, &out, "dance") {
		t.Fatal("Expected the shell to keep running")
	}
	if !strings.Contains(out.String(), "unknown command") {
		t.Errorf("Expected an unknown command message, got %q", out.String())
	}
}

func TestShellExit(t *testing.T) {
	var out bytes.Buffer
	if handleShellCommand(nil, &out, "quit") {
		t.Error("Expected quit to end the shell")
	}
}
