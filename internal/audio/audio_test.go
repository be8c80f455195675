package audio

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
)

func TestParseTags(t *testing.T) {
	out := []byte(`{
		"streams": [{"index": 1}],
		"format": {"tags": {"TITLE": " The Yellow and Blue ", "artist": "Unknown"}}
	}`)

	tags, err := parseTags("/music/anthem.ogg", out)
	if err != nil {
		t.Fatalf("parseTags failed: %v", err)
	}
	if tags.Name != "anthem.ogg" {
		t.Errorf("Expected name anthem.ogg, got %s", tags.Name)
	}
	if tags.Label() != "The Yellow and Blue - Unknown" {
		t.Errorf("Unexpected label %q", tags.Label())
	}
}

func TestParseTagsNoAudio(t *testing.T) {
	_, err := parseTags("clip.mp4", []byte(`{"streams":[],"format":{}}`))
	if !errors.Is(err, errNoAudioStream) {
		t.Errorf("Expected errNoAudioStream, got %v", err)
	}
}

func TestTagsLabel(t *testing.T) {
	tests := []struct {
		tags Tags
		want string
	}{
		{Tags{Name: "take1.wav"}, "take1.wav"},
		{Tags{Name: "take1.wav", Title: "Anthem"}, "Anthem"},
		{Tags{Name: "take1.wav", Title: "Anthem", Artist: "Choir"}, "Anthem - Choir"},
	}
	for _, tt := range tests {
		if got := tt.tags.Label(); got != tt.want {
			t.Errorf("Expected %q, got %q", tt.want, got)
		}
	}
}

func TestConvertMissingInput(t *testing.T) {
	dir := t.TempDir()
	_, err := ConvertToMonoWAV(context.Background(), filepath.Join(dir, "missing.mp3"), dir, ConvertWAVConfig{})
	if err == nil {
		t.Fatal("Expected error for missing input")
	}
}

func TestIsWAV(t *testing.T) {
	if !IsWAV("a/b/Song.WAV") {
		t.Error("Expected .WAV to be recognized")
	}
	if IsWAV("song.mp3") {
		t.Error("Expected .mp3 not to be a WAV")
	}
}
