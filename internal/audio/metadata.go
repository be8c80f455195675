package audio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

var errNoAudioStream = errors.New("no audio stream found")

// Tags names an audio file handed to --listen.
type Tags struct {
	Name   string // base file name
	Title  string
	Artist string
}

// Label is "Title - Artist", the title alone, or the file name.
func (t Tags) Label() string {
	switch {
	case t.Title == "":
		return t.Name
	case t.Artist == "":
		return t.Title
	}
	return t.Title + " - " + t.Artist
}

// ReadTags asks ffprobe for the title and artist of the file at path.
func ReadTags(ctx context.Context, path string) (Tags, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
	}

	out, err := exec.CommandContext(ctx, "ffprobe",
		"-v", "error",
		"-select_streams", "a:0",
		"-show_entries", "stream=index:format_tags=title,artist",
		"-of", "json",
		path,
	).Output()
	if err != nil {
		if ctx.Err() != nil {
			return Tags{}, ctx.Err()
		}
		return Tags{}, fmt.Errorf("ffprobe %s: %w", filepath.Base(path), err)
	}
	return parseTags(path, out)
}

func parseTags(path string, out []byte) (Tags, error) {
	var doc struct {
		Streams []json.RawMessage `json:"streams"`
		Format  struct {
			Tags map[string]string `json:"tags"`
		} `json:"format"`
	}
	if err := json.Unmarshal(out, &doc); err != nil {
		return Tags{}, fmt.Errorf("decoding ffprobe output: %w", err)
	}
	if len(doc.Streams) == 0 {
		return Tags{}, errNoAudioStream
	}

	tags := Tags{Name: filepath.Base(path)}
	// Containers disagree on tag case (ID3 "title", Vorbis "TITLE").
	for k, v := range doc.Format.Tags {
		switch strings.ToLower(k) {
		case "title":
			tags.Title = strings.TrimSpace(v)
		case "artist":
			tags.Artist = strings.TrimSpace(v)
		}
	}
	return tags, nil
}
