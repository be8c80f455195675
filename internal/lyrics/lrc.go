// Package lyrics reads and writes timestamped lyric text.
//
// Parse understands LRC ("[01:02.50]line", "[1:02:03.5]line"), the plain
// seconds form used by the track editor ("[62.50] line"), several time tags
// on one line, and the [offset:+/-ms] header. Other header tags such as
// [ti:...] and [ar:...] are read into the Document.
package lyrics

import (
	"bufio"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/scannsing/scannsing/pkg/models"
	"github.com/scannsing/scannsing/pkg/utils"
)

var (
	clockTag   = regexp.MustCompile(`^(?:(\d+):)?(\d+):(\d+(?:\.\d+)?)$`)
	secondsTag = regexp.MustCompile(`^\d+(?:\.\d+)?$`)
	headerTag  = regexp.MustCompile(`^([A-Za-z#]+):(.*)$`)
)

// Document is the result of parsing lyric text.
type Document struct {
	Title    string
	Artist   string
	Album    string
	OffsetMs int
	Lines    []models.LyricLine // Source order
}

// ParseError points at the offending input line.
type ParseError struct {
	Line int
	Msg  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("lyrics: line %d: %s", e.Line, e.Msg)
}

// Parse reads lyric text. Blank lines and lines without a time tag are
// skipped.
func Parse(text string) (*Document, error) {
	doc := &Document{}
	type pending struct {
		ts   float64
		text string
	}
	var lines []pending

	sc := bufio.NewScanner(strings.NewReader(text))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	n := 0
	for sc.Scan() {
		n++
		raw := strings.TrimSpace(sc.Text())
		if raw == "" {
			continue
		}

		var stamps []float64
		rest := raw
		for strings.HasPrefix(rest, "[") {
			end := strings.IndexByte(rest, ']')
			if end < 0 {
				break
			}
			tag := strings.TrimSpace(rest[1:end])

			if ts, ok, err := parseTime(tag); err != nil {
				return nil, &ParseError{Line: n, Msg: err.Error()}
			} else if ok {
				stamps = append(stamps, ts)
				rest = strings.TrimLeft(rest[end+1:], " \t")
				continue
			}

			if len(stamps) == 0 {
				if m := headerTag.FindStringSubmatch(tag); m != nil {
					if err := doc.applyHeader(strings.ToLower(m[1]), strings.TrimSpace(m[2])); err != nil {
						return nil, &ParseError{Line: n, Msg: err.Error()}
					}
					rest = strings.TrimLeft(rest[end+1:], " \t")
					continue
				}
			}
			// Anything else, like "[Instrumental]", is lyric text.
			break
		}

		for _, ts := range stamps {
			lines = append(lines, pending{ts: ts, text: rest})
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("lyrics: reading input: %w", err)
	}

	shift := float64(doc.OffsetMs) / 1000
	doc.Lines = make([]models.LyricLine, 0, len(lines))
	for _, p := range lines {
		doc.Lines = append(doc.Lines, models.LyricLine{
			ID:        utils.GenerateUUID(),
			Timestamp: math.Max(0, p.ts-shift),
			Text:      p.text,
		})
	}
	return doc, nil
}

// parseTime reports whether tag is a time tag and, if so, its value in
// seconds.
func parseTime(tag string) (float64, bool, error) {
	if secondsTag.MatchString(tag) {
		v, err := strconv.ParseFloat(tag, 64)
		if err != nil {
			return 0, false, fmt.Errorf("bad timestamp %q", tag)
		}
		return v, true, nil
	}

	m := clockTag.FindStringSubmatch(tag)
	if m == nil {
		return 0, false, nil
	}
	var hours, minutes int
	if m[1] != "" {
		hours, _ = strconv.Atoi(m[1])
	}
	minutes, _ = strconv.Atoi(m[2])
	seconds, err := strconv.ParseFloat(m[3], 64)
	if err != nil {
		return 0, false, fmt.Errorf("bad timestamp %q", tag)
	}
	if seconds >= 60 || (m[1] != "" && minutes >= 60) {
		return 0, false, fmt.Errorf("timestamp %q out of range", tag)
	}
	return float64(hours*3600+minutes*60) + seconds, true, nil
}

func (d *Document) applyHeader(key, value string) error {
	switch key {
	case "ti":
		d.Title = value
	case "ar":
		d.Artist = value
	case "al":
		d.Album = value
	case "offset":
		ms, err := strconv.Atoi(strings.TrimPrefix(value, "+"))
		if err != nil {
			return fmt.Errorf("bad offset %q", value)
		}
		d.OffsetMs = ms
	}
	return nil
}

// Format renders lines in the editor's "[seconds] text" form, sorted by
// timestamp.
func Format(lines []models.LyricLine) string {
	var b strings.Builder
	for _, l := range models.SortLines(lines) {
		fmt.Fprintf(&b, "[%.2f] %s\n", l.Timestamp, l.Text)
	}
	return b.String()
}

// FormatLRC renders lines as LRC, with a [ti:] header when title is set.
func FormatLRC(title string, lines []models.LyricLine) string {
	var b strings.Builder
	if title != "" {
		fmt.Fprintf(&b, "[ti:%s]\n", title)
	}
	for _, l := range models.SortLines(lines) {
		b.WriteString(ClockStamp(l.Timestamp))
		b.WriteString(l.Text)
		b.WriteByte('\n')
	}
	return b.String()
}

// ClockStamp formats t as an LRC time tag, "[mm:ss.xx]".
func ClockStamp(t float64) string {
	if t < 0 {
		t = 0
	}
	cs := int(math.Round(t * 100))
	return fmt.Sprintf("[%02d:%02d.%02d]", cs/6000, (cs%6000)/100, cs%100)
}
