package recognition

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/scannsing/scannsing/pkg/models"
)

type submitResponse struct {
	Data struct {
		ID json.RawMessage `json:"id"`
	} `json:"data"`
}

type pollResponse struct {
	Data json.RawMessage `json:"data"`
}

type fileResult struct {
	State   *int         `json:"state"`
	Results *fileResults `json:"results"`
}

type fileResults struct {
	Music      []candidate `json:"music"`
	CoverSongs []candidate `json:"cover_songs"`
}

type candidate struct {
	Result candidateItem `json:"result"`
}

type candidateItem struct {
	Title string `json:"title"`
	Album struct {
		Name string `json:"name"`
	} `json:"album"`
	Artists []struct {
		Name string `json:"name"`
	} `json:"artists"`
	PlayOffsetMs *float64 `json:"play_offset_ms"`
}

func (ci candidateItem) artist() string {
	for _, a := range ci.Artists {
		if name := strings.TrimSpace(a.Name); name != "" {
			return name
		}
	}
	return ""
}

// parseJobID accepts the id as either a JSON string or a number.
func parseJobID(payload []byte) (string, error) {
	var resp submitResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		return "", &ParseError{Reason: "decoding submission response", Err: err}
	}

	raw := bytes.TrimSpace(resp.Data.ID)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", &ParseError{Reason: "submission response has no job id"}
	}
	if raw[0] == '"' {
		var id string
		if err := json.Unmarshal(raw, &id); err != nil {
			return "", &ParseError{Reason: "decoding job id", Err: err}
		}
		if id == "" {
			return "", &ParseError{Reason: "submission response has an empty job id"}
		}
		return id, nil
	}

	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", &ParseError{Reason: "decoding job id", Err: err}
	}
	return n.String(), nil
}

// ParseResult interprets a job-status payload. It never panics: anything it
// cannot make sense of becomes StatusError plus a *ParseError.
func ParseResult(payload []byte) (models.MatchResult, error) {
	failed := models.MatchResult{Status: models.StatusError}

	var resp pollResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		return failed, &ParseError{Reason: "decoding job status", Err: err}
	}

	file, err := firstFile(resp.Data)
	if err != nil {
		return failed, err
	}
	if file.State == nil {
		return failed, &ParseError{Reason: "job status has no state"}
	}

	switch status := models.MatchStatus(*file.State); status {
	case models.StatusPending, models.StatusNotFound, models.StatusError:
		return models.MatchResult{Status: status}, nil
	case models.StatusFound:
		return foundResult(file.Results)
	default:
		return failed, &ParseError{Reason: "unknown job state " + status.String()}
	}
}

// firstFile accepts data as an array of files or as a single object.
func firstFile(raw json.RawMessage) (fileResult, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return fileResult{}, &ParseError{Reason: "job status has no data"}
	}

	if raw[0] == '{' {
		var f fileResult
		if err := json.Unmarshal(raw, &f); err != nil {
			return fileResult{}, &ParseError{Reason: "decoding job data", Err: err}
		}
		return f, nil
	}

	var files []fileResult
	if err := json.Unmarshal(raw, &files); err != nil {
		return fileResult{}, &ParseError{Reason: "decoding job data", Err: err}
	}
	if len(files) == 0 {
		return fileResult{}, &ParseError{Reason: "job status data is empty"}
	}
	return files[0], nil
}

func foundResult(results *fileResults) (models.MatchResult, error) {
	if results != nil && len(results.Music) > 0 {
		item := results.Music[0].Result
		return models.MatchResult{
			Status:       models.StatusFound,
			Title:        item.Title,
			Album:        item.Album.Name,
			Artist:       item.artist(),
			PlayOffsetMs: item.PlayOffsetMs,
			Kind:         models.KindMusic,
		}, nil
	}
	if results != nil && len(results.CoverSongs) > 0 {
		item := results.CoverSongs[0].Result
		return models.MatchResult{
			Status: models.StatusFound,
			Title:  item.Title,
			Album:  item.Album.Name,
			Artist: item.artist(),
			Kind:   models.KindCover,
		}, nil
	}
	return models.MatchResult{Status: models.StatusError}, &ParseError{Reason: "job found but no music or cover candidates"}
}
