// Package recognition talks to the ACRCloud file-scanning API: it uploads a
// recording and polls for the identified song.
package recognition

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/scannsing/scannsing/pkg/logger"
	"github.com/scannsing/scannsing/pkg/models"
)

const (
	DefaultHost     = "https://api-v2.acrcloud.com"
	DefaultFileName = "sample.wav"

	maxErrorBody = 512
)

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

func WithLogger(log logger.Leveled) Option {
	return func(c *Client) {
		c.log = log
	}
}

// WithFileName sets the file name reported in the upload.
func WithFileName(name string) Option {
	return func(c *Client) {
		c.fileName = name
	}
}

// Client is safe for concurrent use.
type Client struct {
	baseURL  string
	token    string
	fileName string
	http     *http.Client
	log      logger.Leveled
}

// NewClient returns a client for the container rooted at baseURL, see
// ContainerURL.
func NewClient(baseURL, token string, opts ...Option) *Client {
	c := &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		token:    token,
		fileName: DefaultFileName,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.http == nil {
		c.http = &http.Client{Timeout: 30 * time.Second}
	}
	if c.log == nil {
		c.log = logger.GetLogger().Named("recognition")
	}
	return c
}

// ContainerURL builds the base URL of a file-scanning container. host may be
// given with or without a scheme.
func ContainerURL(host, containerID string) string {
	if host == "" {
		host = DefaultHost
	}
	if !strings.Contains(host, "://") {
		host = "https://" + host
	}
	return strings.TrimRight(host, "/") + "/api/fs-containers/" + url.PathEscape(containerID)
}

func (c *Client) authorize(req *http.Request) {
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)
}

// Submit uploads audio and returns the provider's job id.
func (c *Client) Submit(ctx context.Context, audio []byte) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := mw.WriteField("data_type", "audio"); err != nil {
		return "", &SubmissionError{Err: err}
	}
	part, err := mw.CreateFormFile("file", c.fileName)
	if err != nil {
		return "", &SubmissionError{Err: err}
	}
	if _, err := part.Write(audio); err != nil {
		return "", &SubmissionError{Err: err}
	}
	if err := mw.Close(); err != nil {
		return "", &SubmissionError{Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/files", &body)
	if err != nil {
		return "", &SubmissionError{Err: err}
	}
	c.authorize(req)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	c.log.Debugf("submitting %d bytes", len(audio))
	resp, err := c.http.Do(req)
	if err != nil {
		return "", &SubmissionError{Err: fmt.Errorf("%w: %v", ErrTransport, err)}
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &SubmissionError{StatusCode: resp.StatusCode, Err: fmt.Errorf("%w: reading body: %v", ErrTransport, err)}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &SubmissionError{StatusCode: resp.StatusCode, Body: truncate(payload)}
	}

	id, err := parseJobID(payload)
	if err != nil {
		return "", &SubmissionError{StatusCode: resp.StatusCode, Err: err}
	}
	c.log.Infof("submitted recording, job %s", id)
	return id, nil
}

// Poll fetches the current state of a job once. Transport failures and
// non-2xx replies come back as a Pending result with an error wrapping
// ErrTransport so the caller can keep polling. A payload that cannot be
// interpreted yields StatusError with a *ParseError.
func (c *Client) Poll(ctx context.Context, jobID string) (models.MatchResult, error) {
	pending := models.MatchResult{Status: models.StatusPending}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/files/"+url.PathEscape(jobID), nil)
	if err != nil {
		return pending, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return pending, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return pending, fmt.Errorf("%w: reading body: %v", ErrTransport, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return pending, fmt.Errorf("%w: status %d: %s", ErrTransport, resp.StatusCode, truncate(payload))
	}

	result, err := ParseResult(payload)
	if err != nil {
		c.log.Warnf("job %s: %v", jobID, err)
		return result, err
	}
	c.log.Debugf("job %s: %s", jobID, result.Status)
	return result, nil
}

func truncate(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > maxErrorBody {
		return s[:maxErrorBody] + "..."
	}
	return s
}
