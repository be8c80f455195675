package recognition

import (
	"errors"
	"fmt"
)

var (
	ErrSubmission = errors.New("recognition: submission failed")
	ErrParse      = errors.New("recognition: malformed response")
	ErrTransport  = errors.New("recognition: transport failure")
)

// SubmissionError reports a failed upload. StatusCode is zero when the
// request never got a response.
type SubmissionError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *SubmissionError) Error() string {
	switch {
	case e.StatusCode != 0:
		return fmt.Sprintf("recognition: submission failed with status %d: %s", e.StatusCode, e.Body)
	case e.Err != nil:
		return fmt.Sprintf("recognition: submission failed: %v", e.Err)
	default:
		return "recognition: submission failed"
	}
}

func (e *SubmissionError) Unwrap() error { return e.Err }

func (e *SubmissionError) Is(target error) bool { return target == ErrSubmission }

// ParseError reports a response body that could not be interpreted.
type ParseError struct {
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("recognition: %s: %v", e.Reason, e.Err)
	}
	return "recognition: " + e.Reason
}

func (e *ParseError) Unwrap() error { return e.Err }

func (e *ParseError) Is(target error) bool { return target == ErrParse }
