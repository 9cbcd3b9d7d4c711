package analysis

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors surfaced by the store and pipeline.
var (
	ErrNotFound         = errors.New("analysis not found")
	ErrAlreadyCompleted = errors.New("analysis already completed")
	ErrAlreadyRunning   = errors.New("analysis is already running")
)

// Error is the structured descriptor returned to callers when a pipeline run
// fails. It is persisted alongside the FAILED checkpoint so callers never see
// a bare internal error from the public entry points.
type Error struct {
	Type           string    `json:"type"`
	Message        string    `json:"message"`
	URL            string    `json:"url,omitempty"`
	AnalysisID     string    `json:"analysisId,omitempty"`
	CanResume      bool      `json:"canResume"`
	ProcessingTime float64   `json:"processingTime"`
	Suggestions    []string  `json:"suggestions,omitempty"`
	Timestamp      time.Time `json:"timestamp"`

	cause error
}

// NewError wraps cause in a resumable error descriptor.
func NewError(errType, analysisID, url string, processingTime float64, now time.Time, cause error) *Error {
	return &Error{
		Type:           errType,
		Message:        cause.Error(),
		URL:            url,
		AnalysisID:     analysisID,
		CanResume:      analysisID != "",
		ProcessingTime: processingTime,
		Timestamp:      now,
		Suggestions: []string{
			"Check if the website is accessible",
			"Verify the crawl provider API key is valid",
			"Try resuming the failed analysis",
		},
		cause: cause,
	}
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap exposes the underlying cause for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.cause
}
