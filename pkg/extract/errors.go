package extract

import (
	"errors"
	"fmt"

	"github.com/teslashibe/go-highlight/pkg/detection"
)

// Failure kinds. Every error returned by Extractor matches exactly one of
// these with errors.Is.
var (
	// ErrVideoOpen is returned when the source is missing, corrupt or undecodable.
	ErrVideoOpen = errors.New("extract: video open failed")

	// ErrDurationExceeded is returned when the source is longer than the configured maximum.
	ErrDurationExceeded = errors.New("extract: video duration exceeded")

	// ErrModelLoad is returned when detection models or cascades are unavailable.
	ErrModelLoad = detection.ErrModelLoad

	// ErrExtraction is returned for any other failure while scanning, pooling or writing.
	ErrExtraction = errors.New("extract: extraction failed")
)

// Error carries the failing operation and the input or output it concerned.
type Error struct {
	Op   string // e.g. "open", "scan persons", "write"
	Path string
	Kind error // one of the Err* kinds above
	Err  error // underlying cause
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%v: %s %s", e.Kind, e.Op, e.Path)
	}
	return fmt.Sprintf("%v: %s %s: %v", e.Kind, e.Op, e.Path, e.Err)
}

// Unwrap exposes both the kind and the cause to errors.Is and errors.As.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func newError(op, path string, kind, err error) *Error {
	return &Error{Op: op, Path: path, Kind: kind, Err: err}
}

// KindOf returns a short label for the failure kind of err, or "" for nil.
func KindOf(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrDurationExceeded):
		return "duration_exceeded"
	case errors.Is(err, ErrVideoOpen):
		return "video_open"
	case errors.Is(err, ErrModelLoad):
		return "model_load"
	default:
		return "extraction"
	}
}
