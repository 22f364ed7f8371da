// Package apierr defines the error taxonomy shared by the scheduler,
// executor, and HTTP adapter, and the mapping from each kind to an HTTP
// status code.
package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind identifies which category of failure an Error represents.
type Kind int

const (
	// InvalidArgument is a schema validation or codec/container
	// incompatibility failure. No task is created.
	InvalidArgument Kind = iota
	// NotFound is a file/task lookup miss.
	NotFound
	// PreconditionFailed is an operation-specific precondition violation
	// (e.g. extract-audio on a file with no audio stream).
	PreconditionFailed
	// DownloadFailed is a Blob Store read failure.
	DownloadFailed
	// UploadFailed is a Blob Store write failure.
	UploadFailed
	// ProcessFailed means the external binary exited non-zero or timed out.
	ProcessFailed
	// MetadataProbeFailed means ffprobe could not be read. Probing an
	// output's metadata after upload is advisory and logged rather than
	// failed; probing an input's duration where an operation depends on it
	// (e.g. analyze-step chunk planning) fails the task.
	MetadataProbeFailed
	// Internal is an unclassified internal error.
	Internal
)

func (k Kind) String() string {
	switch k {
	case InvalidArgument:
		return "invalid-argument"
	case NotFound:
		return "not-found"
	case PreconditionFailed:
		return "precondition-failed"
	case DownloadFailed:
		return "download-failed"
	case UploadFailed:
		return "upload-failed"
	case ProcessFailed:
		return "process-failed"
	case MetadataProbeFailed:
		return "metadata-probe-failed"
	default:
		return "internal"
	}
}

// HTTPStatus returns the status code this kind maps to at the HTTP boundary.
func (k Kind) HTTPStatus() int {
	switch k {
	case InvalidArgument:
		return http.StatusBadRequest
	case NotFound:
		return http.StatusNotFound
	case PreconditionFailed, DownloadFailed, UploadFailed, ProcessFailed, MetadataProbeFailed:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// Error is a tagged error carrying a Kind alongside the underlying cause.
type Error struct {
	Kind Kind
	Err  error
}

func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

func Wrap(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// HTTPStatus returns the status code this error should be reported as.
func (e *Error) HTTPStatus() int { return e.Kind.HTTPStatus() }

// As is a convenience wrapper around errors.As for pulling a *Error out of
// an arbitrary error chain.
func As(err error) (*Error, bool) {
	var target *Error
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}
