package errors

import (
	"errors"
	"fmt"
)

var (
	ErrUnsupportedFormat          = errors.New("unsupported document format")
	ErrOcrTimeout                 = errors.New("ocr analysis deadline exceeded")
	ErrOcrFailure                 = errors.New("ocr analysis failed")
	ErrTemplateMissingPlaceholder = errors.New("prompt template missing placeholder")
	ErrEmptyCompletion            = errors.New("model returned no text content")
	ErrNoJSONFound                = errors.New("no json object found in completion")
	ErrModelAuth                  = errors.New("model authentication failed")
	ErrModelNotFound              = errors.New("model not found")
	ErrInvalid                    = errors.New("invalid")
	ErrNotFound                   = errors.New("not found")
	ErrConflict                   = errors.New("conflict")
)

func IsUnsupportedFormat(err error) bool {
	return errors.Is(err, ErrUnsupportedFormat)
}

func IsOcrTimeout(err error) bool {
	return errors.Is(err, ErrOcrTimeout)
}

// MalformedJSONError carries the extracted span and the decoder's byte
// offset so an operator can see exactly where a truncated completion broke.
type MalformedJSONError struct {
	Raw    string
	Offset int64
	Err    error
}

func (e *MalformedJSONError) Error() string {
	return fmt.Sprintf("malformed json at offset %d: %v", e.Offset, e.Err)
}

func (e *MalformedJSONError) Unwrap() error {
	return e.Err
}

func IsMalformedJSON(err error) bool {
	var target *MalformedJSONError
	return errors.As(err, &target)
}

// TransientError marks a model-call failure that may succeed on retry
// (throttling, transient network errors).
type TransientError struct {
	err error
}

func NewTransient(err error) error {
	return &TransientError{err: err}
}

func (e *TransientError) Error() string {
	return e.err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.err
}

// FatalError marks a model-call failure that retrying cannot fix
// (auth, malformed request, unknown model).
type FatalError struct {
	err error
}

func NewFatal(err error) error {
	return &FatalError{err: err}
}

func (e *FatalError) Error() string {
	return e.err.Error()
}

func (e *FatalError) Unwrap() error {
	return e.err
}

func IsTransient(err error) bool {
	var target *TransientError
	return errors.As(err, &target)
}

func IsFatal(err error) bool {
	var target *FatalError
	return errors.As(err, &target)
}
