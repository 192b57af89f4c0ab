package faceid

import (
	"errors"
	"fmt"
)

// Sentinel errors. Wrapped errors carry the details, match with errors.Is.
var (
	ErrNotFound         = errors.New("not found")
	ErrUnsupportedModel = errors.New("unsupported model variant")
	ErrValidation       = errors.New("validation failed")
)

// GenerationKind classifies why an embedding computation failed.
type GenerationKind string

const (
	KindCrash             GenerationKind = "crash"
	KindTimeout           GenerationKind = "timeout"
	KindMalformedOutput   GenerationKind = "malformed_output"
	KindDimensionMismatch GenerationKind = "dimension_mismatch"
	KindWorkerError       GenerationKind = "worker_error"
	KindFileNotFound      GenerationKind = "file_not_found"
	KindNoFace            GenerationKind = "no_face"
	KindDecodeError       GenerationKind = "decode_error"
	KindModelError        GenerationKind = "model_error"
	KindSpawnFailed       GenerationKind = "spawn_failed"
)

// GenerationError is returned when the isolated worker could not produce an embedding.
// Diagnostics holds whatever the worker printed before it exited.
type GenerationError struct {
	Kind        GenerationKind
	Message     string
	ExitCode    int
	Diagnostics string
	Err         error
}

func (e *GenerationError) Error() string {
	msg := fmt.Sprintf("embedding generation failed (%s)", e.Kind)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}

// AsGenerationError unwraps err into a *GenerationError if it is one.
func AsGenerationError(err error) (*GenerationError, bool) {
	var genErr *GenerationError
	if errors.As(err, &genErr) {
		return genErr, true
	}
	return nil, false
}

// NotFoundError reports a missing image or resource.
func NotFoundError(what string) error {
	return fmt.Errorf("%w: %s", ErrNotFound, what)
}

// UnsupportedModelError reports an unknown model variant.
func UnsupportedModelError(name string) error {
	return fmt.Errorf("%w: %q", ErrUnsupportedModel, name)
}

// ValidationErrorf formats a validation failure.
func ValidationErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
