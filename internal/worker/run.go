package worker

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"runtime/debug"

	"github.com/kozaktomas/rollcall/internal/constants"
)

// Exit codes of the worker command.
const (
	ExitOK           = 0
	ExitFailure      = 1 // failure payload written
	ExitBadRequest   = 2
	ExitPanic        = 3
	ExitResultFailed = 4 // result file could not be written
)

// Runner computes one embedding from a prepared JPEG image.
type Runner interface {
	Embed(ctx context.Context, req Request, jpegData []byte) ([]float32, error)
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, req Request, jpegData []byte) ([]float32, error)

func (f RunnerFunc) Embed(ctx context.Context, req Request, jpegData []byte) ([]float32, error) {
	return f(ctx, req, jpegData)
}

// Error is a classified worker failure.
type Error struct {
	Type    string
	Message string
}

func (e *Error) Error() string {
	return e.Type + ": " + e.Message
}

// NewError returns a classified failure.
func NewError(errorType, format string, args ...any) error {
	return &Error{Type: errorType, Message: fmt.Sprintf(format, args...)}
}

// Run executes one request end to end and always tries to leave a result file behind.
// It returns the process exit code.
func Run(ctx context.Context, requestPath, resultPath string, runner Runner) (code int) {
	defer func() {
		if r := recover(); r != nil {
			msg := fmt.Sprintf("panic: %v\n%s", r, debug.Stack())
			if err := WriteResult(resultPath, Failure(ErrorUnexpected, msg)); err != nil {
				fmt.Fprintln(os.Stderr, err)
			}
			fmt.Fprintln(os.Stderr, msg)
			code = ExitPanic
		}
	}()

	req, err := ReadRequest(requestPath)
	if err != nil {
		return finish(resultPath, Failure(ErrorInvalidRequest, err.Error()), ExitBadRequest)
	}

	vec, err := embed(ctx, req, runner)
	if err != nil {
		errorType, message := Classify(err)
		return finish(resultPath, Failure(errorType, message), ExitFailure)
	}
	return finish(resultPath, Success(vec), ExitOK)
}

func embed(ctx context.Context, req Request, runner Runner) ([]float32, error) {
	data, err := os.ReadFile(req.ImagePath)
	if err != nil {
		return nil, err
	}

	prepared, err := PrepareImage(data, constants.MaxImageSize)
	if err != nil {
		return nil, NewError(ErrorDecode, "%v", err)
	}

	vec, err := runner.Embed(ctx, req, prepared)
	if err != nil {
		return nil, err
	}
	for i, v := range vec {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return nil, NewError(ErrorModel, "model produced a non-finite value at index %d", i)
		}
	}
	return vec, nil
}

// Classify maps an error onto a failure payload type and message.
func Classify(err error) (string, string) {
	var werr *Error
	switch {
	case errors.As(err, &werr):
		return werr.Type, werr.Message
	case errors.Is(err, fs.ErrNotExist):
		return ErrorFileNotFound, err.Error()
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return ErrorUnexpected, "interrupted: " + err.Error()
	default:
		return ErrorUnexpected, err.Error()
	}
}

func finish(resultPath string, res Result, code int) int {
	if err := WriteResult(resultPath, res); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return ExitResultFailed
	}
	return code
}
