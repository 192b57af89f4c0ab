// Package worker is the child side of embedding isolation. One worker process reads a
// request file, computes a single face embedding and writes a result file, then exits.
package worker

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/kozaktomas/rollcall/internal/faceid"
)

// Error types reported in a failure payload. The parent maps them onto GenerationError kinds.
const (
	ErrorFileNotFound   = string(faceid.KindFileNotFound)
	ErrorNoFace         = string(faceid.KindNoFace)
	ErrorDecode         = string(faceid.KindDecodeError)
	ErrorModel          = string(faceid.KindModelError)
	ErrorUnexpected     = "unexpected_error"
	ErrorInvalidRequest = "invalid_request"
)

// Request is the structured input handed to one worker process.
type Request struct {
	ImagePath string            `json:"image_path"`
	Variant   string            `json:"model_variant"`
	Model     string            `json:"model"`
	Dimension int               `json:"dimension"`
	Params    map[string]string `json:"params,omitempty"`
}

// Result is the single structured output of a worker process.
type Result struct {
	Success      bool      `json:"success"`
	Embedding    []float32 `json:"embedding,omitempty"`
	Dimension    int       `json:"dimension,omitempty"`
	ErrorType    string    `json:"error_type,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
}

// Success builds a success payload.
func Success(vec []float32) Result {
	return Result{Success: true, Embedding: vec, Dimension: len(vec)}
}

// Failure builds a failure payload.
func Failure(errorType, message string) Result {
	return Result{Success: false, ErrorType: errorType, ErrorMessage: message}
}

// NewRequest builds the request for one image under the given variant.
func NewRequest(imagePath string, spec faceid.VariantSpec) Request {
	return Request{
		ImagePath: imagePath,
		Variant:   string(spec.Name),
		Model:     spec.Model,
		Dimension: spec.Dimension,
		Params:    spec.Params,
	}
}

// WriteRequest writes the request file.
func WriteRequest(path string, req Request) error {
	return writeJSONAtomic(path, req)
}

// ReadRequest reads and validates a request file.
func ReadRequest(path string) (Request, error) {
	var req Request
	data, err := os.ReadFile(path) //nolint:gosec // path comes from the parent process
	if err != nil {
		return req, fmt.Errorf("failed to read request: %w", err)
	}
	if err := json.Unmarshal(data, &req); err != nil {
		return req, fmt.Errorf("failed to parse request: %w", err)
	}
	if req.ImagePath == "" {
		return req, fmt.Errorf("request has no image_path")
	}
	if req.Dimension <= 0 {
		return req, fmt.Errorf("request has invalid dimension %d", req.Dimension)
	}
	return req, nil
}

// WriteResult writes the result through a temp file and a rename, so a reader sees
// either nothing or the complete payload.
func WriteResult(path string, res Result) error {
	return writeJSONAtomic(path, res)
}

// ReadResult parses a result file. An empty file is an error.
func ReadResult(path string) (Result, error) {
	var res Result
	data, err := os.ReadFile(path) //nolint:gosec // path is created by the parent process
	if err != nil {
		return res, fmt.Errorf("failed to read result: %w", err)
	}
	if len(data) == 0 {
		return res, fmt.Errorf("result file is empty")
	}
	if err := json.Unmarshal(data, &res); err != nil {
		return res, fmt.Errorf("failed to parse result: %w", err)
	}
	return res, nil
}

func writeJSONAtomic(path string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", filepath.Base(path), err)
	}
	if err := writeFileAtomic(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	return nil
}
