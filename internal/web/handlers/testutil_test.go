package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/rollcall/internal/embedder"
	"github.com/kozaktomas/rollcall/internal/faceid"
)

// testRegistry creates a small variant table for testing
func testRegistry(t *testing.T) *faceid.Registry {
	t.Helper()
	r, err := faceid.NewRegistry([]faceid.VariantSpec{
		{Name: "small", Dimension: 3, Runner: faceid.RunnerNative, Description: "test model"},
		{Name: "large", Dimension: 5, Runner: faceid.RunnerPython, Model: "ArcFace"},
	}, "small")
	if err != nil {
		t.Fatalf("failed to create registry: %v", err)
	}
	return r
}

// fakeGenerator returns fixed embeddings per image path and errors for everything else
type fakeGenerator struct {
	registry *faceid.Registry
	vectors  map[string][]float32
	errs     map[string]error
}

func newFakeGenerator(t *testing.T) *fakeGenerator {
	return &fakeGenerator{registry: testRegistry(t), vectors: map[string][]float32{}, errs: map[string]error{}}
}

func (f *fakeGenerator) Registry() *faceid.Registry { return f.registry }

func (f *fakeGenerator) Generate(ctx context.Context, path string, variant faceid.Variant) (faceid.FaceEmbedding, error) {
	if err, ok := f.errs[path]; ok {
		return faceid.FaceEmbedding{}, err
	}
	vec, ok := f.vectors[path]
	if !ok {
		return faceid.FaceEmbedding{}, faceid.NotFoundError("image " + path)
	}
	spec, err := f.registry.Lookup(variant)
	if err != nil {
		return faceid.FaceEmbedding{}, err
	}
	return faceid.NewFaceEmbedding(spec, vec)
}

func (f *fakeGenerator) GenerateBatch(ctx context.Context, paths []string, variant faceid.Variant, onItem embedder.ItemFunc) (*embedder.BatchResult, error) {
	if _, err := f.registry.Lookup(variant); err != nil {
		return nil, err
	}
	res := &embedder.BatchResult{
		Embeddings: make([]*faceid.FaceEmbedding, len(paths)),
		Errors:     make([]error, len(paths)),
	}
	for i, p := range paths {
		if err := ctx.Err(); err != nil {
			res.Errors[i] = err
			res.Failed++
			onItem(i, nil, err)
			continue
		}
		emb, err := f.Generate(ctx, p, variant)
		if err != nil {
			res.Errors[i] = err
			res.Failed++
			onItem(i, nil, err)
			continue
		}
		res.Embeddings[i] = &emb
		res.Succeeded++
		onItem(i, &emb, nil)
	}
	return res, nil
}

// jsonRequest creates a request with a JSON body
func jsonRequest(t *testing.T, method, path, body string) *http.Request {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

// requestWithChiParams creates a request with chi URL parameters
func requestWithChiParams(r *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for key, value := range params {
		rctx.URLParams.Add(key, value)
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// parseJSONResponse parses a JSON response body into the target type
func parseJSONResponse(t *testing.T, recorder *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.Unmarshal(recorder.Body.Bytes(), target); err != nil {
		t.Fatalf("failed to parse JSON response: %v\nBody: %s", err, recorder.Body.String())
	}
}

// assertStatusCode checks if the response has the expected status code
func assertStatusCode(t *testing.T, recorder *httptest.ResponseRecorder, expected int) {
	t.Helper()
	if recorder.Code != expected {
		t.Errorf("expected status %d, got %d\nBody: %s", expected, recorder.Code, recorder.Body.String())
	}
}

// assertContentType checks if the response has the expected content type
func assertContentType(t *testing.T, recorder *httptest.ResponseRecorder, expected string) {
	t.Helper()
	ct := recorder.Header().Get("Content-Type")
	if ct != expected {
		t.Errorf("expected Content-Type '%s', got '%s'", expected, ct)
	}
}

// assertJSONError checks if the response is a JSON error with the expected message
func assertJSONError(t *testing.T, recorder *httptest.ResponseRecorder, expectedMessage string) {
	t.Helper()
	var result map[string]string
	if err := json.Unmarshal(recorder.Body.Bytes(), &result); err != nil {
		t.Fatalf("failed to parse error response: %v\nBody: %s", err, recorder.Body.String())
	}
	if result["error"] != expectedMessage {
		t.Errorf("expected error '%s', got '%s'", expectedMessage, result["error"])
	}
}
