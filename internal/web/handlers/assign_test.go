package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kozaktomas/rollcall/internal/assign"
)

func TestAssignHandler_Assign(t *testing.T) {
	h := NewAssignHandler(testRegistry(t), assign.DefaultOptions())
	pool := `[
		{"identity_id": "A", "embedding": [1, 0.1, 0]},
		{"identity_id": "A", "embedding": [1, 0.2, 0]},
		{"identity_id": "B", "embedding": [0.1, 1, 0]}
	]`

	tests := []struct {
		name            string
		body            string
		expectedStatus  int
		expectedMatched bool
		expectedID      string
	}{
		{
			name:            "match with voting",
			body:            `{"query": {"model_variant": "small", "embedding": [1, 0, 0]}, "pool": ` + pool + `, "k": 3}`,
			expectedStatus:  http.StatusOK,
			expectedMatched: true,
			expectedID:      "A",
		},
		{
			name:            "no match above threshold",
			body:            `{"query": {"model_variant": "small", "embedding": [-1, -1, 0]}, "pool": ` + pool + `, "similarity_threshold": 0.9}`,
			expectedStatus:  http.StatusOK,
			expectedMatched: false,
		},
		{
			name:            "default variant",
			body:            `{"query": {"embedding": [1, 0, 0]}, "pool": ` + pool + `, "k": 3}`,
			expectedStatus:  http.StatusOK,
			expectedMatched: true,
			expectedID:      "A",
		},
		{
			name:           "query dimension differs from model",
			body:           `{"query": {"model_variant": "small", "embedding": [1, 0]}, "pool": [{"identity_id": "A", "embedding": [1, 0]}]}`,
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "pool dimension mismatch",
			body:           `{"query": {"model_variant": "small", "embedding": [1, 0, 0]}, "pool": [{"identity_id": "A", "embedding": [1, 0]}]}`,
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "unknown variant",
			body:           `{"query": {"model_variant": "vgg", "embedding": [1, 0, 0]}, "pool": [{"identity_id": "A", "model_variant": "vgg", "embedding": [1, 0, 0]}]}`,
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "pool entry with another variant",
			body:           `{"query": {"model_variant": "small", "embedding": [1, 0, 0]}, "pool": [{"identity_id": "A", "model_variant": "large", "embedding": [1, 0, 0]}]}`,
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "invalid k",
			body:           `{"query": {"model_variant": "small", "embedding": [1, 0, 0]}, "pool": ` + pool + `, "k": 0}`,
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "invalid json",
			body:           `{"query":`,
			expectedStatus: http.StatusBadRequest,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			recorder := httptest.NewRecorder()
			h.Assign(recorder, jsonRequest(t, http.MethodPost, "/api/v1/assign", tc.body))

			assertStatusCode(t, recorder, tc.expectedStatus)
			if tc.expectedStatus != http.StatusOK {
				return
			}
			var res assign.Result
			parseJSONResponse(t, recorder, &res)
			if res.Matched != tc.expectedMatched {
				t.Errorf("expected matched=%v, got %v", tc.expectedMatched, res.Matched)
			}
			if tc.expectedID != "" && res.IdentityID != tc.expectedID {
				t.Errorf("expected identity '%s', got '%s'", tc.expectedID, res.IdentityID)
			}
		})
	}
}

func TestAssignRequest_Options(t *testing.T) {
	k, th, voting := 7, 0.8, false
	req := AssignRequest{K: &k, SimilarityThreshold: &th, UseVoting: &voting}

	opts := req.options(assign.DefaultOptions())
	if opts.K != 7 || opts.SimilarityThreshold != 0.8 || opts.UseVoting {
		t.Errorf("expected overrides applied, got %+v", opts)
	}

	opts = (&AssignRequest{}).options(assign.DefaultOptions())
	if opts != assign.DefaultOptions() {
		t.Errorf("expected defaults, got %+v", opts)
	}
}
