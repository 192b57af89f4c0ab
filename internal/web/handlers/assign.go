package handlers

import (
	"fmt"
	"net/http"

	"github.com/kozaktomas/rollcall/internal/assign"
	"github.com/kozaktomas/rollcall/internal/faceid"
)

// AssignHandler exposes the assignment engine on caller-supplied pools
type AssignHandler struct {
	registry *faceid.Registry
	defaults assign.Options
}

// NewAssignHandler creates a new assign handler
func NewAssignHandler(registry *faceid.Registry, defaults assign.Options) *AssignHandler {
	return &AssignHandler{registry: registry, defaults: defaults}
}

// EmbeddingInput is an embedding in a request body
type EmbeddingInput struct {
	Variant   faceid.Variant `json:"model_variant"`
	Embedding []float32      `json:"embedding"`
}

// PoolEntry is one labeled embedding in a request body
type PoolEntry struct {
	EmbeddingInput
	IdentityID  string `json:"identity_id"`
	DetectionID string `json:"detection_id,omitempty"`
}

// AssignRequest asks for the identity of one query embedding. Omitted options use the
// server defaults.
type AssignRequest struct {
	Query               EmbeddingInput `json:"query"`
	Pool                []PoolEntry    `json:"pool"`
	K                   *int           `json:"k,omitempty"`
	SimilarityThreshold *float64       `json:"similarity_threshold,omitempty"`
	UseVoting           *bool          `json:"use_voting,omitempty"`
}

func (req *AssignRequest) options(defaults assign.Options) assign.Options {
	opts := defaults
	if req.K != nil {
		opts.K = *req.K
	}
	if req.SimilarityThreshold != nil {
		opts.SimilarityThreshold = *req.SimilarityThreshold
	}
	if req.UseVoting != nil {
		opts.UseVoting = *req.UseVoting
	}
	return opts
}

// Assign runs one assignment
func (h *AssignHandler) Assign(w http.ResponseWriter, r *http.Request) {
	var req AssignRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	query, pool, err := h.embeddings(&req)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	res, err := assign.Assign(query, pool, req.options(h.defaults))
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

// embeddings resolves the request's variants and checks every vector against the
// model table. Pool entries without a variant take the query's.
func (h *AssignHandler) embeddings(req *AssignRequest) (faceid.FaceEmbedding, []faceid.LabeledEmbedding, error) {
	spec, err := h.registry.Lookup(req.Query.Variant)
	if err != nil {
		return faceid.FaceEmbedding{}, nil, err
	}
	query := faceid.FaceEmbedding{Variant: spec.Name, Vector: req.Query.Embedding}
	if err := query.Validate(h.registry); err != nil {
		return faceid.FaceEmbedding{}, nil, fmt.Errorf("query: %w", err)
	}

	pool := make([]faceid.LabeledEmbedding, len(req.Pool))
	for i, p := range req.Pool {
		variant := p.Variant
		if variant == "" {
			variant = query.Variant
		}
		emb := faceid.FaceEmbedding{Variant: variant, Vector: p.Embedding}
		if err := emb.Validate(h.registry); err != nil {
			return faceid.FaceEmbedding{}, nil, fmt.Errorf("pool entry %d: %w", i, err)
		}
		pool[i] = faceid.LabeledEmbedding{
			Embedding:   emb,
			IdentityID:  p.IdentityID,
			DetectionID: p.DetectionID,
		}
	}
	return query, pool, nil
}
