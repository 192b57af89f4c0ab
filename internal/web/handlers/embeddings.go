package handlers

import (
	"context"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/kozaktomas/rollcall/internal/faceid"
)

// Generator computes one embedding.
type Generator interface {
	Generate(ctx context.Context, imagePath string, variant faceid.Variant) (faceid.FaceEmbedding, error)
}

// EmbeddingsHandler exposes the embedding service
type EmbeddingsHandler struct {
	generator Generator
	log       logrus.FieldLogger
}

// NewEmbeddingsHandler creates a new embeddings handler
func NewEmbeddingsHandler(generator Generator, log logrus.FieldLogger) *EmbeddingsHandler {
	return &EmbeddingsHandler{generator: generator, log: log}
}

// EmbeddingRequest asks for the embedding of one face crop
type EmbeddingRequest struct {
	ImagePath string         `json:"image_path"`
	Variant   faceid.Variant `json:"model_variant"`
}

// EmbeddingResponse is a computed embedding
type EmbeddingResponse struct {
	Variant   faceid.Variant `json:"model_variant"`
	Dimension int            `json:"dimension"`
	Embedding []float32      `json:"embedding"`
}

// Generate computes the embedding of a face crop on the server's filesystem
func (h *EmbeddingsHandler) Generate(w http.ResponseWriter, r *http.Request) {
	var req EmbeddingRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.ImagePath == "" {
		respondError(w, http.StatusBadRequest, "image_path is required")
		return
	}

	emb, err := h.generator.Generate(r.Context(), req.ImagePath, req.Variant)
	if err != nil {
		h.log.WithFields(logrus.Fields{
			"image":   sanitizeForLog(req.ImagePath),
			"variant": sanitizeForLog(string(req.Variant)),
		}).WithError(err).Debug("embedding request failed")
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, EmbeddingResponse{
		Variant:   emb.Variant,
		Dimension: emb.Dimension(),
		Embedding: emb.Vector,
	})
}
