package handlers

import (
	"net/http"

	"github.com/kozaktomas/rollcall/internal/faceid"
)

// ModelsHandler serves the model variant table
type ModelsHandler struct {
	registry *faceid.Registry
}

// NewModelsHandler creates a new models handler
func NewModelsHandler(registry *faceid.Registry) *ModelsHandler {
	return &ModelsHandler{registry: registry}
}

// ModelsResponse lists the supported variants
type ModelsResponse struct {
	Default faceid.Variant       `json:"default"`
	Models  []faceid.VariantSpec `json:"models"`
}

// List returns every supported model variant with its dimension
func (h *ModelsHandler) List(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, ModelsResponse{
		Default: h.registry.Default(),
		Models:  h.registry.Specs(),
	})
}
