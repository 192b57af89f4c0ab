package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/rollcall/internal/database"
)

// IdentitiesHandler manages identities and manual corrections
type IdentitiesHandler struct {
	store database.Store
}

// NewIdentitiesHandler creates a new identities handler
func NewIdentitiesHandler(store database.Store) *IdentitiesHandler {
	return &IdentitiesHandler{store: store}
}

// List returns the identities of a scope with detection counts
func (h *IdentitiesHandler) List(w http.ResponseWriter, r *http.Request) {
	identities, err := h.store.ListIdentities(r.Context(), chi.URLParam(r, "scope"))
	if err != nil {
		respondDomainError(w, err)
		return
	}
	if identities == nil {
		identities = []database.Identity{}
	}
	respondJSON(w, http.StatusOK, identities)
}

// RenameRequest sets a display name
type RenameRequest struct {
	DisplayName string `json:"display_name"`
}

// Rename changes the display name of an identity
func (h *IdentitiesHandler) Rename(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req RenameRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.DisplayName = strings.TrimSpace(req.DisplayName)
	if req.DisplayName == "" {
		respondError(w, http.StatusBadRequest, "display_name is required")
		return
	}

	if err := h.store.RenameIdentity(r.Context(), id, req.DisplayName); err != nil {
		respondDomainError(w, err)
		return
	}
	ident, err := h.store.GetIdentity(r.Context(), id)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, ident)
}

// MergeRequest names the identity to fold into the one in the URL
type MergeRequest struct {
	MergedID string `json:"merged_id"`
}

// Merge moves all detections of merged_id to the identity in the URL
func (h *IdentitiesHandler) Merge(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req MergeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.MergedID == "" {
		respondError(w, http.StatusBadRequest, "merged_id is required")
		return
	}

	if err := h.store.MergeIdentities(r.Context(), id, req.MergedID); err != nil {
		respondDomainError(w, err)
		return
	}
	ident, err := h.store.GetIdentity(r.Context(), id)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, ident)
}

// SetIdentityRequest assigns a detection manually
type SetIdentityRequest struct {
	IdentityID string `json:"identity_id"`
}

// SetDetectionIdentity links a detection to an identity by hand
func (h *IdentitiesHandler) SetDetectionIdentity(w http.ResponseWriter, r *http.Request) {
	detectionID := chi.URLParam(r, "id")
	var req SetIdentityRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.IdentityID == "" {
		respondError(w, http.StatusBadRequest, "identity_id is required")
		return
	}

	err := h.store.AssignIdentity(r.Context(), database.Assignment{
		DetectionID: detectionID,
		IdentityID:  req.IdentityID,
		By:          database.AssignedByManual,
	})
	if err != nil {
		respondDomainError(w, err)
		return
	}
	d, err := h.store.GetDetection(r.Context(), detectionID)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, toDetectionResponse(d))
}

// ClearDetectionIdentity unlinks a detection
func (h *IdentitiesHandler) ClearDetectionIdentity(w http.ResponseWriter, r *http.Request) {
	if err := h.store.ClearIdentity(r.Context(), chi.URLParam(r, "id")); err != nil {
		respondDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
