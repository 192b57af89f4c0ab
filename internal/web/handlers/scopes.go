package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/kozaktomas/rollcall/internal/assign"
	"github.com/kozaktomas/rollcall/internal/cluster"
	"github.com/kozaktomas/rollcall/internal/database"
	"github.com/kozaktomas/rollcall/internal/faceid"
	"github.com/kozaktomas/rollcall/internal/pipeline"
)

// ScopesHandler runs the pipeline over the detections of a scope
type ScopesHandler struct {
	pipeline       *pipeline.Pipeline
	jobManager     *JobManager
	clusterDefault cluster.Options
	assignDefault  assign.Options
	log            logrus.FieldLogger
}

// NewScopesHandler creates a new scopes handler
func NewScopesHandler(p *pipeline.Pipeline, jm *JobManager, clusterDefault cluster.Options, assignDefault assign.Options, log logrus.FieldLogger) *ScopesHandler {
	return &ScopesHandler{
		pipeline:       p,
		jobManager:     jm,
		clusterDefault: clusterDefault,
		assignDefault:  assignDefault,
		log:            log,
	}
}

// List returns all scopes with detections
func (h *ScopesHandler) List(w http.ResponseWriter, r *http.Request) {
	scopes, err := h.pipeline.Store().ListScopes(r.Context())
	if err != nil {
		respondDomainError(w, err)
		return
	}
	if scopes == nil {
		scopes = []string{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"scopes": scopes})
}

// DetectionResponse is a detection without its vector
type DetectionResponse struct {
	ID               string              `json:"id"`
	Scope            string              `json:"scope"`
	ImagePath        string              `json:"image_path"`
	Confidence       *float64            `json:"confidence,omitempty"`
	Variant          faceid.Variant      `json:"model_variant,omitempty"`
	Dimension        int                 `json:"dimension,omitempty"`
	IdentityID       *string             `json:"identity_id,omitempty"`
	AssignedBy       database.AssignedBy `json:"assigned_by,omitempty"`
	AssignConfidence *float64            `json:"assign_confidence,omitempty"`
	UpdatedAt        time.Time           `json:"updated_at"`
}

func toDetectionResponse(d *database.Detection) DetectionResponse {
	resp := DetectionResponse{
		ID:               d.ID,
		Scope:            d.Scope,
		ImagePath:        d.ImagePath,
		Confidence:       d.Confidence,
		IdentityID:       d.IdentityID,
		AssignedBy:       d.AssignedBy,
		AssignConfidence: d.AssignConfidence,
		UpdatedAt:        d.UpdatedAt,
	}
	if d.Embedding != nil {
		resp.Variant = d.Embedding.Variant
		resp.Dimension = d.Embedding.Dimension()
	}
	return resp
}

// Detections lists the detections of a scope. ?unidentified=true and
// ?missing_embedding=true narrow the list.
func (h *ScopesHandler) Detections(w http.ResponseWriter, r *http.Request) {
	scope := chi.URLParam(r, "scope")
	q := r.URL.Query()
	filter := database.DetectionFilter{
		Unidentified:     q.Get("unidentified") == "true",
		MissingEmbedding: q.Get("missing_embedding") == "true",
	}

	detections, err := h.pipeline.Store().ListDetections(r.Context(), scope, filter)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	out := make([]DetectionResponse, len(detections))
	for i := range detections {
		out[i] = toDetectionResponse(&detections[i])
	}
	respondJSON(w, http.StatusOK, out)
}

// EmbedRequest starts an embedding job
type EmbedRequest struct {
	Variant    faceid.Variant `json:"model_variant"`
	Regenerate bool           `json:"regenerate"`
}

// Embed starts an asynchronous embedding job for a scope
func (h *ScopesHandler) Embed(w http.ResponseWriter, r *http.Request) {
	scope := chi.URLParam(r, "scope")
	var req EmbedRequest
	if r.ContentLength != 0 && !decodeJSON(w, r, &req) {
		return
	}

	spec, err := h.pipeline.Registry().Lookup(req.Variant)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	job := h.jobManager.CreateJob(uuid.New().String(), scope, spec.Name, req.Regenerate)
	go h.runEmbedJob(job)

	respondJSON(w, http.StatusAccepted, job.Info())
}

// runEmbedJob runs the embed job in the background
func (h *ScopesHandler) runEmbedJob(job *EmbedJob) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	job.start(cancel)

	info := job.Info()
	report, err := h.pipeline.EmbedScope(ctx, info.Scope, info.Variant, pipeline.EmbedOptions{
		Regenerate: info.Regenerate,
		Progress:   job.setProgress,
	})
	if err != nil {
		h.log.WithFields(logrus.Fields{"scope": info.Scope, "job": info.ID}).WithError(err).Warn("embed job failed")
	}
	job.finish(report, err)
}

// Jobs lists embedding jobs
func (h *ScopesHandler) Jobs(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.jobManager.ListJobs())
}

// JobStatus returns the status of an embedding job
func (h *ScopesHandler) JobStatus(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobId")
	job := h.jobManager.GetJob(jobID)
	if job == nil {
		respondError(w, http.StatusNotFound, "job not found")
		return
	}
	respondJSON(w, http.StatusOK, job.Info())
}

// JobEvents streams job events via SSE
func (h *ScopesHandler) JobEvents(w http.ResponseWriter, r *http.Request) {
	job := h.jobManager.GetJob(chi.URLParam(r, "jobId"))
	if job == nil {
		respondError(w, http.StatusNotFound, "job not found")
		return
	}
	streamJobEvents(w, r, job)
}

// CancelJob cancels an embedding job
func (h *ScopesHandler) CancelJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobId")
	job := h.jobManager.GetJob(jobID)
	if job == nil {
		respondError(w, http.StatusNotFound, "job not found")
		return
	}
	job.Cancel()
	respondJSON(w, http.StatusOK, map[string]bool{"cancelled": true})
}

// ClusterRequest runs clustering on a scope. Omitted options use the server defaults.
type ClusterRequest struct {
	Variant             faceid.Variant `json:"model_variant"`
	MaxClusters         *int           `json:"max_clusters,omitempty"`
	SimilarityThreshold *float64       `json:"similarity_threshold,omitempty"`
	MinClusterSize      *int           `json:"min_cluster_size,omitempty"`
	IncludeLabeled      *bool          `json:"include_labeled,omitempty"`
}

// Cluster clusters a scope and creates or reuses identities
func (h *ScopesHandler) Cluster(w http.ResponseWriter, r *http.Request) {
	scope := chi.URLParam(r, "scope")
	var req ClusterRequest
	if r.ContentLength != 0 && !decodeJSON(w, r, &req) {
		return
	}

	opts := h.clusterDefault
	if req.MaxClusters != nil {
		opts.MaxClusters = *req.MaxClusters
	}
	if req.SimilarityThreshold != nil {
		opts.SimilarityThreshold = *req.SimilarityThreshold
	}
	if req.MinClusterSize != nil {
		opts.MinClusterSize = *req.MinClusterSize
	}
	includeLabeled := req.IncludeLabeled == nil || *req.IncludeLabeled

	report, err := h.pipeline.ClusterScope(r.Context(), scope, req.Variant, opts, includeLabeled)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, report)
}

// ScopeAssignRequest runs assignment on a scope. Omitted options use the server defaults.
type ScopeAssignRequest struct {
	Variant             faceid.Variant `json:"model_variant"`
	K                   *int           `json:"k,omitempty"`
	SimilarityThreshold *float64       `json:"similarity_threshold,omitempty"`
	UseVoting           *bool          `json:"use_voting,omitempty"`
}

// Assign matches the unidentified detections of a scope against its identified ones
func (h *ScopesHandler) Assign(w http.ResponseWriter, r *http.Request) {
	scope := chi.URLParam(r, "scope")
	var req ScopeAssignRequest
	if r.ContentLength != 0 && !decodeJSON(w, r, &req) {
		return
	}

	opts := (&AssignRequest{K: req.K, SimilarityThreshold: req.SimilarityThreshold, UseVoting: req.UseVoting}).
		options(h.assignDefault)
	report, err := h.pipeline.AssignScope(r.Context(), scope, req.Variant, opts)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, report)
}
