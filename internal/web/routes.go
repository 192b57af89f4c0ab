package web

import (
	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/rollcall/internal/assign"
	"github.com/kozaktomas/rollcall/internal/cluster"
	"github.com/kozaktomas/rollcall/internal/web/handlers"
)

func (s *Server) setupRoutes() {
	clusterDefaults := cluster.Options{
		MaxClusters:         s.config.Cluster.MaxClusters,
		SimilarityThreshold: s.config.Cluster.SimilarityThreshold,
		MinClusterSize:      s.config.Cluster.MinClusterSize,
	}
	assignDefaults := assign.Options{
		K:                   s.config.Assign.K,
		SimilarityThreshold: s.config.Assign.SimilarityThreshold,
		UseVoting:           s.config.Assign.UseVoting,
	}

	modelsHandler := handlers.NewModelsHandler(s.pipeline.Registry())
	embeddingsHandler := handlers.NewEmbeddingsHandler(s.generator, s.log)
	assignHandler := handlers.NewAssignHandler(s.pipeline.Registry(), assignDefaults)
	scopesHandler := handlers.NewScopesHandler(s.pipeline, s.jobManager, clusterDefaults, assignDefaults, s.log)
	identitiesHandler := handlers.NewIdentitiesHandler(s.pipeline.Store())

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", handlers.HealthCheck)

		// Stateless engines
		r.Get("/models", modelsHandler.List)
		r.Post("/embeddings", embeddingsHandler.Generate)
		r.Post("/assign", assignHandler.Assign)

		// Scopes
		r.Get("/scopes", scopesHandler.List)
		r.Get("/scopes/{scope}/detections", scopesHandler.Detections)
		r.Get("/scopes/{scope}/identities", identitiesHandler.List)
		r.Post("/scopes/{scope}/embed", scopesHandler.Embed)
		r.Post("/scopes/{scope}/cluster", scopesHandler.Cluster)
		r.Post("/scopes/{scope}/assign", scopesHandler.Assign)

		// Embedding jobs
		r.Get("/jobs", scopesHandler.Jobs)
		r.Get("/jobs/{jobId}", scopesHandler.JobStatus)
		r.Get("/jobs/{jobId}/events", scopesHandler.JobEvents)
		r.Delete("/jobs/{jobId}", scopesHandler.CancelJob)

		// Identities and manual corrections
		r.Put("/identities/{id}", identitiesHandler.Rename)
		r.Post("/identities/{id}/merge", identitiesHandler.Merge)
		r.Put("/detections/{id}/identity", identitiesHandler.SetDetectionIdentity)
		r.Delete("/detections/{id}/identity", identitiesHandler.ClearDetectionIdentity)
	})
}
