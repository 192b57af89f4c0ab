package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kozaktomas/rollcall/internal/assign"
	"github.com/kozaktomas/rollcall/internal/cluster"
	"github.com/kozaktomas/rollcall/internal/database"
	"github.com/kozaktomas/rollcall/internal/database/mock"
	"github.com/kozaktomas/rollcall/internal/faceid"
	"github.com/kozaktomas/rollcall/internal/logging"
	"github.com/kozaktomas/rollcall/internal/pipeline"
)

func newScopesHandler(t *testing.T) (*ScopesHandler, *mock.Store, *fakeGenerator) {
	t.Helper()
	store := mock.NewStore()
	gen := newFakeGenerator(t)
	p := pipeline.New(store, gen, pipeline.Options{})
	h := NewScopesHandler(p, NewJobManager(), cluster.DefaultOptions(), assign.DefaultOptions(), logging.Discard())
	return h, store, gen
}

func embedded(vec ...float32) *faceid.FaceEmbedding {
	return &faceid.FaceEmbedding{Variant: "small", Vector: vec}
}

func strPtr(s string) *string { return &s }

func waitForJob(t *testing.T, jm *JobManager, id string) EmbedJobInfo {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if job := jm.GetJob(id); job != nil && isJobTerminal(job.GetStatus()) {
			return job.Info()
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("job %s did not finish", id)
	return EmbedJobInfo{}
}

func TestScopesHandler_List(t *testing.T) {
	h, store, _ := newScopesHandler(t)
	store.AddDetection(database.Detection{ID: "d1", Scope: "class-b"})
	store.AddDetection(database.Detection{ID: "d2", Scope: "class-a"})

	recorder := httptest.NewRecorder()
	h.List(recorder, httptest.NewRequest(http.MethodGet, "/api/v1/scopes", nil))

	assertStatusCode(t, recorder, http.StatusOK)
	var resp struct {
		Scopes []string `json:"scopes"`
	}
	parseJSONResponse(t, recorder, &resp)
	if len(resp.Scopes) != 2 || resp.Scopes[0] != "class-a" {
		t.Errorf("expected [class-a class-b], got %v", resp.Scopes)
	}
}

func TestScopesHandler_Detections(t *testing.T) {
	h, store, _ := newScopesHandler(t)
	store.AddIdentity(database.Identity{ID: "i1", Scope: "class-a", DisplayName: "Student 1"})
	store.AddDetection(database.Detection{ID: "d1", Scope: "class-a", Embedding: embedded(1, 0, 0), IdentityID: strPtr("i1")})
	store.AddDetection(database.Detection{ID: "d2", Scope: "class-a"})

	tests := []struct {
		name     string
		query    string
		expected int
	}{
		{"all", "", 2},
		{"unidentified", "?unidentified=true", 1},
		{"missing embedding", "?missing_embedding=true", 1},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := requestWithChiParams(
				httptest.NewRequest(http.MethodGet, "/api/v1/scopes/class-a/detections"+tc.query, nil),
				map[string]string{"scope": "class-a"},
			)
			recorder := httptest.NewRecorder()
			h.Detections(recorder, req)

			assertStatusCode(t, recorder, http.StatusOK)
			var resp []DetectionResponse
			parseJSONResponse(t, recorder, &resp)
			if len(resp) != tc.expected {
				t.Errorf("expected %d detections, got %d", tc.expected, len(resp))
			}
		})
	}
}

func TestScopesHandler_EmbedJob(t *testing.T) {
	h, store, gen := newScopesHandler(t)
	gen.vectors["/crops/a.jpg"] = []float32{1, 0, 0}
	store.AddDetection(database.Detection{ID: "d1", Scope: "class-a", ImagePath: "/crops/a.jpg"})
	store.AddDetection(database.Detection{ID: "d2", Scope: "class-a", ImagePath: "/crops/missing.jpg"})

	req := requestWithChiParams(
		jsonRequest(t, http.MethodPost, "/api/v1/scopes/class-a/embed", `{}`),
		map[string]string{"scope": "class-a"},
	)
	recorder := httptest.NewRecorder()
	h.Embed(recorder, req)

	assertStatusCode(t, recorder, http.StatusAccepted)
	var started EmbedJobInfo
	parseJSONResponse(t, recorder, &started)
	if started.ID == "" || started.Variant != "small" {
		t.Fatalf("expected job with default variant, got %+v", started)
	}

	info := waitForJob(t, h.jobManager, started.ID)
	if info.Status != JobStatusCompleted {
		t.Fatalf("expected completed, got %s (%s)", info.Status, info.Error)
	}
	if info.Result == nil || info.Result.Succeeded != 1 || info.Result.Failed != 1 {
		t.Errorf("expected 1 succeeded and 1 failed, got %+v", info.Result)
	}
	if info.Processed != 2 || info.Total != 2 {
		t.Errorf("expected progress 2/2, got %d/%d", info.Processed, info.Total)
	}

	d, err := store.GetDetection(t.Context(), "d1")
	if err != nil {
		t.Fatal(err)
	}
	if d.Embedding == nil {
		t.Error("expected d1 to have an embedding")
	}
}

func TestScopesHandler_EmbedUnsupportedModel(t *testing.T) {
	h, _, _ := newScopesHandler(t)

	req := requestWithChiParams(
		jsonRequest(t, http.MethodPost, "/api/v1/scopes/class-a/embed", `{"model_variant": "huge"}`),
		map[string]string{"scope": "class-a"},
	)
	recorder := httptest.NewRecorder()
	h.Embed(recorder, req)

	assertStatusCode(t, recorder, http.StatusBadRequest)
	if jobs := h.jobManager.ListJobs(); len(jobs) != 0 {
		t.Errorf("expected no job to be created, got %d", len(jobs))
	}
}

func TestScopesHandler_JobEndpoints(t *testing.T) {
	h, _, _ := newScopesHandler(t)
	job := h.jobManager.CreateJob("job-1", "class-a", "small", false)

	t.Run("status", func(t *testing.T) {
		recorder := httptest.NewRecorder()
		h.JobStatus(recorder, requestWithChiParams(httptest.NewRequest(http.MethodGet, "/api/v1/jobs/job-1", nil),
			map[string]string{"jobId": "job-1"}))

		assertStatusCode(t, recorder, http.StatusOK)
		var info EmbedJobInfo
		parseJSONResponse(t, recorder, &info)
		if info.Status != JobStatusPending {
			t.Errorf("expected pending, got %s", info.Status)
		}
	})

	t.Run("status of unknown job", func(t *testing.T) {
		recorder := httptest.NewRecorder()
		h.JobStatus(recorder, requestWithChiParams(httptest.NewRequest(http.MethodGet, "/api/v1/jobs/nope", nil),
			map[string]string{"jobId": "nope"}))

		assertStatusCode(t, recorder, http.StatusNotFound)
		assertJSONError(t, recorder, "job not found")
	})

	t.Run("list", func(t *testing.T) {
		recorder := httptest.NewRecorder()
		h.Jobs(recorder, httptest.NewRequest(http.MethodGet, "/api/v1/jobs", nil))

		assertStatusCode(t, recorder, http.StatusOK)
		var jobs []EmbedJobInfo
		parseJSONResponse(t, recorder, &jobs)
		if len(jobs) != 1 || jobs[0].ID != "job-1" {
			t.Errorf("expected [job-1], got %+v", jobs)
		}
	})

	t.Run("cancel", func(t *testing.T) {
		recorder := httptest.NewRecorder()
		h.CancelJob(recorder, requestWithChiParams(httptest.NewRequest(http.MethodDelete, "/api/v1/jobs/job-1", nil),
			map[string]string{"jobId": "job-1"}))

		assertStatusCode(t, recorder, http.StatusOK)
		if job.GetStatus() != JobStatusCancelled {
			t.Errorf("expected cancelled, got %s", job.GetStatus())
		}
	})

	t.Run("events of terminal job", func(t *testing.T) {
		recorder := httptest.NewRecorder()
		h.JobEvents(recorder, requestWithChiParams(httptest.NewRequest(http.MethodGet, "/api/v1/jobs/job-1/events", nil),
			map[string]string{"jobId": "job-1"}))

		assertContentType(t, recorder, "text/event-stream")
		if body := recorder.Body.String(); len(body) == 0 || body[:13] != "event: status" {
			t.Errorf("expected initial status event, got %q", body)
		}
	})
}

func TestScopesHandler_Cluster(t *testing.T) {
	h, store, _ := newScopesHandler(t)
	store.AddDetection(database.Detection{ID: "d1", Scope: "class-a", Embedding: embedded(1, 0.05, 0)})
	store.AddDetection(database.Detection{ID: "d2", Scope: "class-a", Embedding: embedded(0, 1, 0.05)})
	store.AddDetection(database.Detection{ID: "d3", Scope: "class-a", Embedding: embedded(1, 0, 0.05)})
	store.AddDetection(database.Detection{ID: "d4", Scope: "class-a", Embedding: embedded(0.05, 1, 0)})

	req := requestWithChiParams(
		jsonRequest(t, http.MethodPost, "/api/v1/scopes/class-a/cluster", `{"similarity_threshold": 0.8}`),
		map[string]string{"scope": "class-a"},
	)
	recorder := httptest.NewRecorder()
	h.Cluster(recorder, req)

	assertStatusCode(t, recorder, http.StatusOK)
	var report pipeline.ClusterReport
	parseJSONResponse(t, recorder, &report)
	if report.Clusters != 2 || report.IdentitiesCreated != 2 || report.Assigned != 4 {
		t.Errorf("expected 2 clusters, 2 identities, 4 assigned, got %d/%d/%d",
			report.Clusters, report.IdentitiesCreated, report.Assigned)
	}
}

func TestScopesHandler_ClusterInvalidOptions(t *testing.T) {
	h, store, _ := newScopesHandler(t)
	store.AddDetection(database.Detection{ID: "d1", Scope: "class-a", Embedding: embedded(1, 0, 0)})

	req := requestWithChiParams(
		jsonRequest(t, http.MethodPost, "/api/v1/scopes/class-a/cluster", `{"max_clusters": 0}`),
		map[string]string{"scope": "class-a"},
	)
	recorder := httptest.NewRecorder()
	h.Cluster(recorder, req)

	assertStatusCode(t, recorder, http.StatusBadRequest)
}

func TestScopesHandler_Assign(t *testing.T) {
	h, store, _ := newScopesHandler(t)
	store.AddIdentity(database.Identity{ID: "i1", Scope: "class-a", DisplayName: "Anna"})
	store.AddDetection(database.Detection{ID: "d1", Scope: "class-a", Embedding: embedded(1, 0, 0), IdentityID: strPtr("i1")})
	store.AddDetection(database.Detection{ID: "d2", Scope: "class-a", Embedding: embedded(0.95, 0.1, 0)})
	store.AddDetection(database.Detection{ID: "d3", Scope: "class-a", Embedding: embedded(0, 0, 1)})

	req := requestWithChiParams(
		jsonRequest(t, http.MethodPost, "/api/v1/scopes/class-a/assign", `{"k": 1}`),
		map[string]string{"scope": "class-a"},
	)
	recorder := httptest.NewRecorder()
	h.Assign(recorder, req)

	assertStatusCode(t, recorder, http.StatusOK)
	var report assign.BatchReport
	parseJSONResponse(t, recorder, &report)
	if report.Assigned != 1 || report.NoMatch != 1 || report.Errors != 0 {
		t.Errorf("expected 1/1/0 assigned/no_match/errors, got %d/%d/%d", report.Assigned, report.NoMatch, report.Errors)
	}

	d, err := store.GetDetection(t.Context(), "d2")
	if err != nil {
		t.Fatal(err)
	}
	if d.IdentityID == nil || *d.IdentityID != "i1" || d.AssignedBy != database.AssignedByAssign {
		t.Errorf("expected d2 assigned to i1 by assign, got %+v", d)
	}
}
