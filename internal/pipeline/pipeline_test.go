package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kozaktomas/rollcall/internal/assign"
	"github.com/kozaktomas/rollcall/internal/cluster"
	"github.com/kozaktomas/rollcall/internal/database"
	"github.com/kozaktomas/rollcall/internal/database/mock"
	"github.com/kozaktomas/rollcall/internal/embedder"
	"github.com/kozaktomas/rollcall/internal/faceid"
)

func testRegistry(t *testing.T) *faceid.Registry {
	t.Helper()
	r, err := faceid.NewRegistry([]faceid.VariantSpec{
		{Name: "small", Dimension: 3, Runner: faceid.RunnerNative},
		{Name: "other", Dimension: 3, Runner: faceid.RunnerPython},
	}, "small")
	if err != nil {
		t.Fatal(err)
	}
	return r
}

// fakeEmbedder returns vectors keyed by image path; unknown paths fail with NotFound.
type fakeEmbedder struct {
	registry *faceid.Registry
	vectors  map[string][]float32
	calls    []string
}

func (f *fakeEmbedder) Registry() *faceid.Registry { return f.registry }

func (f *fakeEmbedder) GenerateBatch(ctx context.Context, paths []string, variant faceid.Variant, onItem embedder.ItemFunc) (*embedder.BatchResult, error) {
	spec, err := f.registry.Lookup(variant)
	if err != nil {
		return nil, err
	}
	res := &embedder.BatchResult{
		Embeddings: make([]*faceid.FaceEmbedding, len(paths)),
		Errors:     make([]error, len(paths)),
	}
	for i, p := range paths {
		f.calls = append(f.calls, p)
		var emb *faceid.FaceEmbedding
		vec, ok := f.vectors[p]
		if ok {
			e, err := faceid.NewFaceEmbedding(spec, vec)
			if err != nil {
				res.Errors[i] = err
			} else {
				emb = &e
			}
		} else {
			res.Errors[i] = faceid.NotFoundError(p)
		}
		if emb != nil {
			res.Embeddings[i] = emb
			res.Succeeded++
		} else {
			res.Failed++
		}
		onItem(i, emb, res.Errors[i])
	}
	return res, nil
}

func emb(vec ...float32) *faceid.FaceEmbedding {
	return &faceid.FaceEmbedding{Variant: "small", Vector: vec}
}

func ptr[T any](v T) *T { return &v }

func newPipeline(t *testing.T, store *mock.Store, opts Options) (*Pipeline, *fakeEmbedder) {
	t.Helper()
	fe := &fakeEmbedder{registry: testRegistry(t), vectors: map[string][]float32{}}
	return New(store, fe, opts), fe
}

func TestEmbedScope(t *testing.T) {
	ctx := context.Background()
	store := mock.NewStore()
	p, fe := newPipeline(t, store, Options{})

	for i := 0; i < 10; i++ {
		path := fmt.Sprintf("/faces/%d.jpg", i)
		store.AddDetection(database.Detection{ID: fmt.Sprintf("d%d", i), Scope: "s", ImagePath: path})
		if i != 3 && i != 7 {
			fe.vectors[path] = []float32{float32(i), 1, 0}
		}
	}
	store.AddDetection(database.Detection{ID: "done", Scope: "s", ImagePath: "/faces/done.jpg", Embedding: emb(1, 0, 0)})

	var progress []int
	report, err := p.EmbedScope(ctx, "s", "", EmbedOptions{Progress: func(done, total int) {
		progress = append(progress, done)
	}})
	if err != nil {
		t.Fatalf("EmbedScope failed: %v", err)
	}
	if report.Total != 10 || report.Succeeded != 8 || report.Failed != 2 {
		t.Errorf("expected 10/8/2 total/succeeded/failed, got %d/%d/%d", report.Total, report.Succeeded, report.Failed)
	}
	if report.Variant != "small" {
		t.Errorf("expected default variant small, got %s", report.Variant)
	}
	if len(report.Errors) != 2 || report.Errors[0].DetectionID != "d3" || report.Errors[1].DetectionID != "d7" {
		t.Errorf("expected errors for d3 and d7, got %+v", report.Errors)
	}
	if len(progress) != 10 || progress[9] != 10 {
		t.Errorf("expected progress for every detection, got %v", progress)
	}

	d, _ := store.GetDetection(ctx, "d5")
	if d.Embedding == nil || d.Embedding.Vector[0] != 5 {
		t.Errorf("expected stored embedding for d5, got %+v", d.Embedding)
	}
	for _, c := range fe.calls {
		if c == "/faces/done.jpg" {
			t.Error("detection with an embedding must not be re-embedded")
		}
	}
}

func TestEmbedScope_Regenerate(t *testing.T) {
	ctx := context.Background()
	store := mock.NewStore()
	p, fe := newPipeline(t, store, Options{})
	store.AddDetection(database.Detection{ID: "a", Scope: "s", ImagePath: "/a.jpg", Embedding: emb(1, 0, 0)})
	fe.vectors["/a.jpg"] = []float32{0, 1, 0}

	report, err := p.EmbedScope(ctx, "s", "other", EmbedOptions{Regenerate: true})
	if err != nil {
		t.Fatal(err)
	}
	if report.Succeeded != 1 {
		t.Fatalf("expected 1 regenerated, got %+v", report)
	}
	d, _ := store.GetDetection(ctx, "a")
	if d.Embedding.Variant != "other" || d.Embedding.Vector[1] != 1 {
		t.Errorf("expected embedding overwritten by variant other, got %+v", d.Embedding)
	}

	// Already on the requested variant: nothing to do.
	report, err = p.EmbedScope(ctx, "s", "other", EmbedOptions{Regenerate: true})
	if err != nil {
		t.Fatal(err)
	}
	if report.Total != 0 {
		t.Errorf("expected nothing to regenerate, got %d", report.Total)
	}
}

func TestEmbedScope_UnsupportedModel(t *testing.T) {
	p, _ := newPipeline(t, mock.NewStore(), Options{})
	if _, err := p.EmbedScope(context.Background(), "s", "vgg-face", EmbedOptions{}); !errors.Is(err, faceid.ErrUnsupportedModel) {
		t.Errorf("expected ErrUnsupportedModel, got %v", err)
	}
}

func TestClusterScope_CreatesStudents(t *testing.T) {
	ctx := context.Background()
	store := mock.NewStore()
	p, _ := newPipeline(t, store, Options{})
	store.AddIdentity(database.Identity{ID: "old", Scope: "s", DisplayName: "Student 4"})

	vectors := []*faceid.FaceEmbedding{
		emb(1, 0.05, 0), emb(0, 1, 0.1), emb(0.97, 0.1, 0),
		emb(0.1, 0.95, 0), emb(0, 0, 1),
	}
	for i, v := range vectors {
		store.AddDetection(database.Detection{ID: fmt.Sprintf("d%d", i), Scope: "s", Embedding: v})
	}

	report, err := p.ClusterScope(ctx, "s", "small", cluster.DefaultOptions(), true)
	if err != nil {
		t.Fatalf("ClusterScope failed: %v", err)
	}
	if report.Clusters != 2 || report.Outliers != 1 {
		t.Fatalf("expected 2 clusters and 1 outlier, got %d/%d", report.Clusters, report.Outliers)
	}
	if report.IdentitiesCreated != 2 || report.Assigned != 4 {
		t.Errorf("expected 2 identities created and 4 assigned, got %d/%d", report.IdentitiesCreated, report.Assigned)
	}
	names := []string{report.Summaries[0].DisplayName, report.Summaries[1].DisplayName}
	if names[0] != "Student 5" || names[1] != "Student 6" {
		t.Errorf("expected Student 5 and Student 6, got %v", names)
	}

	d0, _ := store.GetDetection(ctx, "d0")
	d2, _ := store.GetDetection(ctx, "d2")
	if *d0.IdentityID != *d2.IdentityID || d0.AssignedBy != database.AssignedByCluster {
		t.Errorf("expected d0 and d2 to share a cluster identity, got %+v / %+v", d0, d2)
	}
	d4, _ := store.GetDetection(ctx, "d4")
	if d4.Identified() {
		t.Error("outlier must stay unidentified")
	}
}

func TestClusterScope_ReusesMajorityIdentity(t *testing.T) {
	ctx := context.Background()
	store := mock.NewStore()
	p, _ := newPipeline(t, store, Options{})
	store.AddIdentity(database.Identity{ID: "anna", Scope: "s", DisplayName: "Anna"})
	store.AddIdentity(database.Identity{ID: "ben", Scope: "s", DisplayName: "Ben"})

	store.AddDetection(database.Detection{ID: "b1", Scope: "s", Embedding: emb(1, 0.02, 0), IdentityID: ptr("ben")})
	store.AddDetection(database.Detection{ID: "a1", Scope: "s", Embedding: emb(1, 0.04, 0), IdentityID: ptr("anna")})
	store.AddDetection(database.Detection{ID: "a2", Scope: "s", Embedding: emb(1, 0, 0.03), IdentityID: ptr("anna")})
	store.AddDetection(database.Detection{ID: "u1", Scope: "s", Embedding: emb(0.98, 0.05, 0)})

	report, err := p.ClusterScope(ctx, "s", "small", cluster.DefaultOptions(), true)
	if err != nil {
		t.Fatal(err)
	}
	if report.IdentitiesCreated != 0 || report.IdentitiesReused != 1 {
		t.Errorf("expected 1 reused and 0 created, got %+v", report)
	}
	u1, _ := store.GetDetection(ctx, "u1")
	if u1.IdentityID == nil || *u1.IdentityID != "anna" {
		t.Errorf("expected u1 assigned to the majority identity anna, got %v", u1.IdentityID)
	}
	b1, _ := store.GetDetection(ctx, "b1")
	if *b1.IdentityID != "ben" {
		t.Error("identified detections must keep their identity")
	}
}

func TestClusterScope_ExcludeLabeledCreatesStudents(t *testing.T) {
	ctx := context.Background()
	store := mock.NewStore()
	p, _ := newPipeline(t, store, Options{})
	store.AddIdentity(database.Identity{ID: "anna", Scope: "s", DisplayName: "Anna"})

	store.AddDetection(database.Detection{ID: "a1", Scope: "s", Embedding: emb(1, 0.02, 0), IdentityID: ptr("anna")})
	store.AddDetection(database.Detection{ID: "a2", Scope: "s", Embedding: emb(1, 0, 0.03), IdentityID: ptr("anna")})
	store.AddDetection(database.Detection{ID: "u1", Scope: "s", Embedding: emb(0.98, 0.05, 0)})
	store.AddDetection(database.Detection{ID: "u2", Scope: "s", Embedding: emb(1, 0.04, 0.01)})
	store.AddDetection(database.Detection{ID: "u3", Scope: "s", Embedding: emb(0, 1, 0.05)})
	store.AddDetection(database.Detection{ID: "u4", Scope: "s", Embedding: emb(0.05, 0.97, 0)})

	report, err := p.ClusterScope(ctx, "s", "small", cluster.DefaultOptions(), false)
	if err != nil {
		t.Fatalf("ClusterScope failed: %v", err)
	}
	if report.Detections != 4 {
		t.Errorf("expected only the 4 unlabeled detections clustered, got %d", report.Detections)
	}
	if report.Clusters != 2 || report.IdentitiesCreated != 2 || report.IdentitiesReused != 0 || report.Assigned != 4 {
		t.Errorf("expected 2 clusters, 2 created, 0 reused, 4 assigned, got %d/%d/%d/%d",
			report.Clusters, report.IdentitiesCreated, report.IdentitiesReused, report.Assigned)
	}
	for _, summary := range report.Summaries {
		if !summary.Created || !strings.HasPrefix(summary.DisplayName, "Student ") {
			t.Errorf("expected a new Student identity, got %+v", summary)
		}
	}

	u1, _ := store.GetDetection(ctx, "u1")
	if u1.IdentityID == nil || *u1.IdentityID == "anna" {
		t.Errorf("expected u1 in a new identity, got %v", u1.IdentityID)
	}
	a1, _ := store.GetDetection(ctx, "a1")
	if *a1.IdentityID != "anna" {
		t.Error("labeled detections must keep their identity")
	}
}

func TestMajorityIdentity_TieGoesToFirstMember(t *testing.T) {
	members := []database.Detection{
		{ID: "x", IdentityID: ptr("B")},
		{ID: "y", IdentityID: ptr("A")},
		{ID: "z"},
	}
	if got := majorityIdentity(members, []int{0, 1, 2}); got != "B" {
		t.Errorf("expected B, got %q", got)
	}
	if got := majorityIdentity(members, []int{2}); got != "" {
		t.Errorf("expected no identity, got %q", got)
	}
}

func TestClusterScope_StaleIdentityIsItemError(t *testing.T) {
	ctx := context.Background()
	store := mock.NewStore()
	p, _ := newPipeline(t, store, Options{})
	store.AddDetection(database.Detection{ID: "a", Scope: "s", Embedding: emb(1, 0, 0)})
	store.AddDetection(database.Detection{ID: "b", Scope: "s", Embedding: emb(1, 0.01, 0)})
	store.AssignErrorFor["b"] = fmt.Errorf("assign b: %w", database.ErrStaleIdentity)

	report, err := p.ClusterScope(ctx, "s", "small", cluster.DefaultOptions(), true)
	if err != nil {
		t.Fatal(err)
	}
	if report.Assigned != 1 || len(report.Errors) != 1 || report.Errors[0].DetectionID != "b" {
		t.Errorf("expected one assignment and one item error, got %+v", report)
	}
}

func seedAssignScope(store *mock.Store) {
	store.AddIdentity(database.Identity{ID: "A", Scope: "s", DisplayName: "Anna"})
	store.AddIdentity(database.Identity{ID: "B", Scope: "s", DisplayName: "Ben"})
	store.AddDetection(database.Detection{ID: "la1", Scope: "s", Embedding: emb(1, 0.1, 0), IdentityID: ptr("A")})
	store.AddDetection(database.Detection{ID: "la2", Scope: "s", Embedding: emb(1, 0.2, 0), IdentityID: ptr("A")})
	store.AddDetection(database.Detection{ID: "lb1", Scope: "s", Embedding: emb(0, 1, 0.1), IdentityID: ptr("B")})
	store.AddDetection(database.Detection{ID: "q1", Scope: "s", Embedding: emb(1, 0.15, 0)})
	store.AddDetection(database.Detection{ID: "q2", Scope: "s", Embedding: emb(0, 0, 1)})
	store.AddDetection(database.Detection{ID: "q3", Scope: "s", Embedding: emb(0.05, 1, 0.05)})
	store.AddDetection(database.Detection{ID: "x", Scope: "other", Embedding: emb(1, 0.15, 0)})
}

func TestAssignScope(t *testing.T) {
	for _, minPool := range []int{0, 1} {
		t.Run(fmt.Sprintf("hnsw_min_pool=%d", minPool), func(t *testing.T) {
			ctx := context.Background()
			store := mock.NewStore()
			p, _ := newPipeline(t, store, Options{HNSWMinPool: minPool, IndexDir: t.TempDir()})
			seedAssignScope(store)

			report, err := p.AssignScope(ctx, "s", "small", assign.Options{K: 1, SimilarityThreshold: 0.6, UseVoting: true})
			if err != nil {
				t.Fatalf("AssignScope failed: %v", err)
			}
			if report.Assigned != 2 || report.NoMatch != 1 || report.Errors != 0 {
				t.Errorf("expected 2/1/0 assigned/no_match/errors, got %d/%d/%d", report.Assigned, report.NoMatch, report.Errors)
			}

			q1, _ := store.GetDetection(ctx, "q1")
			if q1.IdentityID == nil || *q1.IdentityID != "A" || q1.AssignedBy != database.AssignedByAssign || q1.AssignConfidence == nil {
				t.Errorf("expected q1 assigned to A with confidence, got %+v", q1)
			}
			q2, _ := store.GetDetection(ctx, "q2")
			if q2.Identified() {
				t.Error("no-match detection must stay unidentified")
			}
			x, _ := store.GetDetection(ctx, "x")
			if x.Identified() {
				t.Error("detections of other scopes must not be touched")
			}
		})
	}
}

func TestAssignScope_StaleIdentity(t *testing.T) {
	ctx := context.Background()
	store := mock.NewStore()
	p, _ := newPipeline(t, store, Options{})
	seedAssignScope(store)
	store.DeleteIdentity("A")

	report, err := p.AssignScope(ctx, "s", "small", assign.Options{K: 1, SimilarityThreshold: 0.6, UseVoting: true})
	if err != nil {
		t.Fatal(err)
	}
	if report.Errors != 1 {
		t.Fatalf("expected one stale-identity error, got %+v", report)
	}
	for _, item := range report.Items {
		if item.DetectionID == "q1" && !errors.Is(item.Err, database.ErrStaleIdentity) {
			t.Errorf("expected ErrStaleIdentity for q1, got %v", item.Err)
		}
	}
}

func TestScopeRunsAreSerialised(t *testing.T) {
	store := mock.NewStore()
	p, _ := newPipeline(t, store, Options{})

	unlock, err := p.lockScope(context.Background(), "s")
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = p.AssignScope(ctx, "s", "small", assign.DefaultOptions())
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected run on a locked scope to wait, got %v", err)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if _, err := p.AssignScope(context.Background(), "s", "small", assign.DefaultOptions()); err != nil {
			t.Errorf("AssignScope after unlock failed: %v", err)
		}
	}()
	unlock()
	wg.Wait()
}

func TestNextStudentNumber(t *testing.T) {
	store := mock.NewStore()
	p, _ := newPipeline(t, store, Options{})
	for _, name := range []string{"Student 2", "Student 10", "Anna", "Student x", "Studentka 40"} {
		store.AddIdentity(database.Identity{ID: strings.ReplaceAll(name, " ", "-"), Scope: "s", DisplayName: name})
	}
	n, err := p.nextStudentNumber(context.Background(), "s")
	if err != nil {
		t.Fatal(err)
	}
	if n != 11 {
		t.Errorf("expected 11, got %d", n)
	}
}
