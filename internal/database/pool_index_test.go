package database

import (
	"fmt"
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/kozaktomas/rollcall/internal/faceid"
)

func testPool(n int, seed int64) []faceid.LabeledEmbedding {
	rng := rand.New(rand.NewSource(seed))
	pool := make([]faceid.LabeledEmbedding, n)
	for i := range pool {
		v := make([]float32, 16)
		for j := range v {
			v[j] = rng.Float32()*2 - 1
		}
		pool[i] = faceid.LabeledEmbedding{
			Embedding:   faceid.FaceEmbedding{Variant: "test", Vector: v},
			IdentityID:  fmt.Sprintf("id-%d", i%5),
			DetectionID: fmt.Sprintf("det-%03d", i),
		}
	}
	return pool
}

func TestPoolIndex_CandidatesIncludeExactMatch(t *testing.T) {
	pool := testPool(200, 1)
	idx := NewPoolIndex()
	if err := idx.Build("class-a", pool); err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if idx.Len() != 200 {
		t.Fatalf("expected 200 entries, got %d", idx.Len())
	}

	for _, want := range []int{0, 57, 199} {
		got, err := idx.Candidates(pool[want].Embedding.Vector, 20)
		if err != nil {
			t.Fatal(err)
		}
		if len(got) == 0 || len(got) > 20 {
			t.Fatalf("expected 1..20 candidates, got %d", len(got))
		}
		found := false
		for i, pos := range got {
			if pos == want {
				found = true
			}
			if i > 0 && got[i-1] >= pos {
				t.Errorf("candidates not in pool order: %v", got)
			}
		}
		if !found {
			t.Errorf("expected pool entry %d among its own candidates, got %v", want, got)
		}
	}
}

func TestPoolIndex_BuildRejectsBadIDs(t *testing.T) {
	pool := testPool(3, 2)
	pool[2].DetectionID = pool[0].DetectionID
	if err := NewPoolIndex().Build("s", pool); err == nil {
		t.Error("expected error for duplicate detection IDs")
	}

	pool = testPool(3, 2)
	pool[1].DetectionID = ""
	if err := NewPoolIndex().Build("s", pool); err == nil {
		t.Error("expected error for missing detection ID")
	}
}

func TestPoolIndex_Empty(t *testing.T) {
	idx := NewPoolIndex()
	if err := idx.Build("s", nil); err != nil {
		t.Fatal(err)
	}
	if _, err := idx.Candidates([]float32{1, 0}, 5); err == nil {
		t.Error("expected error searching an empty index")
	}
}

func TestPoolIndex_SaveAndLoadIfFresh(t *testing.T) {
	pool := testPool(50, 3)
	path := filepath.Join(t.TempDir(), "pool.hnsw")

	idx := NewPoolIndex()
	if err := idx.Build("class-a", pool); err != nil {
		t.Fatal(err)
	}
	if err := idx.SaveWithMetadata(path); err != nil {
		t.Fatalf("SaveWithMetadata failed: %v", err)
	}

	meta, err := LoadPoolIndexMetadata(path)
	if err != nil {
		t.Fatal(err)
	}
	if meta.Count != 50 || meta.Scope != "class-a" || meta.Variant != "test" {
		t.Errorf("unexpected metadata %+v", meta)
	}

	loaded := NewPoolIndex()
	ok, err := loaded.LoadIfFresh(path, "class-a", pool)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected fresh cache to be used")
	}
	got, err := loaded.Candidates(pool[10].Embedding.Vector, 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) == 0 {
		t.Error("expected candidates from loaded index")
	}

	// A changed pool invalidates the cache.
	changed := testPool(50, 3)
	changed[4].IdentityID = "someone-else"
	ok, err = NewPoolIndex().LoadIfFresh(path, "class-a", changed)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("expected stale cache to be ignored")
	}

	ok, err = NewPoolIndex().LoadIfFresh(path, "class-b", pool)
	if err != nil || ok {
		t.Errorf("expected other scope to be ignored, got ok=%v err=%v", ok, err)
	}
}

func TestPoolIndex_LoadIfFresh_Missing(t *testing.T) {
	ok, err := NewPoolIndex().LoadIfFresh(filepath.Join(t.TempDir(), "nope"), "s", testPool(2, 1))
	if err != nil || ok {
		t.Errorf("expected missing cache to be ignored, got ok=%v err=%v", ok, err)
	}
}

func TestPoolFingerprint(t *testing.T) {
	a := testPool(5, 9)
	b := testPool(5, 9)
	if PoolFingerprint(a) != PoolFingerprint(b) {
		t.Error("expected equal pools to share a fingerprint")
	}
	b[0], b[1] = b[1], b[0]
	if PoolFingerprint(a) == PoolFingerprint(b) {
		t.Error("expected reordered pool to change the fingerprint")
	}
}
