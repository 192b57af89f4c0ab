package database

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"os"
	"slices"
	"sync"
	"time"

	"github.com/coder/hnsw"

	"github.com/kozaktomas/rollcall/internal/faceid"
)

// PoolIndexMetadata describes a persisted pool index. A cached graph is reused only
// when Fingerprint matches the current pool.
type PoolIndexMetadata struct {
	Scope       string         `json:"scope"`
	Variant     faceid.Variant `json:"model_variant"`
	Count       int            `json:"count"`
	Fingerprint string         `json:"fingerprint"`
	BuildTime   time.Time      `json:"build_time"`
	Version     int            `json:"version"`
}

const poolIndexMetadataVersion = 1

// PoolIndex is an approximate nearest-neighbour index over a labeled pool. It only
// narrows the candidate set; callers re-rank candidates exactly.
type PoolIndex struct {
	mu       sync.RWMutex
	graph    *hnsw.Graph[string]
	position map[string]int // detection ID -> pool position
	meta     PoolIndexMetadata
}

// NewPoolIndex creates an empty index.
func NewPoolIndex() *PoolIndex {
	return &PoolIndex{position: make(map[string]int)}
}

func newGraph() *hnsw.Graph[string] {
	g := hnsw.NewGraph[string]()
	g.M = HNSWMaxNeighbors
	g.Ml = 1.0 / float64(HNSWMaxNeighbors)
	g.EfSearch = HNSWEfSearch
	g.Distance = hnsw.CosineDistance
	g.Rng = rand.New(rand.NewSource(HNSWSeed)) //nolint:gosec // deterministic level generation
	return g
}

// positions maps detection IDs to pool positions. Every entry needs a unique ID.
func positions(pool []faceid.LabeledEmbedding) (map[string]int, error) {
	pos := make(map[string]int, len(pool))
	for i := range pool {
		id := pool[i].DetectionID
		if id == "" {
			return nil, faceid.ValidationErrorf("pool entry %d has no detection ID", i)
		}
		if _, dup := pos[id]; dup {
			return nil, faceid.ValidationErrorf("duplicate detection ID %q in pool", id)
		}
		pos[id] = i
	}
	return pos, nil
}

// Build replaces the index contents with pool.
func (p *PoolIndex) Build(scope string, pool []faceid.LabeledEmbedding) error {
	pos, err := positions(pool)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.position = pos
	p.meta = PoolIndexMetadata{
		Scope:       scope,
		Count:       len(pool),
		Fingerprint: PoolFingerprint(pool),
		BuildTime:   time.Now(),
		Version:     poolIndexMetadataVersion,
	}
	if len(pool) == 0 {
		p.graph = nil
		return nil
	}
	p.meta.Variant = pool[0].Embedding.Variant

	g := newGraph()
	for i := range pool {
		g.Add(hnsw.MakeNode(pool[i].DetectionID, pool[i].Embedding.Vector))
	}
	p.graph = g
	return nil
}

// Candidates returns the pool positions of up to m approximate neighbours of query,
// in ascending pool order.
func (p *PoolIndex) Candidates(query []float32, m int) ([]int, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.graph == nil {
		return nil, errors.New("index not initialized")
	}
	if m <= 0 {
		return nil, nil
	}

	nodes := p.graph.Search(query, m)
	out := make([]int, 0, len(nodes))
	for _, n := range nodes {
		if i, ok := p.position[n.Key]; ok {
			out = append(out, i)
		}
	}
	slices.Sort(out)
	return out, nil
}

// Len returns the number of indexed entries.
func (p *PoolIndex) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.position)
}

// Metadata returns the metadata of the current contents.
func (p *PoolIndex) Metadata() PoolIndexMetadata {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.meta
}

// SaveWithMetadata persists the graph to path and its metadata to path+".meta".
func (p *PoolIndex) SaveWithMetadata(path string) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.graph == nil {
		// Remove existing files if index is empty (best-effort cleanup).
		_ = os.Remove(path)
		_ = os.Remove(path + ".meta")
		return nil
	}

	f, err := os.Create(path) //nolint:gosec // path is from trusted config
	if err != nil {
		return fmt.Errorf("failed to create HNSW index file: %w", err)
	}
	defer f.Close()

	if err := p.graph.Export(f); err != nil {
		return fmt.Errorf("failed to export HNSW graph: %w", err)
	}

	metaData, err := json.Marshal(p.meta)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	if err := os.WriteFile(path+".meta", metaData, 0600); err != nil {
		return fmt.Errorf("failed to write metadata file: %w", err)
	}
	return nil
}

// LoadPoolIndexMetadata loads metadata from a separate .meta file.
func LoadPoolIndexMetadata(path string) (PoolIndexMetadata, error) {
	var metadata PoolIndexMetadata

	data, err := os.ReadFile(path + ".meta") //nolint:gosec // path is from trusted config
	if err != nil {
		return metadata, fmt.Errorf("failed to read metadata file: %w", err)
	}
	if err := json.Unmarshal(data, &metadata); err != nil {
		return metadata, fmt.Errorf("failed to unmarshal metadata: %w", err)
	}
	return metadata, nil
}

// LoadIfFresh loads the graph saved at path when its metadata matches scope and pool.
// It reports whether the cached graph was used; a stale or missing cache is not an error.
func (p *PoolIndex) LoadIfFresh(path, scope string, pool []faceid.LabeledEmbedding) (bool, error) {
	meta, err := LoadPoolIndexMetadata(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	if meta.Version != poolIndexMetadataVersion || meta.Scope != scope ||
		meta.Count != len(pool) || meta.Fingerprint != PoolFingerprint(pool) {
		return false, nil
	}

	pos, err := positions(pool)
	if err != nil {
		return false, err
	}
	saved, err := hnsw.LoadSavedGraph[string](path)
	if err != nil {
		return false, fmt.Errorf("failed to load HNSW index: %w", err)
	}
	if saved.Len() != len(pool) {
		return false, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.graph = saved.Graph
	p.graph.EfSearch = HNSWEfSearch
	p.position = pos
	p.meta = meta
	return true, nil
}

// PoolFingerprint hashes the pool contents in order: detection IDs, identities and
// vectors.
func PoolFingerprint(pool []faceid.LabeledEmbedding) string {
	h := sha256.New()
	var buf [4]byte
	for i := range pool {
		e := &pool[i]
		h.Write([]byte(e.Embedding.Variant))
		h.Write([]byte{0})
		h.Write([]byte(e.DetectionID))
		h.Write([]byte{0})
		h.Write([]byte(e.IdentityID))
		h.Write([]byte{0})
		for _, v := range e.Embedding.Vector {
			binary.LittleEndian.PutUint32(buf[:], math.Float32bits(v))
			h.Write(buf[:])
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}
