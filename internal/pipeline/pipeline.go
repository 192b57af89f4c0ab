// Package pipeline runs the embedding, clustering and assignment engines over the
// detections of one scope and persists their outcomes.
package pipeline

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/kozaktomas/rollcall/internal/database"
	"github.com/kozaktomas/rollcall/internal/embedder"
	"github.com/kozaktomas/rollcall/internal/faceid"
	"github.com/kozaktomas/rollcall/internal/logging"
)

// Embedder computes embeddings for batches of face crops.
type Embedder interface {
	Registry() *faceid.Registry
	GenerateBatch(ctx context.Context, imagePaths []string, variant faceid.Variant, onItem embedder.ItemFunc) (*embedder.BatchResult, error)
}

// Options tunes the pipeline.
type Options struct {
	// HNSWMinPool switches assignment to HNSW candidate pre-selection for labeled
	// pools at least this large. 0 disables the index.
	HNSWMinPool int
	// IndexDir caches built pool indexes between runs. Empty disables caching.
	IndexDir string
	Logger   logrus.FieldLogger
}

// Pipeline orchestrates runs per scope. Clustering and assignment runs on the same
// scope never overlap.
type Pipeline struct {
	store    database.Store
	embedder Embedder
	opts     Options
	log      logrus.FieldLogger

	mu     sync.Mutex
	scopes map[string]chan struct{}
}

// New creates a pipeline.
func New(store database.Store, emb Embedder, opts Options) *Pipeline {
	log := opts.Logger
	if log == nil {
		log = logging.Discard()
	}
	return &Pipeline{
		store:    store,
		embedder: emb,
		opts:     opts,
		log:      log,
		scopes:   make(map[string]chan struct{}),
	}
}

// Store returns the backing store.
func (p *Pipeline) Store() database.Store {
	return p.store
}

// Registry returns the model variant table.
func (p *Pipeline) Registry() *faceid.Registry {
	return p.embedder.Registry()
}

// lockScope serialises runs on scope, first within this process and then across
// processes through the store.
func (p *Pipeline) lockScope(ctx context.Context, scope string) (func(), error) {
	p.mu.Lock()
	ch, ok := p.scopes[scope]
	if !ok {
		ch = make(chan struct{}, 1)
		p.scopes[scope] = ch
	}
	p.mu.Unlock()

	select {
	case ch <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for scope %s: %w", scope, ctx.Err())
	}

	unlockStore, err := p.store.LockScope(ctx, scope)
	if err != nil {
		<-ch
		return nil, err
	}
	return func() {
		unlockStore()
		<-ch
	}, nil
}

// resolve maps an empty variant to the default and rejects unknown ones.
func (p *Pipeline) resolve(variant faceid.Variant) (faceid.VariantSpec, error) {
	return p.embedder.Registry().Lookup(variant)
}

// ItemError reports one failed detection.
type ItemError struct {
	DetectionID string `json:"detection_id"`
	Kind        string `json:"kind,omitempty"`
	Error       string `json:"error"`
}

func itemError(detectionID string, err error) ItemError {
	ie := ItemError{DetectionID: detectionID, Error: err.Error()}
	if genErr, ok := faceid.AsGenerationError(err); ok {
		ie.Kind = string(genErr.Kind)
	}
	return ie
}
