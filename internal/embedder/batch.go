package embedder

import (
	"context"

	"github.com/kozaktomas/rollcall/internal/faceid"
)

// BatchResult holds positional outcomes: Embeddings[i] is nil exactly when Errors[i] is set.
type BatchResult struct {
	Embeddings []*faceid.FaceEmbedding
	Errors     []error
	Succeeded  int
	Failed     int
}

// ItemFunc observes each batch item as it completes.
type ItemFunc func(index int, emb *faceid.FaceEmbedding, err error)

// GenerateBatch embeds images one at a time. A failing item never aborts the batch.
// Cancellation is checked between items; items not started get ctx.Err().
// Only an unknown variant is returned as an error, since it would fail every item.
func (s *Service) GenerateBatch(ctx context.Context, imagePaths []string, variant faceid.Variant, onItem ItemFunc) (*BatchResult, error) {
	if _, err := s.registry.Lookup(variant); err != nil {
		return nil, err
	}

	result := &BatchResult{
		Embeddings: make([]*faceid.FaceEmbedding, len(imagePaths)),
		Errors:     make([]error, len(imagePaths)),
	}
	for i, path := range imagePaths {
		var (
			emb *faceid.FaceEmbedding
			err error
		)
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		} else {
			var e faceid.FaceEmbedding
			e, err = s.Generate(ctx, path, variant)
			if err == nil {
				emb = &e
			}
		}

		if err != nil {
			result.Errors[i] = err
			result.Failed++
		} else {
			result.Embeddings[i] = emb
			result.Succeeded++
		}
		if onItem != nil {
			onItem(i, emb, err)
		}
	}
	return result, nil
}
