package pipeline

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/kozaktomas/rollcall/internal/database"
	"github.com/kozaktomas/rollcall/internal/faceid"
)

// EmbedOptions controls EmbedScope.
type EmbedOptions struct {
	// Regenerate also re-embeds detections whose embedding came from another variant.
	Regenerate bool
	// Progress is called after every detection.
	Progress func(done, total int)
}

// EmbedReport summarises an EmbedScope run.
type EmbedReport struct {
	Scope     string         `json:"scope"`
	Variant   faceid.Variant `json:"model_variant"`
	Total     int            `json:"total"`
	Succeeded int            `json:"succeeded"`
	Failed    int            `json:"failed"`
	Errors    []ItemError    `json:"errors,omitempty"`
}

// EmbedScope computes embeddings for the detections of a scope that lack one. With
// Regenerate, embeddings of any other variant are replaced too.
func (p *Pipeline) EmbedScope(ctx context.Context, scope string, variant faceid.Variant, opts EmbedOptions) (*EmbedReport, error) {
	spec, err := p.resolve(variant)
	if err != nil {
		return nil, err
	}

	filter := database.DetectionFilter{MissingEmbedding: true}
	if opts.Regenerate {
		filter = database.DetectionFilter{NotVariant: spec.Name}
	}
	detections, err := p.store.ListDetections(ctx, scope, filter)
	if err != nil {
		return nil, fmt.Errorf("list detections: %w", err)
	}

	report := &EmbedReport{Scope: scope, Variant: spec.Name, Total: len(detections)}
	log := p.log.WithFields(logrus.Fields{"scope": scope, "variant": spec.Name})
	log.WithField("detections", len(detections)).Info("embedding scope")

	paths := make([]string, len(detections))
	for i := range detections {
		paths[i] = detections[i].ImagePath
	}

	done := 0
	_, err = p.embedder.GenerateBatch(ctx, paths, spec.Name, func(i int, emb *faceid.FaceEmbedding, genErr error) {
		id := detections[i].ID
		if genErr == nil {
			genErr = p.store.SaveEmbedding(ctx, id, *emb)
		}
		if genErr != nil {
			report.Failed++
			report.Errors = append(report.Errors, itemError(id, genErr))
			log.WithField("detection_id", id).WithError(genErr).Warn("detection not embedded")
		} else {
			report.Succeeded++
		}
		done++
		if opts.Progress != nil {
			opts.Progress(done, len(detections))
		}
	})
	if err != nil {
		return nil, err
	}

	log.WithFields(logrus.Fields{"succeeded": report.Succeeded, "failed": report.Failed}).Info("scope embedded")
	return report, nil
}
