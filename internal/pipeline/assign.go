package pipeline

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/kozaktomas/rollcall/internal/assign"
	"github.com/kozaktomas/rollcall/internal/database"
	"github.com/kozaktomas/rollcall/internal/faceid"
)

// matcher assigns one query against the pool.
type matcher func(query faceid.FaceEmbedding) (*assign.Result, error)

// AssignScope matches every unidentified embedded detection of a scope against the
// identified detections of the same scope and variant, and persists the matches.
func (p *Pipeline) AssignScope(ctx context.Context, scope string, variant faceid.Variant, opts assign.Options) (*assign.BatchReport, error) {
	spec, err := p.resolve(variant)
	if err != nil {
		return nil, err
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	unlock, err := p.lockScope(ctx, scope)
	if err != nil {
		return nil, err
	}
	defer unlock()

	snap, err := p.store.Snapshot(ctx, scope, spec.Name)
	if err != nil {
		return nil, fmt.Errorf("snapshot scope %s: %w", scope, err)
	}
	pool := snap.Pool()
	log := p.log.WithFields(logrus.Fields{"scope": scope, "variant": spec.Name})

	match, err := p.matcher(scope, pool, opts, log)
	if err != nil {
		return nil, err
	}

	report := &assign.BatchReport{Items: make([]assign.Item, 0, len(snap.Unlabeled))}
	for i := range snap.Unlabeled {
		d := &snap.Unlabeled[i]
		if err := ctx.Err(); err != nil {
			report.Record(assign.ItemOf(d.ID, nil, err))
			continue
		}

		res, err := match(*d.Embedding)
		if err == nil && res.Matched {
			confidence := res.Confidence
			err = p.store.AssignIdentity(ctx, database.Assignment{
				DetectionID:      d.ID,
				IdentityID:       res.IdentityID,
				By:               database.AssignedByAssign,
				Confidence:       &confidence,
				OnlyIfUnassigned: true,
			})
		}
		if err != nil {
			log.WithField("detection_id", d.ID).WithError(err).Warn("detection not assigned")
		}
		report.Record(assign.ItemOf(d.ID, res, err))
	}

	log.WithFields(logrus.Fields{
		"pool":     len(pool),
		"assigned": report.Assigned,
		"no_match": report.NoMatch,
		"errors":   report.Errors,
	}).Info("scope assigned")
	return report, nil
}

// matcher returns exact assignment for small pools and HNSW candidate pre-selection
// followed by exact re-ranking for pools of at least HNSWMinPool entries.
func (p *Pipeline) matcher(scope string, pool []faceid.LabeledEmbedding, opts assign.Options, log logrus.FieldLogger) (matcher, error) {
	exact := func(q faceid.FaceEmbedding) (*assign.Result, error) {
		return assign.Assign(q, pool, opts)
	}
	if p.opts.HNSWMinPool <= 0 || len(pool) < p.opts.HNSWMinPool {
		return exact, nil
	}

	idx, err := p.poolIndex(scope, pool, log)
	if err != nil {
		return nil, err
	}
	m := max(opts.K*database.HNSWSearchMultiplier, database.HNSWMinCandidates)

	return func(q faceid.FaceEmbedding) (*assign.Result, error) {
		if len(q.Vector) == 0 {
			return exact(q)
		}
		positions, err := idx.Candidates(q.Vector, m)
		if err != nil {
			return nil, err
		}
		candidates := make([]faceid.LabeledEmbedding, len(positions))
		for i, pos := range positions {
			candidates[i] = pool[pos]
		}
		res, err := assign.Assign(q, candidates, opts)
		if err != nil {
			return nil, err
		}
		for i := range res.Neighbors {
			res.Neighbors[i].PoolIndex = positions[res.Neighbors[i].PoolIndex]
		}
		return res, nil
	}, nil
}

// poolIndex builds the HNSW index for pool, reusing a cached graph from IndexDir when
// it still matches.
func (p *Pipeline) poolIndex(scope string, pool []faceid.LabeledEmbedding, log logrus.FieldLogger) (*database.PoolIndex, error) {
	idx := database.NewPoolIndex()
	path := ""
	if p.opts.IndexDir != "" {
		name := url.PathEscape(scope)
		if len(pool) > 0 {
			name += "-" + url.PathEscape(string(pool[0].Embedding.Variant))
		}
		path = filepath.Join(p.opts.IndexDir, name+".hnsw")

		ok, err := idx.LoadIfFresh(path, scope, pool)
		if err != nil {
			log.WithError(err).Warn("ignoring unreadable pool index cache")
		}
		if ok {
			log.WithField("pool", len(pool)).Debug("pool index loaded from cache")
			return idx, nil
		}
	}

	if err := idx.Build(scope, pool); err != nil {
		return nil, fmt.Errorf("build pool index: %w", err)
	}
	if path != "" {
		if err := os.MkdirAll(p.opts.IndexDir, 0o755); err != nil {
			log.WithError(err).Warn("pool index not cached")
		} else if err := idx.SaveWithMetadata(path); err != nil {
			log.WithError(err).Warn("pool index not cached")
		}
	}
	log.WithField("pool", len(pool)).Debug("pool index built")
	return idx, nil
}
