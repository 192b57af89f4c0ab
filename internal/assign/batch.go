package assign

import (
	"context"

	"github.com/kozaktomas/rollcall/internal/faceid"
)

// Outcome classifies one batch item.
type Outcome string

const (
	OutcomeAssigned Outcome = "assigned"
	OutcomeNoMatch  Outcome = "no_match"
	OutcomeError    Outcome = "error"
)

// Query is one batch input.
type Query struct {
	DetectionID string
	Embedding   faceid.FaceEmbedding
}

// Item is one positional batch output.
type Item struct {
	DetectionID string  `json:"detection_id"`
	Outcome     Outcome `json:"outcome"`
	Result      *Result `json:"result,omitempty"`
	Err         error   `json:"-"`
	Error       string  `json:"error,omitempty"`
}

// BatchReport accumulates the outcomes of a batch.
type BatchReport struct {
	Assigned int    `json:"assigned"`
	NoMatch  int    `json:"no_match"`
	Errors   int    `json:"errors"`
	Items    []Item `json:"items"`
}

// Record adds one item and updates the counts.
func (r *BatchReport) Record(item Item) {
	switch item.Outcome {
	case OutcomeAssigned:
		r.Assigned++
	case OutcomeNoMatch:
		r.NoMatch++
	default:
		r.Errors++
		if item.Err != nil {
			item.Error = item.Err.Error()
		}
	}
	r.Items = append(r.Items, item)
}

// ItemOf converts an assignment outcome into a batch item.
func ItemOf(detectionID string, res *Result, err error) Item {
	switch {
	case err != nil:
		return Item{DetectionID: detectionID, Outcome: OutcomeError, Err: err}
	case res.Matched:
		return Item{DetectionID: detectionID, Outcome: OutcomeAssigned, Result: res}
	default:
		return Item{DetectionID: detectionID, Outcome: OutcomeNoMatch, Result: res}
	}
}

// AssignAll assigns every query against the same pool. A failing query is recorded
// and the batch continues; cancellation is checked between queries.
func AssignAll(ctx context.Context, queries []Query, pool []faceid.LabeledEmbedding, opts Options) *BatchReport {
	report := &BatchReport{Items: make([]Item, 0, len(queries))}
	for _, q := range queries {
		if err := ctx.Err(); err != nil {
			report.Record(ItemOf(q.DetectionID, nil, err))
			continue
		}
		res, err := Assign(q.Embedding, pool, opts)
		report.Record(ItemOf(q.DetectionID, res, err))
	}
	return report
}
