// Package assign matches a query face embedding against a pool of embeddings that are
// already linked to identities, using K nearest neighbours and an optional majority vote.
package assign

import (
	"sort"

	"github.com/kozaktomas/rollcall/internal/constants"
	"github.com/kozaktomas/rollcall/internal/faceid"
)

// Options controls one assignment.
type Options struct {
	K                   int     `json:"k"`
	SimilarityThreshold float64 `json:"similarity_threshold"`
	UseVoting           bool    `json:"use_voting"`
}

// DefaultOptions returns the configured defaults.
func DefaultOptions() Options {
	return Options{
		K:                   constants.DefaultK,
		SimilarityThreshold: constants.DefaultAssignThreshold,
		UseVoting:           true,
	}
}

// Validate rejects unusable options.
func (o Options) Validate() error {
	if o.K < 1 {
		return faceid.ValidationErrorf("k must be at least 1, got %d", o.K)
	}
	if o.SimilarityThreshold < 0 || o.SimilarityThreshold > 1 {
		return faceid.ValidationErrorf("similarity_threshold must be within [0, 1], got %v", o.SimilarityThreshold)
	}
	return nil
}

// Neighbor is one of the K nearest pool entries.
type Neighbor struct {
	IdentityID  string  `json:"identity_id"`
	DetectionID string  `json:"detection_id,omitempty"`
	Similarity  float64 `json:"similarity"`
	PoolIndex   int     `json:"pool_index"`
}

// Result is the outcome of one assignment. When Matched is false the query is
// "no match": IdentityID and Confidence still describe the best candidate, if any.
type Result struct {
	IdentityID string     `json:"identity_id,omitempty"`
	Confidence float64    `json:"confidence"`
	Matched    bool       `json:"matched"`
	Votes      int        `json:"votes,omitempty"`
	Neighbors  []Neighbor `json:"neighbors"`
}

// Assign finds the K most similar pool entries and decides the query's identity.
// "No match" is a normal result, not an error.
func Assign(query faceid.FaceEmbedding, pool []faceid.LabeledEmbedding, opts Options) (*Result, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if len(query.Vector) == 0 {
		return nil, faceid.ValidationErrorf("query embedding is empty")
	}
	for i := range pool {
		if err := query.Compatible(pool[i].Embedding); err != nil {
			return nil, faceid.ValidationErrorf("pool entry %d: %v", i, err)
		}
		if pool[i].IdentityID == "" {
			return nil, faceid.ValidationErrorf("pool entry %d has no identity", i)
		}
	}

	res := &Result{Neighbors: []Neighbor{}}
	if len(pool) == 0 {
		return res, nil
	}

	neighbors, err := nearest(query, pool, min(opts.K, len(pool)))
	if err != nil {
		return nil, err
	}
	res.Neighbors = neighbors

	if opts.UseVoting {
		res.IdentityID, res.Confidence, res.Votes = vote(neighbors)
	} else {
		res.IdentityID, res.Confidence, res.Votes = neighbors[0].IdentityID, neighbors[0].Similarity, 1
	}
	res.Matched = res.Confidence >= opts.SimilarityThreshold
	return res, nil
}

// nearest ranks the pool by similarity to the query. Equal similarities keep pool order.
func nearest(query faceid.FaceEmbedding, pool []faceid.LabeledEmbedding, k int) ([]Neighbor, error) {
	all := make([]Neighbor, len(pool))
	for i := range pool {
		sim, err := faceid.CosineSimilarity(query.Vector, pool[i].Embedding.Vector)
		if err != nil {
			return nil, err
		}
		all[i] = Neighbor{
			IdentityID:  pool[i].IdentityID,
			DetectionID: pool[i].DetectionID,
			Similarity:  sim,
			PoolIndex:   i,
		}
	}
	sort.SliceStable(all, func(a, b int) bool {
		return all[a].Similarity > all[b].Similarity
	})
	return all[:k], nil
}

type tally struct {
	votes     int
	sum       float64
	firstRank int
}

// vote picks the identity with the most neighbours. Ties go to the higher similarity
// sum, then to the identity whose best neighbour ranks first.
func vote(neighbors []Neighbor) (identity string, confidence float64, votes int) {
	tallies := make(map[string]*tally)
	for rank, n := range neighbors {
		t, ok := tallies[n.IdentityID]
		if !ok {
			t = &tally{firstRank: rank}
			tallies[n.IdentityID] = t
		}
		t.votes++
		t.sum += n.Similarity
	}

	var best *tally
	for id, t := range tallies {
		if best == nil || t.votes > best.votes ||
			(t.votes == best.votes && t.sum > best.sum) ||
			(t.votes == best.votes && t.sum == best.sum && t.firstRank < best.firstRank) {
			best, identity = t, id
		}
	}
	return identity, best.sum / float64(best.votes), best.votes
}
