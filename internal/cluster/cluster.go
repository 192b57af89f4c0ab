// Package cluster groups face embeddings into provisional identities using average-linkage
// agglomerative clustering over cosine distance.
//
// The result depends only on the set of input vectors, not on their order: inputs are put
// into a canonical order first and every tie between equally distant pairs is broken by
// canonical position.
package cluster

import (
	"cmp"
	"slices"

	"github.com/kozaktomas/rollcall/internal/constants"
	"github.com/kozaktomas/rollcall/internal/faceid"
)

// OutlierLabel is the label of detections that did not join any cluster.
const OutlierLabel = constants.OutlierLabel

// Options controls one clustering run.
type Options struct {
	// MaxClusters bounds the number of groups (clusters and outliers together).
	MaxClusters int
	// SimilarityThreshold stops merging once no pair of groups is at least this similar.
	// 0 merges everything into one group.
	SimilarityThreshold float64
	// MinClusterSize is the smallest group reported as a cluster; smaller groups become
	// outliers. Values below 2 disable outliers.
	MinClusterSize int
}

// DefaultOptions returns the configured defaults.
func DefaultOptions() Options {
	return Options{
		MaxClusters:         constants.DefaultMaxClusters,
		SimilarityThreshold: constants.DefaultClusterThreshold,
		MinClusterSize:      constants.DefaultMinClusterSize,
	}
}

// Validate rejects unusable options.
func (o Options) Validate() error {
	if o.MaxClusters < 1 {
		return faceid.ValidationErrorf("max_clusters must be at least 1, got %d", o.MaxClusters)
	}
	if o.SimilarityThreshold < 0 || o.SimilarityThreshold > 1 {
		return faceid.ValidationErrorf("similarity_threshold must be within [0, 1], got %v", o.SimilarityThreshold)
	}
	if o.MinClusterSize < 0 {
		return faceid.ValidationErrorf("min_cluster_size must not be negative, got %d", o.MinClusterSize)
	}
	return nil
}

// Result is the outcome of one clustering run. Labels[i] belongs to the i-th input.
type Result struct {
	NumClusters int       `json:"num_clusters"`
	Labels      []int     `json:"labels"`
	Sizes       []int     `json:"sizes"`    // Sizes[label]
	Cohesion    []float64 `json:"cohesion"` // Cohesion[label]: mean similarity of members to the centroid
	Outliers    int       `json:"outliers"`
}

// Members returns the input indices carrying label, in input order.
func (r *Result) Members(label int) []int {
	var out []int
	for i, l := range r.Labels {
		if l == label {
			out = append(out, i)
		}
	}
	return out
}

// Cluster partitions embeddings. All embeddings must share one variant and dimension.
func Cluster(embeddings []faceid.FaceEmbedding, opts Options) (*Result, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	for i := 1; i < len(embeddings); i++ {
		if err := embeddings[0].Compatible(embeddings[i]); err != nil {
			return nil, faceid.ValidationErrorf("embedding %d: %v", i, err)
		}
	}

	switch len(embeddings) {
	case 0:
		return &Result{Labels: []int{}, Sizes: []int{}, Cohesion: []float64{}}, nil
	case 1:
		return &Result{NumClusters: 1, Labels: []int{0}, Sizes: []int{1}, Cohesion: []float64{1}}, nil
	}

	order := canonicalOrder(embeddings)
	vectors := make([][]float32, len(order))
	for pos, idx := range order {
		vectors[pos] = embeddings[idx].Vector
	}

	groups, err := agglomerate(vectors, opts)
	if err != nil {
		return nil, err
	}

	// Back to input indices.
	for _, g := range groups {
		for k, pos := range g {
			g[k] = order[pos]
		}
		slices.Sort(g)
	}
	return label(embeddings, groups, opts.MinClusterSize)
}

// canonicalOrder sorts input indices by vector value, then by input index.
func canonicalOrder(embeddings []faceid.FaceEmbedding) []int {
	order := make([]int, len(embeddings))
	for i := range order {
		order[i] = i
	}
	slices.SortStableFunc(order, func(a, b int) int {
		if c := slices.Compare(embeddings[a].Vector, embeddings[b].Vector); c != 0 {
			return c
		}
		return cmp.Compare(a, b)
	})
	return order
}

// label numbers clusters in order of their lowest input index and marks small groups
// as outliers.
func label(embeddings []faceid.FaceEmbedding, groups [][]int, minSize int) (*Result, error) {
	slices.SortFunc(groups, func(a, b []int) int { return cmp.Compare(a[0], b[0]) })

	res := &Result{
		Labels:   make([]int, len(embeddings)),
		Sizes:    []int{},
		Cohesion: []float64{},
	}
	for _, g := range groups {
		if len(g) < minSize {
			for _, idx := range g {
				res.Labels[idx] = OutlierLabel
			}
			res.Outliers += len(g)
			continue
		}

		cohesion, err := cohesionOf(embeddings, g)
		if err != nil {
			return nil, err
		}
		for _, idx := range g {
			res.Labels[idx] = res.NumClusters
		}
		res.Sizes = append(res.Sizes, len(g))
		res.Cohesion = append(res.Cohesion, cohesion)
		res.NumClusters++
	}
	return res, nil
}

func cohesionOf(embeddings []faceid.FaceEmbedding, members []int) (float64, error) {
	vectors := make([][]float32, len(members))
	for k, idx := range members {
		vectors[k] = embeddings[idx].Vector
	}
	centroid, err := faceid.Mean(vectors)
	if err != nil {
		return 0, err
	}
	var sum float64
	for _, v := range vectors {
		sim, err := faceid.CosineSimilarity(v, centroid)
		if err != nil {
			return 0, err
		}
		sum += sim
	}
	return sum / float64(len(vectors)), nil
}
