package database

// HNSW index parameters for the labeled pool
const (
	// HNSWMaxNeighbors (M) is the maximum number of neighbors per node.
	// Higher values improve recall but increase memory and build time.
	HNSWMaxNeighbors = 16

	// HNSWEfSearch is the search candidate pool size.
	// Higher values improve recall but slow down search.
	HNSWEfSearch = 100

	// HNSWSearchMultiplier is the factor applied to K when asking the index for
	// candidates, which are then re-ranked exactly.
	HNSWSearchMultiplier = 10

	// HNSWMinCandidates is the smallest candidate set taken from the index.
	HNSWMinCandidates = 100

	// HNSWSeed seeds level generation so the same pool builds the same graph.
	HNSWSeed = 1
)
