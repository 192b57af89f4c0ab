package cluster

import (
	"math"

	"github.com/kozaktomas/rollcall/internal/faceid"
)

// linkage holds the pairwise average-linkage distances between active groups. Group i is
// represented by position i; a merged group keeps the lower position.
type linkage struct {
	n       int
	dist    []float64 // n*n, symmetric
	active  []bool
	size    []int
	members [][]int
	nn      []int     // nearest active neighbour of each active row
	nnDist  []float64 // distance to nn
}

func newLinkage(vectors [][]float32) (*linkage, error) {
	n := len(vectors)
	l := &linkage{
		n:       n,
		dist:    make([]float64, n*n),
		active:  make([]bool, n),
		size:    make([]int, n),
		members: make([][]int, n),
		nn:      make([]int, n),
		nnDist:  make([]float64, n),
	}
	for i := 0; i < n; i++ {
		l.active[i] = true
		l.size[i] = 1
		l.members[i] = []int{i}
		for j := i + 1; j < n; j++ {
			d, err := faceid.CosineDistance(vectors[i], vectors[j])
			if err != nil {
				return nil, err
			}
			l.dist[i*n+j] = d
			l.dist[j*n+i] = d
		}
	}
	for i := 0; i < n; i++ {
		l.refreshNeighbour(i)
	}
	return l, nil
}

func (l *linkage) d(i, j int) float64 {
	return l.dist[i*l.n+j]
}

// refreshNeighbour rescans row i. Equal distances keep the lower position.
func (l *linkage) refreshNeighbour(i int) {
	l.nn[i] = -1
	l.nnDist[i] = math.Inf(1)
	for j := 0; j < l.n; j++ {
		if j == i || !l.active[j] {
			continue
		}
		if d := l.d(i, j); d < l.nnDist[i] {
			l.nn[i] = j
			l.nnDist[i] = d
		}
	}
}

// closest returns the pair with the smallest (distance, lower position, higher position).
func (l *linkage) closest() (a, b int, dist float64) {
	a, b, dist = -1, -1, math.Inf(1)
	for i := 0; i < l.n; i++ {
		if !l.active[i] || l.nn[i] < 0 {
			continue
		}
		lo, hi := i, l.nn[i]
		if lo > hi {
			lo, hi = hi, lo
		}
		d := l.nnDist[i]
		if d < dist || (d == dist && (lo < a || (lo == a && hi < b))) {
			a, b, dist = lo, hi, d
		}
	}
	return a, b, dist
}

// merge folds group b into group a (a < b) and updates distances with the
// Lance-Williams formula for average linkage.
func (l *linkage) merge(a, b int) {
	na, nb := float64(l.size[a]), float64(l.size[b])
	for k := 0; k < l.n; k++ {
		if !l.active[k] || k == a || k == b {
			continue
		}
		d := (na*l.d(a, k) + nb*l.d(b, k)) / (na + nb)
		l.dist[a*l.n+k] = d
		l.dist[k*l.n+a] = d
	}

	l.active[b] = false
	l.size[a] += l.size[b]
	l.members[a] = append(l.members[a], l.members[b]...)
	l.members[b] = nil

	for k := 0; k < l.n; k++ {
		if !l.active[k] {
			continue
		}
		switch {
		case k == a, l.nn[k] == a, l.nn[k] == b:
			l.refreshNeighbour(k)
		default:
			// Average linkage never moves a group closer than its nearer part, so only an
			// equal distance at a lower position can take over.
			if d := l.d(k, a); d < l.nnDist[k] || (d == l.nnDist[k] && a < l.nn[k]) {
				l.nn[k] = a
				l.nnDist[k] = d
			}
		}
	}
}

// agglomerate merges closest groups while they are similar enough, then keeps merging
// while there are more than MaxClusters groups. It returns groups of positions.
func agglomerate(vectors [][]float32, opts Options) ([][]int, error) {
	l, err := newLinkage(vectors)
	if err != nil {
		return nil, err
	}

	maxDist := 1 - opts.SimilarityThreshold
	groups := l.n
	for groups > 1 {
		a, b, dist := l.closest()
		if a < 0 {
			break
		}
		similarEnough := opts.SimilarityThreshold == 0 || dist <= maxDist
		if !similarEnough && groups <= opts.MaxClusters {
			break
		}
		l.merge(a, b)
		groups--
	}

	out := make([][]int, 0, groups)
	for i := 0; i < l.n; i++ {
		if l.active[i] {
			out = append(out, l.members[i])
		}
	}
	return out, nil
}
