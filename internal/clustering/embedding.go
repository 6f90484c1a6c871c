package clustering

import (
	"cmp"
	"fmt"
	"math"
	"math/rand/v2"
	"slices"

	"github.com/chrisconley/rfms/internal"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"
	"gonum.org/v1/gonum/stat"
)

const (
	smoothKTolerance = 1e-5
	minKDistScale    = 1e-3
	bandwidthIters   = 64
	gradientClip     = 4.0
	largeDataset     = 10000
)

// EmbeddingConfig parameterizes the manifold embedding.
type EmbeddingConfig struct {
	NNeighbors         int
	MinDist            float64
	Spread             float64
	NComponents        int
	Seed               uint64
	LearningRate       float64
	NegativeSampleRate int

	// Optimisation epochs. Zero picks 500 for up to 10000 rows, 200 above.
	// Projection of new rows runs a third as many, or 100/30 when zero.
	Epochs int

	// Parallelism of neighbour queries. Zero means GOMAXPROCS.
	Workers int
}

func DefaultEmbeddingConfig() EmbeddingConfig {
	return EmbeddingConfig{
		NNeighbors:         50,
		MinDist:            0.1,
		Spread:             1.0,
		NComponents:        3,
		Seed:               12,
		LearningRate:       1.0,
		NegativeSampleRate: 5,
	}
}

func (c EmbeddingConfig) validate() error {
	switch {
	case c.NNeighbors < 2:
		return fmt.Errorf("invalid embedding config: n_neighbors must be at least 2, got %d", c.NNeighbors)
	case c.NComponents < 1:
		return fmt.Errorf("invalid embedding config: n_components must be positive, got %d", c.NComponents)
	case c.Spread <= 0:
		return fmt.Errorf("invalid embedding config: spread must be positive, got %g", c.Spread)
	case c.MinDist < 0 || c.MinDist > c.Spread:
		return fmt.Errorf("invalid embedding config: min_dist must be in [0, spread], got %g", c.MinDist)
	case c.LearningRate <= 0:
		return fmt.Errorf("invalid embedding config: learning_rate must be positive, got %g", c.LearningRate)
	case c.NegativeSampleRate < 0:
		return fmt.Errorf("invalid embedding config: negative_sample_rate cannot be negative, got %d", c.NegativeSampleRate)
	case c.Epochs < 0:
		return fmt.Errorf("invalid embedding config: epochs cannot be negative, got %d", c.Epochs)
	}
	return nil
}

// FittedEmbedding is a manifold embedding fitted on a training matrix. It
// holds the training rows and their coordinates so that new rows can be
// placed in the same space without refitting.
type FittedEmbedding struct {
	config    EmbeddingConfig
	dims      int
	k         int
	a, b      float64
	index     *neighborIndex
	training  [][]float64
	embedding [][]float64
}

// edge is one weighted edge of the fuzzy neighbourhood graph.
type edge struct {
	head, tail int
	weight     float64
}

// FitEmbedding learns a low-dimensional embedding of data.
func FitEmbedding(data [][]float64, config EmbeddingConfig) (FittedEmbedding, error) {
	if err := config.validate(); err != nil {
		return FittedEmbedding{}, err
	}
	if len(data) < 2 {
		return FittedEmbedding{}, &internal.SchemaError{Reason: fmt.Sprintf("embedding needs at least 2 rows, got %d", len(data))}
	}
	dims, err := matrixDims(data)
	if err != nil {
		return FittedEmbedding{}, err
	}

	training := cloneMatrix(data)
	n := len(training)
	k := min(config.NNeighbors, n)
	index := newNeighborIndex(training)

	knn := make([][]neighbor, n)
	err = forEachRow(n, config.Workers, func(i int) error {
		knn[i] = index.nearest(training[i], k)
		return nil
	})
	if err != nil {
		return FittedEmbedding{}, fmt.Errorf("failed to query neighbours: %w", err)
	}

	sigmas, rhos := smoothKNNDist(knn, float64(k), 1)
	graph := fuzzyUnion(membershipStrengths(knn, sigmas, rhos, false))

	epochs := config.Epochs
	if epochs == 0 {
		epochs = 500
		if n > largeDataset {
			epochs = 200
		}
	}
	graph = pruneEdges(graph, epochs)

	a, b, err := fitCurve(config.Spread, config.MinDist)
	if err != nil {
		return FittedEmbedding{}, err
	}

	rng := rand.New(rand.NewPCG(config.Seed, config.Seed))
	embedding := initialLayout(training, config.NComponents, rng)

	layout{
		head:      embedding,
		tail:      embedding,
		edges:     graph,
		a:         a,
		b:         b,
		alpha:     config.LearningRate,
		negRate:   config.NegativeSampleRate,
		moveOther: true,
		nVertices: n,
		epochs:    epochs,
		rng:       rng,
	}.optimize()

	return FittedEmbedding{
		config:    config,
		dims:      dims,
		k:         k,
		a:         a,
		b:         b,
		index:     index,
		training:  training,
		embedding: embedding,
	}, nil
}

// Baseline returns the coordinates of the training rows, in training order.
func (e FittedEmbedding) Baseline() [][]float64 {
	return cloneMatrix(e.embedding)
}

// Apply places new rows in the fitted space. The training coordinates are
// held fixed; only the new points move. Deterministic for a given seed.
func (e FittedEmbedding) Apply(data [][]float64) ([][]float64, error) {
	if e.index == nil {
		return nil, fmt.Errorf("embedding is not fitted")
	}
	if len(data) == 0 {
		return [][]float64{}, nil
	}
	dims, err := matrixDims(data)
	if err != nil {
		return nil, err
	}
	if dims != e.dims {
		return nil, &internal.SchemaError{Reason: fmt.Sprintf("embedding was fitted on %d columns, got %d", e.dims, dims)}
	}

	knn := make([][]neighbor, len(data))
	err = forEachRow(len(data), e.config.Workers, func(i int) error {
		knn[i] = e.index.nearest(data[i], e.k)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query neighbours: %w", err)
	}

	sigmas, rhos := smoothKNNDist(knn, float64(e.k), 0)
	weights := membershipStrengths(knn, sigmas, rhos, true)
	normalizeRows(weights, len(data))

	components := len(e.embedding[0])
	embedding := make([][]float64, len(data))
	for i := range embedding {
		embedding[i] = make([]float64, components)
	}
	for _, w := range weights {
		for d := range components {
			embedding[w.head][d] += w.weight * e.embedding[w.tail][d]
		}
	}

	epochs := 100
	if len(data) > largeDataset {
		epochs = 30
	}
	if e.config.Epochs > 0 {
		epochs = max(e.config.Epochs/3, 1)
	}
	weights = pruneEdges(weights, epochs)

	layout{
		head:      embedding,
		tail:      cloneMatrix(e.embedding),
		edges:     weights,
		a:         e.a,
		b:         e.b,
		alpha:     e.config.LearningRate / 4,
		negRate:   e.config.NegativeSampleRate,
		moveOther: false,
		nVertices: len(e.embedding),
		epochs:    epochs,
		rng:       rand.New(rand.NewPCG(e.config.Seed, e.config.Seed)),
	}.optimize()

	return embedding, nil
}

// smoothKNNDist finds, for every row, the distance to its nearest non-zero
// neighbour (rho) and the bandwidth (sigma) at which the row's membership
// strengths sum to log2(k).
func smoothKNNDist(knn [][]neighbor, k, localConnectivity float64) (sigmas, rhos []float64) {
	target := math.Log2(k)
	sigmas = make([]float64, len(knn))
	rhos = make([]float64, len(knn))

	var total float64
	var count int
	for _, row := range knn {
		for _, nb := range row {
			total += nb.Dist
			count++
		}
	}
	meanDist := 0.0
	if count > 0 {
		meanDist = total / float64(count)
	}

	for i, row := range knn {
		nonZero := make([]float64, 0, len(row))
		var rowTotal float64
		for _, nb := range row {
			rowTotal += nb.Dist
			if nb.Dist > 0 {
				nonZero = append(nonZero, nb.Dist)
			}
		}

		if len(nonZero) >= int(math.Ceil(localConnectivity)) && len(nonZero) > 0 {
			idx := int(math.Floor(localConnectivity))
			interpolation := localConnectivity - float64(idx)
			if idx > 0 {
				rhos[i] = nonZero[idx-1]
				if interpolation > smoothKTolerance {
					rhos[i] += interpolation * (nonZero[idx] - nonZero[idx-1])
				}
			} else {
				rhos[i] = interpolation * nonZero[0]
			}
		} else if len(nonZero) > 0 {
			rhos[i] = slices.Max(nonZero)
		}

		lo, hi, mid := 0.0, math.Inf(1), 1.0
		for range bandwidthIters {
			var psum float64
			for _, nb := range row[min(1, len(row)):] {
				if d := nb.Dist - rhos[i]; d > 0 {
					psum += math.Exp(-d / mid)
				} else {
					psum++
				}
			}
			if math.Abs(psum-target) < smoothKTolerance {
				break
			}
			if psum > target {
				hi = mid
				mid = (lo + hi) / 2
			} else {
				lo = mid
				if math.IsInf(hi, 1) {
					mid *= 2
				} else {
					mid = (lo + hi) / 2
				}
			}
		}

		sigmas[i] = mid
		floor := minKDistScale * meanDist
		if rhos[i] > 0 && len(row) > 0 {
			floor = minKDistScale * rowTotal / float64(len(row))
		}
		if sigmas[i] < floor {
			sigmas[i] = floor
		}
	}
	return sigmas, rhos
}

// membershipStrengths converts neighbour distances into directed edge
// weights. A point is not its own neighbour unless bipartite is set, in
// which case head rows and tail rows index different sets.
func membershipStrengths(knn [][]neighbor, sigmas, rhos []float64, bipartite bool) []edge {
	var edges []edge
	for i, row := range knn {
		for _, nb := range row {
			var w float64
			switch {
			case !bipartite && nb.Index == i:
				w = 0
			case nb.Dist-rhos[i] <= 0 || sigmas[i] == 0:
				w = 1
			default:
				w = math.Exp(-(nb.Dist - rhos[i]) / sigmas[i])
			}
			edges = append(edges, edge{head: i, tail: nb.Index, weight: w})
		}
	}
	return edges
}

// fuzzyUnion symmetrizes a directed graph with the probabilistic t-conorm
// w(a,b) + w(b,a) - w(a,b)w(b,a). Zero-weight edges are dropped and the
// result is ordered by (head, tail).
func fuzzyUnion(directed []edge) []edge {
	forward := make([]edge, 0, len(directed))
	for _, e := range directed {
		if e.weight != 0 {
			forward = append(forward, e)
		}
	}
	backward := make([]edge, len(forward))
	for i, e := range forward {
		backward[i] = edge{head: e.tail, tail: e.head, weight: e.weight}
	}
	slices.SortFunc(forward, compareEdges)
	slices.SortFunc(backward, compareEdges)

	result := make([]edge, 0, len(forward)+len(backward))
	i, j := 0, 0
	for i < len(forward) || j < len(backward) {
		var e edge
		switch {
		case j == len(backward) || (i < len(forward) && compareEdges(forward[i], backward[j]) < 0):
			e = forward[i]
			i++
		case i == len(forward) || compareEdges(forward[i], backward[j]) > 0:
			e = backward[j]
			j++
		default:
			a, b := forward[i].weight, backward[j].weight
			e = edge{head: forward[i].head, tail: forward[i].tail, weight: a + b - a*b}
			i++
			j++
		}
		if e.weight != 0 {
			result = append(result, e)
		}
	}
	return result
}

func compareEdges(x, y edge) int {
	if c := cmp.Compare(x.head, y.head); c != 0 {
		return c
	}
	return cmp.Compare(x.tail, y.tail)
}

// pruneEdges drops edges too weak to be sampled even once in epochs.
func pruneEdges(edges []edge, epochs int) []edge {
	if len(edges) == 0 {
		return edges
	}
	maxWeight := 0.0
	for _, e := range edges {
		maxWeight = math.Max(maxWeight, e.weight)
	}
	threshold := maxWeight / float64(epochs)
	kept := make([]edge, 0, len(edges))
	for _, e := range edges {
		if e.weight >= threshold && e.weight > 0 {
			kept = append(kept, e)
		}
	}
	return kept
}

// normalizeRows scales the weights of each head row to sum to one.
func normalizeRows(edges []edge, rows int) {
	sums := make([]float64, rows)
	for _, e := range edges {
		sums[e.head] += math.Abs(e.weight)
	}
	for i := range edges {
		if s := sums[edges[i].head]; s > 0 {
			edges[i].weight /= s
		}
	}
}

// fitCurve fits a and b of the low-dimensional similarity 1/(1 + a*d^(2b))
// to the offset exponential decay defined by spread and minDist.
func fitCurve(spread, minDist float64) (a, b float64, err error) {
	const samples = 300
	xs := make([]float64, samples)
	ys := make([]float64, samples)
	for i := range xs {
		xs[i] = 3 * spread * float64(i) / float64(samples-1)
		if xs[i] < minDist {
			ys[i] = 1
		} else {
			ys[i] = math.Exp(-(xs[i] - minDist) / spread)
		}
	}

	problem := optimize.Problem{
		Func: func(p []float64) float64 {
			if p[0] <= 0 || p[1] <= 0 {
				return math.MaxFloat64
			}
			var sse float64
			for i, x := range xs {
				r := 1/(1+p[0]*math.Pow(x, 2*p[1])) - ys[i]
				sse += r * r
			}
			return sse
		},
	}
	result, err := optimize.Minimize(problem, []float64{1, 1}, nil, &optimize.NelderMead{})
	if result == nil {
		return 0, 0, fmt.Errorf("failed to fit embedding curve: %w", err)
	}
	// Nelder-Mead reports hitting its iteration limit as an error; the best
	// point found is still usable.
	return result.X[0], result.X[1], nil
}

// initialLayout projects data onto its leading principal components, rescales
// to a box of side 10 and adds small seeded jitter so that duplicate rows
// separate.
func initialLayout(data [][]float64, components int, rng *rand.Rand) [][]float64 {
	n, dims := len(data), len(data[0])
	x := mat.NewDense(n, dims, nil)
	for i, row := range data {
		x.SetRow(i, row)
	}

	var cov mat.SymDense
	stat.CovarianceMatrix(&cov, x, nil)
	var eig mat.EigenSym
	ok := eig.Factorize(&cov, true)

	embedding := make([][]float64, n)
	for i := range embedding {
		embedding[i] = make([]float64, components)
	}

	if ok {
		var vectors mat.Dense
		eig.VectorsTo(&vectors)
		means := make([]float64, dims)
		for j := range dims {
			means[j] = stat.Mean(mat.Col(nil, j, x), nil)
		}
		// Eigenvalues are ascending; take the largest first.
		for c := 0; c < components && c < dims; c++ {
			axis := mat.Col(nil, dims-1-c, &vectors)
			for i, row := range data {
				var v float64
				for j := range dims {
					v += (row[j] - means[j]) * axis[j]
				}
				embedding[i][c] = v
			}
		}
	}

	maxAbs := 0.0
	for _, row := range embedding {
		for _, v := range row {
			maxAbs = math.Max(maxAbs, math.Abs(v))
		}
	}
	expansion := 1.0
	if maxAbs > 0 {
		expansion = 10 / maxAbs
	}
	for _, row := range embedding {
		for d := range row {
			row[d] = row[d]*expansion + rng.NormFloat64()*1e-4
		}
	}

	for d := range components {
		lo, hi := math.Inf(1), math.Inf(-1)
		for _, row := range embedding {
			lo = math.Min(lo, row[d])
			hi = math.Max(hi, row[d])
		}
		if hi == lo {
			continue
		}
		for _, row := range embedding {
			row[d] = 10 * (row[d] - lo) / (hi - lo)
		}
	}
	return embedding
}

// layout runs stochastic gradient descent on an embedding: attraction along
// sampled graph edges, repulsion from randomly drawn negative samples.
type layout struct {
	head, tail [][]float64
	edges      []edge
	a, b       float64
	alpha      float64
	negRate    int
	moveOther  bool
	nVertices  int
	epochs     int
	rng        *rand.Rand
}

func (l layout) optimize() {
	if len(l.edges) == 0 {
		return
	}

	maxWeight := 0.0
	for _, e := range l.edges {
		maxWeight = math.Max(maxWeight, e.weight)
	}
	epochsPerSample := make([]float64, len(l.edges))
	nextSample := make([]float64, len(l.edges))
	epochsPerNegative := make([]float64, len(l.edges))
	nextNegative := make([]float64, len(l.edges))
	for i, e := range l.edges {
		epochsPerSample[i] = maxWeight / e.weight
		nextSample[i] = epochsPerSample[i]
		if l.negRate > 0 {
			epochsPerNegative[i] = epochsPerSample[i] / float64(l.negRate)
			nextNegative[i] = epochsPerNegative[i]
		}
	}

	dims := len(l.head[0])
	initialAlpha := l.alpha
	alpha := initialAlpha
	for n := range l.epochs {
		epoch := float64(n)
		for i, e := range l.edges {
			if nextSample[i] > epoch {
				continue
			}
			current := l.head[e.head]
			other := l.tail[e.tail]

			distSq := squaredDistance(current, other)
			gradCoeff := 0.0
			if distSq > 0 {
				gradCoeff = -2 * l.a * l.b * math.Pow(distSq, l.b-1)
				gradCoeff /= l.a*math.Pow(distSq, l.b) + 1
			}
			for d := range dims {
				grad := clip(gradCoeff * (current[d] - other[d]))
				current[d] += grad * alpha
				if l.moveOther {
					other[d] -= grad * alpha
				}
			}
			nextSample[i] += epochsPerSample[i]
			if l.negRate == 0 {
				continue
			}

			negatives := int((epoch - nextNegative[i]) / epochsPerNegative[i])
			for range negatives {
				k := l.rng.IntN(l.nVertices)
				other := l.tail[k]
				distSq := squaredDistance(current, other)
				if distSq > 0 {
					gradCoeff = 2 * l.b
					gradCoeff /= (0.001 + distSq) * (l.a*math.Pow(distSq, l.b) + 1)
				} else if e.head == k && l.moveOther {
					continue
				} else {
					gradCoeff = 0
				}
				for d := range dims {
					grad := gradientClip
					if gradCoeff > 0 {
						grad = clip(gradCoeff * (current[d] - other[d]))
					}
					current[d] += grad * alpha
				}
			}
			nextNegative[i] += float64(negatives) * epochsPerNegative[i]
		}
		alpha = initialAlpha * (1 - epoch/float64(l.epochs))
	}
}

func clip(v float64) float64 {
	return math.Max(-gradientClip, math.Min(gradientClip, v))
}

func squaredDistance(a, b []float64) float64 {
	var sum float64
	for i, v := range a {
		d := v - b[i]
		sum += d * d
	}
	return sum
}

func matrixDims(data [][]float64) (int, error) {
	dims := len(data[0])
	if dims == 0 {
		return 0, &internal.SchemaError{Reason: "rows have no columns"}
	}
	for i, row := range data {
		if len(row) != dims {
			return 0, &internal.SchemaError{Reason: fmt.Sprintf("row %d has %d columns, expected %d", i, len(row), dims)}
		}
	}
	return dims, nil
}

func cloneMatrix(m [][]float64) [][]float64 {
	out := make([][]float64, len(m))
	for i, row := range m {
		out[i] = slices.Clone(row)
	}
	return out
}
