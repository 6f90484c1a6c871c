package clustering

import "math"

// clusterDensity is the per-cluster state of the validity index.
type clusterDensity struct {
	members    []int
	core       []float64 // all-points core distance, by position in members
	internal   []int     // positions in members with MST degree > 1
	sparseness float64
}

// validityIndex computes the density-based clustering validation index of
// labels. Noise points count towards the total but belong to no cluster.
// The caller guarantees at least two clusters.
func validityIndex(points [][]float64, labels []int, workers int) (float64, error) {
	groups := map[int][]int{}
	ids := []int{}
	for i, l := range labels {
		if l == NoiseLabel {
			continue
		}
		if _, ok := groups[l]; !ok {
			ids = append(ids, l)
		}
		groups[l] = append(groups[l], i)
	}

	dims := float64(len(points[0]))
	clusters := make([]clusterDensity, len(ids))
	for c, id := range ids {
		members := groups[id]
		core, err := coreDistances(points, members, dims, workers)
		if err != nil {
			return 0, err
		}
		nodes, sparseness := spanningTree(points, members, core)
		clusters[c] = clusterDensity{
			members:    members,
			core:       core,
			internal:   nodes,
			sparseness: sparseness,
		}
	}

	total := float64(len(points))
	var index float64
	for i, ci := range clusters {
		separation := math.Inf(1)
		for j, cj := range clusters {
			if i == j {
				continue
			}
			separation = math.Min(separation, densitySeparation(points, ci, cj))
		}
		denom := math.Max(separation, ci.sparseness)
		var v float64
		if denom > 0 && !math.IsInf(denom, 1) {
			v = (separation - ci.sparseness) / denom
		}
		index += float64(len(ci.members)) / total * v
	}
	return index, nil
}

// coreDistances returns the all-points core distance of every member: the
// inverse of the mean inverse distance to the other members, in dims-th power
// mean form. Members whose only neighbours coincide with them get zero.
func coreDistances(points [][]float64, members []int, dims float64, workers int) ([]float64, error) {
	m := len(members)
	core := make([]float64, m)
	if m < 2 {
		return core, nil
	}

	sums := make([]float64, m)
	err := forEachRow(m, workers, func(a int) error {
		var sum float64
		for b := range m {
			d := math.Sqrt(squaredDistance(points[members[a]], points[members[b]]))
			if d > 0 {
				sum += math.Pow(1/d, dims)
			}
		}
		sums[a] = sum / float64(m-1)
		return nil
	})
	if err != nil {
		return nil, err
	}

	var total float64
	for _, s := range sums {
		total += s
	}
	if total == 0 {
		return core, nil
	}
	for a, s := range sums {
		if s > 0 {
			core[a] = math.Pow(s, -1/dims)
		}
	}
	return core, nil
}

// mutualReachability is max(core_a, core_b, d(a, b)).
func mutualReachability(points [][]float64, a, b int, coreA, coreB float64) float64 {
	d := math.Sqrt(squaredDistance(points[a], points[b]))
	return math.Max(d, math.Max(coreA, coreB))
}

// spanningTree builds the minimum spanning tree of a cluster under mutual
// reachability with Prim's algorithm. It returns the internal nodes (degree
// above one, or the first node when there are none) and the density
// sparseness: the heaviest edge between internal nodes, or the heaviest edge
// overall when no edge joins two internal nodes.
func spanningTree(points [][]float64, members []int, core []float64) (internalNodes []int, sparseness float64) {
	m := len(members)
	if m < 2 {
		return []int{0}, 0
	}

	inTree := make([]bool, m)
	best := make([]float64, m)
	parent := make([]int, m)
	for i := range best {
		best[i] = math.Inf(1)
		parent[i] = -1
	}

	type treeEdge struct {
		a, b   int
		weight float64
	}
	edges := make([]treeEdge, 0, m-1)
	degree := make([]int, m)

	current := 0
	inTree[0] = true
	for range m - 1 {
		next, nextWeight := -1, math.Inf(1)
		for v := range m {
			if inTree[v] {
				continue
			}
			w := mutualReachability(points, members[current], members[v], core[current], core[v])
			if w < best[v] {
				best[v] = w
				parent[v] = current
			}
			if best[v] < nextWeight {
				next, nextWeight = v, best[v]
			}
		}
		inTree[next] = true
		edges = append(edges, treeEdge{a: parent[next], b: next, weight: nextWeight})
		degree[parent[next]]++
		degree[next]++
		current = next
	}

	for v, d := range degree {
		if d > 1 {
			internalNodes = append(internalNodes, v)
		}
	}
	if len(internalNodes) == 0 {
		internalNodes = []int{0}
	}
	isInternal := make([]bool, m)
	for _, v := range internalNodes {
		isInternal[v] = true
	}

	found := false
	for _, e := range edges {
		if isInternal[e.a] && isInternal[e.b] {
			sparseness = math.Max(sparseness, e.weight)
			found = true
		}
	}
	if !found {
		for _, e := range edges {
			sparseness = math.Max(sparseness, e.weight)
		}
	}
	return internalNodes, sparseness
}

// densitySeparation is the smallest mutual reachability distance between
// the internal nodes of two clusters.
func densitySeparation(points [][]float64, ci, cj clusterDensity) float64 {
	sep := math.Inf(1)
	for _, a := range ci.internal {
		for _, b := range cj.internal {
			w := mutualReachability(points, ci.members[a], cj.members[b], ci.core[a], cj.core[b])
			sep = math.Min(sep, w)
		}
	}
	return sep
}
