package clustering

import (
	"cmp"
	"math"
	"runtime"
	"slices"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/spatial/kdtree"
)

// indexedPoint is a row of a point set that remembers its original position,
// since building the k-d tree reorders the backing slice.
type indexedPoint struct {
	index  int
	coords []float64
}

func (p indexedPoint) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	return p.coords[d] - c.(indexedPoint).coords[d]
}

func (p indexedPoint) Dims() int { return len(p.coords) }

// Distance returns the squared Euclidean distance.
func (p indexedPoint) Distance(c kdtree.Comparable) float64 {
	q := c.(indexedPoint)
	var sum float64
	for i, v := range p.coords {
		d := v - q.coords[i]
		sum += d * d
	}
	return sum
}

type pointSet []indexedPoint

func (s pointSet) Index(i int) kdtree.Comparable         { return s[i] }
func (s pointSet) Len() int                              { return len(s) }
func (s pointSet) Slice(start, end int) kdtree.Interface { return s[start:end] }
func (s pointSet) Pivot(d kdtree.Dim) int {
	return plane{dim: d, pointSet: s}.Pivot()
}

// plane orders a point set along one dimension for median partitioning.
type plane struct {
	dim kdtree.Dim
	pointSet
}

func (p plane) Less(i, j int) bool {
	return p.pointSet[i].coords[p.dim] < p.pointSet[j].coords[p.dim]
}
func (p plane) Swap(i, j int) { p.pointSet[i], p.pointSet[j] = p.pointSet[j], p.pointSet[i] }
func (p plane) Slice(start, end int) kdtree.SortSlicer {
	return plane{dim: p.dim, pointSet: p.pointSet[start:end]}
}
func (p plane) Pivot() int { return kdtree.Partition(p, kdtree.MedianOfMedians(p)) }

// neighbor is one query result. Dist is Euclidean, not squared.
type neighbor struct {
	Index int
	Dist  float64
}

// neighborIndex answers exact nearest neighbour and radius queries over a
// fixed point set. Queries are safe for concurrent use.
type neighborIndex struct {
	tree *kdtree.Tree
	size int
}

func newNeighborIndex(points [][]float64) *neighborIndex {
	set := make(pointSet, len(points))
	for i, p := range points {
		set[i] = indexedPoint{index: i, coords: p}
	}
	return &neighborIndex{tree: kdtree.New(set, false), size: len(points)}
}

// nearest returns the k nearest points to q ordered by distance then index.
// A query point that belongs to the set is its own first neighbour.
func (ix *neighborIndex) nearest(q []float64, k int) []neighbor {
	keeper := kdtree.NewNKeeper(k)
	ix.tree.NearestSet(keeper, indexedPoint{index: -1, coords: q})
	return collect(keeper.Heap)
}

// within returns every point at Euclidean distance <= radius from q, ordered
// by index.
func (ix *neighborIndex) within(q []float64, radius float64) []int {
	keeper := kdtree.NewDistKeeper(radius * radius)
	ix.tree.NearestSet(keeper, indexedPoint{index: -1, coords: q})
	found := make([]int, 0, len(keeper.Heap))
	for _, c := range keeper.Heap {
		if c.Comparable == nil {
			continue
		}
		found = append(found, c.Comparable.(indexedPoint).index)
	}
	slices.Sort(found)
	return found
}

func collect(heap kdtree.Heap) []neighbor {
	result := make([]neighbor, 0, len(heap))
	for _, c := range heap {
		if c.Comparable == nil {
			continue
		}
		result = append(result, neighbor{
			Index: c.Comparable.(indexedPoint).index,
			Dist:  math.Sqrt(c.Dist),
		})
	}
	slices.SortFunc(result, func(a, b neighbor) int {
		if c := cmp.Compare(a.Dist, b.Dist); c != 0 {
			return c
		}
		return cmp.Compare(a.Index, b.Index)
	})
	return result
}

// forEachRow calls fn for every row index in [0, n), splitting the range into
// contiguous chunks across workers. fn must only write to state owned by its
// row.
func forEachRow(n, workers int, fn func(i int) error) error {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if n == 0 {
		return nil
	}
	chunk := (n + workers - 1) / workers

	var g errgroup.Group
	for start := 0; start < n; start += chunk {
		end := min(start+chunk, n)
		g.Go(func() error {
			for i := start; i < end; i++ {
				if err := fn(i); err != nil {
					return err
				}
			}
			return nil
		})
	}
	return g.Wait()
}
