package vectorindex

import (
	"container/heap"
	"context"
	"fmt"
	"math"
	"math/rand"
	"sort"

	"github.com/dshills/kwmatch/internal/embedder"
	"github.com/dshills/kwmatch/pkg/types"
)

const (
	DefaultM              = 32
	DefaultEfSearch       = 200
	DefaultEfConstruction = 200

	maxLevel = 16
)

// Config holds the HNSW parameters
type Config struct {
	Dimension      int
	M              int // Max neighbours per node on upper layers (2*M on layer 0)
	EfConstruction int
	EfSearch       int
	Seed           int64 // Level assignment seed; equal seeds give equal graphs
}

// Hit is a chunk returned by Query
type Hit struct {
	ChunkID    int // Insertion order
	PageURL    string
	Similarity float64 // Cosine similarity in [-1, 1]
}

// Index is an in-memory HNSW graph over L2-normalized vectors.
//
// Inserts are single-writer. Once building is done the index is read-only
// and Query may be called from any number of goroutines.
type Index struct {
	cfg       Config
	levelMult float64
	rng       *rand.Rand

	vectors [][]float32
	pages   []string
	links   [][][]int32 // node -> layer -> neighbours

	entry int
	top   int
}

// New creates an empty index
func New(cfg Config) (*Index, error) {
	if cfg.Dimension <= 0 {
		return nil, fmt.Errorf("%w: dimension must be positive, got %d", types.ErrIndexBuild, cfg.Dimension)
	}
	if cfg.M <= 0 {
		cfg.M = DefaultM
	}
	if cfg.M < 2 {
		return nil, fmt.Errorf("%w: M must be >= 2, got %d", types.ErrIndexBuild, cfg.M)
	}
	if cfg.EfConstruction <= 0 {
		cfg.EfConstruction = DefaultEfConstruction
	}
	if cfg.EfSearch <= 0 {
		cfg.EfSearch = DefaultEfSearch
	}

	return &Index{
		cfg:       cfg,
		levelMult: 1 / math.Log(float64(cfg.M)),
		rng:       rand.New(rand.NewSource(cfg.Seed)),
		entry:     -1,
	}, nil
}

// Len returns the number of indexed vectors
func (ix *Index) Len() int {
	return len(ix.vectors)
}

// Dimension returns the configured dimension
func (ix *Index) Dimension() int {
	return ix.cfg.Dimension
}

// Build inserts the embedding of every chunk, in order. A chunk whose
// embedding does not have the configured dimension aborts the build with a
// *types.DimensionMismatchError.
func (ix *Index) Build(ctx context.Context, chunks []types.Chunk) error {
	for i := range chunks {
		if i%256 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		if len(chunks[i].Embedding) != ix.cfg.Dimension {
			return &types.DimensionMismatchError{
				Expected: ix.cfg.Dimension,
				Actual:   len(chunks[i].Embedding),
				ChunkRef: chunks[i].Ref(),
			}
		}
		if _, err := ix.Insert(chunks[i].Embedding, chunks[i].PageURL); err != nil {
			return err
		}
	}
	return nil
}

// Insert adds a vector and returns its ID
func (ix *Index) Insert(vec []float32, pageURL string) (int, error) {
	if len(vec) != ix.cfg.Dimension {
		return 0, &types.DimensionMismatchError{Expected: ix.cfg.Dimension, Actual: len(vec), ChunkRef: pageURL}
	}

	id := len(ix.vectors)
	q := embedder.NormalizeVector(vec)
	level := ix.randomLevel()

	ix.vectors = append(ix.vectors, q)
	ix.pages = append(ix.pages, pageURL)
	ix.links = append(ix.links, make([][]int32, level+1))

	if ix.entry < 0 {
		ix.entry = id
		ix.top = level
		return id, nil
	}

	ep := ix.entry
	for lc := ix.top; lc > level; lc-- {
		ep = ix.greedy(q, ep, lc)
	}

	eps := []int{ep}
	for lc := min(level, ix.top); lc >= 0; lc-- {
		found := ix.searchLayer(q, eps, ix.cfg.EfConstruction, lc)
		neighbours := ix.selectNeighbours(found, ix.cfg.M)

		ix.links[id][lc] = toIDs(neighbours)
		for _, n := range neighbours {
			ix.connect(n.id, id, lc)
		}

		eps = eps[:0]
		for _, c := range found {
			eps = append(eps, c.id)
		}
	}

	if level > ix.top {
		ix.entry = id
		ix.top = level
	}

	return id, nil
}

// Query returns up to k nearest chunks by cosine similarity, most similar
// first.
func (ix *Index) Query(vec []float32, k int) ([]Hit, error) {
	if len(vec) != ix.cfg.Dimension {
		return nil, &types.DimensionMismatchError{Expected: ix.cfg.Dimension, Actual: len(vec)}
	}
	if ix.entry < 0 || k <= 0 {
		return nil, nil
	}

	q := embedder.NormalizeVector(vec)

	ep := ix.entry
	for lc := ix.top; lc > 0; lc-- {
		ep = ix.greedy(q, ep, lc)
	}

	ef := ix.cfg.EfSearch
	if k > ef {
		ef = k
	}
	found := ix.searchLayer(q, []int{ep}, ef, 0)
	if len(found) > k {
		found = found[:k]
	}

	hits := make([]Hit, len(found))
	for i, c := range found {
		hits[i] = Hit{ChunkID: c.id, PageURL: ix.pages[c.id], Similarity: 1 - c.dist}
	}
	return hits, nil
}

// RollUp maps each page to the best similarity among its chunks in hits.
// Pages with no chunk in hits are absent and score 0.
func RollUp(hits []Hit) map[string]float64 {
	pages := make(map[string]float64, len(hits))
	for _, h := range hits {
		if cur, ok := pages[h.PageURL]; !ok || h.Similarity > cur {
			pages[h.PageURL] = h.Similarity
		}
	}
	return pages
}

func (ix *Index) randomLevel() int {
	u := ix.rng.Float64()
	if u == 0 {
		u = math.SmallestNonzeroFloat64
	}
	level := int(math.Floor(-math.Log(u) * ix.levelMult))
	if level > maxLevel {
		level = maxLevel
	}
	return level
}

func (ix *Index) maxLinks(level int) int {
	if level == 0 {
		return 2 * ix.cfg.M
	}
	return ix.cfg.M
}

func (ix *Index) distance(q []float32, id int) float64 {
	return 1 - dot(q, ix.vectors[id])
}

// greedy walks layer lc towards q starting at ep and returns the closest
// node found.
func (ix *Index) greedy(q []float32, ep, lc int) int {
	best := ep
	bestDist := ix.distance(q, ep)
	for changed := true; changed; {
		changed = false
		for _, n := range ix.links[best][lc] {
			if d := ix.distance(q, int(n)); d < bestDist {
				best, bestDist = int(n), d
				changed = true
			}
		}
	}
	return best
}

// searchLayer is the HNSW beam search. Results are sorted by ascending
// distance, ties by ID.
func (ix *Index) searchLayer(q []float32, eps []int, ef, lc int) []candidate {
	visited := make(map[int]struct{}, ef*4)
	cands := &minHeap{}
	results := &maxHeap{}

	for _, ep := range eps {
		if _, seen := visited[ep]; seen {
			continue
		}
		visited[ep] = struct{}{}
		c := candidate{id: ep, dist: ix.distance(q, ep)}
		heap.Push(cands, c)
		heap.Push(results, c)
	}
	for results.Len() > ef {
		heap.Pop(results)
	}

	for cands.Len() > 0 {
		c := heap.Pop(cands).(candidate)
		if results.Len() >= ef && c.dist > (*results)[0].dist {
			break
		}
		if lc >= len(ix.links[c.id]) {
			continue
		}
		for _, n := range ix.links[c.id][lc] {
			id := int(n)
			if _, seen := visited[id]; seen {
				continue
			}
			visited[id] = struct{}{}

			d := ix.distance(q, id)
			if results.Len() < ef || d < (*results)[0].dist {
				nc := candidate{id: id, dist: d}
				heap.Push(cands, nc)
				heap.Push(results, nc)
				if results.Len() > ef {
					heap.Pop(results)
				}
			}
		}
	}

	out := make([]candidate, results.Len())
	copy(out, *results)
	sortCandidates(out)
	return out
}

// selectNeighbours applies the HNSW heuristic: a candidate is kept only if
// it is closer to the base than to every neighbour already kept. Pruned
// candidates back-fill any remaining slots. cands must be sorted.
func (ix *Index) selectNeighbours(cands []candidate, m int) []candidate {
	if len(cands) <= m {
		return cands
	}

	selected := make([]candidate, 0, m)
	var pruned []candidate
	for _, c := range cands {
		if len(selected) >= m {
			break
		}
		keep := true
		for _, s := range selected {
			if 1-dot(ix.vectors[c.id], ix.vectors[s.id]) < c.dist {
				keep = false
				break
			}
		}
		if keep {
			selected = append(selected, c)
		} else {
			pruned = append(pruned, c)
		}
	}
	for _, c := range pruned {
		if len(selected) >= m {
			break
		}
		selected = append(selected, c)
	}
	sortCandidates(selected)
	return selected
}

// connect adds a link from node to peer on layer lc, shrinking the
// neighbour list with the heuristic when it overflows.
func (ix *Index) connect(node, peer, lc int) {
	links := append(ix.links[node][lc], int32(peer))
	limit := ix.maxLinks(lc)
	if len(links) > limit {
		base := ix.vectors[node]
		cands := make([]candidate, len(links))
		for i, n := range links {
			cands[i] = candidate{id: int(n), dist: 1 - dot(base, ix.vectors[n])}
		}
		sortCandidates(cands)
		links = toIDs(ix.selectNeighbours(cands, limit))
	}
	ix.links[node][lc] = links
}

func toIDs(cands []candidate) []int32 {
	ids := make([]int32, len(cands))
	for i, c := range cands {
		ids[i] = int32(c.id)
	}
	return ids
}

func dot(a, b []float32) float64 {
	var s float64
	for i := range a {
		s += float64(a[i]) * float64(b[i])
	}
	return s
}

type candidate struct {
	id   int
	dist float64
}

func sortCandidates(c []candidate) {
	sort.Slice(c, func(i, j int) bool {
		if c[i].dist != c[j].dist {
			return c[i].dist < c[j].dist
		}
		return c[i].id < c[j].id
	})
}

type minHeap []candidate

func (h minHeap) Len() int            { return len(h) }
func (h minHeap) Less(i, j int) bool  { return h[i].dist < h[j].dist }
func (h minHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *minHeap) Push(x interface{}) { *h = append(*h, x.(candidate)) }
func (h *minHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

type maxHeap []candidate

func (h maxHeap) Len() int            { return len(h) }
func (h maxHeap) Less(i, j int) bool  { return h[i].dist > h[j].dist }
func (h maxHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *maxHeap) Push(x interface{}) { *h = append(*h, x.(candidate)) }
func (h *maxHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
