package embedindex

import "sort"

// graph is a simplified single-layer navigable small-world graph: each
// node keeps its M nearest-by-cosine-similarity neighbors found during
// insertion, and search performs greedy best-first traversal from an
// entry point with an ef-sized candidate set. This trades the source's
// multi-layer HNSW skip-list structure for a flat graph of the same
// neighbor-count/ef-search/ef-build shape, which is sufficient for the
// index sizes this engine expects to hold in memory.
type graph struct {
	params  Params
	nodes   map[int64][]float32
	edges   map[int64][]int64
	entry   int64
	hasNode bool
}

func newGraph(params Params) *graph {
	return &graph{
		params: params,
		nodes:  make(map[int64][]float32),
		edges:  make(map[int64][]int64),
	}
}

func (g *graph) insert(id int64, vector []float32) {
	g.nodes[id] = vector
	if !g.hasNode {
		g.entry = id
		g.hasNode = true
		g.edges[id] = nil
		return
	}

	candidates := g.searchLayer(vector, g.params.EfBuild, id)
	neighbors := selectNeighbors(candidates, vector, g.nodes, g.params.M)
	g.edges[id] = neighbors

	for _, n := range neighbors {
		g.edges[n] = trimNeighbors(append(g.edges[n], id), n, g.nodes, g.params.M)
	}
}

// searchLayer performs greedy best-first search over the graph,
// maintaining a candidate set of up to ef nodes, returning candidate
// ids sorted by descending similarity to query. Neighbours whose id is
// excludeID are skipped: insert passes the new node's id, because the
// node is already stored in g.nodes when this runs; search passes 0.
func (g *graph) searchLayer(query []float32, ef int, excludeID int64) []int64 {
	if !g.hasNode {
		return nil
	}

	visited := map[int64]bool{g.entry: true}
	type scored struct {
		id    int64
		score float32
	}
	frontier := []scored{{g.entry, CosineSimilarity(query, g.nodes[g.entry])}}
	best := append([]scored{}, frontier...)

	for len(frontier) > 0 {
		sort.Slice(frontier, func(i, j int) bool { return frontier[i].score > frontier[j].score })
		current := frontier[0]
		frontier = frontier[1:]

		for _, nb := range g.edges[current.id] {
			if visited[nb] || nb == excludeID {
				continue
			}
			visited[nb] = true
			s := scored{nb, CosineSimilarity(query, g.nodes[nb])}
			frontier = append(frontier, s)
			best = append(best, s)
		}

		if len(best) >= ef {
			break
		}
	}

	sort.Slice(best, func(i, j int) bool { return best[i].score > best[j].score })
	if len(best) > ef {
		best = best[:ef]
	}
	ids := make([]int64, len(best))
	for i, s := range best {
		ids[i] = s.id
	}
	return ids
}

func (g *graph) search(query []float32, limit, efSearch int) []int64 {
	ef := efSearch
	if limit > ef {
		ef = limit
	}
	return g.searchLayer(query, ef, 0)
}

func selectNeighbors(candidateIDs []int64, query []float32, nodes map[int64][]float32, m int) []int64 {
	type scored struct {
		id    int64
		score float32
	}
	scoredList := make([]scored, 0, len(candidateIDs))
	for _, id := range candidateIDs {
		scoredList = append(scoredList, scored{id, CosineSimilarity(query, nodes[id])})
	}
	sort.Slice(scoredList, func(i, j int) bool { return scoredList[i].score > scoredList[j].score })
	if len(scoredList) > m {
		scoredList = scoredList[:m]
	}
	out := make([]int64, len(scoredList))
	for i, s := range scoredList {
		out[i] = s.id
	}
	return out
}

func trimNeighbors(ids []int64, self int64, nodes map[int64][]float32, m int) []int64 {
	dedup := make([]int64, 0, len(ids))
	seen := map[int64]bool{}
	for _, id := range ids {
		if id == self || seen[id] {
			continue
		}
		seen[id] = true
		dedup = append(dedup, id)
	}
	if len(dedup) <= m {
		return dedup
	}
	return selectNeighbors(dedup, nodes[self], nodes, m)
}
