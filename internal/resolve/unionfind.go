package resolve

// unionFind is a disjoint-set forest over record indices with path
// compression. The root of each set is its smallest index.
type unionFind struct {
	parent []int
}

func newUnionFind(n int) *unionFind {
	uf := &unionFind{parent: make([]int, n)}
	for i := range uf.parent {
		uf.parent[i] = i
	}
	return uf
}

func (u *unionFind) find(i int) int {
	for u.parent[i] != i {
		u.parent[i] = u.parent[u.parent[i]]
		i = u.parent[i]
	}
	return i
}

func (u *unionFind) union(a, b int) {
	ra, rb := u.find(a), u.find(b)
	if ra == rb {
		return
	}
	if rb < ra {
		ra, rb = rb, ra
	}
	u.parent[rb] = ra
}

// clusters returns every set as ascending indices, ordered by each set's
// smallest index.
func (u *unionFind) clusters() [][]int {
	pos := make(map[int]int)
	var out [][]int
	for i := range u.parent {
		root := u.find(i)
		k, ok := pos[root]
		if !ok {
			k = len(out)
			pos[root] = k
			out = append(out, nil)
		}
		out[k] = append(out[k], i)
	}
	return out
}
