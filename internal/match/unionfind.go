package match

// unionFind resolves connected components over external identifier nodes.
// Sources cross-reference each other's IDs, sometimes cyclically; resolving
// components once per batch and storing flattened crosswalk entries avoids
// chasing pointer chains at query time.
type unionFind struct {
	parent map[string]string
	rank   map[string]int
}

func newUnionFind() *unionFind {
	return &unionFind{
		parent: make(map[string]string),
		rank:   make(map[string]int),
	}
}

// find returns the component root for key, with path compression.
func (u *unionFind) find(key string) string {
	if _, ok := u.parent[key]; !ok {
		u.parent[key] = key
		return key
	}
	root := key
	for u.parent[root] != root {
		root = u.parent[root]
	}
	for u.parent[key] != root {
		key, u.parent[key] = u.parent[key], root
	}
	return root
}

// union merges the components containing a and b.
func (u *unionFind) union(a, b string) {
	ra, rb := u.find(a), u.find(b)
	if ra == rb {
		return
	}
	if u.rank[ra] < u.rank[rb] {
		ra, rb = rb, ra
	}
	u.parent[rb] = ra
	if u.rank[ra] == u.rank[rb] {
		u.rank[ra]++
	}
}
