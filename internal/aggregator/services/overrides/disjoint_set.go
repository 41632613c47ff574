package overrides

// disjointSet is a union-find over token ids with union by rank and path
// compression. find is iterative so long override chains cannot blow the stack.
type disjointSet struct {
	parent map[string]string
	rank   map[string]uint8
}

func newDisjointSet(capacity int) *disjointSet {
	return &disjointSet{
		parent: make(map[string]string, capacity),
		rank:   make(map[string]uint8, capacity),
	}
}

func (d *disjointSet) add(id string) {
	if _, ok := d.parent[id]; !ok {
		d.parent[id] = id
	}
}

func (d *disjointSet) find(id string) string {
	d.add(id)

	root := id
	for d.parent[root] != root {
		root = d.parent[root]
	}
	for id != root {
		next := d.parent[id]
		d.parent[id] = root
		id = next
	}
	return root
}

func (d *disjointSet) union(a, b string) {
	ra, rb := d.find(a), d.find(b)
	if ra == rb {
		return
	}
	switch {
	case d.rank[ra] < d.rank[rb]:
		d.parent[ra] = rb
	case d.rank[ra] > d.rank[rb]:
		d.parent[rb] = ra
	default:
		d.parent[rb] = ra
		d.rank[ra]++
	}
}
