package moduletree

import (
	"sort"
)

// Tree is an arena of modules with child lists kept as indices into the
// arena. It never holds pointers between nodes, so a corrupted parent chain
// cannot produce a cyclic in-memory graph.
type Tree struct {
	nodes    []Module
	index    map[string]int
	children [][]int
	roots    []int
}

// BuildTree materializes the forest for a flat module list. Siblings are
// ordered by sort_order, then creation time, then id. Modules whose parent is
// missing are promoted to roots.
func BuildTree(modules []Module) *Tree {
	t := &Tree{
		nodes:    make([]Module, len(modules)),
		index:    make(map[string]int, len(modules)),
		children: make([][]int, len(modules)),
	}
	copy(t.nodes, modules)
	for i, m := range t.nodes {
		t.index[m.ID] = i
	}

	for i, m := range t.nodes {
		if m.ParentID == nil || *m.ParentID == "" {
			t.roots = append(t.roots, i)
			continue
		}
		p, ok := t.index[*m.ParentID]
		if !ok || p == i {
			t.roots = append(t.roots, i)
			continue
		}
		t.children[p] = append(t.children[p], i)
	}

	t.sortSiblings(t.roots)
	for i := range t.children {
		t.sortSiblings(t.children[i])
	}
	return t
}

func (t *Tree) sortSiblings(ids []int) {
	sort.SliceStable(ids, func(a, b int) bool {
		ma, mb := t.nodes[ids[a]], t.nodes[ids[b]]
		if ma.SortOrder != mb.SortOrder {
			return ma.SortOrder < mb.SortOrder
		}
		if !ma.CreatedAt.Equal(mb.CreatedAt) {
			return ma.CreatedAt.Before(mb.CreatedAt)
		}
		return ma.ID < mb.ID
	})
}

// Len returns the number of modules in the arena.
func (t *Tree) Len() int { return len(t.nodes) }

// Get returns the module with the given id.
func (t *Tree) Get(id string) (Module, bool) {
	i, ok := t.index[id]
	if !ok {
		return Module{}, false
	}
	return t.nodes[i], true
}

// Children returns the ordered direct children of id, or the roots when id
// is empty.
func (t *Tree) Children(id string) []Module {
	var ids []int
	if id == "" {
		ids = t.roots
	} else {
		i, ok := t.index[id]
		if !ok {
			return nil
		}
		ids = t.children[i]
	}
	out := make([]Module, len(ids))
	for k, i := range ids {
		out[k] = t.nodes[i]
	}
	return out
}

// Visit is one step of a depth-first traversal.
type Visit struct {
	Module Module
	Depth  int
}

// Walk returns a lazy depth-first pre-order iterator over the forest.
func (t *Tree) Walk() *Iterator {
	it := &Iterator{tree: t}
	it.Reset()
	return it
}

// Iterator walks a Tree depth-first without materializing the traversal.
// It is restartable through Reset and visits every module at most once.
type Iterator struct {
	tree    *Tree
	stack   []frame
	visited []bool
}

type frame struct {
	node  int
	depth int
}

// Reset rewinds the iterator to the first root.
func (it *Iterator) Reset() {
	it.visited = make([]bool, len(it.tree.nodes))
	it.stack = it.stack[:0]
	for k := len(it.tree.roots) - 1; k >= 0; k-- {
		it.stack = append(it.stack, frame{node: it.tree.roots[k]})
	}
}

// Next returns the next module in pre-order, or false when exhausted.
func (it *Iterator) Next() (Visit, bool) {
	for len(it.stack) > 0 {
		top := it.stack[len(it.stack)-1]
		it.stack = it.stack[:len(it.stack)-1]
		if it.visited[top.node] {
			continue
		}
		it.visited[top.node] = true

		kids := it.tree.children[top.node]
		for k := len(kids) - 1; k >= 0; k-- {
			if !it.visited[kids[k]] {
				it.stack = append(it.stack, frame{node: kids[k], depth: top.depth + 1})
			}
		}
		return Visit{Module: it.tree.nodes[top.node], Depth: top.depth}, true
	}
	return Visit{}, false
}

// Node is the nested representation of a module returned by the API.
type Node struct {
	Module
	Children []*Node `json:"children"`
}

// Nodes materializes the nested forest. Only modules reachable from a root
// are included, each exactly once.
func (t *Tree) Nodes() []*Node {
	built := make([]*Node, len(t.nodes))
	var forest []*Node
	it := t.Walk()
	for {
		v, ok := it.Next()
		if !ok {
			break
		}
		i := t.index[v.Module.ID]
		n := &Node{Module: v.Module, Children: []*Node{}}
		built[i] = n
		parent := -1
		if v.Module.ParentID != nil {
			if p, ok := t.index[*v.Module.ParentID]; ok && built[p] != nil && v.Depth > 0 {
				parent = p
			}
		}
		if parent < 0 {
			forest = append(forest, n)
		} else {
			built[parent].Children = append(built[parent].Children, n)
		}
	}
	if forest == nil {
		forest = []*Node{}
	}
	return forest
}
