// Package topology checks that the parent links of a set of nodes form a forest.
package topology

import (
	"errors"
	"fmt"
	"sort"

	"aggtree/models"
)

// ErrCycle is returned when following parent links from a node revisits it.
var ErrCycle = errors.New("parent links form a cycle")

// Graph is a snapshot of child -> parent links.
type Graph struct {
	parents map[models.NodeID]models.NodeID
	nodes   map[models.NodeID]struct{}
}

func New() *Graph {
	return &Graph{
		parents: make(map[models.NodeID]models.NodeID),
		nodes:   make(map[models.NodeID]struct{}),
	}
}

// FromStates builds a graph from persisted node states
func FromStates(states []*models.NodeState) *Graph {
	g := New()
	for _, s := range states {
		g.AddNode(s.ID)
		if s.Parent != nil {
			g.Link(s.ID, *s.Parent)
		}
	}
	return g
}

func (g *Graph) AddNode(id models.NodeID) {
	g.nodes[id] = struct{}{}
}

// Link sets child's parent, replacing any previous link
func (g *Graph) Link(child, parent models.NodeID) {
	g.AddNode(child)
	g.AddNode(parent)
	g.parents[child] = parent
}

func (g *Graph) Parent(id models.NodeID) (models.NodeID, bool) {
	p, ok := g.parents[id]
	return p, ok
}

// WouldCycle reports whether linking child to parent would make child its own ancestor
func (g *Graph) WouldCycle(child, parent models.NodeID) bool {
	seen := make(map[models.NodeID]bool)
	for cur := parent; ; {
		if cur == child {
			return true
		}
		// an existing cycle above parent does not involve child
		if seen[cur] {
			return false
		}
		seen[cur] = true
		next, ok := g.parents[cur]
		if !ok {
			return false
		}
		cur = next
	}
}

// Validate returns an error wrapping ErrCycle for the first cycle found
func (g *Graph) Validate() error {
	const (
		unvisited = iota
		inPath
		done
	)
	state := make(map[models.NodeID]int, len(g.nodes))

	for _, start := range g.sorted() {
		if state[start] == done {
			continue
		}
		var path []models.NodeID
		cur := start
		for {
			if state[cur] == done {
				break
			}
			if state[cur] == inPath {
				return fmt.Errorf("%w: %v", ErrCycle, cycleFrom(path, cur))
			}
			state[cur] = inPath
			path = append(path, cur)
			next, ok := g.parents[cur]
			if !ok {
				break
			}
			cur = next
		}
		for _, id := range path {
			state[id] = done
		}
	}
	return nil
}

// Roots returns the nodes without a parent, sorted
func (g *Graph) Roots() []models.NodeID {
	var roots []models.NodeID
	for _, id := range g.sorted() {
		if _, ok := g.parents[id]; !ok {
			roots = append(roots, id)
		}
	}
	return roots
}

// Depth returns the number of links between id and its root
func (g *Graph) Depth(id models.NodeID) (int, error) {
	depth := 0
	seen := map[models.NodeID]bool{id: true}
	for cur := id; ; depth++ {
		next, ok := g.parents[cur]
		if !ok {
			return depth, nil
		}
		if seen[next] {
			return 0, fmt.Errorf("depth of %s: %w", id, ErrCycle)
		}
		seen[next] = true
		cur = next
	}
}

func (g *Graph) sorted() []models.NodeID {
	ids := make([]models.NodeID, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func cycleFrom(path []models.NodeID, at models.NodeID) []models.NodeID {
	for i, id := range path {
		if id == at {
			return append(append([]models.NodeID{}, path[i:]...), at)
		}
	}
	return []models.NodeID{at}
}
