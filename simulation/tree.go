package simulation

import (
	"fmt"

	"aggtree/models"
)

// TwoLevel is a root with branch nodes under it and edge nodes under every branch.
type TwoLevel struct {
	Root     models.NodeID
	Branches []models.NodeID
	Edges    map[models.NodeID][]models.NodeID
}

// BuildTwoLevel adds a two-level tree to n and connects every link.
func BuildTwoLevel(n *Network, branches, edgesPerBranch int) (*TwoLevel, error) {
	t := &TwoLevel{
		Root:  "root",
		Edges: make(map[models.NodeID][]models.NodeID, branches),
	}
	if _, err := n.AddNode(t.Root); err != nil {
		return nil, err
	}
	for b := 0; b < branches; b++ {
		branch := models.NodeID(fmt.Sprintf("branch-%02d", b))
		if _, err := n.AddNode(branch); err != nil {
			return nil, err
		}
		if err := n.Execute(branch, models.ConnectToParent(t.Root)); err != nil {
			return nil, err
		}
		t.Branches = append(t.Branches, branch)

		for e := 0; e < edgesPerBranch; e++ {
			edge := models.NodeID(fmt.Sprintf("edge-%02d-%02d", b, e))
			if _, err := n.AddNode(edge); err != nil {
				return nil, err
			}
			if err := n.Execute(edge, models.ConnectToParent(branch)); err != nil {
				return nil, err
			}
			t.Edges[branch] = append(t.Edges[branch], edge)
		}
	}
	return t, nil
}

// AllEdges returns every edge node, grouped by branch in branch order
func (t *TwoLevel) AllEdges() []models.NodeID {
	var all []models.NodeID
	for _, b := range t.Branches {
		all = append(all, t.Edges[b]...)
	}
	return all
}
