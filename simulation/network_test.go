package simulation

import (
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"aggtree/models"
	"aggtree/node"
	"aggtree/topology"
)

const (
	branchNodes    = 5
	edgesPerBranch = 10
)

// Every edge submits 10*branch+edge and flushes; branches flush once all
// their edges' messages have arrived; the root merges everything.
func TestPropagation(t *testing.T) {
	for seed := int64(1); seed <= 20; seed++ {
		t.Run(fmt.Sprintf("seed%02d", seed), func(t *testing.T) {
			net := NewNetwork(seed)
			tree, err := BuildTwoLevel(net, branchNodes, edgesPerBranch)
			require.NoError(t, err)

			values := make(map[models.NodeID]uint64)
			for b, branch := range tree.Branches {
				for e, edge := range tree.Edges[branch] {
					values[edge] = uint64(edgesPerBranch*b + e)
				}
			}

			edges := tree.AllEdges()
			net.Rand().Shuffle(len(edges), func(i, j int) { edges[i], edges[j] = edges[j], edges[i] })
			for _, edge := range edges {
				require.NoError(t, net.Execute(edge, models.Submit(values[edge])))
				require.NoError(t, net.Execute(edge, models.Flush()))
			}

			branches := append([]models.NodeID(nil), tree.Branches...)
			net.Rand().Shuffle(len(branches), func(i, j int) { branches[i], branches[j] = branches[j], branches[i] })
			for _, branch := range branches {
				for {
					ok, err := net.DeliverRandomTo(branch)
					require.NoError(t, err)
					if !ok {
						break
					}
				}
				require.NoError(t, net.Execute(branch, models.Flush()))
			}

			for {
				ok, err := net.DeliverRandomTo(tree.Root)
				require.NoError(t, err)
				if !ok {
					break
				}
			}

			root, _ := net.Node(tree.Root)
			n := uint64(branchNodes * edgesPerBranch)
			require.Equal(t, n*(n-1)/2, root.Value())
			require.Equal(t, 0, net.Pending())
			require.Equal(t, branchNodes*edgesPerBranch+branchNodes, net.Sent())
		})
	}
}

// Random submits, flushes and deliveries anywhere in the tree, followed by
// settling, leave the exact total at the root.
func TestRandomInterleavings(t *testing.T) {
	for seed := int64(1); seed <= 30; seed++ {
		t.Run(fmt.Sprintf("seed%02d", seed), func(t *testing.T) {
			net := NewNetwork(seed)
			tree, err := BuildTwoLevel(net, 3, 4)
			require.NoError(t, err)

			rnd := net.Rand()
			ids := net.IDs()
			var total uint64
			for step := 0; step < 500; step++ {
				id := ids[rnd.Intn(len(ids))]
				switch rnd.Intn(3) {
				case 0:
					v := uint64(rnd.Intn(1000))
					require.NoError(t, net.Execute(id, models.Submit(v)))
					total += v
				case 1:
					err := net.Execute(id, models.Flush())
					if id == tree.Root {
						require.ErrorIs(t, err, node.ErrNoParent)
					} else {
						require.NoError(t, err)
					}
				case 2:
					_, err := net.DeliverRandom()
					require.NoError(t, err)
				}
			}

			require.NoError(t, net.Settle())

			root, _ := net.Node(tree.Root)
			require.Equal(t, total, root.Value())
			for _, id := range ids {
				if id == tree.Root {
					continue
				}
				nd, _ := net.Node(id)
				require.Zero(t, nd.Value(), "node %s", id)
			}
		})
	}
}

func TestExtraFlushesSendZeros(t *testing.T) {
	net := NewNetwork(1)
	_, err := net.AddNode("p")
	require.NoError(t, err)
	_, err = net.AddNode("c")
	require.NoError(t, err)
	require.NoError(t, net.Execute("c", models.ConnectToParent("p")))
	require.NoError(t, net.Execute("c", models.Submit(4)))

	for i := 0; i < 3; i++ {
		require.NoError(t, net.Execute("c", models.Flush()))
	}
	msgs := net.PendingTo("p")
	require.Len(t, msgs, 3)
	require.Equal(t, uint64(4), msgs[0].Value)
	require.Equal(t, uint64(0), msgs[1].Value)
	require.Equal(t, uint64(0), msgs[2].Value)
	require.Equal(t, []uint64{1, 2, 3}, []uint64{msgs[0].Seq, msgs[1].Seq, msgs[2].Seq})

	require.NoError(t, net.DeliverAll())
	p, _ := net.Node("p")
	require.Equal(t, uint64(4), p.Value())
}

func TestDeliveryIsFIFOPerLink(t *testing.T) {
	net := NewNetwork(7)
	for _, id := range []models.NodeID{"p", "c"} {
		_, err := net.AddNode(id)
		require.NoError(t, err)
	}
	require.NoError(t, net.Execute("c", models.ConnectToParent("p")))
	for _, v := range []uint64{1, 2, 3} {
		require.NoError(t, net.Execute("c", models.Submit(v)))
		require.NoError(t, net.Execute("c", models.Flush()))
	}

	p, _ := net.Node("p")
	var seen []uint64
	for {
		before := p.Value()
		ok, err := net.DeliverFrom("c", "p")
		require.NoError(t, err)
		if !ok {
			break
		}
		seen = append(seen, p.Value()-before)
	}
	require.Equal(t, []uint64{1, 2, 3}, seen)
}

func TestInboundOverflowKeepsMessage(t *testing.T) {
	net := NewNetwork(1)
	for _, id := range []models.NodeID{"p", "c"} {
		_, err := net.AddNode(id)
		require.NoError(t, err)
	}
	require.NoError(t, net.Execute("p", models.Submit(math.MaxUint64)))
	require.NoError(t, net.Execute("c", models.ConnectToParent("p")))
	require.NoError(t, net.Execute("c", models.Submit(1)))
	require.NoError(t, net.Execute("c", models.Flush()))

	_, err := net.DeliverFrom("c", "p")
	require.ErrorIs(t, err, node.ErrInboundOverflow)
	require.Equal(t, 1, net.Pending())
	require.Equal(t, 0, net.Delivered())
}

func TestSettleRejectsCycles(t *testing.T) {
	net := NewNetwork(1)
	for _, id := range []models.NodeID{"a", "b"} {
		_, err := net.AddNode(id)
		require.NoError(t, err)
	}
	require.NoError(t, net.Execute("a", models.ConnectToParent("b")))
	require.NoError(t, net.Execute("b", models.ConnectToParent("a")))
	require.NoError(t, net.Execute("a", models.Submit(1)))

	require.ErrorIs(t, net.Settle(), topology.ErrCycle)
}

func TestUnknownNodes(t *testing.T) {
	net := NewNetwork(1)
	require.ErrorIs(t, net.Execute("ghost", models.Flush()), ErrUnknownNode)

	_, err := net.AddNode("c")
	require.NoError(t, err)
	_, err = net.AddNode("c")
	require.ErrorIs(t, err, ErrNodeExists)

	require.NoError(t, net.Execute("c", models.ConnectToParent("ghost")))
	require.NoError(t, net.Execute("c", models.Flush()))
	_, err = net.DeliverRandom()
	require.ErrorIs(t, err, ErrUnknownNode)
}
