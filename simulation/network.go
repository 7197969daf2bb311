// Package simulation drives many in-memory nodes through arbitrary
// interleavings of operations and message deliveries.
//
// Messages travel over per sender/receiver queues. Each queue is FIFO, while
// the order in which different queues are served is chosen by a seeded random
// source, so a run is reproducible from its seed.
package simulation

import (
	"errors"
	"fmt"
	"math/rand"
	"sort"

	"aggtree/models"
	"aggtree/node"
	"aggtree/topology"
)

var (
	ErrUnknownNode = errors.New("unknown node")
	ErrNodeExists  = errors.New("node already exists")
)

type link struct {
	from, to models.NodeID
}

// Network is an in-memory message channel between nodes.
type Network struct {
	nodes  map[models.NodeID]*node.Node
	queues map[link][]models.Message
	seqs   map[models.NodeID]uint64
	rnd    *rand.Rand

	sent      int
	delivered int
}

func NewNetwork(seed int64) *Network {
	return &Network{
		nodes:  make(map[models.NodeID]*node.Node),
		queues: make(map[link][]models.Message),
		seqs:   make(map[models.NodeID]uint64),
		rnd:    rand.New(rand.NewSource(seed)),
	}
}

// AddNode creates an empty node
func (n *Network) AddNode(id models.NodeID) (*node.Node, error) {
	if _, ok := n.nodes[id]; ok {
		return nil, fmt.Errorf("%w: %s", ErrNodeExists, id)
	}
	nd := node.New(id)
	n.nodes[id] = nd
	return nd, nil
}

func (n *Network) Node(id models.NodeID) (*node.Node, bool) {
	nd, ok := n.nodes[id]
	return nd, ok
}

// IDs returns all node ids, sorted
func (n *Network) IDs() []models.NodeID {
	ids := make([]models.NodeID, 0, len(n.nodes))
	for id := range n.nodes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Execute applies op to node id and queues the resulting message, if any
func (n *Network) Execute(id models.NodeID, op models.Operation) error {
	nd, ok := n.nodes[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownNode, id)
	}
	msg, err := nd.Execute(op)
	if err != nil {
		return err
	}
	if msg != nil {
		n.seqs[id]++
		msg.Seq = n.seqs[id]
		l := link{from: msg.From, to: msg.To}
		n.queues[l] = append(n.queues[l], *msg)
		n.sent++
	}
	return nil
}

// Pending returns the number of queued messages
func (n *Network) Pending() int {
	total := 0
	for _, q := range n.queues {
		total += len(q)
	}
	return total
}

// PendingTo returns the queued messages addressed to id, oldest first per sender
func (n *Network) PendingTo(id models.NodeID) []models.Message {
	var msgs []models.Message
	for _, l := range n.activeLinks() {
		if l.to == id {
			msgs = append(msgs, n.queues[l]...)
		}
	}
	return msgs
}

func (n *Network) Sent() int      { return n.sent }
func (n *Network) Delivered() int { return n.delivered }

// DeliverFrom delivers the oldest message queued on from->to.
// It reports false when the queue is empty.
func (n *Network) DeliverFrom(from, to models.NodeID) (bool, error) {
	return n.deliver(link{from: from, to: to})
}

// DeliverRandom delivers the head of one randomly chosen non-empty queue.
// It reports false when nothing is pending.
func (n *Network) DeliverRandom() (bool, error) {
	links := n.activeLinks()
	if len(links) == 0 {
		return false, nil
	}
	return n.deliver(links[n.rnd.Intn(len(links))])
}

// DeliverRandomTo is DeliverRandom restricted to messages addressed to id
func (n *Network) DeliverRandomTo(id models.NodeID) (bool, error) {
	var links []link
	for _, l := range n.activeLinks() {
		if l.to == id {
			links = append(links, l)
		}
	}
	if len(links) == 0 {
		return false, nil
	}
	return n.deliver(links[n.rnd.Intn(len(links))])
}

// DeliverAll delivers every pending message in random queue order
func (n *Network) DeliverAll() error {
	for {
		ok, err := n.DeliverRandom()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
	}
}

// Settle alternates flushing every non-root node holding a value and
// delivering every message until all values have reached the roots.
func (n *Network) Settle() error {
	g := topology.New()
	for id, nd := range n.nodes {
		g.AddNode(id)
		if p, ok := nd.Parent(); ok {
			if _, known := n.nodes[p]; !known {
				return fmt.Errorf("parent of %s: %w: %s", id, ErrUnknownNode, p)
			}
			g.Link(id, p)
		}
	}
	if err := g.Validate(); err != nil {
		return err
	}

	for {
		if err := n.DeliverAll(); err != nil {
			return err
		}
		flushed := false
		for _, id := range n.Shuffled() {
			nd := n.nodes[id]
			if _, ok := nd.Parent(); !ok || nd.Value() == 0 {
				continue
			}
			if err := n.Execute(id, models.Flush()); err != nil {
				return err
			}
			flushed = true
		}
		if !flushed && n.Pending() == 0 {
			return nil
		}
	}
}

// Shuffled returns all node ids in random order
func (n *Network) Shuffled() []models.NodeID {
	ids := n.IDs()
	n.rnd.Shuffle(len(ids), func(i, j int) { ids[i], ids[j] = ids[j], ids[i] })
	return ids
}

// Rand exposes the network's seeded source so drivers share one sequence
func (n *Network) Rand() *rand.Rand {
	return n.rnd
}

// deliver merges the head of l into the receiver. On failure the message
// stays queued.
func (n *Network) deliver(l link) (bool, error) {
	q := n.queues[l]
	if len(q) == 0 {
		return false, nil
	}
	dst, ok := n.nodes[l.to]
	if !ok {
		return false, fmt.Errorf("deliver %s: %w: %s", q[0], ErrUnknownNode, l.to)
	}
	if err := dst.OnMessage(q[0].Value); err != nil {
		return false, fmt.Errorf("deliver %s: %w", q[0], err)
	}
	if len(q) == 1 {
		delete(n.queues, l)
	} else {
		n.queues[l] = q[1:]
	}
	n.delivered++
	return true, nil
}

func (n *Network) activeLinks() []link {
	links := make([]link, 0, len(n.queues))
	for l, q := range n.queues {
		if len(q) > 0 {
			links = append(links, l)
		}
	}
	sort.Slice(links, func(i, j int) bool {
		if links[i].from != links[j].from {
			return links[i].from < links[j].from
		}
		return links[i].to < links[j].to
	})
	return links
}
