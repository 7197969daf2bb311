// Package node implements the aggregation state machine of a single tree node.
//
// A node owns one accumulator and an optional parent link. Clients Submit
// values into the accumulator and Flush the drained total to the parent as one
// message; the parent merges it through OnMessage. Each call is one atomic
// transition: it either fully applies or returns an error and changes nothing.
//
// The node does not check that parent links form a forest. Callers that need
// that guarantee validate links with the topology package before applying
// ConnectToParent.
package node

import (
	"errors"
	"fmt"

	"aggtree/accumulator"
	"aggtree/models"
)

var (
	// ErrOverflow is returned by Submit when the value would wrap the accumulator.
	ErrOverflow = accumulator.ErrOverflow

	// ErrNoParent is returned by Flush on a node without a parent link.
	ErrNoParent = errors.New("node has no parent")

	// ErrInboundOverflow is returned by OnMessage when merging would wrap the
	// accumulator. The message cannot be rejected back to its sender, so the
	// unit of work that delivered it must fail.
	ErrInboundOverflow = fmt.Errorf("inbound message: %w", accumulator.ErrOverflow)

	// ErrUnknownOperation is returned by Execute for an unrecognised OpKind.
	ErrUnknownOperation = errors.New("unknown operation")
)

// Node is one participant of the aggregation tree.
type Node struct {
	id     models.NodeID
	parent *models.NodeID
	acc    accumulator.Accumulator
}

// New creates a node with no parent and an empty accumulator.
func New(id models.NodeID) *Node {
	return &Node{id: id}
}

// NewSeeded creates a node whose accumulator starts at value.
func NewSeeded(id models.NodeID, value uint64) *Node {
	n := New(id)
	_ = n.acc.Add(value) // cannot overflow an empty accumulator
	return n
}

// FromState rebuilds a node from its persisted fields.
func FromState(s models.NodeState) *Node {
	n := NewSeeded(s.ID, s.Value)
	if s.Parent != nil {
		p := *s.Parent
		n.parent = &p
	}
	return n
}

// State returns the node's persisted fields. NextSeq and Epoch are left zero;
// they belong to the host that stamps outbound messages.
func (n *Node) State() models.NodeState {
	s := models.NodeState{ID: n.id, Value: n.acc.Load()}
	if n.parent != nil {
		p := *n.parent
		s.Parent = &p
	}
	return s
}

// ID returns the node's identifier.
func (n *Node) ID() models.NodeID { return n.id }

// Value returns the amount accumulated since the last flush.
func (n *Node) Value() uint64 { return n.acc.Load() }

// Parent returns the parent link and whether it is set.
func (n *Node) Parent() (models.NodeID, bool) {
	if n.parent == nil {
		return "", false
	}
	return *n.parent, true
}

// ConnectToParent sets or rebinds the parent link. It always succeeds.
func (n *Node) ConnectToParent(parent models.NodeID) {
	n.parent = &parent
}

// Submit adds value to the accumulator.
func (n *Node) Submit(value uint64) error {
	if err := n.acc.Add(value); err != nil {
		return fmt.Errorf("submit %d to %s: %w", value, n.id, err)
	}
	return nil
}

// Flush drains the accumulator into a message addressed to the parent.
// A zero-valued message is still emitted when there is nothing to drain.
func (n *Node) Flush() (models.Message, error) {
	if n.parent == nil {
		return models.Message{}, fmt.Errorf("flush %s: %w", n.id, ErrNoParent)
	}
	return models.Message{
		From:  n.id,
		To:    *n.parent,
		Value: n.acc.Take(),
	}, nil
}

// OnMessage merges an inbound flushed value.
func (n *Node) OnMessage(value uint64) error {
	if err := n.acc.Add(value); err != nil {
		return fmt.Errorf("merge %d into %s: %w", value, n.id, ErrInboundOverflow)
	}
	return nil
}

// Execute applies op. Only Flush produces a message.
func (n *Node) Execute(op models.Operation) (*models.Message, error) {
	switch op.Kind {
	case models.OpConnectToParent:
		n.ConnectToParent(op.Parent)
		return nil, nil

	case models.OpSubmit:
		return nil, n.Submit(op.Value)

	case models.OpFlush:
		msg, err := n.Flush()
		if err != nil {
			return nil, err
		}
		return &msg, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownOperation, op.Kind)
}
