package models

// NodeID addresses a node as a message destination and parent reference
type NodeID string

// NodeState is the persisted layout of a node
type NodeState struct {
	ID      NodeID  `json:"id"`       // unique id
	Parent  *NodeID `json:"parent"`   // nil until ConnectToParent
	Value   uint64  `json:"value"`    // accumulated since the last flush
	NextSeq uint64  `json:"next_seq"` // sequence number of the next outbound message
	Epoch   uint64  `json:"epoch"`    // incarnation of this node's outbound sequence
}

// HasParent reports whether a parent link is set
func (s *NodeState) HasParent() bool {
	return s.Parent != nil
}
