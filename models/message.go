package models

import "fmt"

// Message carries a flushed value from a node to its parent.
// From, Epoch and Seq are stamped by the host that commits the flush.
type Message struct {
	From  NodeID `json:"from"`
	To    NodeID `json:"to"`
	Epoch uint64 `json:"epoch"`
	Seq   uint64 `json:"seq"`
	Value uint64 `json:"value"`
}

// Watermark is the last sequence applied on one sender -> receiver link.
// A different Epoch means the sender restarted its sequence.
type Watermark struct {
	Epoch uint64 `json:"epoch"`
	Seq   uint64 `json:"seq"`
}

// Covers reports whether msg was already applied under w
func (w Watermark) Covers(msg Message) bool {
	return msg.Seq != 0 && msg.Epoch == w.Epoch && msg.Seq <= w.Seq
}

func (m Message) String() string {
	return fmt.Sprintf("%s->%s#%d(%d)", m.From, m.To, m.Seq, m.Value)
}
