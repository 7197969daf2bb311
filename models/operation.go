package models

import (
	"encoding/json"
	"fmt"
	"strings"
)

// OpKind selects one of the node operations
type OpKind uint32

const (
	OpConnectToParent OpKind = iota + 1
	OpSubmit
	OpFlush
)

var opNames = map[OpKind]string{
	OpConnectToParent: "connect_to_parent",
	OpSubmit:          "submit",
	OpFlush:           "flush",
}

func (k OpKind) String() string {
	if name, ok := opNames[k]; ok {
		return name
	}
	return fmt.Sprintf("op(%d)", uint32(k))
}

func (k OpKind) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

func (k *OpKind) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	for kind, n := range opNames {
		if strings.EqualFold(n, name) {
			*k = kind
			return nil
		}
	}
	return fmt.Errorf("unknown operation %q", name)
}

// Operation is one client request applied to a single node
type Operation struct {
	Kind   OpKind `json:"kind"`
	Parent NodeID `json:"parent,omitempty"` // ConnectToParent only
	Value  uint64 `json:"value,omitempty"`  // Submit only
}

func ConnectToParent(parent NodeID) Operation {
	return Operation{Kind: OpConnectToParent, Parent: parent}
}

func Submit(value uint64) Operation {
	return Operation{Kind: OpSubmit, Value: value}
}

func Flush() Operation {
	return Operation{Kind: OpFlush}
}
