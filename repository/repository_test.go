package repository

import (
	"testing"

	"github.com/stretchr/testify/require"

	"aggtree/db"
	"aggtree/models"
)

func newRepo(t *testing.T) *NodeRepository {
	t.Helper()
	ldb, err := db.NewMemLevelDB()
	require.NoError(t, err)
	t.Cleanup(func() { ldb.Close() })
	return NewNodeRepository(ldb)
}

func TestPutGetNode(t *testing.T) {
	r := newRepo(t)

	_, err := r.GetNode("a")
	require.ErrorIs(t, err, ErrNotFound)

	parent := models.NodeID("p")
	require.NoError(t, r.PutNode(&models.NodeState{ID: "a", Parent: &parent, Value: 5}))
	require.NoError(t, r.PutNode(&models.NodeState{ID: "p"}))

	got, err := r.GetNode("a")
	require.NoError(t, err)
	require.Equal(t, uint64(5), got.Value)
	require.Equal(t, parent, *got.Parent)

	all, err := r.GetAllNodes()
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, models.NodeID("a"), all[0].ID)
	require.Equal(t, models.NodeID("p"), all[1].ID)
}

func TestCommitAppendsOutboxInOrder(t *testing.T) {
	r := newRepo(t)
	parent := models.NodeID("p")

	for i := uint64(1); i <= 12; i++ {
		require.NoError(t, r.Commit(&Commit{
			State:    &models.NodeState{ID: "c", Parent: &parent, NextSeq: i + 1},
			Outbound: &models.Message{From: "c", To: "p", Seq: i, Value: i * 10},
		}))
	}

	entries, err := r.PendingMessages("", 0)
	require.NoError(t, err)
	require.Len(t, entries, 12)
	for i, e := range entries {
		require.Equal(t, uint64(i+1), e.Message.Seq)
	}

	limited, err := r.PendingMessages("", 5)
	require.NoError(t, err)
	require.Len(t, limited, 5)

	// paging resumes strictly after the given key
	next, err := r.PendingMessages(limited[4].Key, 5)
	require.NoError(t, err)
	require.Len(t, next, 5)
	require.Equal(t, uint64(6), next[0].Message.Seq)
	tail, err := r.PendingMessages(entries[11].Key, 5)
	require.NoError(t, err)
	require.Empty(t, tail)

	require.NoError(t, r.AckMessage(entries[0].Key))
	rest, err := r.PendingMessages("", 0)
	require.NoError(t, err)
	require.Len(t, rest, 11)
	require.Equal(t, uint64(2), rest[0].Message.Seq)

	require.Error(t, r.AckMessage("node:c"))

	state, err := r.GetNode("c")
	require.NoError(t, err)
	require.Equal(t, uint64(13), state.NextSeq)
}

func TestCommitInboundAndAck(t *testing.T) {
	r := newRepo(t)
	parent := models.NodeID("p")
	require.NoError(t, r.Commit(&Commit{
		State:    &models.NodeState{ID: "c", Parent: &parent, NextSeq: 2},
		Outbound: &models.Message{From: "c", To: "p", Epoch: 9, Seq: 1, Value: 3},
	}))
	entries, err := r.PendingMessages("", 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	w, err := r.InboxWatermark("p", "c")
	require.NoError(t, err)
	require.Zero(t, w)

	msg := entries[0].Message
	require.NoError(t, r.Commit(&Commit{
		State:   &models.NodeState{ID: "p", Value: 3},
		Inbound: &msg,
		Ack:     entries[0].Key,
	}))

	w, err = r.InboxWatermark("p", "c")
	require.NoError(t, err)
	require.Equal(t, models.Watermark{Epoch: 9, Seq: 1}, w)

	entries, err = r.PendingMessages("", 0)
	require.NoError(t, err)
	require.Empty(t, entries)

	got, err := r.GetNode("p")
	require.NoError(t, err)
	require.Equal(t, uint64(3), got.Value)
}
