package repository

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"

	"aggtree/codec"
	"aggtree/db"
	"aggtree/models"
)

const (
	nodePrefix   = "node:"
	outboxPrefix = "outbox:"
	inboxPrefix  = "inbox:"
	outboxSeqKey = "meta:outbox_seq"
)

// ErrNotFound is returned when a node has no stored state
var ErrNotFound = errors.New("node not found")

// Commit is the result of one operation or message applied to one node.
// Every field set is written in a single batch.
type Commit struct {
	State    *models.NodeState
	Outbound *models.Message // appended to the outbox
	Inbound  *models.Message // sets the inbox watermark From -> To to its Epoch and Seq
	Ack      string          // outbox key delivered by this commit
}

// OutboxEntry is a committed message waiting for delivery
type OutboxEntry struct {
	Key     string
	Message models.Message
}

// It abstracts the storage layer from the business logic
type NodeRepositoryInterface interface {
	PutNode(state *models.NodeState) error
	GetNode(id models.NodeID) (*models.NodeState, error)
	GetAllNodes() ([]*models.NodeState, error)
	Commit(c *Commit) error
	InboxWatermark(to, from models.NodeID) (models.Watermark, error)
	PendingMessages(after string, limit int) ([]*OutboxEntry, error)
	AckMessage(key string) error
}

// NodeRepository implements the NodeRepositoryInterface using LevelDB as the storage backend
type NodeRepository struct {
	db *db.LevelDB

	// serialises outbox key allocation with the batch that uses it
	mu sync.Mutex
}

// NewNodeRepository creates and returns a new NodeRepository instance
func NewNodeRepository(db *db.LevelDB) *NodeRepository {
	return &NodeRepository{db: db}
}

// PutNode stores a node state in the LevelDB storage
func (r *NodeRepository) PutNode(state *models.NodeState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}
	return r.db.Put(nodeKey(state.ID), data)
}

// GetNode retrieves a node state from LevelDB storage by its ID
func (r *NodeRepository) GetNode(id models.NodeID) (*models.NodeState, error) {
	data, err := r.db.Get(nodeKey(id))
	if db.IsNotFound(err) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	var state models.NodeState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

// GetAllNodes retrieves all node states, ordered by ID
func (r *NodeRepository) GetAllNodes() ([]*models.NodeState, error) {
	iter := r.db.NewPrefixIterator([]byte(nodePrefix))
	defer iter.Release()

	var states []*models.NodeState
	for iter.Next() {
		var state models.NodeState
		if err := json.Unmarshal(iter.Value(), &state); err != nil {
			return nil, err
		}
		states = append(states, &state)
	}
	return states, iter.Error()
}

// Commit writes the node state together with its outbox, inbox and ack changes
func (r *NodeRepository) Commit(c *Commit) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	batch := new(leveldb.Batch)

	if c.State != nil {
		data, err := json.Marshal(c.State)
		if err != nil {
			return err
		}
		batch.Put(nodeKey(c.State.ID), data)
	}

	if c.Outbound != nil {
		seq, err := r.outboxSeq()
		if err != nil {
			return err
		}
		seq++
		data, err := codec.EncodeMessage(*c.Outbound)
		if err != nil {
			return err
		}
		batch.Put(outboxKey(seq), data)
		batch.Put([]byte(outboxSeqKey), []byte(strconv.FormatUint(seq, 10)))
	}

	if c.Inbound != nil {
		data, err := json.Marshal(models.Watermark{Epoch: c.Inbound.Epoch, Seq: c.Inbound.Seq})
		if err != nil {
			return err
		}
		batch.Put(inboxKey(c.Inbound.To, c.Inbound.From), data)
	}

	if c.Ack != "" {
		batch.Delete([]byte(c.Ack))
	}

	return r.db.Write(batch)
}

// InboxWatermark returns the last epoch and sequence applied on from -> to,
// or the zero watermark
func (r *NodeRepository) InboxWatermark(to, from models.NodeID) (models.Watermark, error) {
	var w models.Watermark
	data, err := r.db.Get(inboxKey(to, from))
	if db.IsNotFound(err) {
		return w, nil
	}
	if err != nil {
		return w, err
	}
	err = json.Unmarshal(data, &w)
	return w, err
}

// PendingMessages returns up to limit outbox entries in commit order whose
// key sorts after the given key ("" starts at the oldest); limit <= 0 means all
func (r *NodeRepository) PendingMessages(after string, limit int) ([]*OutboxEntry, error) {
	iter := r.db.NewPrefixIteratorFrom([]byte(outboxPrefix), []byte(after))
	defer iter.Release()

	var entries []*OutboxEntry
	for iter.Next() {
		if string(iter.Key()) == after {
			continue
		}
		if limit > 0 && len(entries) >= limit {
			break
		}
		msg, err := codec.DecodeMessage(iter.Value())
		if err != nil {
			return nil, err
		}
		entries = append(entries, &OutboxEntry{Key: string(iter.Key()), Message: msg})
	}
	return entries, iter.Error()
}

// AckMessage removes a delivered outbox entry
func (r *NodeRepository) AckMessage(key string) error {
	if !strings.HasPrefix(key, outboxPrefix) {
		return fmt.Errorf("not an outbox key: %q", key)
	}
	return r.db.Delete([]byte(key))
}

func (r *NodeRepository) outboxSeq() (uint64, error) {
	data, err := r.db.Get([]byte(outboxSeqKey))
	if db.IsNotFound(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.ParseUint(string(data), 10, 64)
}

func nodeKey(id models.NodeID) []byte {
	return []byte(nodePrefix + string(id))
}

// zero padded so key order is commit order
func outboxKey(seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", outboxPrefix, seq))
}

func inboxKey(to, from models.NodeID) []byte {
	return []byte(inboxPrefix + string(to) + "\x00" + string(from))
}
