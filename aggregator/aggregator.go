// Package aggregator hosts many aggregation nodes in one process.
//
// Every operation or inbound message runs one load-apply-save cycle: the
// node's state is loaded from the repository, the transition is applied by
// the node package, and the new state is committed together with any
// outbound message in a single batch. A failed transition commits nothing.
package aggregator

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"

	"go.uber.org/zap"

	"aggtree/logger"
	"aggtree/metrics"
	"aggtree/models"
	"aggtree/node"
	"aggtree/repository"
	"aggtree/topology"
)

var (
	ErrNodeExists   = errors.New("node with ID already exists")
	ErrNodeNotFound = repository.ErrNotFound
	ErrInvalidID    = errors.New("node ID must not be empty")
)

// Service applies operations and messages to hosted nodes
type Service struct {
	repo         repository.NodeRepositoryInterface
	rejectCycles bool

	mux   sync.Mutex // guards locks
	locks map[models.NodeID]*sync.Mutex

	// held across check and commit of a parent link when rejecting cycles
	topoMux sync.Mutex
}

type Option func(*Service)

// Result is the outcome of an operation committed by Execute
type Result struct {
	State *models.NodeState // state as committed
	Sent  *models.Message   // set by a successful Flush
}

// WithCycleRejection makes ConnectToParent fail with topology.ErrCycle when
// the link would close a cycle among hosted nodes.
func WithCycleRejection(reject bool) Option {
	return func(s *Service) { s.rejectCycles = reject }
}

func NewService(repo repository.NodeRepositoryInterface, opts ...Option) *Service {
	s := &Service{
		repo:  repo,
		locks: make(map[models.NodeID]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateNode stores a new node with no parent and the given seed value
func (s *Service) CreateNode(ctx context.Context, id models.NodeID, seed uint64) (*models.NodeState, error) {
	if id == "" {
		return nil, ErrInvalidID
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	unlock := s.lock(id)
	defer unlock()

	existing, err := s.repo.GetNode(id)
	if err == nil && existing != nil {
		return nil, fmt.Errorf("%w: %s", ErrNodeExists, id)
	}
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	state := node.NewSeeded(id, seed).State()
	state.NextSeq = 1
	state.Epoch = newEpoch()
	if err := s.repo.PutNode(&state); err != nil {
		return nil, err
	}
	metrics.HostedNodes.Inc()

	logger.Logger.Info("Created node", zap.String("node_id", string(id)), zap.Uint64("seed", seed))
	return &state, nil
}

// Get returns the stored state of id
func (s *Service) Get(ctx context.Context, id models.NodeID) (*models.NodeState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.repo.GetNode(id)
}

// List returns every hosted node
func (s *Service) List(ctx context.Context) ([]*models.NodeState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.repo.GetAllNodes()
}

// Hosts reports whether id is stored here
func (s *Service) Hosts(id models.NodeID) (bool, error) {
	_, err := s.repo.GetNode(id)
	if errors.Is(err, repository.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// Execute applies op to node id and returns the state it committed. A
// successful Flush also returns the message it added to the outbox.
func (s *Service) Execute(ctx context.Context, id models.NodeID, op models.Operation) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if op.Kind == models.OpConnectToParent && s.rejectCycles {
		s.topoMux.Lock()
		defer s.topoMux.Unlock()
	}

	unlock := s.lock(id)
	defer unlock()

	res, err := s.execute(id, op)
	if err != nil {
		metrics.Operations.WithLabelValues(op.Kind.String(), "rejected").Inc()
		logger.Logger.Warn("Operation rejected",
			zap.String("node_id", string(id)), zap.Stringer("op", op.Kind), zap.Error(err))
		return nil, err
	}
	metrics.Operations.WithLabelValues(op.Kind.String(), "applied").Inc()
	return res, nil
}

func (s *Service) execute(id models.NodeID, op models.Operation) (*Result, error) {
	state, err := s.repo.GetNode(id)
	if err != nil {
		return nil, err
	}

	if op.Kind == models.OpConnectToParent && s.rejectCycles {
		if err := s.checkLink(id, op.Parent); err != nil {
			return nil, err
		}
	}

	n := node.FromState(*state)
	msg, err := n.Execute(op)
	if err != nil {
		return nil, err
	}

	next := n.State()
	next.NextSeq = state.NextSeq
	next.Epoch = state.Epoch
	if msg != nil {
		if next.NextSeq == 0 {
			next.NextSeq = 1
		}
		msg.Epoch = next.Epoch
		msg.Seq = next.NextSeq
		next.NextSeq++
	}

	if err := s.repo.Commit(&repository.Commit{State: &next, Outbound: msg}); err != nil {
		return nil, err
	}

	if msg != nil {
		logger.Logger.Info("Flushed node",
			zap.String("node_id", string(id)), zap.String("parent", string(msg.To)),
			zap.Uint64("value", msg.Value), zap.Uint64("seq", msg.Seq))
	}
	return &Result{State: &next, Sent: msg}, nil
}

func (s *Service) checkLink(child, parent models.NodeID) error {
	states, err := s.repo.GetAllNodes()
	if err != nil {
		return err
	}
	if topology.FromStates(states).WouldCycle(child, parent) {
		return fmt.Errorf("link %s -> %s: %w", child, parent, topology.ErrCycle)
	}
	return nil
}

// Deliver merges an inbound message into its destination. A message whose
// epoch and sequence number were already applied on its link is acknowledged
// without effect; one with Seq 0 is always merged. An overflow returns
// node.ErrInboundOverflow and commits nothing.
func (s *Service) Deliver(ctx context.Context, msg models.Message) (bool, error) {
	return s.deliver(ctx, msg, "")
}

// DeliverLocal delivers an outbox entry to a node hosted here and removes
// the entry in the same commit.
func (s *Service) DeliverLocal(ctx context.Context, entry *repository.OutboxEntry) (bool, error) {
	return s.deliver(ctx, entry.Message, entry.Key)
}

func (s *Service) deliver(ctx context.Context, msg models.Message, ack string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	unlock := s.lock(msg.To)
	defer unlock()

	state, err := s.repo.GetNode(msg.To)
	if err != nil {
		metrics.InboundMessages.WithLabelValues("unroutable").Inc()
		return false, err
	}

	if msg.Seq != 0 {
		mark, err := s.repo.InboxWatermark(msg.To, msg.From)
		if err != nil {
			return false, err
		}
		if mark.Covers(msg) {
			metrics.InboundMessages.WithLabelValues("duplicate").Inc()
			logger.Logger.Debug("Duplicate message ignored",
				zap.Stringer("message", msg), zap.Uint64("epoch", mark.Epoch), zap.Uint64("watermark", mark.Seq))
			if ack == "" {
				return false, nil
			}
			return false, s.repo.Commit(&repository.Commit{Ack: ack})
		}
	}

	n := node.FromState(*state)
	if err := n.OnMessage(msg.Value); err != nil {
		metrics.InboundMessages.WithLabelValues("fatal").Inc()
		logger.Logger.Error("Inbound message cannot be merged",
			zap.Stringer("message", msg), zap.Uint64("value", state.Value), zap.Error(err))
		return false, err
	}

	next := n.State()
	next.NextSeq = state.NextSeq
	next.Epoch = state.Epoch
	commit := &repository.Commit{State: &next, Ack: ack}
	if msg.Seq != 0 {
		commit.Inbound = &msg
	}
	if err := s.repo.Commit(commit); err != nil {
		return false, err
	}

	metrics.InboundMessages.WithLabelValues("applied").Inc()
	logger.Logger.Debug("Merged message", zap.Stringer("message", msg), zap.Uint64("value", next.Value))
	return true, nil
}

// Validate checks that the parent links of hosted nodes form a forest
func (s *Service) Validate(ctx context.Context) error {
	states, err := s.List(ctx)
	if err != nil {
		return err
	}
	return topology.FromStates(states).Validate()
}

func (s *Service) lock(id models.NodeID) func() {
	s.mux.Lock()
	l, ok := s.locks[id]
	if !ok {
		l = new(sync.Mutex)
		s.locks[id] = l
	}
	s.mux.Unlock()

	l.Lock()
	return l.Unlock
}

// newEpoch picks a nonzero incarnation for a node's outbound sequence so a
// recreated node is not mistaken for the one it replaced
func newEpoch() uint64 {
	for {
		if e := rand.Uint64(); e != 0 {
			return e
		}
	}
}
