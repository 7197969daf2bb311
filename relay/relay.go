// Package relay drains the outbox and hands each message to its destination:
// a node hosted by this process, or a peer host reached over HTTP.
//
// Entries are read in commit order and a destination that fails is skipped
// for the rest of the pass, so messages on one sender/receiver link are never
// reordered. Entries behind a blocked destination do not count against the
// batch, so one unreachable parent cannot starve the others. Failed entries
// stay in the outbox and are retried on the next pass.
package relay

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"aggtree/codec"
	"aggtree/logger"
	"aggtree/metrics"
	"aggtree/models"
	"aggtree/repository"
)

// Outbox is the committed message queue
type Outbox interface {
	PendingMessages(after string, limit int) ([]*repository.OutboxEntry, error)
	AckMessage(key string) error
}

// LocalHost applies messages to nodes hosted in this process
type LocalHost interface {
	Hosts(id models.NodeID) (bool, error)
	DeliverLocal(ctx context.Context, entry *repository.OutboxEntry) (bool, error)
}

// page size used when Options.Batch is unset
const defaultPage = 256

type Options struct {
	Interval time.Duration
	Timeout  time.Duration
	Rate     float64
	Burst    int
	Batch    int // entries attempted per pass; <= 0 drains the outbox
	Peers    map[string]string // node id -> base URL
	Client   *http.Client
}

type Relay struct {
	outbox   Outbox
	local    LocalHost
	peers    map[models.NodeID]string
	client   *http.Client
	limiter  *rate.Limiter
	interval time.Duration
	batch    int
}

func New(outbox Outbox, local LocalHost, opts Options) *Relay {
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}
	limit := rate.Inf
	if opts.Rate > 0 {
		limit = rate.Limit(opts.Rate)
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = 1
	}
	interval := opts.Interval
	if interval <= 0 {
		interval = time.Second
	}
	peers := make(map[models.NodeID]string, len(opts.Peers))
	for id, u := range opts.Peers {
		peers[models.NodeID(id)] = u
	}
	return &Relay{
		outbox:   outbox,
		local:    local,
		peers:    peers,
		client:   client,
		limiter:  rate.NewLimiter(limit, burst),
		interval: interval,
		batch:    opts.Batch,
	}
}

// Run makes a pass every interval until ctx is done
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		if _, err := r.RunOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.Logger.Warn("Relay pass failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunOnce attempts up to one batch of deliverable entries and returns how
// many were delivered
func (r *Relay) RunOnce(ctx context.Context) (int, error) {
	page := r.batch
	if page <= 0 {
		page = defaultPage
	}

	blocked := make(map[models.NodeID]bool)
	var after string
	seen, attempted, delivered := 0, 0, 0
	defer func() { metrics.OutboxPending.Set(float64(seen - delivered)) }()

	for r.batch <= 0 || attempted < r.batch {
		entries, err := r.outbox.PendingMessages(after, page)
		if err != nil {
			return delivered, err
		}
		if len(entries) == 0 {
			break
		}
		for _, entry := range entries {
			if r.batch > 0 && attempted >= r.batch {
				break
			}
			after = entry.Key
			seen++
			to := entry.Message.To
			if blocked[to] {
				continue
			}
			if err := r.limiter.Wait(ctx); err != nil {
				return delivered, err
			}
			attempted++

			route, err := r.send(ctx, entry)
			if err != nil {
				blocked[to] = true
				metrics.RelayDeliveries.WithLabelValues(route, "failed").Inc()
				logger.Logger.Warn("Delivery failed",
					zap.Stringer("message", entry.Message), zap.String("route", route), zap.Error(err))
				continue
			}
			metrics.RelayDeliveries.WithLabelValues(route, "delivered").Inc()
			delivered++
		}
	}
	return delivered, nil
}

func (r *Relay) send(ctx context.Context, entry *repository.OutboxEntry) (string, error) {
	to := entry.Message.To

	hosted, err := r.local.Hosts(to)
	if err != nil {
		return "local", err
	}
	if hosted {
		_, err := r.local.DeliverLocal(ctx, entry)
		return "local", err
	}

	base, ok := r.peers[to]
	if !ok {
		return "unroutable", fmt.Errorf("no route to node %s", to)
	}
	if err := r.post(ctx, base, entry.Message); err != nil {
		return "peer", err
	}
	return "peer", r.outbox.AckMessage(entry.Key)
}

func (r *Relay) post(ctx context.Context, base string, msg models.Message) error {
	body, err := codec.EncodeMessage(msg)
	if err != nil {
		return err
	}
	endpoint := base + "/nodes/" + url.PathEscape(string(msg.To)) + "/messages"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", codec.ContentType)

	resp, err := r.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("peer %s answered %d: %s", base, resp.StatusCode, bytes.TrimSpace(detail))
	}
	return nil
}
