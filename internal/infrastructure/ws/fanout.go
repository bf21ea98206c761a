package ws

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/hilthontt/notifygate/internal/infrastructure/logging"
	"github.com/hilthontt/notifygate/internal/infrastructure/metrics"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

const defaultMaxConcurrency = 64

// Result summarizes one fan-out. Attempted counts writes that were started;
// Skipped counts recipients never tried because ctx ended first. Err joins the
// individual write failures.
type Result struct {
	Attempted int
	Delivered int
	Failed    int
	Skipped   int
	Err       error
}

// Cancelled reports whether some recipients were skipped due to cancellation.
func (r Result) Cancelled() bool {
	return r.Skipped > 0
}

// Fanout delivers one payload to many connections. A failing connection never
// stops delivery to the others.
type Fanout struct {
	registry       *Registry
	logger         logging.Logger
	metrics        *metrics.Metrics
	maxConcurrency int
}

func NewFanout(registry *Registry, logger logging.Logger, m *metrics.Metrics, maxConcurrency int) *Fanout {
	if maxConcurrency <= 0 {
		maxConcurrency = defaultMaxConcurrency
	}
	return &Fanout{
		registry:       registry,
		logger:         logger,
		metrics:        m,
		maxConcurrency: maxConcurrency,
	}
}

func (f *Fanout) SendToOwner(ctx context.Context, owner string, payload []byte) Result {
	return f.deliver(ctx, f.registry.ConnectionsOf(owner), payload)
}

// SendToOwners sends to every open connection of the given owners, each
// connection at most once, minus the excluded connections and owners.
func (f *Fanout) SendToOwners(ctx context.Context, owners []string, payload []byte, excludeConns []*Connection, excludeOwners []string) Result {
	skipConns := mapset.NewThreadUnsafeSet(excludeConns...)
	skipOwners := lowerSet(excludeOwners)
	seen := mapset.NewThreadUnsafeSet[*Connection]()

	var targets []*Connection
	f.registry.mu.RLock()
	for _, owner := range owners {
		if skipOwners.Contains(ownerKey(owner)) {
			continue
		}
		for _, conn := range f.registry.connectionsOfLocked(owner) {
			if skipConns.Contains(conn) || !seen.Add(conn) {
				continue
			}
			targets = append(targets, conn)
		}
	}
	f.registry.mu.RUnlock()

	return f.deliver(ctx, targets, payload)
}

// BroadcastAll sends to every open connection of every registered owner.
// Connections registered after the owner list is taken may be missed.
func (f *Fanout) BroadcastAll(ctx context.Context, payload []byte, excludeOwners []string, excludeConns []*Connection) Result {
	return f.SendToOwners(ctx, f.registry.Owners(), payload, excludeConns, excludeOwners)
}

func lowerSet(values []string) mapset.Set[string] {
	set := mapset.NewThreadUnsafeSetWithSize[string](len(values))
	for _, v := range values {
		set.Add(strings.ToLower(v))
	}
	return set
}

func (f *Fanout) deliver(ctx context.Context, targets []*Connection, payload []byte) Result {
	if len(targets) == 0 {
		return Result{}
	}

	started := time.Now()
	defer f.metrics.ObserveFanout(started)

	var (
		mu  sync.Mutex
		res Result
	)

	g := new(errgroup.Group)
	g.SetLimit(f.maxConcurrency)

	for i, conn := range targets {
		if ctx.Err() != nil {
			mu.Lock()
			res.Skipped += len(targets) - i
			mu.Unlock()
			break
		}

		g.Go(func() error {
			if ctx.Err() != nil {
				mu.Lock()
				res.Skipped++
				mu.Unlock()
				return nil
			}

			err := conn.Send(ctx, payload)

			mu.Lock()
			defer mu.Unlock()
			res.Attempted++
			if err != nil {
				res.Failed++
				res.Err = multierr.Append(res.Err, fmt.Errorf("send to %s: %w", conn.RemoteAddr(), err))
				return nil
			}
			res.Delivered++
			return nil
		})
	}
	_ = g.Wait()

	f.metrics.Delivery(metrics.ResultDelivered, res.Delivered)
	f.metrics.Delivery(metrics.ResultFailed, res.Failed)
	f.metrics.Delivery(metrics.ResultSkipped, res.Skipped)

	if res.Err != nil {
		f.logger.Warn(logging.Fanout, logging.Delivery, "delivery failed for some connections", map[logging.ExtraKey]any{
			logging.Attempted:    res.Attempted,
			logging.Delivered:    res.Delivered,
			logging.Failed:       res.Failed,
			logging.ErrorMessage: res.Err.Error(),
		})
	}

	return res
}
