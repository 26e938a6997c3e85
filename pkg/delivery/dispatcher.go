// Package delivery pushes fabric events to registered webhook
// endpoints: selector matching, HMAC signing, retry with backoff and
// dead-lettering on exhaustion.
package delivery

import (
	"context"
	"log/slog"
	"net/http"
	"sync"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/rcrt-io/rcrt/pkg/events"
	"github.com/rcrt-io/rcrt/pkg/metrics"
	"github.com/rcrt-io/rcrt/pkg/models"
	"github.com/rcrt-io/rcrt/pkg/store"
)

// job is one pending delivery of an envelope to one endpoint.
type job struct {
	endpoint *models.WebhookSubscription
	secret   string
	envelope models.EventEnvelope
}

// Dispatcher subscribes to the bus and fans events out to webhook
// endpoints. Deliveries to the same (endpoint, record) pair run
// strictly in order; unrelated deliveries proceed concurrently under
// the semaphore and global rate limit.
type Dispatcher struct {
	store   *store.Store
	bus     *events.Bus
	cfg     Config
	metrics *metrics.Metrics
	client  *http.Client
	sem     *semaphore.Weighted
	limiter *rate.Limiter
	logger  *slog.Logger

	mu     sync.Mutex
	queues map[string][]*job
	active map[string]bool

	sub    *events.Subscription
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewDispatcher creates a stopped dispatcher.
func NewDispatcher(st *store.Store, bus *events.Bus, m *metrics.Metrics, cfg Config) *Dispatcher {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 6
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 16
	}
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = 50
	}
	return &Dispatcher{
		store:   st,
		bus:     bus,
		cfg:     cfg,
		metrics: m,
		client:  &http.Client{Timeout: cfg.Timeout},
		sem:     semaphore.NewWeighted(cfg.MaxConcurrent),
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSecond), int(cfg.RatePerSecond)),
		logger:  slog.Default().With("component", "webhook_dispatcher"),
		queues:  make(map[string][]*job),
		active:  make(map[string]bool),
	}
}

// Start subscribes to record events and begins dispatching.
func (d *Dispatcher) Start(ctx context.Context) {
	ctx, d.cancel = context.WithCancel(ctx)
	d.sub = d.bus.Subscribe("bc.>", 256)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-d.sub.C:
				if !ok {
					return
				}
				d.fanOut(ctx, evt)
			}
		}
	}()
	d.logger.Info("webhook dispatcher started")
}

// Stop detaches from the bus and waits for in-flight deliveries.
func (d *Dispatcher) Stop() {
	if d.cancel != nil {
		d.cancel()
	}
	if d.sub != nil {
		d.sub.Close()
	}
	d.wg.Wait()
	d.logger.Info("webhook dispatcher stopped")
}

// fanOut matches one event against stored selectors and enqueues a
// delivery per active endpoint of each matching agent.
func (d *Dispatcher) fanOut(ctx context.Context, evt events.Event) {
	selectors, err := d.store.MatchingSelectors(ctx, &evt.Envelope)
	if err != nil {
		d.logger.Error("selector matching failed", "subject", evt.Subject, "error", err)
		return
	}

	agents := make(map[string]bool)
	for _, sel := range selectors {
		if sel.Webhook {
			agents[sel.AgentID] = true
		}
	}

	for agentID := range agents {
		endpoints, err := d.store.ActiveWebhooksFor(ctx, evt.Envelope.Owner, agentID)
		if err != nil {
			d.logger.Error("failed to load webhook endpoints",
				"agent_id", agentID, "error", err)
			continue
		}
		if len(endpoints) == 0 {
			continue
		}

		// Endpoint secret wins; otherwise sign with the agent's key.
		agentSecret := ""
		if reg, err := d.store.GetAgentBypass(ctx, evt.Envelope.Owner, agentID); err == nil {
			agentSecret = reg.HMACSecret
		}

		for _, ep := range endpoints {
			secret := ep.Secret
			if secret == "" {
				secret = agentSecret
			}
			d.enqueue(ctx, ep.ID+"|"+evt.Envelope.RecordID, &job{
				endpoint: ep,
				secret:   secret,
				envelope: evt.Envelope,
			})
		}
	}
}

// enqueue appends the job to its ordered queue and starts a drainer
// for the key when none is running.
func (d *Dispatcher) enqueue(ctx context.Context, key string, j *job) {
	d.mu.Lock()
	d.queues[key] = append(d.queues[key], j)
	if !d.active[key] {
		d.active[key] = true
		d.wg.Add(1)
		go d.drain(ctx, key)
	}
	d.mu.Unlock()
}

func (d *Dispatcher) drain(ctx context.Context, key string) {
	defer d.wg.Done()
	for {
		d.mu.Lock()
		queue := d.queues[key]
		if len(queue) == 0 {
			delete(d.queues, key)
			d.active[key] = false
			delete(d.active, key)
			d.mu.Unlock()
			return
		}
		j := queue[0]
		d.queues[key] = queue[1:]
		d.mu.Unlock()

		d.deliver(ctx, j)
	}
}
