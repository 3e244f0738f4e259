// Package coordinator drives one gateway on a fixed poll period. It
// guarantees at most one in-flight fetch, classifies failures, applies the
// permanent degrade-on-auth-failure policy and publishes each successful
// snapshot to subscribers.
package coordinator

import (
	"context"
	"sync"
	"time"

	"codeberg.org/mutker/envoymon/internal/derive"
	"codeberg.org/mutker/envoymon/internal/envoy"
	"codeberg.org/mutker/envoymon/internal/errors"
	"codeberg.org/mutker/envoymon/internal/logger"
)

const (
	DefaultPeriod  = 60 * time.Second
	DefaultTimeout = 30 * time.Second
)

type Config struct {
	Fetcher envoy.Fetcher
	// Period between poll cycles; DefaultPeriod when zero.
	Period time.Duration
	// Timeout bounds each fetch attempt; DefaultTimeout when zero.
	Timeout time.Duration
}

// Coordinator owns the monitoring session of a single device. One instance
// serves one device; run a second instance for a second device.
type Coordinator struct {
	fetcher envoy.Fetcher
	period  time.Duration
	timeout time.Duration
	engine  *derive.Engine

	mu          sync.Mutex
	subscribers []Subscriber
	inFlight    bool
	degraded    bool
	needsReauth bool
	started     bool
	stopped     bool
	current     *envoy.Snapshot

	cancel context.CancelFunc
	done   chan struct{}
}

func New(cfg Config) (*Coordinator, error) {
	errFactory := errors.New()

	if cfg.Fetcher == nil {
		return nil, errFactory.New(ErrMissingFetcher)
	}

	period := cfg.Period
	if period <= 0 {
		period = DefaultPeriod
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &Coordinator{
		fetcher: cfg.Fetcher,
		period:  period,
		timeout: timeout,
		engine:  derive.NewEngine(derive.RealClock{}),
	}, nil
}

// Subscribe registers a subscriber. Registrations made after Start take
// effect from the next cycle.
func (c *Coordinator) Subscribe(sub Subscriber) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscribers = append(c.subscribers, sub)
}

// Start runs the first refresh synchronously, so the caller blocks on its
// outcome, then launches the periodic poll loop. It is a no-op when
// already started.
//
// When the very first fetch is rejected as unauthorized, the request shape
// is permanently reduced and the refresh retried exactly once; if the
// retry fails too, its error is returned and no loop is started.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started || c.stopped {
		c.mu.Unlock()
		return nil
	}
	c.started = true
	c.mu.Unlock()

	if err := c.firstRefresh(ctx); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)

	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		cancel()
		return nil
	}
	c.cancel = cancel
	c.done = make(chan struct{})
	c.mu.Unlock()

	go c.run(runCtx)

	return nil
}

// Stop cancels the poll loop and waits for it to exit. An in-flight fetch
// is left to finish, but its result is discarded. Safe to call more than
// once.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	cancel := c.cancel
	done := c.done
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
	logger.Debug().Msg("Coordinator stopped")
}

// Current returns the most recent successful snapshot, or nil before the
// first refresh.
func (c *Coordinator) Current() *envoy.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Degraded reports whether inverter polling has been permanently disabled.
func (c *Coordinator) Degraded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.degraded
}

// NeedsReauth reports the standing re-authentication condition raised when
// the gateway rejects a fetch after a session was already established.
func (c *Coordinator) NeedsReauth() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.needsReauth
}

func (c *Coordinator) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	return Status{
		Current:     c.current,
		Degraded:    c.degraded,
		NeedsReauth: c.needsReauth,
	}
}

func (c *Coordinator) run(ctx context.Context) {
	defer close(c.done)

	ticker := time.NewTicker(c.period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.tick(ctx)
		}
	}
}

// tick runs one poll cycle. A tick that lands while a cycle is still
// running is skipped outright; cycles are never queued or pipelined.
func (c *Coordinator) tick(ctx context.Context) {
	c.mu.Lock()
	if c.inFlight || c.stopped {
		inFlight := c.inFlight
		c.mu.Unlock()
		if inFlight {
			logger.Debug().Msg("Fetch still in flight, skipping tick")
		}
		return
	}
	c.inFlight = true
	degraded := c.degraded
	c.mu.Unlock()

	snap, err := c.fetch(ctx, degraded)
	if err != nil {
		c.noteFailure(err)
		return
	}

	c.commit(snap)
}

func (c *Coordinator) firstRefresh(ctx context.Context) error {
	c.mu.Lock()
	c.inFlight = true
	degraded := c.degraded
	c.mu.Unlock()

	snap, err := c.fetch(ctx, degraded)
	if envoy.IsAuthFailure(err) {
		logger.Warn().Msg("Authorization rejected on first refresh, permanently disabling inverter polling")
		c.mu.Lock()
		c.degraded = true
		c.mu.Unlock()

		snap, err = c.fetch(ctx, true)
	}
	if err != nil {
		c.mu.Lock()
		c.inFlight = false
		c.mu.Unlock()
		return err
	}

	c.commit(snap)

	return nil
}

func (c *Coordinator) fetch(ctx context.Context, degraded bool) (*envoy.Snapshot, error) {
	fctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	return c.fetcher.Fetch(fctx, degraded)
}

// commit stores a successful snapshot, derives its metrics and publishes
// both. The cycle stays marked in flight until publication finishes, so
// derived state is always consistent with exactly one snapshot generation.
func (c *Coordinator) commit(snap *envoy.Snapshot) {
	c.mu.Lock()
	if c.stopped {
		c.inFlight = false
		c.mu.Unlock()
		logger.Debug().Msg("Discarding fetch result after stop")
		return
	}
	c.needsReauth = false
	c.current = snap
	derived := c.engine.Apply(snap)
	subs := make([]Subscriber, len(c.subscribers))
	copy(subs, c.subscribers)
	c.mu.Unlock()

	descriptors := envoy.Descriptors()
	for _, sub := range subs {
		sub.OnSnapshot(snap)
		for _, d := range descriptors {
			if v, ok := d.Read(snap); ok {
				sub.OnMetric(d.Key, v)
			}
		}
		for _, m := range derived {
			sub.OnMetric(m.Key, m.Value)
		}
	}

	c.mu.Lock()
	c.inFlight = false
	c.mu.Unlock()
}

func (c *Coordinator) noteFailure(err error) {
	kind := envoy.Classify(err)

	c.mu.Lock()
	c.inFlight = false
	stopped := c.stopped
	if !stopped && kind == envoy.FailureAuth {
		c.needsReauth = true
	}
	c.mu.Unlock()

	if stopped {
		return
	}

	switch kind {
	case envoy.FailureAuth:
		logger.Warn().Err(err).Msg("Authorization rejected, re-authentication required")
	case envoy.FailureTransient:
		logger.Warn().Err(err).Msg("Transient fetch failure, keeping last snapshot")
	default:
		logger.Error().Err(err).Msg("Fetch failed")
	}
}
