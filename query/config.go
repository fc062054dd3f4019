package query

import (
	"context"
	"sync"
	"time"

	"github.com/Slincnik/querycache/key"
	"github.com/Slincnik/querycache/observe"
	"github.com/Slincnik/querycache/store"
)

// QueryCallbacks are global query lifecycle hooks. Each fires once per
// settled shared fetch, with the raw fetched value and the canonical key,
// before the per-handle callbacks of the waiting consumers run.
type QueryCallbacks struct {
	OnSuccess func(data any, hash string)
	OnError   func(err error, hash string)
	OnSettled func(data any, err error, hash string)
}

// MutationCallbacks are global mutation lifecycle hooks. Each fires once
// per settled mutation with the result and the variables it ran with.
type MutationCallbacks struct {
	OnSuccess func(data any, vars any)
	OnError   func(err error, vars any)
	OnSettled func(data any, err error, vars any)
}

// Config configures a Client. The zero value is usable: no global
// callbacks, package defaults for every per-query knob, and telemetry
// disabled.
type Config struct {
	// Queries and Mutations hold the global lifecycle callbacks.
	Queries   QueryCallbacks
	Mutations MutationCallbacks

	// DefaultStaleTime applies when Options.StaleTime is zero. Zero
	// keeps data always stale.
	DefaultStaleTime time.Duration

	// DefaultCacheTime applies when Options.CacheTime is zero. Zero
	// means DefaultCacheTime.
	DefaultCacheTime time.Duration

	// DefaultRetry applies when Options.Retry is zero. Zero means
	// DefaultRetry.
	DefaultRetry int

	// DefaultRetryDelay applies when Options.RetryDelay is zero. Zero
	// means DefaultRetryDelay.
	DefaultRetryDelay time.Duration

	// Observer supplies tracing, metrics, and logging. Nil leaves all
	// three as noops.
	Observer observe.Observer
}

// Client owns the cache store, the in-flight fetch registry, and the
// observability components shared by every handle created from it.
//
// Contract:
//   - Safe for concurrent use.
//   - Close is idempotent. A closed client rejects new Execute calls and
//     cancels every in-flight fetch; existing handles keep serving their
//     last observed state.
type Client struct {
	cfg     Config
	store   *store.Store
	flights *flights

	root   context.Context
	cancel context.CancelFunc

	tracer     observe.Tracer
	metrics    observe.Metrics
	logger     observe.Logger
	instrument *observe.Instrument

	unsubscribe func()

	mu     sync.Mutex
	closed bool
}

// New creates a Client from cfg.
func New(cfg Config) (*Client, error) {
	c := &Client{
		cfg:     cfg,
		store:   store.New(),
		flights: newFlights(),
		tracer:  observe.NoopTracer(),
		metrics: observe.NoopMetrics(),
		logger:  observe.NoopLogger(),
	}
	c.root, c.cancel = context.WithCancel(context.Background())

	if cfg.Observer != nil {
		metrics, err := observe.NewMetrics(cfg.Observer.Meter())
		if err != nil {
			c.cancel()
			return nil, err
		}
		c.tracer = observe.NewTracer(cfg.Observer.Tracer())
		c.metrics = metrics
		c.logger = cfg.Observer.Logger()
	}
	c.instrument = observe.NewInstrument(c.tracer, c.metrics, c.logger)

	// Keep the entries gauge current from the store's own event stream.
	c.unsubscribe = c.store.Subscribe(func(e store.Event) {
		if e.Type == store.EventAdded || e.Type == store.EventRemoved {
			c.metrics.RecordEntries(c.root, c.store.Len())
		}
	})

	return c, nil
}

// Close cancels every in-flight fetch and clears the store, including
// pending eviction timers. Idempotent.
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	c.cancel()
	c.unsubscribe()
	c.store.Clear()
	c.metrics.RecordEntries(context.Background(), 0)
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Store exposes the underlying cache store.
func (c *Client) Store() *store.Store {
	return c.store
}

// Config returns the configuration the client was created with.
func (c *Client) Config() Config {
	return c.cfg
}

// Instrument returns the observability wrapper built from the client's
// tracer, metrics, and logger. Work running outside the query path, such
// as mutations, records through it.
func (c *Client) Instrument() *observe.Instrument {
	return c.instrument
}

// InvalidateGroup marks every cached entry in the group rooted at k as
// stale and returns the number of entries touched. Subscribed handles see
// the change through cache sync; each entry refetches on its next fetch
// decision rather than immediately.
func (c *Client) InvalidateGroup(ctx context.Context, k key.Key) int {
	group := k.Canonical()
	n := c.store.InvalidateGroup(group)
	c.logger.Info(ctx, "group invalidated",
		observe.Field{Key: "query.root", Value: group},
		observe.Field{Key: "invalidated", Value: n},
	)
	return n
}
