package query

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Slincnik/querycache/key"
	"github.com/Slincnik/querycache/observe"
	"github.com/Slincnik/querycache/store"
)

// Fetcher loads the value for a key. It receives the shared flight
// context, cancelled once every consumer has abandoned the fetch, and the
// key the handle was created or rekeyed with.
type Fetcher[T any] func(ctx context.Context, k key.Key) (T, error)

// Execute subscribes a new handle to the entry for k and runs the fetch
// decision for it, blocking until the first fetch settles when one is
// needed. Fresh cached data is served without calling fetcher, and
// concurrent executions of the same canonical key share one fetcher call.
//
// Execute returns an error only for setup failures and context
// cancellation. A failed fetch settles onto the handle instead: Err
// carries it and Status reports StatusError.
func Execute[T any](ctx context.Context, c *Client, k key.Key, fetcher Fetcher[T], opts Options[T]) (*Handle[T], error) {
	if c == nil {
		return nil, ErrNilClient
	}
	if fetcher == nil {
		return nil, ErrNilFetcher
	}
	if c.isClosed() {
		return nil, ErrClosed
	}

	h := &Handle[T]{
		client:    c,
		fetcher:   fetcher,
		opts:      resolveOptions(c.cfg, opts),
		key:       k,
		hash:      k.Canonical(),
		status:    store.StatusPending,
		onChange:  make(map[int64]func()),
		onSuccess: make(map[int64]func(T)),
		onError:   make(map[int64]func(error)),
		onSettled: make(map[int64]func(T, error)),
	}

	h.subscribeEntry()
	if !h.opts.DisableCacheSync {
		h.unsubscribe = c.store.Subscribe(h.onStoreEvent)
	}
	h.applyFromStore(false)

	if _, err := h.fetch(ctx, false, false, "execute"); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrClosed) {
			return h, err
		}
	}
	return h, nil
}

// runShared is the leader side of a flight: it marks the entry as
// fetching, runs op through the retry loop under the flight context, and
// settles the outcome into the store before any waiter observes it.
// Global callbacks fire here, once per flight.
func (c *Client) runShared(f *flight, retry int, delay time.Duration, meta observe.QueryMeta, op func(context.Context) (any, error)) (any, error) {
	maxAttempts := 1
	if retry > 0 {
		maxAttempts += retry
	}

	c.store.Apply(f.hash, func(e store.Entry) store.Entry {
		e.FetchStatus = store.FetchFetching
		return e
	})

	log := c.logger.WithQuery(meta)
	log.Debug(f.ctx, "fetch started",
		observe.Field{Key: "max_attempts", Value: maxAttempts},
	)

	sctx, span := c.tracer.StartSpan(f.ctx, meta)
	start := time.Now()
	data, attempts, err := runWithRetry(sctx, maxAttempts, delay, op)
	duration := time.Since(start)

	switch {
	case err != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)):
		// Abandoned, not failed: revert the in-flight marker unless a
		// newer flight already owns it, and keep the entry's last
		// settled state. Not recorded as a fetch.
		if c.flights.current(f.hash) == nil {
			c.store.Apply(f.hash, func(e store.Entry) store.Entry {
				e.FetchStatus = store.FetchIdle
				return e
			})
		}
		c.tracer.EndSpan(span, err)
		log.Debug(context.Background(), "fetch abandoned",
			observe.Field{Key: "attempts", Value: attempts},
		)
		c.flights.settle(f)
		return nil, err

	case err != nil:
		err = fmt.Errorf("%w: %w", ErrExhausted, err)
		c.store.Apply(f.hash, func(e store.Entry) store.Entry {
			e.Err = err
			e.Status = store.StatusError
			e.FetchStatus = store.FetchIdle
			return e
		})
		c.tracer.EndSpan(span, err)
		c.metrics.RecordFetch(f.ctx, meta, duration, attempts, err)
		log.Error(f.ctx, "fetch failed",
			observe.Field{Key: "duration_ms", Value: duration.Milliseconds()},
			observe.Field{Key: "attempts", Value: attempts},
			observe.Field{Key: "error", Value: err.Error()},
		)
		c.flights.settle(f)
		if cb := c.cfg.Queries.OnError; cb != nil {
			cb(err, f.hash)
		}
		if cb := c.cfg.Queries.OnSettled; cb != nil {
			cb(nil, err, f.hash)
		}
		return nil, err

	default:
		c.store.Apply(f.hash, func(e store.Entry) store.Entry {
			e.Data = data
			e.Err = nil
			e.Status = store.StatusSuccess
			e.FetchStatus = store.FetchIdle
			e.UpdatedAt = time.Now()
			return e
		})
		c.tracer.EndSpan(span, nil)
		c.metrics.RecordFetch(f.ctx, meta, duration, attempts, nil)
		log.Debug(f.ctx, "fetch completed",
			observe.Field{Key: "duration_ms", Value: duration.Milliseconds()},
			observe.Field{Key: "attempts", Value: attempts},
		)
		c.flights.settle(f)
		if cb := c.cfg.Queries.OnSuccess; cb != nil {
			cb(data, f.hash)
		}
		if cb := c.cfg.Queries.OnSettled; cb != nil {
			cb(data, nil, f.hash)
		}
		return data, nil
	}
}
