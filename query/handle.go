package query

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Slincnik/querycache/key"
	"github.com/Slincnik/querycache/observe"
	"github.com/Slincnik/querycache/store"
)

// waiter tracks one consumer's pending receive on a shared fetch, so a
// newer fetch from the same handle can abandon it.
type waiter struct {
	cancel context.CancelFunc
}

// Handle is one consumer's live view of a cached entry. It holds the
// selected data, status, and error last derived from the store, and keeps
// them in sync with writes from other consumers of the same canonical key
// unless cache sync is disabled.
//
// Contract:
//   - Safe for concurrent use.
//   - Accessors never block on fetches; they return the last derived view.
//   - Close releases the entry subscription; it never removes data other
//     consumers may still be using.
type Handle[T any] struct {
	client  *Client
	fetcher Fetcher[T]
	opts    Options[T]

	mu          sync.Mutex
	key         key.Key
	hash        string
	data        T
	hasData     bool
	prev        T
	hasPrev     bool
	err         error
	status      store.Status
	fetchStatus store.FetchStatus
	lastUpdated time.Time
	gen         uint64
	wait        *waiter
	closed      bool
	unsubscribe func()

	nextID    int64
	onChange  map[int64]func()
	onSuccess map[int64]func(T)
	onError   map[int64]func(error)
	onSettled map[int64]func(T, error)
}

// subscribeEntry registers this handle on its entry, creating the entry
// when absent. If the entry is evicted between the existence check and
// the subscriber bump, it is recreated.
func (h *Handle[T]) subscribeEntry() {
	h.mu.Lock()
	hash := h.hash
	opts := h.opts
	h.mu.Unlock()

	c := h.client
	for {
		_, created := c.store.Ensure(hash, func() store.Entry {
			e := store.Entry{
				Status:      store.StatusPending,
				FetchStatus: store.FetchIdle,
				CacheTime:   opts.CacheTime,
				Subscribers: 1,
			}
			if opts.InitialData != nil {
				e.Data = opts.InitialData()
				e.Status = store.StatusSuccess
			}
			return e
		})
		if created {
			return
		}
		if c.store.AdjustSubscribers(hash, 1, opts.CacheTime) > 0 {
			return
		}
	}
}

// onStoreEvent is the cache sync listener: any event for the active key
// re-derives the local view.
func (h *Handle[T]) onStoreEvent(e store.Event) {
	h.mu.Lock()
	relevant := !h.closed && e.Hash == h.hash
	h.mu.Unlock()
	if relevant {
		h.applyFromStore(true)
	}
}

// applyFromStore re-reads the entry for the active key and re-derives
// data, status, and error. Data is re-derived when UpdatedAt moved or
// presence flipped; every data write stamps UpdatedAt, so value changes
// are never missed. Fires change listeners when fire is set and the view
// changed.
func (h *Handle[T]) applyFromStore(fire bool) {
	h.mu.Lock()
	hash := h.hash
	h.mu.Unlock()

	e, ok := h.client.store.Get(hash)

	h.mu.Lock()
	if h.hash != hash || h.closed {
		h.mu.Unlock()
		return
	}

	changed := false
	if h.status != e.Status {
		h.status = e.Status
		changed = true
	}
	if h.fetchStatus != e.FetchStatus {
		h.fetchStatus = e.FetchStatus
		changed = true
	}
	if h.err != e.Err {
		h.err = e.Err
		changed = true
	}

	hasRaw := ok && e.HasData()
	if h.lastUpdated != e.UpdatedAt || h.hasData != hasRaw {
		h.lastUpdated = e.UpdatedAt
		var zero T
		h.data, h.hasData = zero, false
		if hasRaw {
			if typed, assignable := e.Data.(T); assignable {
				sel := typed
				if h.opts.Select != nil {
					sel = h.opts.Select(typed)
				}
				h.data, h.hasData = sel, true
				h.hasPrev = false
			}
		}
		changed = true
	}

	var listeners []func()
	if fire && changed {
		listeners = snapshotCallbacks(h.onChange)
	}
	h.mu.Unlock()

	for _, fn := range listeners {
		fn()
	}
}

// fetch runs the fetch decision for the active key. ignoreStale forces
// past the freshness gate; manual marks a caller-initiated fetch, which
// is the only kind a disabled handle runs. Returns the selected data the
// handle holds once the decision settles.
func (h *Handle[T]) fetch(ctx context.Context, ignoreStale, manual bool, source string) (T, error) {
	var zero T
	c := h.client

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return zero, ErrClosed
	}
	hash := h.hash
	k := h.key
	gen := h.gen
	opts := h.opts
	h.mu.Unlock()

	if c.isClosed() {
		return zero, ErrClosed
	}

	meta := observe.QueryMeta{Hash: hash, Source: source}

	if opts.Disabled && !manual {
		// Leave a paused marker when there is nothing to serve yet, so
		// consumers can tell a gated fetch from an idle one.
		c.store.Apply(hash, func(e store.Entry) store.Entry {
			if !e.HasData() {
				e.FetchStatus = store.FetchPaused
			}
			return e
		})
		h.applyFromStore(true)
		return h.Data(), nil
	}

	e, ok := c.store.Get(hash)
	if !ignoreStale && !isStale(e, ok, opts.StaleTime) {
		c.metrics.RecordLookup(ctx, meta, true)
		// Resync so handles running without cache sync still pick up
		// writes through their own operations.
		h.applyFromStore(true)
		return h.Data(), nil
	}
	c.metrics.RecordLookup(ctx, meta, false)

	// One active wait per consumer: starting a new fetch abandons the
	// previous one, dropping its reference on the old flight.
	waitCtx, cancelWait := context.WithCancel(ctx)
	w := &waiter{cancel: cancelWait}
	h.mu.Lock()
	if h.wait != nil {
		h.wait.cancel()
	}
	h.wait = w
	h.mu.Unlock()
	defer func() {
		cancelWait()
		h.mu.Lock()
		if h.wait == w {
			h.wait = nil
		}
		h.mu.Unlock()
	}()

	f := c.flights.acquire(c.root, hash)
	ch := c.flights.group.DoChan(f.sfKey, func() (any, error) {
		return c.runShared(f, opts.Retry, opts.RetryDelay, meta, func(fctx context.Context) (any, error) {
			return h.fetcher(fctx, k)
		})
	})

	select {
	case res := <-ch:
		c.flights.release(f)
		return h.settleLocal(gen, res.Val, res.Err)
	case <-waitCtx.Done():
		c.flights.release(f)
		return zero, waitCtx.Err()
	}
}

// settleLocal folds a settled shared fetch into the local view and fires
// this handle's callbacks. Abandoned fetches and results for a key the
// handle has already left touch nothing.
func (h *Handle[T]) settleLocal(gen uint64, raw any, err error) (T, error) {
	var zero T

	if err != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		return zero, err
	}

	h.mu.Lock()
	superseded := h.closed || h.gen != gen
	h.mu.Unlock()
	if superseded {
		if err != nil {
			return zero, err
		}
		data, _ := raw.(T)
		return data, nil
	}

	h.applyFromStore(true)

	h.mu.Lock()
	data := h.data
	optOnSuccess := h.opts.OnSuccess
	optOnError := h.opts.OnError
	optOnSettled := h.opts.OnSettled
	successCbs := snapshotCallbacks(h.onSuccess)
	errorCbs := snapshotCallbacks(h.onError)
	settledCbs := snapshotCallbacks(h.onSettled)
	h.mu.Unlock()

	if err != nil {
		if optOnError != nil {
			optOnError(err)
		}
		for _, cb := range errorCbs {
			cb(err)
		}
		if optOnSettled != nil {
			optOnSettled(data, err)
		}
		for _, cb := range settledCbs {
			cb(data, err)
		}
		return zero, err
	}

	if optOnSuccess != nil {
		optOnSuccess(data)
	}
	for _, cb := range successCbs {
		cb(data)
	}
	if optOnSettled != nil {
		optOnSettled(data, nil)
	}
	for _, cb := range settledCbs {
		cb(data, nil)
	}
	return data, nil
}

// Data returns the selected data, falling back to the previous key's data
// under KeepPreviousData while the active key has none.
func (h *Handle[T]) Data() T {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.hasData && h.hasPrev {
		return h.prev
	}
	return h.data
}

// Err returns the last fetch error, or nil.
func (h *Handle[T]) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// Status returns the value lifecycle of the local view.
func (h *Handle[T]) Status() store.Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status
}

// FetchStatus returns the in-flight lifecycle of the local view.
func (h *Handle[T]) FetchStatus() store.FetchStatus {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.fetchStatus
}

// Key returns the key the handle is currently bound to.
func (h *Handle[T]) Key() key.Key {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.key
}

// Hash returns the canonical form of the active key.
func (h *Handle[T]) Hash() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.hash
}

// IsLoading reports a first fetch in flight: pending with no data yet.
func (h *Handle[T]) IsLoading() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status == store.StatusPending && h.fetchStatus == store.FetchFetching
}

// IsFetching reports any fetch in flight, including background refreshes.
func (h *Handle[T]) IsFetching() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.fetchStatus == store.FetchFetching
}

// IsError reports whether the last fetch failed.
func (h *Handle[T]) IsError() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status == store.StatusError
}

// IsSuccess reports whether the entry holds settled data.
func (h *Handle[T]) IsSuccess() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status == store.StatusSuccess
}

// IsStale reports whether the active entry's data would be refetched by
// the next fetch decision.
func (h *Handle[T]) IsStale() bool {
	h.mu.Lock()
	hash := h.hash
	staleTime := h.opts.StaleTime
	h.mu.Unlock()

	e, ok := h.client.store.Get(hash)
	return isStale(e, ok, staleTime)
}

// Refetch runs the fetch decision again. With force it skips the
// freshness gate; without, fresh data is returned as is. Refetch runs
// even on a disabled handle. The returned error is the fetch's own:
// retries exhausted wrapping the cause, or context cancellation.
func (h *Handle[T]) Refetch(ctx context.Context, force bool) (T, error) {
	return h.fetch(ctx, force, true, "refetch")
}

// Invalidate marks the entry stale and triggers exactly one forced fetch,
// returning its error. Other subscribed handles observe the new value
// through cache sync rather than fetching themselves.
func (h *Handle[T]) Invalidate(ctx context.Context) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return ErrClosed
	}
	hash := h.hash
	h.mu.Unlock()

	h.client.store.Invalidate(hash)
	_, err := h.fetch(ctx, true, true, "invalidate")
	return err
}

// SetData writes v directly to the entry, marking it success and fresh as
// of now. Subscribed handles of the same key observe it immediately.
func (h *Handle[T]) SetData(v T) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	hash := h.hash
	h.mu.Unlock()

	h.client.store.Update(hash, func(any) any { return v })
	h.applyFromStore(true)
}

// UpdateData transforms the entry's current data in one read-modify-write.
// fn receives the current raw value and whether one was present.
func (h *Handle[T]) UpdateData(fn func(prev T, ok bool) T) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	hash := h.hash
	h.mu.Unlock()

	h.client.store.Update(hash, func(old any) any {
		prev, ok := old.(T)
		return fn(prev, ok)
	})
	h.applyFromStore(true)
}

// SetKey moves the handle to a new key: the old entry loses a subscriber,
// the new one gains one, and a fetch for the new key runs unless
// DisableKeyChangeRefetch or Disabled gates it. A wait still pending on
// the old key is abandoned. No-op when the canonical form is unchanged.
func (h *Handle[T]) SetKey(ctx context.Context, k key.Key) error {
	c := h.client
	newHash := k.Canonical()

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return ErrClosed
	}
	if newHash == h.hash {
		h.mu.Unlock()
		return nil
	}
	oldHash := h.hash
	h.key = k
	h.hash = newHash
	h.gen++
	if h.wait != nil {
		h.wait.cancel()
		h.wait = nil
	}
	if h.opts.KeepPreviousData && h.hasData {
		h.prev = h.data
		h.hasPrev = true
	}
	ttl := h.opts.CacheTime
	skipRefetch := h.opts.DisableKeyChangeRefetch
	h.mu.Unlock()

	c.store.AdjustSubscribers(oldHash, -1, ttl)
	h.subscribeEntry()
	h.applyFromStore(true)

	if skipRefetch || c.isClosed() {
		return nil
	}
	_, err := h.fetch(ctx, true, false, "refetch")
	if err != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrClosed)) {
		return err
	}
	return nil
}

// Close releases the handle: the entry loses a subscriber, any pending
// wait is abandoned, and registered callbacks are dropped. Idempotent.
// Cached data stays in the store until its cache time expires.
func (h *Handle[T]) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	hash := h.hash
	ttl := h.opts.CacheTime
	if h.wait != nil {
		h.wait.cancel()
		h.wait = nil
	}
	unsub := h.unsubscribe
	h.unsubscribe = nil
	h.onChange = nil
	h.onSuccess = nil
	h.onError = nil
	h.onSettled = nil
	h.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	h.client.store.AdjustSubscribers(hash, -1, ttl)
}

// OnChange registers fn to run after any observable change to the local
// view. Returns an unsubscribe func. Registration on a closed handle is a
// no-op.
func (h *Handle[T]) OnChange(fn func()) func() {
	h.mu.Lock()
	if h.closed || fn == nil {
		h.mu.Unlock()
		return func() {}
	}
	id := h.nextID
	h.nextID++
	h.onChange[id] = fn
	h.mu.Unlock()
	return func() {
		h.mu.Lock()
		if h.onChange != nil {
			delete(h.onChange, id)
		}
		h.mu.Unlock()
	}
}

// OnSuccess registers fn to run with the selected data after every
// successful settle this handle participates in.
func (h *Handle[T]) OnSuccess(fn func(T)) func() {
	h.mu.Lock()
	if h.closed || fn == nil {
		h.mu.Unlock()
		return func() {}
	}
	id := h.nextID
	h.nextID++
	h.onSuccess[id] = fn
	h.mu.Unlock()
	return func() {
		h.mu.Lock()
		if h.onSuccess != nil {
			delete(h.onSuccess, id)
		}
		h.mu.Unlock()
	}
}

// OnError registers fn to run with the fetch error after every failed
// settle this handle participates in.
func (h *Handle[T]) OnError(fn func(error)) func() {
	h.mu.Lock()
	if h.closed || fn == nil {
		h.mu.Unlock()
		return func() {}
	}
	id := h.nextID
	h.nextID++
	h.onError[id] = fn
	h.mu.Unlock()
	return func() {
		h.mu.Lock()
		if h.onError != nil {
			delete(h.onError, id)
		}
		h.mu.Unlock()
	}
}

// OnSettled registers fn to run after every settle, success or failure.
func (h *Handle[T]) OnSettled(fn func(T, error)) func() {
	h.mu.Lock()
	if h.closed || fn == nil {
		h.mu.Unlock()
		return func() {}
	}
	id := h.nextID
	h.nextID++
	h.onSettled[id] = fn
	h.mu.Unlock()
	return func() {
		h.mu.Lock()
		if h.onSettled != nil {
			delete(h.onSettled, id)
		}
		h.mu.Unlock()
	}
}

// snapshotCallbacks copies registered callbacks so they can be invoked
// without holding the handle lock.
func snapshotCallbacks[F any](m map[int64]F) []F {
	if len(m) == 0 {
		return nil
	}
	out := make([]F, 0, len(m))
	for _, fn := range m {
		out = append(out, fn)
	}
	return out
}
