package mutation

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Slincnik/querycache/observe"
	"github.com/Slincnik/querycache/query"
)

var (
	// ErrNilClient is returned by Mutate when the mutation was built
	// without a client.
	ErrNilClient = errors.New("mutation: nil client")

	// ErrNilFunc is returned by Mutate when the mutation was built
	// without a function.
	ErrNilFunc = errors.New("mutation: nil function")
)

// Status is the mutation lifecycle.
type Status int

const (
	// StatusIdle means Mutate has not run since creation or Reset.
	StatusIdle Status = iota
	// StatusPending means a Mutate call is in flight.
	StatusPending
	// StatusSuccess means the last Mutate call succeeded.
	StatusSuccess
	// StatusError means the last Mutate call failed.
	StatusError
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusPending:
		return "pending"
	case StatusSuccess:
		return "success"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// Func performs the mutation with the given variables.
type Func[T, V any] func(ctx context.Context, vars V) (T, error)

// Options tune a Mutation. All fields are optional.
type Options[T, V any] struct {
	// Name labels the mutation in spans, metrics, and logs. Unnamed
	// mutations share one label.
	Name string

	// Retry is the number of additional attempts after a failure.
	// Default: none.
	Retry int

	// RetryDelay is the pause between attempts. Zero means one second.
	RetryDelay time.Duration

	// OnSuccess, OnError, and OnSettled fire per Mutate call with that
	// call's own result and variables.
	OnSuccess func(T, V)
	OnError   func(error, V)
	OnSettled func(T, error, V)
}

// Mutation is an observable one-shot operation: Idle until Mutate runs,
// Pending while it runs, then Success or Error until Reset.
//
// Contract:
//   - Safe for concurrent use. Concurrent Mutate calls each settle with
//     their own result; the observable state keeps the latest call's.
//   - Validation is lazy: New never fails, the first Mutate reports a
//     nil client or function.
type Mutation[T, V any] struct {
	client *query.Client
	fn     Func[T, V]
	opts   Options[T, V]

	mu      sync.Mutex
	status  Status
	data    T
	err     error
	vars    V
	hasVars bool
	gen     uint64

	nextID    int64
	onChange  map[int64]func()
	onSuccess map[int64]func(T, V)
	onError   map[int64]func(error, V)
	onSettled map[int64]func(T, error, V)
}

// New creates a Mutation running fn through client's telemetry and
// global callbacks.
func New[T, V any](client *query.Client, fn Func[T, V], opts Options[T, V]) *Mutation[T, V] {
	return &Mutation[T, V]{
		client:    client,
		fn:        fn,
		opts:      opts,
		onChange:  make(map[int64]func()),
		onSuccess: make(map[int64]func(T, V)),
		onError:   make(map[int64]func(error, V)),
		onSettled: make(map[int64]func(T, error, V)),
	}
}

// Mutate runs the mutation with vars, retrying per Options, and returns
// its result. The observable state moves to Pending for the duration and
// settles to Success or Error; when a newer Mutate started meanwhile, the
// newer call owns the observable state and this one only fires its own
// callbacks.
func (m *Mutation[T, V]) Mutate(ctx context.Context, vars V) (T, error) {
	var zero T
	if m.client == nil {
		return zero, ErrNilClient
	}
	if m.fn == nil {
		return zero, ErrNilFunc
	}

	m.mu.Lock()
	m.gen++
	gen := m.gen
	m.status = StatusPending
	m.vars = vars
	m.hasVars = true
	m.mu.Unlock()
	m.notifyChange()

	maxAttempts := 1
	if m.opts.Retry > 0 {
		maxAttempts += m.opts.Retry
	}
	delay := m.opts.RetryDelay
	if delay == 0 {
		delay = query.DefaultRetryDelay
	}

	meta := observe.QueryMeta{Hash: m.metaHash(), Source: "mutate"}
	wrapped := m.client.Instrument().Wrap(func(ctx context.Context, _ observe.QueryMeta) (any, error) {
		return runWithRetry(ctx, maxAttempts, delay, func(actx context.Context) (T, error) {
			return m.fn(actx, vars)
		})
	})

	raw, err := wrapped(ctx, meta)
	data, _ := raw.(T)

	m.mu.Lock()
	latest := m.gen == gen
	if latest {
		if err != nil {
			m.status = StatusError
			m.err = err
			m.data = zero
		} else {
			m.status = StatusSuccess
			m.data = data
			m.err = nil
		}
	}
	successCbs := snapshotCallbacks(m.onSuccess)
	errorCbs := snapshotCallbacks(m.onError)
	settledCbs := snapshotCallbacks(m.onSettled)
	m.mu.Unlock()
	if latest {
		m.notifyChange()
	}

	global := m.client.Config().Mutations
	if err != nil {
		if cb := m.opts.OnError; cb != nil {
			cb(err, vars)
		}
		for _, cb := range errorCbs {
			cb(err, vars)
		}
		if cb := m.opts.OnSettled; cb != nil {
			cb(zero, err, vars)
		}
		for _, cb := range settledCbs {
			cb(zero, err, vars)
		}
		if global.OnError != nil {
			global.OnError(err, vars)
		}
		if global.OnSettled != nil {
			global.OnSettled(nil, err, vars)
		}
		return zero, err
	}

	if cb := m.opts.OnSuccess; cb != nil {
		cb(data, vars)
	}
	for _, cb := range successCbs {
		cb(data, vars)
	}
	if cb := m.opts.OnSettled; cb != nil {
		cb(data, nil, vars)
	}
	for _, cb := range settledCbs {
		cb(data, nil, vars)
	}
	if global.OnSuccess != nil {
		global.OnSuccess(data, vars)
	}
	if global.OnSettled != nil {
		global.OnSettled(data, nil, vars)
	}
	return data, nil
}

// Reset returns the mutation to Idle, clearing data, error, and
// variables. A Mutate call still in flight settles without touching the
// observable state.
func (m *Mutation[T, V]) Reset() {
	m.mu.Lock()
	m.gen++
	m.status = StatusIdle
	var zeroT T
	var zeroV V
	m.data = zeroT
	m.err = nil
	m.vars = zeroV
	m.hasVars = false
	m.mu.Unlock()
	m.notifyChange()
}

// Data returns the last successful result.
func (m *Mutation[T, V]) Data() T {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data
}

// Err returns the last failure, or nil.
func (m *Mutation[T, V]) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}

// Status returns the current lifecycle state.
func (m *Mutation[T, V]) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Variables returns the variables of the latest Mutate call and whether
// one has run since creation or Reset.
func (m *Mutation[T, V]) Variables() (V, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.vars, m.hasVars
}

// IsIdle reports whether no Mutate call has run since creation or Reset.
func (m *Mutation[T, V]) IsIdle() bool {
	return m.Status() == StatusIdle
}

// IsPending reports whether a Mutate call is in flight.
func (m *Mutation[T, V]) IsPending() bool {
	return m.Status() == StatusPending
}

// IsSuccess reports whether the last Mutate call succeeded.
func (m *Mutation[T, V]) IsSuccess() bool {
	return m.Status() == StatusSuccess
}

// IsError reports whether the last Mutate call failed.
func (m *Mutation[T, V]) IsError() bool {
	return m.Status() == StatusError
}

// OnChange registers fn to run after every observable state change.
// Returns an unsubscribe func.
func (m *Mutation[T, V]) OnChange(fn func()) func() {
	if fn == nil {
		return func() {}
	}
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.onChange[id] = fn
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		delete(m.onChange, id)
		m.mu.Unlock()
	}
}

// OnSuccess registers fn to run with each successful call's result and
// variables.
func (m *Mutation[T, V]) OnSuccess(fn func(T, V)) func() {
	if fn == nil {
		return func() {}
	}
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.onSuccess[id] = fn
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		delete(m.onSuccess, id)
		m.mu.Unlock()
	}
}

// OnError registers fn to run with each failed call's error and
// variables.
func (m *Mutation[T, V]) OnError(fn func(error, V)) func() {
	if fn == nil {
		return func() {}
	}
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.onError[id] = fn
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		delete(m.onError, id)
		m.mu.Unlock()
	}
}

// OnSettled registers fn to run after every call, success or failure.
func (m *Mutation[T, V]) OnSettled(fn func(T, error, V)) func() {
	if fn == nil {
		return func() {}
	}
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.onSettled[id] = fn
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		delete(m.onSettled, id)
		m.mu.Unlock()
	}
}

// metaHash groups all mutations under one telemetry root, with the name
// as the only variable part. Metric labels stay bounded this way.
func (m *Mutation[T, V]) metaHash() string {
	if m.opts.Name == "" {
		return "mutation"
	}
	return "mutation," + m.opts.Name
}

func (m *Mutation[T, V]) notifyChange() {
	m.mu.Lock()
	listeners := snapshotCallbacks(m.onChange)
	m.mu.Unlock()
	for _, fn := range listeners {
		fn()
	}
}

// runWithRetry invokes op until it succeeds or maxAttempts are spent,
// pausing delay between attempts. Context cancellation aborts
// immediately.
func runWithRetry[T any](ctx context.Context, maxAttempts int, delay time.Duration, op func(context.Context) (T, error)) (any, error) {
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		data, err := op(ctx)
		if err == nil {
			return data, nil
		}
		lastErr = err

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		if attempt == maxAttempts {
			break
		}
		if delay > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}
	}
	return nil, lastErr
}

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
