package query

import (
	"context"
	"strconv"
	"sync"

	"golang.org/x/sync/singleflight"
)

// flight is one shared fetch for a canonical key. Its context is
// reference counted: every consumer waiting on the flight holds a
// reference, and the last release cancels the context, which aborts the
// fetch once nobody is left to receive it.
type flight struct {
	hash   string
	sfKey  string
	ctx    context.Context
	cancel context.CancelFunc
	refs   int
}

// flights is the in-flight fetch registry. Consumers acquire the current
// flight for a canonical key, creating one when absent, and run the
// shared fetch through the singleflight group under the flight's
// generation key. Because each flight carries a fresh generation, a
// consumer arriving after settlement or abandonment starts a new call
// instead of joining a dying one.
type flights struct {
	mu     sync.Mutex
	group  singleflight.Group
	active map[string]*flight
	gen    uint64
}

func newFlights() *flights {
	return &flights{active: make(map[string]*flight)}
}

// acquire returns the current flight for hash, creating one parented to
// root when absent, and takes a reference on it.
func (fs *flights) acquire(root context.Context, hash string) *flight {
	fs.mu.Lock()
	f, ok := fs.active[hash]
	if !ok {
		ctx, cancel := context.WithCancel(root)
		fs.gen++
		f = &flight{
			hash:   hash,
			sfKey:  hash + "#" + strconv.FormatUint(fs.gen, 10),
			ctx:    ctx,
			cancel: cancel,
		}
		fs.active[hash] = f
	}
	f.refs++
	fs.mu.Unlock()
	return f
}

// release drops one reference. The last release cancels the flight
// context and unregisters the flight if it is still the current one.
func (fs *flights) release(f *flight) {
	fs.mu.Lock()
	f.refs--
	last := f.refs <= 0
	if last && fs.active[f.hash] == f {
		delete(fs.active, f.hash)
	}
	fs.mu.Unlock()
	if last {
		f.cancel()
	}
}

// settle unregisters f so later consumers start a new flight.
// Outstanding references stay valid and keep the context alive until the
// waiters have taken their result.
func (fs *flights) settle(f *flight) {
	fs.mu.Lock()
	if fs.active[f.hash] == f {
		delete(fs.active, f.hash)
	}
	fs.mu.Unlock()
}

// current returns the registered flight for hash, or nil.
func (fs *flights) current(hash string) *flight {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.active[hash]
}
