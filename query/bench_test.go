package query

import (
	"context"
	"fmt"
	"testing"

	"github.com/Slincnik/querycache/key"
)

// BenchmarkExecute_FreshHit measures subscribing to an already fresh
// entry: ensure, adjust, derive, no fetch.
func BenchmarkExecute_FreshHit(b *testing.B) {
	c, err := New(Config{})
	if err != nil {
		b.Fatal(err)
	}
	defer c.Close()

	fetch := func(ctx context.Context, k key.Key) (string, error) { return "warm", nil }
	opts := Options[string]{StaleTime: StaleTimeNever}
	seed, err := Execute(context.Background(), c, key.Text("bench"), fetch, opts)
	if err != nil {
		b.Fatal(err)
	}
	defer seed.Close()

	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		h, err := Execute(ctx, c, key.Text("bench"), fetch, opts)
		if err != nil {
			b.Fatal(err)
		}
		h.Close()
	}
}

// BenchmarkExecute_AlwaysFetch measures the full fetch path with an
// instant fetcher: flight, singleflight call, store write, settle.
func BenchmarkExecute_AlwaysFetch(b *testing.B) {
	c, err := New(Config{})
	if err != nil {
		b.Fatal(err)
	}
	defer c.Close()

	fetch := func(ctx context.Context, k key.Key) (int, error) { return 1, nil }
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		h, err := Execute(ctx, c, key.Text("bench"), fetch, Options[int]{Retry: RetryNone})
		if err != nil {
			b.Fatal(err)
		}
		h.Close()
	}
}

// BenchmarkHandle_RefetchFresh measures the freshness short-circuit on a
// live handle.
func BenchmarkHandle_RefetchFresh(b *testing.B) {
	c, err := New(Config{})
	if err != nil {
		b.Fatal(err)
	}
	defer c.Close()

	h, err := Execute(context.Background(), c, key.Text("bench"),
		func(ctx context.Context, k key.Key) (string, error) { return "v", nil },
		Options[string]{StaleTime: StaleTimeNever})
	if err != nil {
		b.Fatal(err)
	}
	defer h.Close()

	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := h.Refetch(ctx, false); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkHandle_Data measures the accessor under no contention.
func BenchmarkHandle_Data(b *testing.B) {
	c, err := New(Config{})
	if err != nil {
		b.Fatal(err)
	}
	defer c.Close()

	h, err := Execute(context.Background(), c, key.Text("bench"),
		func(ctx context.Context, k key.Key) (string, error) { return "v", nil },
		Options[string]{StaleTime: StaleTimeNever})
	if err != nil {
		b.Fatal(err)
	}
	defer h.Close()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = h.Data()
	}
}

// BenchmarkHandle_SetData measures a direct write fanning out to ten
// subscribed handles.
func BenchmarkHandle_SetData(b *testing.B) {
	c, err := New(Config{})
	if err != nil {
		b.Fatal(err)
	}
	defer c.Close()

	fetch := func(ctx context.Context, k key.Key) (int, error) { return 0, nil }
	opts := Options[int]{StaleTime: StaleTimeNever}

	var writer *Handle[int]
	for i := 0; i < 10; i++ {
		h, err := Execute(context.Background(), c, key.Text("fanout"), fetch, opts)
		if err != nil {
			b.Fatal(err)
		}
		defer h.Close()
		writer = h
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		writer.SetData(i)
	}
}

// BenchmarkConcurrent_Execute measures parallel executions over a hundred
// distinct keys.
func BenchmarkConcurrent_Execute(b *testing.B) {
	c, err := New(Config{})
	if err != nil {
		b.Fatal(err)
	}
	defer c.Close()

	fetch := func(ctx context.Context, k key.Key) (string, error) { return "v", nil }
	opts := Options[string]{StaleTime: StaleTimeNever}
	ctx := context.Background()

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			k := key.Text(fmt.Sprintf("bench-%d", i%100))
			h, err := Execute(ctx, c, k, fetch, opts)
			if err != nil {
				b.Fatal(err)
			}
			h.Close()
			i++
		}
	})
}

// BenchmarkKeyedOptionsResolution measures per-call option defaulting.
func BenchmarkKeyedOptionsResolution(b *testing.B) {
	cfg := Config{DefaultRetry: 5}
	opts := Options[string]{StaleTime: StaleTimeNever}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = resolveOptions(cfg, opts)
	}
}
