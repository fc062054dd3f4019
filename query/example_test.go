package query_test

import (
	"context"
	"errors"
	"fmt"

	"github.com/Slincnik/querycache/key"
	"github.com/Slincnik/querycache/query"
)

func ExampleExecute() {
	c, _ := query.New(query.Config{})
	defer c.Close()

	h, err := query.Execute(context.Background(), c, key.Of("todos", 1),
		func(ctx context.Context, k key.Key) (string, error) {
			return "buy milk", nil
		}, query.Options[string]{})
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	defer h.Close()

	fmt.Println(h.Data())
	fmt.Println(h.Status())
	// Output:
	// buy milk
	// success
}

func ExampleExecute_sharedCache() {
	c, _ := query.New(query.Config{})
	defer c.Close()

	calls := 0
	fetch := func(ctx context.Context, k key.Key) (int, error) {
		calls++
		return calls, nil
	}
	opts := query.Options[int]{StaleTime: query.StaleTimeNever}

	h1, _ := query.Execute(context.Background(), c, key.Text("counter"), fetch, opts)
	defer h1.Close()
	h2, _ := query.Execute(context.Background(), c, key.Text("counter"), fetch, opts)
	defer h2.Close()

	fmt.Println("fetches:", calls)
	fmt.Println("h2 sees:", h2.Data())
	// Output:
	// fetches: 1
	// h2 sees: 1
}

func ExampleExecute_validation() {
	c, _ := query.New(query.Config{})
	defer c.Close()

	_, err := query.Execute[string](context.Background(), c, key.Text("k"), nil, query.Options[string]{})
	fmt.Println(errors.Is(err, query.ErrNilFetcher))
	// Output:
	// true
}

func ExampleHandle_Refetch() {
	c, _ := query.New(query.Config{})
	defer c.Close()

	calls := 0
	h, _ := query.Execute(context.Background(), c, key.Text("versioned"),
		func(ctx context.Context, k key.Key) (string, error) {
			calls++
			return fmt.Sprintf("version %d", calls), nil
		}, query.Options[string]{StaleTime: query.StaleTimeNever})
	defer h.Close()

	// Fresh data short-circuits; force runs the fetcher again.
	data, _ := h.Refetch(context.Background(), false)
	fmt.Println(data)
	data, _ = h.Refetch(context.Background(), true)
	fmt.Println(data)
	// Output:
	// version 1
	// version 2
}

func ExampleHandle_SetData() {
	c, _ := query.New(query.Config{})
	defer c.Close()

	h, _ := query.Execute(context.Background(), c, key.Text("editable"),
		func(ctx context.Context, k key.Key) (string, error) {
			return "from server", nil
		}, query.Options[string]{StaleTime: query.StaleTimeNever})
	defer h.Close()

	h.SetData("edited locally")
	fmt.Println(h.Data())
	// Output:
	// edited locally
}

func ExampleHandle_UpdateData() {
	c, _ := query.New(query.Config{})
	defer c.Close()

	h, _ := query.Execute(context.Background(), c, key.Text("list"),
		func(ctx context.Context, k key.Key) ([]string, error) {
			return []string{"a"}, nil
		}, query.Options[[]string]{StaleTime: query.StaleTimeNever})
	defer h.Close()

	h.UpdateData(func(prev []string, ok bool) []string {
		return append(prev, "b")
	})
	fmt.Println(h.Data())
	// Output:
	// [a b]
}

func ExampleClient_InvalidateGroup() {
	c, _ := query.New(query.Config{DefaultStaleTime: query.StaleTimeNever})
	defer c.Close()

	fetch := func(ctx context.Context, k key.Key) (string, error) {
		return k.Canonical(), nil
	}
	for _, k := range []key.Key{key.Of("todos", 1), key.Of("todos", 2), key.Of("users", 9)} {
		h, _ := query.Execute(context.Background(), c, k, fetch, query.Options[string]{})
		defer h.Close()
	}

	n := c.InvalidateGroup(context.Background(), key.Text("todos"))
	fmt.Println(n, "entries invalidated")
	// Output:
	// 2 entries invalidated
}

func ExampleOptions() {
	c, _ := query.New(query.Config{})
	defer c.Close()

	h, _ := query.Execute(context.Background(), c, key.Text("numbers"),
		func(ctx context.Context, k key.Key) ([]int, error) {
			return []int{5, 1, 8, 3}, nil
		}, query.Options[[]int]{
			StaleTime: query.StaleTimeNever,
			Select: func(v []int) []int {
				var big []int
				for _, n := range v {
					if n >= 5 {
						big = append(big, n)
					}
				}
				return big
			},
		})
	defer h.Close()

	fmt.Println(h.Data())
	// Output:
	// [5 8]
}
