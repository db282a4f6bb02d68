package analytics

import (
	"context"

	"golang.org/x/sync/errgroup"

	"security-intel/internal/model"
)

// grouping describes the first stage of a ranked aggregation. Accumulators
// are pointers so add and merge can update them in place.
type grouping[A any] struct {
	key   func(*model.SecurityEvent) (string, bool) // ok=false drops the event
	init  func() A
	add   func(A, *model.SecurityEvent)
	merge func(dst, src A)
}

// scanChunks splits events into contiguous chunks, folds every chunk into
// its own accumulator on a separate goroutine and returns the accumulators.
func scanChunks[A any](ctx context.Context, workers int, events []*model.SecurityEvent,
	init func() A, visit func(A, *model.SecurityEvent)) ([]A, error) {

	n := workers
	if len(events) < minParallelEvents || n < 1 {
		n = 1
	}
	chunk := (len(events) + n - 1) / n
	accs := make([]A, n)

	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < n; w++ {
		lo := w * chunk
		hi := min(lo+chunk, len(events))
		acc := init()
		accs[w] = acc
		if lo >= hi {
			continue
		}
		part := events[lo:hi]
		g.Go(func() error {
			for i, ev := range part {
				if i%checkInterval == 0 {
					if err := gctx.Err(); err != nil {
						return err
					}
				}
				visit(acc, ev)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return accs, ctx.Err()
}

// groupEvents runs the grouping stage: every worker hashes keys into the
// engine's partitions, then partitions are merged independently.
func groupEvents[A any](ctx context.Context, e *Engine, events []*model.SecurityEvent, by grouping[A]) (map[string]A, error) {
	parts := e.buckets.Partitions()

	local, err := scanChunks(ctx, e.workers, events,
		func() []map[string]A {
			m := make([]map[string]A, parts)
			for p := range m {
				m[p] = make(map[string]A)
			}
			return m
		},
		func(acc []map[string]A, ev *model.SecurityEvent) {
			key, ok := by.key(ev)
			if !ok {
				return
			}
			m := acc[e.buckets.Partition(key)]
			a, found := m[key]
			if !found {
				a = by.init()
				m[key] = a
			}
			by.add(a, ev)
		})
	if err != nil {
		return nil, err
	}

	if len(local) == 1 {
		out := make(map[string]A)
		for _, m := range local[0] {
			for k, a := range m {
				out[k] = a
			}
		}
		return out, nil
	}

	merged := make([]map[string]A, parts)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for p := 0; p < parts; p++ {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			dst := local[0][p]
			for _, acc := range local[1:] {
				for k, a := range acc[p] {
					if cur, ok := dst[k]; ok {
						by.merge(cur, a)
					} else {
						dst[k] = a
					}
				}
			}
			merged[p] = dst
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	size := 0
	for _, m := range merged {
		size += len(m)
	}
	out := make(map[string]A, size)
	for _, m := range merged {
		for k, a := range m {
			out[k] = a
		}
	}
	return out, nil
}

// stringSet is the distinct-value accumulator shared by the operations.
type stringSet map[string]struct{}

func (s stringSet) add(v string) {
	if v != "" {
		s[v] = struct{}{}
	}
}

func (s stringSet) union(o stringSet) {
	for v := range o {
		s[v] = struct{}{}
	}
}
