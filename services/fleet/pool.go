package fleet

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// DefaultWorkers bounds in-flight hosts. Each worker may hold a ping
// subprocess and an SSH connection at once.
const DefaultWorkers = 12

// fanOut runs fn for every host on at most workers goroutines. Workers pull
// host indices from a channel and write into their own slot of a pre-sized
// slice, so results come back in input order whatever the completion order.
// Every slot is filled even when ctx is cancelled, since fn is expected to
// turn cancellation into a per-host outcome; the returned error then reports
// that the run was cut short.
func fanOut[T any](ctx context.Context, workers int, hosts []HostRecord, fn func(context.Context, HostRecord) T) ([]T, error) {
	results := make([]T, len(hosts))
	if len(hosts) == 0 {
		return results, nil
	}
	if workers <= 0 {
		workers = DefaultWorkers
	}
	workers = min(workers, len(hosts))

	jobs := make(chan int)
	var g errgroup.Group
	for range workers {
		g.Go(func() error {
			for i := range jobs {
				results[i] = fn(ctx, hosts[i])
			}
			return ctx.Err()
		})
	}

	for i := range hosts {
		jobs <- i
	}
	close(jobs)

	return results, g.Wait()
}
