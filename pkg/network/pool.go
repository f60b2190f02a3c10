package network

import (
	"context"
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/fortiblox/intcode/pkg/intcode"
)

// Result is the final state of one machine run by RunAll.
type Result struct {
	Status  intcode.Status
	Outputs []int64
}

// RunAll runs independent machines on up to workers goroutines, each machine
// owned by exactly one worker. Results are returned in the order of
// machines once all have finished. The first fault cancels the remaining
// work and is returned. workers <= 0 uses GOMAXPROCS.
func RunAll(ctx context.Context, machines []*intcode.Machine, workers int) ([]Result, error) {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	results := make([]Result, len(machines))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for i, m := range machines {
		i, m := i, m
		g.Go(func() error {
			status, err := run(ctx, m, DefaultSlice)
			if err != nil {
				return fmt.Errorf("machine %d: %w", i, err)
			}
			results[i] = Result{Status: status, Outputs: m.DrainOutputs()}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
