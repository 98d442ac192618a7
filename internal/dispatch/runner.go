package dispatch

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/saashqdev/delightful-im/internal/priority"
)

// Run consumes the lane for p with the given number of workers until ctx
// is done or the queue closes.
func (e *Engine) Run(ctx context.Context, p priority.Priority, workers int) error {
	if workers <= 0 {
		workers = 1
	}
	deliveries, err := e.queue.Consume(ctx, p.Topic())
	if err != nil {
		return err
	}
	e.log.Info("dispatch consumer started", "priority", p.String(), "workers", workers)

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case d, ok := <-deliveries:
					if !ok {
						return nil
					}
					e.Handle(ctx, d)
				}
			}
		})
	}
	return g.Wait()
}

// RunAll starts every lane with its worker count. Lanes missing from
// workers get one worker.
func (e *Engine) RunAll(ctx context.Context, workers map[priority.Priority]int) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, p := range priority.All {
		p, n := p, workers[p]
		g.Go(func() error {
			return e.Run(ctx, p, n)
		})
	}
	return g.Wait()
}
