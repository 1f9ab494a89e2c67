// Package service runs the long lived parts of a payout node: the HTTP API
// and the coordinator that closes the poll queues.
package service

import (
	"context"
	"fmt"

	"github.com/vocdoni/maci-payout/log"
	"golang.org/x/sync/errgroup"
)

// Service is a component with a background lifecycle.
type Service interface {
	Start(ctx context.Context) error
	Stop()
}

// Run starts every service concurrently and blocks until ctx is done, then
// stops them in reverse order. If any service fails to start, the ones
// already started are stopped and the error is returned. Services receive
// ctx itself, which outlives the start phase.
func Run(ctx context.Context, services ...Service) error {
	var g errgroup.Group
	started := make([]bool, len(services))
	for i, s := range services {
		g.Go(func() error {
			if err := s.Start(ctx); err != nil {
				return fmt.Errorf("service %d: %w", i, err)
			}
			started[i] = true
			return nil
		})
	}
	stopAll := func() {
		for i := len(services) - 1; i >= 0; i-- {
			if started[i] {
				services[i].Stop()
			}
		}
	}
	if err := g.Wait(); err != nil {
		stopAll()
		return err
	}
	log.Infow("services started", "count", len(services))
	<-ctx.Done()
	stopAll()
	log.Infow("services stopped", "count", len(services))
	return nil
}
