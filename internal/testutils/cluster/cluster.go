// Package cluster runs a fixed group of in-process workers over a shared
// local transport, one goroutine per rank.
package cluster

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/tesserasim/tessera-core/network"
)

// Run executes fn once per rank and waits for every worker to finish.
// The first error cancels the group context.
func Run(ctx context.Context, size int, fn func(ctx context.Context, tr *network.Local) error) error {
	group, err := network.NewGroup(size)
	if err != nil {
		return err
	}
	g, ctx := errgroup.WithContext(ctx)
	for rank := 0; rank < size; rank++ {
		tr, err := group.Transport(rank)
		if err != nil {
			return err
		}
		g.Go(func() error {
			if err := fn(ctx, tr); err != nil {
				return fmt.Errorf("worker %d: %w", tr.Rank(), err)
			}
			return nil
		})
	}
	return g.Wait()
}
