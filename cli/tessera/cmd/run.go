package cmd

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/tesserasim/tessera-core/examples/life"
	"github.com/tesserasim/tessera-core/grid"
	"github.com/tesserasim/tessera-core/internal/testutils/cluster"
	"github.com/tesserasim/tessera-core/network"
	"github.com/tesserasim/tessera-core/observability"
	"github.com/tesserasim/tessera-core/partition"
	"github.com/tesserasim/tessera-core/tile"
)

type runFlags struct {
	*baseFlags
	NX      uint64
	NY      uint64
	Workers int
	Steps   int
	Patch   int
	Seed    int64
}

func runCmd(base *baseFlags) *cobra.Command {
	flags := &runFlags{baseFlags: base}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the game-of-life demo over in-process workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSimulation(cmd.Context(), flags)
		},
	}
	cmd.Flags().Uint64Var(&flags.NX, "nx", 8, "tiles along the first dimension")
	cmd.Flags().Uint64Var(&flags.NY, "ny", 8, "tiles along the second dimension")
	cmd.Flags().IntVar(&flags.Workers, "workers", 4, "number of workers")
	cmd.Flags().IntVar(&flags.Steps, "steps", 10, "simulation steps")
	cmd.Flags().IntVar(&flags.Patch, "patch", 16, "cells per patch side")
	cmd.Flags().Int64Var(&flags.Seed, "seed", 1, "initial-state seed")
	return cmd
}

func runSimulation(ctx context.Context, flags *runFlags) error {
	log, err := flags.logger()
	if err != nil {
		return err
	}
	observe, err := observability.New(log)
	if err != nil {
		return fmt.Errorf("creating observability stack: %w", err)
	}
	defer observe.Shutdown() //nolint:errcheck

	if flags.MetricsAddr != "" {
		gatherer, ok := observe.(interface{ PrometheusGatherer() prometheus.Gatherer })
		if !ok {
			return fmt.Errorf("observability stack does not expose a prometheus gatherer")
		}
		srv := &http.Server{
			Addr:              flags.MetricsAddr,
			Handler:           promhttp.HandlerFor(gatherer.PrometheusGatherer(), promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go srv.ListenAndServe() //nolint:errcheck
		defer srv.Close()       //nolint:errcheck
		log.Info(fmt.Sprintf("serving metrics on %s", flags.MetricsAddr))
	}

	start := time.Now()
	err = cluster.Run(ctx, flags.Workers, func(ctx context.Context, tr *network.Local) error {
		return runWorker(ctx, flags, observe, tr)
	})
	if err != nil {
		return fmt.Errorf("simulation failed: %w", err)
	}
	log.Info(fmt.Sprintf("simulated %d steps over %dx%d tiles in %s", flags.Steps, flags.NX, flags.NY, time.Since(start)))
	return nil
}

// stripOwner is the deterministic initial distribution: contiguous strips
// along the second dimension, identical on every worker.
func stripOwner(j, ny uint64, workers int) int32 {
	return int32(j * uint64(workers) / ny) /* #nosec G115 worker counts are small */
}

func runWorker(ctx context.Context, flags *runFlags, observe observability.Observability, tr *network.Local) error {
	space, err := grid.NewSpace(flags.NX, flags.NY)
	if err != nil {
		return err
	}
	conf, err := partition.NewNodeConf(space, tr, observe,
		partition.WithTileFactory(life.TileFactory(flags.Patch, flags.Patch)))
	if err != nil {
		return err
	}
	node, err := partition.NewNode(conf)
	if err != nil {
		return err
	}
	if err := node.SetBounds([]float64{0, 0}, []float64{1, 1}); err != nil {
		return err
	}

	// every worker derives the same distribution and registers its share
	for j := uint64(0); j < flags.NY; j++ {
		owner := stripOwner(j, flags.NY, flags.Workers)
		for i := uint64(0); i < flags.NX; i++ {
			idx := []uint64{i, j}
			if err := node.OwnershipGrid().Set(idx, owner); err != nil {
				return err
			}
			if int(owner) != node.Rank() {
				continue
			}
			patch, err := life.NewPatch(flags.Patch, flags.Patch)
			if err != nil {
				return err
			}
			cid, err := space.ID(idx)
			if err != nil {
				return err
			}
			seedPatch(patch, flags.Seed, cid)
			if err := node.AddTile(tile.New(patch), idx); err != nil {
				return err
			}
		}
	}

	if err := node.BcastOwnership(ctx); err != nil {
		return err
	}
	if err := node.AnalyzeBoundaries(); err != nil {
		return err
	}
	if err := node.SendTiles(ctx); err != nil {
		return err
	}
	if err := node.RecvTiles(ctx); err != nil {
		return err
	}
	node.ClearSendQueue()

	tag := network.MinUserTag
	for s := 0; s < flags.Steps; s++ {
		if err := node.RecvPayload(ctx, tag); err != nil {
			return err
		}
		if err := node.SendPayload(ctx, tag); err != nil {
			return err
		}
		if err := node.WaitPayload(ctx, tag); err != nil {
			return err
		}
		if err := node.WaitSentPayload(ctx, tag); err != nil {
			return err
		}
		for _, cid := range node.LocalIDs(true) {
			t := node.TilePtr(cid)
			if err := life.UpdateHalo(node, t); err != nil {
				return err
			}
			p := t.Payload.(*life.Patch)
			life.Step(p.Data.Current(), p.Data.Scratch())
		}
		for _, cid := range node.LocalIDs(false) {
			node.TilePtr(cid).Payload.(*life.Patch).Data.Cycle()
		}
	}

	alive := 0
	for _, cid := range node.LocalIDs(false) {
		m := node.TilePtr(cid).Payload.(*life.Patch).Data.Current()
		for j := 0; j < m.NY; j++ {
			for i := 0; i < m.NX; i++ {
				if m.Get(i, j) != 0 {
					alive++
				}
			}
		}
	}
	observe.Logger().Info(fmt.Sprintf("worker %d finished with %d live cells", node.Rank(), alive))
	return nil
}

// seedPatch fills a patch deterministically from the run seed and tile id.
func seedPatch(p *life.Patch, seed int64, cid uint64) {
	rng := rand.New(rand.NewSource(seed + int64(cid))) /* #nosec G404 demo state only */
	m := p.Data.Current()
	for j := 0; j < m.NY; j++ {
		for i := 0; i < m.NX; i++ {
			if rng.Intn(5) == 0 {
				m.Set(i, j, 1)
			}
		}
	}
}
