package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/botyard/botyard/internal/config"
	"github.com/rs/zerolog/log"
)

// TickFunc is one periodic unit of work.
type TickFunc func(ctx context.Context) error

// loop is one named periodic process.
type loop struct {
	name     string
	interval time.Duration
	tick     TickFunc
}

// Coordinator owns the three periodic processes. Each runs on its own
// interval in its own goroutine: a slow or failing tick of one never
// blocks the others, and every tick runs behind an error boundary that
// logs and continues.
type Coordinator struct {
	loops  []loop
	runner *Runner

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewCoordinator wires the periodic processes on their configured intervals.
func NewCoordinator(cfg config.OrchestratorConfig, a *Assigner, p *Pacer, r *Runner) *Coordinator {
	return &Coordinator{
		loops: []loop{
			{name: "assigner", interval: cfg.AssignInterval, tick: a.Tick},
			{name: "pacer", interval: cfg.InviteInterval, tick: p.Tick},
			{name: "runner", interval: cfg.SweepInterval, tick: r.Sweep},
		},
		runner: r,
	}
}

// Start launches all loops and returns immediately.
func (c *Coordinator) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)

	for _, l := range c.loops {
		c.wg.Add(1)
		go c.runLoop(ctx, l)
	}
	log.Info().Int("loops", len(c.loops)).Msg("Orchestrator started")
}

// Stop cancels all loops and waits for them, then for in-flight script
// runs, to finish.
func (c *Coordinator) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
	if c.runner != nil {
		c.runner.Wait()
	}
	log.Info().Msg("Orchestrator stopped")
}

func (c *Coordinator) runLoop(ctx context.Context, l loop) {
	defer c.wg.Done()

	log.Info().Str("loop", l.name).Dur("interval", l.interval).Msg("Loop started")

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	// Run once immediately on startup.
	safeTick(ctx, l.name, l.tick)

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("loop", l.name).Msg("Loop stopped")
			return
		case <-ticker.C:
			safeTick(ctx, l.name, l.tick)
		}
	}
}

// safeTick is the per-tick error boundary: a panicking or failing tick is
// logged and swallowed so the loop always reaches its next tick.
func safeTick(ctx context.Context, name string, tick TickFunc) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Error().Str("loop", name).Interface("panic", rec).Msg("Tick panicked")
		}
	}()

	if err := tick(ctx); err != nil {
		log.Warn().Err(err).Str("loop", name).Msg("Tick failed")
	}
}
