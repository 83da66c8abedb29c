package agent

import (
	"context"
	"fmt"

	"github.com/leadscout/leadscout/internal/config"
	"github.com/leadscout/leadscout/internal/health"
	"github.com/leadscout/leadscout/internal/logger"
)

// Fleet runs one independent runner per roster account. Runners share no
// per-account state; coordination happens only through the database and
// Redis.
type Fleet struct {
	runners   []*Runner
	reporters []*health.Reporter
	logger    logger.Logger
}

// NewFleet builds a runner and a health reporter for every account in the
// roster.
func NewFleet(cfg *config.Config, deps RunnerDeps, sink health.Sink) *Fleet {
	fleet := &Fleet{logger: deps.Logger}

	for _, account := range cfg.Accounts {
		runner := NewRunner(account.ID, cfg.Schedule, deps)
		reporter := health.NewReporter(runner, sink, cfg.Health.ReportInterval, deps.Logger)
		runner.SetReporter(reporter)
		fleet.runners = append(fleet.runners, runner)
		fleet.reporters = append(fleet.reporters, reporter)
	}

	return fleet
}

// Size returns the number of managed runners.
func (f *Fleet) Size() int {
	return len(f.runners)
}

// Start brings every runner online and starts its reporter. A single
// account failing to register stops the whole start; a half-started fleet
// is torn down.
func (f *Fleet) Start(ctx context.Context) error {
	for i, runner := range f.runners {
		if err := runner.Start(ctx); err != nil {
			for j := 0; j < i; j++ {
				f.reporters[j].Stop()
				f.runners[j].Stop()
			}
			return fmt.Errorf("start runner: %w", err)
		}
		f.reporters[i].Start(ctx)
	}

	f.logger.Info("fleet started", logger.Int("agents", len(f.runners)))
	return nil
}

// Stop gracefully stops all reporters and runners.
func (f *Fleet) Stop() {
	for i := range f.runners {
		f.reporters[i].Stop()
		f.runners[i].Stop()
	}
	f.logger.Info("fleet stopped")
}
