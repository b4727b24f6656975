/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package monitor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	log "github.com/sirupsen/logrus"

	"github.com/globalprobe/ntpmon/ntp/probe"
)

// Rounder probes a list of targets once
type Rounder interface {
	Run(ctx context.Context, targets []probe.Target) probe.Results
}

// RunnerConfig wires Runner dependencies
type RunnerConfig struct {
	Site            string
	Source          TargetSource
	Round           Rounder
	Sink            Sink
	Window          *Window
	Stats           Stats
	Clock           clockwork.Clock
	SinkErrorsFatal bool
	// Heartbeat is called after every completed cycle
	Heartbeat func()
}

// Validate RunnerConfig is complete
func (c *RunnerConfig) Validate() error {
	if c.Site == "" {
		return errors.New("site is required")
	}
	if c.Source == nil {
		return errors.New("target source is required")
	}
	if c.Round == nil {
		return errors.New("round is required")
	}
	if c.Sink == nil {
		return errors.New("sink is required")
	}
	if c.Window == nil {
		return errors.New("window is required")
	}
	if c.Stats == nil {
		return errors.New("stats is required")
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	return nil
}

// Runner is the probe loop
type Runner struct {
	cfg *RunnerConfig
}

// NewRunner creates Runner
func NewRunner(cfg *RunnerConfig) (*Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid runner config: %w", err)
	}
	return &Runner{cfg: cfg}, nil
}

// Run probes targets once per window until something fatal happens.
// It returns *OverrunError when a round does not fit its window,
// target source and (if configured) sink errors, or ctx.Err() on cancellation.
func (r *Runner) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		targets, err := r.targets(ctx)
		if err != nil {
			return err
		}
		if err := r.cfg.Window.Begin(); err != nil {
			return err
		}
		r.cfg.Stats.SetWindowDuration(r.cfg.Window.Duration())
		results := r.round(ctx, targets)
		if err := r.cfg.Window.End(); err != nil {
			return err
		}
		if err := r.write(ctx, results); err != nil {
			return err
		}
		if err := r.cfg.Window.Sleep(ctx); err != nil {
			var overrun *OverrunError
			if errors.As(err, &overrun) {
				r.cfg.Stats.IncOverruns()
			}
			return err
		}
		if r.cfg.Heartbeat != nil {
			r.cfg.Heartbeat()
		}
	}
}

// RunOnce does a single iteration without any pacing
func (r *Runner) RunOnce(ctx context.Context) (probe.Results, error) {
	targets, err := r.targets(ctx)
	if err != nil {
		return nil, err
	}
	results := r.round(ctx, targets)
	if err := r.write(ctx, results); err != nil {
		return results, err
	}
	return results, nil
}

func (r *Runner) targets(ctx context.Context) ([]probe.Target, error) {
	targets, err := r.cfg.Source.Targets(ctx)
	if err != nil {
		r.cfg.Stats.IncTargetErrors()
		return nil, fmt.Errorf("fetching targets: %w", err)
	}
	if len(targets) == 0 {
		log.Warning("target list is empty")
	}
	r.cfg.Stats.SetTargets(len(targets))
	return targets, nil
}

func (r *Runner) round(ctx context.Context, targets []probe.Target) probe.Results {
	start := r.cfg.Clock.Now()
	results := r.cfg.Round.Run(ctx, targets)
	took := r.cfg.Clock.Since(start)
	for _, o := range results {
		r.cfg.Stats.IncOutcome(o.Kind())
		if s, ok := o.(*probe.Success); ok {
			r.cfg.Stats.ObserveSuccess(s.Offset, s.Delay)
		}
	}
	r.cfg.Stats.IncRounds()
	r.cfg.Stats.SetRoundDuration(took)
	sum := results.Summary()
	log.Infof("round done in %v: %d success, %d timeout, %d failure, mean offset %.6fs, mean delay %.6fs",
		took.Round(time.Millisecond), sum.Success, sum.Timeout, sum.Failure, sum.OffsetMean, sum.DelayMean)
	return results
}

func (r *Runner) write(ctx context.Context, results probe.Results) error {
	err := r.cfg.Sink.Write(ctx, r.cfg.Site, results)
	if err == nil {
		return nil
	}
	r.cfg.Stats.IncSinkErrors()
	if r.cfg.SinkErrorsFatal {
		return fmt.Errorf("writing results: %w", err)
	}
	log.Errorf("writing results: %v", err)
	return nil
}
