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

package probe

import (
	"context"
	"sort"
	"time"

	"github.com/eclesh/welford"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Prober measures a single target
type Prober interface {
	Probe(ctx context.Context, target Target) Outcome
}

// ProberFunc is an adapter to allow the use of ordinary functions as Prober
type ProberFunc func(ctx context.Context, target Target) Outcome

// Probe calls f(ctx, target)
func (f ProberFunc) Probe(ctx context.Context, target Target) Outcome {
	return f(ctx, target)
}

// Results maps target address to its outcome
type Results map[string]Outcome

// Addresses returns result keys in sorted order
func (r Results) Addresses() []string {
	addrs := make([]string, 0, len(r))
	for a := range r {
		addrs = append(addrs, a)
	}
	sort.Strings(addrs)
	return addrs
}

// Summary is an aggregated view of a round
type Summary struct {
	Success      int
	Timeout      int
	Failure      int
	OffsetMean   float64
	OffsetStddev float64
	DelayMean    float64
	DelayStddev  float64
}

// Summary counts outcomes and computes offset/delay stats over successes
func (r Results) Summary() Summary {
	s := Summary{}
	offsets := welford.New()
	delays := welford.New()
	for _, o := range r {
		switch v := o.(type) {
		case *Success:
			s.Success++
			offsets.Add(v.Offset)
			delays.Add(v.Delay)
		case *Timeout:
			s.Timeout++
		case *Failure:
			s.Failure++
		}
	}
	if s.Success > 0 {
		s.OffsetMean = offsets.Mean()
		s.OffsetStddev = offsets.Stddev()
		s.DelayMean = delays.Mean()
		s.DelayStddev = delays.Stddev()
	}
	return s
}

// Round probes a list of targets once
type Round struct {
	prober  Prober
	workers int
}

// NewRound creates Round. workers <= 1 means targets are probed one after another.
func NewRound(prober Prober, workers int) *Round {
	if workers < 1 {
		workers = 1
	}
	return &Round{prober: prober, workers: workers}
}

// Run probes every target and returns outcomes keyed by address.
// Targets are probed in the given order. When the same address shows up more than once
// the later target wins, regardless of how many workers are used.
func (r *Round) Run(ctx context.Context, targets []Target) Results {
	outcomes := make([]Outcome, len(targets))
	if r.workers == 1 {
		for i, t := range targets {
			outcomes[i] = r.probe(ctx, t)
		}
	} else {
		// every task owns its slot, nothing is shared until Wait returns
		eg := new(errgroup.Group)
		eg.SetLimit(r.workers)
		for i, t := range targets {
			eg.Go(func() error {
				outcomes[i] = r.probe(ctx, t)
				return nil
			})
		}
		_ = eg.Wait()
	}

	results := make(Results, len(targets))
	for i, t := range targets {
		if prev, ok := results[t.Address]; ok {
			log.Warningf("Duplicate target address %s (owner=%s), replacing earlier %s outcome", t.Address, t.OwnerID, prev.Kind())
		}
		results[t.Address] = outcomes[i]
	}
	return results
}

// probe skips the target once ctx is done
func (r *Round) probe(ctx context.Context, t Target) Outcome {
	if err := ctx.Err(); err != nil {
		now := time.Now()
		return &Failure{Target: t, SentAt: now, FailedAt: now, Err: err}
	}
	log.Infof("Sending probe to address %s (owner=%s, hostname=%s)", t.Address, t.OwnerID, t.DNSName)
	return r.prober.Probe(ctx, t)
}
