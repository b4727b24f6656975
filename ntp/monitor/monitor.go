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

/*
Package monitor runs probe rounds against a changing list of NTP servers
on a jittered schedule and hands results over to persistent sinks.
*/
package monitor

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/globalprobe/ntpmon/ntp/probe"
)

// TargetSource provides the list of servers to probe in the next round.
// An error means the list must not be used at all.
type TargetSource interface {
	Targets(ctx context.Context) ([]probe.Target, error)
}

// Sink persists results of a round
type Sink interface {
	Write(ctx context.Context, site string, results probe.Results) error
}

// StaticTargets is a fixed list of targets
type StaticTargets []probe.Target

// Targets implements TargetSource
func (s StaticTargets) Targets(_ context.Context) ([]probe.Target, error) {
	targets := make([]probe.Target, len(s))
	copy(targets, s)
	return targets, nil
}

// MultiSink writes results to every sink, even if some of them fail
type MultiSink []Sink

// Write implements Sink
func (m MultiSink) Write(ctx context.Context, site string, results probe.Results) error {
	var errs []error
	for i, s := range m {
		if err := s.Write(ctx, site, results); err != nil {
			errs = append(errs, fmt.Errorf("sink %d (%T): %w", i, s, err))
		}
	}
	return errors.Join(errs...)
}

// LogSink logs every outcome
type LogSink struct{}

// Write implements Sink
func (LogSink) Write(_ context.Context, site string, results probe.Results) error {
	for _, addr := range results.Addresses() {
		switch o := results[addr].(type) {
		case *probe.Success:
			log.Infof("[%s] %s: offset %.6fs, delay %.6fs, stratum %d, ref %s",
				site, o.Target, o.Offset, o.Delay, o.Meta.Stratum, o.Meta.ReferenceIDString())
		case *probe.Timeout:
			log.Warningf("[%s] %s: no reply after %d attempts", site, o.Target, o.Attempts)
		case *probe.Failure:
			log.Warningf("[%s] %v", site, o)
		}
	}
	return nil
}
