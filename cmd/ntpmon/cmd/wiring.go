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

package cmd

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/globalprobe/ntpmon/ntp/monitor"
	"github.com/globalprobe/ntpmon/ntp/monitor/influx"
	"github.com/globalprobe/ntpmon/ntp/monitor/store"
)

// backends are the external systems configured for this site
type backends struct {
	source monitor.TargetSource
	sink   monitor.Sink
	closer []func()
}

func (b *backends) Close() {
	for _, c := range b.closer {
		c()
	}
}

// connect sets up target source and sinks according to config
func connect(ctx context.Context, cfg *monitor.Config) (*backends, error) {
	filter, err := store.NewFilter(cfg.SanityFilter)
	if err != nil {
		return nil, fmt.Errorf("parsing sanity_filter: %w", err)
	}
	b := &backends{source: cfg.StaticTargets()}
	sinks := monitor.MultiSink{}

	if cfg.Postgres.Enabled() {
		pg, err := store.Connect(ctx, cfg.Postgres.ConnString(), filter)
		if err != nil {
			return nil, err
		}
		b.closer = append(b.closer, pg.Close)
		if cfg.Postgres.Targets {
			b.source = pg
		}
		if cfg.Postgres.Results {
			sinks = append(sinks, pg)
		}
	}
	if cfg.Influx.Enabled() {
		s := influx.Connect(cfg.Influx.URL, cfg.Influx.Token, cfg.Influx.Org, cfg.Influx.Bucket)
		b.closer = append(b.closer, s.Close)
		sinks = append(sinks, s)
	}

	switch len(sinks) {
	case 0:
		log.Warning("no result store configured, results are only logged")
		b.sink = monitor.LogSink{}
	case 1:
		b.sink = sinks[0]
	default:
		b.sink = sinks
	}
	return b, nil
}
