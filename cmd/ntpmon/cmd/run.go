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
	"errors"
	"os/signal"
	"time"

	"github.com/coreos/go-systemd/daemon"
	"github.com/jonboulle/clockwork"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/sys/unix"

	"github.com/globalprobe/ntpmon/ntp/monitor"
	"github.com/globalprobe/ntpmon/ntp/probe"
)

var (
	configFlag  string
	envFileFlag string
	siteFlag    string
	windowFlag  time.Duration
	workersFlag int
	onceFlag    bool
)

func init() {
	RootCmd.AddCommand(runCmd)
	defaults := monitor.DefaultConfig()
	runCmd.Flags().StringVarP(&configFlag, "config", "c", "", "path to the config")
	runCmd.Flags().StringVar(&envFileFlag, "env-file", "", "file with environment variables referenced by the config (default .env if present)")
	runCmd.Flags().StringVar(&siteFlag, "site", "", "probe site identifier")
	runCmd.Flags().DurationVar(&windowFlag, "window", defaults.Window, "base length of a probe window")
	runCmd.Flags().IntVar(&workersFlag, "workers", defaults.Workers, "how many targets to probe in parallel")
	runCmd.Flags().BoolVar(&onceFlag, "once", false, "probe every target once, store results and exit")
}

var runCmd = &cobra.Command{
	Use:   "run [flags] [target addresses]",
	Short: "Probe targets once per window until stopped",
	Run: func(c *cobra.Command, args []string) {
		ConfigureVerbosity()
		setFlags := make(map[string]bool)
		c.Flags().Visit(func(f *pflag.Flag) {
			setFlags[f.Name] = true
		})
		cfg, err := monitor.PrepareConfig(configFlag, envFileFlag, siteFlag, args, windowFlag, workersFlag, setFlags)
		if err != nil {
			log.Fatal(err)
		}
		if err := runMonitor(cfg); err != nil {
			log.Fatal(err)
		}
	},
}

func setLogLevel(level string) {
	if verbose {
		return
	}
	lvl, err := log.ParseLevel(level)
	if err != nil {
		// already validated
		return
	}
	log.SetLevel(lvl)
}

func runMonitor(cfg *monitor.Config) error {
	setLogLevel(cfg.LogLevel)
	ctx, stop := signal.NotifyContext(context.Background(), unix.SIGINT, unix.SIGTERM)
	defer stop()

	b, err := connect(ctx, cfg)
	if err != nil {
		return err
	}
	defer b.Close()

	stats := monitor.NewPromStats()
	if cfg.MonitoringPort > 0 {
		go func() {
			if err := stats.Start(cfg.MonitoringPort); err != nil {
				log.Errorf("prometheus exporter stopped: %v", err)
			}
		}()
	}

	clock := clockwork.NewRealClock()
	window, err := monitor.NewWindow(cfg.Window, cfg.Variance(), clock)
	if err != nil {
		return err
	}
	runner, err := monitor.NewRunner(&monitor.RunnerConfig{
		Site:            cfg.Site,
		Source:          b.source,
		Round:           probe.NewRound(probe.NewClient(cfg.ClientConfig()), cfg.Workers),
		Sink:            b.sink,
		Window:          window,
		Stats:           stats,
		Clock:           clock,
		SinkErrorsFatal: cfg.SinkErrorsFatal,
		Heartbeat:       watchdog(cfg.Window + cfg.Variance()),
	})
	if err != nil {
		return err
	}

	if onceFlag {
		results, err := runner.RunOnce(ctx)
		if err != nil {
			return err
		}
		sum := results.Summary()
		log.Infof("probed %d targets: %d success, %d timeout, %d failure", len(results), sum.Success, sum.Timeout, sum.Failure)
		return nil
	}

	if _, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		log.Warningf("sd_notify: %v", err)
	}
	log.Infof("probing from site %s every %v ± %v", cfg.Site, cfg.Window, cfg.Variance())
	err = runner.Run(ctx)
	if errors.Is(err, context.Canceled) {
		log.Info("shutting down")
		return nil
	}
	return err
}

// watchdog returns a heartbeat that pets systemd watchdog, if one is configured
func watchdog(longestCycle time.Duration) func() {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval == 0 {
		return nil
	}
	if interval <= longestCycle {
		log.Warningf("systemd WatchdogSec %v is shorter than the longest probe window %v", interval, longestCycle)
	}
	return func() {
		if _, err := daemon.SdNotify(false, daemon.SdNotifyWatchdog); err != nil {
			log.Warningf("sd_notify watchdog: %v", err)
		}
	}
}
