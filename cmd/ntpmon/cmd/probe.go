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
	"fmt"
	"math"
	"net"
	"net/netip"
	"os"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/globalprobe/ntpmon/ntp/probe"
	ntp "github.com/globalprobe/ntpmon/ntp/protocol"
)

var (
	probeTimeoutFlag time.Duration
	probeRetriesFlag int
	probeVersionFlag uint8
	probeWorkersFlag int
	probeDSCPFlag    int
	probeDumpFlag    bool
)

func init() {
	RootCmd.AddCommand(probeCmd)
	defaults := probe.DefaultClientConfig()
	probeCmd.Flags().DurationVarP(&probeTimeoutFlag, "timeout", "t", defaults.Timeout, "how long to wait for each reply")
	probeCmd.Flags().IntVarP(&probeRetriesFlag, "retries", "r", defaults.Retries, "how many more requests to send when there is no reply")
	probeCmd.Flags().Uint8Var(&probeVersionFlag, "ntp-version", defaults.Version, "NTP version to put into requests")
	probeCmd.Flags().IntVarP(&probeWorkersFlag, "workers", "w", 4, "how many servers to probe in parallel")
	probeCmd.Flags().IntVar(&probeDSCPFlag, "dscp", 0, "DSCP to mark requests with")
	probeCmd.Flags().BoolVar(&probeDumpFlag, "dump", false, "dump decoded replies")
}

var probeCmd = &cobra.Command{
	Use:   "probe server [server...]",
	Short: "Probe NTP servers once and print offsets",
	Args:  cobra.MinimumNArgs(1),
	Run: func(_ *cobra.Command, args []string) {
		ConfigureVerbosity()
		cfg := &probe.ClientConfig{
			Version: probeVersionFlag,
			Timeout: probeTimeoutFlag,
			Retries: probeRetriesFlag,
			Port:    probe.DefaultClientConfig().Port,
			DSCP:    probeDSCPFlag,
		}
		if err := probeRun(cfg, args); err != nil {
			log.Fatal(err)
		}
	},
}

// resolveTargets turns names and addresses into targets, one per address
func resolveTargets(servers []string) ([]probe.Target, error) {
	targets := []probe.Target{}
	for _, s := range servers {
		if _, err := netip.ParseAddr(s); err == nil {
			targets = append(targets, probe.Target{Address: s})
			continue
		}
		addrs, err := net.LookupHost(s)
		if err != nil {
			return nil, fmt.Errorf("resolving %s: %w", s, err)
		}
		for _, a := range addrs {
			targets = append(targets, probe.Target{Address: a, DNSName: s})
		}
	}
	return targets, nil
}

func probeRun(cfg *probe.ClientConfig, servers []string) error {
	targets, err := resolveTargets(servers)
	if err != nil {
		return err
	}
	round := probe.NewRound(probe.NewClient(cfg), probeWorkersFlag)
	results := round.Run(context.Background(), targets)

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"server", "address", "status", "stratum", "ref", "offset(ms)", "delay(ms)"})
	for _, t := range targets {
		table.Append(outcomeRow(t, results[t.Address]))
	}
	table.Render()

	sum := results.Summary()
	fmt.Printf("%d ok, %d timeout, %d failed", sum.Success, sum.Timeout, sum.Failure)
	if sum.Success > 1 {
		fmt.Printf(", offset %.3f ± %.3f ms", sum.OffsetMean*1000, sum.OffsetStddev*1000)
	}
	fmt.Println()

	if probeDumpFlag {
		for _, addr := range results.Addresses() {
			spew.Dump(results[addr])
		}
	}
	return nil
}

func outcomeRow(t probe.Target, o probe.Outcome) []string {
	switch v := o.(type) {
	case *probe.Success:
		return []string{
			t.DNSName,
			t.Address,
			color.GreenString("ok"),
			fmt.Sprintf("%d", v.Meta.Stratum),
			v.Meta.ReferenceIDString(),
			offsetString(v.OffsetDuration()),
			fmt.Sprintf("%.3f", millis(v.DelayDuration())),
		}
	case *probe.Timeout:
		return []string{t.DNSName, t.Address, color.YellowString("timeout after %d", v.Attempts), "", "", "", ""}
	case *probe.Failure:
		return []string{t.DNSName, t.Address, color.RedString("%s", failureString(v.Err)), "", "", "", ""}
	}
	return []string{t.DNSName, t.Address, "", "", "", "", ""}
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

// offsetString highlights offsets an operator would want to look at
func offsetString(offset time.Duration) string {
	ms := millis(offset)
	if math.Abs(ms) > 100 {
		return color.RedString("%.3f", ms)
	}
	if math.Abs(ms) > 10 {
		return color.YellowString("%.3f", ms)
	}
	return fmt.Sprintf("%.3f", ms)
}

// failureString names reply decoding problems, other errors are printed as is
func failureString(err error) string {
	switch {
	case errors.Is(err, ntp.ErrTruncated):
		return "truncated reply"
	case errors.Is(err, ntp.ErrMalformed):
		return "not a server reply"
	}
	return err.Error()
}
