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
	"os"

	"github.com/olekukonko/tablewriter"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/globalprobe/ntpmon/ntp/monitor"
)

func init() {
	RootCmd.AddCommand(targetsCmd)
	targetsCmd.Flags().StringVarP(&configFlag, "config", "c", "", "path to the config")
	targetsCmd.Flags().StringVar(&envFileFlag, "env-file", "", "file with environment variables referenced by the config (default .env if present)")
	targetsCmd.Flags().StringVar(&siteFlag, "site", "", "probe site identifier")
}

var targetsCmd = &cobra.Command{
	Use:   "targets",
	Short: "List targets the next round would probe",
	Run: func(c *cobra.Command, _ []string) {
		ConfigureVerbosity()
		setFlags := make(map[string]bool)
		c.Flags().Visit(func(f *pflag.Flag) {
			setFlags[f.Name] = true
		})
		cfg, err := monitor.PrepareConfig(configFlag, envFileFlag, siteFlag, nil, 0, 0, setFlags)
		if err != nil {
			log.Fatal(err)
		}
		if err := targetsRun(cfg); err != nil {
			log.Fatal(err)
		}
	},
}

func targetsRun(cfg *monitor.Config) error {
	ctx := context.Background()
	b, err := connect(ctx, cfg)
	if err != nil {
		return err
	}
	defer b.Close()

	targets, err := b.source.Targets(ctx)
	if err != nil {
		return err
	}
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"owner", "server", "address", "id"})
	for _, t := range targets {
		id := ""
		if t.ServerAddressID != nil {
			id = fmt.Sprintf("%d", *t.ServerAddressID)
		}
		table.Append([]string{t.OwnerID, t.DNSName, t.Address, id})
	}
	table.Render()
	fmt.Printf("%d targets\n", len(targets))
	return nil
}
