// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package cli implements the annal command-line interface.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/annalhq/annal/internal/config"
)

var (
	cfgFile     string
	projectFlag string

	rootCmd = &cobra.Command{
		Use:   "annal",
		Short: "Semantic memory service for coding agents",
		Long: `Annal stores agent memories and indexed project files in per-project
vector collections and serves them to MCP clients. Run 'annal serve' to
start the daemon, or use the direct commands to inspect a collection
without a client.`,
		SilenceUsage: true,
	}
)

// Execute is the CLI entry point.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.annal/config.yaml)")
	rootCmd.PersistentFlags().StringVarP(&projectFlag, "project", "P", "default", "project to operate on")
}

func loadConfig() (*config.Config, error) {
	if cfgFile != "" {
		return config.LoadFromPath(cfgFile)
	}
	return config.Load()
}
