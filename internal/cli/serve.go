// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/annalhq/annal/internal/server"
	"github.com/annalhq/annal/pkg/scheduler"
)

var (
	httpFlag            bool
	portFlag            int
	reindexIntervalFlag int

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the MCP server",
		Long: `Start the memory daemon. By default it speaks MCP over stdio, which is
what editor and agent clients expect. Pass --http to expose a streamable
HTTP endpoint instead.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			// MCP over stdio owns stdout; everything else goes to stderr.
			log.SetOutput(os.Stderr)

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if portFlag != 0 {
				cfg.Port = portFlag
			}

			srv, err := server.New(cfg, server.Options{DefaultProject: projectFlag})
			if err != nil {
				return err
			}

			if reindexIntervalFlag > 0 {
				sched := scheduler.NewScheduler(srv.Pool(), reindexIntervalFlag)
				sched.Start()
				defer sched.Stop()
			}

			done := make(chan error, 1)
			go func() {
				if httpFlag {
					done <- srv.ServeHTTP(fmt.Sprintf(":%d", cfg.Port))
					return
				}
				done <- srv.ServeStdio()
			}()

			sig := make(chan os.Signal, 1)
			signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

			select {
			case err := <-done:
				srv.Pool().Shutdown(10 * time.Second)
				return err
			case s := <-sig:
				log.Info("shutting down", "signal", s)
				srv.Pool().Shutdown(10 * time.Second)
				return nil
			}
		},
	}
)

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().BoolVar(&httpFlag, "http", false, "serve MCP over streamable HTTP instead of stdio")
	serveCmd.Flags().IntVarP(&portFlag, "port", "p", 0, "HTTP port (overrides config)")
	serveCmd.Flags().IntVar(&reindexIntervalFlag, "reindex-interval", 0, "minutes between periodic reindex passes (0 disables)")
}
