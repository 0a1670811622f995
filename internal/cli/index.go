// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/annalhq/annal/internal/config"
	"github.com/annalhq/annal/internal/embedder"
	"github.com/annalhq/annal/internal/events"
	"github.com/annalhq/annal/internal/pool"
)

var (
	watchPathsFlag []string

	indexCmd = &cobra.Command{
		Use:   "index [paths...]",
		Short: "Run one synchronous index pass over a project",
		Long: `Index the project's configured watch paths, or the paths given as
arguments. Files whose indexed mtime is current are skipped. The command
blocks until the pass finishes and prints a summary.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			paths := watchPathsFlag
			if len(args) > 0 {
				paths = append(paths, args...)
			}
			if len(paths) > 0 {
				proj := cfg.Projects[projectFlag]
				proj.WatchPaths = paths
				if cfg.Projects == nil {
					cfg.Projects = map[string]config.ProjectConfig{}
				}
				cfg.Projects[projectFlag] = proj
				if err := cfg.Save(); err != nil {
					return err
				}
			}
			if len(cfg.Projects[projectFlag].WatchPaths) == 0 {
				return fmt.Errorf("project %q has no watch paths; pass them as arguments", projectFlag)
			}

			p, err := newPool(cfg)
			if err != nil {
				return err
			}
			defer p.Shutdown(10 * time.Second)

			res, err := p.Reconcile(projectFlag)
			if err != nil {
				return err
			}
			fmt.Printf("indexed %d files (%d chunks), skipped %d unchanged, removed %d deleted\n",
				res.Indexed, res.Chunks, res.Skipped, res.Removed)
			return nil
		},
	}
)

func init() {
	rootCmd.AddCommand(indexCmd)
	indexCmd.Flags().StringSliceVar(&watchPathsFlag, "path", nil, "directory to index (repeatable; persisted to config)")
}

// newPool builds a pool with the default embedder stack for direct CLI
// commands that bypass the server.
func newPool(cfg *config.Config) (*pool.StorePool, error) {
	cached, err := embedder.NewCached(embedder.NewHash(), 0)
	if err != nil {
		return nil, err
	}
	return pool.New(cfg, cached, events.NewBus()), nil
}
