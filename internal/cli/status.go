// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package cli

import (
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show configured projects and collection sizes",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		names := cfg.ProjectNames()
		sort.Strings(names)
		if len(names) == 0 {
			fmt.Println("no projects configured")
			return nil
		}

		p, err := newPool(cfg)
		if err != nil {
			return err
		}
		defer p.Shutdown(5 * time.Second)

		for _, name := range names {
			proj := cfg.Projects[name]
			s, err := p.Get(name)
			if err != nil {
				fmt.Printf("%-24s error: %v\n", name, err)
				continue
			}
			total, err := s.Count()
			if err != nil {
				fmt.Printf("%-24s error: %v\n", name, err)
				continue
			}
			watch := ""
			if len(proj.WatchPaths) > 0 {
				watch = fmt.Sprintf("  watching %d paths", len(proj.WatchPaths))
			}
			fmt.Printf("%-24s %6d memories%s\n", name, total, watch)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
