// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/annalhq/annal/internal/store"
)

var (
	searchTagsFlag  []string
	searchLimitFlag int
	searchAfterFlag string

	searchCmd = &cobra.Command{
		Use:   "search <query>",
		Short: "Search a project's memories from the terminal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			p, err := newPool(cfg)
			if err != nil {
				return err
			}
			defer p.Shutdown(5 * time.Second)

			s, err := p.Get(projectFlag)
			if err != nil {
				return err
			}
			results, err := s.Search(args[0], store.SearchOptions{
				Tags:  searchTagsFlag,
				After: searchAfterFlag,
				Limit: searchLimitFlag,
			})
			if err != nil {
				return err
			}
			if len(results) == 0 {
				fmt.Println("no results")
				return nil
			}
			for _, m := range results {
				content := m.Content
				if len(content) > 200 {
					content = content[:200] + "…"
				}
				fmt.Printf("%.3f  %s  [%s]\n  %s\n", m.Score, m.ID, strings.Join(m.Tags, ", "), content)
			}
			return nil
		},
	}
)

func init() {
	rootCmd.AddCommand(searchCmd)
	searchCmd.Flags().StringSliceVarP(&searchTagsFlag, "tag", "t", nil, "tag filter (repeatable)")
	searchCmd.Flags().IntVarP(&searchLimitFlag, "limit", "n", 5, "maximum results")
	searchCmd.Flags().StringVar(&searchAfterFlag, "after", "", "only memories created after this ISO date")
}
