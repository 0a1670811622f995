// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	exportOutFlag string

	exportCmd = &cobra.Command{
		Use:   "export",
		Short: "Export a project's memories as JSONL",
		Long: `Write every memory and file chunk of a project as one JSON object per
line, to stdout or to --out. Embeddings are not included; import re-embeds,
so exports move between embedder models.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			p, err := newPool(cfg)
			if err != nil {
				return err
			}
			defer p.Shutdown(10 * time.Second)

			s, err := p.Get(projectFlag)
			if err != nil {
				return err
			}

			out := os.Stdout
			if exportOutFlag != "" {
				f, err := os.Create(exportOutFlag)
				if err != nil {
					return err
				}
				defer f.Close()
				out = f
			}
			count, err := s.ExportJSONL(out)
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "exported %d records from project %q\n", count, projectFlag)
			return nil
		},
	}

	importCmd = &cobra.Command{
		Use:   "import <file>",
		Short: "Import memories from a JSONL export",
		Long: `Read a JSONL export and insert its records into the project, preserving
ids and metadata. Texts are re-embedded with the local embedder. Pass '-'
to read from stdin.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			p, err := newPool(cfg)
			if err != nil {
				return err
			}
			defer p.Shutdown(10 * time.Second)

			s, err := p.Get(projectFlag)
			if err != nil {
				return err
			}

			in := os.Stdin
			if args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}
			count, err := s.ImportJSONL(in)
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "imported %d records into project %q\n", count, projectFlag)
			return nil
		},
	}
)

func init() {
	rootCmd.AddCommand(exportCmd, importCmd)
	exportCmd.Flags().StringVarP(&exportOutFlag, "out", "o", "", "write to file instead of stdout")
}
