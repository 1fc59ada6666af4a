package main

import (
	"database/sql"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/japaniel/occumatch/pkg/config"
	"github.com/japaniel/occumatch/pkg/dictionary"
	"github.com/japaniel/occumatch/pkg/taxonomy"
)

func newDictionaryCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dictionary",
		Short: "Manage the curated title dictionary",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "import [file.json]",
			Short: "Store a dictionary file as a new version",
			Long: `Import validates every entry against the taxonomy and stores the file as
the next dictionary version. The default file is dictionary.json in the
reference directory.`,
			Args: cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				path := filepath.Join(a.cfg.ReferenceDir, dictionary.File)
				if len(args) == 1 {
					path = args[0]
				}
				entries, err := dictionary.LoadEntries(path)
				if err != nil {
					return err
				}
				snap, err := taxonomy.Load(a.cfg.ReferenceDir, a.log)
				if err != nil {
					return err
				}
				conn, err := a.openDB()
				if err != nil {
					return err
				}
				defer conn.Close()

				version, err := dictionary.NewImporter(conn, a.log).Import(entries, snap)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "dictionary version %d stored (%d entries)\n", version, len(entries))
				return nil
			},
		},
		&cobra.Command{
			Use:   "lookup <title>",
			Short: "Show the dictionary entry a title resolves to",
			Long: `Lookup prints the dictionary entry a title resolves to. Titles without an
entry list the nearest occupation labels, as candidates for a new entry.`,
			Args: cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				snap, err := taxonomy.Load(a.cfg.ReferenceDir, a.log)
				if err != nil {
					return err
				}
				var conn *sql.DB
				if a.cfg.ReferenceSource == config.SourceDB {
					if conn, err = a.openDB(); err != nil {
						return err
					}
					defer conn.Close()
				}
				m, _, err := loadDictionary(a.cfg, conn, snap, a.log)
				if err != nil {
					return err
				}

				hit, ok, err := m.Match(args[0])
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if !ok {
					fmt.Fprintln(out, "no dictionary entry")
					ix, err := loadIndex(a.cfg, snap)
					if err != nil {
						return err
					}
					// External indexes need a precomputed vector and list nothing here.
					for _, c := range ix.Search(args[0], nil, a.cfg.Semantic.TopK) {
						fmt.Fprintf(out, "  nearest %s %s (%.2f)\n", c.Code, c.Label, c.Score)
					}
					return nil
				}
				fmt.Fprintf(out, "%s %s (pattern %q, confidence %.2f)\n", hit.Code, hit.Label, hit.Pattern, hit.Confidence)
				return nil
			},
		},
	)
	return cmd
}
