package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/scholia/scholia/internal/engine"
	"github.com/scholia/scholia/internal/source"
)

func newReplayCmd(configFile *string) *cobra.Command {
	var (
		dbPath string
		viewer string
		alias  string
		query  string
	)

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay an event log and print the filtered annotation index",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configFile)
			if err != nil {
				return err
			}

			store, err := source.OpenStore(dbPath)
			if err != nil {
				return err
			}
			defer store.Close()

			src, err := store.LoadMemory(cmd.Context())
			if err != nil {
				return err
			}
			defer src.Close()

			eng := engine.New(engine.Config{
				Source: src,
				Viewer: viewer,
				Engine: cfg.Engine,
			})
			defer eng.Close()

			if err := eng.SetResource(cmd.Context(), alias); err != nil {
				return err
			}
			if query != "" {
				eng.SetQuery(query)
			}

			annotations := eng.FilteredAnnotations()
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "CHILD\tTYPE\tSTATUS\tCREATOR\tPOS\tTEXT")
			for _, loc := range annotations {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n",
					loc.ChildID, loc.Type(), loc.Status, loc.Creator, loc.Position(), loc.Text)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d annotation(s)\n", len(annotations))
			return nil
		},
	}

	cmd.Flags().StringVar(&dbPath, "db", "", "Event log database path")
	cmd.Flags().StringVar(&viewer, "viewer", "", "Viewer user ID")
	cmd.Flags().StringVar(&alias, "resource", "", "Resource room alias or ID")
	cmd.Flags().StringVar(&query, "query", "", "Filter query, e.g. \"@alice ~hour design\"")
	_ = cmd.MarkFlagRequired("db")
	_ = cmd.MarkFlagRequired("resource")
	return cmd
}
