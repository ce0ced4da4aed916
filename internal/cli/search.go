package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/hupe1980/nexus"
)

func newSearchCommand(a *app) *cobra.Command {
	var (
		dir   string
		limit int
	)
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Full-text search a packed artifact",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if dir == "" {
				dir = a.cfg.PackDir
			}
			ctx := cmd.Context()
			r, err := nexus.OpenArtifact(ctx, dir)
			if err != nil {
				return fmt.Errorf("search: %w", err)
			}
			defer r.Close()

			rows, err := r.Search(ctx, strings.Join(args, " "), limit)
			if err != nil {
				return fmt.Errorf("search: %w", err)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tTYPE\tSCORE\tNAME")
			for _, row := range rows {
				fmt.Fprintf(tw, "%s\t%s\t%.2f\t%s\n", row.ID, row.Type, row.Score, row.Name)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVarP(&dir, "dir", "d", "", "artifact directory (default NEXUS_PACK_DIR)")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum results")
	return cmd
}
