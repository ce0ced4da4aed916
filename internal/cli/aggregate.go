package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hupe1980/nexus"
)

func newAggregateCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "aggregate [files...]",
		Short: "Merge harvested records into the registry",
		Long: `Streams the persisted registry, merges every record read from the given
files into it and commits the result. Files ending in .ndjson or .jsonl are
read line by line; anything else is read as a JSON array, optionally
gzip-compressed. With no files the pass only decays unseen entities.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAggregate(cmd, a, args)
		},
	}
}

func runAggregate(cmd *cobra.Command, a *app, files []string) error {
	ctx := cmd.Context()
	n, err := a.open(ctx)
	if err != nil {
		return err
	}
	defer n.Close()

	sources := make([]nexus.Source, 0, len(files))
	for _, f := range files {
		sources = append(sources, nexus.FileSource(f))
	}
	res, err := n.Aggregate(ctx, sources...)
	if err != nil {
		return fmt.Errorf("aggregate: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "baseline:  %d\n", res.Baseline)
	fmt.Fprintf(out, "routed:    %d\n", res.Routed)
	fmt.Fprintf(out, "new:       %d\n", res.Inserts)
	fmt.Fprintf(out, "invalid:   %d\n", res.Invalid)
	fmt.Fprintf(out, "updated:   %d\n", res.Updated)
	fmt.Fprintf(out, "decayed:   %d\n", res.Decayed)
	fmt.Fprintf(out, "registry:  %d entities in %d shards\n", res.Save.Count, res.Save.ShardCount)
	if n.Remote() != nil {
		fmt.Fprintf(out, "remote:    %d written, %d skipped, %d failed\n", res.Save.Written, res.Save.Skipped, res.Save.Failed)
	}
	return nil
}
