package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/hupe1980/nexus"
	"github.com/hupe1980/nexus/packer"
)

func newPackCommand(a *app) *cobra.Command {
	var (
		out     string
		fts5    bool
		publish bool
	)
	cmd := &cobra.Command{
		Use:   "pack",
		Short: "Build the searchable artifact from the registry",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if out == "" {
				out = a.cfg.PackDir
			}
			n, err := a.open(ctx)
			if err != nil {
				return err
			}
			defer n.Close()

			var opts []packer.Option
			if fts5 {
				opts = append(opts, packer.WithFTS5())
			}
			m, err := n.Pack(ctx, out, opts...)
			if err != nil {
				return fmt.Errorf("pack: %w", err)
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "packed %d entities into %s (%d bundles, %d inline, %d shards)\n",
				m.Entities, out, m.Bundles, m.Inline, len(m.Shards))
			if !publish {
				return nil
			}
			return publishArtifact(cmd, n, out, w)
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "artifact directory (default NEXUS_PACK_DIR)")
	cmd.Flags().BoolVar(&fts5, "fts5", false, "build an FTS5 search table")
	cmd.Flags().BoolVar(&publish, "publish", false, "publish the artifact to the remote store")
	return cmd
}

func newPublishCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "publish [dir]",
		Short: "Verify and mirror an artifact to the remote store",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := a.cfg.PackDir
			if len(args) == 1 {
				dir = args[0]
			}
			n, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer n.Close()
			return publishArtifact(cmd, n, dir, cmd.OutOrStdout())
		},
	}
}

func publishArtifact(cmd *cobra.Command, n *nexus.Nexus, dir string, w io.Writer) error {
	if n.Remote() == nil {
		return fmt.Errorf("publish: no remote store configured")
	}
	res, err := n.Publish(cmd.Context(), dir)
	if err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	fmt.Fprintf(w, "published %s: %d written, %d unchanged\n", dir, res.Written, res.Skipped)
	return nil
}
