package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hupe1980/nexus/packer"
)

func newVerifyCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "verify [dir]",
		Short: "Check an artifact against its manifest",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := a.cfg.PackDir
			if len(args) == 1 {
				dir = args[0]
			}
			err := packer.Verify(cmd.Context(), dir)
			var mismatch *packer.DigestMismatchError
			if errors.As(err, &mismatch) {
				return fmt.Errorf("verify: %s is corrupt (want %s, got %s)", mismatch.Name, mismatch.Want, mismatch.Got)
			}
			if err != nil {
				return fmt.Errorf("verify: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s ok\n", dir)
			return nil
		},
	}
}
