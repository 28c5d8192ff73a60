package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/yourorg/brokerctl/internal/config"
)

func newAuthLogoutCmd(globals *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove the stored access token for the profile",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := config.DeleteToken(globals.profile); err != nil {
				return err
			}
			if _, err := fmt.Fprintf(cmd.OutOrStdout(), "Removed access token for profile %q\n", globals.profile); err != nil {
				return fmt.Errorf("write confirmation: %w", err)
			}
			return nil
		},
	}
}
