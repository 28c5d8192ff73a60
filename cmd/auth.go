package cmd

import "github.com/spf13/cobra"

func newAuthCmd(globals *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Manage stored gcloud access tokens",
		Long: `Stores an access token per profile in the OS keyring. When present, it is
handed to gcloud through CLOUDSDK_AUTH_ACCESS_TOKEN_FILE; otherwise gcloud
uses its own active credentials.`,
	}

	cmd.AddCommand(newAuthLoginCmd(globals))
	cmd.AddCommand(newAuthLogoutCmd(globals))

	return cmd
}
