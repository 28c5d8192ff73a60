package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/yourorg/brokerctl/internal/config"
)

type loginOptions struct {
	token string
}

func newAuthLoginCmd(globals *globalOptions) *cobra.Command {
	opts := &loginOptions{}

	cmd := &cobra.Command{
		Use:           "login",
		Short:         "Store a gcloud access token securely",
		Long:          "Stores an access token, for example the output of `gcloud auth print-access-token`.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runAuthLogin(cmd, globals, opts)
		},
	}

	cmd.Flags().StringVar(&opts.token, "token", "", "Access token to store (prompted if omitted)")

	return cmd
}

func runAuthLogin(cmd *cobra.Command, globals *globalOptions, opts *loginOptions) error {
	token := strings.TrimSpace(opts.token)
	if token == "" {
		read, err := promptForToken(cmd)
		if err != nil {
			return err
		}
		token = read
	}
	if token == "" {
		return errors.New("token cannot be empty")
	}

	if err := config.SaveToken(globals.profile, token); err != nil {
		return fmt.Errorf("save credentials: %w", err)
	}

	if _, err := fmt.Fprintf(cmd.OutOrStdout(), "Saved access token for profile %q\n", globals.profile); err != nil {
		return fmt.Errorf("write confirmation: %w", err)
	}
	return nil
}

func promptForToken(cmd *cobra.Command) (string, error) {
	reader := cmd.InOrStdin()

	if f, ok := reader.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		if _, err := fmt.Fprint(cmd.OutOrStdout(), "Access token: "); err != nil {
			return "", fmt.Errorf("prompt token: %w", err)
		}
		data, err := term.ReadPassword(int(f.Fd()))
		if _, ferr := fmt.Fprintln(cmd.OutOrStdout()); ferr != nil {
			return "", fmt.Errorf("prompt token: %w", ferr)
		}
		if err != nil {
			return "", fmt.Errorf("read token: %w", err)
		}
		return strings.TrimSpace(string(data)), nil
	}

	data, err := io.ReadAll(reader)
	if err != nil {
		return "", fmt.Errorf("read token: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}
