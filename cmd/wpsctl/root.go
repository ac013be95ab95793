package main

import (
	"encoding/json"
	"errors"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/avaropoint/wpsgate/internal/version"
)

// credentials are shared by every subcommand.
type credentials struct {
	AppID  string
	Secret string
}

func (c *credentials) require() error {
	if c.AppID == "" {
		c.AppID = os.Getenv("WPS_APP_ID")
	}
	if c.Secret == "" {
		c.Secret = os.Getenv("WPS_APP_SECRET")
	}
	if c.AppID == "" || c.Secret == "" {
		return errors.New("app id and secret are required (--app-id/--secret or WPS_APP_ID/WPS_APP_SECRET)")
	}
	return nil
}

func newRootCmd() *cobra.Command {
	creds := &credentials{}
	root := &cobra.Command{
		Use:           "wpsctl",
		Short:         "WPS open platform signing and callback tool",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&creds.AppID, "app-id", "", "application id (default $WPS_APP_ID)")
	root.PersistentFlags().StringVar(&creds.Secret, "secret", "", "application secret (default $WPS_APP_SECRET)")

	root.AddCommand(
		newSignCmd(creds),
		newVerifyEventCmd(creds),
		newSealEventCmd(creds),
		newMessageCmd(creds),
		newSendCmd(creds),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return printJSON(cmd.OutOrStdout(), map[string]string{
				"version":    version.Version,
				"build_time": version.BuildTime,
			})
		},
	}
}

// readInput reads path, or the command's stdin when path is "" or "-".
func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "" || path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	return os.ReadFile(path)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}
