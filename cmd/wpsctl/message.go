package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/avaropoint/wpsgate/internal/security"
)

func newMessageCmd(creds *credentials) *cobra.Command {
	var key string
	cmd := &cobra.Command{
		Use:   "message",
		Short: "Legacy whole-message cipher (encoding key)",
	}
	cmd.PersistentFlags().StringVar(&key, "key", "", "encoding key, 32 raw chars or 43 base64 chars (default $WPS_ENCRYPT_KEY)")

	cipherFor := func() (*security.MessageCipher, error) {
		if err := creds.require(); err != nil {
			return nil, err
		}
		if key == "" {
			key = os.Getenv("WPS_ENCRYPT_KEY")
		}
		raw, err := security.ParseMessageKey(key)
		if err != nil {
			return nil, err
		}
		return security.NewMessageCipher(raw)
	}

	var file string
	encrypt := &cobra.Command{
		Use:   "encrypt",
		Short: "Seal a message for the configured app id",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := cipherFor()
			if err != nil {
				return err
			}
			msg, err := readInput(cmd, file)
			if err != nil {
				return err
			}
			sealed, err := c.Encrypt(msg, creds.AppID)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), sealed)
			return nil
		},
	}
	decrypt := &cobra.Command{
		Use:   "decrypt",
		Short: "Open a sealed message and check its app id",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := cipherFor()
			if err != nil {
				return err
			}
			sealed, err := readInput(cmd, file)
			if err != nil {
				return err
			}
			msg, err := c.Decrypt(strings.TrimSpace(string(sealed)), creds.AppID)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(msg)
			return err
		},
	}
	for _, c := range []*cobra.Command{encrypt, decrypt} {
		c.Flags().StringVarP(&file, "file", "f", "", "input file (default stdin)")
	}
	cmd.AddCommand(encrypt, decrypt)
	return cmd
}
