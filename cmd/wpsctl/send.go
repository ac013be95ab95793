package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/avaropoint/wpsgate/internal/config"
	"github.com/avaropoint/wpsgate/internal/logging"
	"github.com/avaropoint/wpsgate/internal/openapi"
	"github.com/avaropoint/wpsgate/internal/security"
)

func newSendCmd(creds *credentials) *cobra.Command {
	var (
		baseURL, receiverType, receiverID, text, scheme string
		timeout                                         time.Duration
		verbose                                         bool
	)
	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send a text message through the open API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := creds.require(); err != nil {
				return err
			}
			s, ok := security.ParseSigningScheme(scheme)
			if !ok {
				return fmt.Errorf("unknown scheme %q", scheme)
			}
			log := zap.NewNop()
			if verbose {
				var err error
				if log, err = logging.New(logging.Options{Level: "debug", Development: true}); err != nil {
					return err
				}
			}

			api, err := openapi.New(openapi.Options{
				BaseURL: baseURL,
				AppID:   creds.AppID,
				Secret:  creds.Secret,
				Scheme:  s,
				Logger:  log,
			})
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}
			id, err := api.SendText(ctx, receiverType, receiverID, text)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]string{"message_id": id})
		},
	}
	f := cmd.Flags()
	f.StringVar(&baseURL, "base-url", config.DefaultBaseURL, "open API base URL")
	f.StringVar(&receiverType, "receiver-type", openapi.ReceiverUser, "user or chat")
	f.StringVar(&receiverID, "to", "", "receiver id")
	f.StringVar(&text, "text", "", "message text")
	f.StringVar(&scheme, "scheme", security.SchemeKSO1.String(), "kso1 or kso1-legacy")
	f.DurationVar(&timeout, "timeout", time.Minute, "overall deadline")
	f.BoolVarP(&verbose, "verbose", "v", false, "log API traffic")
	_ = cmd.MarkFlagRequired("to")
	_ = cmd.MarkFlagRequired("text")
	return cmd
}
