package main

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/spf13/cobra"

	"github.com/avaropoint/wpsgate/internal/security"
)

func newSignCmd(creds *credentials) *cobra.Command {
	var (
		method, uri, contentType string
		body, bodyFile, scheme   string
		query                    []string
	)
	cmd := &cobra.Command{
		Use:   "sign",
		Short: "Print KSO-1 headers for an outbound request",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := creds.require(); err != nil {
				return err
			}
			s, ok := security.ParseSigningScheme(scheme)
			if !ok {
				return fmt.Errorf("unknown scheme %q", scheme)
			}
			values, err := parseQuery(query)
			if err != nil {
				return err
			}
			payload := []byte(body)
			if bodyFile != "" {
				if payload, err = readInput(cmd, bodyFile); err != nil {
					return err
				}
			}

			headers := security.NewSigner(creds.AppID, creds.Secret).Sign(s, security.SignRequest{
				Method:      strings.ToUpper(method),
				URI:         uri,
				Query:       values,
				ContentType: contentType,
				Body:        payload,
			})
			return printJSON(cmd.OutOrStdout(), headers)
		},
	}
	f := cmd.Flags()
	f.StringVarP(&method, "method", "X", http.MethodGet, "HTTP method")
	f.StringVar(&uri, "uri", "", "request path, e.g. /v7/messages/create")
	f.StringArrayVarP(&query, "query", "q", nil, "query parameter key=value (repeatable)")
	f.StringVar(&contentType, "content-type", "", "request content type")
	f.StringVarP(&body, "data", "d", "", "request body")
	f.StringVar(&bodyFile, "data-file", "", "read request body from file (- for stdin)")
	f.StringVar(&scheme, "scheme", security.SchemeKSO1.String(), "kso1 or kso1-legacy")
	_ = cmd.MarkFlagRequired("uri")
	return cmd
}

func parseQuery(pairs []string) (url.Values, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	values := url.Values{}
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("query %q is not key=value", p)
		}
		values.Add(k, v)
	}
	return values, nil
}
