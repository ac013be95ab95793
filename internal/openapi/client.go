// Package openapi is a client for the WPS open platform REST API. Every
// request is KSO-1 signed and carries a cached bearer token.
package openapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/avaropoint/wpsgate/internal/logging"
	"github.com/avaropoint/wpsgate/internal/metrics"
	"github.com/avaropoint/wpsgate/internal/security"
	"github.com/avaropoint/wpsgate/internal/version"
)

// API paths.
const (
	PathToken         = "/oauth2/token"
	PathMessageCreate = "/v7/messages/create"
	PathMediaUpload   = "/v7/media/upload"
)

const maxResponseBody = 1 << 20

// Options configures a Client.
type Options struct {
	BaseURL    string
	AppID      string
	Secret     string
	Scheme     security.SigningScheme
	HTTPClient *http.Client
	Retry      RetryPolicy
	Logger     *zap.Logger
	Metrics    *metrics.Metrics
	Clock      func() time.Time
}

// Client calls the open API on behalf of one application.
type Client struct {
	base    string
	appID   string
	secret  string
	scheme  security.SigningScheme
	http    *http.Client
	retry   RetryPolicy
	signer  *security.Signer
	tokens  *security.TokenCache
	log     *zap.Logger
	metrics *metrics.Metrics
}

// New creates a Client. The token cache fetches through the same HTTP
// client and retry policy as API calls.
func New(opts Options) (*Client, error) {
	if opts.AppID == "" || opts.Secret == "" {
		return nil, errors.New("openapi: app id and secret are required")
	}
	base := strings.TrimRight(opts.BaseURL, "/")
	if base == "" {
		return nil, errors.New("openapi: base url is required")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("openapi: base url: %w", err)
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = DefaultRetryPolicy()
	}

	c := &Client{
		base:    base,
		appID:   opts.AppID,
		secret:  opts.Secret,
		scheme:  opts.Scheme,
		http:    opts.HTTPClient,
		retry:   opts.Retry,
		signer:  security.NewSigner(opts.AppID, opts.Secret, security.WithSignerClock(opts.Clock)),
		log:     logging.OrNop(opts.Logger).Named("openapi"),
		metrics: opts.Metrics,
	}
	c.tokens = security.NewTokenCache(security.TokenFetcherFunc(c.FetchToken),
		security.WithTokenClock(opts.Clock),
		security.WithFetchHook(opts.Metrics.TokenFetch))
	return c, nil
}

// Tokens exposes the client's token cache.
func (c *Client) Tokens() *security.TokenCache { return c.tokens }

type tokenRequest struct {
	GrantType    string `json:"grant_type"`
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	Code        int    `json:"code"`
	Msg         string `json:"msg"`
}

// FetchToken performs the client-credentials exchange. It implements
// security.TokenFetcher.
func (c *Client) FetchToken(ctx context.Context) (security.TokenGrant, error) {
	body, err := json.Marshal(tokenRequest{
		GrantType:    "client_credentials",
		ClientID:     c.appID,
		ClientSecret: c.secret,
	})
	if err != nil {
		return security.TokenGrant{}, err
	}

	var out tokenResponse
	err = c.retryCall(ctx, "token", func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+PathToken, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		err = c.send(req, "token", &out)
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized {
			// Bad client credentials do not heal on retry.
			return backoff.Permanent(fmt.Errorf("%w: %w", ErrUnauthorized, apiErr))
		}
		return err
	})
	if err != nil {
		return security.TokenGrant{}, err
	}
	if out.AccessToken == "" {
		return security.TokenGrant{}, &APIError{Status: http.StatusOK, Code: out.Code, Msg: out.Msg}
	}
	c.log.Info("access token refreshed", zap.Int64("expires_in", out.ExpiresIn))
	return security.TokenGrant{
		AccessToken: out.AccessToken,
		ExpiresIn:   time.Duration(out.ExpiresIn) * time.Second,
	}, nil
}

// envelope is the common response wrapper of /v7 endpoints.
type envelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

// call performs one signed, authenticated API request with retries.
// build must return a fresh body reader per attempt.
func (c *Client) call(ctx context.Context, endpoint, method, path string, query url.Values,
	contentType string, body []byte, build func() (io.Reader, error), out any) error {

	refreshed := false
	return c.retryCall(ctx, endpoint, func() error {
		tok, err := c.tokens.Token(ctx)
		if err != nil {
			// Token acquisition already retried on its own.
			return backoff.Permanent(err)
		}

		var rd io.Reader
		if build != nil {
			if rd, err = build(); err != nil {
				return backoff.Permanent(err)
			}
		} else if body != nil {
			rd = bytes.NewReader(body)
		}

		target := c.base + path
		if len(query) > 0 {
			target += "?" + query.Encode()
		}
		req, err := http.NewRequestWithContext(ctx, method, target, rd)
		if err != nil {
			return backoff.Permanent(err)
		}

		// Signed per attempt so the date header stays fresh.
		headers := c.signer.Sign(c.scheme, security.SignRequest{
			Method:      method,
			URI:         path,
			Query:       query,
			ContentType: signedContentType(contentType),
			Body:        body,
		})
		for k, v := range headers {
			if v != "" {
				req.Header.Set(k, v)
			}
		}
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}
		req.Header.Set("Authorization", "Bearer "+tok.Value)
		req.Header.Set("User-Agent", version.String())

		var env envelope
		err = c.send(req, endpoint, &env)
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized {
			c.tokens.Invalidate()
			if refreshed {
				return backoff.Permanent(fmt.Errorf("%w: %v", ErrUnauthorized, err))
			}
			refreshed = true
			return err
		}
		if err != nil {
			return err
		}
		if env.Code != 0 {
			return backoff.Permanent(&APIError{Status: http.StatusOK, Code: env.Code, Msg: env.Msg})
		}
		if out != nil && len(env.Data) > 0 {
			if err := json.Unmarshal(env.Data, out); err != nil {
				return backoff.Permanent(fmt.Errorf("decode %s data: %w", endpoint, err))
			}
		}
		return nil
	})
}

// signedContentType strips multipart boundaries, which are regenerated per
// attempt and are not part of the signature.
func signedContentType(ct string) string {
	if strings.HasPrefix(ct, "multipart/") {
		return ""
	}
	return ct
}

func (c *Client) retryCall(ctx context.Context, endpoint string, op func() error) error {
	notify := func(err error, next time.Duration) {
		c.log.Warn("api call failed, retrying",
			zap.String("endpoint", endpoint), zap.Duration("backoff", next), zap.Error(err))
	}
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, op()
	}, c.retry.options(notify)...)

	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		return perm.Unwrap()
	}
	return err
}

// send executes req and decodes a JSON response into out. Transport
// errors, 429 and 5xx are retryable; every other failure is permanent
// except 401, which the caller handles.
func (c *Client) send(req *http.Request, endpoint string, out any) error {
	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.metrics.APIRequest(endpoint, "error", time.Since(start).Seconds())
		if req.Context().Err() != nil {
			return backoff.Permanent(err)
		}
		return err
	}
	defer resp.Body.Close()
	c.metrics.APIRequest(endpoint, strconv.Itoa(resp.StatusCode), time.Since(start).Seconds())

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode, Msg: excerpt(data)}
		var env envelope
		if json.Unmarshal(data, &env) == nil && env.Msg != "" {
			apiErr.Code, apiErr.Msg = env.Code, env.Msg
		}
		switch {
		case resp.StatusCode == http.StatusUnauthorized:
			return apiErr
		case resp.StatusCode == http.StatusTooManyRequests:
			if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs > 0 {
				return fmt.Errorf("%w: %w", apiErr, backoff.RetryAfter(secs))
			}
			return apiErr
		case apiErr.Temporary():
			return apiErr
		}
		return backoff.Permanent(apiErr)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return backoff.Permanent(fmt.Errorf("decode %s response: %w", endpoint, err))
	}
	return nil
}

func excerpt(b []byte) string {
	const n = 256
	s := strings.TrimSpace(string(b))
	if len(s) > n {
		s = s[:n] + "..."
	}
	return s
}
