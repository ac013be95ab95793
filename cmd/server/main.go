// Command server receives WPS open platform event callbacks, verifies and
// decrypts them, and hands accepted events to a handler.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/avaropoint/wpsgate/internal/callback"
	"github.com/avaropoint/wpsgate/internal/config"
	"github.com/avaropoint/wpsgate/internal/logging"
	"github.com/avaropoint/wpsgate/internal/metrics"
	"github.com/avaropoint/wpsgate/internal/openapi"
	"github.com/avaropoint/wpsgate/internal/replay"
	"github.com/avaropoint/wpsgate/internal/security"
	"github.com/avaropoint/wpsgate/internal/store"
	"github.com/avaropoint/wpsgate/internal/version"
)

const shutdownTimeout = 15 * time.Second

func main() {
	configPath := flag.String("config", "", "YAML configuration file (WPS_* env vars override it)")
	echo := flag.Bool("echo", false, "Echo received text messages back through the open API")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	if err := run(*configPath, *echo); err != nil {
		fmt.Fprintln(os.Stderr, "server:", err)
		os.Exit(1)
	}
}

func run(configPath string, echo bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	level := cfg.LogLevel
	if cfg.Debug {
		level = "debug"
	}
	log, err := logging.New(logging.Options{Level: level, File: cfg.LogFile, Development: cfg.Debug})
	if err != nil {
		return err
	}
	defer log.Sync() //nolint:errcheck

	log.Info("starting",
		zap.String("version", version.Version),
		zap.String("build_time", version.BuildTime),
		zap.Stringer("config", cfg))

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	db, err := store.Open(cfg.StoreOptions())
	if err != nil {
		return fmt.Errorf("open replay store: %w", err)
	}
	defer db.Close() //nolint:errcheck
	log.Info("replay store ready", zap.String("backend", cfg.Replay.Backend), zap.Duration("ttl", replay.DefaultTTL))

	opts := callback.Options{
		AppID:       cfg.AppID,
		Verifier:    security.NewVerifier(cfg.AppID, cfg.AppSecret),
		EventCipher: security.NewEventCipher(cfg.AppSecret),
		Guard:       replay.New(db),
		Logger:      log,
		Metrics:     m,
	}
	if cfg.EncryptKey != "" {
		key, err := security.ParseMessageKey(cfg.EncryptKey)
		if err != nil {
			return err
		}
		if opts.MessageCipher, err = security.NewMessageCipher(key); err != nil {
			return err
		}
	}
	processor, err := callback.NewProcessor(opts)
	if err != nil {
		return err
	}

	handler := logHandler(log)
	if echo {
		scheme, _ := security.ParseSigningScheme(cfg.SignScheme)
		api, err := openapi.New(openapi.Options{
			BaseURL: cfg.BaseURL,
			AppID:   cfg.AppID,
			Secret:  cfg.AppSecret,
			Scheme:  scheme,
			Retry: openapi.RetryPolicy{
				MaxAttempts:     cfg.Retry.MaxAttempts,
				InitialInterval: cfg.Retry.InitialInterval,
				MaxInterval:     cfg.Retry.MaxInterval,
			},
			Logger:  log,
			Metrics: m,
		})
		if err != nil {
			return err
		}
		handler = echoHandler(log, api)
	}

	done := make(chan struct{})
	defer close(done)
	limiter := newIPRateLimiter(cfg.Limit.RPS, cfg.Limit.Burst)
	go limiter.run(done)

	srv := NewServer(processor, handler, limiter, reg, log)

	tlsOpts, err := cfg.TLSOptions()
	if err != nil {
		return err
	}
	tlsResult, err := security.SetupTLS(tlsOpts)
	if err != nil {
		return fmt.Errorf("tls setup: %w", err)
	}

	httpSrv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           srv.Routes(),
		TLSConfig:         tlsResult.Config,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 2)
	if tlsResult.ACMEManager != nil {
		// HTTP-01 challenges arrive on port 80.
		go func() {
			log.Info("acme challenge listener", zap.String("addr", ":80"))
			if err := http.ListenAndServe(":80", tlsResult.ACMEManager.HTTPHandler(nil)); err != nil {
				errCh <- fmt.Errorf("acme listener: %w", err)
			}
		}()
	}
	go func() {
		log.Info("listening", zap.String("addr", httpSrv.Addr), zap.Stringer("tls", tlsResult.Mode))
		var err error
		if tlsResult.Config != nil {
			err = httpSrv.ListenAndServeTLS("", "")
		} else {
			err = httpSrv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", zap.Error(err))
	}
	srv.Wait()
	return nil
}
