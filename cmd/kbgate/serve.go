package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/alexjbarnes/kbgate/internal/auth"
	"github.com/alexjbarnes/kbgate/internal/config"
	"github.com/alexjbarnes/kbgate/internal/docs"
	"github.com/alexjbarnes/kbgate/internal/logging"
	"github.com/alexjbarnes/kbgate/internal/mcpserver"
	"github.com/alexjbarnes/kbgate/internal/metrics"
	"github.com/alexjbarnes/kbgate/internal/server"
	"github.com/alexjbarnes/kbgate/internal/upstream"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func newServeCommand() *cobra.Command {
	var (
		listenAddr string
		logLevel   string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the authorization server and the MCP endpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}

			if listenAddr != "" {
				cfg.ListenAddr = listenAddr
			}
			if logLevel != "" {
				if _, err := logging.ParseLevel(logLevel); err != nil {
					return err
				}
				cfg.LogLevel = logLevel
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return run(ctx, cfg)
		},
	}

	cmd.Flags().StringVar(&listenAddr, "listen-addr", "", "listen address (overrides LISTEN_ADDR)")
	cmd.Flags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error (overrides LOG_LEVEL)")

	return cmd
}

func run(ctx context.Context, cfg *config.Config) error {
	logger := logging.NewLogger(cfg.Environment, cfg.LogLevel)
	logger.Info("kbgate starting",
		slog.String("version", Version),
		slog.String("addr", cfg.ListenAddr),
		slog.Bool("metrics", cfg.MetricsEnabled),
	)

	if cfg.SigningKey == "" {
		logger.Warn("OAUTH_SIGNING_KEY is not set, token routes will answer server_error")
	}
	if missing := cfg.MissingUpstream(); len(missing) > 0 {
		logger.Warn("upstream identity provider is not fully configured", slog.Any("missing", missing))
	}
	if cfg.PublicBaseURL == "" {
		logger.Warn("PUBLIC_BASE_URL is not set, search and fetch will fail")
	}

	handler, err := buildHandler(cfg, logger)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// buildHandler wires every component from cfg.
func buildHandler(cfg *config.Config, logger *slog.Logger) (http.Handler, error) {
	var m *metrics.Metrics
	if cfg.MetricsEnabled {
		m = metrics.New()
	}

	authOpts := []auth.AuthorityOption{auth.WithMetrics(m)}
	if cfg.Issuer != "" {
		authOpts = append(authOpts, auth.WithIssuer(cfg.Issuer))
	}
	authority := auth.NewAuthority(auth.NewCodec(cfg.SigningKey), authOpts...)

	bridge := upstream.NewOIDC(upstream.Config{
		ClientID:         cfg.AccessClientID,
		ClientSecret:     cfg.AccessClientSecret,
		AuthorizationURL: cfg.AccessAuthorizationURL,
		TokenURL:         cfg.AccessTokenURL,
		JWKSURL:          cfg.AccessJWKSURL,
		Issuer:           cfg.AccessOIDCIssuer,
		Timeout:          cfg.UpstreamTimeout,
	}, upstream.WithMetrics(m))

	fetcher, err := docs.NewFetcher(cfg.PublicBaseURL,
		docs.WithTimeout(cfg.UpstreamTimeout),
		docs.WithMetrics(m),
	)
	if err != nil {
		return nil, fmt.Errorf("creating docs fetcher: %w", err)
	}

	mcpServer := mcpserver.NewServer(cfg.MCPServerName, cfg.MCPServerVersion, mcpserver.Deps{
		Fetcher:         fetcher,
		IndexPath:       cfg.SearchIndexPath,
		AllowedPrefixes: cfg.ParseAllowedPrefixes(),
		Logger:          logger.With(slog.String("component", "mcp")),
	})

	return server.New(server.MuxConfig{
		Authority:  authority,
		Bridge:     bridge,
		MCPHandler: mcpserver.NewHandler(mcpServer),
		Metrics:    m,
		Logger:     logger,
	}), nil
}
