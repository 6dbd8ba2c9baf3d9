package cmd

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"

	"github.com/jmcleod/sealedsession/api"
	"github.com/jmcleod/sealedsession/config"
	"github.com/jmcleod/sealedsession/internal/util"
)

var listenAddr string

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the session token server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if listenAddr != "" {
			cfg.Listen = listenAddr
		}
		if err := cfg.ValidateServer(); err != nil {
			return err
		}
		logger, err := cfg.Logger()
		if err != nil {
			return err
		}
		slog.SetDefault(logger)

		ctx := cmd.Context()
		store, err := openStore(ctx, cfg)
		if err != nil {
			return fmt.Errorf("failed to open session store: %w", err)
		}
		defer store.Close()

		engine, err := openEngine(ctx, cfg, store, logger)
		if err != nil {
			return fmt.Errorf("failed to start session engine: %w", err)
		}
		if cfg.Session.JanitorInterval > 0 {
			engine.StartJanitor(cfg.Session.JanitorInterval)
		}
		defer engine.Close()

		a, err := newAPI(cfg, engine, logger)
		if err != nil {
			return err
		}
		defer a.Close()

		tlsConfig, err := serverTLSConfig(cfg)
		if err != nil {
			return err
		}

		server := &http.Server{
			Addr:              cfg.Listen,
			Handler:           newRouter(a),
			TLSConfig:         tlsConfig,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		}

		// Graceful shutdown on SIGINT/SIGTERM.
		done := make(chan error, 1)
		go func() {
			if err := server.ListenAndServeTLS("", ""); err != nil && !errors.Is(err, http.ErrServerClosed) {
				done <- fmt.Errorf("server failed: %w", err)
				return
			}
			done <- nil
		}()

		printBanner()
		fmt.Printf("Starting server on %s (store: %s, sessions: %d)...\n", cfg.Listen, cfg.Store.Driver, engine.Len())

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

		select {
		case sig := <-quit:
			fmt.Printf("\nReceived %s, shutting down...\n", sig)
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := server.Shutdown(ctx); err != nil {
				return fmt.Errorf("server shutdown failed: %w", err)
			}
			return nil
		case err := <-done:
			return err
		}
	},
}

func init() {
	rootCmd.AddCommand(serverCmd)
	serverCmd.Flags().StringVarP(&listenAddr, "listen", "l", "", "Address to listen on (overrides config)")
}

func newAPI(cfg *config.Config, sessions api.Sessions, logger *slog.Logger) (*api.API, error) {
	proxies, err := api.ParseTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		return nil, fmt.Errorf("invalid trusted proxies: %w", err)
	}
	return api.New(sessions,
		api.WithLogger(logger),
		api.WithIssuerKey(cfg.IssuerKey),
		api.WithCookie(api.CookieOptions{
			Name:   cfg.Cookie.Name,
			Domain: cfg.Cookie.Domain,
			Path:   cfg.Cookie.Path,
			Secure: cfg.Cookie.Secure,
		}),
		api.WithSessionDefaults(cfg.Session.DefaultMaxAge, cfg.Session.Persist),
		api.WithTrustedProxies(proxies),
		api.WithAuditWebhook(cfg.Audit.WebhookURL, cfg.Audit.WebhookHeader),
		api.WithAlertFunc(func(ev api.AlertEvent) {
			logger.Warn("security alert",
				slog.String("type", string(ev.Type)),
				slog.String("message", ev.Message),
				slog.Int("count", ev.Count))
		}),
	), nil
}

func newRouter(a *api.API) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(api.SecurityHeaders)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	})

	r.Mount("/api/v1", a.Router())
	return r
}

func serverTLSConfig(cfg *config.Config) (*tls.Config, error) {
	var cert tls.Certificate
	if cfg.TLSCert != "" && cfg.TLSKey != "" {
		var err error
		cert, err = tls.LoadX509KeyPair(cfg.TLSCert, cfg.TLSKey)
		if err != nil {
			return nil, fmt.Errorf("failed to load TLS key pair: %w", err)
		}
	} else {
		var err error
		cert, err = util.GenerateSelfSignedCert()
		if err != nil {
			return nil, fmt.Errorf("failed to generate self-signed certificate: %w", err)
		}
		fmt.Println("Using self-signed runtime generated certificate for TLS")
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}, nil
}
