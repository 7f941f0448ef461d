package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	cfhttp "github.com/Strob0t/ledgersync/internal/adapter/http"
	"github.com/Strob0t/ledgersync/internal/adapter/ws"
	"github.com/Strob0t/ledgersync/internal/middleware"
	"github.com/Strob0t/ledgersync/internal/port/messagequeue"
	"github.com/Strob0t/ledgersync/internal/secrets"
)

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Receive GitHub webhooks and reconcile requests",
		Long: `Start the HTTP server.

Signed issue webhooks are applied to the ledger as they arrive. Reconcile
requests arrive on POST /api/v1/reconcile or, when nats.url is set, on the
ledgersync.reconcile subject; sync outcomes are streamed on /ws.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), rootOpts)
		},
	}
}

func runServe(ctx context.Context, rootOpts *RootOptions) error {
	cfg, log, closer, err := rootOpts.load()
	if err != nil {
		return err
	}
	defer closer.Close()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, log, appOptions{useNATS: true})
	if err != nil {
		return err
	}
	defer a.close(context.WithoutCancel(ctx))

	hub := ws.NewHub(log.With("component", "ws"))
	defer hub.Close()
	a.setBroadcaster(hub)

	if a.queue != nil {
		cancel, err := a.queue.Subscribe(ctx, messagequeue.SubjectReconcile, a.reconciler.HandleReconcileMessage)
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", messagequeue.SubjectReconcile, err)
		}
		defer cancel()
	}

	vault, err := secrets.NewVault(secrets.ConfigLoader(rootOpts.ConfigPath))
	if err != nil {
		return err
	}
	go reloadOnHangup(ctx, vault, log)

	limiter := middleware.NewRateLimiter(cfg.Server.RateLimit, cfg.Server.RateBurst, nil)
	go limiter.Run(ctx, time.Minute, 10*time.Minute)

	handlers := &cfhttp.Handlers{
		Dispatcher:  a.dispatcher,
		Connections: hub.ConnectionCount,
		Log:         log.With("component", "http"),
	}
	if a.queue != nil {
		handlers.Queue = a.queue
	}

	srv := &http.Server{
		Addr: ":" + cfg.Server.Port,
		Handler: cfhttp.NewRouter(handlers, cfhttp.RouteOptions{
			WebhookSecret: vault.Getter(secrets.WebhookSecret),
			APIToken:      vault.Getter(secrets.APIToken),
			Deliveries:    a.deliveries(ctx),
			DedupeTTL:     cfg.Webhook.DedupeTTL,
			Limiter:       limiter,
			WS:            hub.HandleWS,
		}),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// Issue events are applied before the response is written.
		WriteTimeout: cfg.Sync.RequestTimeout * 4,
		IdleTimeout:  120 * time.Second,
	}

	if cfg.Webhook.GitHubSecret == "" {
		log.Warn("webhook.github_secret not set, /webhooks/github rejects every delivery")
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("starting server", "addr", srv.Addr, "nats", a.queue != nil)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
	}
	log.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	handlers.Wait()
	return nil
}

// reloadOnHangup re-reads the webhook secret and API token on SIGHUP.
func reloadOnHangup(ctx context.Context, vault *secrets.Vault, log *slog.Logger) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			if err := vault.Reload(); err != nil {
				log.Error("secret reload failed, keeping previous values", "error", err)
				continue
			}
			log.Info("secrets reloaded")
		}
	}
}
