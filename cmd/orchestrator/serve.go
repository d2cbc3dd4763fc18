package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xela07ax/a2a-guard/internal/console/handler"
	"github.com/xela07ax/a2a-guard/internal/console/server"
)

// Простаивающие сессии API выбрасываются: истории не нужна долговечность
const sessionIdleTimeout = 30 * time.Minute

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "HTTP session API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := opts.load(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			appCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := build(appCtx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			sessions := a.orch.Sessions()
			api := server.NewConsoleServer(
				logger,
				promhttp.HandlerFor(a.promReg, promhttp.HandlerOpts{}),
				handler.NewSessionHandler(a.orch, sessions, logger),
				handler.NewAuditHandler(a.audit),
				handler.NewCatalogHandler(a.dir, logger),
			)
			srv := &http.Server{
				Addr:         cfg.Server.Addr(),
				Handler:      api,
				ReadTimeout:  cfg.Server.ReadTimeout,
				WriteTimeout: cfg.Server.WriteTimeout,
			}

			g, ctx := errgroup.WithContext(appCtx)
			g.Go(func() error {
				logger.Info("orchestrator API started", zap.String("addr", srv.Addr))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
			g.Go(func() error {
				a.listen(ctx)()
				return nil
			})
			g.Go(func() error {
				t := time.NewTicker(time.Minute)
				defer t.Stop()
				for {
					select {
					case <-ctx.Done():
						return nil
					case <-t.C:
						if n := sessions.Sweep(sessionIdleTimeout); n > 0 {
							logger.Info("idle sessions closed", zap.Int("count", n))
						}
					}
				}
			})
			// Graceful Shutdown
			g.Go(func() error {
				<-ctx.Done()
				logger.Info("orchestrator stopping...")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			})

			return g.Wait()
		},
	}
}
