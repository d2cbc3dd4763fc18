package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/xela07ax/a2a-guard/internal/directory"
	"github.com/xela07ax/a2a-guard/internal/infra"
	"github.com/xela07ax/a2a-guard/internal/registry"
	"github.com/xela07ax/a2a-guard/internal/tools"
	"github.com/xela07ax/a2a-guard/internal/transport/grpcapi"
	"github.com/xela07ax/a2a-guard/internal/weather"
)

func main() {
	// 0. .env — до конфига, чтобы ENV его перекрывал
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, err := infra.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("provider stopped with error", zap.Error(err))
	}
	logger.Info("provider exited properly")
}

func run(cfg *infra.Config, logger *zap.Logger) error {
	// Контекст для управления жизненным циклом. SIGTERM отменит всё
	appCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 1. Реестр инструментов поверх источника погоды
	src := weather.NewClient(cfg.Weather.BaseURL, cfg.Weather.Timeout, logger)
	reg := registry.New(logger).MustRegister(
		tools.NewGetWeather(src),
		tools.NewGetForecast(src),
	)

	// 2. Метрики процесса
	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	// 3. gRPC сервер агента-провайдера
	grpcSrv := grpc.NewServer(grpc.UnaryInterceptor(grpcapi.UnaryTraceInterceptor(logger)))
	grpcapi.RegisterToolServiceServer(grpcSrv, grpcapi.NewServer(reg, logger))

	lis, err := net.Listen("tcp", cfg.Provider.GRPCAddr)
	if err != nil {
		return fmt.Errorf("failed to listen gRPC: %w", err)
	}

	// 4. Боковой HTTP: health, metrics и каталог для людей
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Handle("/metrics", promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}))
	r.Get("/v1/tools", func(w http.ResponseWriter, r *http.Request) {
		cat, _ := reg.ListTools(r.Context())
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(cat.Tools)
	})
	httpSrv := &http.Server{Addr: cfg.Provider.HTTPAddr, Handler: r, ReadHeaderTimeout: 5 * time.Second}

	g, ctx := errgroup.WithContext(appCtx)

	g.Go(func() error {
		logger.Info("provider gRPC started", zap.String("addr", lis.Addr().String()), zap.Strings("tools", mustNames(reg)))
		return grpcSrv.Serve(lis)
	})
	g.Go(func() error {
		logger.Info("provider HTTP started", zap.String("addr", httpSrv.Addr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	// 5. Сообщаем оркестраторам, что каталог (пере)опубликован
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer rdb.Close()
		g.Go(func() error {
			pubCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			if err := directory.Announce(pubCtx, rdb, infra.RedisChanCatalogRefresh, "provider"); err != nil {
				logger.Warn("catalog announce failed", zap.Error(err))
			}
			return nil
		})
	}

	// 6. Graceful Shutdown
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("provider stopping...")

		// Даем 5 секунд на завершение запросов
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		grpcSrv.GracefulStop()
		return httpSrv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func mustNames(reg *registry.Registry) []string {
	cat, _ := reg.ListTools(context.Background())
	return cat.Names()
}
