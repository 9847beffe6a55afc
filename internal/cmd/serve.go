package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/KanavDutta/windowfence/api"
	"github.com/KanavDutta/windowfence/metrics"
	"github.com/KanavDutta/windowfence/pkg/windowfence"
	"github.com/KanavDutta/windowfence/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the windowfence HTTP service",
	Long: `Run the HTTP service exposing POST /check, the identity admin endpoints,
/metrics, /dashboard and /health. Window state can be mirrored to Redis with --redis-addr.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runServe(ctx, viper.GetViper())
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("addr", ":8080", "listen address")
	serveCmd.Flags().Int("quota", 100, "requests admitted per identity per window")
	serveCmd.Flags().String("window", "1m", "window length")
	serveCmd.Flags().String("idle-ttl", "1h", "evict expired identities idle this long (0 disables)")
	serveCmd.Flags().String("redis-addr", "", "mirror window state to this Redis server")
	serveCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	_ = viper.BindPFlag("server.addr", serveCmd.Flags().Lookup("addr"))
	_ = viper.BindPFlag("quota", serveCmd.Flags().Lookup("quota"))
	_ = viper.BindPFlag("window", serveCmd.Flags().Lookup("window"))
	_ = viper.BindPFlag("idle_ttl", serveCmd.Flags().Lookup("idle-ttl"))
	_ = viper.BindPFlag("redis.addr", serveCmd.Flags().Lookup("redis-addr"))
	_ = viper.BindPFlag("log.level", serveCmd.Flags().Lookup("log-level"))
}

// service is everything runServe starts, assembled separately so it can be tested without listening.
type service struct {
	throttle *windowfence.Throttle
	router   http.Handler
	closers  []func() error
}

func (s *service) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		errs = append(errs, s.closers[i]())
	}
	return errors.Join(errs...)
}

func buildService(ctx context.Context, v *viper.Viper, logger *zap.Logger) (*service, error) {
	throttle, err := throttleConfig(v).NewThrottle(windowfence.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("build throttle: %w", err)
	}

	svc := &service{throttle: throttle}

	var mirror store.Mirror
	if addr := v.GetString("redis.addr"); addr != "" {
		rs := store.NewRedisStore(store.RedisConfig{
			Addr:     addr,
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := rs.Ping(pingCtx); err != nil {
			_ = rs.Close()
			return nil, fmt.Errorf("connect to redis at %s: %w", addr, err)
		}
		logger.Info("mirroring window state to redis", zap.String("addr", addr))
		svc.closers = append(svc.closers, rs.Close)
		mirror = rs
	}

	m := metrics.New(throttle.Clock())
	handler := api.NewHandler(throttle, m, mirror, logger)
	svc.router = api.NewRouter(api.RouterConfig{
		Handler: handler,
		Metrics: m,
		Version: versionInfo.Version,
		Logger:  logger,
	})

	return svc, nil
}

func runServe(ctx context.Context, v *viper.Viper) error {
	logger, err := newLogger(v)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	svc, err := buildService(ctx, v, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := svc.Close(); err != nil {
			logger.Warn("close failed", zap.Error(err))
		}
	}()

	stopCleanup := svc.throttle.StartBackgroundCleanup()
	defer stopCleanup()

	srv := &http.Server{
		Addr:              v.GetString("server.addr"),
		Handler:           svc.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil {
			errCh <- err
		}
	}()

	logger.Info("windowfence listening",
		zap.String("addr", srv.Addr),
		zap.Int("quota", svc.throttle.Quota()),
		zap.Duration("window", svc.throttle.Window()),
	)

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
	}

	timeout := v.GetDuration("server.shutdown_timeout")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	logger.Info("server stopped")
	return nil
}
