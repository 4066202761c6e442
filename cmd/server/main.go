// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jason-s-yu/tablesync/internal/auth"
	"github.com/jason-s-yu/tablesync/internal/cache"
	"github.com/jason-s-yu/tablesync/internal/config"
	"github.com/jason-s-yu/tablesync/internal/handlers"
	"github.com/jason-s-yu/tablesync/internal/server"
	"github.com/jason-s-yu/tablesync/internal/transport"
	_ "github.com/joho/godotenv/autoload"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg := config.Load()

	logger := logrus.New()
	logger.SetLevel(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatalf("server exited: %v", err)
	}
	logger.Info("Server stopped")
}

func run(ctx context.Context, cfg config.Config, logger *logrus.Logger) error {
	provider, err := newProvider(cfg, logger)
	if err != nil {
		return err
	}

	var audit server.AuditSink = server.NopAudit{}
	var publisher *cache.Publisher
	if cfg.RedisAddr != "" {
		rdb, err := cache.Connect(ctx, cfg.RedisAddr, cfg.RedisDB)
		if err != nil {
			return err
		}
		defer rdb.Close()
		publisher = cache.NewPublisher(rdb, cfg.Historian.QueueName, logger)
		audit = publisher
		logger.Infof("Publishing audit records to %s/%s", cfg.RedisAddr, cfg.Historian.QueueName)
	} else {
		logger.Info("REDIS_ADDR unset, audit trail disabled")
	}

	manager := transport.NewManager(cfg.Transport, logger)
	srv := server.New(cfg.Server, manager, audit, logger)
	manager.OnDead = func(pid, channelID, reason string) {
		sctx, cancel := context.WithTimeout(context.Background(), cfg.Transport.WriteTimeout)
		defer cancel()
		if err := srv.Submit(sctx, server.Detached(pid, channelID, reason)); err != nil && !errors.Is(err, server.ErrStopped) {
			logger.Warnf("failed to report dead channel for %s: %v", pid, err)
		}
	}

	httpServer := &http.Server{
		Addr: ":" + cfg.Port,
		Handler: handlers.NewRouter(handlers.Deps{
			Loop:           srv,
			Channels:       manager,
			Auth:           provider,
			Logger:         logger,
			AllowedOrigins: cfg.AllowedOrigins,
			ReadLimit:      cfg.MaxMessageBytes,
			InboundRate:    cfg.InboundRate,
			InboundBurst:   cfg.InboundBurst,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(gctx) })
	g.Go(func() error { return manager.Run(gctx) })
	g.Go(func() error {
		logger.Infof("Running on %s", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	if publisher != nil {
		publisher.Close()
	}
	return err
}

// newProvider loads the signing keys from disk when both paths are set, and
// otherwise generates an ephemeral pair that lives as long as the process.
func newProvider(cfg config.Config, logger *logrus.Logger) (*auth.Provider, error) {
	if cfg.AuthPrivateKeyPath != "" && cfg.AuthPublicKeyPath != "" {
		return auth.NewProviderFromPath(cfg.AuthPrivateKeyPath, cfg.AuthPublicKeyPath, cfg.TokenExpire)
	}
	logger.Warn("AUTH_PRIVATE_KEY_PATH/AUTH_PUBLIC_KEY_PATH unset, using ephemeral keys")
	return auth.NewProvider(cfg.TokenExpire)
}
