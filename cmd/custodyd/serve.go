package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	httpHandler "custody-engine/internal/adapter/http/handler"
	pgStorage "custody-engine/internal/adapter/storage/postgres"
	redisStorage "custody-engine/internal/adapter/storage/redis"
	"custody-engine/internal/core/ports"
	"custody-engine/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
)

func serveCmd() *cobra.Command {
	var shutdownTimeout time.Duration

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the custody HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(shutdownTimeout)
		},
	}
	cmd.Flags().DurationVar(&shutdownTimeout, "shutdown-timeout", 10*time.Second, "grace period for in-flight requests")
	return cmd
}

func runServe(shutdownTimeout time.Duration) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	defer a.close()

	a.log.Info().
		Str("mode", a.cfg.Server.Mode).
		Int("port", a.cfg.Server.Port).
		Msg("Starting custody engine")
	gin.SetMode(a.cfg.Server.Mode)

	ctx := context.Background()
	if err := a.connectPostgres(ctx); err != nil {
		return err
	}
	if err := a.connectRedis(ctx); err != nil {
		return err
	}

	encSvc, err := a.encryption()
	if err != nil {
		return err
	}
	sigSvc := service.NewHMACSignatureService()
	tokenSvc := a.tokens()
	clientRepo := pgStorage.NewClientRepo(a.pool)

	httpClient := &http.Client{Timeout: 10 * time.Second}
	custodySvc, dispatcher := a.custody(httpClient)
	clientSvc := service.NewClientService(clientRepo, encSvc, tokenSvc, a.log)
	auditSvc := service.NewAuditService(pgStorage.NewAuditRepo(a.pool), a.log)

	router := httpHandler.SetupRouter(httpHandler.RouterDeps{
		CustodySvc:     custodySvc,
		ClientSvc:      clientSvc,
		ClientRepo:     clientRepo,
		EncSvc:         encSvc,
		SigSvc:         sigSvc,
		NonceStore:     redisStorage.NewNonceStore(a.rdb),
		TokenSvc:       tokenSvc,
		Security:       a.cfg.Security,
		RateLimitStore: redisStorage.NewRateLimitStore(a.rdb),
		HealthCheckers: []ports.HealthChecker{pgStorage.NewHealthCheck(a.pool), redisStorage.NewHealthCheck(a.rdb)},
		AuditSvc:       auditSvc,
		Logger:         a.log,
	})

	addr := fmt.Sprintf("%s:%d", a.cfg.Server.Host, a.cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		a.log.Info().Str("addr", addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}
	a.log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error().Err(err).Msg("Server forced to shutdown")
	}

	auditSvc.Wait()
	dispatcher.Shutdown()
	a.log.Info().Msg("Server exited")
	return nil
}
