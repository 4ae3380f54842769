package main

import (
	"context"
	"fmt"
	"net/http"

	"custody-engine/config"
	"custody-engine/internal/adapter/collaborator"
	pgStorage "custody-engine/internal/adapter/storage/postgres"
	redisStorage "custody-engine/internal/adapter/storage/redis"
	"custody-engine/internal/service"
	"custody-engine/pkg/logger"

	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// app holds the process-wide dependencies shared by every subcommand.
type app struct {
	cfg  *config.Config
	log  zerolog.Logger
	pool *pgxpool.Pool
	rdb  *goredis.Client
}

func loadApp() (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &app{cfg: cfg, log: logger.New(cfg.Log.Level, cfg.Log.Pretty)}, nil
}

func (a *app) connectPostgres(ctx context.Context) error {
	pool, err := pgStorage.NewPool(ctx, a.cfg.Database, a.log)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	a.pool = pool
	a.log.Info().Msg("PostgreSQL connected")
	return nil
}

func (a *app) connectRedis(ctx context.Context) error {
	rdb, err := redisStorage.NewClient(ctx, a.cfg.Redis, a.log)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	a.rdb = rdb
	a.log.Info().Msg("Redis connected")
	return nil
}

func (a *app) close() {
	if a.rdb != nil {
		_ = a.rdb.Close()
	}
	if a.pool != nil {
		a.pool.Close()
	}
}

func (a *app) encryption() (*service.AESEncryptionService, error) {
	enc, err := service.NewAESEncryptionService(a.cfg.AES.Key)
	if err != nil {
		return nil, fmt.Errorf("init encryption: %w", err)
	}
	return enc, nil
}

func (a *app) tokens() *service.JWTTokenService {
	return service.NewJWTTokenService(a.cfg.JWT.Secret, a.cfg.JWT.Expiry, a.cfg.JWT.Issuer)
}

func (a *app) clientService() (*service.ClientServiceImpl, error) {
	enc, err := a.encryption()
	if err != nil {
		return nil, err
	}
	return service.NewClientService(pgStorage.NewClientRepo(a.pool), enc, a.tokens(), a.log), nil
}

// custody wires the engine with its collaborators. The returned dispatcher must be
// drained with Wait before exit.
func (a *app) custody(httpClient *http.Client) (*service.CustodyServiceImpl, *service.EventDispatcherImpl) {
	c := a.cfg.Collaborators

	gateway := service.NewVerificationGateway(
		collaborator.NewSessionRegistryClient(c.SessionRegistryURL, httpClient, c.Timeout),
		collaborator.NewPatientVerifierClient(c.PatientVerifierURL, httpClient, c.Timeout),
		a.log,
	)
	settlement := service.NewSettlementExecutor(
		collaborator.NewSettlementClient(c.SettlementURL, httpClient, c.Timeout),
		a.log,
	)

	target := service.WebhookTarget{}
	if a.cfg.Webhook.Enabled {
		target = service.WebhookTarget{URL: a.cfg.Webhook.URL, Secret: a.cfg.Webhook.Secret}
	}
	dispatcher := service.NewEventDispatcher(
		redisStorage.NewEventPublisher(a.rdb, a.cfg.Events.Channel),
		pgStorage.NewDeliveryRepo(a.pool),
		service.NewHMACSignatureService(),
		httpClient,
		target,
		a.log,
	)

	custodySvc := service.NewCustodyService(
		pgStorage.NewStateRepo(a.pool),
		pgStorage.NewFundRepo(a.pool),
		pgStorage.NewPaymentRepo(a.pool),
		pgStorage.NewTransactor(a.pool),
		gateway,
		settlement,
		dispatcher,
		redisStorage.NewPaymentCache(a.rdb),
		a.cfg.Custody.PaymentCacheTTL,
		a.log,
	)
	return custodySvc, dispatcher
}
