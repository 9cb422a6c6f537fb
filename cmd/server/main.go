package main

import (
	"context"
	"errors"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredislib "github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"custodial-ledger/backend/internal/audit"
	"custodial-ledger/backend/internal/challenge"
	"custodial-ledger/backend/internal/config"
	"custodial-ledger/backend/internal/db"
	"custodial-ledger/backend/internal/devotp"
	"custodial-ledger/backend/internal/health"
	"custodial-ledger/backend/internal/ledger"
	"custodial-ledger/backend/internal/lock"
	"custodial-ledger/backend/internal/logging"
	"custodial-ledger/backend/internal/mfa"
	"custodial-ledger/backend/internal/notify"
	"custodial-ledger/backend/internal/orchestrator"
	"custodial-ledger/backend/internal/policy"
	"custodial-ledger/backend/internal/policy/engine"
	"custodial-ledger/backend/internal/security"
	"custodial-ledger/backend/internal/server"
	"custodial-ledger/backend/internal/server/middleware"
	"custodial-ledger/backend/internal/server/ratelimit"
	"custodial-ledger/backend/internal/store"
	"custodial-ledger/backend/internal/telemetry"
	telemetryotel "custodial-ledger/backend/internal/telemetry/otel"
	"custodial-ledger/backend/internal/transfer"
)

const (
	healthInterval  = 10 * time.Second
	shutdownTimeout = 15 * time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("server: exited", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	providers, err := telemetryotel.NewProviders(ctx, telemetryotel.Options{
		Endpoint:    cfg.OTLPEndpoint,
		ServiceName: cfg.ServiceName,
		Environment: cfg.Env,
		Insecure:    cfg.OTLPInsecure,
	})
	if err != nil {
		return err
	}
	providers.SetGlobal()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := providers.Shutdown(shutdownCtx); err != nil {
			logger.Warn("server: otel shutdown", zap.Error(err))
		}
	}()

	st, closeStore, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	var (
		locker         lock.Locker = lock.NewLocal()
		limiterStorage *ratelimit.RedisStorage
	)
	if cfg.RedisAddr != "" {
		rdb := goredislib.NewClient(&goredislib.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return err
		}
		locker = lock.NewRedis(rdb, 0, logger)
		limiterStorage = ratelimit.NewRedisStorage(rdb)
		logger.Info("server: using redis locks and rate-limit storage", zap.String("addr", cfg.RedisAddr))
	}

	tokens, err := security.LoadTokenProvider(cfg.JWTPrivateKey, cfg.JWTPublicKey, cfg.JWTIssuer, cfg.JWTAudience, cfg.AccessTTL())
	if err != nil {
		return err
	}

	var notifiers notify.Multi
	var devCodes devotp.Store
	if brokers := cfg.KafkaBrokersList(); len(brokers) > 0 {
		kafkaNotifier := notify.NewKafkaNotifier(brokers, cfg.NotifyKafkaTopic)
		defer kafkaNotifier.Close()
		notifiers = append(notifiers, kafkaNotifier)
	}
	if cfg.OTPReturnToClient {
		mem := devotp.NewMemoryStore()
		devCodes = mem
		notifiers = append(notifiers, notify.NewDevNotifier(mem))
		logger.Warn("server: OTP_RETURN_TO_CLIENT is on; codes are served at /dev/codes/:key")
	}
	if len(notifiers) == 0 {
		logger.Warn("server: no notifier configured; verification codes will not be delivered")
	}
	dispatcher := notify.NewDispatcher(notifiers, notify.DefaultDispatchTimeout, logger)
	defer dispatcher.Wait()

	recorder, err := telemetry.NewRecorder(telemetryotel.NewEventEmitter(providers.LoggerProvider), providers.Meter(), logger)
	if err != nil {
		return err
	}
	auditLogger := audit.NewLogger(st.Repos().Audit, middleware.ClientIP, logger)
	evaluator := engine.NewOPAEvaluator(st.Repos().Policies, cfg.AutoSettleAmount(), logger)
	challenges := challenge.NewStore(cfg.ChallengeMaxDevices, cfg.DeviceTTL(), nil)

	accounts := ledger.NewService(st, locker, challenges, auditLogger, logger)
	transfers := transfer.NewService(transfer.Deps{
		Store:          st,
		Locker:         locker,
		Policy:         evaluator,
		Dispatcher:     dispatcher,
		Audit:          auditLogger,
		Telemetry:      recorder,
		Log:            logger,
		CodeTTL:        cfg.CodeTTL(),
		ResendCooldown: cfg.ResendCooldown(),
	})
	orch := orchestrator.New(orchestrator.Deps{
		Store:      st,
		Locker:     locker,
		Challenges: challenges,
		EmailCodes: mfa.NewEmailCodes(cfg.CodeTTL(), cfg.ResendCooldown()),
		Transfers:  transfers,
		Dispatcher: dispatcher,
		Telemetry:  recorder,
		Log:        logger,
	})

	healthSrv := health.NewServer(st, evaluator, logger)
	go healthSrv.Run(ctx, healthInterval)

	deps := server.Deps{
		Tokens:          tokens,
		Accounts:        accounts,
		Transfers:       transfers,
		Orchestrator:    orch,
		Policies:        policy.NewService(st.Repos().Policies, auditLogger, logger),
		AuditRepo:       st.Repos().Audit,
		Audit:           auditLogger,
		DevCodes:        devCodes,
		Ready:           healthSrv.Ready,
		RateLimitMax:    cfg.RateLimitMax,
		RateLimitWindow: cfg.LimiterWindow(),
		TracerProvider:  providers.TracerProvider,
		Log:             logger,
	}
	if limiterStorage != nil {
		deps.LimiterStorage = limiterStorage
	}
	app := server.New(deps)

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return err
	}
	grpcSrv := grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler()))
	healthSrv.Register(grpcSrv)

	errCh := make(chan error, 2)
	go func() {
		logger.Info("server: grpc health listening", zap.String("addr", cfg.GRPCAddr))
		if err := grpcSrv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			errCh <- err
		}
	}()
	go func() {
		logger.Info("server: http listening", zap.String("addr", cfg.HTTPAddr))
		if err := app.Listen(cfg.HTTPAddr); err != nil {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err = <-errCh:
		logger.Error("server: listener failed", zap.Error(err))
	}

	logger.Info("server: shutting down")
	healthSrv.Shutdown()
	if shutdownErr := app.ShutdownWithTimeout(shutdownTimeout); shutdownErr != nil {
		logger.Warn("server: http shutdown", zap.Error(shutdownErr))
	}
	grpcSrv.GracefulStop()
	logger.Info("server: stopped")
	return err
}

// openStore returns the Postgres store when DATABASE_URL is set, otherwise the in-memory store.
func openStore(cfg *config.Config, logger *zap.Logger) (store.Store, func(), error) {
	if cfg.DatabaseURL == "" {
		logger.Warn("server: DATABASE_URL is empty; using the in-memory store")
		return store.NewMemory(), func() {}, nil
	}
	pool, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	return store.NewPostgres(pool), func() { _ = pool.Close() }, nil
}
