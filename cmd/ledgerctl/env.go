package main

import (
	"errors"
	"io"

	goredislib "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"custodial-ledger/backend/internal/audit"
	"custodial-ledger/backend/internal/challenge"
	"custodial-ledger/backend/internal/config"
	"custodial-ledger/backend/internal/db"
	"custodial-ledger/backend/internal/ledger"
	"custodial-ledger/backend/internal/lock"
	"custodial-ledger/backend/internal/logging"
	"custodial-ledger/backend/internal/policy"
	"custodial-ledger/backend/internal/policy/engine"
	"custodial-ledger/backend/internal/store"
	"custodial-ledger/backend/internal/transfer"
)

// env is the service graph one command runs against.
type env struct {
	cfg       *config.Config
	store     store.Store
	accounts  *ledger.Service
	transfers *transfer.Service
	policies  *policy.Service
	log       *zap.Logger
	closers   []io.Closer
}

// openEnv connects to DATABASE_URL and, when REDIS_ADDR is set, to the lock space the API servers
// share so admin writes serialize with live traffic.
func openEnv() (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is not set")
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, err
	}
	conn, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	e := &env{cfg: cfg, log: logger, closers: []io.Closer{conn}}

	var locker lock.Locker = lock.NewLocal()
	if cfg.RedisAddr != "" {
		rdb := goredislib.NewClient(&goredislib.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		e.closers = append(e.closers, rdb)
		locker = lock.NewRedis(rdb, 0, logger)
	} else {
		logger.Warn("ledgerctl: REDIS_ADDR is empty; locks are not shared with running servers")
	}

	e.store = store.NewPostgres(conn)
	auditLogger := audit.NewLogger(e.store.Repos().Audit, nil, logger)
	e.accounts = ledger.NewService(e.store, locker, challenge.NewStore(cfg.ChallengeMaxDevices, cfg.DeviceTTL(), nil), auditLogger, logger)
	e.transfers = transfer.NewService(transfer.Deps{
		Store:  e.store,
		Locker: locker,
		Policy: engine.NewOPAEvaluator(e.store.Repos().Policies, cfg.AutoSettleAmount(), logger),
		Audit:  auditLogger,
		Log:    logger,
	})
	e.policies = policy.NewService(e.store.Repos().Policies, auditLogger, logger)
	return e, nil
}

func (e *env) Close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		_ = e.closers[i].Close()
	}
	_ = e.log.Sync()
}
