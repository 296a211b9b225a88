package server

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ksred/fhenergy-api/internal/config"
	"github.com/ksred/fhenergy-api/internal/database"
	"github.com/ksred/fhenergy-api/internal/ledger"
)

// OpenLedger connects the configured ledger backend. The returned close
// function releases the backend and is never nil.
func OpenLedger(cfg config.LedgerConfig) (ledger.Ledger, func() error, error) {
	noop := func() error { return nil }
	logger := log.With().
		Str("component", "ledger").
		Str("backend", cfg.Backend).
		Str("contract", cfg.ContractAddress).
		Logger()

	switch cfg.Backend {
	case config.BackendMemory:
		logger.Warn().Msg("using in-memory ledger, offers are lost on restart")
		return ledger.NewMemoryLedger(cfg.ContractAddress), noop, nil

	case config.BackendSQLite:
		db, err := database.NewDatabase(cfg.SQLitePath)
		if err != nil {
			return nil, noop, fmt.Errorf("open sqlite ledger: %w", err)
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, noop, err
		}
		logger.Info().Str("path", cfg.SQLitePath).Msg("ledger opened")
		return ledger.NewSQLLedger(db, cfg.ContractAddress), sqlDB.Close, nil

	case config.BackendPebble:
		l, err := ledger.OpenPebble(cfg.PebbleDir, cfg.ContractAddress)
		if err != nil {
			return nil, noop, fmt.Errorf("open pebble ledger: %w", err)
		}
		logger.Info().Str("dir", cfg.PebbleDir).Msg("ledger opened")
		return l, l.Close, nil

	case config.BackendRedis:
		l := ledger.NewRedisLedger(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.ContractAddress)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if !l.IsAvailable(ctx) {
			// The service still starts; requests fail with 503 until redis answers.
			logger.Warn().Str("addr", cfg.RedisAddr).Msg("redis ledger not reachable yet")
		} else {
			logger.Info().Str("addr", cfg.RedisAddr).Msg("ledger opened")
		}
		return l, l.Close, nil
	}

	return nil, noop, fmt.Errorf("unknown ledger backend %q", cfg.Backend)
}
