package cli

import (
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/ksred/fhenergy-api/internal/config"
	"github.com/ksred/fhenergy-api/internal/offers"
	"github.com/ksred/fhenergy-api/internal/server"
	"github.com/ksred/fhenergy-api/internal/wallet"
)

// env is what a command needs to act on the ledger.
type env struct {
	cfg         *config.Config
	offers      *offers.Service
	closeLedger func() error
}

// Close releases the ledger. A failed close is logged, since commands have
// already written their output by then.
func (e *env) Close() {
	if err := e.closeLedger(); err != nil {
		log.Error().Err(err).Str("backend", e.cfg.Ledger.Backend).Msg("failed to close ledger")
	}
}

func loadConfig(opts *RootOptions) (*config.Config, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "load config", err)
	}
	return cfg, nil
}

func openEnv(opts *RootOptions) (*env, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}
	l, closeLedger, err := server.OpenLedger(cfg.Ledger)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "open ledger", err)
	}
	return &env{cfg: cfg, offers: offers.NewService(l), closeLedger: closeLedger}, nil
}

func loadWallet(opts *RootOptions) (*wallet.Wallet, error) {
	if opts.Key == "" {
		return nil, WrapExitError(ExitCommandError, "no wallet key", errors.New("pass --key or set "+KeyEnv))
	}
	w, err := wallet.FromHex(opts.Key)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "load wallet", err)
	}
	return w, nil
}
