package routes

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/capvault/internal/custody"
	"github.com/congo-pay/capvault/internal/events"
	"github.com/congo-pay/capvault/internal/evm"
	"github.com/congo-pay/capvault/internal/exchange"
	"github.com/congo-pay/capvault/internal/ledger"
	"github.com/congo-pay/capvault/internal/metrics"
	"github.com/congo-pay/capvault/internal/oplock"
	"github.com/congo-pay/capvault/internal/vault"
)

// RegisterVaultReadRoutes wires the unauthenticated read endpoints. They must
// be registered before the protected group's middleware.
func RegisterVaultReadRoutes(r fiber.Router, h *vault.Handler) {
	r.Get("/vault/state", h.State)
	r.Get("/quotes", h.Quote)
	r.Get("/depositors/:address/balance", h.Balance)
	r.Get("/depositors/:address/entries", h.Entries)
}

// RegisterVaultRoutes wires the operations of the authenticated depositor.
func RegisterVaultRoutes(protected fiber.Router, h *vault.Handler) {
	protected.Get("/balance", h.MyBalance)
	protected.Post("/deposits/native", h.DepositNative)
	protected.Post("/deposits", h.DepositAsset)
	protected.Post("/withdrawals", h.Withdraw)
}

// buildVault selects backends from what is configured: Postgres or memory
// for the ledger, the chain or the simulator for custody and exchange,
// Redis or a local mutex for the single writer, Kafka or the log for events.
// The returned simulator is nil when a chain is configured.
func buildVault(ctx context.Context, app *fiber.App, d Deps) (*vault.Vault, *simulator, error) {
	var ledgerBackend ledger.Ledger
	if d.DB != nil {
		ledgerBackend = ledger.NewPostgresLedger(d.DB)
	} else {
		ledgerBackend = ledger.NewInMemory()
	}

	params := vault.Params{
		CapacityCeiling:   d.Cfg.Vault.CapacityCeiling,
		WithdrawalCeiling: d.Cfg.Vault.WithdrawalCeiling,
		ToleranceBps:      d.Cfg.Vault.ToleranceBps,
		UnitOfAccount:     d.Cfg.Vault.UnitAsset,
		Exchange:          d.Cfg.Vault.Exchange,
		BaseRoutingAsset:  d.Cfg.Vault.BaseAsset,
		Custodian:         d.Cfg.Vault.Custodian,
		SwapDeadline:      d.Cfg.Vault.SwapDeadline,
		UnitDecimals:      d.Cfg.Vault.UnitDecimals,
	}

	var (
		ex     exchange.Exchange
		tokens custody.Registry
		sim    *simulator
	)
	if d.Chain != nil {
		ex = evm.NewRouter(params.Exchange, d.Chain)
		tokens = evm.NewRegistry(d.Chain)
		custodian, err := resolveCustodian(params.Custodian, d.Chain.From())
		if err != nil {
			return nil, nil, err
		}
		params.Custodian = custodian
	} else {
		if !d.Cfg.IsDev() {
			return nil, nil, fmt.Errorf("ETH_RPC_URL is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
		sim = newSimulator(&params)
		ex = sim.exchange
		tokens = sim.book.Registry()
		d.Logger.Warn("running against simulated custody and exchange",
			"unit", params.UnitOfAccount.Hex(),
			"base", params.BaseRoutingAsset.Hex(),
			"exchange", params.Exchange.Hex(),
		)
	}

	var locker vault.Locker
	if d.Cache != nil {
		lock, err := oplock.NewRedis(d.Cache, oplock.Options{Expiry: d.Cfg.Vault.LockExpiry}, d.Logger)
		if err != nil {
			return nil, nil, err
		}
		locker = lock
	}

	var publisher events.Publisher
	if len(d.Cfg.KafkaBrokers) > 0 {
		kp := events.NewKafkaPublisher(d.Cfg.KafkaBrokers, d.Cfg.KafkaTopic)
		app.Hooks().OnShutdown(kp.Close)
		publisher = kp
	}

	v, err := vault.New(ctx, params, vault.Deps{
		Ledger:    ledgerBackend,
		Exchange:  ex,
		Tokens:    tokens,
		Locker:    locker,
		Publisher: publisher,
		Metrics:   metrics.Vault(),
		Logger:    d.Logger,
	})
	if err != nil {
		return nil, nil, err
	}
	return v, sim, nil
}

// resolveCustodian checks the configured custodian against the account that
// signs transactions. Every transfer is sent from that account, so any other
// custodian would be credited with assets it never holds.
func resolveCustodian(configured, signer common.Address) (common.Address, error) {
	if configured == (common.Address{}) {
		return signer, nil
	}
	if configured != signer {
		return common.Address{}, fmt.Errorf("%w: VAULT_CUSTODIAN %s does not match the address of CUSTODIAN_PRIVATE_KEY %s",
			vault.ErrInvalidConfiguration, configured.Hex(), signer.Hex())
	}
	return configured, nil
}
