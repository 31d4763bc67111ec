package infra

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/congo-pay/capvault/internal/config"
	"github.com/congo-pay/capvault/internal/evm"
)

// NewEthereumTransactor dials the JSON-RPC endpoint, verifies the node
// answers and returns a transactor signing with the custodian key. The
// client must be closed by the caller.
func NewEthereumTransactor(ctx context.Context, cfg config.EthereumConfig) (*evm.Transactor, *ethclient.Client, error) {
	client, err := evm.Dial(cfg.RPCURL)
	if err != nil {
		return nil, nil, fmt.Errorf("dial ethereum: %w", err)
	}

	tx, err := evm.NewTransactor(client, cfg.CustodianKey, cfg.ReceiptPoll, cfg.GasLimitBoost)
	if err != nil {
		client.Close()
		return nil, nil, err
	}

	if err := tx.Ping(ctx); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("ping ethereum: %w", err)
	}

	return tx, client, nil
}
