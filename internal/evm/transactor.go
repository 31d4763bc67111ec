// Package evm adapts ERC-20 tokens and a UniswapV2-style router reached over
// JSON-RPC to the custody and exchange interfaces.
package evm

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/congo-pay/capvault/internal/custody"
)

// ErrReverted is returned when a mined transaction has a failed status.
var ErrReverted = errors.New("transaction reverted")

// Backend is the subset of the Ethereum RPC the adapters need.
// *ethclient.Client satisfies it.
type Backend interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *gethtypes.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*gethtypes.Receipt, error)
	ChainID(ctx context.Context) (*big.Int, error)
}

var _ Backend = (*ethclient.Client)(nil)

// Dial initialises an RPC client for the provided endpoint.
func Dial(endpoint string) (*ethclient.Client, error) {
	trimmed := strings.TrimSpace(endpoint)
	if trimmed == "" {
		return nil, fmt.Errorf("evm endpoint required")
	}
	return ethclient.Dial(trimmed)
}

// Transactor signs and submits transactions from the custodian account and
// waits for their receipts. Sends are serialized so nonces stay ordered.
type Transactor struct {
	backend  Backend
	key      *ecdsa.PrivateKey
	from     common.Address
	poll     time.Duration
	boostPct uint64

	mu      sync.Mutex
	chainID *big.Int
}

// NewTransactor parses the hex-encoded custodian key.
func NewTransactor(backend Backend, hexKey string, poll time.Duration, boostPct uint64) (*Transactor, error) {
	if backend == nil {
		return nil, fmt.Errorf("evm backend required")
	}
	key, err := gethcrypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse custodian key: %w", err)
	}
	if poll <= 0 {
		poll = 2 * time.Second
	}
	return &Transactor{
		backend:  backend,
		key:      key,
		from:     gethcrypto.PubkeyToAddress(key.PublicKey),
		poll:     poll,
		boostPct: boostPct,
	}, nil
}

// From is the custodian account transactions are sent from.
func (t *Transactor) From() common.Address { return t.from }

// Ping asks the node for its chain id, bypassing the cached value.
func (t *Transactor) Ping(ctx context.Context) error {
	_, err := t.backend.ChainID(ctx)
	return err
}

// Call executes a read-only contract call against the latest block.
func (t *Transactor) Call(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	return t.backend.CallContract(ctx, ethereum.CallMsg{From: t.from, To: &to, Data: data}, nil)
}

// Send signs a transaction calling to with data, submits it and blocks
// until it is mined or ctx is done.
func (t *Transactor) Send(ctx context.Context, to common.Address, data []byte) (*gethtypes.Receipt, error) {
	tx, err := t.submit(ctx, to, data)
	if err != nil {
		return nil, err
	}
	receipt, err := t.waitMined(ctx, tx.Hash())
	if err != nil {
		return nil, err
	}
	if receipt.Status != gethtypes.ReceiptStatusSuccessful {
		return receipt, fmt.Errorf("%w: %s", ErrReverted, tx.Hash().Hex())
	}
	return receipt, nil
}

func (t *Transactor) submit(ctx context.Context, to common.Address, data []byte) (*gethtypes.Transaction, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.chainID == nil {
		id, err := t.backend.ChainID(ctx)
		if err != nil {
			return nil, fmt.Errorf("fetch chain id: %w", err)
		}
		t.chainID = id
	}
	nonce, err := t.backend.PendingNonceAt(ctx, t.from)
	if err != nil {
		return nil, fmt.Errorf("fetch nonce: %w", err)
	}
	gasPrice, err := t.backend.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("suggest gas price: %w", err)
	}
	gas, err := t.backend.EstimateGas(ctx, ethereum.CallMsg{From: t.from, To: &to, Data: data})
	if err != nil {
		return nil, fmt.Errorf("estimate gas: %w", err)
	}
	gas += gas * t.boostPct / 100

	tx := gethtypes.NewTx(&gethtypes.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      gas,
		To:       &to,
		Value:    new(big.Int),
		Data:     data,
	})
	signed, err := gethtypes.SignTx(tx, gethtypes.LatestSignerForChainID(t.chainID), t.key)
	if err != nil {
		return nil, fmt.Errorf("sign transaction: %w", err)
	}
	if err := t.backend.SendTransaction(ctx, signed); err != nil {
		return nil, fmt.Errorf("send transaction: %w", err)
	}
	return signed, nil
}

// waitMined polls for the receipt of a broadcast transaction. Errors from the
// node are retried since the transaction may still be mined; once ctx ends the
// result is ErrOutcomeUnknown carrying the last node error.
func (t *Transactor) waitMined(ctx context.Context, hash common.Hash) (*gethtypes.Receipt, error) {
	ticker := time.NewTicker(t.poll)
	defer ticker.Stop()
	var lastErr error
	for {
		receipt, err := t.backend.TransactionReceipt(ctx, hash)
		if err == nil && receipt != nil {
			return receipt, nil
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) && ctx.Err() == nil {
			lastErr = err
		}
		select {
		case <-ctx.Done():
			cause := ctx.Err()
			if lastErr != nil {
				cause = fmt.Errorf("%w (last receipt error: %w)", cause, lastErr)
			}
			return nil, fmt.Errorf("%w: %s: %w", custody.ErrOutcomeUnknown, hash.Hex(), cause)
		case <-ticker.C:
		}
	}
}

func isRevert(err error) bool {
	return err != nil && strings.Contains(err.Error(), "execution reverted")
}
