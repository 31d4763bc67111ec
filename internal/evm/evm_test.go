package evm

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/congo-pay/capvault/internal/custody"
	"github.com/congo-pay/capvault/internal/exchange"
)

var (
	routerAddr = common.HexToAddress("0x7a250d5630B4cF539739dF2C5dAcb4c659F2488D")
	weth       = common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2")
	usdc       = common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")
	pairAddr   = common.HexToAddress("0xB4e16d0168e52d35CaCD2c6185b44281Ec28C9Dc")
)

// errStuckNode keeps being returned once it is the last queued receipt error.
var errStuckNode = errors.New("connection refused")

type fakeBackend struct {
	mu      sync.Mutex
	call    func(msg ethereum.CallMsg) ([]byte, error)
	receipt func(tx *gethtypes.Transaction) *gethtypes.Receipt
	sent    []*gethtypes.Transaction
	pending int
	nonce   uint64
	// receiptErrs are returned, in order, by the first receipt polls.
	receiptErrs []error
}

func (f *fakeBackend) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	return f.call(msg)
}

func (f *fakeBackend) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.nonce, nil
}

func (f *fakeBackend) SuggestGasPrice(context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

func (f *fakeBackend) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	return 100_000, nil
}

func (f *fakeBackend) SendTransaction(_ context.Context, tx *gethtypes.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, tx)
	f.nonce++
	return nil
}

func (f *fakeBackend) TransactionReceipt(_ context.Context, hash common.Hash) (*gethtypes.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.receiptErrs) > 0 {
		err := f.receiptErrs[0]
		if len(f.receiptErrs) > 1 {
			f.receiptErrs = f.receiptErrs[1:]
		} else if !errors.Is(err, errStuckNode) {
			f.receiptErrs = nil
		}
		return nil, err
	}
	if f.pending > 0 {
		f.pending--
		return nil, ethereum.NotFound
	}
	for _, tx := range f.sent {
		if tx.Hash() == hash {
			if f.receipt != nil {
				return f.receipt(tx), nil
			}
			return &gethtypes.Receipt{Status: gethtypes.ReceiptStatusSuccessful, TxHash: hash}, nil
		}
	}
	return nil, ethereum.NotFound
}

func (f *fakeBackend) ChainID(context.Context) (*big.Int, error) {
	return big.NewInt(1337), nil
}

func newTransactor(t *testing.T, backend Backend) *Transactor {
	t.Helper()
	key, err := gethcrypto.GenerateKey()
	require.NoError(t, err)
	tx, err := NewTransactor(backend, common.Bytes2Hex(gethcrypto.FromECDSA(key)), time.Millisecond, 20)
	require.NoError(t, err)
	return tx
}

func transferLog(asset, from, to common.Address, amount uint64) *gethtypes.Log {
	return &gethtypes.Log{
		Address: asset,
		Topics: []common.Hash{
			transferEventSignature,
			common.BytesToHash(from.Bytes()),
			common.BytesToHash(to.Bytes()),
		},
		Data: common.LeftPadBytes(new(big.Int).SetUint64(amount).Bytes(), 32),
	}
}

func TestRouterQuoteDecodesAmounts(t *testing.T) {
	backend := &fakeBackend{call: func(msg ethereum.CallMsg) ([]byte, error) {
		require.Equal(t, routerAddr, *msg.To)
		method, err := routerABI.MethodById(msg.Data[:4])
		require.NoError(t, err)
		require.Equal(t, "getAmountsOut", method.Name)
		return method.Outputs.Pack([]*big.Int{big.NewInt(10), big.NewInt(20_000)})
	}}
	router := NewRouter(routerAddr, newTransactor(t, backend))

	amounts, err := router.Quote(context.Background(), []common.Address{weth, usdc}, uint256.NewInt(10))
	require.NoError(t, err)
	require.Len(t, amounts, 2)
	require.Equal(t, uint64(20_000), amounts[1].Uint64())
}

func TestRouterQuoteRevertMeansNoLiquidity(t *testing.T) {
	backend := &fakeBackend{call: func(ethereum.CallMsg) ([]byte, error) {
		return nil, errors.New("execution reverted: UniswapV2Library: INSUFFICIENT_LIQUIDITY")
	}}
	router := NewRouter(routerAddr, newTransactor(t, backend))

	_, err := router.Quote(context.Background(), []common.Address{weth, usdc}, uint256.NewInt(10))
	require.ErrorIs(t, err, exchange.ErrNoLiquidity)
}

func TestRouterBaseAsset(t *testing.T) {
	backend := &fakeBackend{call: func(msg ethereum.CallMsg) ([]byte, error) {
		return routerABI.Methods["WETH"].Outputs.Pack(weth)
	}}
	router := NewRouter(routerAddr, newTransactor(t, backend))

	base, err := router.BaseAsset(context.Background())
	require.NoError(t, err)
	require.Equal(t, weth, base)
}

func TestRouterExecuteReadsRealizedOutputFromLogs(t *testing.T) {
	backend := &fakeBackend{pending: 2}
	tx := newTransactor(t, backend)
	backend.receipt = func(sent *gethtypes.Transaction) *gethtypes.Receipt {
		return &gethtypes.Receipt{
			Status: gethtypes.ReceiptStatusSuccessful,
			TxHash: sent.Hash(),
			Logs: []*gethtypes.Log{
				transferLog(weth, tx.From(), pairAddr, 10),
				transferLog(usdc, pairAddr, tx.From(), 19_850),
			},
		}
	}
	router := NewRouter(routerAddr, tx)

	amounts, err := router.Execute(context.Background(), uint256.NewInt(10), uint256.NewInt(19_800),
		[]common.Address{weth, usdc}, tx.From(), time.Now().Add(time.Minute))
	require.NoError(t, err)
	require.Equal(t, uint64(19_850), amounts[1].Uint64())

	require.Len(t, backend.sent, 1)
	sent := backend.sent[0]
	require.Equal(t, uint64(120_000), sent.Gas())
	signer := gethtypes.LatestSignerForChainID(big.NewInt(1337))
	from, err := gethtypes.Sender(signer, sent)
	require.NoError(t, err)
	require.Equal(t, tx.From(), from)
}

func TestRouterExecuteRevertedSwap(t *testing.T) {
	backend := &fakeBackend{receipt: func(sent *gethtypes.Transaction) *gethtypes.Receipt {
		return &gethtypes.Receipt{Status: gethtypes.ReceiptStatusFailed, TxHash: sent.Hash()}
	}}
	router := NewRouter(routerAddr, newTransactor(t, backend))

	_, err := router.Execute(context.Background(), uint256.NewInt(10), uint256.NewInt(1),
		[]common.Address{weth, usdc}, routerAddr, time.Now().Add(time.Minute))
	require.ErrorIs(t, err, ErrReverted)
}

func TestERC20BalanceAndTransfer(t *testing.T) {
	holder := common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	backend := &fakeBackend{call: func(msg ethereum.CallMsg) ([]byte, error) {
		method, err := erc20ABI.MethodById(msg.Data[:4])
		require.NoError(t, err)
		require.Equal(t, "balanceOf", method.Name)
		return method.Outputs.Pack(big.NewInt(4_200))
	}}
	registry := NewRegistry(newTransactor(t, backend))

	token, err := registry.Token(usdc)
	require.NoError(t, err)
	again, _ := registry.Token(usdc)
	require.Same(t, token, again)

	bal, err := token.BalanceOf(context.Background(), holder)
	require.NoError(t, err)
	require.Equal(t, uint64(4_200), bal.Uint64())

	require.NoError(t, token.Transfer(context.Background(), holder, uint256.NewInt(100)))
	require.Len(t, backend.sent, 1)
	require.Equal(t, usdc, *backend.sent[0].To())

	args, err := erc20ABI.Methods["transfer"].Inputs.Unpack(backend.sent[0].Data()[4:])
	require.NoError(t, err)
	require.Equal(t, holder, args[0].(common.Address))
	require.Equal(t, int64(100), args[1].(*big.Int).Int64())
}

func TestWaitMinedHonoursContext(t *testing.T) {
	backend := &fakeBackend{pending: 1 << 30}
	tx := newTransactor(t, backend)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := tx.Send(ctx, usdc, []byte{0x01})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.ErrorIs(t, err, custody.ErrOutcomeUnknown)
}

func TestTransferSurvivesTransientReceiptError(t *testing.T) {
	holder := common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	backend := &fakeBackend{receiptErrs: []error{errors.New("read tcp: connection reset by peer")}}
	token, err := NewRegistry(newTransactor(t, backend)).Token(usdc)
	require.NoError(t, err)

	require.NoError(t, token.Transfer(context.Background(), holder, uint256.NewInt(100)))
	require.Len(t, backend.sent, 1)
}

func TestTransferWithUnreachableNodeIsOutcomeUnknown(t *testing.T) {
	holder := common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	backend := &fakeBackend{receiptErrs: []error{errStuckNode}}
	token, err := NewRegistry(newTransactor(t, backend)).Token(usdc)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err = token.Transfer(ctx, holder, uint256.NewInt(100))
	require.ErrorIs(t, err, custody.ErrOutcomeUnknown)
	require.ErrorIs(t, err, errStuckNode)
	require.Len(t, backend.sent, 1)
}
