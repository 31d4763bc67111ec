package routes

import (
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gofiber/fiber/v2"
	"github.com/holiman/uint256"

	"github.com/congo-pay/capvault/internal/custody"
	"github.com/congo-pay/capvault/internal/exchange"
	"github.com/congo-pay/capvault/internal/middleware"
	"github.com/congo-pay/capvault/internal/vault"
)

// Well-known addresses of the development simulator. Configured addresses
// win when set.
var (
	devUnitAsset    = common.HexToAddress("0x0000000000000000000000000000000000001001")
	devBaseAsset    = common.HexToAddress("0x0000000000000000000000000000000000001002")
	devForeignAsset = common.HexToAddress("0x0000000000000000000000000000000000001003")
	devExchange     = common.HexToAddress("0x0000000000000000000000000000000000002001")
	devCustodian    = common.HexToAddress("0x0000000000000000000000000000000000003001")
)

const (
	devCapacity          = 1_000_000_000_000 // 1,000,000 units at 6 decimals
	devWithdrawalCeiling = 10_000_000_000
	devReserve           = 1_000_000_000_000_000
)

var maxFaucetAmount = uint256.MustFromDecimal("1000000000000000000000000")

// simulator bundles the in-memory custody book and exchange used when no
// chain is configured.
type simulator struct {
	book     *custody.Book
	exchange *exchange.Simulated
	params   vault.Params
}

// newSimulator fills the zero addresses and limits of params with
// development values and seeds exchange reserves in the unit asset.
func newSimulator(params *vault.Params) *simulator {
	if params.UnitOfAccount == (common.Address{}) {
		params.UnitOfAccount = devUnitAsset
	}
	if params.BaseRoutingAsset == (common.Address{}) {
		params.BaseRoutingAsset = devBaseAsset
	}
	if params.Exchange == (common.Address{}) {
		params.Exchange = devExchange
	}
	if params.Custodian == (common.Address{}) {
		params.Custodian = devCustodian
	}
	if params.CapacityCeiling == nil || params.CapacityCeiling.IsZero() {
		params.CapacityCeiling = uint256.NewInt(devCapacity)
	}
	if params.WithdrawalCeiling == nil || params.WithdrawalCeiling.IsZero() {
		params.WithdrawalCeiling = uint256.NewInt(devWithdrawalCeiling)
	}

	book := custody.NewBook(params.Custodian)
	ex := exchange.NewSimulated(book, params.Exchange, params.BaseRoutingAsset, params.Custodian)
	// 1 base (18 decimals) = 2000 units (6 decimals); 2000 foreign = 1 base.
	ex.SetRate(params.BaseRoutingAsset, params.UnitOfAccount, 2_000_000_000, 1_000_000_000_000_000_000)
	ex.SetRate(devForeignAsset, params.BaseRoutingAsset, 1, 2000)
	_ = book.Mint(params.UnitOfAccount, params.Exchange, uint256.NewInt(devReserve))
	_ = book.Mint(params.BaseRoutingAsset, params.Exchange, uint256.NewInt(devReserve))

	return &simulator{book: book, exchange: ex, params: *params}
}

type faucetRequest struct {
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
}

// RegisterDevRoutes exposes a faucet that mints simulated assets to the
// authenticated depositor and approves the custodian to pull them.
func RegisterDevRoutes(protected fiber.Router, sim *simulator) {
	protected.Post("/dev/faucet", func(c *fiber.Ctx) error {
		who, _ := c.Locals(middleware.LocalDepositor).(string)
		if !common.IsHexAddress(who) {
			return fiber.NewError(http.StatusUnauthorized, "authentication required")
		}
		depositor := common.HexToAddress(who)

		var req faucetRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(http.StatusBadRequest, err.Error())
		}
		asset := sim.params.UnitOfAccount
		if req.Asset != "" {
			if !common.IsHexAddress(req.Asset) {
				return fiber.NewError(http.StatusBadRequest, "asset must be a hex address")
			}
			asset = common.HexToAddress(req.Asset)
		}
		amount, err := uint256.FromDecimal(req.Amount)
		if err != nil || amount.IsZero() || amount.Gt(maxFaucetAmount) {
			return fiber.NewError(http.StatusBadRequest, "amount must be a positive base-unit integer within the faucet limit")
		}

		if err := sim.book.Mint(asset, depositor, amount); err != nil {
			return fiber.NewError(http.StatusConflict, err.Error())
		}
		sim.book.SetAllowance(asset, depositor, sim.params.Custodian, custody.MaxAllowance())

		return c.Status(http.StatusOK).JSON(fiber.Map{
			"asset":     asset.Hex(),
			"depositor": depositor.Hex(),
			"balance":   sim.book.BalanceOf(asset, depositor).Dec(),
		})
	})
}
