package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrCommitAfterInteraction signals that a debit's external interaction
// succeeded but the database transaction could not be committed. Custody and
// the ledger disagree until an operator reconciles the entry.
var ErrCommitAfterInteraction = errors.New("ledger commit failed after external interaction")

// PostgresLedger persists balances, totals and the journal in PostgreSQL.
// Amounts are stored as NUMERIC(78,0) so every uint256 value fits.
type PostgresLedger struct {
	db *pgxpool.Pool
}

// NewPostgresLedger constructs a Postgres-backed ledger implementation.
func NewPostgresLedger(db *pgxpool.Pool) *PostgresLedger {
	return &PostgresLedger{db: db}
}

// Balance returns the stored balance for the depositor, zero when unknown.
func (l *PostgresLedger) Balance(ctx context.Context, depositor common.Address) (*uint256.Int, error) {
	const query = `SELECT balance::text FROM vault_balances WHERE depositor = $1`
	var raw string
	if err := l.db.QueryRow(ctx, query, depositor.Hex()).Scan(&raw); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return new(uint256.Int), nil
		}
		return nil, err
	}
	return parseNumeric(raw)
}

// State returns the global totals and counters.
func (l *PostgresLedger) State(ctx context.Context) (State, error) {
	return scanState(l.db.QueryRow(ctx, `SELECT total_deposits::text, deposit_count, withdrawal_count
        FROM vault_state WHERE id = 1`))
}

// Credit adds the posting to the depositor balance and the global total in a
// single transaction, incrementing the deposit counter.
func (l *PostgresLedger) Credit(ctx context.Context, p Posting) (Entry, error) {
	if err := p.validate(); err != nil {
		return Entry{}, err
	}

	tx, err := l.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Entry{}, err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	state, err := lockState(ctx, tx)
	if err != nil {
		return Entry{}, err
	}
	balance, err := lockBalance(ctx, tx, p.Depositor)
	if err != nil {
		return Entry{}, err
	}

	total, overflow := new(uint256.Int).AddOverflow(state.TotalDeposits, p.Amount)
	if overflow {
		return Entry{}, ErrOverflow
	}
	balance, overflow = new(uint256.Int).AddOverflow(balance, p.Amount)
	if overflow {
		return Entry{}, ErrOverflow
	}

	if _, err := tx.Exec(ctx, `UPDATE vault_state SET total_deposits = $1::text::numeric, deposit_count = deposit_count + 1
        WHERE id = 1`, total.Dec()); err != nil {
		return Entry{}, err
	}
	if err := writeBalance(ctx, tx, p.Depositor, balance); err != nil {
		return Entry{}, err
	}

	entry, err := insertEntry(ctx, tx, KindDeposit, p, balance, total)
	if err != nil {
		return Entry{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Entry{}, err
	}
	return entry, nil
}

// Debit subtracts the posting inside a transaction, runs the interaction
// while the rows are still locked and commits only if it succeeded. A failed
// interaction rolls the debit back with the transaction.
func (l *PostgresLedger) Debit(ctx context.Context, p Posting, interaction Interaction) (Entry, error) {
	if err := p.validate(); err != nil {
		return Entry{}, err
	}

	tx, err := l.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Entry{}, err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	state, err := lockState(ctx, tx)
	if err != nil {
		return Entry{}, err
	}
	balance, err := lockBalance(ctx, tx, p.Depositor)
	if err != nil {
		return Entry{}, err
	}
	if balance.Lt(p.Amount) || state.TotalDeposits.Lt(p.Amount) {
		return Entry{}, ErrInsufficientBalance
	}

	balance = new(uint256.Int).Sub(balance, p.Amount)
	total := new(uint256.Int).Sub(state.TotalDeposits, p.Amount)

	if _, err := tx.Exec(ctx, `UPDATE vault_state SET total_deposits = $1::text::numeric, withdrawal_count = withdrawal_count + 1
        WHERE id = 1`, total.Dec()); err != nil {
		return Entry{}, err
	}
	if err := writeBalance(ctx, tx, p.Depositor, balance); err != nil {
		return Entry{}, err
	}
	entry, err := insertEntry(ctx, tx, KindWithdrawal, p, balance, total)
	if err != nil {
		return Entry{}, err
	}

	if interaction != nil {
		if err := interaction(ctx); err != nil {
			return Entry{}, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Entry{}, fmt.Errorf("%w: entry %s: %v", ErrCommitAfterInteraction, entry.ID, err)
	}
	return entry, nil
}

// Entries lists journal lines newest first. A zero depositor lists all entries.
func (l *PostgresLedger) Entries(ctx context.Context, depositor common.Address, limit int) ([]Entry, error) {
	if limit < 0 {
		return nil, fmt.Errorf("limit must not be negative")
	}
	if limit == 0 {
		limit = 1000
	}

	query := `SELECT id, kind, depositor, amount::text, asset, amount_in::text, balance_after::text, total_after::text, created_at
        FROM vault_entries`
	args := []any{}
	if depositor != (common.Address{}) {
		query += ` WHERE depositor = $1 ORDER BY created_at DESC, id LIMIT $2`
		args = append(args, depositor.Hex(), limit)
	} else {
		query += ` ORDER BY created_at DESC, id LIMIT $1`
		args = append(args, limit)
	}

	rows, err := l.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Entry, 0)
	for rows.Next() {
		var (
			id                                  uuid.UUID
			e                                   Entry
			depositorHex, assetHex              string
			amount, amountIn, balance, totalRaw string
			createdAt                           time.Time
		)
		if err := rows.Scan(&id, &e.Kind, &depositorHex, &amount, &assetHex, &amountIn, &balance, &totalRaw, &createdAt); err != nil {
			return nil, err
		}
		e.ID = id.String()
		e.Depositor = common.HexToAddress(depositorHex)
		e.Asset = common.HexToAddress(assetHex)
		e.CreatedAt = createdAt.UTC()
		if e.Amount, err = parseNumeric(amount); err != nil {
			return nil, err
		}
		if e.AmountIn, err = parseNumeric(amountIn); err != nil {
			return nil, err
		}
		if e.Balance, err = parseNumeric(balance); err != nil {
			return nil, err
		}
		if e.Total, err = parseNumeric(totalRaw); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func lockState(ctx context.Context, tx pgx.Tx) (State, error) {
	state, err := scanState(tx.QueryRow(ctx, `SELECT total_deposits::text, deposit_count, withdrawal_count
        FROM vault_state WHERE id = 1 FOR UPDATE`))
	if err != nil {
		return State{}, err
	}
	return state, nil
}

func scanState(row pgx.Row) (State, error) {
	var (
		raw         string
		deposits    int64
		withdrawals int64
	)
	if err := row.Scan(&raw, &deposits, &withdrawals); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return State{}, fmt.Errorf("vault_state row missing; run migrations")
		}
		return State{}, err
	}
	total, err := parseNumeric(raw)
	if err != nil {
		return State{}, err
	}
	return State{TotalDeposits: total, DepositCount: uint64(deposits), WithdrawalCount: uint64(withdrawals)}, nil
}

func lockBalance(ctx context.Context, tx pgx.Tx, depositor common.Address) (*uint256.Int, error) {
	if _, err := tx.Exec(ctx, `INSERT INTO vault_balances (depositor, balance, updated_at) VALUES ($1, 0, $2)
        ON CONFLICT (depositor) DO NOTHING`, depositor.Hex(), time.Now().UTC()); err != nil {
		return nil, err
	}
	var raw string
	if err := tx.QueryRow(ctx, `SELECT balance::text FROM vault_balances WHERE depositor = $1 FOR UPDATE`, depositor.Hex()).Scan(&raw); err != nil {
		return nil, err
	}
	return parseNumeric(raw)
}

func writeBalance(ctx context.Context, tx pgx.Tx, depositor common.Address, balance *uint256.Int) error {
	_, err := tx.Exec(ctx, `UPDATE vault_balances SET balance = $1::text::numeric, updated_at = $2 WHERE depositor = $3`,
		balance.Dec(), time.Now().UTC(), depositor.Hex())
	return err
}

func insertEntry(ctx context.Context, tx pgx.Tx, kind string, p Posting, balance, total *uint256.Int) (Entry, error) {
	entry := Entry{
		ID:        uuid.NewString(),
		Kind:      kind,
		Depositor: p.Depositor,
		Amount:    new(uint256.Int).Set(p.Amount),
		Asset:     p.Asset,
		AmountIn:  p.amountIn(),
		Balance:   new(uint256.Int).Set(balance),
		Total:     new(uint256.Int).Set(total),
		CreatedAt: time.Now().UTC(),
	}
	_, err := tx.Exec(ctx, `INSERT INTO vault_entries
        (id, kind, depositor, amount, asset, amount_in, balance_after, total_after, created_at)
        VALUES ($1, $2, $3, $4::text::numeric, $5, $6::text::numeric, $7::text::numeric, $8::text::numeric, $9)`,
		uuid.MustParse(entry.ID), entry.Kind, entry.Depositor.Hex(), entry.Amount.Dec(), entry.Asset.Hex(),
		entry.AmountIn.Dec(), entry.Balance.Dec(), entry.Total.Dec(), entry.CreatedAt)
	if err != nil {
		return Entry{}, err
	}
	return entry, nil
}

func parseNumeric(raw string) (*uint256.Int, error) {
	v, err := uint256.FromDecimal(raw)
	if err != nil {
		return nil, fmt.Errorf("parse numeric %q: %w", raw, err)
	}
	return v, nil
}
