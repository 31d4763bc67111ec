package depositor

import (
	"context"
	"errors"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists depositors.
type Repository interface {
	Create(ctx context.Context, d Depositor) error
	FindByAddress(ctx context.Context, address common.Address) (Depositor, error)
	FindByID(ctx context.Context, id string) (Depositor, error)
	UpdateTokenVersion(ctx context.Context, id string, version int) error
	TouchLogin(ctx context.Context, id string, at time.Time) error
}

// PostgresRepository implements Repository using PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a Postgres-backed depositor repository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create inserts a new depositor.
func (r *PostgresRepository) Create(ctx context.Context, d Depositor) error {
	id, err := uuid.Parse(d.ID)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx, `INSERT INTO depositors (id, address, secret_hash, token_version, created_at)
        VALUES ($1, $2, $3, $4, $5)`, id, d.Address.Hex(), d.SecretHash, d.TokenVersion, d.CreatedAt.UTC())
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrDepositorExists
	}
	return err
}

// FindByAddress fetches a depositor by checksummed address.
func (r *PostgresRepository) FindByAddress(ctx context.Context, address common.Address) (Depositor, error) {
	return r.findOne(ctx, `SELECT id, address, secret_hash, token_version, created_at, last_login
        FROM depositors WHERE address = $1`, address.Hex())
}

// FindByID fetches a depositor by identifier.
func (r *PostgresRepository) FindByID(ctx context.Context, id string) (Depositor, error) {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return Depositor{}, ErrNotFound
	}
	return r.findOne(ctx, `SELECT id, address, secret_hash, token_version, created_at, last_login
        FROM depositors WHERE id = $1`, parsed)
}

func (r *PostgresRepository) findOne(ctx context.Context, query string, arg any) (Depositor, error) {
	var (
		id         uuid.UUID
		addressHex string
		createdAt  time.Time
		lastLogin  *time.Time
		d          Depositor
	)
	err := r.db.QueryRow(ctx, query, arg).Scan(&id, &addressHex, &d.SecretHash, &d.TokenVersion, &createdAt, &lastLogin)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Depositor{}, ErrNotFound
		}
		return Depositor{}, err
	}
	d.ID = id.String()
	d.Address = common.HexToAddress(addressHex)
	d.CreatedAt = createdAt.UTC()
	if lastLogin != nil {
		d.LastLogin = lastLogin.UTC()
	}
	return d, nil
}

// UpdateTokenVersion stores a new token version, invalidating older tokens.
func (r *PostgresRepository) UpdateTokenVersion(ctx context.Context, id string, version int) error {
	return r.update(ctx, `UPDATE depositors SET token_version = $1 WHERE id = $2`, id, version)
}

// TouchLogin records the last successful login.
func (r *PostgresRepository) TouchLogin(ctx context.Context, id string, at time.Time) error {
	return r.update(ctx, `UPDATE depositors SET last_login = $1 WHERE id = $2`, id, at.UTC())
}

func (r *PostgresRepository) update(ctx context.Context, query, id string, value any) error {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return ErrNotFound
	}
	cmd, err := r.db.Exec(ctx, query, value, parsed)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
