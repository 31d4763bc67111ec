package depositor

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const minSecretLength = 8

var (
	ErrDepositorExists    = errors.New("depositor already registered")
	ErrNotFound           = errors.New("depositor not found")
	ErrInvalidAddress     = errors.New("address must be a 0x-prefixed hex address")
	ErrWeakSecret         = errors.New("secret must be at least 8 characters")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// Service manages depositor registration and credential checks.
type Service struct {
	repo Repository
	now  func() time.Time
}

// NewService creates a new depositor service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: func() time.Time { return time.Now().UTC() }}
}

// Register creates a depositor bound to an address and stores a hashed secret.
func (s *Service) Register(ctx context.Context, creds Credentials) (Depositor, error) {
	address, err := ParseAddress(creds.Address)
	if err != nil {
		return Depositor{}, err
	}
	if len(creds.Secret) < minSecretLength {
		return Depositor{}, ErrWeakSecret
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(creds.Secret), bcrypt.DefaultCost)
	if err != nil {
		return Depositor{}, err
	}

	d := Depositor{
		ID:         uuid.NewString(),
		Address:    address,
		SecretHash: hash,
		CreatedAt:  s.now(),
	}
	if err := s.repo.Create(ctx, d); err != nil {
		return Depositor{}, err
	}
	return d, nil
}

// Authenticate verifies the secret for an address. Unknown addresses and bad
// secrets are indistinguishable to the caller.
func (s *Service) Authenticate(ctx context.Context, creds Credentials) (Depositor, error) {
	address, err := ParseAddress(creds.Address)
	if err != nil {
		return Depositor{}, ErrInvalidCredentials
	}
	d, err := s.repo.FindByAddress(ctx, address)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Depositor{}, ErrInvalidCredentials
		}
		return Depositor{}, err
	}
	if err := bcrypt.CompareHashAndPassword(d.SecretHash, []byte(creds.Secret)); err != nil {
		return Depositor{}, ErrInvalidCredentials
	}

	d.LastLogin = s.now()
	if err := s.repo.TouchLogin(ctx, d.ID, d.LastLogin); err != nil {
		return Depositor{}, err
	}
	return d, nil
}

// Get loads a depositor by identifier.
func (s *Service) Get(ctx context.Context, id string) (Depositor, error) {
	return s.repo.FindByID(ctx, id)
}

// Repository exposes the underlying store for collaborators such as token
// verification.
func (s *Service) Repository() Repository {
	return s.repo
}

// ParseAddress accepts a hex address with or without checksum casing.
func ParseAddress(raw string) (common.Address, error) {
	raw = strings.TrimSpace(raw)
	if !common.IsHexAddress(raw) {
		return common.Address{}, ErrInvalidAddress
	}
	address := common.HexToAddress(raw)
	if address == (common.Address{}) {
		return common.Address{}, ErrInvalidAddress
	}
	return address, nil
}
