package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/congo-pay/capvault/internal/config"
	"github.com/congo-pay/capvault/internal/depositor"
)

const (
	tokenTypeAccess  = "access"
	tokenTypeRefresh = "refresh"
	issuer           = "capvault"
)

var (
	ErrInvalidToken     = errors.New("invalid token")
	ErrTokenInvalidated = errors.New("token version invalidated")
)

// Claims carried by both access and refresh tokens.
type Claims struct {
	Address string `json:"addr"`
	Version int    `json:"ver"`
	Type    string `json:"typ"`
	jwt.RegisteredClaims
}

// Service issues and verifies depositor tokens.
type Service struct {
	cfg  config.Config
	repo depositor.Repository
	now  func() time.Time
}

func NewService(cfg config.Config, repo depositor.Repository) *Service {
	return &Service{cfg: cfg, repo: repo, now: time.Now}
}

type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

// Login issues a token pair for an already authenticated depositor.
func (s *Service) Login(d depositor.Depositor) (TokenPair, error) {
	access, err := s.sign(d, tokenTypeAccess, s.cfg.JWTSecret, s.cfg.AccessTokenTTL)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, err := s.sign(d, tokenTypeRefresh, s.cfg.RefreshSecret, s.cfg.RefreshTokenTTL)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{AccessToken: access, RefreshToken: refresh, ExpiresIn: int64(s.cfg.AccessTokenTTL.Seconds())}, nil
}

func (s *Service) sign(d depositor.Depositor, typ, secret string, ttl time.Duration) (string, error) {
	now := s.now()
	claims := Claims{
		Address: d.Address.Hex(),
		Version: d.TokenVersion,
		Type:    typ,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   d.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// Refresh verifies the refresh token and returns a new access token if valid.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (string, int64, error) {
	d, err := s.verify(ctx, refreshToken, tokenTypeRefresh, s.cfg.RefreshSecret)
	if err != nil {
		return "", 0, err
	}
	signed, err := s.sign(d, tokenTypeAccess, s.cfg.JWTSecret, s.cfg.AccessTokenTTL)
	if err != nil {
		return "", 0, err
	}
	return signed, int64(s.cfg.AccessTokenTTL.Seconds()), nil
}

// Authenticate verifies an access token and returns the depositor it was
// issued to. Tokens minted before the last logout are rejected.
func (s *Service) Authenticate(ctx context.Context, accessToken string) (depositor.Depositor, error) {
	return s.verify(ctx, accessToken, tokenTypeAccess, s.cfg.JWTSecret)
}

// Logout increments token version so older tokens become invalid.
func (s *Service) Logout(ctx context.Context, depositorID string) error {
	d, err := s.repo.FindByID(ctx, depositorID)
	if err != nil {
		return err
	}
	return s.repo.UpdateTokenVersion(ctx, d.ID, d.TokenVersion+1)
}

func (s *Service) verify(ctx context.Context, raw, typ, secret string) (depositor.Depositor, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return []byte(secret), nil
	}, jwt.WithIssuer(issuer), jwt.WithExpirationRequired(), jwt.WithTimeFunc(s.now))
	if err != nil {
		return depositor.Depositor{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Type != typ {
		return depositor.Depositor{}, ErrInvalidToken
	}

	d, err := s.repo.FindByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, depositor.ErrNotFound) {
			return depositor.Depositor{}, ErrInvalidToken
		}
		return depositor.Depositor{}, err
	}
	if d.TokenVersion != claims.Version || d.Address.Hex() != claims.Address {
		return depositor.Depositor{}, ErrTokenInvalidated
	}
	return d, nil
}
