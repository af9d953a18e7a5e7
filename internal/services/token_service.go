package services

import (
	"context"
	"strconv"
	"time"

	"github.com/docflow/docflow/internal/config"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Blacklist remembers revoked token ids until the token would have expired
// anyway.
type Blacklist interface {
	Revoke(ctx context.Context, jti string, expiresAt time.Time) error
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

type Claims struct {
	JTI       string
	UserID    uint
	Email     string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

type jwtClaims struct {
	UserID uint   `json:"uid"`
	Email  string `json:"email"`
	jwt.RegisteredClaims
}

type TokenService struct {
	secret    []byte
	issuer    string
	ttl       time.Duration
	blacklist Blacklist
	logger    *zap.Logger
	now       func() time.Time
}

func NewTokenService(cfg config.SecurityConfig, blacklist Blacklist, logger *zap.Logger) *TokenService {
	return &TokenService{
		secret:    []byte(cfg.JWTSecret),
		issuer:    cfg.JWTIssuer,
		ttl:       cfg.TokenTTL,
		blacklist: blacklist,
		logger:    logger.With(zap.String("service", "token_service")),
		now:       time.Now,
	}
}

func (ts *TokenService) Issue(userID uint, email string) (string, Claims, error) {
	now := ts.now().UTC()
	jti := uuid.NewString()

	cl := jwtClaims{
		UserID: userID,
		Email:  email,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Issuer:    ts.issuer,
			Subject:   strconv.FormatUint(uint64(userID), 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ts.ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, cl).SignedString(ts.secret)
	if err != nil {
		return "", Claims{}, err
	}
	return signed, toClaims(cl), nil
}

// Parse validates signature, expiry and revocation. Any problem with the
// token itself is ErrUnauthorized; a failing blacklist is a storage error.
func (ts *TokenService) Parse(ctx context.Context, raw string) (Claims, error) {
	var cl jwtClaims
	tkn, err := jwt.ParseWithClaims(raw, &cl, func(*jwt.Token) (any, error) {
		return ts.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(ts.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(ts.now),
	)
	if err != nil || !tkn.Valid || cl.ID == "" || cl.UserID == 0 {
		return Claims{}, ErrUnauthorized
	}

	revoked, err := ts.blacklist.IsRevoked(ctx, cl.ID)
	if err != nil {
		return Claims{}, storageErr("check token", err)
	}
	if revoked {
		return Claims{}, ErrUnauthorized
	}
	return toClaims(cl), nil
}

// Revoke blacklists the token until its expiry. Revoking an expired token is
// a no-op.
func (ts *TokenService) Revoke(ctx context.Context, claims Claims) error {
	if !claims.ExpiresAt.After(ts.now()) {
		return nil
	}
	if err := ts.blacklist.Revoke(ctx, claims.JTI, claims.ExpiresAt); err != nil {
		return storageErr("revoke token", err)
	}
	ts.logger.Info("Token revoked", zap.Uint("user_id", claims.UserID), zap.String("jti", claims.JTI))
	return nil
}

func toClaims(cl jwtClaims) Claims {
	out := Claims{JTI: cl.ID, UserID: cl.UserID, Email: cl.Email}
	if cl.IssuedAt != nil {
		out.IssuedAt = cl.IssuedAt.Time
	}
	if cl.ExpiresAt != nil {
		out.ExpiresAt = cl.ExpiresAt.Time
	}
	return out
}
