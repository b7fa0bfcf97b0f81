package auth

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/wanderlustcms/api/internal/clock"
	"github.com/wanderlustcms/api/internal/config"
	apperrors "github.com/wanderlustcms/api/internal/errors"
)

const refreshTokenBytes = 64

var (
	ErrInvalidSignature = errors.New("token signature or algorithm is invalid")
	ErrTokenExpired     = errors.New("token has expired")
	ErrTokenMalformed   = errors.New("token is malformed")
)

// Subject is the identity an access token is minted for.
type Subject struct {
	ID            uuid.UUID
	Username      string
	Email         string
	DisplayName   string
	Role          string
	EmailVerified bool
}

// Claims is the access token claim set. Access tokens are self-contained:
// validating the signature and expiry is sufficient, no server-side
// record exists.
type Claims struct {
	Username      string `json:"username"`
	Email         string `json:"email"`
	DisplayName   string `json:"displayName"`
	Role          string `json:"role"`
	EmailVerified bool   `json:"emailVerified"`
	jwt.RegisteredClaims
}

// Issuer creates and parses signed access tokens and opaque refresh
// tokens. Only HMAC-SHA256 is ever accepted; a token carrying any other
// algorithm fails signature validation regardless of its content.
type Issuer struct {
	secret    []byte
	issuer    string
	audience  string
	accessTTL time.Duration
	clk       clock.Clock
}

// NewIssuer fails when no signing key is configured. Callers must treat
// that as fatal at startup, not as a per-request condition.
func NewIssuer(cfg config.JWT, clk clock.Clock) (*Issuer, error) {
	if cfg.Secret == "" {
		return nil, apperrors.ConfigError("JWT secret is not configured", nil)
	}
	if cfg.AccessTokenExpiry <= 0 {
		return nil, apperrors.ConfigError("JWT access token expiry must be positive", nil)
	}

	return &Issuer{
		secret:    []byte(cfg.Secret),
		issuer:    cfg.Issuer,
		audience:  cfg.Audience,
		accessTTL: cfg.AccessTokenExpiry,
		clk:       clk,
	}, nil
}

// IssueAccessToken signs a claim set for the subject. Lifetime is fixed
// at issuance; the token is immutable and non-revocable until it expires.
func (i *Issuer) IssueAccessToken(sub Subject) (string, error) {
	now := i.clk.Now()

	claims := Claims{
		Username:      sub.Username,
		Email:         sub.Email,
		DisplayName:   sub.DisplayName,
		Role:          sub.Role,
		EmailVerified: sub.EmailVerified,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub.ID.String(),
			Issuer:    i.issuer,
			Audience:  jwt.ClaimStrings{i.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.accessTTL)),
			ID:        uuid.NewString(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("sign access token: %w", err)
	}

	return signed, nil
}

// IssueRefreshToken returns an opaque random token with no embedded
// claims. Validity lives entirely in the session store.
func (i *Issuer) IssueRefreshToken() (string, error) {
	buf := make([]byte, refreshTokenBytes)
	if _, err := io.ReadFull(rand.Reader, buf); err != nil {
		return "", fmt.Errorf("generate refresh token: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf), nil
}

// Parse fully validates a token: signature, structure and expiry.
func (i *Issuer) Parse(tokenString string) (*Claims, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, i.keyFunc,
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(i.clk.Now),
	)
	if err != nil {
		return nil, mapParseError(err)
	}
	if !token.Valid {
		return nil, ErrInvalidSignature
	}

	return claims, nil
}

// ParseExpired validates signature and structure but deliberately ignores
// expiry. It exists for exactly one purpose: accepting a just-expired
// access token during a refresh exchange.
func (i *Issuer) ParseExpired(tokenString string) (*Claims, error) {
	claims := &Claims{}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)

	token, err := parser.ParseWithClaims(tokenString, claims, i.keyFunc)
	if err != nil {
		return nil, mapParseError(err)
	}
	if !token.Valid {
		return nil, ErrInvalidSignature
	}

	return claims, nil
}

// GetExpiry reads the expiry claim without validating the token. The
// result feeds response metadata only, never an authorization decision.
func (i *Issuer) GetExpiry(tokenString string) (time.Time, error) {
	claims := &Claims{}

	if _, _, err := jwt.NewParser().ParseUnverified(tokenString, claims); err != nil {
		return time.Time{}, ErrTokenMalformed
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, ErrTokenMalformed
	}

	return claims.ExpiresAt.Time, nil
}

func (i *Issuer) keyFunc(token *jwt.Token) (any, error) {
	if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, ErrInvalidSignature
	}
	return i.secret, nil
}

func mapParseError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrTokenExpired
	case errors.Is(err, jwt.ErrTokenSignatureInvalid),
		errors.Is(err, jwt.ErrTokenUnverifiable),
		errors.Is(err, ErrInvalidSignature):
		return ErrInvalidSignature
	default:
		return ErrTokenMalformed
	}
}
