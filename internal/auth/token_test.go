package auth

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wanderlustcms/api/internal/clock"
	"github.com/wanderlustcms/api/internal/config"
)

const testSecret = "test-secret-key-that-is-long-enough!"

func testJWTConfig() config.JWT {
	return config.JWT{
		Secret:             testSecret,
		Issuer:             "WanderlustApi",
		Audience:           "WanderlustClient",
		AccessTokenExpiry:  time.Hour,
		RefreshTokenExpiry: 7 * 24 * time.Hour,
	}
}

func testSubject() Subject {
	return Subject{
		ID:            uuid.New(),
		Username:      "wanderer",
		Email:         "wanderer@example.com",
		DisplayName:   "The Wanderer",
		Role:          "member",
		EmailVerified: true,
	}
}

func TestNewIssuer_MissingSecret(t *testing.T) {
	cfg := testJWTConfig()
	cfg.Secret = ""

	_, err := NewIssuer(cfg, clock.System{})
	require.Error(t, err, "a missing signing key must fail at construction time")
}

func TestIssuer_IssueAndParse(t *testing.T) {
	clk := clock.NewFake(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	issuer, err := NewIssuer(testJWTConfig(), clk)
	require.NoError(t, err)

	sub := testSubject()
	token, err := issuer.IssueAccessToken(sub)
	require.NoError(t, err)

	claims, err := issuer.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, sub.ID.String(), claims.Subject)
	assert.Equal(t, sub.Username, claims.Username)
	assert.Equal(t, sub.Email, claims.Email)
	assert.Equal(t, sub.DisplayName, claims.DisplayName)
	assert.Equal(t, sub.Role, claims.Role)
	assert.True(t, claims.EmailVerified)
	assert.NotEmpty(t, claims.ID, "jti must be set")
	assert.Equal(t, clk.Now().Add(time.Hour).Unix(), claims.ExpiresAt.Unix())
}

func TestIssuer_ExpiredTokenFailsParse(t *testing.T) {
	clk := clock.NewFake(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	issuer, err := NewIssuer(testJWTConfig(), clk)
	require.NoError(t, err)

	token, err := issuer.IssueAccessToken(testSubject())
	require.NoError(t, err)

	clk.Advance(2 * time.Hour)

	_, err = issuer.Parse(token)
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestIssuer_ParseExpired(t *testing.T) {
	clk := clock.NewFake(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	issuer, err := NewIssuer(testJWTConfig(), clk)
	require.NoError(t, err)

	sub := testSubject()
	token, err := issuer.IssueAccessToken(sub)
	require.NoError(t, err)

	clk.Advance(2 * time.Hour)

	// The refresh exchange accepts an expired token as long as the
	// signature still checks out.
	claims, err := issuer.ParseExpired(token)
	require.NoError(t, err)
	assert.Equal(t, sub.ID.String(), claims.Subject)
}

func TestIssuer_ParseExpired_WrongKey(t *testing.T) {
	clk := clock.NewFake(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	issuer, err := NewIssuer(testJWTConfig(), clk)
	require.NoError(t, err)

	otherCfg := testJWTConfig()
	otherCfg.Secret = "a-completely-different-signing-key!!"
	otherIssuer, err := NewIssuer(otherCfg, clk)
	require.NoError(t, err)

	token, err := otherIssuer.IssueAccessToken(testSubject())
	require.NoError(t, err)

	_, err = issuer.ParseExpired(token)
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestIssuer_RejectsAlgorithmConfusion(t *testing.T) {
	clk := clock.NewFake(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	issuer, err := NewIssuer(testJWTConfig(), clk)
	require.NoError(t, err)

	// Hand-built token claiming alg "none" with an empty signature.
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"none","typ":"JWT"}`))
	payload := base64.RawURLEncoding.EncodeToString([]byte(`{"sub":"attacker"}`))
	forged := header + "." + payload + "."

	_, err = issuer.Parse(forged)
	require.Error(t, err)

	_, err = issuer.ParseExpired(forged)
	require.Error(t, err, "ParseExpired must still pin the algorithm")
}

func TestIssuer_IssueRefreshToken(t *testing.T) {
	issuer, err := NewIssuer(testJWTConfig(), clock.System{})
	require.NoError(t, err)

	first, err := issuer.IssueRefreshToken()
	require.NoError(t, err)
	second, err := issuer.IssueRefreshToken()
	require.NoError(t, err)

	assert.NotEqual(t, first, second)

	raw, err := base64.StdEncoding.DecodeString(first)
	require.NoError(t, err)
	assert.Len(t, raw, refreshTokenBytes)
}

func TestIssuer_GetExpiry(t *testing.T) {
	clk := clock.NewFake(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	issuer, err := NewIssuer(testJWTConfig(), clk)
	require.NoError(t, err)

	token, err := issuer.IssueAccessToken(testSubject())
	require.NoError(t, err)

	expiry, err := issuer.GetExpiry(token)
	require.NoError(t, err)
	assert.Equal(t, clk.Now().Add(time.Hour).Unix(), expiry.Unix())

	_, err = issuer.GetExpiry("not-a-token")
	assert.ErrorIs(t, err, ErrTokenMalformed)
}
