package tokens

import (
	"encoding/base64"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nospoilers/backend/internal/apperr"
	"github.com/nospoilers/backend/internal/clock"
)

func newTestBroker(t *testing.T, clk clock.Clock) *Broker {
	t.Helper()
	b, err := NewBroker(Config{Secret: "unit-test-secret"}, clk)
	require.NoError(t, err, "broker construction should succeed with a secret")
	return b
}

func TestNewBrokerRequiresSecret(t *testing.T) {
	_, err := NewBroker(Config{}, clock.System{})
	require.ErrorIs(t, err, apperr.ErrCryptoUnavailable,
		"empty secret must be construction-fatal")
}

func TestIssueAndVerifyRoundTrip(t *testing.T) {
	clk := clock.NewManual(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	b := newTestBroker(t, clk)

	token, claims, err := b.Issue("user-1", "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
	assert.Equal(t, "sess-1", claims.SessionID)
	assert.Equal(t, "nospoilers-auth", claims.Issuer, "issuer should default")
	assert.Equal(t, claims.IssuedAt+int64((15*time.Minute).Seconds()), claims.ExpiresAt)

	got, err := b.Verify(token)
	require.NoError(t, err, "freshly issued token should verify")
	assert.Equal(t, claims, *got)
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	clk := clock.NewManual(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	b := newTestBroker(t, clk)

	token, _, err := b.Issue("user-1", "sess-1")
	require.NoError(t, err)

	clk.Advance(15*time.Minute + time.Second)

	_, err = b.Verify(token)
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestVerifyRejectsTamperedClaims(t *testing.T) {
	clk := clock.NewManual(time.Now())
	b := newTestBroker(t, clk)

	token, _, err := b.Issue("user-1", "sess-1")
	require.NoError(t, err)

	parts := strings.Split(token, ".")
	require.Len(t, parts, 2)

	forged := `{"uid":"user-2","sid":"sess-1","iat":0,"exp":99999999999,"iss":"nospoilers-auth"}`
	tampered := base64.RawURLEncoding.EncodeToString([]byte(forged)) + "." + parts[1]

	_, err = b.Verify(tampered)
	assert.ErrorIs(t, err, ErrBadSignature, "signature must bind the claims")
}

func TestVerifyRejectsMalformedTokens(t *testing.T) {
	b := newTestBroker(t, clock.System{})

	for _, tok := range []string{"", "no-dot", "a.b.c", "!!!.???"} {
		_, err := b.Verify(tok)
		assert.ErrorIs(t, err, ErrMalformed, "token %q", tok)
	}
}

func TestVerifyRejectsForeignIssuer(t *testing.T) {
	clk := clock.NewManual(time.Now())
	other, err := NewBroker(Config{Secret: "unit-test-secret", Issuer: "someone-else"}, clk)
	require.NoError(t, err)

	token, _, err := other.Issue("user-1", "sess-1")
	require.NoError(t, err)

	b := newTestBroker(t, clk)
	_, err = b.Verify(token)
	assert.ErrorIs(t, err, ErrWrongIssuer)
}

func TestRotationGraceWindow(t *testing.T) {
	clk := clock.NewManual(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))

	old, err := NewBroker(Config{Secret: "old-secret", AccessTTL: 48 * time.Hour}, clk)
	require.NoError(t, err)
	token, _, err := old.Issue("user-1", "sess-1")
	require.NoError(t, err)

	rotated, err := NewBroker(Config{
		Secret:              "new-secret",
		PreviousSecret:      "old-secret",
		RotationGracePeriod: time.Hour,
		AccessTTL:           48 * time.Hour,
	}, clk)
	require.NoError(t, err)

	_, err = rotated.Verify(token)
	assert.NoError(t, err, "old-key token should verify inside the grace window")

	clk.Advance(time.Hour + time.Minute)
	_, err = rotated.Verify(token)
	assert.ErrorIs(t, err, ErrBadSignature,
		"old-key token should be rejected once the grace window lapses")
}

func TestNewRefreshTokenIsOpaqueAndUnique(t *testing.T) {
	b := newTestBroker(t, clock.System{})

	seen := make(map[string]bool)
	for i := 0; i < 64; i++ {
		tok, err := b.NewRefreshToken()
		require.NoError(t, err)

		raw, err := base64.RawURLEncoding.DecodeString(tok)
		require.NoError(t, err, "refresh token should be base64url")
		assert.Len(t, raw, 32, "refresh token should carry 256 bits")
		assert.False(t, seen[tok], "refresh tokens must not repeat")
		seen[tok] = true
	}
}
