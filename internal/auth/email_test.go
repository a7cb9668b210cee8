package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nospoilers/backend/internal/apperr"
)

func TestEmailLoginCreatesAccount(t *testing.T) {
	h := newHarness(t, Config{})

	result, err := h.svc.LoginWithEmailPassword(h.ctx, "ada@example.com", "correct horse")
	require.NoError(t, err)

	assert.True(t, result.Linked)
	assert.Equal(t, "ada@example.com", result.User.Email)
	require.Len(t, result.User.Identities, 1)
	assert.Equal(t, ProviderEmail, result.User.Identities[0].Provider)
	assert.Equal(t, "ada@example.com", result.User.Identities[0].Subject)

	stored, err := h.slot.Get(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, result.Session.RefreshToken, stored)
}

func TestEmailLoginCorrectPassword(t *testing.T) {
	h := newHarness(t, Config{})
	created := h.loginEmail(t, "ada@example.com", "correct horse")

	again, err := h.svc.LoginWithEmailPassword(h.ctx, "ada@example.com", "correct horse")
	require.NoError(t, err)
	assert.Equal(t, created.User.ID, again.User.ID)
	assert.False(t, again.Linked)
	require.Len(t, again.User.Identities, 1, "no duplicate identity on repeat login")
}

func TestEmailLoginWrongPassword(t *testing.T) {
	h := newHarness(t, Config{})
	h.loginEmail(t, "ada@example.com", "correct horse")

	_, err := h.svc.LoginWithEmailPassword(h.ctx, "ada@example.com", "wrong horse")
	assert.ErrorIs(t, err, apperr.ErrInvalidCredentials)
	assert.EqualError(t, err, "Invalid email or password.",
		"the error must not reveal whether the email exists")

	assert.GreaterOrEqual(t, h.svc.Suspicion().Score("login:email:ada@example.com"), 1)
}

func TestEmailNormalization(t *testing.T) {
	h := newHarness(t, Config{})
	created := h.loginEmail(t, "  Ada@Example.COM ", "correct horse")
	assert.Equal(t, "ada@example.com", created.User.Email)

	again := h.loginEmail(t, "ada@example.com", "correct horse")
	assert.Equal(t, created.User.ID, again.User.ID)
}

func TestEmailLoginInvalidEmail(t *testing.T) {
	h := newHarness(t, Config{})

	for _, email := range []string{"", "ada", "ada@", "@example.com", "ada @example.com", "ada@example"} {
		_, err := h.svc.LoginWithEmailPassword(h.ctx, email, "whatever")
		assert.ErrorIs(t, err, apperr.ErrInvalidEmail, "email %q", email)
	}
}

func TestEmailLoginEmptyPassword(t *testing.T) {
	h := newHarness(t, Config{})

	_, err := h.svc.LoginWithEmailPassword(h.ctx, "ada@example.com", "")
	assert.ErrorIs(t, err, apperr.ErrInvalidCredentials)
}

func TestEmailLoginAgainstPasswordlessAccount(t *testing.T) {
	h := newHarness(t, Config{})

	// The account exists via OAuth with this email but has no password.
	_, err := h.svc.LoginWithOAuth(h.ctx, ProviderGoogle, "google-sub-1", "ada@example.com")
	require.NoError(t, err)

	// Password login must not silently claim it.
	_, err = h.svc.LoginWithEmailPassword(h.ctx, "ada@example.com", "any password")
	assert.ErrorIs(t, err, apperr.ErrInvalidCredentials)
}

func TestEmailLoginRateLimited(t *testing.T) {
	h := newHarness(t, Config{})

	for i := 0; i < 10; i++ {
		_, err := h.svc.LoginWithEmailPassword(h.ctx, "ada@example.com", "correct horse")
		require.NoError(t, err, "login %d is inside the limit", i+1)
	}
	_, err := h.svc.LoginWithEmailPassword(h.ctx, "ada@example.com", "correct horse")
	assert.ErrorIs(t, err, apperr.ErrRateLimited)
}
