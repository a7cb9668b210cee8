package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nospoilers/backend/internal/apperr"
	"github.com/nospoilers/backend/internal/clock"
)

func testClock() *clock.Manual {
	return clock.NewManual(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
}

func TestAllow_UnderLimit(t *testing.T) {
	l := NewLimiter(testClock())

	for i := 0; i < OTPSendLimit.MaxRequests; i++ {
		assert.NoError(t, l.Allow("otp_send:+15551234567", OTPSendLimit))
	}
}

func TestAllow_ExceedingLimitBlocks(t *testing.T) {
	clk := testClock()
	l := NewLimiter(clk)
	key := "otp_send:+15551234567"

	for i := 0; i < 3; i++ {
		require.NoError(t, l.Allow(key, OTPSendLimit))
	}

	err := l.Allow(key, OTPSendLimit)
	require.ErrorIs(t, err, apperr.ErrRateLimited, "fourth call in the window must be denied")
	assert.Equal(t, clk.Now().Add(5*time.Minute), l.BlockedUntil(key))
}

func TestAllow_BlockedKeyStaysBlocked(t *testing.T) {
	clk := testClock()
	l := NewLimiter(clk)
	key := "login:email:a@b.test"

	for i := 0; i < 10; i++ {
		require.NoError(t, l.Allow(key, LoginLimit))
	}
	require.ErrorIs(t, l.Allow(key, LoginLimit), apperr.ErrRateLimited)

	// Still inside the 5-minute block even though the window lapsed.
	clk.Advance(2 * time.Minute)
	assert.ErrorIs(t, l.Allow(key, LoginLimit), apperr.ErrRateLimited)
}

func TestAllow_UsableAgainAfterBlockExpires(t *testing.T) {
	clk := testClock()
	l := NewLimiter(clk)
	key := "otp_send:+15551234567"

	for i := 0; i < 3; i++ {
		require.NoError(t, l.Allow(key, OTPSendLimit))
	}
	require.ErrorIs(t, l.Allow(key, OTPSendLimit), apperr.ErrRateLimited)

	clk.Advance(5*time.Minute + time.Second)
	assert.NoError(t, l.Allow(key, OTPSendLimit), "key must recover once the block expires")
}

func TestAllow_WindowResets(t *testing.T) {
	clk := testClock()
	l := NewLimiter(clk)
	key := "otp_verify:challenge-1"

	for i := 0; i < 8; i++ {
		require.NoError(t, l.Allow(key, OTPVerifyLimit))
	}

	clk.Advance(61 * time.Second)
	assert.NoError(t, l.Allow(key, OTPVerifyLimit), "a fresh window must reset the count")
}

func TestAllow_KeysAreIndependent(t *testing.T) {
	l := NewLimiter(testClock())

	for i := 0; i < 3; i++ {
		require.NoError(t, l.Allow("otp_send:+111", OTPSendLimit))
	}
	require.ErrorIs(t, l.Allow("otp_send:+111", OTPSendLimit), apperr.ErrRateLimited)

	assert.NoError(t, l.Allow("otp_send:+222", OTPSendLimit))
}

func TestSweep_DropsLapsedBuckets(t *testing.T) {
	clk := testClock()
	l := NewLimiter(clk)

	require.NoError(t, l.Allow("a", OTPSendLimit))
	require.NoError(t, l.Allow("b", OTPSendLimit))

	clk.Advance(2 * time.Minute)
	removed := l.Sweep()
	assert.Equal(t, 2, removed)
	assert.Equal(t, 0, l.Stats()["tracked_keys"])
}

func TestSweep_KeepsBlockedBuckets(t *testing.T) {
	clk := testClock()
	l := NewLimiter(clk)
	key := "otp_send:+15551234567"

	for i := 0; i < 4; i++ {
		l.Allow(key, OTPSendLimit)
	}

	clk.Advance(2 * time.Minute)
	l.Sweep()
	assert.ErrorIs(t, l.Allow(key, OTPSendLimit), apperr.ErrRateLimited, "sweeping must not lift an active block")
}

// ============================================================================
// SUSPICION TRACKER
// ============================================================================

func TestSuspicion_ScoresAccumulate(t *testing.T) {
	tr := NewSuspicionTracker(testClock(), nil)

	assert.Equal(t, 1, tr.Observe("otp_verify:c1", "code_mismatch"))
	assert.Equal(t, 2, tr.Observe("otp_verify:c1", "code_mismatch"))
	assert.Equal(t, 2, tr.Score("otp_verify:c1"))
	assert.Equal(t, 0, tr.Score("unseen"))
}

func TestSuspicion_FlagsAtThreshold(t *testing.T) {
	var flagged []Incident
	tr := NewSuspicionTracker(testClock(), func(inc Incident) {
		flagged = append(flagged, inc)
	})

	tr.Observe("k", "rate_limited")
	tr.Observe("k", "rate_limited")
	require.Empty(t, flagged, "below the threshold nothing is reported")

	tr.Observe("k", "rate_limited")
	require.Len(t, flagged, 1)
	assert.Equal(t, 3, flagged[0].Score)

	// Every further observation at or above the threshold reports again.
	tr.Observe("k", "code_mismatch")
	assert.Len(t, flagged, 2)
	assert.Equal(t, "code_mismatch", flagged[1].Reason)
}

func TestSuspicion_SnapshotIsCopy(t *testing.T) {
	tr := NewSuspicionTracker(testClock(), nil)
	tr.Observe("k", "denial")

	snap := tr.Snapshot()
	require.Len(t, snap, 1)
	snap[0].Score = 99

	assert.Equal(t, 1, tr.Score("k"), "mutating a snapshot must not touch tracker state")
}
