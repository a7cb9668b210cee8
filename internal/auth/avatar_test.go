package auth

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nospoilers/backend/internal/apperr"
)

func validAvatarRequest() AvatarUploadRequest {
	return AvatarUploadRequest{
		FileName:    "me.png",
		ContentType: "image/png",
		Bytes:       64 * 1024,
		Width:       256,
		Height:      256,
	}
}

func TestAvatarPlanValidation(t *testing.T) {
	h := newHarness(t, Config{})
	userID := h.loginEmail(t, "a@example.com", "pw").User.ID

	cases := []struct {
		name   string
		mutate func(*AvatarUploadRequest)
		field  string
	}{
		{"gif content type", func(r *AvatarUploadRequest) { r.ContentType = "image/gif" }, "contentType"},
		{"narrow", func(r *AvatarUploadRequest) { r.Width = 127 }, "width"},
		{"short", func(r *AvatarUploadRequest) { r.Height = 127 }, "height"},
		{"empty file", func(r *AvatarUploadRequest) { r.Bytes = 0 }, "bytes"},
		{"too large", func(r *AvatarUploadRequest) { r.Bytes = 5<<20 + 1 }, "bytes"},
	}
	for _, tc := range cases {
		req := validAvatarRequest()
		tc.mutate(&req)

		_, err := h.svc.CreateAvatarUploadPlan(h.ctx, userID, req)
		require.ErrorIs(t, err, apperr.ErrInvalidAvatar, tc.name)

		var appErr *apperr.Error
		require.ErrorAs(t, err, &appErr, tc.name)
		assert.Equal(t, tc.field, appErr.Field, tc.name)
	}

	// Boundary values are accepted.
	req := validAvatarRequest()
	req.Width, req.Height, req.Bytes = 128, 128, 5<<20
	_, err := h.svc.CreateAvatarUploadPlan(h.ctx, userID, req)
	assert.NoError(t, err)
}

func TestAvatarPlanShape(t *testing.T) {
	h := newHarness(t, Config{})
	userID := h.loginEmail(t, "a@example.com", "pw").User.ID

	req := validAvatarRequest()
	req.FileName = "../weird name!.png"

	plan, err := h.svc.CreateAvatarUploadPlan(h.ctx, userID, req)
	require.NoError(t, err)

	wantKey := fmt.Sprintf("avatars/%s/%s-weird_name_.png", userID, plan.UploadID)
	assert.Equal(t, wantKey, plan.ObjectKey, "path parts and unsafe characters are scrubbed")
	assert.True(t, strings.HasPrefix(plan.UploadURL, "https://api.nospoilers.test/storage/"))
	assert.Equal(t, "image/png", plan.RequiredHeaders["Content-Type"])
	assert.Equal(t, h.clk.Now().Add(10*time.Minute).UnixMilli(), plan.ExpiresAtMs)
}

func TestAvatarPlanUnknownUser(t *testing.T) {
	h := newHarness(t, Config{})
	_, err := h.svc.CreateAvatarUploadPlan(h.ctx, "nobody", validAvatarRequest())
	assert.ErrorIs(t, err, apperr.ErrUnknownUser)
}

func TestFinalizeAvatarHappyPath(t *testing.T) {
	h := newHarness(t, Config{})
	userID := h.loginEmail(t, "a@example.com", "pw").User.ID

	plan, err := h.svc.CreateAvatarUploadPlan(h.ctx, userID, validAvatarRequest())
	require.NoError(t, err)

	user, err := h.svc.FinalizeAvatarUpload(h.ctx, userID, plan.UploadID, AvatarUploadMeta{ContentType: "image/png"})
	require.NoError(t, err)
	assert.Contains(t, user.AvatarURL, plan.ObjectKey)

	// The plan is consumed.
	_, err = h.svc.FinalizeAvatarUpload(h.ctx, userID, plan.UploadID, AvatarUploadMeta{ContentType: "image/png"})
	assert.ErrorIs(t, err, apperr.ErrUnknownUpload)
}

func TestFinalizeAvatarExpired(t *testing.T) {
	h := newHarness(t, Config{})
	userID := h.loginEmail(t, "a@example.com", "pw").User.ID

	plan, err := h.svc.CreateAvatarUploadPlan(h.ctx, userID, validAvatarRequest())
	require.NoError(t, err)

	h.clk.Advance(10*time.Minute + time.Second)

	_, err = h.svc.FinalizeAvatarUpload(h.ctx, userID, plan.UploadID, AvatarUploadMeta{ContentType: "image/png"})
	assert.ErrorIs(t, err, apperr.ErrUploadExpired)
}

func TestFinalizeAvatarMimeMismatch(t *testing.T) {
	h := newHarness(t, Config{})
	userID := h.loginEmail(t, "a@example.com", "pw").User.ID

	plan, err := h.svc.CreateAvatarUploadPlan(h.ctx, userID, validAvatarRequest())
	require.NoError(t, err)

	_, err = h.svc.FinalizeAvatarUpload(h.ctx, userID, plan.UploadID, AvatarUploadMeta{ContentType: "image/jpeg"})
	assert.ErrorIs(t, err, apperr.ErrUploadMimeMismatch)

	// The plan survives a mismatch; the right file can still be confirmed.
	_, err = h.svc.FinalizeAvatarUpload(h.ctx, userID, plan.UploadID, AvatarUploadMeta{ContentType: "image/png"})
	assert.NoError(t, err)
}

func TestFinalizeForeignUploadLooksUnknown(t *testing.T) {
	h := newHarness(t, Config{})
	owner := h.loginEmail(t, "a@example.com", "pw-a").User.ID
	other := h.loginEmail(t, "b@example.com", "pw-b").User.ID

	plan, err := h.svc.CreateAvatarUploadPlan(h.ctx, owner, validAvatarRequest())
	require.NoError(t, err)

	_, err = h.svc.FinalizeAvatarUpload(h.ctx, other, plan.UploadID, AvatarUploadMeta{ContentType: "image/png"})
	assert.ErrorIs(t, err, apperr.ErrUnknownUpload, "another user's plan must not be distinguishable from a missing one")
}
