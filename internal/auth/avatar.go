package auth

import (
	"context"
	"fmt"
	"path"
	"regexp"
	"strings"

	"github.com/nospoilers/backend/internal/apperr"
)

const (
	maxAvatarBytes = 5 << 20 // 5 MiB
	minAvatarDim   = 128
)

var avatarContentTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/webp": true,
}

var unsafeFileNameChars = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// sanitizeFileName reduces a client-supplied name to a safe object-key
// component.
func sanitizeFileName(name string) string {
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	name = unsafeFileNameChars.ReplaceAllString(name, "_")
	if name == "" || name == "." || name == ".." {
		name = "avatar"
	}
	return name
}

// storageURL resolves an object key against the API base URL.
func (s *Service) storageURL(objectKey string) string {
	return strings.TrimRight(s.cfg.Transport.APIBaseURL, "/") + "/storage/" + objectKey
}

// CreateAvatarUploadPlan validates the file description and hands back a
// ten-minute window to upload it. The plan is consumed by finalize.
func (s *Service) CreateAvatarUploadPlan(ctx context.Context, userID string, req AvatarUploadRequest) (*AvatarUploadPlan, error) {
	if !avatarContentTypes[req.ContentType] {
		return nil, apperr.WithField(apperr.ErrInvalidAvatar, "contentType")
	}
	if req.Width < minAvatarDim {
		return nil, apperr.WithField(apperr.ErrInvalidAvatar, "width")
	}
	if req.Height < minAvatarDim {
		return nil, apperr.WithField(apperr.ErrInvalidAvatar, "height")
	}
	if req.Bytes <= 0 || req.Bytes > maxAvatarBytes {
		return nil, apperr.WithField(apperr.ErrInvalidAvatar, "bytes")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	users, err := s.loadUsers(ctx)
	if err != nil {
		return nil, err
	}
	if _, ok := users[userID]; !ok {
		return nil, apperr.ErrUnknownUser
	}

	plans, err := s.loadAvatarPlans(ctx)
	if err != nil {
		return nil, err
	}
	s.pruneAvatarPlans(plans)

	uploadID := s.ids.NewID()
	plan := &AvatarUpload{
		UploadID:    uploadID,
		ObjectKey:   fmt.Sprintf("avatars/%s/%s-%s", userID, uploadID, sanitizeFileName(req.FileName)),
		UserID:      userID,
		ExpiresAtMs: s.nowMs() + s.cfg.AvatarPlanTTL.Milliseconds(),
		Request:     req,
	}
	plans[uploadID] = plan

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.saveAvatarPlans(ctx, plans); err != nil {
		return nil, err
	}

	s.logger.Info("avatar upload planned", "user_id", userID, "upload_id", uploadID)
	return &AvatarUploadPlan{
		UploadID:    uploadID,
		ObjectKey:   plan.ObjectKey,
		UploadURL:   s.storageURL(plan.ObjectKey),
		ExpiresAtMs: plan.ExpiresAtMs,
		RequiredHeaders: map[string]string{
			"Content-Type": req.ContentType,
		},
	}, nil
}

// FinalizeAvatarUpload confirms the upload, points the user's avatar at
// the stored object, and consumes the plan.
func (s *Service) FinalizeAvatarUpload(ctx context.Context, userID, uploadID string, meta AvatarUploadMeta) (*AuthUser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	plans, err := s.loadAvatarPlans(ctx)
	if err != nil {
		return nil, err
	}

	plan, ok := plans[uploadID]
	if !ok || plan.UserID != userID {
		// A foreign upload ID looks exactly like a missing one.
		return nil, apperr.ErrUnknownUpload
	}

	if s.nowMs() > plan.ExpiresAtMs {
		delete(plans, uploadID)
		if err := s.saveAvatarPlans(ctx, plans); err != nil {
			return nil, err
		}
		return nil, apperr.ErrUploadExpired
	}

	if meta.ContentType != plan.Request.ContentType {
		return nil, apperr.WithField(apperr.ErrUploadMimeMismatch, "contentType")
	}

	users, err := s.loadUsers(ctx)
	if err != nil {
		return nil, err
	}
	user, ok := users[userID]
	if !ok {
		return nil, apperr.ErrUnknownUser
	}

	user.AvatarURL = s.storageURL(plan.ObjectKey)
	user.UpdatedAtMs = s.nowMs()
	delete(plans, uploadID)

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.saveUsers(ctx, users); err != nil {
		return nil, err
	}
	if err := s.saveAvatarPlans(ctx, plans); err != nil {
		return nil, err
	}

	s.logger.Info("avatar upload finalized", "user_id", userID, "upload_id", uploadID)
	public := user.Public()
	return &public, nil
}

// pruneAvatarPlans drops expired plans in place.
func (s *Service) pruneAvatarPlans(plans map[string]*AvatarUpload) {
	now := s.nowMs()
	for id, p := range plans {
		if now > p.ExpiresAtMs {
			delete(plans, id)
		}
	}
}
