package content

import (
	"context"
	"sort"
	"strings"

	"github.com/nospoilers/backend/internal/apperr"
	"github.com/nospoilers/backend/internal/events"
)

// MarkAsRead advances a user's progress to the given unit. Marking a unit
// at or below the current level is idempotent: no version bump, no audit
// event, and an already-spent rollback window. A forward mark appends an
// audit event carrying a fresh rollback token valid for the configured
// window.
func (s *Service) MarkAsRead(ctx context.Context, input MarkAsReadInput) (*MarkProgressResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	units, err := s.loadMediaUnits(ctx)
	if err != nil {
		return nil, err
	}
	unit, ok := units[input.UnitID]
	if !ok || unit.MediaItemID != input.MediaItemID {
		return nil, apperr.ErrUnknownUnit
	}

	progressMap, err := s.loadProgress(ctx)
	if err != nil {
		return nil, err
	}
	posts, err := s.loadPosts(ctx)
	if err != nil {
		return nil, err
	}

	now := s.nowMs()
	key := progressKey(input.UserID, input.GroupID, input.MediaItemID)
	rec := progressMap[key]
	if rec == nil {
		rec = &UserProgress{
			UserID:      input.UserID,
			GroupID:     input.GroupID,
			MediaItemID: input.MediaItemID,
			UpdatedAtMs: now,
		}
	}

	if unit.ReleaseOrder <= rec.HighestUnitOrder {
		s.metrics.RecordProgressMark("idempotent")
		return &MarkProgressResult{
			Progress:        *rec,
			UnlockedPostIDs: unlockedPostIDs(posts, units, input.GroupID, input.MediaItemID, rec.HighestUnitOrder),
			Rollback:        RollbackWindow{Token: "", ExpiresAtMs: now},
			Idempotent:      true,
		}, nil
	}

	prevOrder := rec.HighestUnitOrder
	prevUnitID := rec.HighestUnitID
	prevVersion := rec.Version

	rec.HighestUnitOrder = unit.ReleaseOrder
	rec.HighestUnitID = unit.ID
	rec.Version++
	rec.UpdatedAtMs = now
	progressMap[key] = rec

	auditMap, err := s.loadAudit(ctx)
	if err != nil {
		return nil, err
	}
	token := s.ids.NewID()
	event := &ProgressAuditEvent{
		ID:            s.ids.NewID(),
		Kind:          AuditMarkRead,
		UserID:        input.UserID,
		GroupID:       input.GroupID,
		MediaItemID:   input.MediaItemID,
		PrevUnitID:    prevUnitID,
		PrevUnitOrder: prevOrder,
		PrevVersion:   prevVersion,
		NextUnitID:    unit.ID,
		NextUnitOrder: unit.ReleaseOrder,
		NextVersion:   rec.Version,
		RollbackToken: token,
		CreatedAtMs:   now,
	}
	auditMap[event.ID] = event

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.saveProgress(ctx, progressMap); err != nil {
		return nil, err
	}
	if err := s.saveAudit(ctx, auditMap); err != nil {
		return nil, err
	}

	s.metrics.RecordProgressMark("forward")
	s.logger.Info("progress marked",
		"user_id", input.UserID,
		"group_id", input.GroupID,
		"media_item_id", input.MediaItemID,
		"unit_order", unit.ReleaseOrder,
		"version", rec.Version)
	s.emit(events.TypeProgressMarked, input.UserID, map[string]interface{}{
		"group_id":      input.GroupID,
		"user_id":       input.UserID,
		"media_item_id": input.MediaItemID,
		"unit_id":       unit.ID,
		"unit_order":    unit.ReleaseOrder,
		"version":       rec.Version,
	})

	return &MarkProgressResult{
		Progress:        *rec,
		UnlockedPostIDs: unlockedPostIDs(posts, units, input.GroupID, input.MediaItemID, rec.HighestUnitOrder),
		Rollback:        RollbackWindow{Token: token, ExpiresAtMs: now + s.cfg.RollbackWindow.Milliseconds()},
		Idempotent:      false,
	}, nil
}

// RollbackProgress undoes one forward mark identified by its rollback
// token. Checks run in a fixed order: the token must resolve to a forward
// event owned by the caller, the event must not already be rolled back,
// the window must still be open, and the user's version must not have
// moved since the mark.
func (s *Service) RollbackProgress(ctx context.Context, input RollbackInput) (*RollbackResult, error) {
	token := strings.TrimSpace(input.RollbackToken)
	if token == "" {
		s.metrics.RecordRollback("unknown_token")
		return nil, apperr.ErrUnknownToken
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	auditMap, err := s.loadAudit(ctx)
	if err != nil {
		return nil, err
	}
	var forward *ProgressAuditEvent
	for _, ev := range auditMap {
		if ev.Kind == AuditMarkRead && ev.RollbackToken == token && ev.UserID == input.UserID {
			forward = ev
			break
		}
	}
	if forward == nil {
		s.metrics.RecordRollback("unknown_token")
		return nil, apperr.ErrUnknownToken
	}
	if forward.RolledBackByAuditID != "" {
		s.metrics.RecordRollback("already_rolled_back")
		return nil, apperr.ErrAlreadyRolledBack
	}
	now := s.nowMs()
	if now > forward.CreatedAtMs+s.cfg.RollbackWindow.Milliseconds() {
		s.metrics.RecordRollback("expired")
		return nil, apperr.ErrRollbackExpired
	}

	progressMap, err := s.loadProgress(ctx)
	if err != nil {
		return nil, err
	}
	key := progressKey(forward.UserID, forward.GroupID, forward.MediaItemID)
	rec := progressMap[key]
	if rec == nil || rec.Version != forward.NextVersion {
		s.metrics.RecordRollback("stale")
		return nil, apperr.ErrStale
	}

	rec.HighestUnitOrder = forward.PrevUnitOrder
	rec.HighestUnitID = forward.PrevUnitID
	rec.Version++
	rec.UpdatedAtMs = now

	event := &ProgressAuditEvent{
		ID:                s.ids.NewID(),
		Kind:              AuditRollback,
		UserID:            forward.UserID,
		GroupID:           forward.GroupID,
		MediaItemID:       forward.MediaItemID,
		PrevUnitID:        forward.NextUnitID,
		PrevUnitOrder:     forward.NextUnitOrder,
		PrevVersion:       forward.NextVersion,
		NextUnitID:        forward.PrevUnitID,
		NextUnitOrder:     forward.PrevUnitOrder,
		NextVersion:       rec.Version,
		RollbackOfAuditID: forward.ID,
		CreatedAtMs:       now,
	}
	forward.RolledBackByAuditID = event.ID
	auditMap[event.ID] = event

	posts, err := s.loadPosts(ctx)
	if err != nil {
		return nil, err
	}
	units, err := s.loadMediaUnits(ctx)
	if err != nil {
		return nil, err
	}
	relocked := make([]string, 0)
	for _, p := range posts {
		if p.GroupID != forward.GroupID || p.MediaItemID != forward.MediaItemID {
			continue
		}
		unit, ok := units[p.RequiredUnitID]
		if !ok {
			continue
		}
		if unit.ReleaseOrder > rec.HighestUnitOrder && unit.ReleaseOrder <= forward.NextUnitOrder {
			relocked = append(relocked, p.ID)
		}
	}
	sort.Strings(relocked)

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.saveProgress(ctx, progressMap); err != nil {
		return nil, err
	}
	if err := s.saveAudit(ctx, auditMap); err != nil {
		return nil, err
	}

	s.metrics.RecordRollback("success")
	s.logger.Info("progress rolled back",
		"user_id", forward.UserID,
		"group_id", forward.GroupID,
		"media_item_id", forward.MediaItemID,
		"restored_order", rec.HighestUnitOrder,
		"version", rec.Version)
	s.emit(events.TypeProgressRolledBack, forward.UserID, map[string]interface{}{
		"group_id":       forward.GroupID,
		"user_id":        forward.UserID,
		"media_item_id":  forward.MediaItemID,
		"restored_unit":  forward.PrevUnitID,
		"restored_order": forward.PrevUnitOrder,
		"version":        rec.Version,
	})

	return &RollbackResult{
		Progress:        *rec,
		RelockedPostIDs: relocked,
		AuditID:         event.ID,
	}, nil
}

// GetProgress returns the stored progress record for one (user, group,
// media) triple, or a zero record when the user has not marked anything.
func (s *Service) GetProgress(ctx context.Context, userID, groupID, mediaItemID string) (*UserProgress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	progressMap, err := s.loadProgress(ctx)
	if err != nil {
		return nil, err
	}
	if rec, ok := progressMap[progressKey(userID, groupID, mediaItemID)]; ok {
		cp := *rec
		return &cp, nil
	}
	return &UserProgress{
		UserID:      userID,
		GroupID:     groupID,
		MediaItemID: mediaItemID,
		UpdatedAtMs: s.nowMs(),
	}, nil
}

// GetProgressAuditTrail lists every progress transition for the triple,
// oldest first.
func (s *Service) GetProgressAuditTrail(ctx context.Context, userID, groupID, mediaItemID string) ([]ProgressAuditEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	auditMap, err := s.loadAudit(ctx)
	if err != nil {
		return nil, err
	}
	trail := make([]ProgressAuditEvent, 0)
	for _, ev := range auditMap {
		if ev.UserID == userID && ev.GroupID == groupID && ev.MediaItemID == mediaItemID {
			trail = append(trail, *ev)
		}
	}
	sort.Slice(trail, func(i, j int) bool {
		if trail[i].CreatedAtMs != trail[j].CreatedAtMs {
			return trail[i].CreatedAtMs < trail[j].CreatedAtMs
		}
		return trail[i].NextVersion < trail[j].NextVersion
	})
	return trail, nil
}

// unlockedPostIDs lists, sorted, the posts in the pair whose required unit
// sits at or below the given order.
func unlockedPostIDs(posts map[string]*Post, units map[string]*MediaUnit, groupID, mediaItemID string, order int) []string {
	ids := make([]string, 0)
	for _, p := range posts {
		if p.GroupID != groupID || p.MediaItemID != mediaItemID {
			continue
		}
		unit, ok := units[p.RequiredUnitID]
		if !ok {
			continue
		}
		if unit.ReleaseOrder <= order {
			ids = append(ids, p.ID)
		}
	}
	sort.Strings(ids)
	return ids
}
