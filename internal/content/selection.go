package content

import (
	"context"
	"sort"

	"github.com/nospoilers/backend/internal/apperr"
	"github.com/nospoilers/backend/internal/events"
)

// SelectGroupMedia creates or updates the selection tying a group to a
// media item. Activating one selection deactivates the group's previous
// active selection in the same write, so at most one is ever active.
func (s *Service) SelectGroupMedia(ctx context.Context, input SelectGroupMediaInput) (*GroupMediaSelection, error) {
	if input.GroupID == "" {
		return nil, apperr.WithField(apperr.ErrInvalidMedia, "groupId")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	items, err := s.loadMediaItems(ctx)
	if err != nil {
		return nil, err
	}
	if _, ok := items[input.MediaItemID]; !ok {
		return nil, apperr.ErrUnknownMedia
	}

	selections, err := s.loadSelections(ctx)
	if err != nil {
		return nil, err
	}

	now := s.nowMs()
	key := selectionKey(input.GroupID, input.MediaItemID)
	selection, ok := selections[key]
	if !ok {
		selection = &GroupMediaSelection{
			ID:          s.ids.NewID(),
			GroupID:     input.GroupID,
			MediaItemID: input.MediaItemID,
			CreatedAtMs: now,
		}
		selections[key] = selection
	}

	if input.IsActive {
		for _, other := range selections {
			if other.GroupID == input.GroupID && other.IsActive && other.ID != selection.ID {
				other.IsActive = false
				other.UpdatedAtMs = now
			}
		}
	}
	selection.IsActive = input.IsActive
	selection.UpdatedAtMs = now

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.saveSelections(ctx, selections); err != nil {
		return nil, err
	}

	s.emit(events.TypeSelectionChanged, selection.ID, map[string]interface{}{
		"group_id":      selection.GroupID,
		"media_item_id": selection.MediaItemID,
		"active":        selection.IsActive,
	})
	s.logger.Info("group media selection updated",
		"group_id", selection.GroupID,
		"media_id", selection.MediaItemID,
		"active", selection.IsActive)

	updated := *selection
	return &updated, nil
}

// GetActiveSelection returns the group's single active selection.
func (s *Service) GetActiveSelection(ctx context.Context, groupID string) (*GroupMediaSelection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	selections, err := s.loadSelections(ctx)
	if err != nil {
		return nil, err
	}
	for _, sel := range selections {
		if sel.GroupID == groupID && sel.IsActive {
			found := *sel
			return &found, nil
		}
	}
	return nil, apperr.ErrUnknownSelection
}

// ListSelections returns all of a group's selections, active first, then
// newest first.
func (s *Service) ListSelections(ctx context.Context, groupID string) ([]GroupMediaSelection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	selections, err := s.loadSelections(ctx)
	if err != nil {
		return nil, err
	}

	list := make([]GroupMediaSelection, 0)
	for _, sel := range selections {
		if sel.GroupID == groupID {
			list = append(list, *sel)
		}
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].IsActive != list[j].IsActive {
			return list[i].IsActive
		}
		if list[i].CreatedAtMs != list[j].CreatedAtMs {
			return list[i].CreatedAtMs > list[j].CreatedAtMs
		}
		return list[i].ID < list[j].ID
	})
	return list, nil
}
