package content

import (
	"context"
	"sort"
	"strings"

	"github.com/nospoilers/backend/internal/apperr"
)

// CreateMediaItem adds a book or show to the catalog.
func (s *Service) CreateMediaItem(ctx context.Context, input CreateMediaItemInput) (*MediaItem, error) {
	if input.Kind != KindBook && input.Kind != KindShow {
		return nil, apperr.WithField(apperr.ErrInvalidMedia, "kind")
	}
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return nil, apperr.WithField(apperr.ErrInvalidMedia, "title")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	items, err := s.loadMediaItems(ctx)
	if err != nil {
		return nil, err
	}

	now := s.nowMs()
	item := &MediaItem{
		ID:          s.ids.NewID(),
		Kind:        input.Kind,
		Title:       title,
		Description: strings.TrimSpace(input.Description),
		Author:      strings.TrimSpace(input.Author),
		Metadata:    input.Metadata,
		CreatedAtMs: now,
		UpdatedAtMs: now,
	}
	items[item.ID] = item

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.saveMediaItems(ctx, items); err != nil {
		return nil, err
	}

	s.logger.Info("media item created", "media_id", item.ID, "kind", string(item.Kind), "title", item.Title)
	created := *item
	return &created, nil
}

// CreateMediaUnit adds a unit to an existing item. ReleaseOrder must be
// positive and unique within the item; it is what "further along" means.
func (s *Service) CreateMediaUnit(ctx context.Context, input CreateMediaUnitInput) (*MediaUnit, error) {
	if input.ReleaseOrder < 1 {
		return nil, apperr.WithField(apperr.ErrInvalidMedia, "releaseOrder")
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

	units, err := s.loadMediaUnits(ctx)
	if err != nil {
		return nil, err
	}
	for _, u := range units {
		if u.MediaItemID == input.MediaItemID && u.ReleaseOrder == input.ReleaseOrder {
			return nil, apperr.WithField(apperr.ErrInvalidMedia, "releaseOrder")
		}
	}

	unit := &MediaUnit{
		ID:           s.ids.NewID(),
		MediaItemID:  input.MediaItemID,
		ReleaseOrder: input.ReleaseOrder,
		Title:        strings.TrimSpace(input.Title),
		Chapter:      input.Chapter,
		Season:       input.Season,
		Episode:      input.Episode,
		CreatedAtMs:  s.nowMs(),
	}
	units[unit.ID] = unit

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.saveMediaUnits(ctx, units); err != nil {
		return nil, err
	}

	created := *unit
	return &created, nil
}

// GetMediaItem returns one catalog entry.
func (s *Service) GetMediaItem(ctx context.Context, mediaItemID string) (*MediaItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	items, err := s.loadMediaItems(ctx)
	if err != nil {
		return nil, err
	}
	item, ok := items[mediaItemID]
	if !ok {
		return nil, apperr.ErrUnknownMedia
	}
	found := *item
	return &found, nil
}

// ListMediaItems returns the catalog sorted by title.
func (s *Service) ListMediaItems(ctx context.Context) ([]MediaItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	items, err := s.loadMediaItems(ctx)
	if err != nil {
		return nil, err
	}

	list := make([]MediaItem, 0, len(items))
	for _, item := range items {
		list = append(list, *item)
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].Title != list[j].Title {
			return list[i].Title < list[j].Title
		}
		return list[i].ID < list[j].ID
	})
	return list, nil
}

// ListMediaUnits returns an item's units in release order.
func (s *Service) ListMediaUnits(ctx context.Context, mediaItemID string) ([]MediaUnit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	items, err := s.loadMediaItems(ctx)
	if err != nil {
		return nil, err
	}
	if _, ok := items[mediaItemID]; !ok {
		return nil, apperr.ErrUnknownMedia
	}

	units, err := s.loadMediaUnits(ctx)
	if err != nil {
		return nil, err
	}

	list := make([]MediaUnit, 0)
	for _, u := range units {
		if u.MediaItemID == mediaItemID {
			list = append(list, *u)
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ReleaseOrder < list[j].ReleaseOrder })
	return list, nil
}
