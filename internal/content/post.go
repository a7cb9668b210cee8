package content

import (
	"context"
	"strings"

	"github.com/nospoilers/backend/internal/apperr"
	"github.com/nospoilers/backend/internal/events"
)

// CreatePost publishes a gated reaction. The group must have a selection
// for the media item, and the required unit must belong to that same item.
func (s *Service) CreatePost(ctx context.Context, input CreatePostInput) (*Post, error) {
	if strings.TrimSpace(input.AuthorID) == "" {
		return nil, apperr.WithField(apperr.ErrInvalidMedia, "authorId")
	}
	preview := strings.TrimSpace(input.PreviewText)
	if preview == "" {
		return nil, apperr.WithField(apperr.ErrInvalidMedia, "previewText")
	}
	body := strings.TrimSpace(input.Body)
	if body == "" {
		return nil, apperr.WithField(apperr.ErrInvalidMedia, "body")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	selections, err := s.loadSelections(ctx)
	if err != nil {
		return nil, err
	}
	if _, ok := selections[selectionKey(input.GroupID, input.MediaItemID)]; !ok {
		return nil, apperr.ErrUnknownSelection
	}

	units, err := s.loadMediaUnits(ctx)
	if err != nil {
		return nil, err
	}
	unit, ok := units[input.RequiredUnitID]
	if !ok {
		return nil, apperr.ErrUnknownUnit
	}
	if unit.MediaItemID != input.MediaItemID {
		return nil, apperr.ErrInvalidPostReference
	}

	posts, err := s.loadPosts(ctx)
	if err != nil {
		return nil, err
	}

	post := &Post{
		ID:             s.ids.NewID(),
		GroupID:        input.GroupID,
		MediaItemID:    input.MediaItemID,
		AuthorID:       input.AuthorID,
		PreviewText:    preview,
		Body:           body,
		RequiredUnitID: input.RequiredUnitID,
		CreatedAtMs:    s.nowMs(),
	}
	posts[post.ID] = post

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.savePosts(ctx, posts); err != nil {
		return nil, err
	}

	s.metrics.RecordPostCreated()
	s.emit(events.TypePostCreated, post.ID, map[string]interface{}{
		"group_id":      post.GroupID,
		"media_item_id": post.MediaItemID,
		"author_id":     post.AuthorID,
		"required_unit": post.RequiredUnitID,
	})
	s.logger.Info("post created",
		"post_id", post.ID,
		"group_id", post.GroupID,
		"required_unit", post.RequiredUnitID)

	created := *post
	return &created, nil
}
