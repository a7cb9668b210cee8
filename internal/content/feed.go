package content

import (
	"context"
	"sort"

	"github.com/nospoilers/backend/internal/apperr"
)

// GetFeedForUser assembles the spoiler-gated view of a group's posts for
// one user, newest first. A post's body is revealed only once the user's
// progress has reached its required unit; a locked post shows the preview
// text and a unit reference, with an enabled markAsRead action targeting
// the unit that would unlock it.
func (s *Service) GetFeedForUser(ctx context.Context, userID, groupID, mediaItemID string) (*FeedResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	selections, err := s.loadSelections(ctx)
	if err != nil {
		return nil, err
	}
	if _, ok := selections[selectionKey(groupID, mediaItemID)]; !ok {
		return nil, apperr.ErrUnknownSelection
	}

	progressMap, err := s.loadProgress(ctx)
	if err != nil {
		return nil, err
	}
	progress := progressMap[progressKey(userID, groupID, mediaItemID)]
	if progress == nil {
		// Zero progress until the user marks something; nothing to persist
		// on a read.
		progress = &UserProgress{
			UserID:      userID,
			GroupID:     groupID,
			MediaItemID: mediaItemID,
			UpdatedAtMs: s.nowMs(),
		}
	}

	posts, err := s.loadPosts(ctx)
	if err != nil {
		return nil, err
	}
	units, err := s.loadMediaUnits(ctx)
	if err != nil {
		return nil, err
	}

	scoped := make([]*Post, 0)
	for _, p := range posts {
		if p.GroupID == groupID && p.MediaItemID == mediaItemID {
			scoped = append(scoped, p)
		}
	}
	sort.Slice(scoped, func(i, j int) bool {
		if scoped[i].CreatedAtMs != scoped[j].CreatedAtMs {
			return scoped[i].CreatedAtMs > scoped[j].CreatedAtMs
		}
		return scoped[i].ID < scoped[j].ID
	})

	feed := make([]FeedPost, 0, len(scoped))
	for _, p := range scoped {
		unit, ok := units[p.RequiredUnitID]
		if !ok {
			return nil, apperr.ErrUnknownUnit
		}

		unlocked := progress.HighestUnitOrder >= unit.ReleaseOrder
		fp := FeedPost{
			ID:            p.ID,
			AuthorID:      p.AuthorID,
			PreviewText:   p.PreviewText,
			Unlocked:      unlocked,
			UnitReference: unit.Reference(),
			RequiredOrder: unit.ReleaseOrder,
			CreatedAtMs:   p.CreatedAtMs,
			MarkAsRead: PostAction{
				Type:         "markAsRead",
				Enabled:      !unlocked,
				TargetUnitID: unit.ID,
			},
		}
		if unlocked {
			fp.Body = p.Body
		}
		feed = append(feed, fp)
	}

	s.metrics.RecordFeedRequest()
	return &FeedResponse{
		GroupID:     groupID,
		MediaItemID: mediaItemID,
		UserID:      userID,
		Progress:    *progress,
		Posts:       feed,
	}, nil
}
