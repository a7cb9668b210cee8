package content

import "fmt"

// MediaKind says whether an item is read or watched.
type MediaKind string

const (
	KindBook MediaKind = "book"
	KindShow MediaKind = "show"
)

// MediaItem is one book or show a group can progress through.
type MediaItem struct {
	ID          string            `json:"id"`
	Kind        MediaKind         `json:"kind"`
	Title       string            `json:"title"`
	Description string            `json:"description,omitempty"`
	Author      string            `json:"author,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	CreatedAtMs int64             `json:"createdAtMs"`
	UpdatedAtMs int64             `json:"updatedAtMs"`
}

// MediaUnit is one chapter or episode. ReleaseOrder totally orders the
// units of an item; "further along" means a strictly greater value.
// Chapter, Season, and Episode are labels only; zero means absent.
type MediaUnit struct {
	ID           string `json:"id"`
	MediaItemID  string `json:"mediaItemId"`
	ReleaseOrder int    `json:"releaseOrder"`
	Title        string `json:"title,omitempty"`
	Chapter      int    `json:"chapter,omitempty"`
	Season       int    `json:"season,omitempty"`
	Episode      int    `json:"episode,omitempty"`
	CreatedAtMs  int64  `json:"createdAtMs"`
}

// Reference renders the unit the way a locked post shows it: SxEy when
// season and episode are present, else Chapter N, else Unit N.
func (u *MediaUnit) Reference() string {
	switch {
	case u.Season > 0 && u.Episode > 0:
		return fmt.Sprintf("S%dE%d", u.Season, u.Episode)
	case u.Chapter > 0:
		return fmt.Sprintf("Chapter %d", u.Chapter)
	default:
		return fmt.Sprintf("Unit %d", u.ReleaseOrder)
	}
}

// GroupMediaSelection ties a group to a media item. At most one selection
// per group is active at a time.
type GroupMediaSelection struct {
	ID          string `json:"id"`
	GroupID     string `json:"groupId"`
	MediaItemID string `json:"mediaItemId"`
	IsActive    bool   `json:"isActive"`
	CreatedAtMs int64  `json:"createdAtMs"`
	UpdatedAtMs int64  `json:"updatedAtMs"`
}

// Post is a member reaction gated behind a unit of the selected media.
type Post struct {
	ID             string `json:"id"`
	GroupID        string `json:"groupId"`
	MediaItemID    string `json:"mediaItemId"`
	AuthorID       string `json:"authorId"`
	PreviewText    string `json:"previewText"`
	Body           string `json:"body"`
	RequiredUnitID string `json:"requiredUnitId"`
	CreatedAtMs    int64  `json:"createdAtMs"`
}

// UserProgress tracks how far one user is in one (group, media) pair.
// Version strictly increases on every mutation and drives the rollback
// staleness check.
type UserProgress struct {
	UserID           string `json:"userId"`
	GroupID          string `json:"groupId"`
	MediaItemID      string `json:"mediaItemId"`
	HighestUnitOrder int    `json:"highestUnitOrder"`
	HighestUnitID    string `json:"highestUnitId,omitempty"`
	Version          int64  `json:"version"`
	UpdatedAtMs      int64  `json:"updatedAtMs"`
}

// Audit event kinds.
const (
	AuditMarkRead = "mark_read"
	AuditRollback = "rollback"
)

// ProgressAuditEvent is the immutable record of one progress transition.
// Forward and rollback events cross-link through flat IDs resolved via the
// audit map, never pointers.
type ProgressAuditEvent struct {
	ID                  string `json:"id"`
	Kind                string `json:"kind"`
	UserID              string `json:"userId"`
	GroupID             string `json:"groupId"`
	MediaItemID         string `json:"mediaItemId"`
	PrevUnitID          string `json:"prevUnitId,omitempty"`
	PrevUnitOrder       int    `json:"prevUnitOrder"`
	PrevVersion         int64  `json:"prevVersion"`
	NextUnitID          string `json:"nextUnitId,omitempty"`
	NextUnitOrder       int    `json:"nextUnitOrder"`
	NextVersion         int64  `json:"nextVersion"`
	RollbackToken       string `json:"rollbackToken,omitempty"`
	RollbackOfAuditID   string `json:"rollbackOfAuditId,omitempty"`
	RolledBackByAuditID string `json:"rolledBackByAuditId,omitempty"`
	CreatedAtMs         int64  `json:"createdAtMs"`
}

// ============================================================================
// Inputs
// ============================================================================

// CreateMediaItemInput describes a new media item.
type CreateMediaItemInput struct {
	Kind        MediaKind         `json:"kind"`
	Title       string            `json:"title"`
	Description string            `json:"description,omitempty"`
	Author      string            `json:"author,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// CreateMediaUnitInput describes a new unit within an item.
type CreateMediaUnitInput struct {
	MediaItemID  string `json:"mediaItemId"`
	ReleaseOrder int    `json:"releaseOrder"`
	Title        string `json:"title,omitempty"`
	Chapter      int    `json:"chapter,omitempty"`
	Season       int    `json:"season,omitempty"`
	Episode      int    `json:"episode,omitempty"`
}

// SelectGroupMediaInput activates or deactivates a group's media selection.
type SelectGroupMediaInput struct {
	GroupID     string `json:"groupId"`
	MediaItemID string `json:"mediaItemId"`
	IsActive    bool   `json:"isActive"`
}

// CreatePostInput describes a new gated post.
type CreatePostInput struct {
	GroupID        string `json:"groupId"`
	MediaItemID    string `json:"mediaItemId"`
	AuthorID       string `json:"authorId"`
	PreviewText    string `json:"previewText"`
	Body           string `json:"body"`
	RequiredUnitID string `json:"requiredUnitId"`
}

// MarkAsReadInput advances a user's progress to one unit.
type MarkAsReadInput struct {
	UserID      string `json:"userId"`
	GroupID     string `json:"groupId"`
	MediaItemID string `json:"mediaItemId"`
	UnitID      string `json:"unitId"`
}

// RollbackInput undoes a recent forward mark.
type RollbackInput struct {
	UserID        string `json:"userId"`
	RollbackToken string `json:"rollbackToken"`
}

// ============================================================================
// Results
// ============================================================================

// PostAction is a client affordance attached to a feed post.
type PostAction struct {
	Type         string `json:"type"`
	Enabled      bool   `json:"enabled"`
	TargetUnitID string `json:"targetUnitId"`
}

// FeedPost is one post as the requesting user is allowed to see it. Body
// is present only when the post is unlocked; a locked post shows the
// preview and the unit reference instead.
type FeedPost struct {
	ID            string     `json:"id"`
	AuthorID      string     `json:"authorId"`
	PreviewText   string     `json:"previewText"`
	Body          string     `json:"body,omitempty"`
	Unlocked      bool       `json:"unlocked"`
	UnitReference string     `json:"unitReference"`
	RequiredOrder int        `json:"requiredOrder"`
	CreatedAtMs   int64      `json:"createdAtMs"`
	MarkAsRead    PostAction `json:"markAsRead"`
}

// FeedResponse is the spoiler-gated view of a group's posts for one user,
// newest first.
type FeedResponse struct {
	GroupID     string       `json:"groupId"`
	MediaItemID string       `json:"mediaItemId"`
	UserID      string       `json:"userId"`
	Progress    UserProgress `json:"progress"`
	Posts       []FeedPost   `json:"posts"`
}

// RollbackWindow is the returned undo handle for a forward mark. Token is
// empty and ExpiresAtMs is the current time when the mark was idempotent.
type RollbackWindow struct {
	Token       string `json:"token"`
	ExpiresAtMs int64  `json:"expiresAtMs"`
}

// MarkProgressResult reports the progress after a mark and which posts are
// unlocked at that level.
type MarkProgressResult struct {
	Progress        UserProgress   `json:"progress"`
	UnlockedPostIDs []string       `json:"unlockedPostIds"`
	Rollback        RollbackWindow `json:"rollback"`
	Idempotent      bool           `json:"idempotent"`
}

// RollbackResult reports the restored progress and the posts that locked
// again.
type RollbackResult struct {
	Progress        UserProgress `json:"progress"`
	RelockedPostIDs []string     `json:"relockedPostIds"`
	AuditID         string       `json:"auditId"`
}
