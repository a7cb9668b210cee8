package client

// Reasons a username can be unavailable.
const (
	// ReasonInvalid means the name fails the format rules.
	ReasonInvalid = "invalid"

	// ReasonTaken means another account already owns the name.
	ReasonTaken = "taken"

	// ReasonReserved means another signup is holding the name.
	ReasonReserved = "reserved"
)

// Identity is one linked login method on an account.
type Identity struct {
	Provider string `json:"provider"`
	Subject  string `json:"subject"`
	Verified bool   `json:"verified"`
}

// Preferences holds per-user client settings.
type Preferences struct {
	ThemePreference string `json:"themePreference"`
}

// User is the public view of an account. Timestamps are Unix milliseconds.
type User struct {
	ID          string      `json:"id"`
	Email       string      `json:"email,omitempty"`
	Phone       string      `json:"phone,omitempty"`
	DisplayName string      `json:"displayName,omitempty"`
	AvatarURL   string      `json:"avatarUrl,omitempty"`
	Username    string      `json:"username,omitempty"`
	Identities  []Identity  `json:"identities"`
	Preferences Preferences `json:"preferences"`
	CreatedAtMs int64       `json:"createdAtMs"`
	UpdatedAtMs int64       `json:"updatedAtMs"`
}

// Session is an issued token pair.
//
// RefreshToken is empty on web, where the server moves it into an
// HttpOnly cookie instead of the response body.
type Session struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken,omitempty"`
	TokenType    string `json:"tokenType"`
	ExpiresInMs  int64  `json:"expiresInMs"`
}

// LoginResult is returned by every login and refresh call.
type LoginResult struct {
	User User `json:"user"`

	Session Session `json:"session"`

	// Linked is true when the login attached a new identity to an
	// existing account rather than creating one.
	Linked bool `json:"linked"`
}

// PhoneChallenge is an outstanding SMS code challenge.
type PhoneChallenge struct {
	ChallengeID   string `json:"challengeId"`
	ExpiresAtMs   int64  `json:"expiresAtMs"`
	RedactedPhone string `json:"redactedPhone"`

	// DevCode carries the OTP in development environments only.
	DevCode string `json:"devCode,omitempty"`
}

// UsernameAvailability answers a username check.
type UsernameAvailability struct {
	Requested       string `json:"requested"`
	Normalized      string `json:"normalized"`
	Available       bool   `json:"available"`
	Reason          string `json:"reason,omitempty"`
	ReservedUntilMs int64  `json:"reservedUntilMs,omitempty"`
}

// Selection ties a group to the media item it is currently reading or
// watching.
type Selection struct {
	ID          string `json:"id"`
	GroupID     string `json:"groupId"`
	MediaItemID string `json:"mediaItemId"`
	IsActive    bool   `json:"isActive"`
	CreatedAtMs int64  `json:"createdAtMs"`
	UpdatedAtMs int64  `json:"updatedAtMs"`
}

// Progress is one user's position in one (group, media) pair.
type Progress struct {
	UserID           string `json:"userId"`
	GroupID          string `json:"groupId"`
	MediaItemID      string `json:"mediaItemId"`
	HighestUnitOrder int    `json:"highestUnitOrder"`
	HighestUnitID    string `json:"highestUnitId,omitempty"`
	Version          int64  `json:"version"`
	UpdatedAtMs      int64  `json:"updatedAtMs"`
}

// PostAction is a client affordance attached to a locked feed post.
type PostAction struct {
	Type         string `json:"type"`
	Enabled      bool   `json:"enabled"`
	TargetUnitID string `json:"targetUnitId"`
}

// FeedPost is one post as the requesting user may see it. Body is empty
// while the post is locked; render PreviewText and UnitReference instead.
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

// Feed is the spoiler-gated view of a group's posts for one user, newest
// first.
type Feed struct {
	GroupID     string     `json:"groupId"`
	MediaItemID string     `json:"mediaItemId"`
	UserID      string     `json:"userId"`
	Progress    Progress   `json:"progress"`
	Posts       []FeedPost `json:"posts"`
}

// Post is a stored reaction, as its author sees it.
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

// PostInput describes a new gated post.
type PostInput struct {
	GroupID     string `json:"groupId"`
	MediaItemID string `json:"mediaItemId"`
	AuthorID    string `json:"authorId"`
	PreviewText string `json:"previewText"`
	Body        string `json:"body"`

	// RequiredUnitID gates the post: only readers at or past this unit
	// see the body.
	RequiredUnitID string `json:"requiredUnitId"`
}

// MarkInput advances a user's progress to one unit.
type MarkInput struct {
	UserID      string `json:"userId"`
	GroupID     string `json:"groupId"`
	MediaItemID string `json:"mediaItemId"`
	UnitID      string `json:"unitId"`
}

// RollbackWindow is the undo handle returned by a forward mark. Token is
// empty when the mark was idempotent.
type RollbackWindow struct {
	Token       string `json:"token"`
	ExpiresAtMs int64  `json:"expiresAtMs"`
}

// MarkResult reports progress after a mark and which posts unlocked.
type MarkResult struct {
	Progress        Progress       `json:"progress"`
	UnlockedPostIDs []string       `json:"unlockedPostIds"`
	Rollback        RollbackWindow `json:"rollback"`
	Idempotent      bool           `json:"idempotent"`
}

// RollbackResult reports restored progress and the posts that locked
// again.
type RollbackResult struct {
	Progress        Progress `json:"progress"`
	RelockedPostIDs []string `json:"relockedPostIds"`
	AuditID         string   `json:"auditId"`
}
