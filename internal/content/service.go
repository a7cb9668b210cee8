// Package content implements the media catalog, group media selection,
// spoiler-gated feed assembly, and per-user monotonic progress with
// bounded-window rollback.
//
// Progress is versioned for optimistic concurrency: every successful
// mutation bumps the version, and a rollback is honored only when the
// version still equals the one its forward mark produced. Like the auth
// service, all state persists as whole-map JSON documents behind the
// encrypted vault and every operation runs under one coarse lock.
package content

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nospoilers/backend/internal/clock"
	"github.com/nospoilers/backend/internal/events"
	"github.com/nospoilers/backend/internal/metrics"
	"github.com/nospoilers/backend/internal/vault"
)

// Vault keys for the service's entity maps.
const (
	keyMediaItems = "content:media:items"
	keyMediaUnits = "content:media:units"
	keySelections = "content:selections"
	keyPosts      = "content:posts"
	keyProgress   = "content:progress"
	keyAudit      = "content:progress:audit"
)

// Config carries the service's wall-clock windows.
type Config struct {
	RollbackWindow time.Duration
}

func (c *Config) applyDefaults() {
	if c.RollbackWindow == 0 {
		c.RollbackWindow = 2 * time.Minute
	}
}

// Deps are the service's collaborators. Vault is required.
type Deps struct {
	Vault   *vault.Store
	Clock   clock.Clock
	IDs     clock.IDSource
	Emitter events.EventEmitter
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Service is the content and progress service.
type Service struct {
	mu sync.Mutex

	cfg     Config
	vault   *vault.Store
	clock   clock.Clock
	ids     clock.IDSource
	emitter events.EventEmitter
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewService wires the content service.
func NewService(cfg Config, deps Deps) (*Service, error) {
	if deps.Vault == nil {
		return nil, fmt.Errorf("content: vault is required")
	}
	cfg.applyDefaults()

	if deps.Clock == nil {
		deps.Clock = clock.System{}
	}
	if deps.IDs == nil {
		deps.IDs = clock.UUIDSource{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	s := &Service{
		cfg:     cfg,
		vault:   deps.Vault,
		clock:   deps.Clock,
		ids:     deps.IDs,
		emitter: deps.Emitter,
		metrics: deps.Metrics,
		logger:  deps.Logger,
	}
	s.logger.Info("content service ready", "rollback_window", cfg.RollbackWindow.String())
	return s, nil
}

func (s *Service) nowMs() int64 {
	return s.clock.Now().UnixMilli()
}

// emit publishes an event when an emitter is wired.
func (s *Service) emit(eventType, subject string, data map[string]interface{}) {
	if s.emitter == nil {
		return
	}
	s.emitter.Emit(eventType, "/content", subject, data)
}

// selectionKey keys the selections map by (group, media) pair.
func selectionKey(groupID, mediaItemID string) string {
	return groupID + "/" + mediaItemID
}

// progressKey keys the progress map by (user, group, media) triple.
func progressKey(userID, groupID, mediaItemID string) string {
	return userID + "/" + groupID + "/" + mediaItemID
}

// ============================================================================
// Persistence helpers
// ============================================================================

func (s *Service) loadMediaItems(ctx context.Context) (map[string]*MediaItem, error) {
	items := make(map[string]*MediaItem)
	if err := s.vault.Get(ctx, keyMediaItems, &items); err != nil && err != vault.ErrNotFound {
		return nil, fmt.Errorf("load media items: %w", err)
	}
	return items, nil
}

func (s *Service) saveMediaItems(ctx context.Context, items map[string]*MediaItem) error {
	if err := s.vault.Put(ctx, keyMediaItems, items); err != nil {
		return fmt.Errorf("save media items: %w", err)
	}
	return nil
}

func (s *Service) loadMediaUnits(ctx context.Context) (map[string]*MediaUnit, error) {
	units := make(map[string]*MediaUnit)
	if err := s.vault.Get(ctx, keyMediaUnits, &units); err != nil && err != vault.ErrNotFound {
		return nil, fmt.Errorf("load media units: %w", err)
	}
	return units, nil
}

func (s *Service) saveMediaUnits(ctx context.Context, units map[string]*MediaUnit) error {
	if err := s.vault.Put(ctx, keyMediaUnits, units); err != nil {
		return fmt.Errorf("save media units: %w", err)
	}
	return nil
}

func (s *Service) loadSelections(ctx context.Context) (map[string]*GroupMediaSelection, error) {
	selections := make(map[string]*GroupMediaSelection)
	if err := s.vault.Get(ctx, keySelections, &selections); err != nil && err != vault.ErrNotFound {
		return nil, fmt.Errorf("load selections: %w", err)
	}
	return selections, nil
}

func (s *Service) saveSelections(ctx context.Context, selections map[string]*GroupMediaSelection) error {
	if err := s.vault.Put(ctx, keySelections, selections); err != nil {
		return fmt.Errorf("save selections: %w", err)
	}
	return nil
}

func (s *Service) loadPosts(ctx context.Context) (map[string]*Post, error) {
	posts := make(map[string]*Post)
	if err := s.vault.Get(ctx, keyPosts, &posts); err != nil && err != vault.ErrNotFound {
		return nil, fmt.Errorf("load posts: %w", err)
	}
	return posts, nil
}

func (s *Service) savePosts(ctx context.Context, posts map[string]*Post) error {
	if err := s.vault.Put(ctx, keyPosts, posts); err != nil {
		return fmt.Errorf("save posts: %w", err)
	}
	return nil
}

func (s *Service) loadProgress(ctx context.Context) (map[string]*UserProgress, error) {
	progress := make(map[string]*UserProgress)
	if err := s.vault.Get(ctx, keyProgress, &progress); err != nil && err != vault.ErrNotFound {
		return nil, fmt.Errorf("load progress: %w", err)
	}
	return progress, nil
}

func (s *Service) saveProgress(ctx context.Context, progress map[string]*UserProgress) error {
	if err := s.vault.Put(ctx, keyProgress, progress); err != nil {
		return fmt.Errorf("save progress: %w", err)
	}
	return nil
}

func (s *Service) loadAudit(ctx context.Context) (map[string]*ProgressAuditEvent, error) {
	auditMap := make(map[string]*ProgressAuditEvent)
	if err := s.vault.Get(ctx, keyAudit, &auditMap); err != nil && err != vault.ErrNotFound {
		return nil, fmt.Errorf("load progress audit: %w", err)
	}
	return auditMap, nil
}

func (s *Service) saveAudit(ctx context.Context, auditMap map[string]*ProgressAuditEvent) error {
	if err := s.vault.Put(ctx, keyAudit, auditMap); err != nil {
		return fmt.Errorf("save progress audit: %w", err)
	}
	return nil
}
