// Command smoke runs both services in process against the in-memory vault
// and walks the core product flows end to end. It is the pre-deploy sanity
// check: if a step fails here, no container should ship.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/nospoilers/backend/internal/auth"
	"github.com/nospoilers/backend/internal/clock"
	"github.com/nospoilers/backend/internal/content"
	"github.com/nospoilers/backend/internal/events"
	"github.com/nospoilers/backend/internal/kv"
	"github.com/nospoilers/backend/internal/securestore"
	"github.com/nospoilers/backend/internal/tokens"
	"github.com/nospoilers/backend/internal/vault"
)

type step struct {
	Name string
	Run  func(w *world) error
}

// world carries state between steps: services plus the IDs and tokens the
// earlier steps produced.
type world struct {
	ctx     context.Context
	auth    *auth.Service
	content *content.Service
	bus     *events.EventBus

	userID       string
	refreshToken string
	mediaItemID  string
	unitIDs      []string
	postID       string
	undoToken    string
	feedEvents   chan *events.CloudEvent
}

const smokeGroup = "smoke-group"

func main() {
	fmt.Println("\033[96mNoSpoilers Backend - Pre-Deploy Smoke Run\033[0m")
	fmt.Println("---------------------------------------------------------")

	w, err := buildWorld()
	if err != nil {
		fmt.Printf("\033[31mSetup failed:\033[0m %v\n", err)
		os.Exit(1)
	}

	steps := []step{
		{"Vault round trip", checkVaultRoundTrip},
		{"Phone login", checkPhoneLogin},
		{"Username reservation", checkUsernameFlow},
		{"Session rotation", checkSessionRotation},
		{"Catalog and selection", checkCatalog},
		{"Spoiler gate", checkSpoilerGate},
		{"Rollback window", checkRollback},
		{"Event fan-out", checkEventFanOut},
	}

	failed := 0
	for _, s := range steps {
		fmt.Printf("Checking %-25s ", s.Name+"...")
		if err := s.Run(w); err != nil {
			failed++
			fmt.Println("\033[31m[FAIL]\033[0m")
			fmt.Printf("  >> Error: %v\n", err)
			continue
		}
		fmt.Println("\033[32m[OK]\033[0m")
	}

	fmt.Println("---------------------------------------------------------")
	if failed > 0 {
		fmt.Printf("\033[31mStatus: %d step(s) failed.\033[0m\n", failed)
		os.Exit(1)
	}
	fmt.Println("\033[96mStatus: System ready for traffic.\033[0m")
}

func buildWorld() (*world, error) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	store, err := vault.New("smoke-vault-secret", kv.NewMemory(), nil)
	if err != nil {
		return nil, fmt.Errorf("vault: %w", err)
	}
	clk := clock.System{}
	broker, err := tokens.NewBroker(tokens.Config{Secret: "smoke-token-secret"}, clk)
	if err != nil {
		return nil, fmt.Errorf("broker: %w", err)
	}

	bus := events.NewEventBus()

	authSvc, err := auth.NewService(auth.Config{
		Transport: auth.TransportPolicy{
			APIBaseURL:           "https://smoke.nospoilers.test",
			CookieName:           "nospoilers_refresh",
			Platform:             "ios",
			EnforceSecureStorage: true,
		},
		Profile: auth.ProfileDevelopment,
	}, auth.Deps{
		Vault:   store,
		Broker:  broker,
		Slot:    securestore.NewMemory(),
		Clock:   clk,
		IDs:     clock.UUIDSource{},
		Emitter: bus,
		Logger:  logger,
	})
	if err != nil {
		return nil, fmt.Errorf("auth service: %w", err)
	}

	contentSvc, err := content.NewService(content.Config{}, content.Deps{
		Vault:   store,
		Clock:   clk,
		IDs:     clock.UUIDSource{},
		Emitter: bus,
		Logger:  logger,
	})
	if err != nil {
		return nil, fmt.Errorf("content service: %w", err)
	}

	return &world{
		ctx:        context.Background(),
		auth:       authSvc,
		content:    contentSvc,
		bus:        bus,
		feedEvents: bus.Subscribe(events.TypePostCreated, events.TypeProgressMarked),
	}, nil
}

func checkVaultRoundTrip(w *world) error {
	store, err := vault.New("probe-secret", kv.NewMemory(), nil)
	if err != nil {
		return err
	}
	type payload struct {
		Value string `json:"value"`
	}
	if err := store.Put(w.ctx, "probe", payload{Value: "hello"}); err != nil {
		return err
	}
	var got payload
	if err := store.Get(w.ctx, "probe", &got); err != nil {
		return err
	}
	if got.Value != "hello" {
		return fmt.Errorf("decrypted %q, want %q", got.Value, "hello")
	}
	return nil
}

func checkPhoneLogin(w *world) error {
	challenge, err := w.auth.StartPhoneLogin(w.ctx, "+15550001111")
	if err != nil {
		return err
	}
	if challenge.DevCode == "" {
		return fmt.Errorf("development profile should expose the OTP code")
	}

	result, err := w.auth.VerifyPhoneCode(w.ctx, challenge.ChallengeID, challenge.DevCode)
	if err != nil {
		return err
	}
	if result.Session.AccessToken == "" || result.Session.RefreshToken == "" {
		return fmt.Errorf("login returned an incomplete session")
	}
	if _, err := w.auth.VerifyAccessToken(result.Session.AccessToken); err != nil {
		return fmt.Errorf("freshly minted access token does not verify: %w", err)
	}

	w.userID = result.User.ID
	w.refreshToken = result.Session.RefreshToken
	return nil
}

func checkUsernameFlow(w *world) error {
	availability, err := w.auth.CheckUsernameAvailability(w.ctx, "smoke_reader")
	if err != nil {
		return err
	}
	if !availability.Available {
		return fmt.Errorf("fresh name reported unavailable (%s)", availability.Reason)
	}

	if _, err := w.auth.ReserveUsername(w.ctx, "smoke_reader", w.userID); err != nil {
		return err
	}

	name := "smoke_reader"
	if _, err := w.auth.UpdateProfile(w.ctx, w.userID, auth.ProfileUpdate{Username: &name}); err != nil {
		return err
	}

	after, err := w.auth.CheckUsernameAvailability(w.ctx, "smoke_reader")
	if err != nil {
		return err
	}
	if after.Available || after.Reason != auth.ReasonTaken {
		return fmt.Errorf("committed name should read back taken, got %+v", after)
	}
	return nil
}

func checkSessionRotation(w *world) error {
	pair, err := w.auth.RefreshSession(w.ctx, w.refreshToken)
	if err != nil {
		return err
	}
	if pair.RefreshToken == w.refreshToken {
		return fmt.Errorf("rotation returned the same refresh token")
	}

	// The consumed token must be dead.
	if _, err := w.auth.RefreshSession(w.ctx, w.refreshToken); err == nil {
		return fmt.Errorf("replaying a consumed refresh token should fail")
	}

	w.refreshToken = pair.RefreshToken
	return nil
}

func checkCatalog(w *world) error {
	item, err := w.content.CreateMediaItem(w.ctx, content.CreateMediaItemInput{
		Kind:  content.KindShow,
		Title: "Smoke Signals",
	})
	if err != nil {
		return err
	}
	w.mediaItemID = item.ID

	for episode := 1; episode <= 3; episode++ {
		unit, err := w.content.CreateMediaUnit(w.ctx, content.CreateMediaUnitInput{
			MediaItemID:  item.ID,
			ReleaseOrder: episode,
			Season:       1,
			Episode:      episode,
		})
		if err != nil {
			return err
		}
		w.unitIDs = append(w.unitIDs, unit.ID)
	}

	selection, err := w.content.SelectGroupMedia(w.ctx, content.SelectGroupMediaInput{
		GroupID:     smokeGroup,
		MediaItemID: item.ID,
		IsActive:    true,
	})
	if err != nil {
		return err
	}
	if !selection.IsActive {
		return fmt.Errorf("selection did not activate")
	}
	return nil
}

func checkSpoilerGate(w *world) error {
	post, err := w.content.CreatePost(w.ctx, content.CreatePostInput{
		GroupID:        smokeGroup,
		MediaItemID:    w.mediaItemID,
		AuthorID:       w.userID,
		PreviewText:    "No spoilers here",
		Body:           "The lighthouse was the twist all along.",
		RequiredUnitID: w.unitIDs[1],
	})
	if err != nil {
		return err
	}
	w.postID = post.ID

	feed, err := w.content.GetFeedForUser(w.ctx, w.userID, smokeGroup, w.mediaItemID)
	if err != nil {
		return err
	}
	if len(feed.Posts) != 1 || feed.Posts[0].Unlocked || feed.Posts[0].Body != "" {
		return fmt.Errorf("fresh reader should see a locked post")
	}

	marked, err := w.content.MarkAsRead(w.ctx, content.MarkAsReadInput{
		UserID:      w.userID,
		GroupID:     smokeGroup,
		MediaItemID: w.mediaItemID,
		UnitID:      w.unitIDs[1],
	})
	if err != nil {
		return err
	}
	if marked.Rollback.Token == "" {
		return fmt.Errorf("forward mark should hand back an undo token")
	}
	w.undoToken = marked.Rollback.Token

	feed, err = w.content.GetFeedForUser(w.ctx, w.userID, smokeGroup, w.mediaItemID)
	if err != nil {
		return err
	}
	if !feed.Posts[0].Unlocked || feed.Posts[0].Body == "" {
		return fmt.Errorf("post should unlock at the gating unit")
	}
	return nil
}

func checkRollback(w *world) error {
	result, err := w.content.RollbackProgress(w.ctx, content.RollbackInput{
		UserID:        w.userID,
		RollbackToken: w.undoToken,
	})
	if err != nil {
		return err
	}
	if result.Progress.HighestUnitOrder != 0 {
		return fmt.Errorf("rollback should restore order 0, got %d", result.Progress.HighestUnitOrder)
	}
	if len(result.RelockedPostIDs) != 1 || result.RelockedPostIDs[0] != w.postID {
		return fmt.Errorf("rollback should relock the post")
	}

	// Consumed tokens stay consumed.
	if _, err := w.content.RollbackProgress(w.ctx, content.RollbackInput{
		UserID:        w.userID,
		RollbackToken: w.undoToken,
	}); err == nil {
		return fmt.Errorf("replaying a consumed undo token should fail")
	}
	return nil
}

func checkEventFanOut(w *world) error {
	// The earlier steps published post and progress events onto the bus;
	// the subscription opened before them must have seen both types.
	deadline := time.After(2 * time.Second)
	seen := map[string]bool{}
	for len(seen) < 2 {
		select {
		case ev := <-w.feedEvents:
			seen[ev.Type] = true
			if ev.GroupID == "" {
				return fmt.Errorf("content event %s lost its group id", ev.Type)
			}
		case <-deadline:
			return fmt.Errorf("timed out waiting for bus events, saw %v", seen)
		}
	}
	return nil
}
