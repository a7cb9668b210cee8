package httpapi

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nospoilers/backend/internal/clock"
	"github.com/nospoilers/backend/internal/content"
	"github.com/nospoilers/backend/internal/kv"
	"github.com/nospoilers/backend/internal/metrics"
	"github.com/nospoilers/backend/internal/vault"
)

// contentFixture runs the content router against in-memory collaborators.
type contentFixture struct {
	svc *content.Service
	clk *clock.Manual
	srv *httptest.Server
}

func newContentFixture(t *testing.T) *contentFixture {
	t.Helper()

	clk := clock.NewManual(time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC))
	store, err := vault.New("fixture-vault-secret", kv.NewMemory(), nil)
	require.NoError(t, err, "vault construction should succeed")

	svc, err := content.NewService(content.Config{}, content.Deps{
		Vault:  store,
		Clock:  clk,
		IDs:    clock.NewSequence("id"),
		Logger: discardLogger(),
	})
	require.NoError(t, err, "service construction should succeed")

	registry := prometheus.NewRegistry()
	router := NewContentRouter(ContentServerDeps{
		Service:  svc,
		Vault:    store,
		Metrics:  metrics.New(registry),
		Registry: registry,
		Logger:   discardLogger(),
	})
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	return &contentFixture{svc: svc, clk: clk, srv: srv}
}

func (fx *contentFixture) post(t *testing.T, path, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(fx.srv.URL+path, "application/json", strings.NewReader(body))
	require.NoError(t, err, "POST %s should not fail at transport level", path)
	return resp
}

func (fx *contentFixture) get(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(fx.srv.URL + path)
	require.NoError(t, err, "GET %s should not fail at transport level", path)
	return resp
}

// createShow seeds one show with units 1..unitCount through the API and
// returns the item ID plus unit IDs indexed by release order minus one.
func (fx *contentFixture) createShow(t *testing.T, title string, unitCount int) (string, []string) {
	t.Helper()

	resp := fx.post(t, "/content/media", fmt.Sprintf(`{"kind":"show","title":%q}`, title))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var item struct {
		ID string `json:"id"`
	}
	decodeInto(t, resp, &item)

	unitIDs := make([]string, 0, unitCount)
	for i := 1; i <= unitCount; i++ {
		body := fmt.Sprintf(`{"releaseOrder":%d,"season":1,"episode":%d}`, i, i)
		resp := fx.post(t, "/content/media/"+item.ID+"/units", body)
		require.Equal(t, http.StatusCreated, resp.StatusCode)
		var unit struct {
			ID string `json:"id"`
		}
		decodeInto(t, resp, &unit)
		unitIDs = append(unitIDs, unit.ID)
	}
	return item.ID, unitIDs
}

func (fx *contentFixture) selectMedia(t *testing.T, groupID, mediaID string) {
	t.Helper()
	resp := fx.post(t, "/content/groups/"+groupID+"/selection",
		fmt.Sprintf(`{"mediaItemId":%q,"isActive":true}`, mediaID))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
}

func (fx *contentFixture) createPost(t *testing.T, groupID, mediaID, unitID string) string {
	t.Helper()
	body := fmt.Sprintf(
		`{"groupId":%q,"mediaItemId":%q,"authorId":"author-1","previewText":"Someone reacted","body":"That twist in the throne room!","requiredUnitId":%q}`,
		groupID, mediaID, unitID)
	resp := fx.post(t, "/content/posts", body)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var post struct {
		ID string `json:"id"`
	}
	decodeInto(t, resp, &post)
	return post.ID
}

func (fx *contentFixture) mark(t *testing.T, userID, groupID, mediaID, unitID string) content.MarkProgressResult {
	t.Helper()
	body := fmt.Sprintf(`{"userId":%q,"groupId":%q,"mediaItemId":%q,"unitId":%q}`,
		userID, groupID, mediaID, unitID)
	resp := fx.post(t, "/content/progress/mark", body)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var result content.MarkProgressResult
	decodeInto(t, resp, &result)
	return result
}

func (fx *contentFixture) feed(t *testing.T, userID, groupID, mediaID string) content.FeedResponse {
	t.Helper()
	resp := fx.get(t, "/content/feed?user="+userID+"&group="+groupID+"&media="+mediaID)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var feed content.FeedResponse
	decodeInto(t, resp, &feed)
	return feed
}

func TestCatalogRoundTripOverHTTP(t *testing.T) {
	fx := newContentFixture(t)

	create := fx.post(t, "/content/media", `{"kind":"book","title":"The Long Winter","author":"A. Frost"}`)
	require.Equal(t, http.StatusCreated, create.StatusCode)
	var item content.MediaItem
	decodeInto(t, create, &item)
	assert.NotEmpty(t, item.ID)
	assert.Equal(t, content.KindBook, item.Kind)

	got := fx.get(t, "/content/media/"+item.ID)
	require.Equal(t, http.StatusOK, got.StatusCode)
	var fetched content.MediaItem
	decodeInto(t, got, &fetched)
	assert.Equal(t, "The Long Winter", fetched.Title)

	// Units come back ordered by release order regardless of insert order.
	for _, order := range []int{2, 1} {
		resp := fx.post(t, "/content/media/"+item.ID+"/units",
			fmt.Sprintf(`{"releaseOrder":%d,"chapter":%d}`, order, order))
		require.Equal(t, http.StatusCreated, resp.StatusCode)
		resp.Body.Close()
	}
	list := fx.get(t, "/content/media/"+item.ID+"/units")
	require.Equal(t, http.StatusOK, list.StatusCode)
	var listed struct {
		Units []content.MediaUnit `json:"units"`
	}
	decodeInto(t, list, &listed)
	require.Len(t, listed.Units, 2)
	assert.Equal(t, 1, listed.Units[0].ReleaseOrder)
	assert.Equal(t, 2, listed.Units[1].ReleaseOrder)
}

func TestDuplicateReleaseOrderIsBadRequest(t *testing.T) {
	fx := newContentFixture(t)
	mediaID, _ := fx.createShow(t, "Night Watch", 1)

	resp := fx.post(t, "/content/media/"+mediaID+"/units", `{"releaseOrder":1,"season":1,"episode":9}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	detail := decodeErrorEnvelope(t, resp)
	assert.Equal(t, "invalid_media", detail.Kind)
	assert.Equal(t, "releaseOrder", detail.Field)
}

func TestUnknownMediaMapsToNotFound(t *testing.T) {
	fx := newContentFixture(t)

	resp := fx.get(t, "/content/media/no-such-item")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "unknown_media", decodeErrorEnvelope(t, resp).Kind)
}

func TestFeedWithoutSelectionIsNotFound(t *testing.T) {
	fx := newContentFixture(t)
	mediaID, _ := fx.createShow(t, "Night Watch", 1)

	resp := fx.get(t, "/content/feed?user=u1&group=group-1&media="+mediaID)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "unknown_selection", decodeErrorEnvelope(t, resp).Kind)
}

func TestSpoilerGateLifecycleOverHTTP(t *testing.T) {
	fx := newContentFixture(t)
	mediaID, unitIDs := fx.createShow(t, "Night Watch", 3)
	fx.selectMedia(t, "group-1", mediaID)
	postID := fx.createPost(t, "group-1", mediaID, unitIDs[1])

	// A fresh reader sees the preview only, with the unit it is gated on.
	feed := fx.feed(t, "user-1", "group-1", mediaID)
	require.Len(t, feed.Posts, 1)
	locked := feed.Posts[0]
	assert.False(t, locked.Unlocked)
	assert.Empty(t, locked.Body)
	assert.Equal(t, "S1E2", locked.UnitReference)
	assert.True(t, locked.MarkAsRead.Enabled)
	assert.Equal(t, unitIDs[1], locked.MarkAsRead.TargetUnitID)

	// Marking episode 2 unlocks the post and hands back an undo token.
	marked := fx.mark(t, "user-1", "group-1", mediaID, unitIDs[1])
	assert.Equal(t, 2, marked.Progress.HighestUnitOrder)
	assert.EqualValues(t, 1, marked.Progress.Version)
	assert.False(t, marked.Idempotent)
	assert.NotEmpty(t, marked.Rollback.Token)
	assert.Equal(t, []string{postID}, marked.UnlockedPostIDs)

	feed = fx.feed(t, "user-1", "group-1", mediaID)
	require.Len(t, feed.Posts, 1)
	assert.True(t, feed.Posts[0].Unlocked)
	assert.Equal(t, "That twist in the throne room!", feed.Posts[0].Body)
	assert.False(t, feed.Posts[0].MarkAsRead.Enabled)

	// Rolling back relocks it.
	rollback := fx.post(t, "/content/progress/rollback",
		fmt.Sprintf(`{"userId":"user-1","rollbackToken":%q}`, marked.Rollback.Token))
	require.Equal(t, http.StatusOK, rollback.StatusCode)
	var rolled content.RollbackResult
	decodeInto(t, rollback, &rolled)
	assert.Equal(t, 0, rolled.Progress.HighestUnitOrder)
	assert.EqualValues(t, 2, rolled.Progress.Version)
	assert.Equal(t, []string{postID}, rolled.RelockedPostIDs)
	assert.NotEmpty(t, rolled.AuditID)

	feed = fx.feed(t, "user-1", "group-1", mediaID)
	assert.False(t, feed.Posts[0].Unlocked)
	assert.Empty(t, feed.Posts[0].Body)
}

func TestRollbackExpiredOverHTTP(t *testing.T) {
	fx := newContentFixture(t)
	mediaID, unitIDs := fx.createShow(t, "Night Watch", 1)
	fx.selectMedia(t, "group-1", mediaID)

	marked := fx.mark(t, "user-1", "group-1", mediaID, unitIDs[0])
	fx.clk.Advance(2*time.Minute + time.Millisecond)

	resp := fx.post(t, "/content/progress/rollback",
		fmt.Sprintf(`{"userId":"user-1","rollbackToken":%q}`, marked.Rollback.Token))
	assert.Equal(t, http.StatusGone, resp.StatusCode)
	assert.Equal(t, "rollback_expired", decodeErrorEnvelope(t, resp).Kind)
}

func TestStaleRollbackOverHTTP(t *testing.T) {
	fx := newContentFixture(t)
	mediaID, unitIDs := fx.createShow(t, "Night Watch", 2)
	fx.selectMedia(t, "group-1", mediaID)

	first := fx.mark(t, "user-1", "group-1", mediaID, unitIDs[0])
	fx.mark(t, "user-1", "group-1", mediaID, unitIDs[1])

	resp := fx.post(t, "/content/progress/rollback",
		fmt.Sprintf(`{"userId":"user-1","rollbackToken":%q}`, first.Rollback.Token))
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "stale", decodeErrorEnvelope(t, resp).Kind)
}

func TestMarkUnknownUnitOverHTTP(t *testing.T) {
	fx := newContentFixture(t)
	mediaID, _ := fx.createShow(t, "Night Watch", 1)
	fx.selectMedia(t, "group-1", mediaID)

	resp := fx.post(t, "/content/progress/mark",
		fmt.Sprintf(`{"userId":"user-1","groupId":"group-1","mediaItemId":%q,"unitId":"ghost-unit"}`, mediaID))
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "unknown_unit", decodeErrorEnvelope(t, resp).Kind)
}

func TestProgressReadsOverHTTP(t *testing.T) {
	fx := newContentFixture(t)
	mediaID, unitIDs := fx.createShow(t, "Night Watch", 2)
	fx.selectMedia(t, "group-1", mediaID)

	// A user who never marked anything reads zero progress, not an error.
	resp := fx.get(t, "/content/progress?user=user-1&group=group-1&media="+mediaID)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var zero content.UserProgress
	decodeInto(t, resp, &zero)
	assert.Zero(t, zero.Version)
	assert.Zero(t, zero.HighestUnitOrder)

	marked := fx.mark(t, "user-1", "group-1", mediaID, unitIDs[1])
	rollback := fx.post(t, "/content/progress/rollback",
		fmt.Sprintf(`{"userId":"user-1","rollbackToken":%q}`, marked.Rollback.Token))
	require.Equal(t, http.StatusOK, rollback.StatusCode)
	rollback.Body.Close()

	trail := fx.get(t, "/content/progress/audit?user=user-1&group=group-1&media="+mediaID)
	require.Equal(t, http.StatusOK, trail.StatusCode)
	var audit struct {
		Events []content.ProgressAuditEvent `json:"events"`
	}
	decodeInto(t, trail, &audit)
	require.Len(t, audit.Events, 2)
	assert.Equal(t, content.AuditMarkRead, audit.Events[0].Kind)
	assert.Equal(t, content.AuditRollback, audit.Events[1].Kind)
	assert.Equal(t, audit.Events[0].ID, audit.Events[1].RollbackOfAuditID)
}

func TestSelectionSwapOverHTTP(t *testing.T) {
	fx := newContentFixture(t)
	firstID, _ := fx.createShow(t, "Night Watch", 1)
	secondID, _ := fx.createShow(t, "Day Patrol", 1)

	fx.selectMedia(t, "group-1", firstID)
	fx.selectMedia(t, "group-1", secondID)

	resp := fx.get(t, "/content/groups/group-1/selection")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var active content.GroupMediaSelection
	decodeInto(t, resp, &active)
	assert.Equal(t, secondID, active.MediaItemID)
	assert.True(t, active.IsActive)

	list := fx.get(t, "/content/groups/group-1/selections")
	require.Equal(t, http.StatusOK, list.StatusCode)
	var listed struct {
		Selections []content.GroupMediaSelection `json:"selections"`
	}
	decodeInto(t, list, &listed)
	require.Len(t, listed.Selections, 2)
	assert.Equal(t, secondID, listed.Selections[0].MediaItemID, "active selection lists first")
	assert.False(t, listed.Selections[1].IsActive)
}

func TestContentHealthEndpoint(t *testing.T) {
	fx := newContentFixture(t)

	resp := fx.get(t, "/health")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var health map[string]string
	decodeInto(t, resp, &health)
	assert.Equal(t, "nospoilers-content", health["service"])
	assert.Equal(t, "connected", health["vault"])
}

func TestRollbackUnknownTokenOverHTTP(t *testing.T) {
	fx := newContentFixture(t)

	resp := fx.post(t, "/content/progress/rollback", `{"userId":"user-1","rollbackToken":"garbage"}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "unknown_token", decodeErrorEnvelope(t, resp).Kind)
}
