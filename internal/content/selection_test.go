package content

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nospoilers/backend/internal/apperr"
)

func TestSelectGroupMediaActivates(t *testing.T) {
	h := newHarness(t, Config{})
	item, err := h.svc.CreateMediaItem(h.ctx, CreateMediaItemInput{Kind: KindShow, Title: "Night Watch"})
	require.NoError(t, err)

	sel, err := h.svc.SelectGroupMedia(h.ctx, SelectGroupMediaInput{
		GroupID:     "group-1",
		MediaItemID: item.ID,
		IsActive:    true,
	})
	require.NoError(t, err)
	assert.True(t, sel.IsActive)
	assert.Equal(t, "group-1", sel.GroupID)

	active, err := h.svc.GetActiveSelection(h.ctx, "group-1")
	require.NoError(t, err)
	assert.Equal(t, sel.ID, active.ID)
}

func TestSelectGroupMediaValidation(t *testing.T) {
	h := newHarness(t, Config{})
	item, err := h.svc.CreateMediaItem(h.ctx, CreateMediaItemInput{Kind: KindBook, Title: "Dune"})
	require.NoError(t, err)

	_, err = h.svc.SelectGroupMedia(h.ctx, SelectGroupMediaInput{MediaItemID: item.ID, IsActive: true})
	require.ErrorIs(t, err, apperr.ErrInvalidMedia, "group id is required")
	var appErr *apperr.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "groupId", appErr.Field)

	_, err = h.svc.SelectGroupMedia(h.ctx, SelectGroupMediaInput{GroupID: "group-1", MediaItemID: "missing", IsActive: true})
	assert.ErrorIs(t, err, apperr.ErrUnknownMedia)
}

func TestActivatingSwapsThePreviousSelection(t *testing.T) {
	h := newHarness(t, Config{})
	book, err := h.svc.CreateMediaItem(h.ctx, CreateMediaItemInput{Kind: KindBook, Title: "Dune"})
	require.NoError(t, err)
	show, err := h.svc.CreateMediaItem(h.ctx, CreateMediaItemInput{Kind: KindShow, Title: "Night Watch"})
	require.NoError(t, err)

	first, err := h.svc.SelectGroupMedia(h.ctx, SelectGroupMediaInput{GroupID: "group-1", MediaItemID: book.ID, IsActive: true})
	require.NoError(t, err)
	h.clk.Advance(time.Second)

	second, err := h.svc.SelectGroupMedia(h.ctx, SelectGroupMediaInput{GroupID: "group-1", MediaItemID: show.ID, IsActive: true})
	require.NoError(t, err)

	active, err := h.svc.GetActiveSelection(h.ctx, "group-1")
	require.NoError(t, err)
	assert.Equal(t, second.ID, active.ID, "the newly activated selection wins")

	list, err := h.svc.ListSelections(h.ctx, "group-1")
	require.NoError(t, err)
	require.Len(t, list, 2)

	activeCount := 0
	for _, sel := range list {
		if sel.IsActive {
			activeCount++
		}
	}
	assert.Equal(t, 1, activeCount, "at most one selection per group is active")
	assert.Equal(t, second.ID, list[0].ID, "active selection lists first")
	assert.Equal(t, first.ID, list[1].ID)
	assert.False(t, list[1].IsActive, "previous selection was deactivated in the same write")
}

func TestDeactivateSelection(t *testing.T) {
	h := newHarness(t, Config{})
	item, _ := h.seedShow(t, "group-1", 1)

	sel, err := h.svc.SelectGroupMedia(h.ctx, SelectGroupMediaInput{
		GroupID:     "group-1",
		MediaItemID: item.ID,
		IsActive:    false,
	})
	require.NoError(t, err)
	assert.False(t, sel.IsActive)

	_, err = h.svc.GetActiveSelection(h.ctx, "group-1")
	assert.ErrorIs(t, err, apperr.ErrUnknownSelection, "no active selection remains")
}

func TestReactivationReusesTheSelectionRecord(t *testing.T) {
	h := newHarness(t, Config{})
	item, _ := h.seedShow(t, "group-1", 1)

	deactivated, err := h.svc.SelectGroupMedia(h.ctx, SelectGroupMediaInput{GroupID: "group-1", MediaItemID: item.ID, IsActive: false})
	require.NoError(t, err)

	reactivated, err := h.svc.SelectGroupMedia(h.ctx, SelectGroupMediaInput{GroupID: "group-1", MediaItemID: item.ID, IsActive: true})
	require.NoError(t, err)
	assert.Equal(t, deactivated.ID, reactivated.ID, "selection for a pair is upserted, not duplicated")

	list, err := h.svc.ListSelections(h.ctx, "group-1")
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestSelectionsAreIsolatedPerGroup(t *testing.T) {
	h := newHarness(t, Config{})
	item, err := h.svc.CreateMediaItem(h.ctx, CreateMediaItemInput{Kind: KindShow, Title: "Night Watch"})
	require.NoError(t, err)

	_, err = h.svc.SelectGroupMedia(h.ctx, SelectGroupMediaInput{GroupID: "group-1", MediaItemID: item.ID, IsActive: true})
	require.NoError(t, err)
	_, err = h.svc.SelectGroupMedia(h.ctx, SelectGroupMediaInput{GroupID: "group-2", MediaItemID: item.ID, IsActive: true})
	require.NoError(t, err)

	one, err := h.svc.GetActiveSelection(h.ctx, "group-1")
	require.NoError(t, err)
	two, err := h.svc.GetActiveSelection(h.ctx, "group-2")
	require.NoError(t, err)
	assert.True(t, one.IsActive)
	assert.True(t, two.IsActive, "groups hold independent active selections")
	assert.NotEqual(t, one.ID, two.ID)
}
