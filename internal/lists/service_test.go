package lists

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/waxlog/internal/albums"
	"github.com/MarcoPoloResearchLab/waxlog/internal/apperr"
	"github.com/MarcoPoloResearchLab/waxlog/internal/ids"
	sqlite "github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newTestService(t *testing.T, strict bool) (*Service, *gorm.DB) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "lists.db")), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&albums.Album{}, &List{}, &Entry{}))

	current := time.Unix(1700000000, 0)
	clock := func() time.Time {
		current = current.Add(time.Second)
		return current
	}
	albumService, err := albums.NewService(albums.ServiceConfig{
		Database:   db,
		Clock:      clock,
		IDProvider: ids.NewSequence("album"),
	})
	require.NoError(t, err)
	service, err := NewService(ServiceConfig{
		Database:    db,
		Albums:      albumService,
		Clock:       clock,
		IDProvider:  ids.NewSequence("id"),
		StrictRanks: strict,
	})
	require.NoError(t, err)
	return service, db
}

func albumInput(catalogID string) albums.Input {
	return albums.Input{
		CatalogID: albums.CatalogID(catalogID),
		Name:      "Album " + catalogID,
		Artist:    "Artist " + catalogID,
		Genres:    []string{"jazz", "bebop"},
	}
}

// seedList creates a list holding one entry per catalog id, ranked 1..N.
func seedList(t *testing.T, service *Service, catalogIDs ...string) (List, []Entry) {
	t.Helper()
	ctx := context.Background()
	list, err := service.Create(ctx, "owner", "Best of", "")
	require.NoError(t, err)
	entries := make([]Entry, 0, len(catalogIDs))
	for _, catalogID := range catalogIDs {
		entry, alreadyPresent, addErr := service.AddAlbum(ctx, list.ListID, "owner", albumInput(catalogID))
		require.NoError(t, addErr)
		require.False(t, alreadyPresent)
		entries = append(entries, entry)
	}
	return list, entries
}

func entryIDs(entries []Entry) []string {
	result := make([]string, 0, len(entries))
	for _, entry := range entries {
		result = append(result, entry.EntryID)
	}
	return result
}

func ranks(entries []Entry) []int {
	result := make([]int, 0, len(entries))
	for _, entry := range entries {
		result = append(result, entry.Rank)
	}
	return result
}

func TestAddAlbumAppendsAndSnapshots(t *testing.T) {
	service, _ := newTestService(t, false)
	_, entries := seedList(t, service, "a", "b", "c")

	require.Equal(t, []int{1, 2, 3}, ranks(entries))
	require.Equal(t, "Album a", entries[0].Name)
	require.Equal(t, "jazz", entries[0].Genre)
}

func TestAddAlbumTwiceKeepsCount(t *testing.T) {
	service, _ := newTestService(t, false)
	ctx := context.Background()
	list, entries := seedList(t, service, "a", "b")

	again, alreadyPresent, err := service.AddAlbum(ctx, list.ListID, "owner", albumInput("a"))
	require.NoError(t, err)
	require.True(t, alreadyPresent)
	require.Equal(t, entries[0].EntryID, again.EntryID)

	detail, err := service.Get(ctx, list.ListID, "owner")
	require.NoError(t, err)
	require.Len(t, detail.Entries, 2)
}

func TestUpdateRanksPartialReorder(t *testing.T) {
	service, _ := newTestService(t, false)
	ctx := context.Background()
	list, entries := seedList(t, service, "a", "b", "c")
	e1, e2, e3 := entries[0], entries[1], entries[2]

	ordered, err := service.UpdateRanks(ctx, list.ListID, "owner", []RankUpdate{
		{EntryID: e3.EntryID, Rank: 1},
		{EntryID: e1.EntryID, Rank: 3},
	})
	require.NoError(t, err)
	require.Equal(t, []string{e3.EntryID, e2.EntryID, e1.EntryID}, entryIDs(ordered))
	require.Equal(t, []int{1, 2, 3}, ranks(ordered))
}

func TestUpdateRanksTiesListInCreationOrder(t *testing.T) {
	service, _ := newTestService(t, false)
	ctx := context.Background()
	list, entries := seedList(t, service, "a", "b", "c")

	ordered, err := service.UpdateRanks(ctx, list.ListID, "owner", []RankUpdate{
		{EntryID: entries[2].EntryID, Rank: 2},
	})
	require.NoError(t, err)
	require.Equal(t, []string{entries[0].EntryID, entries[1].EntryID, entries[2].EntryID}, entryIDs(ordered))
	require.Equal(t, []int{1, 2, 2}, ranks(ordered))
}

func TestUpdateRanksRejectsInvalidBatches(t *testing.T) {
	service, _ := newTestService(t, false)
	ctx := context.Background()
	list, entries := seedList(t, service, "a", "b")

	cases := map[string][]RankUpdate{
		"empty":     {},
		"zero rank": {{EntryID: entries[0].EntryID, Rank: 0}},
		"duplicate": {{EntryID: entries[0].EntryID, Rank: 1}, {EntryID: entries[0].EntryID, Rank: 2}},
	}
	for name, batch := range cases {
		_, err := service.UpdateRanks(ctx, list.ListID, "owner", batch)
		require.ErrorIs(t, err, apperr.ErrValidation, name)
	}
}

func TestUpdateRanksChecksOwnershipBeforeBatch(t *testing.T) {
	service, _ := newTestService(t, false)
	ctx := context.Background()
	list, entries := seedList(t, service, "a", "b")

	cases := map[string][]RankUpdate{
		"nil":       nil,
		"zero rank": {{EntryID: entries[0].EntryID, Rank: 0}},
	}
	for name, batch := range cases {
		_, err := service.UpdateRanks(ctx, list.ListID, "intruder", batch)
		require.ErrorIs(t, err, apperr.ErrForbidden, name)
		_, err = service.UpdateRanks(ctx, "missing-list", "owner", batch)
		require.ErrorIs(t, err, apperr.ErrNotFound, name)
	}
}

func TestUpdateRanksForeignEntryAbortsWholeBatch(t *testing.T) {
	service, _ := newTestService(t, false)
	ctx := context.Background()
	list, entries := seedList(t, service, "a", "b")
	_, otherEntries := seedList(t, service, "c")

	_, err := service.UpdateRanks(ctx, list.ListID, "owner", []RankUpdate{
		{EntryID: entries[0].EntryID, Rank: 2},
		{EntryID: otherEntries[0].EntryID, Rank: 1},
	})
	require.ErrorIs(t, err, apperr.ErrNotFound)

	detail, err := service.Get(ctx, list.ListID, "owner")
	require.NoError(t, err)
	require.Equal(t, []int{1, 2}, ranks(detail.Entries))
	require.Equal(t, entries[0].EntryID, detail.Entries[0].EntryID)
}

func TestStrictRanksRequirePermutation(t *testing.T) {
	service, _ := newTestService(t, true)
	ctx := context.Background()
	list, entries := seedList(t, service, "a", "b", "c")

	_, err := service.UpdateRanks(ctx, list.ListID, "owner", []RankUpdate{
		{EntryID: entries[2].EntryID, Rank: 1},
		{EntryID: entries[0].EntryID, Rank: 3},
	})
	require.ErrorIs(t, err, apperr.ErrValidation)

	_, err = service.UpdateRanks(ctx, list.ListID, "owner", []RankUpdate{
		{EntryID: entries[0].EntryID, Rank: 1},
		{EntryID: entries[1].EntryID, Rank: 1},
		{EntryID: entries[2].EntryID, Rank: 4},
	})
	require.ErrorIs(t, err, apperr.ErrValidation)

	ordered, err := service.UpdateRanks(ctx, list.ListID, "owner", []RankUpdate{
		{EntryID: entries[2].EntryID, Rank: 1},
		{EntryID: entries[1].EntryID, Rank: 2},
		{EntryID: entries[0].EntryID, Rank: 3},
	})
	require.NoError(t, err)
	require.Equal(t, []string{entries[2].EntryID, entries[1].EntryID, entries[0].EntryID}, entryIDs(ordered))
}

func TestRemoveEntryKeepsSiblingRanksUntilCompaction(t *testing.T) {
	service, _ := newTestService(t, false)
	ctx := context.Background()
	list, entries := seedList(t, service, "a", "b", "c")

	require.NoError(t, service.RemoveEntry(ctx, list.ListID, "owner", entries[1].EntryID))
	require.ErrorIs(t, service.RemoveEntry(ctx, list.ListID, "owner", entries[1].EntryID), apperr.ErrNotFound)

	detail, err := service.Get(ctx, list.ListID, "owner")
	require.NoError(t, err)
	require.Equal(t, []int{1, 3}, ranks(detail.Entries))

	next, _, err := service.AddAlbum(ctx, list.ListID, "owner", albumInput("d"))
	require.NoError(t, err)
	require.Equal(t, 3, next.Rank)

	compacted, err := service.CompactRanks(ctx, list.ListID, "owner")
	require.NoError(t, err)
	require.Equal(t, []int{1, 2, 3}, ranks(compacted))
	require.Equal(t, []string{entries[0].EntryID, entries[2].EntryID, next.EntryID}, entryIDs(compacted))
}

func TestListsArePrivate(t *testing.T) {
	service, _ := newTestService(t, false)
	ctx := context.Background()
	list, entries := seedList(t, service, "a")

	_, err := service.Get(ctx, list.ListID, "intruder")
	require.ErrorIs(t, err, apperr.ErrForbidden)
	_, _, err = service.AddAlbum(ctx, list.ListID, "intruder", albumInput("b"))
	require.ErrorIs(t, err, apperr.ErrForbidden)
	_, err = service.UpdateRanks(ctx, list.ListID, "intruder", []RankUpdate{{EntryID: entries[0].EntryID, Rank: 1}})
	require.ErrorIs(t, err, apperr.ErrForbidden)
	_, err = service.Get(ctx, "missing", "owner")
	require.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestCreateUpdateListAndDeleteCascades(t *testing.T) {
	service, db := newTestService(t, false)
	ctx := context.Background()

	_, err := service.Create(ctx, "owner", "   ", "")
	require.ErrorIs(t, err, apperr.ErrValidation)

	list, _ := seedList(t, service, "a", "b")
	title := "Desert island"
	updated, err := service.Update(ctx, list.ListID, "owner", Changes{Title: &title})
	require.NoError(t, err)
	require.Equal(t, title, updated.Title)

	summaries, err := service.ListForUser(ctx, "owner")
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	require.EqualValues(t, 2, summaries[0].EntryCount)

	require.NoError(t, service.Delete(ctx, list.ListID, "owner"))
	var remaining int64
	require.NoError(t, db.Model(&Entry{}).Count(&remaining).Error)
	require.Zero(t, remaining)
	_, err = service.Get(ctx, list.ListID, "owner")
	require.ErrorIs(t, err, apperr.ErrNotFound)
}
