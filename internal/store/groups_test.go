package store_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/boxyhq/dsync/internal/model"
	"github.com/boxyhq/dsync/internal/store"
)

func testGroup(directoryID, name string) *model.Group {
	return &model.Group{
		DirectoryID: directoryID,
		Name:        name,
		Raw:         model.JSONMap{"displayName": name},
	}
}

func TestGroups_AddUserToGroupIsIdempotent(t *testing.T) {
	db := newTestDB(t)
	groups := store.NewGroups(db)
	ctx := context.Background()

	g, err := groups.Create(ctx, testGroup("dir-1", "Engineering"))
	require.NoError(t, err)

	require.NoError(t, groups.AddUserToGroup(ctx, g.ID, "user-1"))
	require.NoError(t, groups.AddUserToGroup(ctx, g.ID, "user-1"))

	members, err := groups.GetGroupMembers(ctx, g.ID, 0, 10)
	require.NoError(t, err)
	require.Len(t, members, 1)
	assert.Equal(t, model.MembershipID(g.ID, "user-1"), members[0].ID)
}

func TestGroups_IsUserInGroup(t *testing.T) {
	groups := store.NewGroups(newTestDB(t))
	ctx := context.Background()

	g, err := groups.Create(ctx, testGroup("dir-1", "Engineering"))
	require.NoError(t, err)

	in, err := groups.IsUserInGroup(ctx, g.ID, "user-1")
	require.NoError(t, err)
	assert.False(t, in)

	require.NoError(t, groups.AddUserToGroup(ctx, g.ID, "user-1"))

	in, err = groups.IsUserInGroup(ctx, g.ID, "user-1")
	require.NoError(t, err)
	assert.True(t, in)
}

func TestGroups_RemoveUserFromGroupMissingIsNoop(t *testing.T) {
	groups := store.NewGroups(newTestDB(t))
	ctx := context.Background()

	g, err := groups.Create(ctx, testGroup("dir-1", "Engineering"))
	require.NoError(t, err)

	assert.NoError(t, groups.RemoveUserFromGroup(ctx, g.ID, "never-added"))
}

func TestGroups_DeleteRemovesMemberships(t *testing.T) {
	db := newTestDB(t)
	groups := store.NewGroups(db)
	ctx := context.Background()

	g, err := groups.Create(ctx, testGroup("dir-1", "Engineering"))
	require.NoError(t, err)
	require.NoError(t, groups.AddUserToGroup(ctx, g.ID, "user-1"))
	require.NoError(t, groups.AddUserToGroup(ctx, g.ID, "user-2"))

	require.NoError(t, groups.Delete(ctx, g.ID))

	var count int64
	require.NoError(t, db.Model(&model.GroupMember{}).Where("group_id = ?", g.ID).Count(&count).Error)
	assert.EqualValues(t, 0, count)
}

func TestGroups_SearchIsDirectoryScoped(t *testing.T) {
	groups := store.NewGroups(newTestDB(t))
	ctx := context.Background()

	_, err := groups.Create(ctx, testGroup("dir-1", "Engineering"))
	require.NoError(t, err)
	_, err = groups.Create(ctx, testGroup("dir-2", "Engineering"))
	require.NoError(t, err)

	found, err := groups.Search(ctx, "Engineering", "dir-2")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "dir-2", found[0].DirectoryID)
}

func TestGroups_DeleteAllRemovesGroupsAndMemberships(t *testing.T) {
	db := newTestDB(t)
	groups := store.NewGroups(db)
	ctx := context.Background()

	g1, err := groups.Create(ctx, testGroup("dir-1", "A"))
	require.NoError(t, err)
	require.NoError(t, groups.AddUserToGroup(ctx, g1.ID, "user-1"))
	keep, err := groups.Create(ctx, testGroup("dir-2", "B"))
	require.NoError(t, err)

	require.NoError(t, groups.DeleteAll(ctx, "dir-1"))

	_, err = groups.Get(ctx, g1.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = groups.Get(ctx, keep.ID)
	assert.NoError(t, err)

	var count int64
	require.NoError(t, db.Model(&model.GroupMember{}).Count(&count).Error)
	assert.EqualValues(t, 0, count)
}
