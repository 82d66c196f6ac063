package scim_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	dsyncdb "github.com/boxyhq/dsync/internal/db"
	"github.com/boxyhq/dsync/internal/event"
	"github.com/boxyhq/dsync/internal/model"
	"github.com/boxyhq/dsync/internal/scim"
	"github.com/boxyhq/dsync/internal/store"
)

type fixture struct {
	handler     *scim.Handler
	directories *store.Directories
	dir         *model.Directory
	users       *store.Users
	groups      *store.Groups
	events      *[]event.DirectorySyncEvent
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, dsyncdb.AutoMigrate(db))

	bus := event.NewBus()
	captured := &[]event.DirectorySyncEvent{}
	bus.Subscribe(func(_ context.Context, e event.DirectorySyncEvent) {
		*captured = append(*captured, e)
	})

	users := store.NewUsers(db)
	groups := store.NewGroups(db)
	logs := store.NewWebhookLogs(db, 0)
	directories := store.NewDirectories(db, users, groups, logs, bus, "https://dsync.example.com")

	dir, err := directories.Create(context.Background(), store.CreateParams{
		Tenant:  "acme",
		Product: "app",
		Type:    model.OktaSCIMV2,
	})
	require.NoError(t, err)
	*captured = (*captured)[:0] // drop the dsync.created event

	log := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	return &fixture{
		handler:     scim.NewHandler(directories, users, groups, bus, log),
		directories: directories,
		dir:         dir,
		users:       users,
		groups:      groups,
		events:      captured,
	}
}

func (f *fixture) request(method string, resource scim.ResourceType, id string, body string) scim.Request {
	return scim.Request{
		Method:       method,
		DirectoryID:  f.dir.ID,
		ResourceType: resource,
		ResourceID:   id,
		APISecret:    f.dir.SCIM.Secret,
		Body:         json.RawMessage(body),
	}
}

func (f *fixture) eventTypes() []event.Type {
	out := make([]event.Type, 0, len(*f.events))
	for _, e := range *f.events {
		out = append(out, e.Event)
	}
	return out
}

func userBody(email string) string {
	return fmt.Sprintf(`{
		"schemas": ["urn:ietf:params:scim:schemas:core:2.0:User"],
		"userName": %q,
		"name": {"givenName": "Jackson", "familyName": "Tester"},
		"active": true
	}`, email)
}

func (f *fixture) createUser(t *testing.T, email string) string {
	t.Helper()
	resp := f.handler.Handle(context.Background(), f.request(http.MethodPost, scim.ResourceUsers, "", userBody(email)))
	require.Equal(t, http.StatusCreated, resp.Status)
	raw := resp.Data.(model.JSONMap)
	return raw["id"].(string)
}

// --- dispatcher ------------------------------------------------------------

func TestHandle_UnknownDirectoryIs404(t *testing.T) {
	f := newFixture(t)
	req := f.request(http.MethodGet, scim.ResourceUsers, "", "")
	req.DirectoryID = "missing"

	resp := f.handler.Handle(context.Background(), req)
	assert.Equal(t, http.StatusNotFound, resp.Status)
}

func TestHandle_WrongSecretIs401(t *testing.T) {
	f := newFixture(t)
	req := f.request(http.MethodGet, scim.ResourceUsers, "", "")
	req.APISecret = "wrong"

	resp := f.handler.Handle(context.Background(), req)
	assert.Equal(t, http.StatusUnauthorized, resp.Status)
}

func TestHandle_DeactivatedDirectoryNoopsWith200(t *testing.T) {
	f := newFixture(t)

	deactivated := true
	_, err := f.directories.Update(context.Background(), f.dir.ID, store.UpdateParams{Deactivated: &deactivated})
	require.NoError(t, err)
	*f.events = (*f.events)[:0] // drop the dsync.deactivated event

	// Even with a wrong secret the deactivated connection answers 200 and
	// performs no mutation.
	req := f.request(http.MethodPost, scim.ResourceUsers, "", userBody("u@example.com"))
	req.APISecret = "wrong"
	resp := f.handler.Handle(context.Background(), req)

	assert.Equal(t, http.StatusOK, resp.Status)
	assert.Nil(t, resp.Data)
	assert.Empty(t, f.eventTypes())
}

// --- users -----------------------------------------------------------------

func TestUsers_CreateEmitsEvent(t *testing.T) {
	f := newFixture(t)
	id := f.createUser(t, "jackson@example.com")

	user, err := f.users.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "Jackson", user.FirstName)
	assert.Equal(t, []event.Type{event.UserCreated}, f.eventTypes())
}

func TestUsers_CreateDuplicateEmailIs409(t *testing.T) {
	f := newFixture(t)
	f.createUser(t, "jackson@example.com")

	resp := f.handler.Handle(context.Background(),
		f.request(http.MethodPost, scim.ResourceUsers, "", userBody("jackson@example.com")))
	assert.Equal(t, http.StatusConflict, resp.Status)
}

func TestUsers_GetScopedToDirectory(t *testing.T) {
	f := newFixture(t)

	// A user that exists but belongs to a different directory resolves as
	// missing.
	other, err := f.users.Create(context.Background(), &model.User{
		DirectoryID: "other-dir",
		Email:       "other@example.com",
		Raw:         model.JSONMap{},
	})
	require.NoError(t, err)

	resp := f.handler.Handle(context.Background(),
		f.request(http.MethodGet, scim.ResourceUsers, other.ID, ""))
	assert.Equal(t, http.StatusNotFound, resp.Status)
}

func TestUsers_ListWithFilter(t *testing.T) {
	f := newFixture(t)
	f.createUser(t, "a@example.com")
	f.createUser(t, "b@example.com")

	req := f.request(http.MethodGet, scim.ResourceUsers, "", "")
	req.Filter = `userName eq "a@example.com"`
	resp := f.handler.Handle(context.Background(), req)

	require.Equal(t, http.StatusOK, resp.Status)
	list := resp.Data.(scim.ListResponse)
	assert.Equal(t, 1, list.TotalResults)
	require.Len(t, list.Resources, 1)
}

func TestUsers_ListPagination(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 3; i++ {
		f.createUser(t, fmt.Sprintf("user%d@example.com", i))
	}

	req := f.request(http.MethodGet, scim.ResourceUsers, "", "")
	req.StartIndex = 2
	req.Count = 2
	resp := f.handler.Handle(context.Background(), req)

	require.Equal(t, http.StatusOK, resp.Status)
	list := resp.Data.(scim.ListResponse)
	assert.Equal(t, 3, list.TotalResults)
	assert.Len(t, list.Resources, 2)
	assert.Equal(t, 2, list.StartIndex)
}

func TestUsers_PatchActiveFalseDeprovisions(t *testing.T) {
	f := newFixture(t)
	id := f.createUser(t, "jackson@example.com")

	body := `{"schemas": ["urn:ietf:params:scim:api:messages:2.0:PatchOp"],
		"Operations": [{"op": "replace", "value": {"active": false}}]}`
	resp := f.handler.Handle(context.Background(),
		f.request(http.MethodPatch, scim.ResourceUsers, id, body))

	require.Equal(t, http.StatusOK, resp.Status)
	raw := resp.Data.(model.JSONMap)
	assert.Equal(t, false, raw["active"])

	_, err := f.users.Get(context.Background(), id)
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Equal(t, []event.Type{event.UserCreated, event.UserDeleted}, f.eventTypes())
}

func TestUsers_PatchUpdatesNameAndRaw(t *testing.T) {
	f := newFixture(t)
	id := f.createUser(t, "jackson@example.com")

	body := `{"Operations": [{"op": "replace", "path": "name.givenName", "value": "Updated"}]}`
	resp := f.handler.Handle(context.Background(),
		f.request(http.MethodPatch, scim.ResourceUsers, id, body))
	require.Equal(t, http.StatusOK, resp.Status)

	user, err := f.users.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "Updated", user.FirstName)
	name := user.Raw["name"].(map[string]any)
	assert.Equal(t, "Updated", name["givenName"])
	assert.Equal(t, []event.Type{event.UserCreated, event.UserUpdated}, f.eventTypes())
}

func TestUsers_ReplaceActiveFalseDeprovisions(t *testing.T) {
	f := newFixture(t)
	id := f.createUser(t, "jackson@example.com")

	body := `{"userName": "jackson@example.com", "active": false}`
	resp := f.handler.Handle(context.Background(),
		f.request(http.MethodPut, scim.ResourceUsers, id, body))

	require.Equal(t, http.StatusOK, resp.Status)
	_, err := f.users.Get(context.Background(), id)
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Equal(t, []event.Type{event.UserCreated, event.UserDeleted}, f.eventTypes())
}

func TestUsers_DeleteEmitsEvent(t *testing.T) {
	f := newFixture(t)
	id := f.createUser(t, "jackson@example.com")

	resp := f.handler.Handle(context.Background(),
		f.request(http.MethodDelete, scim.ResourceUsers, id, ""))

	require.Equal(t, http.StatusOK, resp.Status)
	assert.Equal(t, []event.Type{event.UserCreated, event.UserDeleted}, f.eventTypes())
}

func TestUsers_PasswordStrippedFromRaw(t *testing.T) {
	f := newFixture(t)

	body := `{"userName": "jackson@example.com", "password": "hunter2"}`
	resp := f.handler.Handle(context.Background(),
		f.request(http.MethodPost, scim.ResourceUsers, "", body))
	require.Equal(t, http.StatusCreated, resp.Status)

	raw := resp.Data.(model.JSONMap)
	_, present := raw["password"]
	assert.False(t, present)
}

// --- groups ----------------------------------------------------------------

func groupBody(name string) string {
	return fmt.Sprintf(`{
		"schemas": ["urn:ietf:params:scim:schemas:core:2.0:Group"],
		"displayName": %q,
		"members": []
	}`, name)
}

func (f *fixture) createGroup(t *testing.T, name string) string {
	t.Helper()
	resp := f.handler.Handle(context.Background(),
		f.request(http.MethodPost, scim.ResourceGroups, "", groupBody(name)))
	require.Equal(t, http.StatusCreated, resp.Status)
	raw := resp.Data.(model.JSONMap)
	return raw["id"].(string)
}

func TestGroups_CreateRequiresDisplayName(t *testing.T) {
	f := newFixture(t)
	resp := f.handler.Handle(context.Background(),
		f.request(http.MethodPost, scim.ResourceGroups, "", `{"members": []}`))
	assert.Equal(t, http.StatusBadRequest, resp.Status)
}

func TestGroups_CreateDuplicateNameIs409(t *testing.T) {
	f := newFixture(t)
	f.createGroup(t, "Engineering")

	resp := f.handler.Handle(context.Background(),
		f.request(http.MethodPost, scim.ResourceGroups, "", groupBody("Engineering")))
	assert.Equal(t, http.StatusConflict, resp.Status)
}

func TestGroups_PatchAddAndRemoveMember(t *testing.T) {
	f := newFixture(t)
	userID := f.createUser(t, "jackson@example.com")
	groupID := f.createGroup(t, "Engineering")

	addBody := fmt.Sprintf(`{"Operations": [
		{"op": "add", "path": "members", "value": [{"value": %q}]}]}`, userID)
	resp := f.handler.Handle(context.Background(),
		f.request(http.MethodPatch, scim.ResourceGroups, groupID, addBody))
	require.Equal(t, http.StatusOK, resp.Status)

	in, err := f.groups.IsUserInGroup(context.Background(), groupID, userID)
	require.NoError(t, err)
	assert.True(t, in)

	removeBody := fmt.Sprintf(`{"Operations": [
		{"op": "remove", "path": "members[value eq \"%s\"]"}]}`, userID)
	resp = f.handler.Handle(context.Background(),
		f.request(http.MethodPatch, scim.ResourceGroups, groupID, removeBody))
	require.Equal(t, http.StatusOK, resp.Status)

	// After the removal the response body reflects the emptied membership.
	raw := resp.Data.(model.JSONMap)
	members, ok := raw["members"].([]any)
	require.True(t, ok)
	assert.Empty(t, members)

	assert.Equal(t, []event.Type{
		event.UserCreated,
		event.GroupCreated,
		event.GroupUserAdded,
		event.GroupUserRemoved,
	}, f.eventTypes())
}

func TestGroups_PatchAddUnknownUserIsNonFatal(t *testing.T) {
	f := newFixture(t)
	groupID := f.createGroup(t, "Engineering")

	// IdPs sometimes reference members the SCIM stream never delivered;
	// the membership row is still written but no event is emitted.
	addBody := `{"Operations": [
		{"op": "add", "path": "members", "value": [{"value": "ghost-user"}]}]}`
	resp := f.handler.Handle(context.Background(),
		f.request(http.MethodPatch, scim.ResourceGroups, groupID, addBody))
	require.Equal(t, http.StatusOK, resp.Status)

	in, err := f.groups.IsUserInGroup(context.Background(), groupID, "ghost-user")
	require.NoError(t, err)
	assert.True(t, in)
	assert.Equal(t, []event.Type{event.GroupCreated}, f.eventTypes())
}

func TestGroups_PatchRename(t *testing.T) {
	f := newFixture(t)
	groupID := f.createGroup(t, "Engineering")

	body := `{"Operations": [{"op": "replace", "value": {"displayName": "Platform"}}]}`
	resp := f.handler.Handle(context.Background(),
		f.request(http.MethodPatch, scim.ResourceGroups, groupID, body))
	require.Equal(t, http.StatusOK, resp.Status)

	group, err := f.groups.Get(context.Background(), groupID)
	require.NoError(t, err)
	assert.Equal(t, "Platform", group.Name)
	assert.Contains(t, f.eventTypes(), event.GroupUpdated)
}

func TestGroups_ReplaceReconcilesMembers(t *testing.T) {
	f := newFixture(t)
	keepID := f.createUser(t, "keep@example.com")
	dropID := f.createUser(t, "drop@example.com")
	groupID := f.createGroup(t, "Engineering")

	require.NoError(t, f.groups.AddUserToGroup(context.Background(), groupID, keepID))
	require.NoError(t, f.groups.AddUserToGroup(context.Background(), groupID, dropID))

	body := fmt.Sprintf(`{"displayName": "Engineering", "members": [{"value": %q}]}`, keepID)
	resp := f.handler.Handle(context.Background(),
		f.request(http.MethodPut, scim.ResourceGroups, groupID, body))
	require.Equal(t, http.StatusOK, resp.Status)

	in, err := f.groups.IsUserInGroup(context.Background(), groupID, keepID)
	require.NoError(t, err)
	assert.True(t, in)
	in, err = f.groups.IsUserInGroup(context.Background(), groupID, dropID)
	require.NoError(t, err)
	assert.False(t, in)
}

func TestGroups_GetRefreshesMembersFromStore(t *testing.T) {
	f := newFixture(t)
	userID := f.createUser(t, "jackson@example.com")
	groupID := f.createGroup(t, "Engineering")
	require.NoError(t, f.groups.AddUserToGroup(context.Background(), groupID, userID))

	resp := f.handler.Handle(context.Background(),
		f.request(http.MethodGet, scim.ResourceGroups, groupID, ""))
	require.Equal(t, http.StatusOK, resp.Status)

	raw := resp.Data.(model.JSONMap)
	members := raw["members"].([]any)
	require.Len(t, members, 1)
	first := members[0].(map[string]any)
	assert.Equal(t, userID, first["value"])
}

func TestGroups_DeleteCascadesAndEmits(t *testing.T) {
	f := newFixture(t)
	userID := f.createUser(t, "jackson@example.com")
	groupID := f.createGroup(t, "Engineering")
	require.NoError(t, f.groups.AddUserToGroup(context.Background(), groupID, userID))

	resp := f.handler.Handle(context.Background(),
		f.request(http.MethodDelete, scim.ResourceGroups, groupID, ""))
	require.Equal(t, http.StatusOK, resp.Status)

	_, err := f.groups.Get(context.Background(), groupID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Contains(t, f.eventTypes(), event.GroupDeleted)
}

func TestGroups_ListWithFilter(t *testing.T) {
	f := newFixture(t)
	f.createGroup(t, "Engineering")
	f.createGroup(t, "Sales")

	req := f.request(http.MethodGet, scim.ResourceGroups, "", "")
	req.Filter = `displayName eq "Sales"`
	resp := f.handler.Handle(context.Background(), req)

	require.Equal(t, http.StatusOK, resp.Status)
	list := resp.Data.(scim.ListResponse)
	assert.Equal(t, 1, list.TotalResults)
}
