// Package event defines the domain events emitted by the sync pipeline and
// an in-process bus that decouples emitters from delivery subscribers.
package event

import (
	"context"
	"sync"

	"github.com/boxyhq/dsync/internal/model"
)

// Type names a directory sync event.
type Type string

// Webhook-visible event types.
const (
	UserCreated      Type = "user.created"
	UserUpdated      Type = "user.updated"
	UserDeleted      Type = "user.deleted"
	GroupCreated     Type = "group.created"
	GroupUpdated     Type = "group.updated"
	GroupDeleted     Type = "group.deleted"
	GroupUserAdded   Type = "group.user_added"
	GroupUserRemoved Type = "group.user_removed"
)

// Directory lifecycle notifications. These go to lifecycle sinks only,
// never to directory webhooks.
const (
	DirectoryCreated     Type = "dsync.created"
	DirectoryActivated   Type = "dsync.activated"
	DirectoryDeactivated Type = "dsync.deactivated"
	DirectoryDeleted     Type = "dsync.deleted"
)

// IsLifecycle reports whether t is a dsync.* lifecycle notification.
func (t Type) IsLifecycle() bool {
	switch t {
	case DirectoryCreated, DirectoryActivated, DirectoryDeactivated, DirectoryDeleted:
		return true
	}
	return false
}

// DirectorySyncEvent is the payload delivered to a directory's webhook
// endpoint (singly or as part of a batch).
type DirectorySyncEvent struct {
	DirectoryID string `json:"directory_id"`
	Event       Type   `json:"event"`
	Tenant      string `json:"tenant"`
	Product     string `json:"product"`
	Data        any    `json:"data"`
}

// UserWithGroup is the data shape for membership events: the affected user
// plus the group it was added to or removed from.
type UserWithGroup struct {
	model.User
	Group *model.Group `json:"group"`
}

// Payload assembles the webhook payload for action. user and group may be
// nil depending on the action category:
//   - user.*              -> user only
//   - group.created/updated/deleted -> group only
//   - group.user_added/removed      -> user and group
func Payload(action Type, directory *model.Directory, user *model.User, group *model.Group) DirectorySyncEvent {
	e := DirectorySyncEvent{
		DirectoryID: directory.ID,
		Event:       action,
		Tenant:      directory.Tenant,
		Product:     directory.Product,
	}
	switch action {
	case GroupUserAdded, GroupUserRemoved:
		e.Data = UserWithGroup{User: *user, Group: group}
	case UserCreated, UserUpdated, UserDeleted:
		e.Data = *user
	default:
		e.Data = *group
	}
	return e
}

// Handler consumes a published event. Handlers run synchronously in
// publish order; a slow handler delays later subscribers, not the store
// mutation that already committed.
type Handler func(ctx context.Context, e DirectorySyncEvent)

// Bus is a minimal in-process publish/subscribe fan-out. A single Bus is
// constructed at startup and shared; subscribers register once.
type Bus struct {
	mu   sync.RWMutex
	subs []Handler
}

// NewBus returns an empty Bus.
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers h for all future events.
func (b *Bus) Subscribe(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, h)
}

// Publish delivers e to every subscriber in registration order.
func (b *Bus) Publish(ctx context.Context, e DirectorySyncEvent) {
	b.mu.RLock()
	subs := make([]Handler, len(b.subs))
	copy(subs, b.subs)
	b.mu.RUnlock()
	for _, h := range subs {
		h(ctx, e)
	}
}
