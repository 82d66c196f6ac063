// Package model contains GORM model definitions shared across packages.
// All models are driver-agnostic: they work with both PostgreSQL and SQLite.
package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// DirectoryType identifies the identity provider variant behind a directory.
type DirectoryType string

// Supported directory provider types. All but Google push changes over SCIM;
// Google is a pull-based provider and gets no SCIM path or secret.
const (
	AzureSCIMV2     DirectoryType = "azure-scim-v2"
	OktaSCIMV2      DirectoryType = "okta-scim-v2"
	OneLoginSCIMV2  DirectoryType = "onelogin-scim-v2"
	JumpCloudSCIMV2 DirectoryType = "jumpcloud-scim-v2"
	GenericSCIMV2   DirectoryType = "generic-scim-v2"
	GoogleWorkspace DirectoryType = "google"
)

// DirectoryTypes lists every supported provider type.
var DirectoryTypes = []DirectoryType{
	AzureSCIMV2, OktaSCIMV2, OneLoginSCIMV2, JumpCloudSCIMV2, GenericSCIMV2, GoogleWorkspace,
}

// IsSupportedDirectoryType reports whether t is a known provider type.
func IsSupportedDirectoryType(t DirectoryType) bool {
	for _, dt := range DirectoryTypes {
		if dt == t {
			return true
		}
	}
	return false
}

// HasSCIM reports whether t receives SCIM requests (everything except Google).
func (t DirectoryType) HasSCIM() bool { return t != GoogleWorkspace }

// StringSlice is a []string that GORM serialises as JSON for both SQLite
// and PostgreSQL (TEXT column).
type StringSlice []string

// JSONMap is a map[string]any that GORM serialises as JSON. It holds the
// raw SCIM resource bodies returned verbatim to identity providers.
type JSONMap map[string]any

// SCIMConfig is the per-directory SCIM endpoint configuration.
type SCIMConfig struct {
	Path     string `gorm:"type:text;not null;default:''" json:"path"`
	Endpoint string `gorm:"type:text;not null;default:''" json:"endpoint"`
	Secret   string `gorm:"type:text;not null;default:''" json:"secret"`
}

// WebhookConfig is the per-directory webhook subscriber configuration.
type WebhookConfig struct {
	Endpoint string `gorm:"type:text;not null;default:''" json:"endpoint"`
	Secret   string `gorm:"type:text;not null;default:''" json:"secret"`
}

// Directory is one configured sync connection for a tenant/product pair.
// (tenant, product) is deliberately a non-unique index: a tenant may run
// several directories against the same product.
type Directory struct {
	ID                 string        `gorm:"type:text;primaryKey" json:"id"`
	Name               string        `gorm:"type:text;not null;default:''" json:"name"`
	Tenant             string        `gorm:"type:text;not null;index:idx_directories_tenant_product,priority:1" json:"tenant"`
	Product            string        `gorm:"type:text;not null;index:idx_directories_tenant_product,priority:2" json:"product"`
	Type               DirectoryType `gorm:"type:text;not null" json:"type"`
	LogWebhookEvents   bool          `gorm:"not null;default:false" json:"log_webhook_events"`
	Deactivated        bool          `gorm:"not null;default:false" json:"deactivated"`
	SCIM               SCIMConfig    `gorm:"embedded;embeddedPrefix:scim_" json:"scim"`
	Webhook            WebhookConfig `gorm:"embedded;embeddedPrefix:webhook_" json:"webhook"`
	GoogleAccessToken  string        `gorm:"type:text;not null;default:''" json:"google_access_token,omitempty"`
	GoogleRefreshToken string        `gorm:"type:text;not null;default:''" json:"google_refresh_token,omitempty"`
	CreatedAt          time.Time     `gorm:"not null" json:"-"`
	UpdatedAt          time.Time     `gorm:"not null" json:"-"`
}

// BeforeCreate generates a UUID primary key if not set.
func (d *Directory) BeforeCreate(_ *gorm.DB) error {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	return nil
}

// User is a normalized directory user. The normalized columns are a
// projection of Raw; Raw["id"] is kept in sync with ID.
type User struct {
	ID          string      `gorm:"type:text;primaryKey" json:"id"`
	DirectoryID string      `gorm:"type:text;not null;index:idx_users_directory;index:idx_users_directory_email,priority:1" json:"-"`
	FirstName   string      `gorm:"type:text;not null;default:''" json:"first_name"`
	LastName    string      `gorm:"type:text;not null;default:''" json:"last_name"`
	Email       string      `gorm:"type:text;not null;index:idx_users_directory_email,priority:2" json:"email"`
	Active      bool        `gorm:"not null;default:true" json:"active"`
	Roles       StringSlice `gorm:"type:text;not null;default:'[]';serializer:json" json:"roles,omitempty"`
	Raw         JSONMap     `gorm:"type:text;serializer:json" json:"raw"`
	CreatedAt   time.Time   `gorm:"not null" json:"-"`
	UpdatedAt   time.Time   `gorm:"not null" json:"-"`
}

// Group is a normalized directory group. Membership lives in GroupMember,
// not in Raw.
type Group struct {
	ID          string    `gorm:"type:text;primaryKey" json:"id"`
	DirectoryID string    `gorm:"type:text;not null;index:idx_groups_directory;index:idx_groups_directory_name,priority:1" json:"-"`
	Name        string    `gorm:"type:text;not null;index:idx_groups_directory_name,priority:2" json:"name"`
	Raw         JSONMap   `gorm:"type:text;serializer:json" json:"raw"`
	CreatedAt   time.Time `gorm:"not null" json:"-"`
	UpdatedAt   time.Time `gorm:"not null" json:"-"`
}

// memberNamespace seeds the deterministic GroupMember ids.
var memberNamespace = uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")

// MembershipID derives the deterministic primary key for a membership row,
// making existence checks O(1) and duplicate adds idempotent.
func MembershipID(groupID, userID string) string {
	return uuid.NewSHA1(memberNamespace, []byte(groupID+":"+userID)).String()
}

// GroupMember is the user-to-group join row.
type GroupMember struct {
	ID        string    `gorm:"type:text;primaryKey" json:"id"`
	GroupID   string    `gorm:"type:text;not null;index" json:"group_id"`
	UserID    string    `gorm:"type:text;not null" json:"user_id"`
	CreatedAt time.Time `gorm:"not null" json:"-"`
}

// Queued event statuses.
const (
	EventStatusPending    = "PENDING"
	EventStatusProcessing = "PROCESSING"
	EventStatusFailed     = "FAILED"
)

// QueuedEvent is a pending webhook event awaiting batch delivery.
// Payload is the serialized DirectorySyncEvent; DirectoryID is denormalised
// out of the payload so a drain cycle can group events per directory.
type QueuedEvent struct {
	ID          string    `gorm:"type:text;primaryKey" json:"id"`
	DirectoryID string    `gorm:"type:text;not null;index" json:"directory_id"`
	EventType   string    `gorm:"type:text;not null" json:"event"`
	Payload     JSONMap   `gorm:"type:text;serializer:json" json:"payload"`
	RetryCount  int       `gorm:"not null;default:0" json:"retry_count"`
	Status      string    `gorm:"type:text;not null;default:'PENDING';index" json:"status"`
	CreatedAt   time.Time `gorm:"not null;index" json:"created_at"`
}

// BeforeCreate generates a time-ordered UUIDv7 primary key if not set.
// Queue rows are fetched ordered by created_at then id, and created_at
// can tie within a clock tick; a v7 id keeps the tiebreak in enqueue order.
func (e *QueuedEvent) BeforeCreate(_ *gorm.DB) error {
	if e.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return err
		}
		e.ID = id.String()
	}
	return nil
}

// WebhookEventLog is an append-only audit record of a webhook delivery
// attempt. One row can cover a single event or a whole delivered batch.
// ExpiresAt implements the optional retention TTL; nil keeps the row forever.
type WebhookEventLog struct {
	ID              string     `gorm:"type:text;primaryKey" json:"id"`
	DirectoryID     string     `gorm:"type:text;not null;index" json:"directory_id"`
	Tenant          string     `gorm:"type:text;not null" json:"tenant"`
	Product         string     `gorm:"type:text;not null" json:"product"`
	WebhookEndpoint string     `gorm:"type:text;not null" json:"webhook_endpoint"`
	StatusCode      int        `gorm:"not null;default:0" json:"status_code,omitempty"`
	Delivered       bool       `gorm:"not null;default:false" json:"delivered"`
	Payload         JSONMap    `gorm:"type:text;serializer:json" json:"payload"`
	CreatedAt       time.Time  `gorm:"not null" json:"created_at"`
	ExpiresAt       *time.Time `gorm:"index" json:"-"`
}

// BeforeCreate generates a UUID primary key if not set.
func (l *WebhookEventLog) BeforeCreate(_ *gorm.DB) error {
	if l.ID == "" {
		l.ID = uuid.New().String()
	}
	return nil
}

// EventLock is the cross-process batch-processor lock row. A holder renews
// ExpiresAt while draining; a stale row may be taken over by another instance.
type EventLock struct {
	Key        string    `gorm:"type:text;primaryKey" json:"key"`
	InstanceID string    `gorm:"type:text;not null" json:"instance_id"`
	ExpiresAt  time.Time `gorm:"not null" json:"expires_at"`
}

// AdminAccount is an operator account for the admin/management API.
type AdminAccount struct {
	ID           string    `gorm:"type:text;primaryKey" json:"id"`
	Email        string    `gorm:"type:text;not null;uniqueIndex" json:"email"`
	Name         string    `gorm:"type:text;not null;default:''" json:"name"`
	PasswordHash string    `gorm:"type:text;not null" json:"-"`
	CreatedAt    time.Time `gorm:"not null" json:"-"`
	UpdatedAt    time.Time `gorm:"not null" json:"-"`
}

// BeforeCreate generates a UUID primary key if not set.
func (a *AdminAccount) BeforeCreate(_ *gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	return nil
}
