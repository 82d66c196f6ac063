package store

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/boxyhq/dsync/internal/event"
	"github.com/boxyhq/dsync/internal/model"
	"github.com/go-playground/validator/v10"
	"gorm.io/gorm"
)

// scimBasePath is the path prefix under which per-directory SCIM endpoints
// are mounted.
const scimBasePath = "/api/scim/v2.0"

// azureCompatFlag is appended to the SCIM path for azure-scim-v2
// directories; Azure AD requires it to negotiate its 06/2020 patch
// behaviour.
const azureCompatFlag = "?aadOptscim062020"

// Directories is the store for directory connection records.
type Directories struct {
	db          *gorm.DB
	users       *Users
	groups      *Groups
	logs        *WebhookLogs
	bus         *event.Bus
	validate    *validator.Validate
	externalURL string
}

// NewDirectories returns a Directories store. externalURL is the public
// base URL used to derive each directory's SCIM endpoint.
func NewDirectories(db *gorm.DB, users *Users, groups *Groups, logs *WebhookLogs, bus *event.Bus, externalURL string) *Directories {
	v := validator.New()
	// Tenant and product are composed into index keys; characters that
	// would break key composition are rejected up front.
	_ = v.RegisterValidation("nskey", func(fl validator.FieldLevel) bool {
		s := fl.Field().String()
		return !strings.ContainsAny(s, ": \t\n")
	})
	return &Directories{
		db:          db,
		users:       users,
		groups:      groups,
		logs:        logs,
		bus:         bus,
		validate:    v,
		externalURL: strings.TrimSuffix(externalURL, "/"),
	}
}

// CreateParams are the caller-supplied fields for a new directory.
type CreateParams struct {
	Name             string              `validate:"omitempty,max=100"`
	Tenant           string              `validate:"required,nskey"`
	Product          string              `validate:"required,nskey"`
	Type             model.DirectoryType `validate:"required"`
	WebhookEndpoint  string              `validate:"omitempty,url"`
	WebhookSecret    string              `validate:"omitempty"`
	LogWebhookEvents bool
}

// Create validates params, generates the SCIM path and secret for
// SCIM-capable provider types, persists the directory, and emits a
// dsync.created lifecycle notification.
func (s *Directories) Create(ctx context.Context, params CreateParams) (*model.Directory, error) {
	if err := s.validate.Struct(params); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrValidation, err.Error())
	}
	if !model.IsSupportedDirectoryType(params.Type) {
		return nil, fmt.Errorf("%w: unsupported directory type %q", ErrValidation, params.Type)
	}

	name := params.Name
	if name == "" {
		name = fmt.Sprintf("scim-%s-%s", params.Tenant, params.Product)
	}

	dir := &model.Directory{
		Name:             name,
		Tenant:           params.Tenant,
		Product:          params.Product,
		Type:             params.Type,
		LogWebhookEvents: params.LogWebhookEvents,
		Webhook: model.WebhookConfig{
			Endpoint: params.WebhookEndpoint,
			Secret:   params.WebhookSecret,
		},
	}
	if err := dir.BeforeCreate(nil); err != nil {
		return nil, err
	}

	// Only SCIM-capable providers get a path and secret; the Google
	// pull-provider is polled, never called by an IdP.
	if params.Type.HasSCIM() {
		secret, err := randomSecret()
		if err != nil {
			return nil, fmt.Errorf("generate scim secret: %w", err)
		}
		path := scimBasePath + "/" + dir.ID
		if params.Type == model.AzureSCIMV2 {
			path += azureCompatFlag
		}
		dir.SCIM = model.SCIMConfig{
			Path:     path,
			Endpoint: s.externalURL + path,
			Secret:   secret,
		}
	}

	if err := s.db.WithContext(ctx).Create(dir).Error; err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}

	s.bus.Publish(ctx, event.DirectorySyncEvent{
		DirectoryID: dir.ID,
		Event:       event.DirectoryCreated,
		Tenant:      dir.Tenant,
		Product:     dir.Product,
		Data:        *dir,
	})
	return dir, nil
}

// Get fetches a directory by id, returning ErrNotFound when absent.
func (s *Directories) Get(ctx context.Context, id string) (*model.Directory, error) {
	var dir model.Directory
	err := s.db.WithContext(ctx).First(&dir, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get directory: %w", err)
	}
	return &dir, nil
}

// GetByTenantAndProduct returns all directories for the tenant/product
// pair. The index is non-unique: several directories may share a pair.
func (s *Directories) GetByTenantAndProduct(ctx context.Context, tenant, product string) ([]model.Directory, error) {
	if tenant == "" || product == "" {
		return nil, fmt.Errorf("%w: tenant and product are required", ErrValidation)
	}
	var dirs []model.Directory
	err := s.db.WithContext(ctx).
		Where("tenant = ? AND product = ?", tenant, product).
		Find(&dirs).Error
	if err != nil {
		return nil, fmt.Errorf("get directories by tenant/product: %w", err)
	}
	return dirs, nil
}

// GetAll returns a page of directories ordered by creation time.
func (s *Directories) GetAll(ctx context.Context, offset, limit int) ([]model.Directory, error) {
	q := s.db.WithContext(ctx).Model(&model.Directory{}).Order("created_at ASC, id ASC")
	if offset > 0 {
		q = q.Offset(offset)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var dirs []model.Directory
	if err := q.Find(&dirs).Error; err != nil {
		return nil, fmt.Errorf("list directories: %w", err)
	}
	return dirs, nil
}

// FilterBy returns directories matching exactly one of product or
// provider. Supplying both or neither is a validation error.
func (s *Directories) FilterBy(ctx context.Context, product string, provider model.DirectoryType) ([]model.Directory, error) {
	if (product == "") == (provider == "") {
		return nil, fmt.Errorf("%w: exactly one of product or provider is required", ErrValidation)
	}
	q := s.db.WithContext(ctx).Model(&model.Directory{})
	if product != "" {
		q = q.Where("product = ?", product)
	} else {
		q = q.Where("type = ?", provider)
	}
	var dirs []model.Directory
	if err := q.Find(&dirs).Error; err != nil {
		return nil, fmt.Errorf("filter directories: %w", err)
	}
	return dirs, nil
}

// UpdateParams is the whitelist of mutable directory fields. Nil pointers
// leave the current value untouched.
type UpdateParams struct {
	Name               *string
	LogWebhookEvents   *bool
	Webhook            *model.WebhookConfig
	Deactivated        *bool
	GoogleAccessToken  *string
	GoogleRefreshToken *string
}

// Update applies a whitelist-based partial merge. Toggling Deactivated
// emits the matching dsync.activated / dsync.deactivated notification.
func (s *Directories) Update(ctx context.Context, id string, params UpdateParams) (*model.Directory, error) {
	dir, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	activationToggled := false
	if params.Name != nil {
		dir.Name = *params.Name
	}
	if params.LogWebhookEvents != nil {
		dir.LogWebhookEvents = *params.LogWebhookEvents
	}
	if params.Webhook != nil {
		dir.Webhook = *params.Webhook
	}
	if params.Deactivated != nil && *params.Deactivated != dir.Deactivated {
		dir.Deactivated = *params.Deactivated
		activationToggled = true
	}
	if params.GoogleAccessToken != nil {
		dir.GoogleAccessToken = *params.GoogleAccessToken
	}
	if params.GoogleRefreshToken != nil {
		dir.GoogleRefreshToken = *params.GoogleRefreshToken
	}

	if err := s.db.WithContext(ctx).Save(dir).Error; err != nil {
		return nil, fmt.Errorf("update directory: %w", err)
	}

	if activationToggled {
		action := event.DirectoryActivated
		if dir.Deactivated {
			action = event.DirectoryDeactivated
		}
		s.bus.Publish(ctx, event.DirectorySyncEvent{
			DirectoryID: dir.ID,
			Event:       action,
			Tenant:      dir.Tenant,
			Product:     dir.Product,
			Data:        *dir,
		})
	}
	return dir, nil
}

// Delete removes the directory and cascades to its users, groups,
// membership rows, and webhook event logs, then emits dsync.deleted.
func (s *Directories) Delete(ctx context.Context, id string) error {
	dir, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.groups.DeleteAll(ctx, id); err != nil {
		return err
	}
	if err := s.users.DeleteAll(ctx, id); err != nil {
		return err
	}
	if err := s.logs.DeleteAll(ctx, id); err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Delete(&model.Directory{}, "id = ?", id).Error; err != nil {
		return fmt.Errorf("delete directory: %w", err)
	}
	s.bus.Publish(ctx, event.DirectorySyncEvent{
		DirectoryID: dir.ID,
		Event:       event.DirectoryDeleted,
		Tenant:      dir.Tenant,
		Product:     dir.Product,
		Data:        *dir,
	})
	return nil
}

// IsConnectionActive reports whether dir should process SCIM mutations.
// Inactive directories no-op with 200 so IdPs do not retry-storm them.
func IsConnectionActive(dir *model.Directory) bool {
	return dir != nil && !dir.Deactivated
}

func randomSecret() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
