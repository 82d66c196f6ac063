package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/boxyhq/dsync/internal/model"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Users is the store for normalized directory users.
type Users struct {
	db *gorm.DB
}

// NewUsers returns a Users store backed by db.
func NewUsers(db *gorm.DB) *Users {
	return &Users{db: db}
}

// Create inserts a user. When user.ID is empty a random UUID is assigned;
// a non-empty ID (externally supplied by a non-SCIM sync path) is kept.
// Raw["id"] is brought in sync with the assigned id. Duplicate-email
// conflicts are not enforced here — handlers pre-check via Search.
func (s *Users) Create(ctx context.Context, user *model.User) (*model.User, error) {
	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	if user.Raw == nil {
		user.Raw = model.JSONMap{}
	}
	user.Raw["id"] = user.ID
	if err := s.db.WithContext(ctx).Create(user).Error; err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}

// Get fetches a user by id, returning ErrNotFound when absent.
func (s *Users) Get(ctx context.Context, id string) (*model.User, error) {
	var user model.User
	err := s.db.WithContext(ctx).First(&user, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &user, nil
}

// Update replaces the user's normalized fields and raw body in full.
// Partial-merge semantics belong to the SCIM patch parser, not this layer.
func (s *Users) Update(ctx context.Context, user *model.User) (*model.User, error) {
	if user.Raw == nil {
		user.Raw = model.JSONMap{}
	}
	user.Raw["id"] = user.ID
	if err := s.db.WithContext(ctx).Save(user).Error; err != nil {
		return nil, fmt.Errorf("update user: %w", err)
	}
	return user, nil
}

// Delete removes the user by id. The existence check runs first so a
// missing user surfaces as ErrNotFound rather than a silent no-op.
func (s *Users) Delete(ctx context.Context, id string) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Delete(&model.User{}, "id = ?", id).Error; err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	return nil
}

// Search returns the users in directoryID whose email exactly matches
// email. Case-sensitive; SCIM filter strings are pre-parsed by the handler.
func (s *Users) Search(ctx context.Context, email, directoryID string) ([]model.User, error) {
	var users []model.User
	err := s.db.WithContext(ctx).
		Where("directory_id = ? AND email = ?", directoryID, email).
		Find(&users).Error
	if err != nil {
		return nil, fmt.Errorf("search users: %w", err)
	}
	return users, nil
}

// GetAllParams bounds a paged listing. DirectoryID is optional; when set,
// the directory index is used instead of a full scan.
type GetAllParams struct {
	DirectoryID string
	Offset      int
	Limit       int
}

// GetAll returns a page of users ordered by creation time.
func (s *Users) GetAll(ctx context.Context, params GetAllParams) ([]model.User, error) {
	q := s.db.WithContext(ctx).Model(&model.User{}).Order("created_at ASC, id ASC")
	if params.DirectoryID != "" {
		q = q.Where("directory_id = ?", params.DirectoryID)
	}
	if params.Offset > 0 {
		q = q.Offset(params.Offset)
	}
	if params.Limit > 0 {
		q = q.Limit(params.Limit)
	}
	var users []model.User
	if err := q.Find(&users).Error; err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return users, nil
}

// Count returns the number of users in directoryID.
func (s *Users) Count(ctx context.Context, directoryID string) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&model.User{}).
		Where("directory_id = ?", directoryID).Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	return n, nil
}

// DeleteAll removes every user in directoryID in pages of deleteBatchSize.
// Used for directory teardown.
func (s *Users) DeleteAll(ctx context.Context, directoryID string) error {
	for {
		var ids []string
		err := s.db.WithContext(ctx).Model(&model.User{}).
			Where("directory_id = ?", directoryID).
			Limit(deleteBatchSize).Pluck("id", &ids).Error
		if err != nil {
			return fmt.Errorf("page users for delete: %w", err)
		}
		if len(ids) == 0 {
			return nil
		}
		if err := s.db.WithContext(ctx).Delete(&model.User{}, "id IN ?", ids).Error; err != nil {
			return fmt.Errorf("delete user page: %w", err)
		}
		if len(ids) < deleteBatchSize {
			return nil
		}
	}
}
