package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/boxyhq/dsync/internal/model"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Groups is the store for normalized directory groups and their membership
// rows. Membership is a join table independent of the group's raw payload.
type Groups struct {
	db *gorm.DB
}

// NewGroups returns a Groups store backed by db.
func NewGroups(db *gorm.DB) *Groups {
	return &Groups{db: db}
}

// Create inserts a group. When group.ID is empty a random UUID is assigned.
// Raw["id"] is brought in sync with the assigned id.
func (s *Groups) Create(ctx context.Context, group *model.Group) (*model.Group, error) {
	if group.ID == "" {
		group.ID = uuid.New().String()
	}
	if group.Raw == nil {
		group.Raw = model.JSONMap{}
	}
	group.Raw["id"] = group.ID
	if err := s.db.WithContext(ctx).Create(group).Error; err != nil {
		return nil, fmt.Errorf("create group: %w", err)
	}
	return group, nil
}

// Get fetches a group by id, returning ErrNotFound when absent.
func (s *Groups) Get(ctx context.Context, id string) (*model.Group, error) {
	var group model.Group
	err := s.db.WithContext(ctx).First(&group, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get group: %w", err)
	}
	return &group, nil
}

// Update replaces the group's name and raw body in full.
func (s *Groups) Update(ctx context.Context, group *model.Group) (*model.Group, error) {
	if group.Raw == nil {
		group.Raw = model.JSONMap{}
	}
	group.Raw["id"] = group.ID
	if err := s.db.WithContext(ctx).Save(group).Error; err != nil {
		return nil, fmt.Errorf("update group: %w", err)
	}
	return group, nil
}

// Delete removes the group and cascades to its membership rows.
func (s *Groups) Delete(ctx context.Context, id string) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	if err := s.RemoveAllUsers(ctx, id); err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Delete(&model.Group{}, "id = ?", id).Error; err != nil {
		return fmt.Errorf("delete group: %w", err)
	}
	return nil
}

// Search returns the groups in directoryID whose display name exactly
// matches name.
func (s *Groups) Search(ctx context.Context, name, directoryID string) ([]model.Group, error) {
	var groups []model.Group
	err := s.db.WithContext(ctx).
		Where("directory_id = ? AND name = ?", directoryID, name).
		Find(&groups).Error
	if err != nil {
		return nil, fmt.Errorf("search groups: %w", err)
	}
	return groups, nil
}

// GetAll returns a page of groups ordered by creation time.
func (s *Groups) GetAll(ctx context.Context, params GetAllParams) ([]model.Group, error) {
	q := s.db.WithContext(ctx).Model(&model.Group{}).Order("created_at ASC, id ASC")
	if params.DirectoryID != "" {
		q = q.Where("directory_id = ?", params.DirectoryID)
	}
	if params.Offset > 0 {
		q = q.Offset(params.Offset)
	}
	if params.Limit > 0 {
		q = q.Limit(params.Limit)
	}
	var groups []model.Group
	if err := q.Find(&groups).Error; err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	return groups, nil
}

// Count returns the number of groups in directoryID.
func (s *Groups) Count(ctx context.Context, directoryID string) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&model.Group{}).
		Where("directory_id = ?", directoryID).Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("count groups: %w", err)
	}
	return n, nil
}

// DeleteAll removes every group in directoryID (and their membership rows)
// in pages of deleteBatchSize.
func (s *Groups) DeleteAll(ctx context.Context, directoryID string) error {
	for {
		var ids []string
		err := s.db.WithContext(ctx).Model(&model.Group{}).
			Where("directory_id = ?", directoryID).
			Limit(deleteBatchSize).Pluck("id", &ids).Error
		if err != nil {
			return fmt.Errorf("page groups for delete: %w", err)
		}
		if len(ids) == 0 {
			return nil
		}
		if err := s.db.WithContext(ctx).Delete(&model.GroupMember{}, "group_id IN ?", ids).Error; err != nil {
			return fmt.Errorf("delete membership page: %w", err)
		}
		if err := s.db.WithContext(ctx).Delete(&model.Group{}, "id IN ?", ids).Error; err != nil {
			return fmt.Errorf("delete group page: %w", err)
		}
		if len(ids) < deleteBatchSize {
			return nil
		}
	}
}

// AddUserToGroup records membership of userID in groupID. The row id is
// deterministic, so adding the same pair twice leaves exactly one row.
func (s *Groups) AddUserToGroup(ctx context.Context, groupID, userID string) error {
	member := model.GroupMember{
		ID:      model.MembershipID(groupID, userID),
		GroupID: groupID,
		UserID:  userID,
	}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&member).Error
	if err != nil {
		return fmt.Errorf("add group member: %w", err)
	}
	return nil
}

// RemoveUserFromGroup removes the membership row. Removing a non-member is
// a no-op, not an error.
func (s *Groups) RemoveUserFromGroup(ctx context.Context, groupID, userID string) error {
	id := model.MembershipID(groupID, userID)
	if err := s.db.WithContext(ctx).Delete(&model.GroupMember{}, "id = ?", id).Error; err != nil {
		return fmt.Errorf("remove group member: %w", err)
	}
	return nil
}

// IsUserInGroup reports whether userID is a member of groupID.
func (s *Groups) IsUserInGroup(ctx context.Context, groupID, userID string) (bool, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&model.GroupMember{}).
		Where("id = ?", model.MembershipID(groupID, userID)).Count(&n).Error
	if err != nil {
		return false, fmt.Errorf("check group member: %w", err)
	}
	return n > 0, nil
}

// GetGroupMembers returns a page of membership rows for groupID.
func (s *Groups) GetGroupMembers(ctx context.Context, groupID string, offset, limit int) ([]model.GroupMember, error) {
	q := s.db.WithContext(ctx).
		Where("group_id = ?", groupID).
		Order("created_at ASC, id ASC")
	if offset > 0 {
		q = q.Offset(offset)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var members []model.GroupMember
	if err := q.Find(&members).Error; err != nil {
		return nil, fmt.Errorf("list group members: %w", err)
	}
	return members, nil
}

// RemoveAllUsers deletes every membership row of groupID in pages of
// deleteBatchSize.
func (s *Groups) RemoveAllUsers(ctx context.Context, groupID string) error {
	for {
		var ids []string
		err := s.db.WithContext(ctx).Model(&model.GroupMember{}).
			Where("group_id = ?", groupID).
			Limit(deleteBatchSize).Pluck("id", &ids).Error
		if err != nil {
			return fmt.Errorf("page members for delete: %w", err)
		}
		if len(ids) == 0 {
			return nil
		}
		if err := s.db.WithContext(ctx).Delete(&model.GroupMember{}, "id IN ?", ids).Error; err != nil {
			return fmt.Errorf("delete member page: %w", err)
		}
		if len(ids) < deleteBatchSize {
			return nil
		}
	}
}
