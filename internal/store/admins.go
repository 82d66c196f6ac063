package store

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/boxyhq/dsync/internal/model"
)

// Admins provides access to admin accounts used by the management API.
type Admins struct {
	db *gorm.DB
}

func NewAdmins(db *gorm.DB) *Admins {
	return &Admins{db: db}
}

func (s *Admins) GetByEmail(ctx context.Context, email string) (*model.AdminAccount, error) {
	var acct model.AdminAccount
	err := s.db.WithContext(ctx).Where("email = ?", email).First(&acct).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &acct, nil
}
