// Package seed creates a default admin account on first boot when the
// admin_accounts table is empty.
package seed

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/boxyhq/dsync/internal/model"
)

// AdminOptions configures the seed admin account.
type AdminOptions struct {
	Email    string
	Password string // if empty, a random password is generated
}

// EnsureAdmin creates a seed admin account if none exist. When the password
// is generated it is printed to stdout exactly once. The function is
// idempotent and safe to call on every startup.
func EnsureAdmin(ctx context.Context, db *gorm.DB, opts AdminOptions, log *slog.Logger) error {
	var count int64
	if err := db.WithContext(ctx).Model(&model.AdminAccount{}).Count(&count).Error; err != nil {
		return fmt.Errorf("count admin accounts: %w", err)
	}
	if count > 0 {
		log.Info("seed admin already exists")
		return nil
	}

	password := opts.Password
	if password == "" {
		var err error
		password, err = generatePassword()
		if err != nil {
			return fmt.Errorf("generate seed password: %w", err)
		}
		fmt.Printf("[dsync] seed admin password: %s\n", password)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash seed password: %w", err)
	}

	acct := &model.AdminAccount{
		Email:        opts.Email,
		Name:         "Seed Admin",
		PasswordHash: string(hash),
	}
	if err := db.WithContext(ctx).Create(acct).Error; err != nil {
		return fmt.Errorf("insert seed admin: %w", err)
	}

	log.Info("seed admin created", "email", opts.Email)
	return nil
}

func generatePassword() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
