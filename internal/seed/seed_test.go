package seed_test

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	dsyncdb "github.com/boxyhq/dsync/internal/db"
	"github.com/boxyhq/dsync/internal/model"
	"github.com/boxyhq/dsync/internal/seed"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, dsyncdb.AutoMigrate(db))
	return db
}

func newNullLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
}

func TestEnsureAdmin_CreatesAccount(t *testing.T) {
	db := newTestDB(t)

	err := seed.EnsureAdmin(context.Background(), db, seed.AdminOptions{
		Email:    "admin@example.com",
		Password: "supplied-password",
	}, newNullLogger())
	require.NoError(t, err)

	var acct model.AdminAccount
	require.NoError(t, db.Where("email = ?", "admin@example.com").First(&acct).Error)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(acct.PasswordHash), []byte("supplied-password")))
}

func TestEnsureAdmin_Idempotent(t *testing.T) {
	db := newTestDB(t)
	log := newNullLogger()

	opts := seed.AdminOptions{Email: "admin@example.com", Password: "pw"}
	require.NoError(t, seed.EnsureAdmin(context.Background(), db, opts, log))
	require.NoError(t, seed.EnsureAdmin(context.Background(), db, opts, log))

	var count int64
	require.NoError(t, db.Model(&model.AdminAccount{}).Count(&count).Error)
	assert.EqualValues(t, 1, count)
}
