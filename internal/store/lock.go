package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/boxyhq/dsync/internal/model"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// lockKey is the single well-known key for the batch-processor lock.
const lockKey = "dsync:webhook:lock"

// Lock is a TTL-based, store-backed lock that keeps at most one batch
// processor active across processes. It is optimistic, not a hard mutex:
// a holder that stalls past the TTL may be taken over, so consumers must
// treat delivery as at-least-once.
type Lock struct {
	db         *gorm.DB
	instanceID string
	ttl        time.Duration
}

// NewLock returns a Lock with a random per-process instance id.
func NewLock(db *gorm.DB, ttl time.Duration) *Lock {
	return &Lock{
		db:         db,
		instanceID: uuid.New().String(),
		ttl:        ttl,
	}
}

// InstanceID identifies this process's lock ownership.
func (l *Lock) InstanceID() string { return l.instanceID }

// Acquire attempts to take the lock. It fails closed (false, nil) when the
// lock row exists, is unexpired, and belongs to another instance.
func (l *Lock) Acquire(ctx context.Context) (bool, error) {
	now := time.Now()
	var row model.EventLock
	err := l.db.WithContext(ctx).First(&row, "key = ?", lockKey).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		row = model.EventLock{
			Key:        lockKey,
			InstanceID: l.instanceID,
			ExpiresAt:  now.Add(l.ttl),
		}
		if err := l.db.WithContext(ctx).Create(&row).Error; err != nil {
			// Lost the race to another instance.
			return false, nil //nolint:nilerr
		}
		return true, nil
	case err != nil:
		return false, fmt.Errorf("read lock: %w", err)
	}

	if row.InstanceID != l.instanceID && row.ExpiresAt.After(now) {
		return false, nil
	}

	// Own lock, or a stale one left by a crashed holder — take it over.
	res := l.db.WithContext(ctx).Model(&model.EventLock{}).
		Where("key = ? AND (instance_id = ? OR expires_at <= ?)", lockKey, l.instanceID, now).
		Updates(map[string]any{
			"instance_id": l.instanceID,
			"expires_at":  now.Add(l.ttl),
		})
	if res.Error != nil {
		return false, fmt.Errorf("take over lock: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

// Renew extends the TTL while this instance still holds the lock.
func (l *Lock) Renew(ctx context.Context) error {
	res := l.db.WithContext(ctx).Model(&model.EventLock{}).
		Where("key = ? AND instance_id = ?", lockKey, l.instanceID).
		Update("expires_at", time.Now().Add(l.ttl))
	if res.Error != nil {
		return fmt.Errorf("renew lock: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return errors.New("lock no longer held by this instance")
	}
	return nil
}

// Release drops the lock if this instance holds it.
func (l *Lock) Release(ctx context.Context) error {
	err := l.db.WithContext(ctx).
		Delete(&model.EventLock{}, "key = ? AND instance_id = ?", lockKey, l.instanceID).Error
	if err != nil {
		return fmt.Errorf("release lock: %w", err)
	}
	return nil
}
