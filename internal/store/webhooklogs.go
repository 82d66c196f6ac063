package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/boxyhq/dsync/internal/model"
	"gorm.io/gorm"
)

// WebhookLogs is the append-only audit store for webhook delivery attempts.
type WebhookLogs struct {
	db  *gorm.DB
	ttl time.Duration
}

// NewWebhookLogs returns a WebhookLogs store. ttl > 0 stamps every new row
// with an expiry honoured by PurgeExpired; zero keeps rows forever.
func NewWebhookLogs(db *gorm.DB, ttl time.Duration) *WebhookLogs {
	return &WebhookLogs{db: db, ttl: ttl}
}

// Create appends one audit row. payload may be a single event or a
// delivered batch; it is stored as JSON verbatim.
func (s *WebhookLogs) Create(ctx context.Context, dir *model.Directory, payload any, statusCode int, delivered bool) (*model.WebhookEventLog, error) {
	body, err := toJSONMap(payload)
	if err != nil {
		return nil, fmt.Errorf("encode log payload: %w", err)
	}
	log := &model.WebhookEventLog{
		DirectoryID:     dir.ID,
		Tenant:          dir.Tenant,
		Product:         dir.Product,
		WebhookEndpoint: dir.Webhook.Endpoint,
		StatusCode:      statusCode,
		Delivered:       delivered,
		Payload:         body,
	}
	if s.ttl > 0 {
		expires := time.Now().Add(s.ttl)
		log.ExpiresAt = &expires
	}
	if err := s.db.WithContext(ctx).Create(log).Error; err != nil {
		return nil, fmt.Errorf("create webhook log: %w", err)
	}
	return log, nil
}

// Get fetches one audit row by id, returning ErrNotFound when absent.
func (s *WebhookLogs) Get(ctx context.Context, id string) (*model.WebhookEventLog, error) {
	var log model.WebhookEventLog
	err := s.db.WithContext(ctx).First(&log, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get webhook log: %w", err)
	}
	return &log, nil
}

// GetAll returns a page of audit rows, newest first, optionally scoped to
// one directory.
func (s *WebhookLogs) GetAll(ctx context.Context, params GetAllParams) ([]model.WebhookEventLog, error) {
	q := s.db.WithContext(ctx).Model(&model.WebhookEventLog{}).Order("created_at DESC, id DESC")
	if params.DirectoryID != "" {
		q = q.Where("directory_id = ?", params.DirectoryID)
	}
	if params.Offset > 0 {
		q = q.Offset(params.Offset)
	}
	if params.Limit > 0 {
		q = q.Limit(params.Limit)
	}
	var logs []model.WebhookEventLog
	if err := q.Find(&logs).Error; err != nil {
		return nil, fmt.Errorf("list webhook logs: %w", err)
	}
	return logs, nil
}

// DeleteAll removes every audit row of directoryID in pages of
// deleteBatchSize.
func (s *WebhookLogs) DeleteAll(ctx context.Context, directoryID string) error {
	for {
		var ids []string
		err := s.db.WithContext(ctx).Model(&model.WebhookEventLog{}).
			Where("directory_id = ?", directoryID).
			Limit(deleteBatchSize).Pluck("id", &ids).Error
		if err != nil {
			return fmt.Errorf("page webhook logs for delete: %w", err)
		}
		if len(ids) == 0 {
			return nil
		}
		if err := s.db.WithContext(ctx).Delete(&model.WebhookEventLog{}, "id IN ?", ids).Error; err != nil {
			return fmt.Errorf("delete webhook log page: %w", err)
		}
		if len(ids) < deleteBatchSize {
			return nil
		}
	}
}

// PurgeExpired removes rows whose retention TTL has lapsed.
func (s *WebhookLogs) PurgeExpired(ctx context.Context) error {
	err := s.db.WithContext(ctx).
		Delete(&model.WebhookEventLog{}, "expires_at IS NOT NULL AND expires_at < ?", time.Now()).Error
	if err != nil {
		return fmt.Errorf("purge webhook logs: %w", err)
	}
	return nil
}

// toJSONMap round-trips v through JSON into the serialised column shape.
// Arrays are wrapped under a "batch" key so the column stays an object.
func toJSONMap(v any) (model.JSONMap, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m model.JSONMap
	if err := json.Unmarshal(raw, &m); err == nil {
		return m, nil
	}
	var list []any
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, err
	}
	return model.JSONMap{"batch": list}, nil
}
