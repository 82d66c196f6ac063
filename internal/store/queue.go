package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/boxyhq/dsync/internal/event"
	"github.com/boxyhq/dsync/internal/model"
	"gorm.io/gorm"
)

// Queue is the durable store of webhook events awaiting batch delivery.
// Row lifecycle: PENDING -> PROCESSING -> deleted on 200, or FAILED with
// retry_count incremented, picked up again by the next drain cycle.
type Queue struct {
	db *gorm.DB
}

// NewQueue returns a Queue backed by db.
func NewQueue(db *gorm.DB) *Queue {
	return &Queue{db: db}
}

// Enqueue appends e as a PENDING row.
func (s *Queue) Enqueue(ctx context.Context, e event.DirectorySyncEvent) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode queued event: %w", err)
	}
	var body model.JSONMap
	if err := json.Unmarshal(payload, &body); err != nil {
		return fmt.Errorf("decode queued event: %w", err)
	}
	row := &model.QueuedEvent{
		DirectoryID: e.DirectoryID,
		EventType:   string(e.Event),
		Payload:     body,
		Status:      model.EventStatusPending,
	}
	if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
		return fmt.Errorf("enqueue event: %w", err)
	}
	return nil
}

// FetchNextBatch returns up to limit undelivered rows in creation order
// and marks them PROCESSING. FAILED rows are included only when retryFailed
// is true; a drain cycle passes true on its first fetch and false after, so
// rows that fail mid-cycle wait for the next cycle instead of being retried
// immediately. allFailed is true when the batch is non-empty and every
// fetched row had already failed at least once — the signal the processor
// surfaces as a systemic delivery failure.
func (s *Queue) FetchNextBatch(ctx context.Context, limit int, retryFailed bool) (batch []model.QueuedEvent, allFailed bool, err error) {
	statuses := []string{model.EventStatusPending}
	if retryFailed {
		statuses = append(statuses, model.EventStatusFailed)
	}
	err = s.db.WithContext(ctx).
		Where("status IN ?", statuses).
		Order("created_at ASC, id ASC").
		Limit(limit).
		Find(&batch).Error
	if err != nil {
		return nil, false, fmt.Errorf("fetch event batch: %w", err)
	}
	if len(batch) == 0 {
		return nil, false, nil
	}

	allFailed = true
	ids := make([]string, len(batch))
	for i := range batch {
		ids[i] = batch[i].ID
		if batch[i].Status != model.EventStatusFailed {
			allFailed = false
		}
	}
	err = s.db.WithContext(ctx).Model(&model.QueuedEvent{}).
		Where("id IN ?", ids).
		Update("status", model.EventStatusProcessing).Error
	if err != nil {
		return nil, false, fmt.Errorf("mark batch processing: %w", err)
	}
	return batch, allFailed, nil
}

// MarkFailed flags the rows for retry on the next cycle and increments
// their retry counters.
func (s *Queue) MarkFailed(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	err := s.db.WithContext(ctx).Model(&model.QueuedEvent{}).
		Where("id IN ?", ids).
		Updates(map[string]any{
			"status":      model.EventStatusFailed,
			"retry_count": gorm.Expr("retry_count + 1"),
		}).Error
	if err != nil {
		return fmt.Errorf("mark batch failed: %w", err)
	}
	return nil
}

// Delete removes delivered (or permanently undeliverable) rows.
func (s *Queue) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := s.db.WithContext(ctx).Delete(&model.QueuedEvent{}, "id IN ?", ids).Error; err != nil {
		return fmt.Errorf("delete queued events: %w", err)
	}
	return nil
}

// Decode unpacks a queued row's payload back into a DirectorySyncEvent.
func (s *Queue) Decode(row *model.QueuedEvent) (event.DirectorySyncEvent, error) {
	raw, err := json.Marshal(row.Payload)
	if err != nil {
		return event.DirectorySyncEvent{}, fmt.Errorf("re-encode queued payload: %w", err)
	}
	var e event.DirectorySyncEvent
	if err := json.Unmarshal(raw, &e); err != nil {
		return event.DirectorySyncEvent{}, fmt.Errorf("decode queued payload: %w", err)
	}
	return e, nil
}

// Get fetches one queued row by id, returning ErrNotFound when absent.
func (s *Queue) Get(ctx context.Context, id string) (*model.QueuedEvent, error) {
	var row model.QueuedEvent
	err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get queued event: %w", err)
	}
	return &row, nil
}
