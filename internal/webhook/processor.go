package webhook

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/boxyhq/dsync/internal/event"
	"github.com/boxyhq/dsync/internal/model"
	"github.com/boxyhq/dsync/internal/store"
)

// QueueSubscriber returns a bus handler that records every webhook-visible
// mutation as a PENDING queue row for the batch processor to deliver.
func QueueSubscriber(queue *store.Queue, log *slog.Logger) event.Handler {
	return func(ctx context.Context, e event.DirectorySyncEvent) {
		if e.Event.IsLifecycle() {
			return
		}
		if err := queue.Enqueue(ctx, e); err != nil {
			// The mutation already committed; losing the notification is
			// accepted rather than failing the SCIM request.
			log.Error("enqueue webhook event", "directory_id", e.DirectoryID, "event", e.Event, "err", err)
		}
	}
}

// BatchProcessor drains the webhook event queue on a timer, holding a
// store-backed TTL lock so at most one process delivers at a time. All
// run state — the timer, the running flag, the lock — is owned by this
// one instance, constructed once at process startup.
type BatchProcessor struct {
	queue       *store.Queue
	directories *store.Directories
	logs        *store.WebhookLogs
	lock        *store.Lock
	client      *http.Client
	log         *slog.Logger

	interval  time.Duration
	lockTTL   time.Duration
	batchSize int

	mu      sync.Mutex
	running bool
	done    chan struct{}
	cancel  context.CancelFunc
	now     func() time.Time
}

// NewBatchProcessor wires a batch processor. It does not start draining
// until Start is called.
func NewBatchProcessor(queue *store.Queue, directories *store.Directories, logs *store.WebhookLogs, lock *store.Lock, client *http.Client, interval, lockTTL time.Duration, batchSize int, log *slog.Logger) *BatchProcessor {
	if batchSize < 1 {
		batchSize = 1
	}
	return &BatchProcessor{
		queue:       queue,
		directories: directories,
		logs:        logs,
		lock:        lock,
		client:      client,
		log:         log,
		interval:    interval,
		lockTTL:     lockTTL,
		batchSize:   batchSize,
		now:         time.Now,
	}
}

// Start launches the periodic drain loop. Calling Start on a running
// processor is a no-op.
func (p *BatchProcessor) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}
	p.running = true
	ctx, p.cancel = context.WithCancel(ctx)
	p.done = make(chan struct{})

	go func() {
		defer close(p.done)
		timer := time.NewTimer(p.interval)
		defer timer.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-timer.C:
				p.RunOnce(ctx)
				timer.Reset(p.interval)
			}
		}
	}()
}

// Stop halts the drain loop and waits for an in-flight cycle to finish.
func (p *BatchProcessor) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	cancel, done := p.cancel, p.done
	p.mu.Unlock()

	cancel()
	<-done
}

// RunOnce executes one drain cycle: acquire the lock, drain the queue
// until a fetch comes back empty, release the lock. Exported so tests and
// operator tooling can drive a cycle directly.
func (p *BatchProcessor) RunOnce(ctx context.Context) {
	acquired, err := p.lock.Acquire(ctx)
	if err != nil {
		p.log.Error("acquire webhook lock", "err", err)
		return
	}
	if !acquired {
		return
	}
	defer func() {
		if err := p.lock.Release(ctx); err != nil {
			p.log.Error("release webhook lock", "err", err)
		}
	}()

	// Renew the lock while draining so a long drain outlives the TTL.
	renewCtx, stopRenew := context.WithCancel(ctx)
	defer stopRenew()
	go p.renewLoop(renewCtx)

	// Only the first fetch of a cycle picks up rows that failed in earlier
	// cycles. Later fetches take PENDING rows only, so a batch that fails
	// against a broken endpoint is left for the next cycle and the loop
	// terminates once only freshly-failed rows remain.
	retryFailed := true
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		batch, allFailed, err := p.queue.FetchNextBatch(ctx, p.batchSize, retryFailed)
		if err != nil {
			p.log.Error("fetch webhook batch", "err", err)
			return
		}
		retryFailed = false
		if len(batch) == 0 {
			break
		}
		if allFailed {
			systemicFailures.Inc()
			p.log.Error("every event in the fetched batch has failed delivery before",
				"batch_size", len(batch))
		}
		p.deliverBatch(ctx, batch)
	}

	if err := p.logs.PurgeExpired(ctx); err != nil {
		p.log.Error("purge webhook logs", "err", err)
	}
}

func (p *BatchProcessor) renewLoop(ctx context.Context) {
	interval := p.lockTTL / 3
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.lock.Renew(ctx); err != nil {
				p.log.Warn("renew webhook lock", "err", err)
			}
		}
	}
}

// deliverBatch groups the fetched events by directory, preserving creation
// order, and issues one webhook POST per directory.
func (p *BatchProcessor) deliverBatch(ctx context.Context, batch []model.QueuedEvent) {
	order := make([]string, 0)
	grouped := make(map[string][]model.QueuedEvent)
	for _, row := range batch {
		if _, seen := grouped[row.DirectoryID]; !seen {
			order = append(order, row.DirectoryID)
		}
		grouped[row.DirectoryID] = append(grouped[row.DirectoryID], row)
	}

	for _, directoryID := range order {
		rows := grouped[directoryID]
		ids := make([]string, len(rows))
		for i := range rows {
			ids[i] = rows[i].ID
		}

		dir, err := p.directories.Get(ctx, directoryID)
		undeliverable := errors.Is(err, store.ErrNotFound) ||
			(err == nil && (!store.IsConnectionActive(dir) || dir.Webhook.Endpoint == ""))
		if undeliverable {
			// Permanently undeliverable; retrying forever would wedge the
			// queue, so these events are dropped.
			if delErr := p.queue.Delete(ctx, ids); delErr != nil {
				p.log.Error("drop undeliverable events", "directory_id", directoryID, "err", delErr)
				continue
			}
			eventsDropped.Add(float64(len(ids)))
			p.log.Warn("dropped undeliverable webhook events",
				"directory_id", directoryID, "count", len(ids))
			continue
		}
		if err != nil {
			p.log.Error("resolve directory for batch", "directory_id", directoryID, "err", err)
			if failErr := p.queue.MarkFailed(ctx, ids); failErr != nil {
				p.log.Error("mark batch failed", "directory_id", directoryID, "err", failErr)
			}
			continue
		}

		payload := make([]event.DirectorySyncEvent, 0, len(rows))
		for i := range rows {
			e, err := p.queue.Decode(&rows[i])
			if err != nil {
				p.log.Error("decode queued event", "event_id", rows[i].ID, "err", err)
				continue
			}
			payload = append(payload, e)
		}

		status, err := post(ctx, p.client, dir, payload, p.now())
		delivered := err == nil && status == http.StatusOK

		if delivered {
			if delErr := p.queue.Delete(ctx, ids); delErr != nil {
				p.log.Error("delete delivered events", "directory_id", dir.ID, "err", delErr)
			}
			eventsDelivered.Add(float64(len(ids)))
		} else {
			if failErr := p.queue.MarkFailed(ctx, ids); failErr != nil {
				p.log.Error("mark batch failed", "directory_id", dir.ID, "err", failErr)
			}
			eventsFailed.Add(float64(len(ids)))
			p.log.Warn("webhook batch delivery failed",
				"directory_id", dir.ID, "count", len(ids), "status", status, "err", err)
		}

		if dir.LogWebhookEvents {
			// One audit row covers the whole batch.
			if _, logErr := p.logs.Create(ctx, dir, payload, status, delivered); logErr != nil {
				p.log.Error("write webhook log", "directory_id", dir.ID, "err", logErr)
			}
		}
	}
}
