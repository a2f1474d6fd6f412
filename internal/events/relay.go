package events

import (
	"context"
	"database/sql"
	"log/slog"
	"sync"
	"time"

	"github.com/safar/grocery-store/internal/database"
	"github.com/safar/grocery-store/internal/metrics"
	"github.com/safar/grocery-store/internal/store"
)

// Relay periodically moves pending outbox events to a Publisher. Events are
// marked published only after the publisher accepted them, so delivery is
// at least once.
type Relay struct {
	db        *sql.DB
	publisher Publisher
	logger    *slog.Logger
	interval  time.Duration
	batchSize int

	stop chan struct{}
	wg   sync.WaitGroup
}

func NewRelay(db *sql.DB, publisher Publisher, logger *slog.Logger, interval time.Duration, batchSize int) *Relay {
	if batchSize <= 0 {
		batchSize = 50
	}
	if interval <= 0 {
		interval = 2 * time.Second
	}

	return &Relay{
		db:        db,
		publisher: publisher,
		logger:    logger,
		interval:  interval,
		batchSize: batchSize,
		stop:      make(chan struct{}),
	}
}

func (r *Relay) Start(ctx context.Context) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.run(ctx)
	}()
}

func (r *Relay) Stop() {
	close(r.stop)
	r.wg.Wait()
}

func (r *Relay) run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info("outbox relay started", "interval", r.interval, "batch_size", r.batchSize)

	for {
		r.drain(ctx)

		select {
		case <-ctx.Done():
			r.logger.Info("outbox relay stopped", "reason", ctx.Err())
			return
		case <-r.stop:
			r.logger.Info("outbox relay stopped")
			return
		case <-ticker.C:
		}
	}
}

func (r *Relay) drain(ctx context.Context) {
	for {
		n, err := r.ProcessBatch(ctx)
		if err != nil {
			metrics.OutboxFailures.Inc()
			r.logger.Warn("outbox batch failed", "error", err)
			return
		}
		if n < r.batchSize {
			return
		}
	}
}

// ProcessBatch publishes one batch and returns how many events it handled.
func (r *Relay) ProcessBatch(ctx context.Context) (int, error) {
	var published int

	err := database.WithTransaction(ctx, r.db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		events, err := store.ClaimPendingEvents(ctx, tx, r.batchSize)
		if err != nil {
			return err
		}
		if len(events) == 0 {
			return nil
		}

		if err := r.publisher.Publish(ctx, events); err != nil {
			return err
		}

		ids := make([]int64, len(events))
		for i, event := range events {
			ids[i] = event.ID
		}
		if err := store.MarkEventsPublished(ctx, tx, ids); err != nil {
			return err
		}

		published = len(events)
		return nil
	})
	if err != nil {
		return 0, err
	}

	if published > 0 {
		metrics.OutboxPublished.Add(float64(published))
		r.logger.Debug("outbox events published", "count", published)
	}
	return published, nil
}
