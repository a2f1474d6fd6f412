package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/safar/grocery-store/internal/models"
	"github.com/shopspring/decimal"
)

type OrderEventItem struct {
	ProductID int64           `json:"product_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

type OrderCreatedPayload struct {
	OrderID     int64              `json:"order_id"`
	OrderNumber string             `json:"order_number"`
	UserID      string             `json:"user_id"`
	Status      models.OrderStatus `json:"status"`
	TotalAmount decimal.Decimal    `json:"total_amount"`
	Items       []OrderEventItem   `json:"items"`
	OccurredAt  time.Time          `json:"occurred_at"`
}

type OrderStatusChangedPayload struct {
	OrderID     int64              `json:"order_id"`
	OrderNumber string             `json:"order_number"`
	UserID      string             `json:"user_id"`
	From        models.OrderStatus `json:"from"`
	To          models.OrderStatus `json:"to"`
	OccurredAt  time.Time          `json:"occurred_at"`
}

// InsertOutboxEvent records an event in the caller's transaction so it is
// committed or discarded together with the change it describes.
func InsertOutboxEvent(ctx context.Context, tx *sql.Tx, eventType string, aggregateID int64, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO outbox_events (event_id, event_type, aggregate_id, payload, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, NOW())`,
		uuid.NewString(), eventType, aggregateID, string(data), models.OutboxStatusPending)
	if err != nil {
		return fmt.Errorf("insert outbox event: %w", err)
	}

	return nil
}

// ClaimPendingEvents locks up to limit unpublished events, oldest first.
// Rows locked by another relay are skipped.
func ClaimPendingEvents(ctx context.Context, tx *sql.Tx, limit int) ([]models.OutboxEvent, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT id, event_id, event_type, aggregate_id, payload, status, created_at, published_at
		 FROM outbox_events
		 WHERE status = $1
		 ORDER BY created_at, id
		 LIMIT $2
		 FOR UPDATE SKIP LOCKED`,
		models.OutboxStatusPending, limit)
	if err != nil {
		return nil, fmt.Errorf("claim outbox events: %w", err)
	}
	defer rows.Close()

	var events []models.OutboxEvent
	for rows.Next() {
		var event models.OutboxEvent
		var payload []byte
		var publishedAt sql.NullTime

		if err := rows.Scan(
			&event.ID,
			&event.EventID,
			&event.EventType,
			&event.AggregateID,
			&payload,
			&event.Status,
			&event.CreatedAt,
			&publishedAt,
		); err != nil {
			return nil, fmt.Errorf("scan outbox event: %w", err)
		}

		event.Payload = json.RawMessage(payload)
		if publishedAt.Valid {
			event.PublishedAt = &publishedAt.Time
		}
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return events, nil
}

func MarkEventsPublished(ctx context.Context, tx *sql.Tx, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}

	_, err := tx.ExecContext(ctx,
		`UPDATE outbox_events
		 SET status = $1, published_at = NOW()
		 WHERE id = ANY($2)`,
		models.OutboxStatusPublished, pq.Array(ids))
	if err != nil {
		return fmt.Errorf("mark events published: %w", err)
	}

	return nil
}

func CountPendingEvents(ctx context.Context, db *sql.DB) (int64, error) {
	var count int64
	err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM outbox_events WHERE status = $1`,
		models.OutboxStatusPending).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count pending events: %w", err)
	}
	return count, nil
}
