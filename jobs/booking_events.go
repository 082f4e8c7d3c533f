package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/roamly/roamly-payments/internal/payments"
)

// BookingEventEnqueuer hands lifecycle events to the external booking
// service via the task queue. It implements payments.BookingEventAppender.
type BookingEventEnqueuer struct {
	client *asynq.Client
}

// NewBookingEventEnqueuer constructs the enqueuer.
func NewBookingEventEnqueuer(client *asynq.Client) *BookingEventEnqueuer {
	return &BookingEventEnqueuer{client: client}
}

// Append enqueues one lifecycle event.
func (e *BookingEventEnqueuer) Append(ctx context.Context, event payments.BookingEvent) error {
	task, err := NewBookingEventTask(event)
	if err != nil {
		return fmt.Errorf("jobs: marshal booking event: %w", err)
	}
	if _, err := e.client.EnqueueContext(ctx, task); err != nil {
		return fmt.Errorf("jobs: enqueue booking event: %w", err)
	}
	return nil
}

// NewBookingEventHandler returns the consumer that writes lifecycle events
// into the booking event log. Inserts are append-only; the booking service
// reads the table, never this worker.
func NewBookingEventHandler(pool *pgxpool.Pool, logger *slog.Logger) asynq.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, t *asynq.Task) error {
		var event payments.BookingEvent
		if err := json.Unmarshal(t.Payload(), &event); err != nil {
			logger.Error("decode booking event", slog.Any("error", err))
			return fmt.Errorf("jobs: decode booking event: %w", asynq.SkipRetry)
		}

		meta, err := json.Marshal(event.Meta)
		if err != nil {
			return fmt.Errorf("jobs: marshal booking event meta: %w", asynq.SkipRetry)
		}

		const query = `
			INSERT INTO booking_events (org_id, booking_id, event_type, meta, occurred_at)
			VALUES ($1, $2, $3, $4, $5)`
		if _, err := pool.Exec(ctx, query, event.OrgID, event.BookingID, event.Type, meta, event.At); err != nil {
			return fmt.Errorf("jobs: insert booking event: %w", err)
		}

		logger.Info("booking event appended",
			slog.String("booking_id", event.BookingID.String()),
			slog.String("event_type", event.Type))
		return nil
	}
}
