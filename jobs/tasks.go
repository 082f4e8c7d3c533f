package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"

	"github.com/roamly/roamly-payments/internal/payments"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// QueueWebhooks carries provider events; kept separate so a backlog of
	// maintenance jobs never delays payment finalization.
	QueueWebhooks = "webhooks"

	// TaskTypeProviderEvent is the task type for parsed provider events.
	TaskTypeProviderEvent = "payments:provider_event"
	// TaskTypeBookingEvent is the task type for booking lifecycle events,
	// consumed by the external booking service.
	TaskTypeBookingEvent = "booking:event"
	// TaskTypeLedgerRecalc is the task type for the balance cache sweep.
	TaskTypeLedgerRecalc = "ledger:recalculate"
)

// NewProviderEventTask constructs an Asynq task for one provider event.
func NewProviderEventTask(event payments.ProviderEvent) (*asynq.Task, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeProviderEvent, data, asynq.Queue(QueueWebhooks)), nil
}

// NewBookingEventTask constructs an Asynq task for one lifecycle event.
func NewBookingEventTask(event payments.BookingEvent) (*asynq.Task, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeBookingEvent, data), nil
}

// NewLedgerRecalcTask constructs the nightly balance recalculation task.
func NewLedgerRecalcTask() *asynq.Task {
	return asynq.NewTask(TaskTypeLedgerRecalc, nil)
}
