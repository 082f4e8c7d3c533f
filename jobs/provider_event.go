package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/roamly/roamly-payments/internal/payments"
	"github.com/roamly/roamly-payments/internal/platform/httpx"
)

// NewProviderEventHandler returns the Asynq handler for the message-queue
// entry point. Validation failures never retry; transient store failures do,
// which is safe because the finalize guard and transaction log make every
// redelivery idempotent.
func NewProviderEventHandler(guard payments.GuardPort, logger *slog.Logger) asynq.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, t *asynq.Task) error {
		var event payments.ProviderEvent
		if err := json.Unmarshal(t.Payload(), &event); err != nil {
			logger.Error("decode provider event task", slog.Any("error", err))
			return asynq.SkipRetry
		}

		outcome, err := guard.Apply(ctx, event)
		if err != nil {
			if errors.Is(err, httpx.ErrValidation) || errors.Is(err, httpx.ErrConflict) {
				logger.Error("provider event rejected", slog.Any("error", err),
					slog.String("event_id", event.EventID))
				return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
			}
			return err
		}

		logger.Info("provider event decided",
			slog.String("event_id", event.EventID),
			slog.String("event_type", string(event.Type)),
			slog.String("decision", string(outcome.Decision)),
			slog.String("reason", outcome.Reason))
		return nil
	}
}
