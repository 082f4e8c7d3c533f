package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"

	"github.com/roamly/roamly-payments/internal/payments"
)

type stubGuard struct {
	outcome payments.Outcome
	err     error
	applied int
}

func (g *stubGuard) Apply(ctx context.Context, event payments.ProviderEvent) (payments.Outcome, error) {
	g.applied++
	return g.outcome, g.err
}

func TestProviderEventHandlerAppliesEvent(t *testing.T) {
	guard := &stubGuard{outcome: payments.Outcome{Decision: payments.DecisionApplied, Reason: "applied"}}
	handler := NewProviderEventHandler(guard, nil)

	task, err := NewProviderEventTask(payments.ProviderEvent{
		EventID:         "evt-1",
		Type:            payments.EventCaptureSucceeded,
		Provider:        "stripe",
		PaymentIntentID: "pi_1",
	})
	require.NoError(t, err)

	require.NoError(t, handler(context.Background(), task))
	require.Equal(t, 1, guard.applied)
}

func TestProviderEventHandlerSkipsRetryOnBadPayload(t *testing.T) {
	guard := &stubGuard{}
	handler := NewProviderEventHandler(guard, nil)

	task := asynq.NewTask(TaskTypeProviderEvent, []byte("{not json"))
	err := handler(context.Background(), task)
	require.ErrorIs(t, err, asynq.SkipRetry)
	require.Zero(t, guard.applied)
}

func TestProviderEventHandlerSkipsRetryOnRejection(t *testing.T) {
	guard := &stubGuard{err: payments.ErrUnknownEventType}
	handler := NewProviderEventHandler(guard, nil)

	payload, err := json.Marshal(payments.ProviderEvent{EventID: "evt-1"})
	require.NoError(t, err)

	err = handler(context.Background(), asynq.NewTask(TaskTypeProviderEvent, payload))
	require.ErrorIs(t, err, asynq.SkipRetry)
}

func TestProviderEventHandlerRetriesTransientFailures(t *testing.T) {
	transient := errors.New("connection refused")
	guard := &stubGuard{err: transient}
	handler := NewProviderEventHandler(guard, nil)

	payload, err := json.Marshal(payments.ProviderEvent{EventID: "evt-1"})
	require.NoError(t, err)

	err = handler(context.Background(), asynq.NewTask(TaskTypeProviderEvent, payload))
	require.ErrorIs(t, err, transient)
	require.NotErrorIs(t, err, asynq.SkipRetry)
}
