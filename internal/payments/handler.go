package payments

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/roamly/roamly-payments/internal/platform/httpx"
	"github.com/roamly/roamly-payments/internal/shared"
)

// GuardPort is the entry point the webhook surface drives.
type GuardPort interface {
	Apply(ctx context.Context, event ProviderEvent) (Outcome, error)
}

// Handler exposes the webhook entry point and the aggregate read path.
type Handler struct {
	logger     *slog.Logger
	guard      GuardPort
	aggregates *AggregateService
	validator  *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, guard GuardPort, aggregates *AggregateService) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, guard: guard, aggregates: aggregates, validator: validator.New()}
}

// MountWebhookRoutes registers the provider webhook route.
func (h *Handler) MountWebhookRoutes(r chi.Router) {
	r.Post("/payments", h.handleProviderEvent)
}

// MountBookingRoutes registers the booking payment read routes.
func (h *Handler) MountBookingRoutes(r chi.Router) {
	r.Get("/{bookingID}/payments", h.getBookingPayments)
}

type webhookMetadata struct {
	BookingID      string `json:"booking_id" validate:"required,uuid"`
	OrganizationID string `json:"organization_id" validate:"required,uuid"`
	AgencyID       string `json:"agency_id" validate:"omitempty,uuid"`
	CorrelationID  string `json:"correlation_id"`
	AmountMinor    int64  `json:"amount_minor"`
	TotalMinor     int64  `json:"total_minor"`
	Currency       string `json:"currency" validate:"omitempty,len=3"`
}

type webhookRequest struct {
	EventID         string          `json:"event_id" validate:"required"`
	Type            string          `json:"type" validate:"required"`
	Provider        string          `json:"provider" validate:"required"`
	PaymentIntentID string          `json:"payment_intent_id" validate:"required"`
	OccurredAt      *time.Time      `json:"occurred_at"`
	Metadata        webhookMetadata `json:"metadata" validate:"required"`
}

type webhookResponse struct {
	Decision string `json:"decision"`
	Reason   string `json:"reason"`
}

// handleProviderEvent feeds a parsed provider event through the finalize
// guard. Duplicate and out-of-order outcomes are 200 responses so the
// provider stops redelivering.
func (h *Handler) handleProviderEvent(w http.ResponseWriter, r *http.Request) {
	body, err := rawBody(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "unreadable request body")
		return
	}
	var req webhookRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed request body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	event, err := req.toEvent(body)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}

	outcome, err := h.guard.Apply(r.Context(), event)
	if err != nil {
		h.logger.Error("apply provider event", slog.Any("error", err),
			slog.String("event_id", event.EventID),
			slog.String("event_type", string(event.Type)))
		httpx.RespondError(w, err)
		return
	}

	h.logger.Info("provider event decided",
		slog.String("event_id", event.EventID),
		slog.String("event_type", string(event.Type)),
		slog.String("decision", string(outcome.Decision)),
		slog.String("reason", outcome.Reason))
	httpx.JSON(w, http.StatusOK, webhookResponse{
		Decision: string(outcome.Decision),
		Reason:   outcome.Reason,
	})
}

type aggregateResponse struct {
	BookingID      uuid.UUID `json:"booking_id"`
	Currency       string    `json:"currency"`
	AmountTotal    int64     `json:"amount_total"`
	AmountPaid     int64     `json:"amount_paid"`
	AmountRefunded int64     `json:"amount_refunded"`
	Status         string    `json:"status"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func (h *Handler) getBookingPayments(w http.ResponseWriter, r *http.Request) {
	orgID := shared.OrgFromContext(r.Context())
	if orgID == uuid.Nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "organization header required")
		return
	}
	bookingID, err := uuid.Parse(chi.URLParam(r, "bookingID"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid booking id")
		return
	}
	aggregate, err := h.aggregates.Get(r.Context(), orgID, bookingID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, aggregateResponse{
		BookingID:      aggregate.BookingID,
		Currency:       aggregate.Currency,
		AmountTotal:    aggregate.AmountTotal,
		AmountPaid:     aggregate.AmountPaid,
		AmountRefunded: aggregate.AmountRefunded,
		Status:         string(aggregate.Status),
		UpdatedAt:      aggregate.UpdatedAt,
	})
}

// maxWebhookBody caps provider payload size at 1 MiB.
const maxWebhookBody = 1 << 20

func rawBody(r *http.Request) ([]byte, error) {
	defer r.Body.Close()
	return io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
}

func errInvalidMetadata(field string) error {
	return fmt.Errorf("payments: invalid %s in event metadata: %w", field, httpx.ErrValidation)
}

func (req webhookRequest) toEvent(raw []byte) (ProviderEvent, error) {
	orgID, err := uuid.Parse(req.Metadata.OrganizationID)
	if err != nil {
		return ProviderEvent{}, errInvalidMetadata("organization_id")
	}
	bookingID, err := uuid.Parse(req.Metadata.BookingID)
	if err != nil {
		return ProviderEvent{}, errInvalidMetadata("booking_id")
	}
	var agencyID uuid.UUID
	if req.Metadata.AgencyID != "" {
		agencyID, err = uuid.Parse(req.Metadata.AgencyID)
		if err != nil {
			return ProviderEvent{}, errInvalidMetadata("agency_id")
		}
	}
	occurredAt := time.Now()
	if req.OccurredAt != nil {
		occurredAt = *req.OccurredAt
	}
	return ProviderEvent{
		EventID:         req.EventID,
		Type:            ProviderEventType(req.Type),
		Provider:        req.Provider,
		PaymentIntentID: req.PaymentIntentID,
		OccurredAt:      occurredAt,
		Raw:             raw,
		Metadata: EventMetadata{
			BookingID:     bookingID,
			OrgID:         orgID,
			AgencyID:      agencyID,
			CorrelationID: req.Metadata.CorrelationID,
			AmountMinor:   req.Metadata.AmountMinor,
			TotalMinor:    req.Metadata.TotalMinor,
			Currency:      req.Metadata.Currency,
		},
	}, nil
}
