package ledger

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/roamly/roamly-payments/internal/platform/httpx"
	"github.com/roamly/roamly-payments/internal/shared"
)

// Handler exposes the posting service to finance and reporting tooling.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers ledger routes on the provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/postings", h.postPosting)
	r.Get("/accounts/{accountID}/balance", h.getBalance)
	r.Post("/accounts/{accountID}/recalculate", h.recalculate)
}

type postingLineRequest struct {
	Account   string  `json:"account" validate:"required"`
	Direction string  `json:"direction" validate:"required,oneof=DEBIT CREDIT"`
	Amount    float64 `json:"amount" validate:"required,gt=0"`
}

type postingRequest struct {
	SourceType string               `json:"source_type" validate:"required"`
	SourceID   string               `json:"source_id" validate:"required"`
	Event      string               `json:"event" validate:"required"`
	Currency   string               `json:"currency" validate:"required,len=3"`
	Memo       string               `json:"memo"`
	AmendID    string               `json:"amend_id"`
	OccurredAt *time.Time           `json:"occurred_at"`
	Lines      []postingLineRequest `json:"lines" validate:"required,min=2,dive"`
}

type postingResponse struct {
	ID          uuid.UUID  `json:"id"`
	SourceType  string     `json:"source_type"`
	SourceID    string     `json:"source_id"`
	Event       string     `json:"event"`
	Currency    string     `json:"currency"`
	DebitTotal  float64    `json:"debit_total"`
	CreditTotal float64    `json:"credit_total"`
	OccurredAt  time.Time  `json:"occurred_at"`
	PostedAt    time.Time  `json:"posted_at"`
	Lines       []lineView `json:"lines"`
}

type lineView struct {
	Account   string  `json:"account"`
	Direction string  `json:"direction"`
	Amount    float64 `json:"amount"`
}

func (h *Handler) postPosting(w http.ResponseWriter, r *http.Request) {
	orgID := shared.OrgFromContext(r.Context())
	if orgID == uuid.Nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "organization header required")
		return
	}
	var req postingRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed request body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	input := PostingInput{
		OrgID:      orgID,
		SourceType: req.SourceType,
		SourceID:   req.SourceID,
		Event:      req.Event,
		Currency:   req.Currency,
		Memo:       req.Memo,
		OccurredAt: req.OccurredAt,
		Meta:       PostingMeta{AmendID: req.AmendID},
	}
	for _, line := range req.Lines {
		ref, err := ParseAccountRef(line.Account)
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		input.Lines = append(input.Lines, PostingLineInput{
			Account:   ref,
			Direction: Direction(line.Direction),
			Amount:    line.Amount,
		})
	}

	posting, err := h.service.Post(r.Context(), input)
	if err != nil {
		h.logger.Error("post ledger posting", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toPostingResponse(posting))
}

type balanceResponse struct {
	AccountID uuid.UUID `json:"account_id"`
	Currency  string    `json:"currency"`
	Balance   float64   `json:"balance"`
	AsOf      time.Time `json:"as_of"`
}

func (h *Handler) getBalance(w http.ResponseWriter, r *http.Request) {
	orgID, accountID, currencyCode, ok := h.accountParams(w, r)
	if !ok {
		return
	}
	balance, err := h.service.Balance(r.Context(), orgID, accountID, currencyCode)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toBalanceResponse(balance))
}

func (h *Handler) recalculate(w http.ResponseWriter, r *http.Request) {
	orgID, accountID, currencyCode, ok := h.accountParams(w, r)
	if !ok {
		return
	}
	balance, err := h.service.Recalculate(r.Context(), orgID, accountID, currencyCode)
	if err != nil {
		h.logger.Error("recalculate balance", slog.Any("error", err),
			slog.String("account_id", accountID.String()))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toBalanceResponse(balance))
}

func (h *Handler) accountParams(w http.ResponseWriter, r *http.Request) (uuid.UUID, uuid.UUID, string, bool) {
	orgID := shared.OrgFromContext(r.Context())
	if orgID == uuid.Nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "organization header required")
		return uuid.Nil, uuid.Nil, "", false
	}
	ref, err := ParseAccountRef(chi.URLParam(r, "accountID"))
	if err != nil {
		httpx.RespondError(w, err)
		return uuid.Nil, uuid.Nil, "", false
	}
	currencyCode := r.URL.Query().Get("currency")
	if currencyCode == "" {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "currency query parameter required")
		return uuid.Nil, uuid.Nil, "", false
	}
	return orgID, ref.ID, currencyCode, true
}

func toPostingResponse(posting Posting) postingResponse {
	resp := postingResponse{
		ID:          posting.ID,
		SourceType:  posting.SourceType,
		SourceID:    posting.SourceID,
		Event:       posting.Event,
		Currency:    posting.Currency,
		DebitTotal:  posting.DebitTotal,
		CreditTotal: posting.CreditTotal,
		OccurredAt:  posting.OccurredAt,
		PostedAt:    posting.PostedAt,
	}
	for _, line := range posting.Lines {
		resp.Lines = append(resp.Lines, lineView{
			Account:   AccountRef{ID: line.AccountID}.String(),
			Direction: string(line.Direction),
			Amount:    line.Amount,
		})
	}
	return resp
}

func toBalanceResponse(balance Balance) balanceResponse {
	return balanceResponse{
		AccountID: balance.AccountID,
		Currency:  balance.Currency,
		Balance:   balance.Balance,
		AsOf:      balance.AsOf,
	}
}
