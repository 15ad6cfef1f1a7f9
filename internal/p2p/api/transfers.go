package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"p2pplatform/internal/common/api"
	"p2pplatform/internal/common/money"
	"p2pplatform/internal/p2p"
	"p2pplatform/internal/p2p/domain"
	"p2pplatform/internal/p2p/store"
)

// SendMoneyRequest is the API request for a direct transfer
type SendMoneyRequest struct {
	Recipient       domain.ContactRef `json:"recipient" validate:"required"`
	Amount          money.Money       `json:"amount" validate:"required"`
	SourceAccountID string            `json:"source_account_id" validate:"required"`
	Message         string            `json:"message" validate:"max=500"`
	PrivateNote     string            `json:"private_note" validate:"max=500"`
	NotifySender    *bool             `json:"notify_sender"`
	NotifyRecipient *bool             `json:"notify_recipient"`
}

// SendMoney handles POST /send
func (h *Handler) SendMoney(w http.ResponseWriter, r *http.Request) {
	user, ok := userID(w, r)
	if !ok {
		return
	}
	var req SendMoneyRequest
	if err := api.DecodeAndValidate(r, &req); err != nil {
		api.ValidationError(w, err)
		return
	}

	tx, err := h.service.SendMoney(r.Context(), p2p.SendMoneyRequest{
		SenderUserID:    user,
		Recipient:       req.Recipient,
		Amount:          req.Amount,
		SourceAccountID: req.SourceAccountID,
		Message:         req.Message,
		PrivateNote:     req.PrivateNote,
		NotifySender:    boolOr(req.NotifySender, true),
		NotifyRecipient: boolOr(req.NotifyRecipient, true),
		IdempotencyKey:  r.Header.Get("Idempotency-Key"),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	api.WriteData(w, http.StatusAccepted, tx)
}

// QuoteRequest prices a prospective transfer
type QuoteRequest struct {
	Amount money.Money `json:"amount" validate:"required"`
	Kind   string      `json:"kind" validate:"omitempty,oneof=send request_payment split_payment link_payment"`
}

// GetQuote handles POST /quote
func (h *Handler) GetQuote(w http.ResponseWriter, r *http.Request) {
	var req QuoteRequest
	if err := api.DecodeAndValidate(r, &req); err != nil {
		api.ValidationError(w, err)
		return
	}
	quote, err := h.service.GetQuote(r.Context(), req.Amount, domain.TransactionKind(req.Kind))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	api.WriteData(w, http.StatusOK, quote)
}

// ListTransactions handles GET /transactions
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	user, ok := userID(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	page := api.GetPaginationParams(r, 20, 100)
	f := store.TransactionFilter{
		UserID:    user,
		Direction: store.Direction(q.Get("direction")),
		Kind:      domain.TransactionKind(q.Get("kind")),
		Page:      store.Page{Limit: page.Limit, Offset: page.Offset},
	}
	switch f.Direction {
	case "", store.DirectionAll, store.DirectionSent, store.DirectionReceived:
	default:
		api.BadRequest(w, "direction must be all, sent or received")
		return
	}
	if status := q.Get("status"); status != "" {
		for _, s := range strings.Split(status, ",") {
			f.Statuses = append(f.Statuses, domain.TransactionStatus(strings.ToUpper(strings.TrimSpace(s))))
		}
	}
	var err error
	if f.From, err = queryTime(r, "from"); err != nil {
		h.writeError(w, r, err)
		return
	}
	if f.To, err = queryTime(r, "to"); err != nil {
		h.writeError(w, r, err)
		return
	}

	txs, total, err := h.service.ListTransactions(r.Context(), f)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	api.WritePaginated(w, txs, api.NewPagination(page, total))
}

// GetTransaction handles GET /transactions/{id}
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	user, ok := userID(w, r)
	if !ok {
		return
	}
	tx, err := h.service.GetTransaction(r.Context(), user, chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	api.WriteData(w, http.StatusOK, tx)
}

// CancelTransaction handles POST /transactions/{id}/cancel
func (h *Handler) CancelTransaction(w http.ResponseWriter, r *http.Request) {
	user, ok := userID(w, r)
	if !ok {
		return
	}
	tx, err := h.service.CancelTransaction(r.Context(), user, chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	api.WriteData(w, http.StatusOK, tx)
}

// ClaimRequest names the account a claimed transfer is paid into
type ClaimRequest struct {
	DestinationAccountID string `json:"destination_account_id" validate:"required"`
}

// ClaimTransaction handles POST /transactions/{id}/claim
func (h *Handler) ClaimTransaction(w http.ResponseWriter, r *http.Request) {
	user, ok := userID(w, r)
	if !ok {
		return
	}
	var req ClaimRequest
	if err := api.DecodeAndValidate(r, &req); err != nil {
		api.ValidationError(w, err)
		return
	}
	tx, err := h.service.ClaimTransaction(r.Context(), user, chi.URLParam(r, "id"), req.DestinationAccountID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	api.WriteData(w, http.StatusOK, tx)
}

func boolOr(b *bool, def bool) bool {
	if b == nil {
		return def
	}
	return *b
}
