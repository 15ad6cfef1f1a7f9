package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"p2pplatform/internal/common/api"
	"p2pplatform/internal/common/money"
	"p2pplatform/internal/p2p"
	"p2pplatform/internal/p2p/domain"
	"p2pplatform/internal/p2p/store"
)

// CreateRequestRequest asks a contact for money
type CreateRequestRequest struct {
	Payer                domain.ContactRef `json:"payer" validate:"required"`
	Amount               money.Money       `json:"amount" validate:"required"`
	Description          string            `json:"description" validate:"required,max=500"`
	DueDate              *time.Time        `json:"due_date"`
	DestinationAccountID string            `json:"destination_account_id" validate:"required"`
}

// CreateRequest handles POST /requests
func (h *Handler) CreateRequest(w http.ResponseWriter, r *http.Request) {
	user, ok := userID(w, r)
	if !ok {
		return
	}
	var req CreateRequestRequest
	if err := api.DecodeAndValidate(r, &req); err != nil {
		api.ValidationError(w, err)
		return
	}
	created, err := h.service.CreateRequest(r.Context(), p2p.CreateRequestInput{
		RequesterUserID:      user,
		Payer:                req.Payer,
		Amount:               req.Amount,
		Description:          req.Description,
		DueDate:              req.DueDate,
		DestinationAccountID: req.DestinationAccountID,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	api.WriteData(w, http.StatusCreated, created)
}

// requestListResponse carries the pending counts next to the page
type requestListResponse struct {
	Data            []*domain.MoneyRequest `json:"data"`
	Pagination      *api.Pagination        `json:"pagination"`
	PendingIncoming int                    `json:"pending_incoming"`
	PendingOutgoing int                    `json:"pending_outgoing"`
}

// ListRequests handles GET /requests
func (h *Handler) ListRequests(w http.ResponseWriter, r *http.Request) {
	user, ok := userID(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	page := api.GetPaginationParams(r, 20, 100)
	f := store.RequestFilter{
		UserID:    user,
		Direction: store.Direction(q.Get("direction")),
		Status:    domain.RequestStatus(strings.ToUpper(q.Get("status"))),
		Page:      store.Page{Limit: page.Limit, Offset: page.Offset},
	}
	switch f.Direction {
	case "", store.DirectionAll, store.DirectionIncoming, store.DirectionOutgoing:
	default:
		api.BadRequest(w, "direction must be all, incoming or outgoing")
		return
	}

	list, err := h.service.ListRequests(r.Context(), f)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	data := list.Requests
	if data == nil {
		data = []*domain.MoneyRequest{}
	}
	api.WriteJSON(w, http.StatusOK, requestListResponse{
		Data:            data,
		Pagination:      api.NewPagination(page, list.Total),
		PendingIncoming: list.PendingIncoming,
		PendingOutgoing: list.PendingOutgoing,
	})
}

// GetRequest handles GET /requests/{id}
func (h *Handler) GetRequest(w http.ResponseWriter, r *http.Request) {
	user, ok := userID(w, r)
	if !ok {
		return
	}
	req, err := h.service.GetRequest(r.Context(), user, chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	api.WriteData(w, http.StatusOK, req)
}

// RespondRequest accepts or declines a money request. Amount is only used for
// partial payments of split shares.
type RespondRequest struct {
	Action          string       `json:"action" validate:"required,oneof=accept decline"`
	SourceAccountID string       `json:"source_account_id" validate:"required_if=Action accept"`
	Amount          *money.Money `json:"amount"`
	Message         string       `json:"message" validate:"max=500"`
}

// RespondToRequest handles POST /requests/{id}/respond
func (h *Handler) RespondToRequest(w http.ResponseWriter, r *http.Request) {
	user, ok := userID(w, r)
	if !ok {
		return
	}
	var req RespondRequest
	if err := api.DecodeAndValidate(r, &req); err != nil {
		api.ValidationError(w, err)
		return
	}
	res, err := h.service.RespondToRequest(r.Context(), user, chi.URLParam(r, "id"), p2p.RespondInput{
		Action:          domain.RespondAction(req.Action),
		SourceAccountID: req.SourceAccountID,
		Amount:          req.Amount,
		Message:         req.Message,
		IdempotencyKey:  r.Header.Get("Idempotency-Key"),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	api.WriteData(w, http.StatusOK, res)
}

// CancelRequest handles POST /requests/{id}/cancel
func (h *Handler) CancelRequest(w http.ResponseWriter, r *http.Request) {
	user, ok := userID(w, r)
	if !ok {
		return
	}
	req, err := h.service.CancelRequest(r.Context(), user, chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	api.WriteData(w, http.StatusOK, req)
}
