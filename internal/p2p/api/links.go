package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"p2pplatform/internal/common/api"
	"p2pplatform/internal/common/money"
	"p2pplatform/internal/p2p"
	"p2pplatform/internal/p2p/domain"
)

// CreateLinkRequest describes a shareable payment link
type CreateLinkRequest struct {
	Title                string       `json:"title" validate:"required,max=200"`
	Description          string       `json:"description" validate:"max=1000"`
	Currency             string       `json:"currency" validate:"required,len=3"`
	IsAmountFixed        bool         `json:"is_amount_fixed"`
	Amount               *money.Money `json:"amount" validate:"required_if=IsAmountFixed true"`
	MinAmount            *money.Money `json:"min_amount"`
	MaxAmount            *money.Money `json:"max_amount"`
	DestinationAccountID string       `json:"destination_account_id" validate:"required"`
	ExpiresAt            *time.Time   `json:"expires_at"`
	MaxUses              *int         `json:"max_uses" validate:"omitempty,gte=1"`
	RequirePayerInfo     bool         `json:"require_payer_info"`
	CustomMessage        string       `json:"custom_message" validate:"max=500"`
}

// CreatePaymentLink handles POST /payment-links
func (h *Handler) CreatePaymentLink(w http.ResponseWriter, r *http.Request) {
	user, ok := userID(w, r)
	if !ok {
		return
	}
	var req CreateLinkRequest
	if err := api.DecodeAndValidate(r, &req); err != nil {
		api.ValidationError(w, err)
		return
	}
	link, err := h.service.CreatePaymentLink(r.Context(), p2p.CreateLinkInput{
		OwnerUserID:          user,
		Title:                req.Title,
		Description:          req.Description,
		Currency:             money.Currency(req.Currency),
		IsAmountFixed:        req.IsAmountFixed,
		Amount:               req.Amount,
		MinAmount:            req.MinAmount,
		MaxAmount:            req.MaxAmount,
		DestinationAccountID: req.DestinationAccountID,
		ExpiresAt:            req.ExpiresAt,
		MaxUses:              req.MaxUses,
		RequirePayerInfo:     req.RequirePayerInfo,
		CustomMessage:        req.CustomMessage,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	api.WriteData(w, http.StatusCreated, link)
}

// ListPaymentLinks handles GET /payment-links
func (h *Handler) ListPaymentLinks(w http.ResponseWriter, r *http.Request) {
	user, ok := userID(w, r)
	if !ok {
		return
	}
	page := api.GetPaginationParams(r, 20, 100)
	links, err := h.service.ListPaymentLinks(r.Context(), user, page.Limit, page.Offset)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if links == nil {
		links = []*domain.PaymentLink{}
	}
	api.WriteData(w, http.StatusOK, links)
}

// GetPaymentLink handles GET /payment-links/{id}
func (h *Handler) GetPaymentLink(w http.ResponseWriter, r *http.Request) {
	user, ok := userID(w, r)
	if !ok {
		return
	}
	link, err := h.service.GetPaymentLink(r.Context(), user, chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	api.WriteData(w, http.StatusOK, link)
}

// DeactivatePaymentLink handles POST /payment-links/{id}/deactivate
func (h *Handler) DeactivatePaymentLink(w http.ResponseWriter, r *http.Request) {
	user, ok := userID(w, r)
	if !ok {
		return
	}
	link, err := h.service.DeactivatePaymentLink(r.Context(), user, chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	api.WriteData(w, http.StatusOK, link)
}

// GetPublicLink handles GET /pay/{publicID}. No authentication.
func (h *Handler) GetPublicLink(w http.ResponseWriter, r *http.Request) {
	view, err := h.service.GetPublicLink(r.Context(), chi.URLParam(r, "publicID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	api.WriteData(w, http.StatusOK, view)
}

// PayLinkRequest pays through a link
type PayLinkRequest struct {
	Amount          *money.Money `json:"amount"`
	SourceAccountID string       `json:"source_account_id" validate:"required"`
	PayerName       string       `json:"payer_name" validate:"max=255"`
	PayerEmail      string       `json:"payer_email" validate:"omitempty,email"`
	Message         string       `json:"message" validate:"max=500"`
}

// PayViaLink handles POST /pay/{publicID}
func (h *Handler) PayViaLink(w http.ResponseWriter, r *http.Request) {
	user, ok := userID(w, r)
	if !ok {
		return
	}
	var req PayLinkRequest
	if err := api.DecodeAndValidate(r, &req); err != nil {
		api.ValidationError(w, err)
		return
	}
	tx, err := h.service.PayViaLink(r.Context(), user, chi.URLParam(r, "publicID"), p2p.PayLinkInput{
		Amount:          req.Amount,
		SourceAccountID: req.SourceAccountID,
		PayerName:       req.PayerName,
		PayerEmail:      req.PayerEmail,
		Message:         req.Message,
		IdempotencyKey:  r.Header.Get("Idempotency-Key"),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	api.WriteData(w, http.StatusAccepted, tx)
}
