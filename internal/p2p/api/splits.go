package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"p2pplatform/internal/common/api"
	"p2pplatform/internal/common/money"
	"p2pplatform/internal/p2p"
	"p2pplatform/internal/p2p/domain"
)

// SplitParticipantRequest is one person on a bill
type SplitParticipantRequest struct {
	Contact domain.ContactRef `json:"contact" validate:"required"`
	Share   *money.Money      `json:"share"`
}

// CreateSplitBillRequest divides a bill between contacts
type CreateSplitBillRequest struct {
	Title                string                    `json:"title" validate:"required,max=200"`
	TotalAmount          money.Money               `json:"total_amount" validate:"required"`
	SplitType            string                    `json:"split_type" validate:"omitempty,oneof=equal custom percentage"`
	Participants         []SplitParticipantRequest `json:"participants" validate:"required,min=1,max=50,dive"`
	IncludeCreator       bool                      `json:"include_creator"`
	CreatorShare         *money.Money              `json:"creator_share"`
	DestinationAccountID string                    `json:"destination_account_id" validate:"required"`
	BillDate             *time.Time                `json:"bill_date"`
	Category             string                    `json:"category" validate:"max=100"`
	Location             string                    `json:"location" validate:"max=255"`
	ReceiptURL           string                    `json:"receipt_url" validate:"omitempty,url"`
	DueDate              *time.Time                `json:"due_date"`
}

type splitBillResponse struct {
	SplitBill splitBillView          `json:"split_bill"`
	Requests  []*domain.MoneyRequest `json:"requests"`
}

// splitBillView adds the derived collection progress to a bill.
type splitBillView struct {
	*domain.SplitBill
	IsFullyCollected     bool   `json:"is_fully_collected"`
	CollectionPercentage string `json:"collection_percentage"`
}

func viewSplitBill(b *domain.SplitBill) splitBillView {
	return splitBillView{
		SplitBill:            b,
		IsFullyCollected:     b.IsFullyCollected(),
		CollectionPercentage: decimal.New(b.CollectionBasisPoints(), -2).StringFixed(2),
	}
}

// CreateSplitBill handles POST /split-bills
func (h *Handler) CreateSplitBill(w http.ResponseWriter, r *http.Request) {
	user, ok := userID(w, r)
	if !ok {
		return
	}
	var req CreateSplitBillRequest
	if err := api.DecodeAndValidate(r, &req); err != nil {
		api.ValidationError(w, err)
		return
	}

	in := p2p.CreateSplitBillInput{
		CreatorUserID:        user,
		Title:                req.Title,
		TotalAmount:          req.TotalAmount,
		SplitType:            domain.SplitType(req.SplitType),
		IncludeCreator:       req.IncludeCreator,
		CreatorShare:         req.CreatorShare,
		DestinationAccountID: req.DestinationAccountID,
		Category:             req.Category,
		Location:             req.Location,
		ReceiptURL:           req.ReceiptURL,
		DueDate:              req.DueDate,
	}
	if in.SplitType == "" {
		in.SplitType = domain.SplitEqual
	}
	if req.BillDate != nil {
		in.BillDate = *req.BillDate
	}
	for _, p := range req.Participants {
		in.Participants = append(in.Participants, p2p.SplitParticipantInput{Contact: p.Contact, Share: p.Share})
	}

	bill, requests, err := h.service.CreateSplitBill(r.Context(), in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if requests == nil {
		requests = []*domain.MoneyRequest{}
	}
	api.WriteData(w, http.StatusCreated, splitBillResponse{SplitBill: viewSplitBill(bill), Requests: requests})
}

// ListSplitBills handles GET /split-bills
func (h *Handler) ListSplitBills(w http.ResponseWriter, r *http.Request) {
	user, ok := userID(w, r)
	if !ok {
		return
	}
	page := api.GetPaginationParams(r, 20, 100)
	bills, err := h.service.ListSplitBills(r.Context(), user, queryBool(r, "active"), page.Limit, page.Offset)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	views := make([]splitBillView, 0, len(bills))
	for _, b := range bills {
		views = append(views, viewSplitBill(b))
	}
	api.WriteData(w, http.StatusOK, views)
}

// GetSplitBill handles GET /split-bills/{id}
func (h *Handler) GetSplitBill(w http.ResponseWriter, r *http.Request) {
	user, ok := userID(w, r)
	if !ok {
		return
	}
	bill, err := h.service.GetSplitBill(r.Context(), user, chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	api.WriteData(w, http.StatusOK, viewSplitBill(bill))
}
