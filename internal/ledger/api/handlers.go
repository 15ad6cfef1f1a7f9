// Package api serves the wallet side of the ledger: opening wallets, reading
// balances and entries, and crediting test funds.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"p2pplatform/internal/common/api"
	"p2pplatform/internal/common/database"
	"p2pplatform/internal/common/middleware"
	"p2pplatform/internal/common/money"
	"p2pplatform/internal/ledger"
	"p2pplatform/internal/ledger/domain"
)

// Wallets is implemented by ledger.Service and ledger.Memory.
type Wallets interface {
	CreateWallet(ctx context.Context, req ledger.CreateWalletRequest) (*domain.Account, error)
	GetAccount(ctx context.Context, id string) (*domain.Account, error)
	ListAccounts(ctx context.Context, ownerUserID string) ([]*domain.Account, error)
	GetBalance(ctx context.Context, accountID string) (ledger.Balance, error)
	GetAccountEntries(ctx context.Context, accountID string, limit, offset int) ([]*domain.Entry, int64, error)
	Deposit(ctx context.Context, accountID string, amount money.Money, reference string) (*domain.Batch, error)
}

// Handler handles ledger HTTP requests
type Handler struct {
	wallets       Wallets
	allowDeposits bool
	logger        *slog.Logger
}

// NewHandler creates a new ledger handler. Deposits are only routed when
// allowDeposits is set.
func NewHandler(wallets Wallets, allowDeposits bool, logger *slog.Logger) *Handler {
	return &Handler{wallets: wallets, allowDeposits: allowDeposits, logger: logger}
}

// Routes returns the ledger routes. Every route expects an authenticated user.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/accounts", h.CreateAccount)
	r.Get("/accounts", h.ListAccounts)
	r.Get("/accounts/{id}", h.GetAccount)
	r.Get("/accounts/{id}/balance", h.GetAccountBalance)
	r.Get("/accounts/{id}/entries", h.GetAccountEntries)
	if h.allowDeposits {
		r.Post("/accounts/{id}/deposits", h.Deposit)
	}

	return r
}

// CreateAccountRequest is the API request for opening a wallet
type CreateAccountRequest struct {
	Name     string `json:"name" validate:"required,max=255"`
	Currency string `json:"currency" validate:"required,len=3"`
}

// CreateAccount handles POST /accounts
func (h *Handler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		api.Unauthorized(w, "authentication required")
		return
	}

	var req CreateAccountRequest
	if err := api.DecodeAndValidate(r, &req); err != nil {
		api.ValidationError(w, err)
		return
	}
	currency := money.Currency(req.Currency)
	if !currency.Valid() {
		api.WriteError(w, http.StatusUnprocessableEntity, api.ErrCodeValidation, "unsupported currency")
		return
	}

	account, err := h.wallets.CreateWallet(r.Context(), ledger.CreateWalletRequest{
		OwnerUserID: userID,
		Name:        req.Name,
		Currency:    currency,
	})
	if err != nil {
		if errors.Is(err, database.ErrAlreadyExists) {
			api.Conflict(w, "account already exists")
			return
		}
		h.internal(w, r, "create account", err)
		return
	}

	api.WriteData(w, http.StatusCreated, account)
}

// ListAccounts handles GET /accounts
func (h *Handler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.wallets.ListAccounts(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		h.internal(w, r, "list accounts", err)
		return
	}
	if accounts == nil {
		accounts = []*domain.Account{}
	}
	api.WriteData(w, http.StatusOK, accounts)
}

// GetAccount handles GET /accounts/{id}
func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	account, ok := h.ownedAccount(w, r)
	if !ok {
		return
	}
	api.WriteData(w, http.StatusOK, account)
}

// GetAccountBalance handles GET /accounts/{id}/balance
func (h *Handler) GetAccountBalance(w http.ResponseWriter, r *http.Request) {
	account, ok := h.ownedAccount(w, r)
	if !ok {
		return
	}
	balance, err := h.wallets.GetBalance(r.Context(), account.ID)
	if err != nil {
		h.internal(w, r, "get balance", err)
		return
	}
	api.WriteData(w, http.StatusOK, balance)
}

// GetAccountEntries handles GET /accounts/{id}/entries
func (h *Handler) GetAccountEntries(w http.ResponseWriter, r *http.Request) {
	account, ok := h.ownedAccount(w, r)
	if !ok {
		return
	}
	page := api.GetPaginationParams(r, 50, 100)
	entries, total, err := h.wallets.GetAccountEntries(r.Context(), account.ID, page.Limit, page.Offset)
	if err != nil {
		h.internal(w, r, "list entries", err)
		return
	}
	api.WritePaginated(w, entries, api.NewPagination(page, int(total)))
}

// DepositRequest credits a wallet from the platform cash account.
type DepositRequest struct {
	Amount    string `json:"amount" validate:"required"`
	Reference string `json:"reference" validate:"max=255"`
}

// Deposit handles POST /accounts/{id}/deposits
func (h *Handler) Deposit(w http.ResponseWriter, r *http.Request) {
	account, ok := h.ownedAccount(w, r)
	if !ok {
		return
	}
	var req DepositRequest
	if err := api.DecodeAndValidate(r, &req); err != nil {
		api.ValidationError(w, err)
		return
	}
	amount, err := money.Parse(req.Amount, account.Currency)
	if err != nil || !amount.IsPositive() {
		api.WriteError(w, http.StatusUnprocessableEntity, api.ErrCodeValidation, "amount must be a positive decimal")
		return
	}

	batch, err := h.wallets.Deposit(r.Context(), account.ID, amount, req.Reference)
	if err != nil {
		h.internal(w, r, "deposit", err)
		return
	}
	h.logger.Info("deposit posted", "account_id", account.ID, "amount", amount.String(), "batch_id", batch.ID)

	balance, err := h.wallets.GetBalance(r.Context(), account.ID)
	if err != nil {
		h.internal(w, r, "get balance", err)
		return
	}
	api.WriteData(w, http.StatusCreated, balance)
}

// ownedAccount loads the {id} account. Accounts owned by someone else are
// reported as missing.
func (h *Handler) ownedAccount(w http.ResponseWriter, r *http.Request) (*domain.Account, bool) {
	id := chi.URLParam(r, "id")
	if id == "" {
		api.BadRequest(w, "account ID required")
		return nil, false
	}
	account, err := h.wallets.GetAccount(r.Context(), id)
	if errors.Is(err, domain.ErrAccountNotFound) {
		api.NotFound(w, "account not found")
		return nil, false
	}
	if err != nil {
		h.internal(w, r, "get account", err)
		return nil, false
	}
	if account.OwnerUserID == "" || account.OwnerUserID != middleware.GetUserID(r.Context()) {
		api.NotFound(w, "account not found")
		return nil, false
	}
	return account, true
}

func (h *Handler) internal(w http.ResponseWriter, r *http.Request, op string, err error) {
	correlationID := middleware.GetCorrelationID(r.Context())
	h.logger.Error(op+" failed", "error", err, "correlation_id", correlationID)
	api.WriteInternal(w, correlationID)
}
