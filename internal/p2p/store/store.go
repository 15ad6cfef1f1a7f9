// Package store persists P2P entities. Every Update is a compare-and-swap on
// the entity's Version: it succeeds only if nobody else wrote since the entity
// was loaded, and bumps Version on success.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"p2pplatform/internal/common/database"
	"p2pplatform/internal/p2p/domain"
)

// Errors shared by every implementation.
var (
	ErrNotFound        = database.ErrNotFound
	ErrDuplicate       = database.ErrAlreadyExists
	ErrVersionConflict = database.ErrConflict
)

// Direction filters lists by the caller's role.
type Direction string

const (
	DirectionAll Direction = "all"
	// Transactions
	DirectionSent     Direction = "sent"
	DirectionReceived Direction = "received"
	// Requests
	DirectionIncoming Direction = "incoming"
	DirectionOutgoing Direction = "outgoing"
)

// Page bounds a list query.
type Page struct {
	Limit  int
	Offset int
}

// TransactionFilter selects transactions visible to UserID.
type TransactionFilter struct {
	UserID    string
	Direction Direction
	Statuses  []domain.TransactionStatus
	Kind      domain.TransactionKind
	From, To  *time.Time
	Page
}

// RequestFilter selects requests visible to UserID.
type RequestFilter struct {
	UserID    string
	Direction Direction
	Status    domain.RequestStatus
	Page
}

// Store is the repository used by the engines and the settlement worker.
type Store interface {
	CreateContact(ctx context.Context, c *domain.Contact) error
	GetContact(ctx context.Context, id string) (*domain.Contact, error)
	FindContact(ctx context.Context, ownerUserID string, ref domain.ContactRef) (*domain.Contact, error)
	UpdateContact(ctx context.Context, c *domain.Contact) error
	ListContacts(ctx context.Context, ownerUserID string, favoritesOnly bool) ([]*domain.Contact, error)

	CreateTransaction(ctx context.Context, tx *domain.Transaction) error
	GetTransaction(ctx context.Context, id string) (*domain.Transaction, error)
	GetTransactionByIdempotencyKey(ctx context.Context, senderUserID, key string) (*domain.Transaction, error)
	UpdateTransaction(ctx context.Context, tx *domain.Transaction) error
	ListTransactions(ctx context.Context, f TransactionFilter) ([]*domain.Transaction, int, error)
	ListStalePending(ctx context.Context, updatedBefore time.Time, limit int) ([]*domain.Transaction, error)
	ListExpiredSent(ctx context.Context, now time.Time, limit int) ([]*domain.Transaction, error)
	// ListLedgerPending returns decided transactions whose commit or release
	// has not gone through, untouched since updatedBefore.
	ListLedgerPending(ctx context.Context, updatedBefore time.Time, limit int) ([]*domain.Transaction, error)

	CreateRequest(ctx context.Context, r *domain.MoneyRequest) error
	GetRequest(ctx context.Context, id string) (*domain.MoneyRequest, error)
	UpdateRequest(ctx context.Context, r *domain.MoneyRequest) error
	ListRequests(ctx context.Context, f RequestFilter) ([]*domain.MoneyRequest, int, error)
	CountPendingRequests(ctx context.Context, userID string, dir Direction) (int, error)
	ListExpiredRequests(ctx context.Context, now time.Time, limit int) ([]*domain.MoneyRequest, error)

	// CreateSplitBill stores the bill and its linked requests atomically.
	CreateSplitBill(ctx context.Context, bill *domain.SplitBill, requests []*domain.MoneyRequest) error
	GetSplitBill(ctx context.Context, id string) (*domain.SplitBill, error)
	UpdateSplitBill(ctx context.Context, bill *domain.SplitBill) error
	ListSplitBills(ctx context.Context, userID string, activeOnly bool, p Page) ([]*domain.SplitBill, error)

	CreateLink(ctx context.Context, l *domain.PaymentLink) error
	GetLink(ctx context.Context, id string) (*domain.PaymentLink, error)
	GetLinkByPublicID(ctx context.Context, publicID string) (*domain.PaymentLink, error)
	UpdateLink(ctx context.Context, l *domain.PaymentLink) error
	ListLinks(ctx context.Context, ownerUserID string, p Page) ([]*domain.PaymentLink, error)
	ListExpiredLinks(ctx context.Context, now time.Time, limit int) ([]*domain.PaymentLink, error)

	Ping(ctx context.Context) error
	Close() error
}

func encode(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding document: %w", err)
	}
	return data, nil
}

func decode[T any](data []byte) (*T, error) {
	v := new(T)
	if err := json.Unmarshal(data, v); err != nil {
		return nil, fmt.Errorf("decoding document: %w", err)
	}
	return v, nil
}

// txDirections returns the sender/recipient match for a transaction filter.
func txDirections(d Direction) (sent, received bool) {
	switch d {
	case DirectionSent:
		return true, false
	case DirectionReceived:
		return false, true
	default:
		return true, true
	}
}

// requestDirections returns the requester/payer match for a request filter.
func requestDirections(d Direction) (outgoing, incoming bool) {
	switch d {
	case DirectionOutgoing:
		return true, false
	case DirectionIncoming:
		return false, true
	default:
		return true, true
	}
}

func statusStrings(s []domain.TransactionStatus) []string {
	out := make([]string, len(s))
	for i, v := range s {
		out[i] = string(v)
	}
	return out
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// checkTotals guards the Amount+Fee invariant on every write.
func checkTotals(tx *domain.Transaction) error {
	if err := tx.CheckTotals(); err != nil {
		return fmt.Errorf("refusing to store transaction: %w", err)
	}
	return nil
}
