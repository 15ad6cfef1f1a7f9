package events

import (
	"encoding/json"
	"time"

	"github.com/oklog/ulid/v2"
)

// Event represents a domain event envelope
type Event struct {
	ID            string          `json:"event_id"`
	Type          string          `json:"type"`
	Version       int             `json:"version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	UserID        string          `json:"user_id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	Data          json.RawMessage `json:"data"`
}

// NewEvent creates a new event addressed to userID
func NewEvent(eventType, userID, aggregateType, aggregateID string, data any) (*Event, error) {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	return &Event{
		ID:            ulid.Make().String(),
		Type:          eventType,
		Version:       1,
		OccurredAt:    time.Now().UTC(),
		UserID:        userID,
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		Data:          dataBytes,
	}, nil
}

// WithCorrelation sets the correlation ID
func (e *Event) WithCorrelation(correlationID string) *Event {
	e.CorrelationID = correlationID
	return e
}

// DecodeData decodes the event data into a struct
func (e *Event) DecodeData(v any) error {
	return json.Unmarshal(e.Data, v)
}

// P2P event types
const (
	EventMoneyReceived        = "p2p.money.received"
	EventTransferCompleted    = "p2p.transfer.completed"
	EventTransferPendingClaim = "p2p.transfer.pending_claim"
	EventTransferFailed       = "p2p.transfer.failed"
	EventTransferCancelled    = "p2p.transfer.cancelled"
	EventTransferExpired      = "p2p.transfer.expired"

	EventRequestReceived  = "p2p.request.received"
	EventRequestPaid      = "p2p.request.paid"
	EventRequestDeclined  = "p2p.request.declined"
	EventRequestCancelled = "p2p.request.cancelled"

	EventSplitBillCreated   = "p2p.split.created"
	EventSplitBillCollected = "p2p.split.collected"

	EventLinkPaid = "p2p.link.paid"
)

// Aggregate types
const (
	AggregateTransaction = "transaction"
	AggregateRequest     = "money_request"
	AggregateSplitBill   = "split_bill"
	AggregateLink        = "payment_link"
)

// TransferData is the payload of transfer events
type TransferData struct {
	TransactionID  string `json:"transaction_id"`
	Kind           string `json:"kind"`
	Status         string `json:"status"`
	Amount         string `json:"amount"`
	Currency       string `json:"currency"`
	CounterpartyID string `json:"counterparty_id,omitempty"`
	Message        string `json:"message,omitempty"`
	Reason         string `json:"reason,omitempty"`
}

// RequestData is the payload of money request events
type RequestData struct {
	RequestID   string `json:"request_id"`
	RequesterID string `json:"requester_id"`
	Amount      string `json:"amount"`
	Currency    string `json:"currency"`
	Description string `json:"description,omitempty"`
	Status      string `json:"status"`
}

// SplitBillData is the payload of split bill events
type SplitBillData struct {
	SplitBillID string `json:"split_bill_id"`
	Title       string `json:"title"`
	Share       string `json:"share,omitempty"`
	Total       string `json:"total"`
	Currency    string `json:"currency"`
}

// LinkPaidData is the payload of p2p.link.paid
type LinkPaidData struct {
	LinkID        string `json:"link_id"`
	TransactionID string `json:"transaction_id"`
	Amount        string `json:"amount"`
	Currency      string `json:"currency"`
	PayerName     string `json:"payer_name,omitempty"`
}
