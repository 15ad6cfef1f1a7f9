package domain

import (
	"strings"
	"time"
	"unicode"
)

// ContactMethod is how a counterparty is addressed.
type ContactMethod string

const (
	ContactEmail    ContactMethod = "email"
	ContactPhone    ContactMethod = "phone"
	ContactUsername ContactMethod = "username"
	ContactQRCode   ContactMethod = "qr_code"
)

// Valid reports whether m is a known method.
func (m ContactMethod) Valid() bool {
	switch m {
	case ContactEmail, ContactPhone, ContactUsername, ContactQRCode:
		return true
	}
	return false
}

// ContactRef is an unresolved reference to a counterparty.
type ContactRef struct {
	Method ContactMethod `json:"method" validate:"required,oneof=email phone username qr_code"`
	Value  string        `json:"value" validate:"required,max=255"`
}

// Normalize lowercases emails and usernames and strips phone formatting so the
// same person always maps to the same contact.
func (r ContactRef) Normalize() ContactRef {
	v := strings.TrimSpace(r.Value)
	switch r.Method {
	case ContactEmail, ContactUsername:
		v = strings.ToLower(strings.TrimPrefix(v, "@"))
	case ContactPhone:
		var b strings.Builder
		for i, c := range v {
			if unicode.IsDigit(c) || (i == 0 && c == '+') {
				b.WriteRune(c)
			}
		}
		v = b.String()
	}
	return ContactRef{Method: r.Method, Value: v}
}

// Validate checks the reference is usable.
func (r ContactRef) Validate() error {
	if !r.Method.Valid() {
		return Validationf("unsupported contact method %q", r.Method)
	}
	if r.Value == "" {
		return Validationf("contact value is required")
	}
	if r.Method == ContactEmail && !strings.Contains(r.Value, "@") {
		return Validationf("invalid email address")
	}
	return nil
}

// Contact is a counterparty in a user's address book.
type Contact struct {
	ID                string        `json:"id"`
	OwnerUserID       string        `json:"owner_user_id"`
	Method            ContactMethod `json:"method"`
	Value             string        `json:"value"`
	DisplayName       string        `json:"display_name"`
	UserID            string        `json:"user_id,omitempty"`
	IsRegistered      bool          `json:"is_registered_user"`
	IsFavorite        bool          `json:"is_favorite"`
	TransactionCount  int           `json:"transaction_count"`
	LastTransactionAt *time.Time    `json:"last_transaction_at,omitempty"`
	CreatedAt         time.Time     `json:"created_at"`
	UpdatedAt         time.Time     `json:"updated_at"`
	Version           int64         `json:"version"`
}

// Ref returns the contact's reference.
func (c *Contact) Ref() ContactRef {
	return ContactRef{Method: c.Method, Value: c.Value}
}

// Touch records a transaction with this contact.
func (c *Contact) Touch(now time.Time) {
	c.TransactionCount++
	c.LastTransactionAt = &now
	c.UpdatedAt = now
}

// DefaultDisplayName derives a display name when the directory does not know one.
func DefaultDisplayName(ref ContactRef) string {
	switch ref.Method {
	case ContactEmail:
		local, _, _ := strings.Cut(ref.Value, "@")
		return titleCase(strings.NewReplacer(".", " ", "_", " ", "-", " ").Replace(local))
	case ContactPhone:
		digits := ref.Value
		if len(digits) > 4 {
			digits = digits[len(digits)-4:]
		}
		return "Contact " + digits
	case ContactUsername:
		return "@" + ref.Value
	}
	return ref.Value
}

func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		r := []rune(w)
		r[0] = unicode.ToUpper(r[0])
		words[i] = string(r)
	}
	return strings.Join(words, " ")
}
