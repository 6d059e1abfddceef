package model

import (
	"strings"
	"time"

	"quiz-subscription-engine/internal/domain"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

var validate = validator.New()

// Account is a person who has taken at least one quiz or started a checkout.
// Accounts are never hard-deleted.
type Account struct {
	ID          string `validate:"required"`
	Email       string `validate:"required,email,max=254"`
	DisplayName string `validate:"max=120"`
	LastScore   *int
	// CustomerRef is the provider-side customer profile, when the provider has one.
	CustomerRef *string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// NormalizeEmail lower-cases and trims an address; emails are unique case-insensitively.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func NewAccount(id, email, displayName string) (*Account, error) {
	if id == "" {
		id = uuid.NewString()
	}
	now := time.Now()
	a := &Account{
		ID:          id,
		Email:       NormalizeEmail(email),
		DisplayName: strings.TrimSpace(displayName),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := validate.Struct(a); err != nil {
		return nil, domain.ErrInvalidArgument
	}
	return a, nil
}

func (a *Account) IsZero() bool { return a == nil || a.ID == "" }
