package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Loyalty currency. Closed set: only points and cashback exist.
type Currency string

const (
	CurrencyPoints   Currency = "points"
	CurrencyCashback Currency = "cashback"
)

func (c Currency) Valid() bool {
	return c == CurrencyPoints || c == CurrencyCashback
}

const (
	TierBronze   = "bronze"
	TierSilver   = "silver"
	TierGold     = "gold"
	TierPlatinum = "platinum"
)

// Account is the materialized balance view for a single user.
// Balances are derived state: they must always equal the replay of the
// account's postings. Lifetime counters never decrease.
type Account struct {
	ID     uuid.UUID
	UserID uuid.UUID

	PointsBalance   decimal.Decimal
	CashbackBalance decimal.Decimal

	TotalPointsEarned   decimal.Decimal
	TotalPointsSpent    decimal.Decimal
	TotalCashbackEarned decimal.Decimal
	TotalCashbackSpent  decimal.Decimal

	// Assigned externally (marketing), never derived here
	CardTier string

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (a *Account) Balance(c Currency) decimal.Decimal {
	if c == CurrencyCashback {
		return a.CashbackBalance
	}
	return a.PointsBalance
}
