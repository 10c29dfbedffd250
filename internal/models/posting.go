package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type PostingKind string

const (
	PostingAccrual    PostingKind = "accrual"
	PostingDeduction  PostingKind = "deduction"
	PostingRefund     PostingKind = "refund"
	PostingExpiration PostingKind = "expiration"
)

func (k PostingKind) Valid() bool {
	switch k {
	case PostingAccrual, PostingDeduction, PostingRefund, PostingExpiration:
		return true
	}
	return false
}

// Credit reports whether the kind increases the balance.
// Amounts are stored positive; the kind implies the sign.
func (k PostingKind) Credit() bool {
	return k == PostingAccrual || k == PostingRefund
}

// Inverse returns the kind a reversal posting gets, so that the ledger sum
// stays correct when both the original and the reversal are replayed.
func (k PostingKind) Inverse() PostingKind {
	if k.Credit() {
		return PostingDeduction
	}
	return PostingRefund
}

const (
	SourceVisit    = "visit"
	SourcePurchase = "purchase"
	SourceReferral = "referral"
	SourceManual   = "manual"
	SourceReversal = "reversal"
)

// Posting is a single immutable ledger entry. Committed postings are never
// updated or deleted; the only later mutation is the reversal cross-link.
type Posting struct {
	ID        uuid.UUID
	CreatedAt time.Time
	AccountID uuid.UUID

	Kind     PostingKind
	Amount   decimal.Decimal // always positive, sign implied by Kind
	Currency Currency

	Source      string
	SourceID    *string
	Description string
	Metadata    map[string]any

	// Unique when present; replays with the same key return this posting
	IdempotencyKey *string

	// ReversedBy is set on the original once a reversal exists,
	// Reverses is set on the reversal pointing back
	ReversedBy *uuid.UUID
	Reverses   *uuid.UUID

	CreatedBy *uuid.UUID
}

// SignedAmount is the balance delta this posting carried when applied.
func (p *Posting) SignedAmount() decimal.Decimal {
	if p.Kind.Credit() {
		return p.Amount
	}
	return p.Amount.Neg()
}
