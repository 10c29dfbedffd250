package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type ReferralEventType string

const (
	EventRegistration ReferralEventType = "registration"
	EventFirstVisit   ReferralEventType = "first_visit"
	EventPaidService  ReferralEventType = "paid_service"
	EventRepeatVisit  ReferralEventType = "repeat_visit"
)

func (t ReferralEventType) Valid() bool {
	switch t {
	case EventRegistration, EventFirstVisit, EventPaidService, EventRepeatVisit:
		return true
	}
	return false
}

type RewardType string

const (
	RewardFixed      RewardType = "fixed"
	RewardPercentage RewardType = "percentage"
	RewardPoints     RewardType = "points"
)

const (
	ReferrerPatient = "patient"
	ReferrerDoctor  = "doctor"
	ReferrerAny     = "any"
)

// ReferralCode ties milestone events of referred users back to a referrer.
// One active code per user; deactivatable but never deleted.
type ReferralCode struct {
	ID     uuid.UUID
	UserID uuid.UUID
	Code   string

	ReferrerType string // patient or doctor

	// Denormalized counters, updated in the event transaction
	TotalReferrals      int
	SuccessfulReferrals int
	TotalRevenue        decimal.Decimal

	IsActive  bool
	CreatedAt time.Time
}

// ReferralEvent is one lifecycle milestone of a referred user.
// Reward evaluation runs at most once per event.
type ReferralEvent struct {
	ID             uuid.UUID
	ReferralCodeID uuid.UUID
	ReferredUserID uuid.UUID

	EventType ReferralEventType

	// Required for percentage rules, absent otherwise
	TransactionAmount *decimal.Decimal

	// Document id in the clinic ERP, used for replay dedup
	ExternalDocID *string

	Processed  bool
	OccurredAt time.Time
	Metadata   map[string]any
}

// ReferralReward is an immutable payout record linking an event to the
// ledger posting it produced.
type ReferralReward struct {
	ID              uuid.UUID
	EventID         uuid.UUID
	RecipientUserID uuid.UUID

	RewardType   RewardType
	RewardAmount decimal.Decimal

	ReferralLevel int

	PostingID *uuid.UUID
	AwardedAt time.Time
}

// RewardRule maps an event type and referrer type to a payout formula.
// All matching active rules fire independently; there is no priority order.
type RewardRule struct {
	ID          uuid.UUID
	Name        string
	Description *string

	EventType    ReferralEventType
	ReferrerType string // patient, doctor or any

	RewardType  RewardType
	RewardValue decimal.Decimal

	AppliesToLevel int

	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Matches reports whether the rule applies to a code's referrer type.
func (r *RewardRule) Matches(referrerType string) bool {
	return r.ReferrerType == ReferrerAny || r.ReferrerType == referrerType
}

// RewardAmountFor computes the payout for an event transaction amount.
// Returns ok=false when the rule can't produce a reward (percentage rule
// without a transaction amount).
func (r *RewardRule) RewardAmountFor(transactionAmount *decimal.Decimal) (decimal.Decimal, bool) {
	switch r.RewardType {
	case RewardFixed, RewardPoints:
		return r.RewardValue, true
	case RewardPercentage:
		if transactionAmount == nil {
			return decimal.Decimal{}, false
		}
		return transactionAmount.Mul(r.RewardValue).Div(decimal.NewFromInt(100)), true
	}
	return decimal.Decimal{}, false
}

// RewardCurrency is points for points rules, cashback otherwise.
func (r *RewardRule) RewardCurrency() Currency {
	if r.RewardType == RewardPoints {
		return CurrencyPoints
	}
	return CurrencyCashback
}
