package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type CertificateStatus string

const (
	CertificateActive    CertificateStatus = "active"
	CertificateUsed      CertificateStatus = "used"
	CertificateExpired   CertificateStatus = "expired"
	CertificateCancelled CertificateStatus = "cancelled"
)

// Certificate is a prepaid instrument with its own spend-down balance.
// It is a separate accounting domain: redemptions never touch loyalty
// accounts by themselves.
type Certificate struct {
	ID   uuid.UUID
	Code string

	InitialAmount decimal.Decimal
	CurrentAmount decimal.Decimal
	Currency      string // settlement currency code, "RUB" by default

	Status CertificateStatus

	// Nil until the certificate is handed to someone
	OwnerID  *uuid.UUID
	IssuedBy uuid.UUID

	IssuedAt   time.Time
	ValidFrom  time.Time
	ValidUntil time.Time
	UsedAt     *time.Time

	DesignTemplate string
	Message        *string
	Metadata       map[string]any
}

// Expired reports whether the validity window has passed at the given time.
// Status correction happens lazily on Verify/Redeem, so a stored status may
// lag behind this check.
func (c *Certificate) ExpiredAt(now time.Time) bool {
	return now.After(c.ValidUntil)
}

// CertificateTransfer is an immutable ownership change record.
type CertificateTransfer struct {
	ID            uuid.UUID
	CertificateID uuid.UUID
	FromUserID    *uuid.UUID
	ToUserID      uuid.UUID
	Message       *string
	TransferredAt time.Time
}

// CertificateRedemption is an immutable partial or full spend record.
// Sum of redemptions always equals initial minus current amount.
type CertificateRedemption struct {
	ID            uuid.UUID
	CertificateID uuid.UUID

	AmountUsed      decimal.Decimal
	RemainingAmount decimal.Decimal

	// Settlement document id in the clinic ERP
	ExternalDocID *string

	RedeemedBy uuid.UUID
	RedeemedAt time.Time
	Notes      *string
}
