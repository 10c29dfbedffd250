package models

import (
	"time"

	"github.com/google/uuid"
)

// AuditRecord captures the net effect of a mutating operation:
// who did what to which entity, with before/after snapshots.
type AuditRecord struct {
	ID        uuid.UUID
	CreatedAt time.Time

	UserID *uuid.UUID

	Action     string // accrue_points, redeem_certificate, ...
	EntityType string // posting, certificate, referral_event, ...
	EntityID   *uuid.UUID

	OldValues map[string]any
	NewValues map[string]any
}
