package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	RolePatient = "patient"
	RoleDoctor  = "doctor"
	RoleCashier = "cashier"
	RoleAdmin   = "admin"
)

type User struct {
	ID           uuid.UUID
	CreatedAt    time.Time
	Email        string
	FullName     string
	PasswordHash string
	Role         string
	// Patient id in the clinic ERP, set when the user is synced from 1C
	ExternalID *string
	IsActive   bool
}

// Staff users may act on other users accounts and certificates
func (u *User) IsStaff() bool {
	return u.Role == RoleCashier || u.Role == RoleAdmin
}
