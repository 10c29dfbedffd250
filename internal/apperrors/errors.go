package apperrors

import (
	"errors"
)

var (
	ErrUserAlreadyExists = errors.New("user already exists")
	ErrUserNotFound      = errors.New("user not found")

	ErrAccountNotFound     = errors.New("loyalty account not found")
	ErrInsufficientBalance = errors.New("insufficient balance")

	ErrPostingNotFound        = errors.New("posting not found")
	ErrPostingAlreadyReversed = errors.New("posting already reversed")
	ErrAmountNotPositive      = errors.New("amount must be positive")
	ErrInvalidCurrency        = errors.New("unknown currency")
	ErrInvalidPostingKind     = errors.New("unknown posting kind")
	ErrInvalidEventType       = errors.New("unknown referral event type")
	ErrInvalidRewardType      = errors.New("unknown reward type")

	ErrCertificateNotFound     = errors.New("certificate not found")
	ErrCertificateNotActive    = errors.New("certificate is not active")
	ErrCertificateExpired      = errors.New("certificate expired")
	ErrCertificateInsufficient = errors.New("insufficient certificate balance")
	ErrCertificateNotOwner     = errors.New("certificate belongs to another user")
	ErrCertificateCodeTaken    = errors.New("certificate code already exists")

	ErrRuleNotFound = errors.New("reward rule not found")

	ErrReferralCodeNotFound = errors.New("referral code not found or inactive")
	ErrReferralCodeTaken    = errors.New("referral code already in use")
	ErrSelfReferral         = errors.New("own referral code can't be used")
)
