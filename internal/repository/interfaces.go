package repository

import (
	"context"
	"errors"

	"github.com/postika/auth/internal/domain"
)

// ErrNotFound is returned when a lookup matches no record.
var ErrNotFound = errors.New("record not found")

// DuplicateError reports a uniqueness constraint violation on Field. The
// database constraint is the authoritative guard; service-level existence
// checks are only a fast path for better error messages.
type DuplicateError struct {
	Field string
}

func (e *DuplicateError) Error() string {
	return "duplicate value for " + e.Field
}

// UserRepository exposes persistence for user records.
type UserRepository interface {
	GetByID(ctx context.Context, id int64) (domain.User, error)
	GetByEmail(ctx context.Context, email string) (domain.User, error)
	GetByPhone(ctx context.Context, phone string) (domain.User, error)
	GetByReferralCode(ctx context.Context, code string) (domain.User, error)
	Create(ctx context.Context, user domain.User) (domain.User, error)
	SetEmailVerified(ctx context.Context, userID int64) error
	SetPassword(ctx context.Context, userID int64, hashedPassword string) error
	UpdateTier(ctx context.Context, userID int64, tier domain.Tier) error
}

// ReferralRepository persists referral reward bookkeeping.
type ReferralRepository interface {
	Create(ctx context.Context, referral domain.Referral) (domain.Referral, error)
	GetByReferredID(ctx context.Context, referredID int64) (domain.Referral, error)
}

// VerificationRepository stores single-use email verification codes.
type VerificationRepository interface {
	Create(ctx context.Context, v domain.EmailVerification) (domain.EmailVerification, error)
	GetLatestActive(ctx context.Context, userID int64) (domain.EmailVerification, error)
	MarkUsed(ctx context.Context, id int64) error
}

// AuditRepository appends to the audit trail.
type AuditRepository interface {
	Record(ctx context.Context, entry domain.AuditEntry) error
}
