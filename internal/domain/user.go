package domain

import "time"

// Role describes the authorization bucket a user belongs to. Authorization
// beyond active/inactive gating lives outside this service.
type Role string

const (
	RoleClient      Role = "client"
	RoleSalesperson Role = "salesperson"
	RoleAdmin       Role = "admin"
	RoleSuperAdmin  Role = "super_admin"
)

// Tier is the subscription level granted to a user.
type Tier string

const (
	TierSungura Tier = "sungura"
	TierSwara   Tier = "swara"
	TierNdovu   Tier = "ndovu"
)

// ValidTier reports whether t is one of the known tiers.
func ValidTier(t Tier) bool {
	switch t {
	case TierSungura, TierSwara, TierNdovu:
		return true
	}
	return false
}

// User is an account record. HashedPassword never holds a plaintext password.
type User struct {
	ID                   int64
	Email                string
	FirstName            string
	LastName             string
	CountryCode          string
	PhoneNumber          string
	HashedPassword       string
	Role                 Role
	Tier                 Tier
	IsActive             bool
	IsEmailVerified      bool
	ReferralCode         string
	ReferredByID         *int64
	AcceptsNotifications bool
	AcceptedTerms        bool
	TrialStartsAt        time.Time
	TrialExpiresAt       time.Time
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// Referral records a successful redemption of a referral code. The reward
// amount is snapshotted at creation so later config changes do not rewrite
// history.
type Referral struct {
	ID              int64
	ReferrerID      int64
	ReferredID      int64
	RewardAmountKES int
	RewardPaid      bool
	TriggeredAt     *time.Time
	CreatedAt       time.Time
}

// EmailVerification is a single-use code mailed to a user.
type EmailVerification struct {
	ID        int64
	UserID    int64
	Code      string
	ExpiresAt time.Time
	Used      bool
	CreatedAt time.Time
}

// AuditEntry is one row of the append-only audit trail. ActorID is nil for
// system actions.
type AuditEntry struct {
	ID           int64
	ActorID      *int64
	ActionType   string
	ResourceType string
	ResourceID   string
	Metadata     map[string]any
	CreatedAt    time.Time
}
