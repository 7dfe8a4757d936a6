package service

import (
	"time"

	"github.com/postika/auth/internal/domain"
)

// RegisterInput is the registration payload after request parsing.
type RegisterInput struct {
	Email                string
	FirstName            string
	LastName             string
	CountryCode          string
	PhoneNumber          string
	Password             string
	Tier                 domain.Tier
	ReferralCode         string
	AcceptsNotifications bool
	AcceptedTerms        bool
}

// TokenResponse is the login payload.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// UserView is the safe projection of a user record. It never carries the
// password digest.
type UserView struct {
	ID              int64       `json:"id"`
	Email           string      `json:"email"`
	FirstName       string      `json:"first_name"`
	LastName        string      `json:"last_name"`
	Tier            domain.Tier `json:"tier"`
	IsEmailVerified bool        `json:"is_email_verified"`
	TrialExpiresAt  time.Time   `json:"trial_expires_at"`
	CreatedAt       time.Time   `json:"created_at"`
}

// NewUserView projects a user record for API responses.
func NewUserView(user domain.User) UserView {
	return UserView{
		ID:              user.ID,
		Email:           user.Email,
		FirstName:       user.FirstName,
		LastName:        user.LastName,
		Tier:            user.Tier,
		IsEmailVerified: user.IsEmailVerified,
		TrialExpiresAt:  user.TrialExpiresAt,
		CreatedAt:       user.CreatedAt,
	}
}
