package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/postika/auth/internal/config"
	"github.com/postika/auth/internal/domain"
	"github.com/postika/auth/internal/password"
	"github.com/postika/auth/internal/referral"
	"github.com/postika/auth/internal/repository"
)

// EnsureAdmin creates a default super admin for dev/e2e if ADMIN_EMAIL and
// ADMIN_PASSWORD are configured. Without them this is a no-op.
func EnsureAdmin(lc fx.Lifecycle, cfg config.Config, users repository.UserRepository, referrals *referral.Service, node *snowflake.Node, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return ensureAdmin(ctx, cfg, users, referrals, node, logger)
		},
	})
}

func ensureAdmin(ctx context.Context, cfg config.Config, users repository.UserRepository, referrals *referral.Service, node *snowflake.Node, logger *zap.Logger) error {
	email := strings.ToLower(strings.TrimSpace(cfg.AdminEmail))
	if email == "" || cfg.AdminPassword == "" {
		return nil
	}

	if _, err := users.GetByEmail(ctx, email); err == nil {
		return nil
	} else if !errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("bootstrap lookup admin: %w", err)
	}

	hashed, err := password.Hash(cfg.AdminPassword)
	if err != nil {
		return fmt.Errorf("bootstrap hash password: %w", err)
	}

	now := time.Now().UTC()
	created, err := users.Create(ctx, domain.User{
		ID:              node.Generate().Int64(),
		Email:           email,
		FirstName:       "Admin",
		PhoneNumber:     "admin:" + email,
		HashedPassword:  hashed,
		Role:            domain.RoleSuperAdmin,
		Tier:            domain.TierNdovu,
		IsActive:        true,
		IsEmailVerified: true,
		ReferralCode:    referrals.NewCode(),
		AcceptedTerms:   true,
		TrialStartsAt:   now,
		TrialExpiresAt:  now.AddDate(0, 0, cfg.TrialPeriodDays),
	})
	if err != nil {
		return fmt.Errorf("bootstrap create admin: %w", err)
	}

	logger.Info("bootstrap admin user created",
		zap.String("email", created.Email),
		zap.Int64("user_id", created.ID),
	)
	return nil
}
