// Package referral owns referral codes and reward bookkeeping. It is a
// downstream consumer of a successful registration; the credential lifecycle
// never depends on its results.
package referral

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"

	"github.com/postika/auth/internal/domain"
	"github.com/postika/auth/internal/repository"
)

// Code alphabet excludes look-alike characters (0/O, 1/I/L).
const (
	codeLength  = 8
	codeCharset = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"
)

// Service assigns shareable codes and books rewards for redemptions.
type Service struct {
	users     repository.UserRepository
	referrals repository.ReferralRepository
	node      *snowflake.Node
	rewardKES int
	logger    *zap.Logger
}

// NewService wires dependencies. rewardKES is snapshotted onto each referral
// row at creation.
func NewService(users repository.UserRepository, referrals repository.ReferralRepository, node *snowflake.Node, rewardKES int, logger *zap.Logger) *Service {
	return &Service{
		users:     users,
		referrals: referrals,
		node:      node,
		rewardKES: rewardKES,
		logger:    logger,
	}
}

// NewCode returns a fresh shareable code. Uniqueness is guaranteed by the
// database constraint, not here; collisions on an 8-character alphabet are
// rare enough that the insert path retries instead.
func (s *Service) NewCode() string {
	var b strings.Builder
	b.Grow(codeLength)
	max := big.NewInt(int64(len(codeCharset)))
	for i := 0; i < codeLength; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			panic(err)
		}
		b.WriteByte(codeCharset[n.Int64()])
	}
	return b.String()
}

// Resolve finds the owner of a shared code.
func (s *Service) Resolve(ctx context.Context, code string) (domain.User, error) {
	normalized := strings.ToUpper(strings.TrimSpace(code))
	if normalized == "" {
		return domain.User{}, repository.ErrNotFound
	}
	return s.users.GetByReferralCode(ctx, normalized)
}

// Award records the referral edge and its reward snapshot after the referred
// user has been created.
func (s *Service) Award(ctx context.Context, referrerID, referredID int64) (domain.Referral, error) {
	created, err := s.referrals.Create(ctx, domain.Referral{
		ID:              s.node.Generate().Int64(),
		ReferrerID:      referrerID,
		ReferredID:      referredID,
		RewardAmountKES: s.rewardKES,
		RewardPaid:      false,
	})
	if err != nil {
		return domain.Referral{}, fmt.Errorf("award referral: %w", err)
	}
	s.logger.Info("referral recorded",
		zap.Int64("referrer_id", referrerID),
		zap.Int64("referred_id", referredID),
		zap.Int("reward_kes", created.RewardAmountKES),
	)
	return created, nil
}
