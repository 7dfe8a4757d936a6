// Package verification runs the email verification workflow: a 6-digit
// single-use code is queued for delivery and, on confirmation, flips
// is_email_verified exactly once.
package verification

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"math/big"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"

	"github.com/postika/auth/internal/domain"
	"github.com/postika/auth/internal/notify"
	"github.com/postika/auth/internal/repository"
)

const codeDigits = 6

// Service issues and confirms email verification codes.
type Service struct {
	users  repository.UserRepository
	codes  repository.VerificationRepository
	queue  notify.Enqueuer
	node   *snowflake.Node
	ttl    time.Duration
	logger *zap.Logger
}

// NewService wires dependencies. ttl bounds how long an issued code stays
// confirmable.
func NewService(users repository.UserRepository, codes repository.VerificationRepository, queue notify.Enqueuer, node *snowflake.Node, ttl time.Duration, logger *zap.Logger) *Service {
	return &Service{
		users:  users,
		codes:  codes,
		queue:  queue,
		node:   node,
		ttl:    ttl,
		logger: logger,
	}
}

// Request issues a fresh code for the user and queues it for delivery. The
// caller does not observe delivery success or failure.
func (s *Service) Request(ctx context.Context, user domain.User) error {
	if user.IsEmailVerified {
		return domain.ErrInvalidRequest("Email is already verified.")
	}

	code := newCode()
	if _, err := s.codes.Create(ctx, domain.EmailVerification{
		ID:        s.node.Generate().Int64(),
		UserID:    user.ID,
		Code:      code,
		ExpiresAt: time.Now().UTC().Add(s.ttl),
	}); err != nil {
		return fmt.Errorf("store verification code: %w", err)
	}

	if err := s.queue.Enqueue(ctx, notify.Task{Email: user.Email, Code: code}); err != nil {
		// The code is stored; the user can request another delivery.
		s.logger.Warn("enqueue verification delivery failed",
			zap.Int64("user_id", user.ID),
			zap.Error(err),
		)
	}
	return nil
}

// Confirm checks the supplied code and marks the email verified. Confirming
// an already-verified account is a no-op.
func (s *Service) Confirm(ctx context.Context, user domain.User, code string) error {
	if user.IsEmailVerified {
		return nil
	}

	active, err := s.codes.GetLatestActive(ctx, user.ID)
	if err != nil {
		return domain.ErrInvalidRequest("No active verification code.")
	}
	if time.Now().UTC().After(active.ExpiresAt) {
		return domain.ErrInvalidRequest("Verification code expired.")
	}
	if subtle.ConstantTimeCompare([]byte(code), []byte(active.Code)) != 1 {
		return domain.ErrInvalidRequest("Invalid verification code.")
	}

	if err := s.codes.MarkUsed(ctx, active.ID); err != nil {
		return fmt.Errorf("consume verification code: %w", err)
	}
	if err := s.users.SetEmailVerified(ctx, user.ID); err != nil {
		return fmt.Errorf("set email verified: %w", err)
	}

	s.logger.Info("email verified", zap.Int64("user_id", user.ID))
	return nil
}

func newCode() string {
	max := big.NewInt(10)
	digits := make([]byte, codeDigits)
	for i := range digits {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			panic(err)
		}
		digits[i] = byte('0' + n.Int64())
	}
	return string(digits)
}
