package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/postika/auth/internal/audit"
	"github.com/postika/auth/internal/config"
	"github.com/postika/auth/internal/domain"
	pw "github.com/postika/auth/internal/password"
	"github.com/postika/auth/internal/referral"
	"github.com/postika/auth/internal/repository"
	"github.com/postika/auth/internal/token"
	"github.com/postika/auth/internal/verification"
)

// Referral code collisions are resolved by regenerating; the unique
// constraint is the arbiter.
const maxReferralCodeAttempts = 3

// AuthService is the credential lifecycle orchestrator: register,
// authenticate, resolve-current-user. Each call is a one-shot transition over
// the identity store; there is no multi-step handshake.
type AuthService struct {
	users         repository.UserRepository
	referrals     *referral.Service
	verifications *verification.Service
	auditor       *audit.Recorder
	node          *snowflake.Node
	tokens        *token.Service
	cfg           config.Config
	logger        *zap.Logger
	tracer        trace.Tracer
}

// NewAuthService wires dependencies.
func NewAuthService(users repository.UserRepository, referrals *referral.Service, verifications *verification.Service, auditor *audit.Recorder, node *snowflake.Node, tokens *token.Service, cfg config.Config, logger *zap.Logger) *AuthService {
	return &AuthService{
		users:         users,
		referrals:     referrals,
		verifications: verifications,
		auditor:       auditor,
		node:          node,
		tokens:        tokens,
		cfg:           cfg,
		logger:        logger,
		tracer:        otel.Tracer("github.com/postika/auth/internal/service"),
	}
}

// Register creates a new account. Email and phone uniqueness is pre-checked
// for a precise error, then enforced by the database constraints so a lost
// race still surfaces as AlreadyExists with no partial insert.
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (domain.User, error) {
	ctx, span := s.startSpan(ctx, "AuthService.Register")
	defer span.End()

	email := normalizeEmail(in.Email)
	phone := strings.TrimSpace(in.PhoneNumber)
	if email == "" {
		return domain.User{}, domain.ErrInvalidRequest("Email is required.")
	}
	if phone == "" {
		return domain.User{}, domain.ErrInvalidRequest("Phone number is required.")
	}
	if !in.AcceptedTerms {
		return domain.User{}, domain.ErrInvalidRequest("Terms must be accepted to complete signup.")
	}

	tier := in.Tier
	if tier == "" {
		tier = domain.TierSungura
	}
	if !domain.ValidTier(tier) {
		return domain.User{}, domain.ErrInvalidRequest("Unknown tier.")
	}

	if _, err := s.users.GetByEmail(ctx, email); err == nil {
		return domain.User{}, domain.ErrAlreadyExists("email")
	} else if !errors.Is(err, repository.ErrNotFound) {
		span.RecordError(err)
		return domain.User{}, fmt.Errorf("check existing email: %w", err)
	}
	if _, err := s.users.GetByPhone(ctx, phone); err == nil {
		return domain.User{}, domain.ErrAlreadyExists("phone_number")
	} else if !errors.Is(err, repository.ErrNotFound) {
		span.RecordError(err)
		return domain.User{}, fmt.Errorf("check existing phone: %w", err)
	}

	plaintext := in.Password
	if plaintext == "" {
		plaintext = pw.Generate()
	} else if !pw.ValidatePolicy(plaintext) {
		return domain.User{}, domain.ErrPolicyViolation(pw.PolicyDescription)
	}

	hashed, err := pw.Hash(plaintext)
	if err != nil {
		span.RecordError(err)
		return domain.User{}, fmt.Errorf("hash password: %w", err)
	}

	var referrer *domain.User
	if code := strings.TrimSpace(in.ReferralCode); code != "" {
		found, err := s.referrals.Resolve(ctx, code)
		switch {
		case err == nil:
			referrer = &found
		case errors.Is(err, repository.ErrNotFound):
			// Unknown codes do not block signup; the linkage is simply absent.
			s.log().Info("referral code not found", zap.String("code", code))
		default:
			span.RecordError(err)
			return domain.User{}, fmt.Errorf("resolve referral code: %w", err)
		}
	}

	now := time.Now().UTC()
	model := domain.User{
		ID:                   s.node.Generate().Int64(),
		Email:                email,
		FirstName:            strings.TrimSpace(in.FirstName),
		LastName:             strings.TrimSpace(in.LastName),
		CountryCode:          strings.TrimSpace(in.CountryCode),
		PhoneNumber:          phone,
		HashedPassword:       hashed,
		Role:                 domain.RoleClient,
		Tier:                 tier,
		IsActive:             true,
		IsEmailVerified:      false,
		AcceptsNotifications: in.AcceptsNotifications,
		AcceptedTerms:        in.AcceptedTerms,
		TrialStartsAt:        now,
		TrialExpiresAt:       now.AddDate(0, 0, s.cfg.TrialPeriodDays),
	}
	if referrer != nil {
		id := referrer.ID
		model.ReferredByID = &id
	}

	created, err := s.insertWithReferralCode(ctx, model)
	if err != nil {
		span.RecordError(err)
		return domain.User{}, err
	}

	if referrer != nil {
		if _, err := s.referrals.Award(ctx, referrer.ID, created.ID); err != nil {
			// Reward bookkeeping must not undo a completed registration.
			s.log().Warn("referral award failed",
				zap.Int64("referrer_id", referrer.ID),
				zap.Int64("referred_id", created.ID),
				zap.Error(err),
			)
		}
	}

	if err := s.verifications.Request(ctx, created); err != nil {
		s.log().Warn("verification request failed",
			zap.Int64("user_id", created.ID),
			zap.Error(err),
		)
	}

	s.audit(ctx, &created.ID, "user.register", created)
	return created, nil
}

func (s *AuthService) insertWithReferralCode(ctx context.Context, model domain.User) (domain.User, error) {
	for attempt := 0; attempt < maxReferralCodeAttempts; attempt++ {
		model.ReferralCode = s.referrals.NewCode()
		created, err := s.users.Create(ctx, model)
		if err == nil {
			return created, nil
		}

		var dup *repository.DuplicateError
		if errors.As(err, &dup) {
			switch dup.Field {
			case "referral_code":
				continue
			default:
				// Lost the race after the pre-check passed.
				return domain.User{}, domain.ErrAlreadyExists(dup.Field)
			}
		}
		return domain.User{}, fmt.Errorf("create user: %w", err)
	}
	return domain.User{}, fmt.Errorf("create user: exhausted referral code attempts")
}

// Authenticate verifies an email/password pair and issues a session token.
// Unknown email, wrong password, and a deactivated account all return the
// same InvalidCredentials error so account existence cannot be probed.
// Authentication never mutates the user record.
func (s *AuthService) Authenticate(ctx context.Context, email, password string) (*TokenResponse, domain.User, error) {
	ctx, span := s.startSpan(ctx, "AuthService.Authenticate")
	defer span.End()

	user, err := s.users.GetByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			span.RecordError(err)
		}
		return nil, domain.User{}, domain.ErrInvalidCredentials()
	}

	ok, err := pw.Verify(password, user.HashedPassword)
	if err != nil || !ok {
		return nil, domain.User{}, domain.ErrInvalidCredentials()
	}

	if !user.IsActive {
		return nil, domain.User{}, domain.ErrInvalidCredentials()
	}

	// Subject is the user id: emails can change, ids cannot.
	signed, err := s.tokens.Issue(strconv.FormatInt(user.ID, 10), nil)
	if err != nil {
		span.RecordError(err)
		return nil, domain.User{}, fmt.Errorf("issue session token: %w", err)
	}

	s.audit(ctx, &user.ID, "user.login", user)
	resp := &TokenResponse{
		AccessToken: signed,
		TokenType:   "bearer",
		ExpiresIn:   int(s.cfg.AccessTokenTTL.Seconds()),
	}
	return resp, user, nil
}

// CurrentUser resolves a session token to its user record. Any token problem
// maps to Unauthenticated; a deactivated account behind a valid token maps to
// Forbidden.
func (s *AuthService) CurrentUser(ctx context.Context, rawToken string) (domain.User, error) {
	ctx, span := s.startSpan(ctx, "AuthService.CurrentUser")
	defer span.End()

	claims, err := s.tokens.Validate(rawToken)
	if err != nil {
		return domain.User{}, domain.ErrUnauthenticated()
	}

	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil {
		return domain.User{}, domain.ErrUnauthenticated()
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			span.RecordError(err)
		}
		return domain.User{}, domain.ErrUnauthenticated()
	}

	if !user.IsActive {
		return domain.User{}, domain.ErrForbidden()
	}
	return user, nil
}

// RequestEmailVerification issues a fresh code for the authenticated user.
func (s *AuthService) RequestEmailVerification(ctx context.Context, user domain.User) error {
	ctx, span := s.startSpan(ctx, "AuthService.RequestEmailVerification")
	defer span.End()
	return s.verifications.Request(ctx, user)
}

// ConfirmEmailVerification redeems a delivered code.
func (s *AuthService) ConfirmEmailVerification(ctx context.Context, user domain.User, code string) error {
	ctx, span := s.startSpan(ctx, "AuthService.ConfirmEmailVerification")
	defer span.End()
	if err := s.verifications.Confirm(ctx, user, code); err != nil {
		return err
	}
	s.audit(ctx, &user.ID, "user.email_verified", user)
	return nil
}

func (s *AuthService) audit(ctx context.Context, actorID *int64, action string, user domain.User) {
	logger := s.log()
	logger.Info("audit",
		zap.String("event", action),
		zap.Int64("user_id", user.ID),
		zap.Time("timestamp", time.Now().UTC()),
	)
	if s.auditor != nil {
		s.auditor.Record(ctx, actorID, action, "user", strconv.FormatInt(user.ID, 10), map[string]any{
			"email": user.Email,
			"tier":  string(user.Tier),
		})
	}
}

func (s *AuthService) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	if s == nil || s.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return s.tracer.Start(ctx, name)
}

func (s *AuthService) log() *zap.Logger {
	if s != nil && s.logger != nil {
		return s.logger
	}
	return zap.L()
}

func normalizeEmail(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}
