package service_test

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/postika/auth/internal/audit"
	"github.com/postika/auth/internal/config"
	"github.com/postika/auth/internal/domain"
	"github.com/postika/auth/internal/notify"
	"github.com/postika/auth/internal/referral"
	"github.com/postika/auth/internal/repository"
	"github.com/postika/auth/internal/service"
	"github.com/postika/auth/internal/token"
	"github.com/postika/auth/internal/verification"
)

func newTestAuthService(t *testing.T) (*service.AuthService, *memoryUserRepo) {
	t.Helper()

	users := newMemoryUserRepo()
	referralRepo := &memoryReferralRepo{}
	verificationRepo := &memoryVerificationRepo{}
	auditRepo := &memoryAuditRepo{}
	queue := &memoryQueue{}

	cfg := config.Config{
		AppName:             "postika",
		SecretKey:           "0123456789abcdef0123456789abcdef",
		AccessTokenTTL:      time.Hour,
		TrialPeriodDays:     7,
		ReferralRewardKES:   500,
		VerificationCodeTTL: 15 * time.Minute,
	}

	logger := zap.NewNop()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	tokens := token.NewService([]byte(cfg.SecretKey), cfg.AppName, cfg.AccessTokenTTL)
	referrals := referral.NewService(users, referralRepo, node, cfg.ReferralRewardKES, logger)
	verifications := verification.NewService(users, verificationRepo, queue, node, cfg.VerificationCodeTTL, logger)
	auditor := audit.NewRecorder(auditRepo, node, logger)

	return service.NewAuthService(users, referrals, verifications, auditor, node, tokens, cfg, logger), users
}

func validInput() service.RegisterInput {
	return service.RegisterInput{
		Email:                "a@x.com",
		FirstName:            "Asha",
		LastName:             "Mwangi",
		CountryCode:          "+254",
		PhoneNumber:          "+254700000001",
		Password:             "Str0ng!Pass",
		AcceptsNotifications: true,
		AcceptedTerms:        true,
	}
}

func TestRegisterLoginCurrentUserFlow(t *testing.T) {
	ctx := context.Background()
	svc, users := newTestAuthService(t)

	created, err := svc.Register(ctx, validInput())
	require.NoError(t, err)
	require.Equal(t, "a@x.com", created.Email)
	require.Equal(t, domain.TierSungura, created.Tier)
	require.Equal(t, domain.RoleClient, created.Role)
	require.True(t, created.IsActive)
	require.False(t, created.IsEmailVerified)
	require.NotEmpty(t, created.ReferralCode)
	require.NotEmpty(t, created.HashedPassword)
	require.NotEqual(t, "Str0ng!Pass", created.HashedPassword)
	require.WithinDuration(t, created.TrialStartsAt.AddDate(0, 0, 7), created.TrialExpiresAt, time.Second)
	require.Len(t, users.all(), 1)

	resp, user, err := svc.Authenticate(ctx, "a@x.com", "Str0ng!Pass")
	require.NoError(t, err)
	require.Equal(t, created.ID, user.ID)
	require.Equal(t, "bearer", resp.TokenType)
	require.NotEmpty(t, resp.AccessToken)
	require.Equal(t, int(time.Hour.Seconds()), resp.ExpiresIn)

	resolved, err := svc.CurrentUser(ctx, resp.AccessToken)
	require.NoError(t, err)
	require.Equal(t, created.ID, resolved.ID)
}

func TestRegisterDuplicateEmail(t *testing.T) {
	ctx := context.Background()
	svc, users := newTestAuthService(t)

	_, err := svc.Register(ctx, validInput())
	require.NoError(t, err)

	second := validInput()
	second.PhoneNumber = "+254700000002"
	_, err = svc.Register(ctx, second)
	require.True(t, domain.IsCode(err, domain.CodeAlreadyExists))

	var ae *domain.AuthError
	require.ErrorAs(t, err, &ae)
	require.Equal(t, "email", ae.Field)
	require.Len(t, users.all(), 1)
}

func TestRegisterDuplicatePhone(t *testing.T) {
	ctx := context.Background()
	svc, users := newTestAuthService(t)

	_, err := svc.Register(ctx, validInput())
	require.NoError(t, err)

	second := validInput()
	second.Email = "b@x.com"
	_, err = svc.Register(ctx, second)
	require.True(t, domain.IsCode(err, domain.CodeAlreadyExists))

	var ae *domain.AuthError
	require.ErrorAs(t, err, &ae)
	require.Equal(t, "phone_number", ae.Field)
	require.Len(t, users.all(), 1)
}

func TestRegisterEmailComparisonIsCaseInsensitive(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestAuthService(t)

	_, err := svc.Register(ctx, validInput())
	require.NoError(t, err)

	second := validInput()
	second.Email = "A@X.com"
	second.PhoneNumber = "+254700000002"
	_, err = svc.Register(ctx, second)
	require.True(t, domain.IsCode(err, domain.CodeAlreadyExists))
}

func TestRegisterWeakPasswordInsertsNothing(t *testing.T) {
	ctx := context.Background()
	svc, users := newTestAuthService(t)

	in := validInput()
	in.Password = "abc"
	_, err := svc.Register(ctx, in)
	require.True(t, domain.IsCode(err, domain.CodePolicyViolation))
	require.Empty(t, users.all())
}

func TestRegisterGeneratesPasswordWhenOmitted(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestAuthService(t)

	in := validInput()
	in.Password = ""
	created, err := svc.Register(ctx, in)
	require.NoError(t, err)
	require.NotEmpty(t, created.HashedPassword)
}

func TestRegisterLosesUniquenessRace(t *testing.T) {
	ctx := context.Background()
	svc, users := newTestAuthService(t)

	// Another registration sneaks in between the pre-check and the insert.
	users.beforeCreate = func() {
		if len(users.all()) == 0 {
			racing := validInput()
			hashed := "$argon2id$v=19$m=65536,t=3,p=2$c2FsdHNhbHRzYWx0c2FsdA$aGFzaGhhc2hoYXNoaGFzaGhhc2hoYXNoaGFzaGhhc2g"
			users.insert(domain.User{
				ID:             999,
				Email:          racing.Email,
				PhoneNumber:    racing.PhoneNumber,
				HashedPassword: hashed,
				ReferralCode:   "RACEWINR",
				IsActive:       true,
			})
		}
	}

	_, err := svc.Register(ctx, validInput())
	require.True(t, domain.IsCode(err, domain.CodeAlreadyExists))
	require.Len(t, users.all(), 1)
}

func TestRegisterRetriesReferralCodeCollision(t *testing.T) {
	ctx := context.Background()
	svc, users := newTestAuthService(t)

	created, err := svc.Register(ctx, validInput())
	require.NoError(t, err)

	users.forceReferralConflicts = 2
	second := validInput()
	second.Email = "b@x.com"
	second.PhoneNumber = "+254700000002"
	other, err := svc.Register(ctx, second)
	require.NoError(t, err)
	require.NotEqual(t, created.ReferralCode, other.ReferralCode)
	require.Len(t, users.all(), 2)
}

func TestRegisterLinksReferrer(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestAuthService(t)

	referrer, err := svc.Register(ctx, validInput())
	require.NoError(t, err)

	in := validInput()
	in.Email = "b@x.com"
	in.PhoneNumber = "+254700000002"
	in.ReferralCode = referrer.ReferralCode
	referred, err := svc.Register(ctx, in)
	require.NoError(t, err)
	require.NotNil(t, referred.ReferredByID)
	require.Equal(t, referrer.ID, *referred.ReferredByID)
}

func TestRegisterIgnoresUnknownReferralCode(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestAuthService(t)

	in := validInput()
	in.ReferralCode = "NOSUCHCD"
	created, err := svc.Register(ctx, in)
	require.NoError(t, err)
	require.Nil(t, created.ReferredByID)
}

func TestAuthenticateIndistinguishableFailures(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestAuthService(t)

	_, err := svc.Register(ctx, validInput())
	require.NoError(t, err)

	_, _, unknownErr := svc.Authenticate(ctx, "nobody@x.com", "Str0ng!Pass")
	_, _, wrongErr := svc.Authenticate(ctx, "a@x.com", "Wr0ng!Pass")

	require.True(t, domain.IsCode(unknownErr, domain.CodeInvalidCredentials))
	require.True(t, domain.IsCode(wrongErr, domain.CodeInvalidCredentials))
	require.Equal(t, unknownErr.Error(), wrongErr.Error())
}

func TestAuthenticateInactiveAccount(t *testing.T) {
	ctx := context.Background()
	svc, users := newTestAuthService(t)

	created, err := svc.Register(ctx, validInput())
	require.NoError(t, err)

	users.setActive(created.ID, false)
	_, _, err = svc.Authenticate(ctx, "a@x.com", "Str0ng!Pass")
	require.True(t, domain.IsCode(err, domain.CodeInvalidCredentials))
}

func TestCurrentUserRejectsBadTokens(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestAuthService(t)

	_, err := svc.CurrentUser(ctx, "not-a-token")
	require.True(t, domain.IsCode(err, domain.CodeUnauthenticated))
}

func TestCurrentUserDeactivatedAccount(t *testing.T) {
	ctx := context.Background()
	svc, users := newTestAuthService(t)

	created, err := svc.Register(ctx, validInput())
	require.NoError(t, err)

	resp, _, err := svc.Authenticate(ctx, "a@x.com", "Str0ng!Pass")
	require.NoError(t, err)

	users.setActive(created.ID, false)
	_, err = svc.CurrentUser(ctx, resp.AccessToken)
	require.True(t, domain.IsCode(err, domain.CodeForbidden))
}

func TestCurrentUserUnknownSubject(t *testing.T) {
	ctx := context.Background()
	svc, users := newTestAuthService(t)

	created, err := svc.Register(ctx, validInput())
	require.NoError(t, err)

	resp, _, err := svc.Authenticate(ctx, "a@x.com", "Str0ng!Pass")
	require.NoError(t, err)

	users.remove(created.ID)
	_, err = svc.CurrentUser(ctx, resp.AccessToken)
	require.True(t, domain.IsCode(err, domain.CodeUnauthenticated))
}

func TestRegisterRequiresAcceptedTerms(t *testing.T) {
	ctx := context.Background()
	svc, users := newTestAuthService(t)

	in := validInput()
	in.AcceptedTerms = false
	_, err := svc.Register(ctx, in)
	require.True(t, domain.IsCode(err, domain.CodeInvalidRequest))
	require.Empty(t, users.all())
}

// --- in-memory fakes ---

type memoryUserRepo struct {
	mu                     sync.Mutex
	users                  map[int64]domain.User
	beforeCreate           func()
	forceReferralConflicts int
}

func newMemoryUserRepo() *memoryUserRepo {
	return &memoryUserRepo{users: make(map[int64]domain.User)}
}

func (m *memoryUserRepo) all() []domain.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.User, 0, len(m.users))
	for _, u := range m.users {
		out = append(out, u)
	}
	return out
}

func (m *memoryUserRepo) insert(user domain.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[user.ID] = user
}

func (m *memoryUserRepo) setActive(id int64, active bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u := m.users[id]
	u.IsActive = active
	m.users[id] = u
}

func (m *memoryUserRepo) remove(id int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.users, id)
}

func (m *memoryUserRepo) GetByID(ctx context.Context, id int64) (domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[id]; ok {
		return u, nil
	}
	return domain.User{}, repository.ErrNotFound
}

func (m *memoryUserRepo) GetByEmail(ctx context.Context, email string) (domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if strings.EqualFold(u.Email, email) {
			return u, nil
		}
	}
	return domain.User{}, repository.ErrNotFound
}

func (m *memoryUserRepo) GetByPhone(ctx context.Context, phone string) (domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.PhoneNumber == phone {
			return u, nil
		}
	}
	return domain.User{}, repository.ErrNotFound
}

func (m *memoryUserRepo) GetByReferralCode(ctx context.Context, code string) (domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.ReferralCode == code {
			return u, nil
		}
	}
	return domain.User{}, repository.ErrNotFound
}

func (m *memoryUserRepo) Create(ctx context.Context, user domain.User) (domain.User, error) {
	if m.beforeCreate != nil {
		m.beforeCreate()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.forceReferralConflicts > 0 {
		m.forceReferralConflicts--
		return domain.User{}, &repository.DuplicateError{Field: "referral_code"}
	}
	for _, existing := range m.users {
		if strings.EqualFold(existing.Email, user.Email) {
			return domain.User{}, &repository.DuplicateError{Field: "email"}
		}
		if existing.PhoneNumber == user.PhoneNumber {
			return domain.User{}, &repository.DuplicateError{Field: "phone_number"}
		}
		if existing.ReferralCode == user.ReferralCode {
			return domain.User{}, &repository.DuplicateError{Field: "referral_code"}
		}
	}

	now := time.Now().UTC()
	user.CreatedAt = now
	user.UpdatedAt = now
	m.users[user.ID] = user
	return user, nil
}

func (m *memoryUserRepo) SetEmailVerified(ctx context.Context, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return repository.ErrNotFound
	}
	u.IsEmailVerified = true
	m.users[userID] = u
	return nil
}

func (m *memoryUserRepo) SetPassword(ctx context.Context, userID int64, hashedPassword string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return repository.ErrNotFound
	}
	u.HashedPassword = hashedPassword
	m.users[userID] = u
	return nil
}

func (m *memoryUserRepo) UpdateTier(ctx context.Context, userID int64, tier domain.Tier) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return repository.ErrNotFound
	}
	u.Tier = tier
	m.users[userID] = u
	return nil
}

type memoryReferralRepo struct {
	mu        sync.Mutex
	referrals []domain.Referral
}

func (m *memoryReferralRepo) Create(ctx context.Context, referral domain.Referral) (domain.Referral, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	referral.CreatedAt = time.Now().UTC()
	m.referrals = append(m.referrals, referral)
	return referral, nil
}

func (m *memoryReferralRepo) GetByReferredID(ctx context.Context, referredID int64) (domain.Referral, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.referrals {
		if r.ReferredID == referredID {
			return r, nil
		}
	}
	return domain.Referral{}, repository.ErrNotFound
}

type memoryVerificationRepo struct {
	mu    sync.Mutex
	codes []domain.EmailVerification
}

func (m *memoryVerificationRepo) Create(ctx context.Context, v domain.EmailVerification) (domain.EmailVerification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v.CreatedAt = time.Now().UTC()
	m.codes = append(m.codes, v)
	return v, nil
}

func (m *memoryVerificationRepo) GetLatestActive(ctx context.Context, userID int64) (domain.EmailVerification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.codes) - 1; i >= 0; i-- {
		if m.codes[i].UserID == userID && !m.codes[i].Used {
			return m.codes[i], nil
		}
	}
	return domain.EmailVerification{}, repository.ErrNotFound
}

func (m *memoryVerificationRepo) MarkUsed(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.codes {
		if m.codes[i].ID == id {
			m.codes[i].Used = true
			return nil
		}
	}
	return repository.ErrNotFound
}

type memoryAuditRepo struct {
	mu      sync.Mutex
	entries []domain.AuditEntry
}

func (m *memoryAuditRepo) Record(ctx context.Context, entry domain.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry)
	return nil
}

type memoryQueue struct {
	mu    sync.Mutex
	tasks []notify.Task
}

func (m *memoryQueue) Enqueue(ctx context.Context, task notify.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks = append(m.tasks, task)
	return nil
}
