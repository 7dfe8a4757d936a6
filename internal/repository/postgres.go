package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/postika/auth/internal/domain"
)

// Compile-time interface assertions.
var (
	_ UserRepository         = (*PostgresUserRepo)(nil)
	_ ReferralRepository     = (*PostgresReferralRepo)(nil)
	_ VerificationRepository = (*PostgresVerificationRepo)(nil)
	_ AuditRepository        = (*PostgresAuditRepo)(nil)
)

// Constraint names from the migrations, used to attribute duplicate errors to
// a payload field.
var constraintFields = map[string]string{
	"users_email_key":           "email",
	"users_phone_number_key":    "phone_number",
	"users_referral_code_key":   "referral_code",
	"referrals_referred_id_key": "referred_id",
}

func translateError(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
		field, ok := constraintFields[pgErr.ConstraintName]
		if !ok {
			field = pgErr.ConstraintName
		}
		return &DuplicateError{Field: field}
	}
	return err
}

const userColumns = `id, email, first_name, last_name, country_code, phone_number,
hashed_password, role, tier, is_active, is_email_verified, referral_code,
referred_by_id, accepts_notifications, accepted_terms, trial_starts_at,
trial_expires_at, created_at, updated_at`

// PostgresUserRepo implements UserRepository over pgx.
type PostgresUserRepo struct {
	db *pgxpool.Pool
}

func NewPostgresUserRepo(db *pgxpool.Pool) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

func (r *PostgresUserRepo) GetByID(ctx context.Context, id int64) (domain.User, error) {
	return r.getBy(ctx, "id = $1", id)
}

func (r *PostgresUserRepo) GetByEmail(ctx context.Context, email string) (domain.User, error) {
	return r.getBy(ctx, "lower(email) = lower($1)", email)
}

func (r *PostgresUserRepo) GetByPhone(ctx context.Context, phone string) (domain.User, error) {
	return r.getBy(ctx, "phone_number = $1", phone)
}

func (r *PostgresUserRepo) GetByReferralCode(ctx context.Context, code string) (domain.User, error) {
	return r.getBy(ctx, "referral_code = $1", code)
}

func (r *PostgresUserRepo) getBy(ctx context.Context, predicate string, arg any) (domain.User, error) {
	query := fmt.Sprintf("SELECT %s FROM users WHERE %s", userColumns, predicate)
	row := r.db.QueryRow(ctx, query, arg)
	user, err := scanUser(row)
	if err != nil {
		return domain.User{}, fmt.Errorf("get user: %w", translateError(err))
	}
	return user, nil
}

const insertUserSQL = `INSERT INTO users (id, email, first_name, last_name, country_code,
phone_number, hashed_password, role, tier, is_active, is_email_verified, referral_code,
referred_by_id, accepts_notifications, accepted_terms, trial_starts_at, trial_expires_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
RETURNING ` + userColumns

func (r *PostgresUserRepo) Create(ctx context.Context, user domain.User) (domain.User, error) {
	row := r.db.QueryRow(ctx, insertUserSQL,
		user.ID,
		strings.ToLower(user.Email),
		user.FirstName,
		user.LastName,
		user.CountryCode,
		user.PhoneNumber,
		user.HashedPassword,
		string(user.Role),
		string(user.Tier),
		user.IsActive,
		user.IsEmailVerified,
		user.ReferralCode,
		user.ReferredByID,
		user.AcceptsNotifications,
		user.AcceptedTerms,
		user.TrialStartsAt,
		user.TrialExpiresAt,
	)

	created, err := scanUser(row)
	if err != nil {
		return domain.User{}, fmt.Errorf("create user: %w", translateError(err))
	}
	return created, nil
}

func (r *PostgresUserRepo) SetEmailVerified(ctx context.Context, userID int64) error {
	return r.update(ctx, "UPDATE users SET is_email_verified = TRUE, updated_at = now() WHERE id = $1", userID)
}

func (r *PostgresUserRepo) SetPassword(ctx context.Context, userID int64, hashedPassword string) error {
	return r.update(ctx, "UPDATE users SET hashed_password = $2, updated_at = now() WHERE id = $1", userID, hashedPassword)
}

func (r *PostgresUserRepo) UpdateTier(ctx context.Context, userID int64, tier domain.Tier) error {
	return r.update(ctx, "UPDATE users SET tier = $2, updated_at = now() WHERE id = $1", userID, string(tier))
}

func (r *PostgresUserRepo) update(ctx context.Context, query string, args ...any) error {
	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update user: %w", translateError(err))
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanUser(row pgx.Row) (domain.User, error) {
	var u domain.User
	var role, tier string
	err := row.Scan(
		&u.ID,
		&u.Email,
		&u.FirstName,
		&u.LastName,
		&u.CountryCode,
		&u.PhoneNumber,
		&u.HashedPassword,
		&role,
		&tier,
		&u.IsActive,
		&u.IsEmailVerified,
		&u.ReferralCode,
		&u.ReferredByID,
		&u.AcceptsNotifications,
		&u.AcceptedTerms,
		&u.TrialStartsAt,
		&u.TrialExpiresAt,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		return domain.User{}, err
	}
	u.Role = domain.Role(role)
	u.Tier = domain.Tier(tier)
	return u, nil
}

// PostgresReferralRepo implements ReferralRepository.
type PostgresReferralRepo struct {
	db *pgxpool.Pool
}

func NewPostgresReferralRepo(db *pgxpool.Pool) *PostgresReferralRepo {
	return &PostgresReferralRepo{db: db}
}

const insertReferralSQL = `INSERT INTO referrals (id, referrer_id, referred_id, reward_amount_kes, reward_paid)
VALUES ($1, $2, $3, $4, $5)
RETURNING id, referrer_id, referred_id, reward_amount_kes, reward_paid, triggered_at, created_at`

func (r *PostgresReferralRepo) Create(ctx context.Context, referral domain.Referral) (domain.Referral, error) {
	row := r.db.QueryRow(ctx, insertReferralSQL,
		referral.ID,
		referral.ReferrerID,
		referral.ReferredID,
		referral.RewardAmountKES,
		referral.RewardPaid,
	)
	var created domain.Referral
	if err := row.Scan(
		&created.ID,
		&created.ReferrerID,
		&created.ReferredID,
		&created.RewardAmountKES,
		&created.RewardPaid,
		&created.TriggeredAt,
		&created.CreatedAt,
	); err != nil {
		return domain.Referral{}, fmt.Errorf("create referral: %w", translateError(err))
	}
	return created, nil
}

func (r *PostgresReferralRepo) GetByReferredID(ctx context.Context, referredID int64) (domain.Referral, error) {
	row := r.db.QueryRow(ctx,
		`SELECT id, referrer_id, referred_id, reward_amount_kes, reward_paid, triggered_at, created_at
		 FROM referrals WHERE referred_id = $1`, referredID)
	var ref domain.Referral
	if err := row.Scan(
		&ref.ID,
		&ref.ReferrerID,
		&ref.ReferredID,
		&ref.RewardAmountKES,
		&ref.RewardPaid,
		&ref.TriggeredAt,
		&ref.CreatedAt,
	); err != nil {
		return domain.Referral{}, fmt.Errorf("get referral: %w", translateError(err))
	}
	return ref, nil
}

// PostgresVerificationRepo implements VerificationRepository.
type PostgresVerificationRepo struct {
	db *pgxpool.Pool
}

func NewPostgresVerificationRepo(db *pgxpool.Pool) *PostgresVerificationRepo {
	return &PostgresVerificationRepo{db: db}
}

func (r *PostgresVerificationRepo) Create(ctx context.Context, v domain.EmailVerification) (domain.EmailVerification, error) {
	row := r.db.QueryRow(ctx,
		`INSERT INTO email_verifications (id, user_id, code, expires_at, used)
		 VALUES ($1, $2, $3, $4, FALSE)
		 RETURNING id, user_id, code, expires_at, used, created_at`,
		v.ID, v.UserID, v.Code, v.ExpiresAt)
	var created domain.EmailVerification
	if err := row.Scan(&created.ID, &created.UserID, &created.Code, &created.ExpiresAt, &created.Used, &created.CreatedAt); err != nil {
		return domain.EmailVerification{}, fmt.Errorf("create verification: %w", translateError(err))
	}
	return created, nil
}

func (r *PostgresVerificationRepo) GetLatestActive(ctx context.Context, userID int64) (domain.EmailVerification, error) {
	row := r.db.QueryRow(ctx,
		`SELECT id, user_id, code, expires_at, used, created_at
		 FROM email_verifications
		 WHERE user_id = $1 AND used = FALSE
		 ORDER BY created_at DESC
		 LIMIT 1`, userID)
	var v domain.EmailVerification
	if err := row.Scan(&v.ID, &v.UserID, &v.Code, &v.ExpiresAt, &v.Used, &v.CreatedAt); err != nil {
		return domain.EmailVerification{}, fmt.Errorf("get verification: %w", translateError(err))
	}
	return v, nil
}

func (r *PostgresVerificationRepo) MarkUsed(ctx context.Context, id int64) error {
	tag, err := r.db.Exec(ctx, "UPDATE email_verifications SET used = TRUE WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("mark verification used: %w", translateError(err))
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// PostgresAuditRepo implements AuditRepository.
type PostgresAuditRepo struct {
	db *pgxpool.Pool
}

func NewPostgresAuditRepo(db *pgxpool.Pool) *PostgresAuditRepo {
	return &PostgresAuditRepo{db: db}
}

func (r *PostgresAuditRepo) Record(ctx context.Context, entry domain.AuditEntry) error {
	metadata := entry.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	payload, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("encode audit metadata: %w", err)
	}
	_, err = r.db.Exec(ctx,
		`INSERT INTO audit_logs (id, actor_id, action_type, resource_type, resource_id, metadata)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		entry.ID, entry.ActorID, entry.ActionType, entry.ResourceType, entry.ResourceID, payload)
	if err != nil {
		return fmt.Errorf("record audit entry: %w", translateError(err))
	}
	return nil
}
