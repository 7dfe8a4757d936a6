// Package token issues and validates signed, time-bounded session tokens.
// Tokens are stateless: there is no persistence and no revocation list, so a
// token stays valid until its natural expiry.
package token

import (
	"errors"
	"fmt"
	"time"

	gojose "github.com/go-jose/go-jose/v4"
	gojwt "github.com/go-jose/go-jose/v4/jwt"
)

// DefaultTTL bounds session lifetime when the caller does not override it.
const DefaultTTL = 60 * time.Minute

var (
	// ErrExpired marks a structurally valid token past its expiry.
	ErrExpired = errors.New("token expired")
	// ErrMalformed covers bad structure, bad signature, and claim mismatches.
	ErrMalformed = errors.New("token malformed")
)

// Claims is the validated payload of a session token.
type Claims struct {
	Subject  string
	Issuer   string
	IssuedAt time.Time
	Expiry   time.Time
	Extra    map[string]any
}

// Service signs and validates session tokens with a process-wide symmetric
// secret. The secret is loaded once at startup and never rotated at runtime.
type Service struct {
	secret []byte
	issuer string
	ttl    time.Duration
}

// NewService builds a token service. An empty secret is a programming error:
// config loading refuses to start the process without one.
func NewService(secret []byte, issuer string, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Service{secret: secret, issuer: issuer, ttl: ttl}
}

// Issue signs a token for subject using the service default TTL. Extra
// claims are merged into the payload.
func (s *Service) Issue(subject string, extra map[string]any) (string, error) {
	return s.IssueWithTTL(subject, s.ttl, extra)
}

// IssueWithTTL signs a token expiring after exactly ttl. A zero or negative
// ttl yields a token that is already expired.
func (s *Service) IssueWithTTL(subject string, ttl time.Duration, extra map[string]any) (string, error) {
	signer, err := gojose.NewSigner(
		gojose.SigningKey{Algorithm: gojose.HS256, Key: s.secret},
		(&gojose.SignerOptions{}).WithType("JWT"),
	)
	if err != nil {
		return "", fmt.Errorf("new signer: %w", err)
	}

	now := time.Now().UTC()
	std := gojwt.Claims{
		Subject:  subject,
		Issuer:   s.issuer,
		IssuedAt: gojwt.NewNumericDate(now),
		Expiry:   gojwt.NewNumericDate(now.Add(ttl)),
	}

	builder := gojwt.Signed(signer).Claims(std)
	if len(extra) > 0 {
		builder = builder.Claims(extra)
	}

	signed, err := builder.Serialize()
	if err != nil {
		return "", fmt.Errorf("serialize token: %w", err)
	}
	return signed, nil
}

// Validate checks signature and expiry and returns the claims. Expiry is
// enforced without leeway; the audience claim is not checked.
func (s *Service) Validate(token string) (Claims, error) {
	parsed, err := gojwt.ParseSigned(token, []gojose.SignatureAlgorithm{gojose.HS256})
	if err != nil {
		return Claims{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	var std gojwt.Claims
	extra := map[string]any{}
	if err := parsed.Claims(s.secret, &std, &extra); err != nil {
		return Claims{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	expected := gojwt.Expected{Issuer: s.issuer, Time: time.Now().UTC()}
	if err := std.ValidateWithLeeway(expected, 0); err != nil {
		if errors.Is(err, gojwt.ErrExpired) {
			return Claims{}, ErrExpired
		}
		return Claims{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	for _, reserved := range []string{"sub", "iss", "iat", "exp"} {
		delete(extra, reserved)
	}

	claims := Claims{
		Subject: std.Subject,
		Issuer:  std.Issuer,
		Extra:   extra,
	}
	if std.IssuedAt != nil {
		claims.IssuedAt = std.IssuedAt.Time()
	}
	if std.Expiry != nil {
		claims.Expiry = std.Expiry.Time()
	}
	return claims, nil
}
