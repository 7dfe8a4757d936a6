package password

import (
	"crypto/rand"
	"math/big"
	"unicode"
)

const (
	// MinLength is the minimum accepted password length.
	MinLength = 8

	generatedLength = 12
	generateCharset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789!@#$%^&*"
)

// PolicyDescription is the single user-facing explanation of the rules.
// Validation is a composite predicate; callers get this message, not a
// per-rule breakdown.
const PolicyDescription = "Password must be at least 8 characters long and include uppercase, lowercase, digit, and special character."

// ValidatePolicy reports whether the password satisfies the strength rules:
// length, lowercase, uppercase, digit, and a non-alphanumeric symbol.
func ValidatePolicy(password string) bool {
	if len(password) < MinLength {
		return false
	}
	var lower, upper, digit, symbol bool
	for _, r := range password {
		switch {
		case unicode.IsLower(r):
			lower = true
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsDigit(r):
			digit = true
		default:
			symbol = true
		}
	}
	return lower && upper && digit && symbol
}

// Generate produces a random 12-character password that satisfies
// ValidatePolicy, resampling until the composite predicate holds. The source
// is crypto/rand throughout.
func Generate() string {
	for {
		candidate := randomString(generatedLength, generateCharset)
		if ValidatePolicy(candidate) {
			return candidate
		}
	}
}

func randomString(length int, charset string) string {
	max := big.NewInt(int64(len(charset)))
	out := make([]byte, length)
	for i := range out {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			// crypto/rand is unavailable only when the platform entropy
			// source is broken; nothing sensible can continue from here.
			panic(err)
		}
		out[i] = charset[n.Int64()]
	}
	return string(out)
}
