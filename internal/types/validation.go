package types

import (
	"fmt"
	"net/mail"
	"strings"
)

// Validation constraint constants.
const (
	MaxEmailLength    = 254
	MaxTitleLength    = 200
	MaxNameLength     = 100
	MaxBodyBytes      = 1 << 20 // 1 MiB per body variant
	TokenLength       = 43      // 32 random bytes, base64url without padding
	IdempotencyKeyMax = 128
)

// NormalizeEmail canonicalizes an address for storage and uniqueness checks:
// surrounding whitespace is stripped and the domain part is lowercased. The
// local part is preserved as given since case sensitivity there is
// receiver-defined.
func NormalizeEmail(email string) string {
	email = strings.TrimSpace(email)
	at := strings.LastIndex(email, "@")
	if at < 0 {
		return email
	}
	return email[:at+1] + strings.ToLower(email[at+1:])
}

// ValidateEmail checks that the address is a syntactically valid, bare
// RFC 5322 address (no display name) within length limits.
func ValidateEmail(email string) error {
	if email == "" {
		return fmt.Errorf("%s: email is required", ErrCodeValidationMissingField)
	}
	if len(email) > MaxEmailLength {
		return fmt.Errorf("%s: email exceeds %d characters", ErrCodeValidationInvalidEmail, MaxEmailLength)
	}
	addr, err := mail.ParseAddress(email)
	if err != nil {
		return fmt.Errorf("%s: malformed address", ErrCodeValidationInvalidEmail)
	}
	if addr.Name != "" || addr.Address != email {
		return fmt.Errorf("%s: address must be bare (no display name)", ErrCodeValidationInvalidEmail)
	}
	if !strings.Contains(strings.SplitN(email, "@", 2)[1], ".") {
		return fmt.Errorf("%s: domain must be fully qualified", ErrCodeValidationInvalidEmail)
	}
	return nil
}

// ValidateIdempotencyKey checks the publish idempotency key header value.
func ValidateIdempotencyKey(key string) error {
	if key == "" {
		return fmt.Errorf("%s: Idempotency-Key header is required", ErrCodeValidationIdempotencyKey)
	}
	if len(key) > IdempotencyKeyMax {
		return fmt.Errorf("%s: Idempotency-Key exceeds %d characters", ErrCodeValidationIdempotencyKey, IdempotencyKeyMax)
	}
	return nil
}
