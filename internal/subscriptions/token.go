package subscriptions

import (
	"crypto/rand"
	"encoding/base64"

	"letterdrop/internal/types"
)

// TokenGenerator produces confirmation tokens. Abstracted so tests can use
// deterministic tokens.
type TokenGenerator interface {
	Generate() (string, error)
}

// CryptoTokenGenerator is the production TokenGenerator. Tokens are 32 bytes
// from crypto/rand, base64url-encoded without padding (43 characters), which
// makes them URL-safe and infeasible to guess.
type CryptoTokenGenerator struct{}

// Generate returns a fresh high-entropy token.
func (CryptoTokenGenerator) Generate() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", types.NewAppError(types.ErrCodeInternalUnexpected, "failed to generate token", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
