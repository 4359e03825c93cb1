package partner

import (
	"crypto/rand"
	"fmt"
)

// codeAlphabet avoids ambiguous characters (0/O, 1/I/L) so codes survive
// being read aloud or retyped from a screenshot.
const codeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

const codeLength = 8

// generatePromoCode returns a random promo code. Uniqueness is enforced by
// the store; callers retry on collision.
func generatePromoCode() (string, error) {
	buf := make([]byte, codeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("partner: generate promo code: %w", err)
	}
	for i, b := range buf {
		buf[i] = codeAlphabet[int(b)%len(codeAlphabet)]
	}
	return string(buf), nil
}
