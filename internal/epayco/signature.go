package epayco

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"
)

// Signature computes the webhook confirmation digest: the SHA-256 of the
// caret-joined customer id, validation key, reference, transaction id,
// amount and currency. Missing fields participate as empty strings.
func Signature(customerID, pKey, ref, transactionID, amount, currency string) string {
	joined := strings.Join([]string{customerID, pKey, ref, transactionID, amount, currency}, "^")
	sum := sha256.Sum256([]byte(joined))
	return hex.EncodeToString(sum[:])
}

// VerifySignature recomputes the expected webhook signature from configured
// secrets and compares it to the received value. It returns ErrNotConfigured
// when the customer id or validation key is missing, and the computed digest
// so callers can log both sides on a mismatch.
func (c *Client) VerifySignature(ref, transactionID, amount, currency, received string) (string, bool, error) {
	if strings.TrimSpace(c.cfg.CustomerID) == "" || strings.TrimSpace(c.cfg.PKey) == "" {
		return "", false, ErrNotConfigured
	}
	computed := Signature(c.cfg.CustomerID, c.cfg.PKey, ref, transactionID, amount, currency)
	if received == "" {
		return computed, false, nil
	}
	match := subtle.ConstantTimeCompare([]byte(computed), []byte(received)) == 1
	return computed, match, nil
}
