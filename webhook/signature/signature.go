package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"
)

// Prefix identifies the signature scheme in the X-Signature header
const Prefix = "sha256="

// Sign computes the delivery signature for a serialized payload:
// sha256= followed by the hex-encoded HMAC-SHA256 of the payload.
func Sign(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return Prefix + hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a received signature header using constant-time
// comparison. Returns an error for a malformed header, false for a
// well-formed but wrong signature.
func Verify(secret string, payload []byte, header string) (bool, error) {
	if !strings.HasPrefix(header, Prefix) {
		return false, fmt.Errorf("signature must start with %s", Prefix)
	}

	received, err := hex.DecodeString(strings.TrimPrefix(header, Prefix))
	if err != nil {
		return false, fmt.Errorf("decoding signature hex: %w", err)
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	expected := mac.Sum(nil)

	return subtle.ConstantTimeCompare(received, expected) == 1, nil
}
