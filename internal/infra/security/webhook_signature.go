package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"strings"
)

// ErrMisconfiguredSecret is returned when verification is attempted without a
// shared secret. Callbacks are never accepted unsigned.
var ErrMisconfiguredSecret = errors.New("webhook secret is not configured")

// SignatureHeader is the inbound header carrying the payload signature.
const SignatureHeader = "Webhook-Signature"

// VerifyWebhookSignature checks that header carries HMAC-SHA256(payload, secret).
// The header may be hex or base64 encoded and may carry a "sha256=" or "v1,"
// scheme prefix; several space separated signatures are accepted during secret
// rotation. Undecodable or wrong-length signatures verify as false.
func VerifyWebhookSignature(payload []byte, header, secret string) (bool, error) {
	if secret == "" {
		return false, ErrMisconfiguredSecret
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	expected := mac.Sum(nil)

	for _, candidate := range strings.Fields(header) {
		sig, ok := decodeSignature(candidate)
		if !ok || len(sig) != len(expected) {
			continue
		}
		if hmac.Equal(sig, expected) {
			return true, nil
		}
	}
	return false, nil
}

// SignPayload returns the hex HMAC-SHA256 of payload. Used by tests and local
// tooling that replays webhooks.
func SignPayload(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func decodeSignature(s string) ([]byte, bool) {
	s = strings.TrimPrefix(s, "sha256=")
	s = strings.TrimPrefix(s, "v1,")
	if s == "" {
		return nil, false
	}
	if b, err := hex.DecodeString(s); err == nil {
		return b, true
	}
	if b, err := base64.StdEncoding.DecodeString(s); err == nil {
		return b, true
	}
	return nil, false
}
