package event

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// SignatureHeader is the HTTP header carrying the webhook signature.
const SignatureHeader = "BoxyHQ-Signature"

// SignatureString computes the webhook signature for payload at time ts:
// HMAC-SHA256 over "<epochMillis>.<json>", rendered as "t=<ms>,s=<hex>".
// An empty secret yields an empty string; receivers treat the absent
// signature as "unsigned", not as a verification failure.
func SignatureString(secret string, payload any, ts time.Time) (string, error) {
	if secret == "" {
		return "", nil
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal signature payload: %w", err)
	}
	ms := ts.UnixMilli()
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", ms, body)
	return fmt.Sprintf("t=%d,s=%s", ms, hex.EncodeToString(mac.Sum(nil))), nil
}
