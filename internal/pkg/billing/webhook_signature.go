package billing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DefaultSignatureTolerance bounds how old a signed timestamp may be before
// the delivery is rejected as a possible replay.
const DefaultSignatureTolerance = 5 * time.Minute

// VerifyStripeWebhookSignature checks a Stripe-style signature header of the
// form "t=<unix>,v1=<hex>[,v1=<hex>...]" against the raw payload. The signed
// message is "<t>.<payload>" with HMAC-SHA256 over the endpoint secret.
func VerifyStripeWebhookSignature(payload []byte, signatureHeader, webhookSecret string, tolerance time.Duration) bool {
	header := strings.TrimSpace(signatureHeader)
	secret := strings.TrimSpace(webhookSecret)
	if header == "" || secret == "" {
		return false
	}

	var timestamp int64
	var signatures [][]byte
	for _, part := range strings.Split(header, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "t":
			ts, err := strconv.ParseInt(kv[1], 10, 64)
			if err != nil {
				return false
			}
			timestamp = ts
		case "v1":
			sig, err := hex.DecodeString(strings.ToLower(kv[1]))
			if err != nil {
				continue
			}
			signatures = append(signatures, sig)
		}
	}
	if timestamp == 0 || len(signatures) == 0 {
		return false
	}

	if tolerance > 0 {
		age := time.Since(time.Unix(timestamp, 0))
		if age > tolerance || age < -tolerance {
			return false
		}
	}

	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.", timestamp)
	mac.Write(payload)
	expected := mac.Sum(nil)

	for _, sig := range signatures {
		if hmac.Equal(expected, sig) {
			return true
		}
	}
	return false
}
