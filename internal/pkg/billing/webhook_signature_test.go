package billing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"testing"
	"time"
)

func signPayload(payload []byte, secret string, ts int64) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.", ts)
	mac.Write(payload)
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func TestVerifyStripeWebhookSignature(t *testing.T) {
	payload := []byte(`{"id":"evt_1","type":"invoice.paid"}`)
	secret := "whsec_test"

	header := signPayload(payload, secret, time.Now().Unix())
	if !VerifyStripeWebhookSignature(payload, header, secret, DefaultSignatureTolerance) {
		t.Fatal("expected valid signature to verify")
	}

	if VerifyStripeWebhookSignature([]byte(`{"id":"evt_2"}`), header, secret, DefaultSignatureTolerance) {
		t.Fatal("expected signature over different payload to fail")
	}
	if VerifyStripeWebhookSignature(payload, header, "whsec_other", DefaultSignatureTolerance) {
		t.Fatal("expected wrong secret to fail")
	}
}

func TestVerifyStripeWebhookSignatureReplayWindow(t *testing.T) {
	payload := []byte(`{"id":"evt_1"}`)
	secret := "whsec_test"

	stale := signPayload(payload, secret, time.Now().Add(-10*time.Minute).Unix())
	if VerifyStripeWebhookSignature(payload, stale, secret, DefaultSignatureTolerance) {
		t.Fatal("expected stale timestamp to fail")
	}

	// Zero tolerance disables the replay window entirely.
	if !VerifyStripeWebhookSignature(payload, stale, secret, 0) {
		t.Fatal("expected stale timestamp to pass with tolerance disabled")
	}
}

func TestVerifyStripeWebhookSignatureMalformedHeaders(t *testing.T) {
	payload := []byte(`{}`)
	secret := "whsec_test"

	cases := []string{
		"",
		"v1=deadbeef",
		fmt.Sprintf("t=%d", time.Now().Unix()),
		"t=notanumber,v1=deadbeef",
		fmt.Sprintf("t=%d,v1=zzzz", time.Now().Unix()),
	}
	for _, header := range cases {
		if VerifyStripeWebhookSignature(payload, header, secret, DefaultSignatureTolerance) {
			t.Fatalf("expected header %q to fail verification", header)
		}
	}
}

func TestVerifyStripeWebhookSignatureMultipleV1(t *testing.T) {
	payload := []byte(`{"id":"evt_1"}`)
	secret := "whsec_test"
	ts := time.Now().Unix()

	valid := signPayload(payload, secret, ts)
	// A rotated-secret delivery carries two v1 entries; one match suffices.
	header := fmt.Sprintf("t=%d,v1=%s,%s", ts, hex.EncodeToString([]byte("wrong-signature-entry")), valid[len(fmt.Sprintf("t=%d,", ts)):])
	if !VerifyStripeWebhookSignature(payload, header, secret, DefaultSignatureTolerance) {
		t.Fatal("expected one matching v1 entry to verify")
	}
}

func TestVerifyStripeWebhookSignatureEmptySecret(t *testing.T) {
	payload := []byte(`{}`)
	header := signPayload(payload, "whsec_test", time.Now().Unix())
	if VerifyStripeWebhookSignature(payload, header, "", DefaultSignatureTolerance) {
		t.Fatal("expected empty secret to fail closed")
	}
}
