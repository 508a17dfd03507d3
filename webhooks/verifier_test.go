package webhooks

import (
	"encoding/base64"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/goliatone/go-userhooks/core"
)

var testSecret = SecretPrefix + base64.StdEncoding.EncodeToString([]byte("userhooks-test-signing-key"))

func fixedNow() time.Time {
	return time.Date(2026, 2, 18, 12, 0, 0, 0, time.UTC)
}

func newTestVerifier() *SignatureVerifier {
	verifier := NewSignatureVerifier(5 * time.Minute)
	verifier.Now = fixedNow
	return verifier
}

func signedHeaders(t *testing.T, id string, at time.Time, body []byte) core.Headers {
	t.Helper()
	signature, err := Sign(testSecret, id, at, body)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return core.NewHeaders(map[string][]string{
		"Svix-Id":        {id},
		"Svix-Timestamp": {strconv.FormatInt(at.Unix(), 10)},
		"Svix-Signature": {signature},
	})
}

func TestSignatureVerifierAcceptsValidSignature(t *testing.T) {
	body := []byte(`{"type":"user.created","data":{"id":"user_1"}}`)
	headers := signedHeaders(t, "msg_1", fixedNow(), body)

	outcome, err := newTestVerifier().Verify(body, headers, testSecret)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !outcome.Verified {
		t.Fatalf("expected verified outcome")
	}
	if outcome.MessageID != "msg_1" {
		t.Fatalf("expected message id msg_1, got %q", outcome.MessageID)
	}
	if !outcome.SignedAt.Equal(fixedNow()) {
		t.Fatalf("expected signed_at %s, got %s", fixedNow(), outcome.SignedAt)
	}
}

func TestSignatureVerifierRejectsAnyAlteredBodyByte(t *testing.T) {
	body := []byte(`{"type":"user.created","data":{"id":"user_1","email":"a@b.co"}}`)
	headers := signedHeaders(t, "msg_1", fixedNow(), body)
	verifier := newTestVerifier()

	for i := range body {
		altered := append([]byte(nil), body...)
		altered[i] ^= 0x01
		_, err := verifier.Verify(altered, headers, testSecret)
		if !core.HasTextCode(err, core.ErrorSignatureInvalid) {
			t.Fatalf("byte %d: expected signature invalid, got %v", i, err)
		}
	}
}

func TestSignatureVerifierRejectsReserializedBody(t *testing.T) {
	body := []byte(`{"type": "user.created", "data": {"id": "user_1"}}`)
	headers := signedHeaders(t, "msg_1", fixedNow(), body)
	compact := []byte(`{"type":"user.created","data":{"id":"user_1"}}`)

	if _, err := newTestVerifier().Verify(compact, headers, testSecret); !core.HasTextCode(err, core.ErrorSignatureInvalid) {
		t.Fatalf("expected signature invalid for re-serialized body, got %v", err)
	}
}

func TestSignatureVerifierMissingHeadersReportMissingCredentials(t *testing.T) {
	body := []byte(`{"type":"user.created"}`)
	complete := signedHeaders(t, "msg_1", fixedNow(), body)

	for _, name := range []string{"svix-id", "svix-timestamp", "svix-signature"} {
		t.Run(name, func(t *testing.T) {
			headers := complete.Clone()
			delete(headers, name)
			_, err := newTestVerifier().Verify(body, headers, testSecret)
			if !core.HasTextCode(err, core.ErrorMissingCredentials) {
				t.Fatalf("expected missing credentials, got %v", err)
			}
			if core.HasTextCode(err, core.ErrorSignatureInvalid) {
				t.Fatalf("missing header must not be reported as signature invalid")
			}
			if !core.IsNonRetriable(err) {
				t.Fatalf("expected missing credentials to be non-retriable")
			}
		})
	}
}

func TestSignatureVerifierAlteredSignatureCharacter(t *testing.T) {
	body := []byte(`{"type":"user.created"}`)
	headers := signedHeaders(t, "msg_1", fixedNow(), body)
	signature := []byte(headers.Get("svix-signature"))
	first := len(SignatureVersion + ",")
	if signature[first] == 'A' {
		signature[first] = 'B'
	} else {
		signature[first] = 'A'
	}
	headers["svix-signature"] = string(signature)

	_, err := newTestVerifier().Verify(body, headers, testSecret)
	if !core.HasTextCode(err, core.ErrorSignatureInvalid) {
		t.Fatalf("expected signature invalid, got %v", err)
	}
	if !core.IsNonRetriable(err) {
		t.Fatalf("expected signature invalid to be non-retriable")
	}
}

func TestSignatureVerifierTimestampTolerance(t *testing.T) {
	body := []byte(`{"type":"user.updated"}`)
	cases := []struct {
		name    string
		offset  time.Duration
		wantErr bool
	}{
		{name: "inside past window", offset: -4 * time.Minute},
		{name: "inside future window", offset: 4 * time.Minute},
		{name: "stale", offset: -6 * time.Minute, wantErr: true},
		{name: "future", offset: 6 * time.Minute, wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			headers := signedHeaders(t, "msg_ts", fixedNow().Add(tc.offset), body)
			_, err := newTestVerifier().Verify(body, headers, testSecret)
			if tc.wantErr {
				if !core.HasTextCode(err, core.ErrorTimestampOutOfTolerance) {
					t.Fatalf("expected timestamp out of tolerance, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("expected signature inside tolerance to verify: %v", err)
			}
		})
	}
}

func TestSignatureVerifierInvalidTimestamp(t *testing.T) {
	body := []byte(`{}`)
	headers := signedHeaders(t, "msg_1", fixedNow(), body)
	headers["svix-timestamp"] = "yesterday"

	if _, err := newTestVerifier().Verify(body, headers, testSecret); !core.HasTextCode(err, core.ErrorTimestampOutOfTolerance) {
		t.Fatalf("expected timestamp error, got %v", err)
	}
}

func TestSignatureVerifierAcceptsAnyV1EntryAndWebhookPrefix(t *testing.T) {
	body := []byte(`{"type":"user.deleted"}`)
	signature, err := Sign(testSecret, "msg_2", fixedNow(), body)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	headers := core.NewHeaders(map[string][]string{
		"WEBHOOK-ID":        {"msg_2"},
		"webhook-timestamp": {strconv.FormatInt(fixedNow().Unix(), 10)},
		"Webhook-Signature": {"v2,ignored v1,bm90LWEtbWF0Y2g= " + signature},
	})

	outcome, err := newTestVerifier().Verify(body, headers, testSecret)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !outcome.Verified {
		t.Fatalf("expected verified outcome")
	}
}

func TestSignatureVerifierRejectsWrongSecret(t *testing.T) {
	body := []byte(`{"type":"user.created"}`)
	headers := signedHeaders(t, "msg_1", fixedNow(), body)
	other := SecretPrefix + base64.StdEncoding.EncodeToString([]byte("another-key"))

	if _, err := newTestVerifier().Verify(body, headers, other); !core.HasTextCode(err, core.ErrorSignatureInvalid) {
		t.Fatalf("expected signature invalid for wrong secret, got %v", err)
	}
}

func TestSignatureVerifierRequiresSecret(t *testing.T) {
	body := []byte(`{}`)
	headers := signedHeaders(t, "msg_1", fixedNow(), body)

	_, err := newTestVerifier().Verify(body, headers, "  ")
	if err == nil || !strings.Contains(err.Error(), "not configured") {
		t.Fatalf("expected missing secret error, got %v", err)
	}
}
