package webhooks

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"strconv"
	"strings"
	"time"

	"github.com/goliatone/go-userhooks/core"
)

const (
	SecretPrefix     = "whsec_"
	SignatureVersion = "v1"
)

// DefaultHeaderPrefixes are the provider header namespaces checked in order.
var DefaultHeaderPrefixes = []string{"svix", "webhook"}

// SignatureVerifier checks Svix-style signatures: HMAC-SHA256 over
// "<id>.<timestamp>.<raw body>" keyed with the decoded shared secret.
type SignatureVerifier struct {
	Prefixes  []string
	Tolerance time.Duration
	Now       func() time.Time
}

func NewSignatureVerifier(tolerance time.Duration) *SignatureVerifier {
	if tolerance <= 0 {
		tolerance = core.DefaultTimestampTolerance
	}
	return &SignatureVerifier{
		Prefixes:  append([]string(nil), DefaultHeaderPrefixes...),
		Tolerance: tolerance,
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

type signatureHeaders struct {
	ID        string
	Timestamp string
	Signature string
}

// Verify authenticates rawBody against the signature headers. It never
// returns Verified=false with a nil error.
func (v *SignatureVerifier) Verify(rawBody []byte, headers core.Headers, secret string) (core.VerificationOutcome, error) {
	values, err := v.resolveHeaders(headers)
	if err != nil {
		return core.VerificationOutcome{}, err
	}

	key, err := decodeSecret(secret)
	if err != nil {
		return core.VerificationOutcome{}, err
	}

	unix, err := strconv.ParseInt(values.Timestamp, 10, 64)
	if err != nil {
		return core.VerificationOutcome{}, core.TimestampOutOfTolerance(
			"signature timestamp is not a valid unix time",
			map[string]any{"message_id": values.ID},
		)
	}
	signedAt := time.Unix(unix, 0).UTC()
	if skew := v.now().Sub(signedAt).Abs(); skew > v.tolerance() {
		return core.VerificationOutcome{}, core.TimestampOutOfTolerance(
			"signature timestamp is outside the tolerance window",
			map[string]any{
				"message_id": values.ID,
				"signed_at":  signedAt,
				"tolerance":  v.tolerance().String(),
			},
		)
	}

	expected := computeSignature(key, values.ID, values.Timestamp, rawBody)
	candidates := parseSignatures(values.Signature)
	if len(candidates) == 0 {
		return core.VerificationOutcome{}, core.SignatureInvalid(
			"signature header has no "+SignatureVersion+" entries",
			map[string]any{"message_id": values.ID},
		)
	}
	for _, candidate := range candidates {
		if hmac.Equal(candidate, expected) {
			return core.VerificationOutcome{
				Verified:  true,
				MessageID: values.ID,
				SignedAt:  signedAt,
			}, nil
		}
	}
	return core.VerificationOutcome{}, core.SignatureInvalid(
		"signature does not match payload",
		map[string]any{"message_id": values.ID},
	)
}

// Sign produces a signature header value for body using the same scheme.
func Sign(secret string, messageID string, timestamp time.Time, body []byte) (string, error) {
	key, err := decodeSecret(secret)
	if err != nil {
		return "", err
	}
	ts := strconv.FormatInt(timestamp.Unix(), 10)
	return SignatureVersion + "," + base64.StdEncoding.EncodeToString(computeSignature(key, messageID, ts, body)), nil
}

func (v *SignatureVerifier) resolveHeaders(headers core.Headers) (signatureHeaders, error) {
	prefixes := DefaultHeaderPrefixes
	if v != nil && len(v.Prefixes) > 0 {
		prefixes = v.Prefixes
	}
	prefix := prefixes[0]
	for _, candidate := range prefixes {
		if headers.Get(candidate+"-id") != "" {
			prefix = candidate
			break
		}
	}

	values := signatureHeaders{
		ID:        headers.Get(prefix + "-id"),
		Timestamp: headers.Get(prefix + "-timestamp"),
		Signature: headers.Get(prefix + "-signature"),
	}
	missing := make([]string, 0, 3)
	if values.ID == "" {
		missing = append(missing, prefix+"-id")
	}
	if values.Timestamp == "" {
		missing = append(missing, prefix+"-timestamp")
	}
	if values.Signature == "" {
		missing = append(missing, prefix+"-signature")
	}
	if len(missing) > 0 {
		return signatureHeaders{}, core.MissingCredentials(
			"required signature headers are missing",
			map[string]any{"missing": missing},
		)
	}
	return values, nil
}

func decodeSecret(secret string) ([]byte, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(secret), SecretPrefix)
	if trimmed == "" {
		return nil, core.Internal("webhook signing secret is not configured", nil)
	}
	key, err := base64.StdEncoding.DecodeString(trimmed)
	if err != nil {
		return nil, core.Internal("webhook signing secret is not valid base64", nil)
	}
	return key, nil
}

func computeSignature(key []byte, id string, timestamp string, body []byte) []byte {
	mac := hmac.New(sha256.New, key)
	_, _ = mac.Write([]byte(id))
	_, _ = mac.Write([]byte{'.'})
	_, _ = mac.Write([]byte(timestamp))
	_, _ = mac.Write([]byte{'.'})
	_, _ = mac.Write(body)
	return mac.Sum(nil)
}

// parseSignatures decodes every "v1,<base64>" entry; other versions and
// undecodable entries are ignored.
func parseSignatures(header string) [][]byte {
	out := make([][]byte, 0, 1)
	for _, entry := range strings.Fields(header) {
		version, value, ok := strings.Cut(entry, ",")
		if !ok || version != SignatureVersion {
			continue
		}
		decoded, err := base64.StdEncoding.DecodeString(value)
		if err != nil {
			continue
		}
		out = append(out, decoded)
	}
	return out
}

func (v *SignatureVerifier) now() time.Time {
	if v != nil && v.Now != nil {
		return v.Now().UTC()
	}
	return time.Now().UTC()
}

func (v *SignatureVerifier) tolerance() time.Duration {
	if v != nil && v.Tolerance > 0 {
		return v.Tolerance
	}
	return core.DefaultTimestampTolerance
}
