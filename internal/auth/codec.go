package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	kberrors "github.com/alexjbarnes/kbgate/internal/errors"
	"github.com/tidwall/gjson"
)

const signingAlg = "HS256"

// encodedHeader is fixed, so it is computed once.
var encodedHeader = base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"HS256","typ":"JWT"}`))

// Codec signs and verifies the compact HMAC tokens that carry all
// authorization server state.
type Codec struct {
	secret []byte
	now    func() time.Time
}

// CodecOption configures a Codec.
type CodecOption func(*Codec)

// WithClock replaces time.Now for expiry checks and timestamps.
func WithClock(now func() time.Time) CodecOption {
	return func(c *Codec) {
		c.now = now
	}
}

// NewCodec returns a codec keyed by secret. An empty secret is allowed;
// every Sign and Verify then fails with server_error.
func NewCodec(secret string, opts ...CodecOption) *Codec {
	c := &Codec{
		secret: []byte(strings.TrimSpace(secret)),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Now returns the codec clock reading.
func (c *Codec) Now() time.Time {
	return c.now()
}

func (c *Codec) requireKey() error {
	if len(c.secret) == 0 {
		return kberrors.ServerError("OAUTH_SIGNING_KEY is not configured")
	}
	return nil
}

// Sign serializes payload and returns header.payload.signature.
func (c *Codec) Sign(payload any) (string, error) {
	if err := c.requireKey(); err != nil {
		return "", err
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encoding token payload: %w", err)
	}

	data := encodedHeader + "." + base64.RawURLEncoding.EncodeToString(raw)
	return data + "." + c.mac(data), nil
}

// Verify checks the token signature, type and expiry, then decodes the
// payload into out. All failures are invalid_grant except a missing key.
func (c *Codec) Verify(token, expectedTyp string, out any) error {
	if err := c.requireKey(); err != nil {
		return err
	}

	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return kberrors.InvalidGrant("JWT must contain 3 segments")
	}

	header, errH := decodeSegment(parts[0])
	payload, errP := decodeSegment(parts[1])
	if errH != nil || errP != nil || !gjson.ValidBytes(header) || !gjson.ValidBytes(payload) {
		return kberrors.InvalidGrant("JWT payload is malformed")
	}

	if _, err := decodeSegment(parts[2]); err != nil {
		return kberrors.InvalidGrant("JWT signature is malformed")
	}

	if alg := gjson.GetBytes(header, "alg"); alg.Type != gjson.String || alg.Str != signingAlg {
		return kberrors.InvalidGrant("Token algorithm is not supported")
	}

	expected := c.mac(parts[0] + "." + parts[1])
	if !secureEquals(expected, parts[2]) {
		return kberrors.InvalidGrant("Token signature is invalid")
	}

	if !gjson.ParseBytes(payload).IsObject() {
		return kberrors.InvalidGrant("Token payload is invalid")
	}

	if typ := gjson.GetBytes(payload, "typ"); typ.Type != gjson.String || typ.Str != expectedTyp {
		return kberrors.InvalidGrant("Token type is invalid")
	}

	exp := gjson.GetBytes(payload, "exp")
	if exp.Type != gjson.Number || exp.Float() <= float64(c.now().Unix()) {
		return kberrors.InvalidGrant("Token is expired")
	}

	if out != nil {
		if err := json.Unmarshal(payload, out); err != nil {
			return kberrors.InvalidGrant("Token payload is invalid")
		}
	}

	return nil
}

func (c *Codec) mac(data string) string {
	h := hmac.New(sha256.New, c.secret)
	h.Write([]byte(data))
	return base64.RawURLEncoding.EncodeToString(h.Sum(nil))
}

// decodeSegment accepts unpadded and padded base64url.
func decodeSegment(s string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(strings.TrimRight(s, "="))
}

// secureEquals compares in constant time for equal-length inputs.
func secureEquals(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
