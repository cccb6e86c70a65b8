package artifactstore

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const artifactPathPrefix = "/artifacts/"

var (
	// ErrSecretEmpty indicates a signer constructed without a secret.
	ErrSecretEmpty = errors.New("signing secret cannot be empty")
	// ErrLinkExpired indicates a signed link presented after its deadline.
	ErrLinkExpired = errors.New("link expired")
	// ErrBadSignature indicates a link whose signature does not match.
	ErrBadSignature = errors.New("signature mismatch")
)

// Signer issues and verifies time-limited artifact links. The signature
// covers the key and the expiry, so neither can be altered independently.
type Signer struct {
	publicBaseURL string
	secret        []byte
	now           func() time.Time
}

// NewSigner creates a signer for links rooted at publicBaseURL.
func NewSigner(publicBaseURL string, secret []byte, now func() time.Time) (*Signer, error) {
	if len(secret) == 0 {
		return nil, ErrSecretEmpty
	}

	if now == nil {
		now = time.Now
	}

	return &Signer{
		publicBaseURL: strings.TrimSuffix(publicBaseURL, "/"),
		secret:        secret,
		now:           now,
	}, nil
}

// Sign returns a retrieval URL for the key that stops working after ttl.
func (s *Signer) Sign(key string, ttl time.Duration) (string, error) {
	if key == "" {
		return "", errors.New("artifact key cannot be empty")
	}

	expires := s.now().Add(ttl).Unix()
	signature := s.signature(key, expires)

	query := url.Values{}
	query.Set("expires", strconv.FormatInt(expires, 10))
	query.Set("sig", signature)

	return s.publicBaseURL + artifactPathPrefix + key + "?" + query.Encode(), nil
}

// Verify checks a presented key, expiry, and signature. The signature is
// checked before the deadline so a forged expiry never passes.
func (s *Signer) Verify(key, expiresValue, signature string) error {
	expires, err := strconv.ParseInt(expiresValue, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: unparseable expiry", ErrBadSignature)
	}

	expected := s.signature(key, expires)
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return ErrBadSignature
	}

	if s.now().After(time.Unix(expires, 0)) {
		return ErrLinkExpired
	}

	return nil
}

func (s *Signer) signature(key string, expires int64) string {
	mac := hmac.New(sha256.New, s.secret)
	fmt.Fprintf(mac, "%s\n%d", key, expires)

	return hex.EncodeToString(mac.Sum(nil))
}
