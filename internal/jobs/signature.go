package jobs

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"
)

// SignatureHeader carries the request signature
const SignatureHeader = "X-Inngest-Signature"

// signatureTolerance bounds the age of a signed request
const signatureTolerance = 5 * time.Minute

var (
	ErrMissingSignature = errors.New("missing signature")
	ErrInvalidSignature = errors.New("invalid signature")
	ErrExpiredSignature = errors.New("signature expired")
)

// Sign returns the header value signing body at time t
func Sign(key string, body []byte, t time.Time) string {
	ts := strconv.FormatInt(t.Unix(), 10)
	return fmt.Sprintf("t=%s&s=%s", ts, signature(key, body, ts))
}

// VerifySignature checks header against body. The signature must be within
// five minutes of now in either direction.
func VerifySignature(key, header string, body []byte, now time.Time) error {
	if header == "" {
		return ErrMissingSignature
	}

	values, err := url.ParseQuery(header)
	if err != nil {
		return ErrInvalidSignature
	}
	ts, sig := values.Get("t"), values.Get("s")
	if ts == "" || sig == "" {
		return ErrInvalidSignature
	}

	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return ErrInvalidSignature
	}
	age := now.Sub(time.Unix(unix, 0))
	if age > signatureTolerance || age < -signatureTolerance {
		return ErrExpiredSignature
	}

	want := signature(key, body, ts)
	if !hmac.Equal([]byte(want), []byte(sig)) {
		return ErrInvalidSignature
	}
	return nil
}

func signature(key string, body []byte, ts string) string {
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write(body)
	mac.Write([]byte(ts))
	return hex.EncodeToString(mac.Sum(nil))
}
