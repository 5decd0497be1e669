package vfs

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/qihaolou/Foxel/fs"
)

// TempLinks signs and verifies share tokens over virtual paths. A token
// is base64url("<path>:<expiry>:<sig>") with sig = base64url of the
// HMAC-SHA256 of "<path>:<expiry>"; expiry 0 never expires. The secret
// is fetched per call so a rotation takes effect immediately.
type TempLinks struct {
	secret func() ([]byte, error)
}

// NewTempLinks builds a signer over the given secret source.
func NewTempLinks(secret func() ([]byte, error)) *TempLinks {
	return &TempLinks{secret: secret}
}

func (t *TempLinks) sign(payload string) (string, error) {
	key, err := t.secret()
	if err != nil {
		return "", errors.Wrap(err, "loading temp link secret")
	}
	mac := hmac.New(sha256.New, key)
	_, _ = mac.Write([]byte(payload))
	return base64.URLEncoding.EncodeToString(mac.Sum(nil)), nil
}

// Generate issues a token for path. expiresIn is in seconds; zero or
// negative makes the link permanent.
func (t *TempLinks) Generate(path string, expiresIn int64) (string, error) {
	norm := fs.NormalizePath(path)
	expiry := "0"
	if expiresIn > 0 {
		expiry = strconv.FormatInt(time.Now().Unix()+expiresIn, 10)
	}
	payload := norm + ":" + expiry
	sig, err := t.sign(payload)
	if err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString([]byte(payload + ":" + sig)), nil
}

// Verify checks a token and returns the path it grants. Expired tokens
// fail with ErrorExpired, anything malformed or forged with
// ErrorInvalidArgument.
func (t *TempLinks) Verify(token string) (string, error) {
	raw, err := base64.URLEncoding.DecodeString(token)
	if err != nil {
		return "", errors.Wrap(fs.ErrorInvalidArgument, "undecodable temp link token")
	}
	decoded := string(raw)
	// Split from the right so the path may contain colons.
	sigIdx := strings.LastIndexByte(decoded, ':')
	if sigIdx < 0 {
		return "", errors.Wrap(fs.ErrorInvalidArgument, "malformed temp link token")
	}
	expIdx := strings.LastIndexByte(decoded[:sigIdx], ':')
	if expIdx < 0 {
		return "", errors.Wrap(fs.ErrorInvalidArgument, "malformed temp link token")
	}
	path, expiry, sig := decoded[:expIdx], decoded[expIdx+1:sigIdx], decoded[sigIdx+1:]

	if expiry != "0" {
		deadline, err := strconv.ParseInt(expiry, 10, 64)
		if err != nil {
			return "", errors.Wrap(fs.ErrorInvalidArgument, "malformed temp link expiry")
		}
		if time.Now().Unix() > deadline {
			return "", errors.Wrapf(fs.ErrorExpired, "temp link for %q", path)
		}
	}

	want, err := t.sign(path + ":" + expiry)
	if err != nil {
		return "", err
	}
	got, err := base64.URLEncoding.DecodeString(sig)
	if err != nil {
		return "", errors.Wrap(fs.ErrorInvalidArgument, "undecodable temp link signature")
	}
	wantRaw, _ := base64.URLEncoding.DecodeString(want)
	if !hmac.Equal(got, wantRaw) {
		return "", errors.Wrap(fs.ErrorInvalidArgument, "temp link signature mismatch")
	}
	return path, nil
}
