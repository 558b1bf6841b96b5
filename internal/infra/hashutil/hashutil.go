package hashutil

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"eat/internal/domain"
)

// Value is a lowercase hex-encoded SHA-256 digest.
type Value string

const (
	digestHexLen = sha256.Size * 2
	sha256Prefix = "sha256:"
)

// ErrMalformedDigest reports an expected digest that is not 64 hex characters.
var ErrMalformedDigest = errors.New("malformed digest")

// Source fetches the bytes behind a URL.
type Source interface {
	Fetch(ctx context.Context, rawURL string) ([]byte, error)
}

// Digest returns the SHA-256 digest of data.
func Digest(data []byte) Value {
	sum := sha256.Sum256(data)
	return Value(hex.EncodeToString(sum[:]))
}

// ParseDigest normalizes s to a Value. An optional "sha256:" prefix and
// surrounding whitespace are accepted; hex is case-insensitive.
func ParseDigest(s string) (Value, error) {
	trimmed := strings.ToLower(strings.TrimSpace(s))
	trimmed = strings.TrimPrefix(trimmed, sha256Prefix)
	if len(trimmed) != digestHexLen {
		return "", fmt.Errorf("%w: want %d hex characters, got %d", ErrMalformedDigest, digestHexLen, len(trimmed))
	}
	if _, err := hex.DecodeString(trimmed); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedDigest, err)
	}
	return Value(trimmed), nil
}

// Verify reports whether data hashes to expected. It only returns an error
// when expected itself is malformed.
func Verify(data []byte, expected string) (bool, error) {
	want, err := ParseDigest(expected)
	if err != nil {
		return false, err
	}
	got := Digest(data)
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1, nil
}

// VerifyURL fetches rawURL through src and compares its digest with expected.
// Fetch failures yield false with a nil error.
func VerifyURL(ctx context.Context, src Source, rawURL, expected string) (bool, error) {
	if _, err := ParseDigest(expected); err != nil {
		return false, err
	}
	data, err := src.Fetch(ctx, rawURL)
	if err != nil {
		return false, nil
	}
	return Verify(data, expected)
}

// Placeholder derives a digest from the URL string. It says nothing about the
// referenced content and must only be used behind an explicit unsafe flag.
func Placeholder(rawURL string) Value {
	return Digest([]byte(rawURL))
}

// DocumentETag returns a digest of the encoded document and logs on failure.
func DocumentETag(logger *zap.Logger, doc domain.CatalogDocument) string {
	return hashWithLogger(logger, "catalog", func() (string, error) {
		data, err := json.Marshal(doc)
		if err != nil {
			return "", err
		}
		return string(Digest(data)), nil
	})
}

func hashWithLogger(logger *zap.Logger, label string, fn func() (string, error)) string {
	etag, err := fn()
	if err != nil {
		if logger != nil {
			logger.Warn(fmt.Sprintf("%s hash failed", label), zap.Error(err))
		}
		return ""
	}
	return etag
}
