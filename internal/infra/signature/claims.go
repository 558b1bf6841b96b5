package signature

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"eat/internal/domain"
)

// documentClaims carries a catalog document as the JWS payload. Catalogs
// are not time-bound, so every registered claim is absent.
type documentClaims struct {
	doc domain.CatalogDocument
}

func (c *documentClaims) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.doc)
}

func (c *documentClaims) UnmarshalJSON(data []byte) error {
	var doc domain.CatalogDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	c.doc = doc
	return nil
}

func (c *documentClaims) GetExpirationTime() (*jwt.NumericDate, error) { return nil, nil }
func (c *documentClaims) GetIssuedAt() (*jwt.NumericDate, error)       { return nil, nil }
func (c *documentClaims) GetNotBefore() (*jwt.NumericDate, error)      { return nil, nil }
func (c *documentClaims) GetIssuer() (string, error)                   { return "", nil }
func (c *documentClaims) GetSubject() (string, error)                  { return "", nil }
func (c *documentClaims) GetAudience() (jwt.ClaimStrings, error)       { return nil, nil }

// Header is the unverified JWS protected header.
type Header struct {
	Algorithm string `json:"alg"`
	KeyID     string `json:"kid,omitempty"`
	Type      string `json:"typ,omitempty"`
}

// ReadHeader decodes the protected header of a compact JWS without
// touching the payload or the signature.
func ReadHeader(token string) (Header, error) {
	parts := strings.Split(strings.TrimSpace(token), ".")
	if len(parts) != 3 {
		return Header{}, fmt.Errorf("compact jws must have 3 segments, got %d", len(parts))
	}
	raw, err := jwt.NewParser().DecodeSegment(parts[0])
	if err != nil {
		return Header{}, fmt.Errorf("decode jws header: %w", err)
	}
	var header Header
	if err := json.Unmarshal(raw, &header); err != nil {
		return Header{}, fmt.Errorf("decode jws header: %w", err)
	}
	return header, nil
}

// DecodeUnverified returns the payload document without checking the
// signature. Callers must treat the result as untrusted.
func DecodeUnverified(token string) (domain.CatalogDocument, Header, error) {
	const op = "signature.decode_unverified"
	header, err := ReadHeader(token)
	if err != nil {
		return domain.CatalogDocument{}, Header{}, domain.InvalidCatalogError(op, "", err)
	}
	claims := &documentClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(strings.TrimSpace(token), claims); err != nil {
		return domain.CatalogDocument{}, Header{}, domain.InvalidCatalogError(op, "", err)
	}
	if err := claims.doc.Validate(); err != nil {
		return domain.CatalogDocument{}, Header{}, err
	}
	return claims.doc, header, nil
}

// LooksLikeJWS reports whether body is shaped like a compact JWS.
func LooksLikeJWS(body []byte) bool {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" || strings.ContainsAny(trimmed, " \n\t{}") {
		return false
	}
	return strings.Count(trimmed, ".") == 2
}
