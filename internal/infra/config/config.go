package config

import (
	"time"

	"eat/internal/domain"
)

// Config holds every tunable the components read at construction.
type Config struct {
	FetchTimeoutSeconds         int
	KeyResolutionTimeoutSeconds int
	InvokeTimeoutSeconds        int
	VerifySignatures            bool
	IntegrityConcurrency        int
	AllowFileURLs               bool
	UserAgent                   string
	MaxDocumentBytes            int64
	DiagnosticsBufferSize       int
	TrustStore                  TrustStoreConfig
	Signing                     SigningConfig
}

type TrustStoreConfig struct {
	// Path is the bbolt file. Empty disables the persistent store.
	Path string
	Keys []TrustedKey
}

// TrustedKey pins a PEM public key under a key id. Exactly one of PEM and
// PEMFile is set.
type TrustedKey struct {
	KeyID   string
	PEM     string
	PEMFile string
}

type SigningConfig struct {
	PrivateKeyFile           string
	KeyID                    string
	UnsafePlaceholderDigests bool
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		FetchTimeoutSeconds:         domain.DefaultFetchTimeoutSeconds,
		KeyResolutionTimeoutSeconds: domain.DefaultKeyResolutionTimeoutSeconds,
		InvokeTimeoutSeconds:        domain.DefaultInvokeTimeoutSeconds,
		VerifySignatures:            domain.DefaultVerifySignatures,
		IntegrityConcurrency:        domain.DefaultIntegrityConcurrency,
		AllowFileURLs:               domain.DefaultAllowFileURLs,
		UserAgent:                   domain.DefaultUserAgent,
		MaxDocumentBytes:            domain.DefaultMaxDocumentBytes,
		DiagnosticsBufferSize:       domain.DefaultDiagnosticsBufferSize,
	}
}

func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.FetchTimeoutSeconds) * time.Second
}

func (c Config) KeyResolutionTimeout() time.Duration {
	return time.Duration(c.KeyResolutionTimeoutSeconds) * time.Second
}

func (c Config) InvokeTimeout() time.Duration {
	return time.Duration(c.InvokeTimeoutSeconds) * time.Second
}
