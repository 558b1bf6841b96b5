package config

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"eat/internal/domain"
)

type Loader struct {
	logger *zap.Logger
}

func NewLoader(logger *zap.Logger) *Loader {
	if logger == nil {
		return &Loader{logger: zap.NewNop()}
	}
	return &Loader{logger: logger.Named("config")}
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v)
	return v
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("fetchTimeoutSeconds", domain.DefaultFetchTimeoutSeconds)
	v.SetDefault("keyResolutionTimeoutSeconds", domain.DefaultKeyResolutionTimeoutSeconds)
	v.SetDefault("invokeTimeoutSeconds", domain.DefaultInvokeTimeoutSeconds)
	v.SetDefault("verifySignatures", domain.DefaultVerifySignatures)
	v.SetDefault("integrityConcurrency", domain.DefaultIntegrityConcurrency)
	v.SetDefault("allowFileURLs", domain.DefaultAllowFileURLs)
	v.SetDefault("userAgent", domain.DefaultUserAgent)
	v.SetDefault("maxDocumentBytes", domain.DefaultMaxDocumentBytes)
	v.SetDefault("diagnosticsBufferSize", domain.DefaultDiagnosticsBufferSize)
	v.SetDefault("signing.unsafePlaceholderDigests", false)
}

type rawConfig struct {
	FetchTimeoutSeconds         int           `mapstructure:"fetchTimeoutSeconds"`
	KeyResolutionTimeoutSeconds int           `mapstructure:"keyResolutionTimeoutSeconds"`
	InvokeTimeoutSeconds        int           `mapstructure:"invokeTimeoutSeconds"`
	VerifySignatures            bool          `mapstructure:"verifySignatures"`
	IntegrityConcurrency        int           `mapstructure:"integrityConcurrency"`
	AllowFileURLs               bool          `mapstructure:"allowFileURLs"`
	UserAgent                   string        `mapstructure:"userAgent"`
	MaxDocumentBytes            int64         `mapstructure:"maxDocumentBytes"`
	DiagnosticsBufferSize       int           `mapstructure:"diagnosticsBufferSize"`
	TrustStore                  rawTrustStore `mapstructure:"trustStore"`
	Signing                     rawSigning    `mapstructure:"signing"`
}

type rawTrustStore struct {
	Path string          `mapstructure:"path"`
	Keys []rawTrustedKey `mapstructure:"keys"`
}

// Trusted keys are a list rather than a map: viper folds map keys to lower
// case and key ids are case sensitive.
type rawTrustedKey struct {
	KeyID   string `mapstructure:"keyId"`
	PEM     string `mapstructure:"pem"`
	PEMFile string `mapstructure:"pemFile"`
}

type rawSigning struct {
	PrivateKeyFile           string `mapstructure:"privateKeyFile"`
	KeyID                    string `mapstructure:"keyId"`
	UnsafePlaceholderDigests bool   `mapstructure:"unsafePlaceholderDigests"`
}

// Load reads the YAML file at path. An empty path yields defaults. Relative
// file paths inside the config resolve against the config's directory.
func (l *Loader) Load(ctx context.Context, path string) (Config, error) {
	const op = "config.load"
	if strings.TrimSpace(path) == "" {
		return Default(), ctx.Err()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, domain.E(domain.CodeConfiguration, op, "", fmt.Errorf("read config: %w", err))
	}
	cfg, err := l.Parse(data, filepath.Dir(path))
	if err != nil {
		return Config{}, err
	}
	return cfg, ctx.Err()
}

// Parse decodes raw YAML. baseDir anchors relative file references.
func (l *Loader) Parse(data []byte, baseDir string) (Config, error) {
	const op = "config.parse"
	expanded, missing, err := expandConfigEnv(data)
	if err != nil {
		return Config{}, domain.E(domain.CodeConfiguration, op, "", err)
	}
	if len(missing) > 0 {
		l.logger.Warn("missing environment variables in config", zap.Strings("missing", missing))
	}

	raw, err := decodeConfig(expanded)
	if err != nil {
		return Config{}, domain.E(domain.CodeConfiguration, op, "", err)
	}
	cfg, errs := normalizeConfig(raw, baseDir)
	if len(errs) > 0 {
		return Config{}, domain.ConfigurationError(op, strings.Join(errs, "; "))
	}
	return cfg, nil
}

func decodeConfig(expanded string) (rawConfig, error) {
	v := newViper()
	if err := v.ReadConfig(bytes.NewBufferString(expanded)); err != nil {
		return rawConfig{}, fmt.Errorf("parse config: %w", err)
	}
	var cfg rawConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return rawConfig{}, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

func normalizeConfig(raw rawConfig, baseDir string) (Config, []string) {
	var errs []string
	positive := func(name string, value int64) {
		if value <= 0 {
			errs = append(errs, fmt.Sprintf("%s must be > 0", name))
		}
	}
	positive("fetchTimeoutSeconds", int64(raw.FetchTimeoutSeconds))
	positive("keyResolutionTimeoutSeconds", int64(raw.KeyResolutionTimeoutSeconds))
	positive("invokeTimeoutSeconds", int64(raw.InvokeTimeoutSeconds))
	positive("integrityConcurrency", int64(raw.IntegrityConcurrency))
	positive("maxDocumentBytes", raw.MaxDocumentBytes)
	positive("diagnosticsBufferSize", int64(raw.DiagnosticsBufferSize))

	userAgent := strings.TrimSpace(raw.UserAgent)
	if userAgent == "" {
		userAgent = domain.DefaultUserAgent
	}

	cfg := Config{
		FetchTimeoutSeconds:         raw.FetchTimeoutSeconds,
		KeyResolutionTimeoutSeconds: raw.KeyResolutionTimeoutSeconds,
		InvokeTimeoutSeconds:        raw.InvokeTimeoutSeconds,
		VerifySignatures:            raw.VerifySignatures,
		IntegrityConcurrency:        raw.IntegrityConcurrency,
		AllowFileURLs:               raw.AllowFileURLs,
		UserAgent:                   userAgent,
		MaxDocumentBytes:            raw.MaxDocumentBytes,
		DiagnosticsBufferSize:       raw.DiagnosticsBufferSize,
		TrustStore: TrustStoreConfig{
			Path: resolvePath(baseDir, raw.TrustStore.Path),
		},
		Signing: SigningConfig{
			PrivateKeyFile:           resolvePath(baseDir, raw.Signing.PrivateKeyFile),
			KeyID:                    strings.TrimSpace(raw.Signing.KeyID),
			UnsafePlaceholderDigests: raw.Signing.UnsafePlaceholderDigests,
		},
	}

	seen := make(map[string]struct{}, len(raw.TrustStore.Keys))
	for i, key := range raw.TrustStore.Keys {
		kid := strings.TrimSpace(key.KeyID)
		hasPEM := strings.TrimSpace(key.PEM) != ""
		hasFile := strings.TrimSpace(key.PEMFile) != ""
		switch {
		case kid == "":
			errs = append(errs, fmt.Sprintf("trustStore.keys[%d]: keyId is required", i))
			continue
		case hasPEM == hasFile:
			errs = append(errs, fmt.Sprintf("trustStore.keys[%d] (%s): exactly one of pem or pemFile is required", i, kid))
			continue
		}
		if _, dup := seen[kid]; dup {
			errs = append(errs, fmt.Sprintf("trustStore.keys[%d]: duplicate keyId %q", i, kid))
			continue
		}
		seen[kid] = struct{}{}
		cfg.TrustStore.Keys = append(cfg.TrustStore.Keys, TrustedKey{
			KeyID:   kid,
			PEM:     key.PEM,
			PEMFile: resolvePath(baseDir, key.PEMFile),
		})
	}

	if cfg.Signing.PrivateKeyFile != "" && cfg.Signing.KeyID == "" {
		errs = append(errs, "signing.keyId is required when signing.privateKeyFile is set")
	}
	return cfg, errs
}

func resolvePath(baseDir, path string) string {
	path = strings.TrimSpace(path)
	if path == "" || filepath.IsAbs(path) || baseDir == "" {
		return path
	}
	return filepath.Join(baseDir, path)
}
