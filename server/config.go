package server

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"time"

	"tlsn-notary/shared"

	"github.com/joho/godotenv"
)

// Config holds the notary service settings.
type Config struct {
	Port int `json:"port"`

	// Notary signing key, first match wins: Cloud KMS key version, Secret
	// Manager secret version, PEM file. An ephemeral key is generated when
	// none is set.
	NotaryKMSKey  string `json:"notary_kms_key"`
	NotarySecret  string `json:"notary_secret"`
	NotaryKeyPath string `json:"notary_key_path"`

	// NotaryPubKeyPath holds the key /verify checks proofs against (PEM or
	// 0x address). Defaults to the signing key's public half.
	NotaryPubKeyPath string `json:"notary_pubkey_path"`

	// TargetURL is fetched and notarized by GET /proof.
	TargetURL       string   `json:"target_url"`
	PrivatePatterns []string `json:"private_patterns"`

	// CORSAllowedOrigins lists browser origins allowed to call the service.
	CORSAllowedOrigins []string `json:"cors_allowed_origins"`

	// ReceiptKeyPath enables JWT receipts on /verify when set.
	ReceiptKeyPath string `json:"receipt_key_path"`

	ProofCacheTTL time.Duration `json:"proof_cache_ttl"`
	Development   bool          `json:"development"`
}

// LoadConfig reads an optional .env file and the environment.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("error loading .env file: %w", err)
	}

	cfg := &Config{
		Port:               shared.GetEnvIntOrDefault("PORT", 8080),
		NotaryKMSKey:       shared.GetEnvOrDefault("NOTARY_KMS_KEY", ""),
		NotarySecret:       shared.GetEnvOrDefault("NOTARY_SECRET", ""),
		NotaryKeyPath:      shared.GetEnvOrDefault("NOTARY_KEY_PATH", ""),
		NotaryPubKeyPath:   shared.GetEnvOrDefault("NOTARY_PUBKEY_PATH", ""),
		TargetURL:          shared.GetEnvOrDefault("TARGET_URL", ""),
		PrivatePatterns:    shared.GetEnvListOrDefault("PRIVATE_PATTERNS", nil),
		ReceiptKeyPath:     shared.GetEnvOrDefault("RECEIPT_KEY_PATH", ""),
		CORSAllowedOrigins: shared.GetEnvListOrDefault("CORS_ALLOWED_ORIGINS", []string{"*"}),
		ProofCacheTTL:      shared.GetEnvDurationOrDefault("PROOF_CACHE_TTL", 10*time.Minute),
		Development:        shared.GetEnvBoolOrDefault("DEVELOPMENT", false),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks settings that would otherwise fail at request time.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.TargetURL != "" {
		u, err := url.Parse(c.TargetURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("invalid TARGET_URL %q", c.TargetURL)
		}
	}
	if c.ProofCacheTTL <= 0 {
		return fmt.Errorf("invalid PROOF_CACHE_TTL %s", c.ProofCacheTTL)
	}
	return nil
}
