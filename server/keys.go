package server

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"os"

	"tlsn-notary/notary"
	"tlsn-notary/shared"

	"go.uber.org/zap"
)

// LoadSigner returns the notary signing key described by cfg and a cleanup
// function releasing any cloud client it opened.
func LoadSigner(ctx context.Context, cfg *Config, logger *shared.Logger) (notary.Signer, func(), error) {
	noop := func() {}

	switch {
	case cfg.NotaryKMSKey != "":
		client, closeFn, err := notary.NewGCPKMSClient(ctx)
		if err != nil {
			return nil, noop, err
		}
		signer, err := notary.NewKMSSigner(ctx, client, cfg.NotaryKMSKey)
		if err != nil {
			closeFn()
			return nil, noop, err
		}
		logger.Info("Using Cloud KMS notary key", zap.String("key", cfg.NotaryKMSKey))
		return signer, func() { closeFn() }, nil

	case cfg.NotarySecret != "":
		client, closeFn, err := notary.NewGCPSecretClient(ctx)
		if err != nil {
			return nil, noop, err
		}
		defer closeFn()
		signer, err := notary.LoadSecretKey(ctx, client, cfg.NotarySecret)
		if err != nil {
			return nil, noop, err
		}
		logger.Info("Loaded notary key from Secret Manager", zap.String("secret", cfg.NotarySecret))
		return signer, noop, nil

	case cfg.NotaryKeyPath != "":
		data, err := os.ReadFile(cfg.NotaryKeyPath)
		if err != nil {
			return nil, noop, fmt.Errorf("failed to read notary key: %v", err)
		}
		signer, err := notary.LoadPrivateKeyPEM(data)
		if err != nil {
			return nil, noop, err
		}
		logger.Info("Loaded notary key from file", zap.String("path", cfg.NotaryKeyPath))
		return signer, noop, nil
	}

	signer, err := notary.GenerateP256Signer()
	if err != nil {
		return nil, noop, err
	}
	logger.Warn("No notary key configured, generated an ephemeral key",
		zap.String("key_id", signer.Public().KeyID()))
	return signer, noop, nil
}

// LoadVerifyKey returns the key /verify trusts.
func LoadVerifyKey(cfg *Config, signer notary.Signer) (notary.PublicKey, error) {
	if cfg.NotaryPubKeyPath == "" {
		return signer.Public(), nil
	}
	data, err := os.ReadFile(cfg.NotaryPubKeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read notary public key: %v", err)
	}
	return notary.ParsePublicKey(data)
}

// LoadReceiptKey reads the receipt signing key, or returns nil when receipts
// are disabled.
func LoadReceiptKey(cfg *Config) (*ecdsa.PrivateKey, error) {
	if cfg.ReceiptKeyPath == "" {
		return nil, nil
	}
	data, err := os.ReadFile(cfg.ReceiptKeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read receipt key: %v", err)
	}
	signer, err := notary.LoadPrivateKeyPEM(data)
	if err != nil {
		return nil, err
	}
	return signer.PrivateKey(), nil
}
