package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tlsn-notary/notary"
	"tlsn-notary/providers"
	"tlsn-notary/receipt"
	"tlsn-notary/server"
	"tlsn-notary/shared"

	"go.uber.org/zap"
)

func main() {
	cfg, err := server.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := shared.NewLoggerFromEnv(shared.ServiceNotary)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	signer, closeSigner, err := server.LoadSigner(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to load notary key", zap.Error(err))
	}
	defer closeSigner()

	verifyKey, err := server.LoadVerifyKey(cfg, signer)
	if err != nil {
		logger.Fatal("Failed to load verification key", zap.Error(err))
	}

	opts := server.Options{
		VerifyKey:      verifyKey,
		ProofCacheTTL:  cfg.ProofCacheTTL,
		AllowedOrigins: cfg.CORSAllowedOrigins,
		Logger:         logger,
	}

	receiptKey, err := server.LoadReceiptKey(cfg)
	if err != nil {
		logger.Fatal("Failed to load receipt key", zap.Error(err))
	}
	if receiptKey != nil {
		if opts.Receipts, err = receipt.NewIssuer(receiptKey); err != nil {
			logger.Fatal("Failed to create receipt issuer", zap.Error(err))
		}
	}

	n := notary.New(signer, notary.WithLogger(logger))
	if cfg.TargetURL != "" {
		source := server.NewTargetSource(cfg.TargetURL, providers.ParseRules(cfg.PrivatePatterns), n, signer.Public(), logger).
			WithClient(&http.Client{Timeout: 30 * time.Second})
		opts.Source = source
		logger.Info("Serving proofs for target", zap.Stringer("source", source))
	}

	srv, err := server.New(opts)
	if err != nil {
		logger.Fatal("Failed to create server", zap.Error(err))
	}
	if err := srv.Start(ctx); err != nil {
		logger.Fatal("Failed to start server", zap.Error(err))
	}

	httpServer := server.NewHTTPServer(cfg.Port, srv.Router())
	go func() {
		logger.Info("Starting notary server",
			zap.Int("port", cfg.Port),
			zap.String("notary_key_id", signer.Public().KeyID()),
			zap.String("algorithm", signer.Algorithm()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Critical("Server failed", zap.Error(err))
			cancel()
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigChan:
	case <-ctx.Done():
	}

	logger.Info("Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Shutdown error", zap.Error(err))
	}
	srv.Shutdown()

	logger.Info("Shutdown complete")
}
