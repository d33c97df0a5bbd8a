// Package bootstrap builds the configured store and inference backends for
// the server and the CLI.
package bootstrap

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/flow23flow23/artistrm-360-sub002/internal/config"
	"github.com/flow23flow23/artistrm-360-sub002/internal/inference"
	"github.com/flow23flow23/artistrm-360-sub002/internal/store"
)

// OpenRepository opens the store selected by STORE_BACKEND.
func OpenRepository(cfg *config.Config, logger *slog.Logger) (store.Repository, error) {
	switch cfg.StoreBackend {
	case config.StoreBadger:
		return store.NewBadger(store.BadgerOptions{Dir: cfg.BadgerDir, Logger: logger})
	case config.StoreSQLite:
		return store.NewSQLite(cfg.DBPath, logger)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}

// NewInferenceClient creates the client selected by INFERENCE_BACKEND. The
// returned func releases its connection.
func NewInferenceClient(cfg *config.Config, logger *slog.Logger) (inference.Client, func(), error) {
	ic := cfg.Inference
	switch ic.Backend {
	case config.InferenceGRPC:
		gc := inference.DefaultGrpcClientConfig()
		gc.Address = ic.Addr
		gc.Method = ic.Method
		gc.AuthToken = ic.Token
		gc.RequestTimeout = ic.Timeout
		gc.HistoryLimit = ic.HistoryLimit
		logger.Info("Connecting to inference service via gRPC", "address", ic.Addr, "method", ic.Method)
		client, err := inference.NewGrpcClient(gc, logger)
		if err != nil {
			return nil, nil, err
		}
		return client, client.Close, nil
	case config.InferenceOpenAI:
		client, err := inference.NewOpenAIClient(inference.OpenAIConfig{
			APIKey:         ic.OpenAIKey,
			BaseURL:        ic.OpenAIURL,
			Model:          ic.OpenAIModel,
			HistoryLimit:   ic.HistoryLimit,
			RequestTimeout: ic.Timeout,
		}, logger)
		if err != nil {
			return nil, nil, err
		}
		return client, func() {}, nil
	case config.InferenceCanned:
		logger.Warn("Using canned inference replies; set INFERENCE_BACKEND for a real model")
		return inference.NewCannedClient(nil, "", 300*time.Millisecond), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown inference backend %q", ic.Backend)
	}
}
