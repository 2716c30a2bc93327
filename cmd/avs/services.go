package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Mindburn-Labs/avs/pkg/capability"
	"github.com/Mindburn-Labs/avs/pkg/config"
	"github.com/Mindburn-Labs/avs/pkg/crypto"
	"github.com/Mindburn-Labs/avs/pkg/delegation"
	"github.com/Mindburn-Labs/avs/pkg/provenance"
)

// services are the signer-backed protocol services shared by subcommands.
type services struct {
	tokens      *capability.Service
	delegations *delegation.Service
	provenance  *provenance.Service
}

func newServices(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*services, error) {
	secret, err := crypto.LoadSecret(cfg.Secret())
	if err != nil {
		return nil, fmt.Errorf("%w (set AIEP_SIGNING_SECRET or AVS_ALLOW_DEV_SECRET=true)", err)
	}
	signer, err := crypto.NewSignerFromSecret(secret)
	if err != nil {
		return nil, err
	}

	var opts []capability.Option
	if cfg.RedisAddr != "" {
		logger.InfoContext(ctx, "jti registry: redis", "addr", cfg.RedisAddr)
		opts = append(opts, capability.WithRegistry(capability.DialRedisRegistry(cfg.RedisAddr, "", cfg.RedisDB)))
	}
	if cfg.TokenTTL > 0 {
		opts = append(opts, capability.WithDefaultTTL(cfg.TokenTTL))
	}

	return &services{
		tokens:      capability.NewService(signer, opts...),
		delegations: delegation.NewService(signer),
		provenance:  provenance.NewService(signer),
	}, nil
}
