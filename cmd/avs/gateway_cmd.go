package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/Mindburn-Labs/avs/pkg/config"
	"github.com/Mindburn-Labs/avs/pkg/gateway"
	"github.com/Mindburn-Labs/avs/pkg/observability"
	"github.com/Mindburn-Labs/avs/pkg/store"
)

// runGatewayCmd implements `avs gateway`. It serves until interrupted.
func runGatewayCmd(args []string, _, stderr io.Writer) int {
	cfg := config.Load()

	var (
		addr  string
		rps   float64
		burst int
	)
	cmd := pflag.NewFlagSet("gateway", pflag.ContinueOnError)
	cmd.SetOutput(stderr)
	cmd.StringVar(&addr, "addr", ":"+cfg.Port, "Listen address")
	cmd.Float64Var(&rps, "rate", 50, "Requests per second per client IP (0 disables limiting)")
	cmd.IntVar(&burst, "burst", 100, "Rate limiter burst size")
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	logger := newLogger(stderr, cfg.Level(), true)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := newServices(ctx, cfg, logger)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	traces, err := store.Open(ctx, cfg.Store(), logger)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: trace store: %v\n", err)
		return 2
	}
	defer func() { _ = traces.Close() }()

	telemetry, err := observability.New(ctx, cfg.Telemetry(version))
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: telemetry: %v\n", err)
		return 2
	}
	defer func() { _ = telemetry.Shutdown(context.WithoutCancel(ctx)) }()

	srv, err := gateway.NewServer(gateway.Options{
		Tokens:     svc.tokens,
		Provenance: svc.provenance,
		Store:      traces,
		RateLimit:  rps,
		Burst:      burst,
		Telemetry:  telemetry,
		Logger:     logger,
	})
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	if err := srv.ListenAndServe(ctx, addr); err != nil {
		logger.Error("gateway stopped", "error", err)
		return 1
	}
	return 0
}
