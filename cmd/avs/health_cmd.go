package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/pflag"

	"github.com/Mindburn-Labs/avs/pkg/config"
	"github.com/Mindburn-Labs/avs/pkg/gateway"
)

func runHealthCmd(args []string, stdout, stderr io.Writer) int {
	cfg := config.Load()

	defaultURL := cfg.GatewayURL
	if defaultURL == "" {
		defaultURL = "http://localhost:" + cfg.Port
	}

	var (
		url     string
		timeout time.Duration
	)
	cmd := pflag.NewFlagSet("health", pflag.ContinueOnError)
	cmd.SetOutput(stderr)
	cmd.StringVar(&url, "url", defaultURL, "Gateway base URL")
	cmd.DurationVar(&timeout, "timeout", 5*time.Second, "Request timeout")
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	client := gateway.NewClient(url, gateway.WithTimeout(timeout), gateway.WithRetry(1, 0))
	if err := client.Health(ctx); err != nil {
		_, _ = fmt.Fprintf(stderr, "Gateway at %s is unhealthy: %v\n", url, err)
		return 1
	}
	_, _ = fmt.Fprintln(stdout, "OK")
	return 0
}
