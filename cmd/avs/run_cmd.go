package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/Mindburn-Labs/avs/pkg/artifacts"
	"github.com/Mindburn-Labs/avs/pkg/audit"
	"github.com/Mindburn-Labs/avs/pkg/config"
	"github.com/Mindburn-Labs/avs/pkg/contracts"
	"github.com/Mindburn-Labs/avs/pkg/fuzz"
	"github.com/Mindburn-Labs/avs/pkg/gateway"
	"github.com/Mindburn-Labs/avs/pkg/invariants"
	"github.com/Mindburn-Labs/avs/pkg/llm"
	"github.com/Mindburn-Labs/avs/pkg/observability"
	"github.com/Mindburn-Labs/avs/pkg/report"
	"github.com/Mindburn-Labs/avs/pkg/runner"
	"github.com/Mindburn-Labs/avs/pkg/store"
)

type runFlags struct {
	graph       string
	contracts   string
	invariants  string
	scenarios   string
	reportDir   string
	cacheDir    string
	fuzz        bool
	variants    int
	concurrency int
	gatewayURL  string
	timeout     time.Duration
	archive     bool
}

// runRunCmd implements `avs run`.
//
// Exit codes:
//
//	0 = run completed (invariant failures are reported, not fatal)
//	2 = usage, configuration or input error
func runRunCmd(args []string, stdout, stderr io.Writer) int {
	cfg := config.Load()

	var f runFlags
	cmd := pflag.NewFlagSet("run", pflag.ContinueOnError)
	cmd.SetOutput(stderr)
	cmd.StringVar(&f.graph, "graph", "./examples/graphs/sample.jsonc", "Path to the graph JSON/JSONC file")
	cmd.StringVar(&f.contracts, "contracts", "./examples/contracts", "Path to the contracts directory")
	cmd.StringVar(&f.invariants, "invariants", "./examples/invariants.yml", "Path to the invariants YAML file (empty for built-in defaults)")
	cmd.StringVar(&f.scenarios, "scenarios", "./examples/scenarios.yml", "Path to the scenarios YAML/JSON file")
	cmd.StringVar(&f.reportDir, "report", "./reports", "Directory for report.{json,md,html} and audit logs")
	cmd.StringVar(&f.cacheDir, "cache", "./.cache", "Directory for cached fuzz variants (empty disables)")
	cmd.BoolVar(&f.fuzz, "fuzz", false, "Generate scenario variants with an LLM (requires LLM_API_KEY or LLM_BASE_URL)")
	cmd.IntVar(&f.variants, "variants", fuzz.DefaultVariants, "Variants per scenario when fuzzing")
	cmd.IntVar(&f.concurrency, "concurrency", 0, "Scenarios executed in parallel (0 = GOMAXPROCS)")
	cmd.StringVar(&f.gatewayURL, "gateway", cfg.GatewayURL, "Mint tokens and ingest records through this gateway")
	cmd.DurationVar(&f.timeout, "timeout", 0, "Abort the run after this long (0 = no limit)")
	cmd.BoolVar(&f.archive, "archive", false, "Archive the report files to ARTIFACT_STORAGE_TYPE storage")
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	logger := newLogger(stderr, cfg.Level(), false)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	graph, err := runner.ReadGraph(f.graph)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	set, err := loadContractDir(f.contracts)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	env := invariants.Env{Contracts: set}
	invs := invariants.Defaults(env)
	if f.invariants != "" {
		if invs, err = config.LoadInvariants(f.invariants, env); err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 2
		}
	}
	scenarios, err := config.LoadScenarios(f.scenarios)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	svc, err := newServices(ctx, cfg, logger)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	telemetry, err := observability.New(ctx, cfg.Telemetry(version))
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: telemetry: %v\n", err)
		return 2
	}
	defer func() { _ = telemetry.Shutdown(context.WithoutCancel(ctx)) }()

	auditDir, err := audit.NewDir(filepath.Join(f.reportDir, "audit"))
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	rc := runner.Config{
		Graph:       graph,
		Contracts:   set,
		Invariants:  invs,
		Delegations: svc.delegations,
		Provenance:  svc.provenance,
		AuditDir:    auditDir,
		Tracker:     telemetry,
		Concurrency: f.concurrency,
		Logger:      logger,
	}

	if f.gatewayURL != "" {
		client := gateway.NewClient(f.gatewayURL, gateway.WithClientLogger(logger))
		rc.Tokens = client
		rc.Sink = client
	} else {
		traces, err := store.Open(ctx, cfg.Store(), logger)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: trace store: %v\n", err)
			return 2
		}
		defer func() { _ = traces.Close() }()
		rc.Tokens = runner.LocalTokens{Service: svc.tokens}
		rc.Sink = store.Sink{Store: traces, Provenance: svc.provenance}
	}

	if f.fuzz {
		gen, err := newGenerator(cfg, f, logger)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 2
		}
		if gen != nil {
			rc.Expander = gen
		}
	}

	r, err := runner.New(rc)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	res, err := r.Run(ctx, scenarios)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	rep := report.Build(res, time.Now())
	files, err := report.WriteDir(f.reportDir, rep)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: writing report: %v\n", err)
		return 2
	}

	s := res.Summary
	_, _ = fmt.Fprintf(stdout, "Run %s: %d scenarios, %d passed, %d failed, %d cancelled\n",
		res.RunID, s.Total, s.Passed, s.Failed, s.Cancelled)
	_, _ = fmt.Fprintf(stdout, "Report: %s\n", files.HTML)

	if f.archive {
		archive, err := artifacts.Open(ctx, cfg.Artifacts)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: artifact store: %v\n", err)
			return 2
		}
		ref, _, err := artifacts.Archive(context.WithoutCancel(ctx), archive, res.RunID, time.Now(), files.All()...)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: archiving report: %v\n", err)
			return 2
		}
		_, _ = fmt.Fprintf(stdout, "Archived: %s\n", ref)
	}
	return 0
}

// loadContractDir treats a missing directory as "no contracts declared".
func loadContractDir(dir string) (contracts.ContractSet, error) {
	if dir == "" {
		return contracts.ContractSet{}, nil
	}
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return contracts.ContractSet{}, nil
	}
	return config.LoadContracts(dir)
}

func newGenerator(cfg *config.Config, f runFlags, logger *slog.Logger) (*fuzz.Generator, error) {
	if !cfg.FuzzEnabled() {
		logger.Warn("fuzzing requested but no LLM backend configured; running originals only")
		return nil, nil
	}
	model := cfg.LLMModel
	if model == "" {
		model = llm.DefaultModel
	}
	client := llm.NewOpenAIClient(cfg.LLMAPIKey, model).WithBaseURL(cfg.LLMBaseURL)
	opts := []fuzz.Option{
		fuzz.WithModel(model),
		fuzz.WithVariants(f.variants),
		fuzz.WithLogger(logger),
	}
	if sampling := cfg.Sampling(); sampling != nil {
		opts = append(opts, fuzz.WithSampling(sampling))
	}
	if f.cacheDir != "" {
		cache, err := fuzz.NewCache(f.cacheDir)
		if err != nil {
			return nil, err
		}
		opts = append(opts, fuzz.WithCache(cache))
	}
	return fuzz.NewGenerator(client, opts...), nil
}
