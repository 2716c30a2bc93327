// Package fuzz expands scenarios into paraphrased variants with a language
// model. Generation failures degrade to the original scenario.
package fuzz

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/Mindburn-Labs/avs/pkg/contracts"
	"github.com/Mindburn-Labs/avs/pkg/llm"
	"github.com/Mindburn-Labs/avs/pkg/runner"
)

const DefaultVariants = 3

const systemPrompt = `You generate adversarial test variants for an agent workflow.
Given a JSON scenario, produce paraphrased variants that exercise the same
workflow with different wording, recipients and edge-case values. Keep every
input key that the original has. Respond with a JSON array only; each element
is an object with optional "description", "inputs" and "node_inputs" fields.`

type Generator struct {
	client   llm.Client
	model    string
	variants int
	cache    *Cache
	sampling *llm.SamplingOptions
	logger   *slog.Logger
}

type Option func(*Generator)

// WithModel names the model; it is part of the cache key.
func WithModel(model string) Option {
	return func(g *Generator) { g.model = model }
}

func WithVariants(n int) Option {
	return func(g *Generator) {
		if n > 0 {
			g.variants = n
		}
	}
}

func WithCache(c *Cache) Option {
	return func(g *Generator) { g.cache = c }
}

func WithSampling(opts *llm.SamplingOptions) Option {
	return func(g *Generator) { g.sampling = opts }
}

func WithLogger(l *slog.Logger) Option {
	return func(g *Generator) {
		if l != nil {
			g.logger = l
		}
	}
}

func NewGenerator(client llm.Client, opts ...Option) *Generator {
	g := &Generator{
		client:   client,
		variants: DefaultVariants,
		sampling: &llm.SamplingOptions{Temperature: 0.9},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Expand returns the original scenario followed by its variants. When
// generation fails the original alone is returned with an explanatory note.
func (g *Generator) Expand(ctx context.Context, s runner.Scenario) ([]runner.Scenario, []string) {
	variants, err := g.Generate(ctx, s)
	if err != nil {
		g.logger.WarnContext(ctx, "scenario fuzzing failed, using original", "scenario", s.ID, "error", err)
		return []runner.Scenario{s}, []string{err.Error()}
	}
	return append([]runner.Scenario{s}, variants...), nil
}

// Generate produces up to the configured number of variants of s. Every
// error wraps contracts.ErrGenerationFailure.
func (g *Generator) Generate(ctx context.Context, s runner.Scenario) ([]runner.Scenario, error) {
	if g.client == nil {
		return nil, fmt.Errorf("%w: no model client configured", contracts.ErrGenerationFailure)
	}

	var key string
	if g.cache != nil {
		k, err := Key(s, g.variants, g.model)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", contracts.ErrGenerationFailure, err)
		}
		key = k
		cached, ok, err := g.cache.Get(key)
		switch {
		case err != nil:
			g.logger.WarnContext(ctx, "variant cache unreadable", "scenario", s.ID, "key", key, "error", err)
		case ok:
			g.logger.DebugContext(ctx, "variant cache hit", "scenario", s.ID, "key", key)
			return materialize(s, cached)
		}
	}

	variants, err := g.request(ctx, s)
	if err != nil {
		return nil, fmt.Errorf("%w: scenario %s: %v", contracts.ErrGenerationFailure, s.ID, err)
	}
	out, err := materialize(s, variants)
	if err != nil {
		return nil, err
	}
	if g.cache != nil {
		if err := g.cache.Put(key, variants); err != nil {
			g.logger.WarnContext(ctx, "variant cache write failed", "scenario", s.ID, "error", err)
		}
	}
	return out, nil
}

func (g *Generator) request(ctx context.Context, s runner.Scenario) ([]Variant, error) {
	body, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, err
	}
	msgs := []llm.Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: fmt.Sprintf("Produce exactly %d variants of this scenario:\n%s", g.variants, body)},
	}
	resp, err := g.client.Chat(ctx, msgs, g.sampling)
	if err != nil {
		return nil, err
	}
	variants, err := parseVariants(resp.Content)
	if err != nil {
		return nil, err
	}
	if len(variants) > g.variants {
		variants = variants[:g.variants]
	}
	return variants, nil
}

// parseVariants extracts the JSON array from a model reply, tolerating
// markdown fences and surrounding prose.
func parseVariants(content string) ([]Variant, error) {
	start := strings.Index(content, "[")
	end := strings.LastIndex(content, "]")
	if start < 0 || end < start {
		return nil, errors.New("reply contains no JSON array")
	}
	var out []Variant
	if err := json.Unmarshal([]byte(content[start:end+1]), &out); err != nil {
		return nil, fmt.Errorf("decode variants: %w", err)
	}
	if len(out) == 0 {
		return nil, errors.New("reply contains no variants")
	}
	return out, nil
}

func materialize(orig runner.Scenario, variants []Variant) ([]runner.Scenario, error) {
	out := make([]runner.Scenario, 0, len(variants))
	for i, v := range variants {
		sc := orig.Clone()
		sc.ID = orig.ID + "~" + strconv.Itoa(i+1)
		sc.VariantOf = orig.ID
		if v.Description != "" {
			sc.Description = v.Description
		}
		if sc.Inputs == nil && len(v.Inputs) > 0 {
			sc.Inputs = map[string]any{}
		}
		for k, val := range v.Inputs {
			sc.Inputs[k] = val
		}
		for node, inputs := range v.NodeInputs {
			if sc.NodeInputs == nil {
				sc.NodeInputs = map[string]map[string]any{}
			}
			if sc.NodeInputs[node] == nil {
				sc.NodeInputs[node] = map[string]any{}
			}
			for k, val := range inputs {
				sc.NodeInputs[node][k] = val
			}
		}
		if err := sc.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %v", contracts.ErrGenerationFailure, err)
		}
		out = append(out, sc)
	}
	return out, nil
}
