package fuzz

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/avs/pkg/contracts"
	"github.com/Mindburn-Labs/avs/pkg/llm"
	"github.com/Mindburn-Labs/avs/pkg/runner"
)

type fakeClient struct {
	reply string
	err   error
	calls atomic.Int32
	last  []llm.Message
}

func (f *fakeClient) Chat(_ context.Context, msgs []llm.Message, _ *llm.SamplingOptions) (*llm.Response, error) {
	f.calls.Add(1)
	f.last = msgs
	if f.err != nil {
		return nil, f.err
	}
	return &llm.Response{Content: f.reply}, nil
}

func sampleScenario() runner.Scenario {
	return runner.Scenario{
		ID:          "welcome",
		Description: "send a welcome email",
		Inputs:      map[string]any{"to": "ada@example.com", "subject": "Hello"},
	}
}

const twoVariants = "Here you go:\n```json\n" + `[
  {"description": "formal", "inputs": {"subject": "Greetings"}},
  {"inputs": {"to": "bob@example.com"}, "node_inputs": {"send": {"body": "hi"}}}
]` + "\n```"

func TestGenerator_Expand(t *testing.T) {
	client := &fakeClient{reply: twoVariants}
	g := NewGenerator(client, WithVariants(2))

	out, notes := g.Expand(context.Background(), sampleScenario())
	require.Empty(t, notes)
	require.Len(t, out, 3)

	assert.Equal(t, "welcome", out[0].ID)
	assert.Empty(t, out[0].VariantOf)

	assert.Equal(t, "welcome~1", out[1].ID)
	assert.Equal(t, "welcome", out[1].VariantOf)
	assert.Equal(t, "formal", out[1].Description)
	assert.Equal(t, "Greetings", out[1].Inputs["subject"])
	assert.Equal(t, "ada@example.com", out[1].Inputs["to"])

	assert.Equal(t, "welcome~2", out[2].ID)
	assert.Equal(t, "send a welcome email", out[2].Description)
	assert.Equal(t, "bob@example.com", out[2].Inputs["to"])
	assert.Equal(t, "hi", out[2].NodeInputs["send"]["body"])

	// The original is not mutated by variant merging.
	assert.Equal(t, "Hello", out[0].Inputs["subject"])

	require.Len(t, client.last, 2)
	assert.Contains(t, client.last[1].Content, "exactly 2 variants")
	assert.Contains(t, client.last[1].Content, `"welcome"`)
}

func TestGenerator_TruncatesExtraVariants(t *testing.T) {
	client := &fakeClient{reply: `[{"inputs":{}},{"inputs":{}},{"inputs":{}}]`}
	out, err := NewGenerator(client, WithVariants(1)).Generate(context.Background(), sampleScenario())
	require.NoError(t, err)
	assert.Len(t, out, 1)
}

func TestGenerator_FailureFallsBackToOriginal(t *testing.T) {
	cases := map[string]*fakeClient{
		"client error": {err: errors.New("connection refused")},
		"no array":     {reply: "I cannot help with that."},
		"empty array":  {reply: "[]"},
		"bad json":     {reply: `[{"inputs": }]`},
	}
	for name, client := range cases {
		t.Run(name, func(t *testing.T) {
			g := NewGenerator(client)
			_, err := g.Generate(context.Background(), sampleScenario())
			require.ErrorIs(t, err, contracts.ErrGenerationFailure)

			out, notes := g.Expand(context.Background(), sampleScenario())
			require.Len(t, out, 1)
			assert.Equal(t, "welcome", out[0].ID)
			require.Len(t, notes, 1)
			assert.Contains(t, notes[0], "generation failure")
		})
	}
}

func TestGenerator_NoClient(t *testing.T) {
	_, err := NewGenerator(nil).Generate(context.Background(), sampleScenario())
	assert.ErrorIs(t, err, contracts.ErrGenerationFailure)
}

func TestGenerator_UsesCache(t *testing.T) {
	cache, err := NewCache(t.TempDir())
	require.NoError(t, err)

	client := &fakeClient{reply: twoVariants}
	g := NewGenerator(client, WithVariants(2), WithCache(cache), WithModel("m1"))

	first, err := g.Generate(context.Background(), sampleScenario())
	require.NoError(t, err)
	second, err := g.Generate(context.Background(), sampleScenario())
	require.NoError(t, err)

	assert.Equal(t, int32(1), client.calls.Load())
	assert.Equal(t, first, second)

	// A different model misses the cache.
	other := NewGenerator(client, WithVariants(2), WithCache(cache), WithModel("m2"))
	_, err = other.Generate(context.Background(), sampleScenario())
	require.NoError(t, err)
	assert.Equal(t, int32(2), client.calls.Load())
}

func TestGenerator_CorruptCacheIsAMiss(t *testing.T) {
	dir := t.TempDir()
	cache, err := NewCache(dir)
	require.NoError(t, err)
	key, err := Key(sampleScenario(), 2, "")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, key+cacheExt), []byte("not zstd"), 0o644))

	client := &fakeClient{reply: twoVariants}
	out, err := NewGenerator(client, WithVariants(2), WithCache(cache)).Generate(context.Background(), sampleScenario())
	require.NoError(t, err)
	assert.Len(t, out, 2)
	assert.Equal(t, int32(1), client.calls.Load())
}

func TestParseVariants(t *testing.T) {
	v, err := parseVariants(twoVariants)
	require.NoError(t, err)
	assert.Len(t, v, 2)

	_, err = parseVariants("] nothing [")
	assert.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "no JSON array"))
}
