package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/avs/pkg/config"
	"github.com/Mindburn-Labs/avs/pkg/contracts"
	"github.com/Mindburn-Labs/avs/pkg/invariants"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadContracts(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "send_email.yml", `
name: send_email
version: 1.0.0
side_effects: [email]
idempotent: false
compensation: recall_email
preconditions:
  - "has(inputs.to)"
`)
	writeFile(t, dir, "billing.yaml", `
name: charge_card
version: 0.2.0
---
name: refund_card
version: 0.2.0
`)
	writeFile(t, dir, "README.md", "not a contract")

	set, err := config.LoadContracts(dir)
	require.NoError(t, err)
	require.Len(t, set, 3)

	email := set["send_email"]
	assert.False(t, email.IsIdempotent())
	assert.Equal(t, "recall_email", email.Compensation)
	assert.Equal(t, []string{"has(inputs.to)"}, email.Preconditions)
	assert.Contains(t, set, "refund_card")
}

func TestLoadContractsRejects(t *testing.T) {
	cases := map[string]string{
		"bad version": "name: a\nversion: one\n",
		"no name":     "version: 1.0.0\n",
		"bad yaml":    "name: [a\n",
		"duplicate":   "name: a\nversion: 1.0.0\n---\nname: a\nversion: 1.0.1\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			writeFile(t, dir, "c.yml", body)
			_, err := config.LoadContracts(dir)
			assert.ErrorIs(t, err, contracts.ErrMalformed)
		})
	}

	_, err := config.LoadContracts(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}

func TestParseInvariantsForms(t *testing.T) {
	list, err := config.ParseInvariants([]byte(`
invariants:
  - name: no_pii
  - name: small_budget
    kind: budget
    params:
      ceiling: 0.05
`))
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, invariants.KindBudget, list[1].Kind)
	assert.Equal(t, 0.05, list[1].Params["ceiling"])

	byName, err := config.ParseInvariants([]byte(`
invariants:
  no_pii:
  hop_limit:
    params:
      ceiling: 2
`))
	require.NoError(t, err)
	require.Len(t, byName, 2)
	assert.Equal(t, "no_pii", byName[0].Name)
	assert.Equal(t, "hop_limit", byName[1].Name)
	assert.Equal(t, 2, byName[1].Params["ceiling"])

	empty, err := config.ParseInvariants([]byte("other: true\n"))
	require.NoError(t, err)
	assert.Empty(t, empty)

	_, err = config.ParseInvariants([]byte("invariants: 3\n"))
	assert.ErrorIs(t, err, contracts.ErrMalformed)
}

func TestLoadInvariants(t *testing.T) {
	dir := t.TempDir()

	path := writeFile(t, dir, "invariants.yml", "invariants:\n  - name: no_pii\n  - name: budget\n")
	invs, err := config.LoadInvariants(path, invariants.Env{})
	require.NoError(t, err)
	assert.Equal(t, []string{"no_pii", "budget"}, invariants.Names(invs))

	path = writeFile(t, dir, "empty.yml", "invariants: []\n")
	invs, err = config.LoadInvariants(path, invariants.Env{})
	require.NoError(t, err)
	assert.Len(t, invs, 4)

	path = writeFile(t, dir, "unknown.yml", "invariants:\n  - name: teleport\n")
	_, err = config.LoadInvariants(path, invariants.Env{})
	assert.ErrorIs(t, err, contracts.ErrMalformed)
}

func TestParseScenarios(t *testing.T) {
	wrapped, err := config.ParseScenarios([]byte(`
scenarios:
  - id: happy
    inputs:
      to: alice@example.com
      body: hello
  - id: short_lived
    token:
      ttl: 1
    delegation:
      hop_limit: 0
`))
	require.NoError(t, err)
	require.Len(t, wrapped, 2)
	assert.Equal(t, "alice@example.com", wrapped[0].Inputs["to"])
	assert.Equal(t, 1, wrapped[1].Token.TTLSeconds)
	require.NotNil(t, wrapped[1].Delegation.HopLimit)
	assert.Equal(t, 0, *wrapped[1].Delegation.HopLimit)

	bare, err := config.ParseScenarios([]byte(`[{"id": "a", "inputs": {"n": 1}}, {"id": "b"}]`))
	require.NoError(t, err)
	assert.Len(t, bare, 2)

	none, err := config.ParseScenarios(nil)
	require.NoError(t, err)
	assert.Empty(t, none)

	_, err = config.ParseScenarios([]byte("scenarios:\n  - id: a\n  - id: a\n"))
	assert.ErrorIs(t, err, contracts.ErrMalformed)

	_, err = config.ParseScenarios([]byte("scenarios:\n  - description: no id\n"))
	assert.ErrorIs(t, err, contracts.ErrMalformed)
}

func TestLoadScenarios(t *testing.T) {
	path := writeFile(t, t.TempDir(), "scenarios.yml", "scenarios:\n  - id: one\n")
	scenarios, err := config.LoadScenarios(path)
	require.NoError(t, err)
	require.Len(t, scenarios, 1)
	assert.Equal(t, "one", scenarios[0].ID)
}
