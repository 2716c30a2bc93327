package provenance

import (
	"encoding/json"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/avs/pkg/contracts"
	"github.com/Mindburn-Labs/avs/pkg/crypto"
)

func newService(t *testing.T) *Service {
	t.Helper()
	signer, err := crypto.NewSignerFromSecret([]byte("provenance-test-secret"))
	require.NoError(t, err)
	return NewService(signer)
}

func sampleRecord() contracts.ProvenanceRecord {
	return contracts.ProvenanceRecord{
		Timestamp:       "2026-01-02T03:04:05Z",
		Agent:           "agent:mailer",
		Action:          "send_email",
		Inputs:          map[string]any{"to": "a@example.com", "subject": "hi", "body": "Your order is confirmed."},
		Result:          map[string]any{"status": "ok", "cost_usd": 0.001},
		TokenRef:        "tok",
		PoliciesChecked: []string{"no_pii", "budget"},
		TraceID:         "trace-1",
		Delegation:      &contracts.DelegationContext{Origin: "planner", Task: "t", HopRemaining: 1, PolicyHash: "p"},
	}
}

func TestEmitVerify(t *testing.T) {
	svc := newService(t)
	rec, err := svc.Emit(sampleRecord())
	require.NoError(t, err)
	assert.Equal(t, contracts.ProvenanceVersion, rec.Version)
	assert.Len(t, rec.Hash, 64)
	assert.NotEmpty(t, rec.Sig)
	require.NoError(t, svc.Verify(rec))
}

func TestVerify_DetectsTampering(t *testing.T) {
	svc := newService(t)
	rec, err := svc.Emit(sampleRecord())
	require.NoError(t, err)

	changed := rec
	changed.Inputs = map[string]any{"body": "Your SSN is 123-45-6789."}
	require.ErrorIs(t, svc.Verify(changed), contracts.ErrInvalidSignature)

	hop := rec
	hop.Delegation = &contracts.DelegationContext{Origin: "planner", Task: "t", HopRemaining: 9, PolicyHash: "p"}
	require.ErrorIs(t, svc.Verify(hop), contracts.ErrInvalidSignature)

	resigned := rec
	resigned.Sig = "00"
	require.ErrorIs(t, svc.Verify(resigned), contracts.ErrInvalidSignature)

	version := rec
	version.Version = "aiep-pr-0"
	require.ErrorIs(t, svc.Verify(version), contracts.ErrMalformed)
}

func TestEmit_Validation(t *testing.T) {
	svc := newService(t)
	rec := sampleRecord()
	rec.Agent = ""
	_, err := svc.Emit(rec)
	require.ErrorIs(t, err, contracts.ErrMalformed)

	rec = sampleRecord()
	rec.Timestamp = "yesterday"
	_, err = svc.Emit(rec)
	require.ErrorIs(t, err, contracts.ErrMalformed)
}

func TestHash_IgnoresHashAndSig(t *testing.T) {
	rec := sampleRecord()
	h1, err := Hash(rec)
	require.NoError(t, err)
	rec.Hash = "something"
	rec.Sig = "else"
	h2, err := Hash(rec)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
}

func TestHash_SurvivesJSONRoundTrip(t *testing.T) {
	svc := newService(t)
	rec, err := svc.Emit(sampleRecord())
	require.NoError(t, err)

	data, err := json.Marshal(rec)
	require.NoError(t, err)
	var decoded contracts.ProvenanceRecord
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.NoError(t, svc.Verify(decoded))
}

func TestProperty_HashIndependentOfInsertionOrder(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("hash ignores map insertion order", prop.ForAll(
		func(keys []string, values []string) bool {
			forward := map[string]any{}
			backward := map[string]any{}
			n := min(len(keys), len(values))
			for i := 0; i < n; i++ {
				forward[keys[i]] = values[i]
			}
			for i := n - 1; i >= 0; i-- {
				if _, seen := backward[keys[i]]; !seen {
					backward[keys[i]] = forward[keys[i]]
				}
			}
			a := sampleRecord()
			a.Inputs = forward
			b := sampleRecord()
			b.Inputs = backward

			ha, errA := Hash(a)
			hb, errB := Hash(b)
			again, errC := Hash(a)
			return errA == nil && errB == nil && errC == nil && ha == hb && ha == again
		},
		gen.SliceOf(gen.AlphaString()),
		gen.SliceOf(gen.AnyString()),
	))

	properties.TestingRun(t)
}
