package delegation

import (
	"errors"
	"strings"
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
	signer, err := crypto.NewSignerFromSecret([]byte("delegation-test-secret"))
	require.NoError(t, err)
	return NewService(signer)
}

func TestMintVerify(t *testing.T) {
	svc := newService(t)
	de, err := svc.Mint("agent:planner", "task:42", 2, "sha256:abc")
	require.NoError(t, err)
	assert.Equal(t, contracts.DelegationVersion, de.Version)
	assert.True(t, svc.Verify(de))
	assert.Equal(t, "agent:planner|task:42|2|sha256:abc|aiep-de-1", string(CanonicalTuple(de)))
}

func TestMint_Rejects(t *testing.T) {
	svc := newService(t)
	_, err := svc.Mint("a", "t", -1, "p")
	require.ErrorIs(t, err, contracts.ErrMalformed)
	_, err = svc.Mint("a|b", "t", 1, "p")
	require.ErrorIs(t, err, contracts.ErrMalformed)
}

func TestRedelegate(t *testing.T) {
	svc := newService(t)
	root, err := svc.Mint("a", "t", 1, "p")
	require.NoError(t, err)

	next, err := svc.Redelegate(root)
	require.NoError(t, err)
	assert.Equal(t, 0, next.HopLimit)
	assert.True(t, svc.Verify(next))
	assert.NotEqual(t, root.Signature, next.Signature)

	assert.Equal(t, 1, root.HopLimit, "input envelope is untouched")
	assert.True(t, svc.Verify(root))

	// Zero-hop envelopes verify but cannot be advanced.
	_, err = svc.Redelegate(next)
	require.ErrorIs(t, err, contracts.ErrHopLimitExceeded)
	require.ErrorIs(t, svc.Authorize(next), contracts.ErrHopLimitExceeded)
	require.NoError(t, svc.Authorize(root))
}

func TestVerify_Tampering(t *testing.T) {
	svc := newService(t)
	de, err := svc.Mint("a", "t", 2, "p")
	require.NoError(t, err)

	forgedHop := de
	forgedHop.HopLimit = 5
	assert.False(t, svc.Verify(forgedHop))

	badSig := de
	badSig.Signature = strings.Repeat("0", len(de.Signature))
	assert.False(t, svc.Verify(badSig))

	notHex := de
	notHex.Signature = "zz"
	assert.False(t, svc.Verify(notHex))
	require.ErrorIs(t, svc.Authorize(notHex), contracts.ErrInvalidSignature)
}

func TestProperty_RedelegateDecrements(t *testing.T) {
	svc := newService(t)

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("hop k>0 redelegates to k-1, hop 0 fails", prop.ForAll(
		func(origin, task string, hop int) bool {
			de, err := svc.Mint(origin, task, hop, "policy")
			if err != nil {
				return false
			}
			next, err := svc.Redelegate(de)
			if hop == 0 {
				return errors.Is(err, contracts.ErrHopLimitExceeded)
			}
			return err == nil && next.HopLimit == hop-1 && svc.Verify(next) && de.HopLimit == hop
		},
		gen.Identifier(),
		gen.Identifier(),
		gen.IntRange(0, 50),
	))

	properties.Property("signature tampering breaks verification", prop.ForAll(
		func(task string, hop int, pos int) bool {
			de, err := svc.Mint("origin", task, hop, "policy")
			if err != nil {
				return false
			}
			sig := []byte(de.Signature)
			i := pos % len(sig)
			if sig[i] == '0' {
				sig[i] = '1'
			} else {
				sig[i] = '0'
			}
			de.Signature = string(sig)
			return !svc.Verify(de)
		},
		gen.Identifier(),
		gen.IntRange(0, 10),
		gen.IntRange(0, 1000),
	))

	properties.TestingRun(t)
}
