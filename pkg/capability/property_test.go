package capability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/Mindburn-Labs/avs/pkg/contracts"
	"github.com/Mindburn-Labs/avs/pkg/crypto"
)

func propertyService(t *testing.T, clock *fakeClock) *Service {
	t.Helper()
	signer, err := crypto.NewSignerFromSecret([]byte("property-secret"))
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	return NewService(signer, WithClock(clock.Now))
}

// TestProperty_IssueVerifyRoundTrip: Verify(Issue(x)) returns x's claims.
func TestProperty_IssueVerifyRoundTrip(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	svc := propertyService(t, clock)

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("verify returns the issued claims", prop.ForAll(
		func(sub, act, res string, scope []string, ttl int) bool {
			tok, err := svc.Issue(context.Background(), IssueRequest{
				Subject: sub, Action: act, Resource: res, Scope: scope,
				TTL: time.Duration(ttl) * time.Second,
			})
			if err != nil {
				return false
			}
			claims, err := svc.Verify(tok.Raw)
			if err != nil {
				return false
			}
			return claims.Subject == sub &&
				claims.Action == act &&
				claims.Resource == res &&
				contracts.SameSet(claims.Scope, scope) &&
				len(claims.Scope) == len(scope) &&
				claims.ID == tok.Claims.ID &&
				claims.Expiry().Equal(tok.Claims.Expiry()) &&
				claims.IssuedAtTime().Equal(tok.Claims.IssuedAtTime())
		},
		gen.Identifier(),
		gen.Identifier(),
		gen.Identifier(),
		gen.SliceOf(gen.Identifier()),
		gen.IntRange(1, 86400),
	))

	properties.TestingRun(t)
}

// TestProperty_AnyByteMutationInvalidatesSignature mutates a single
// non-separator byte of a signed token.
func TestProperty_AnyByteMutationInvalidatesSignature(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	svc := propertyService(t, clock)

	tok, err := svc.Issue(context.Background(), IssueRequest{
		Subject: "agent:a", Action: "send_email", Resource: "email:*",
		Scope: []string{"email.send"}, TTL: time.Hour,
	})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 500
	properties := gopter.NewProperties(parameters)

	properties.Property("mutated tokens fail with InvalidSignature", prop.ForAll(
		func(pos int, delta uint8) bool {
			raw := []byte(tok.Raw)
			idx := pos % len(raw)
			if raw[idx] == '.' {
				return true
			}
			mut := raw[idx] ^ (1 + delta%254)
			if mut == '.' {
				mut = raw[idx] ^ 0x01
			}
			raw[idx] = mut
			_, err := svc.Verify(string(raw))
			return errors.Is(err, contracts.ErrInvalidSignature)
		},
		gen.IntRange(0, 1<<16),
		gen.UInt8(),
	))

	properties.TestingRun(t)
}

// TestProperty_TTLBoundary: valid one second before expiry, expired one
// second after.
func TestProperty_TTLBoundary(t *testing.T) {
	clock := &fakeClock{}
	svc := propertyService(t, clock)

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("expiry boundary", prop.ForAll(
		func(start int64, ttl int) bool {
			issuedAt := time.Unix(start, 0)
			clock.now = issuedAt
			tok, err := svc.Issue(context.Background(), IssueRequest{
				Subject: "s", Action: "a", Resource: "r", TTL: time.Duration(ttl) * time.Second,
			})
			if err != nil {
				return false
			}

			clock.now = issuedAt.Add(time.Duration(ttl-1) * time.Second)
			if _, err := svc.Verify(tok.Raw); err != nil {
				return false
			}
			clock.now = issuedAt.Add(time.Duration(ttl+1) * time.Second)
			_, err = svc.Verify(tok.Raw)
			return errors.Is(err, contracts.ErrExpired)
		},
		gen.Int64Range(1_600_000_000, 1_900_000_000),
		gen.IntRange(2, 7*86400),
	))

	properties.TestingRun(t)
}
