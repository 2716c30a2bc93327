package capability

import (
	"context"
	"encoding/base64"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/avs/pkg/contracts"
	"github.com/Mindburn-Labs/avs/pkg/crypto"
	"github.com/Mindburn-Labs/avs/pkg/idgen"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

func newTestService(t *testing.T, clock *fakeClock, opts ...Option) *Service {
	t.Helper()
	signer, err := crypto.NewSignerFromSecret([]byte("capability-test-secret"))
	require.NoError(t, err)
	opts = append([]Option{WithClock(clock.Now), WithIDGenerator(idgen.NewSequence("jti"))}, opts...)
	return NewService(signer, opts...)
}

func emailRequest(ttl time.Duration) IssueRequest {
	return IssueRequest{
		Subject:  "agent:mailer",
		Action:   "send_email",
		Resource: "email:*",
		Scope:    []string{"email.send"},
		Limits:   map[string]any{"max_recipients": "5"},
		TTL:      ttl,
	}
}

func TestIssueVerify_RoundTrip(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	svc := newTestService(t, clock)

	tok, err := svc.Issue(context.Background(), emailRequest(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 3, len(strings.Split(tok.Raw, ".")))

	claims, err := svc.Verify(tok.Raw)
	require.NoError(t, err)
	assert.Equal(t, tok.Claims, claims)
	assert.Equal(t, "jti-1", claims.ID)
	assert.Equal(t, DefaultIssuer, claims.Issuer)
	assert.Equal(t, contracts.CapabilityVersion, claims.Version)
	assert.Equal(t, int64(1_700_000_060), claims.Expiry().Unix())
}

func TestIssueVerify_NumericLimits(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	svc := newTestService(t, clock)

	req := emailRequest(time.Minute)
	req.Limits = map[string]any{
		"max_recipients": 5,
		"max_cost_usd":   0.25,
		"domains":        []string{"example.com"},
	}
	tok, err := svc.Issue(context.Background(), req)
	require.NoError(t, err)

	claims, err := svc.Verify(tok.Raw)
	require.NoError(t, err)
	assert.Equal(t, tok.Claims, claims)
	assert.Equal(t, float64(5), claims.Limits["max_recipients"])
	assert.Equal(t, []any{"example.com"}, claims.Limits["domains"])
	assert.Equal(t, 5, req.Limits["max_recipients"], "the request is not modified")
}

func TestIssue_EmptyLimitsOmitted(t *testing.T) {
	svc := newTestService(t, &fakeClock{now: time.Unix(1_700_000_000, 0)})
	req := emailRequest(time.Minute)
	req.Limits = map[string]any{}
	tok, err := svc.Issue(context.Background(), req)
	require.NoError(t, err)
	assert.Nil(t, tok.Claims.Limits)

	claims, err := svc.Verify(tok.Raw)
	require.NoError(t, err)
	assert.Equal(t, tok.Claims, claims)
}

func TestIssue_DefaultTTL(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	svc := newTestService(t, clock)

	tok, err := svc.Issue(context.Background(), emailRequest(0))
	require.NoError(t, err)
	assert.Equal(t, DefaultTTL, tok.Claims.Expiry().Sub(tok.Claims.IssuedAtTime()))
}

func TestIssue_Validation(t *testing.T) {
	svc := newTestService(t, &fakeClock{now: time.Now()})
	for name, mutate := range map[string]func(*IssueRequest){
		"no subject":   func(r *IssueRequest) { r.Subject = "" },
		"no action":    func(r *IssueRequest) { r.Action = " " },
		"no resource":  func(r *IssueRequest) { r.Resource = "" },
		"negative ttl": func(r *IssueRequest) { r.TTL = -time.Second },
		"sub-second":   func(r *IssueRequest) { r.TTL = time.Millisecond },
	} {
		t.Run(name, func(t *testing.T) {
			req := emailRequest(time.Minute)
			mutate(&req)
			_, err := svc.Issue(context.Background(), req)
			require.ErrorIs(t, err, contracts.ErrMalformed)
		})
	}
}

func TestVerify_ExpiryBoundary(t *testing.T) {
	issuedAt := time.Unix(1_700_000_000, 0)
	clock := &fakeClock{now: issuedAt}
	svc := newTestService(t, clock)

	const ttl = 30 * time.Second
	tok, err := svc.Issue(context.Background(), emailRequest(ttl))
	require.NoError(t, err)

	clock.now = issuedAt.Add(ttl - time.Second)
	_, err = svc.Verify(tok.Raw)
	require.NoError(t, err)

	clock.now = issuedAt.Add(ttl)
	_, err = svc.Verify(tok.Raw)
	require.ErrorIs(t, err, contracts.ErrExpired)

	clock.now = issuedAt.Add(ttl + time.Second)
	_, err = svc.Verify(tok.Raw)
	require.ErrorIs(t, err, contracts.ErrExpired)
}

func TestVerify_TamperedAndExpiredReportsSignature(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	svc := newTestService(t, clock)

	tok, err := svc.Issue(context.Background(), emailRequest(time.Second))
	require.NoError(t, err)

	parts := strings.Split(tok.Raw, ".")
	flipped := byte('e')
	if parts[1][0] == flipped {
		flipped = 'f'
	}
	forged := parts[0] + "." + string(flipped) + parts[1][1:] + "." + parts[2]

	clock.now = clock.now.Add(time.Hour)
	_, err = svc.Verify(forged)
	require.ErrorIs(t, err, contracts.ErrInvalidSignature)
	require.NotErrorIs(t, err, contracts.ErrExpired)
}

func TestVerify_Malformed(t *testing.T) {
	svc := newTestService(t, &fakeClock{now: time.Now()})
	for _, raw := range []string{"", "abc", "a.b", "a.b.c.d"} {
		_, err := svc.Verify(raw)
		require.ErrorIs(t, err, contracts.ErrMalformed, raw)
	}
}

func TestVerify_ValidSignatureOverGarbagePayload(t *testing.T) {
	signer, err := crypto.NewSignerFromSecret([]byte("capability-test-secret"))
	require.NoError(t, err)
	svc := NewService(signer)

	signing := "eyJhbGciOiJIUzI1NiJ9.bm90LWpzb24"
	sig, err := method.Sign(signing, signer)
	require.NoError(t, err)
	raw := signing + "." + base64.RawURLEncoding.EncodeToString(sig)

	_, err = svc.Verify(raw)
	require.ErrorIs(t, err, contracts.ErrMalformed)
}

func TestVerify_WrongKey(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	svc := newTestService(t, clock)
	tok, err := svc.Issue(context.Background(), emailRequest(time.Minute))
	require.NoError(t, err)

	other, err := crypto.NewSignerFromSecret([]byte("a-different-secret"))
	require.NoError(t, err)
	_, err = NewService(other, WithClock(clock.Now)).Verify(tok.Raw)
	require.ErrorIs(t, err, contracts.ErrInvalidSignature)
}

// fixedID hands out the same token id every time.
type fixedID string

func (f fixedID) NewID() string { return string(f) }

func TestIssue_RejectsReusedID(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	svc := newTestService(t, clock, WithIDGenerator(fixedID("fixed")))

	_, err := svc.Issue(context.Background(), emailRequest(time.Minute))
	require.NoError(t, err)
	_, err = svc.Issue(context.Background(), emailRequest(time.Minute))
	require.ErrorIs(t, err, ErrReusedID)
}

func TestIssue_RejectsReusedIDUnderPastClock(t *testing.T) {
	// Registry expiry follows the service clock, not the wall clock.
	clock := &fakeClock{now: time.Date(2001, 1, 1, 0, 0, 0, 0, time.UTC)}
	svc := newTestService(t, clock, WithIDGenerator(fixedID("fixed")))

	_, err := svc.Issue(context.Background(), emailRequest(time.Minute))
	require.NoError(t, err)
	_, err = svc.Issue(context.Background(), emailRequest(time.Minute))
	require.ErrorIs(t, err, ErrReusedID)

	clock.now = clock.now.Add(2 * time.Minute)
	_, err = svc.Issue(context.Background(), emailRequest(time.Minute))
	require.NoError(t, err, "the id is free again once its token has expired")
}

func TestDecode(t *testing.T) {
	svc := newTestService(t, &fakeClock{now: time.Now()})
	tok, err := svc.Issue(context.Background(), emailRequest(time.Minute))
	require.NoError(t, err)

	claims, err := Decode(tok.Raw)
	require.NoError(t, err)
	assert.Equal(t, "send_email", claims.Action)

	_, err = Decode("nope")
	require.ErrorIs(t, err, contracts.ErrMalformed)
}
