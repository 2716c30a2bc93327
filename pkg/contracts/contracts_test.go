package contracts

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKind(t *testing.T) {
	assert.Equal(t, ErrorKind(""), Kind(nil))
	assert.Equal(t, KindExpired, Kind(fmt.Errorf("verify: %w", ErrExpired)))
	assert.Equal(t, KindInternal, Kind(fmt.Errorf("boom")))

	both := fmt.Errorf("%w: %w", ErrExpired, ErrInvalidSignature)
	assert.Equal(t, KindInvalidSignature, Kind(both))
}

func TestFromKind(t *testing.T) {
	assert.Equal(t, ErrHopLimitExceeded, FromKind(KindHopLimitExceeded))
	assert.Equal(t, ErrInvalidSignature, FromKind(Kind(ErrInvalidSignature)))
	assert.Nil(t, FromKind(KindInternal))
	assert.Nil(t, FromKind("Unknown"))
}

func TestActionContract_CapabilityDefaults(t *testing.T) {
	act, res, scope := ActionContract{Name: "send_email"}.Capability()
	assert.Equal(t, "send_email", act)
	assert.Equal(t, "send_email:*", res)
	assert.Equal(t, []string{"send.email"}, scope)

	act, res, scope = ActionContract{
		Name:  "send_email",
		Res:   "email:*",
		Scope: []string{"email.send"},
	}.Capability()
	assert.Equal(t, "send_email", act)
	assert.Equal(t, "email:*", res)
	assert.Equal(t, []string{"email.send"}, scope)
}

func TestActionContract_Validate(t *testing.T) {
	require.NoError(t, ActionContract{Name: "send_email", Version: "1.0.0"}.Validate())

	for name, c := range map[string]ActionContract{
		"missing name":    {Version: "1.0.0"},
		"missing version": {Name: "a"},
		"bad version":     {Name: "a", Version: "one"},
		"self compensate": {Name: "a", Version: "1.0.0", Compensation: "a"},
	} {
		t.Run(name, func(t *testing.T) {
			err := c.Validate()
			require.ErrorIs(t, err, ErrMalformed)
		})
	}
}

func TestActionContract_IdempotentDefault(t *testing.T) {
	assert.True(t, ActionContract{}.IsIdempotent())
	no := false
	assert.False(t, ActionContract{Idempotent: &no}.IsIdempotent())
}

func TestSameSet(t *testing.T) {
	assert.True(t, SameSet([]string{"b", "a"}, []string{"a", "b", "a"}))
	assert.False(t, SameSet([]string{"a"}, []string{"a", "b"}))
	assert.True(t, SameSet(nil, []string{}))
}

func TestNumberField(t *testing.T) {
	bag := map[string]any{
		"f":   0.5,
		"i":   2,
		"num": json.Number("0.125"),
		"s":   "0.25",
		"bad": "x",
	}
	assert.Equal(t, 0.5, NumberField(bag, "f"))
	assert.Equal(t, 2.0, NumberField(bag, "i"))
	assert.Equal(t, 0.125, NumberField(bag, "num"))
	assert.Equal(t, 0.25, NumberField(bag, "s"))
	assert.Zero(t, NumberField(bag, "bad"))
	assert.Zero(t, NumberField(bag, "missing"))
}

func TestTrace_Token(t *testing.T) {
	var empty Trace
	_, ok := empty.Token("x")
	assert.False(t, ok)

	tr := Trace{Tokens: map[string]*CapabilityClaims{"tok": {Action: "send_email"}}}
	c, ok := tr.Token("tok")
	require.True(t, ok)
	assert.Equal(t, "send_email", c.Action)
}
