package canonicalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJCS_Sorting(t *testing.T) {
	b, err := JCS(map[string]any{"c": 3, "a": 1, "b": 2})
	require.NoError(t, err)
	assert.Equal(t, `{"a":1,"b":2,"c":3}`, string(b))
}

func TestJCS_RecursiveSorting(t *testing.T) {
	b, err := JCS(map[string]any{
		"z": map[string]any{"y": "foo", "x": "bar"},
		"a": 1,
	})
	require.NoError(t, err)
	assert.Equal(t, `{"a":1,"z":{"x":"bar","y":"foo"}}`, string(b))
}

func TestJCS_NoHTMLEscaping(t *testing.T) {
	b, err := JCS(map[string]any{"html": "<b>&</b>"})
	require.NoError(t, err)
	assert.Equal(t, `{"html":"<b>&</b>"}`, string(b))
}

func TestTransform_IgnoresWhitespace(t *testing.T) {
	a, err := Transform([]byte(`{ "b" : [1, 2.50],  "a":"x" }`))
	require.NoError(t, err)
	b, err := Transform([]byte(`{"a":"x","b":[1,2.5]}`))
	require.NoError(t, err)
	assert.Equal(t, a, b)

	_, err = Transform([]byte(`{"a":`))
	require.Error(t, err)
}

func TestCanonicalHash_Stable(t *testing.T) {
	h1, err := CanonicalHash(map[string]any{"x": 1, "y": []any{"a", "b"}})
	require.NoError(t, err)
	h2, err := CanonicalHash(map[string]any{"y": []any{"a", "b"}, "x": 1})
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 64)
}
