package jsonvalue

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRawCanonicalizes(t *testing.T) {
	v, err := Raw([]byte(`{  "b" : 2 , "a": 1 }`))
	require.NoError(t, err)
	assert.Equal(t, `{"b":2,"a":1}`, v.String())
}

func TestRawRejectsInvalidJSON(t *testing.T) {
	_, err := Raw([]byte(`{not json`))
	assert.Error(t, err)
}

func TestFromMarshalsAndCompacts(t *testing.T) {
	v, err := From(map[string]any{"key": "a", "value": 1})
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, v.Decode(&out))
	assert.Equal(t, "a", out["key"])
}

func TestZeroValueIsNullButDistinct(t *testing.T) {
	var v Value
	assert.True(t, v.IsZero())
	assert.Equal(t, "null", v.String())
	assert.False(t, Null.IsZero())
	assert.True(t, Equal(v, Null))
}

func TestEqualByCanonicalText(t *testing.T) {
	a := MustFrom(map[string]any{"x": 1})
	b, _ := Raw([]byte(`{"x":1}`))
	assert.True(t, Equal(a, b))
}

func TestMember(t *testing.T) {
	v := MustFrom(map[string]any{"key": "a", "nested": map[string]any{"n": 1}})
	member, ok := v.Member("key")
	require.True(t, ok)
	assert.Equal(t, `"a"`, member.String())

	_, ok = v.Member("missing")
	assert.False(t, ok)
}

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	v := MustFrom([]int{1, 2, 3})
	b, err := json.Marshal(struct {
		V Value `json:"v"`
	}{V: v})
	require.NoError(t, err)

	var out struct {
		V Value `json:"v"`
	}
	require.NoError(t, json.Unmarshal(b, &out))
	assert.True(t, Equal(v, out.V))
}
