package vm

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValueJSONRoundTrip(t *testing.T) {
	cases := []string{
		`null`,
		`true`,
		`false`,
		`42`,
		`-7`,
		`3.14`,
		`"hello"`,
		`[1,2,3]`,
		`{"a":1,"b":[true,null,"x"]}`,
	}
	for _, c := range cases {
		var v Value
		require.NoError(t, json.Unmarshal([]byte(c), &v))
		out, err := json.Marshal(v)
		require.NoError(t, err)

		var reparsed, original any
		require.NoError(t, json.Unmarshal(out, &reparsed))
		require.NoError(t, json.Unmarshal([]byte(c), &original))
		require.Equal(t, original, reparsed, "round trip for %s", c)
	}
}

func TestValueMarshalSortsObjectKeys(t *testing.T) {
	v := Object(map[string]Value{
		"zebra": Int(1),
		"alpha": Int(2),
		"mid":   Int(3),
	})
	b, err := json.Marshal(v)
	require.NoError(t, err)
	require.Equal(t, `{"alpha":2,"mid":3,"zebra":1}`, string(b))
}

func TestValueEqual(t *testing.T) {
	a := Object(map[string]Value{"x": Array([]Value{Int(1), String("y")})})
	b := Object(map[string]Value{"x": Array([]Value{Int(1), String("y")})})
	c := Object(map[string]Value{"x": Array([]Value{Int(2), String("y")})})
	require.True(t, a.Equal(b))
	require.False(t, a.Equal(c))
}

func TestValueIntVsFloatClassification(t *testing.T) {
	var v Value
	require.NoError(t, json.Unmarshal([]byte(`7`), &v))
	require.Equal(t, KindInt, v.Kind())

	require.NoError(t, json.Unmarshal([]byte(`7.5`), &v))
	require.Equal(t, KindFloat, v.Kind())

	require.NoError(t, json.Unmarshal([]byte(`7.0`), &v))
	require.Equal(t, KindFloat, v.Kind(), "decimal literal with zero fraction contains a dot, so json.Number.Int64 fails and it decodes as float")
}

func TestToDisplayString(t *testing.T) {
	require.Equal(t, "", Null.ToDisplayString())
	require.Equal(t, "true", Bool(true).ToDisplayString())
	require.Equal(t, "42", Int(42).ToDisplayString())
	require.Equal(t, "hi", String("hi").ToDisplayString())
}
