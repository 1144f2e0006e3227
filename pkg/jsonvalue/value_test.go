package jsonvalue

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParse_Accessors(t *testing.T) {
	v, err := Parse([]byte(`{
		"Done": {"type": "checkbox", "checkbox": true},
		"Due": {"type": "date", "date": {"start": "2025-01-01"}},
		"Tags": ["a", "b"],
		"Count": 3,
		"Missing": null
	}`))
	require.NoError(t, err)
	require.Equal(t, Object, v.Kind())

	done, ok := v.Object("Done")
	require.True(t, ok)
	checked, ok := done.Bool("checkbox")
	require.True(t, ok)
	require.True(t, checked)

	start, ok := v.Path("Due", "date", "start")
	require.True(t, ok)
	s, ok := start.AsString()
	require.True(t, ok)
	require.Equal(t, "2025-01-01", s)

	tags, ok := v.Array("Tags")
	require.True(t, ok)
	require.Len(t, tags, 2)

	n, ok := v.Number("Count")
	require.True(t, ok)
	require.Equal(t, 3.0, n)

	missing, ok := v.Get("Missing")
	require.True(t, ok)
	require.True(t, missing.IsNull())

	_, ok = v.String("Count")
	require.False(t, ok, "wrong kind must not coerce")
	_, ok = v.Object("Tags")
	require.False(t, ok)
	_, ok = NewString("x").Get("a")
	require.False(t, ok)

	require.Equal(t, []string{"Count", "Done", "Due", "Missing", "Tags"}, v.Keys())
}

func TestValue_MarshalRoundTrip(t *testing.T) {
	in := NewObject(map[string]Value{
		"title": NewString("Buy milk"),
		"done":  NewBool(false),
		"list":  NewArray(NewNumber(1), NewNull()),
		"empty": NewObject(nil),
	})

	data, err := json.Marshal(in)
	require.NoError(t, err)
	require.JSONEq(t, `{"title":"Buy milk","done":false,"list":[1,null],"empty":{}}`, string(data))

	out, err := Parse(data)
	require.NoError(t, err)
	title, ok := out.String("title")
	require.True(t, ok)
	require.Equal(t, "Buy milk", title)
}

func TestParse_Malformed(t *testing.T) {
	_, err := Parse([]byte(`{"a":`))
	require.Error(t, err)
}
