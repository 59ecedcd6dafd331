package dynamic

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecodeJSON_PreservesObjectOrder(t *testing.T) {
	v, err := DecodeJSON([]byte(`{"z":1,"a":{"b":[1,2.5,"x"],"c":null},"m":true}`))
	require.NoError(t, err)

	rec, ok := v.(*Record)
	require.True(t, ok)
	require.Equal(t, []string{"z", "a", "m"}, rec.Keys())

	out, err := EncodeJSON(v)
	require.NoError(t, err)
	require.Equal(t, `{"z":1,"a":{"b":[1,2.5,"x"],"c":null},"m":true}`, string(out))
}

func TestDecodeJSON_NumberWidths(t *testing.T) {
	v, err := DecodeJSON([]byte(`[1,1.0,9223372036854775807,-3.25]`))
	require.NoError(t, err)
	list := v.(List)
	require.Equal(t, Int(1), list[0])
	require.Equal(t, Float(1), list[1])
	require.Equal(t, Int(9223372036854775807), list[2])
	require.Equal(t, Float(-3.25), list[3])
}

func TestRoundTrip_Identity(t *testing.T) {
	cases := []string{
		`null`,
		`true`,
		`42`,
		`-7.5`,
		`"hello"`,
		`[1,[2,[3]]]`,
		`{"a":1,"b":{"c":[true,null]}}`,
	}
	for _, raw := range cases {
		v, err := DecodeJSON([]byte(raw))
		require.NoError(t, err, raw)
		out, err := EncodeJSON(v)
		require.NoError(t, err, raw)
		require.Equal(t, raw, string(out))

		again, err := DecodeJSON(out)
		require.NoError(t, err, raw)
		require.True(t, Equal(v, again), raw)
	}
}

func TestRecord_SetOverwriteKeepsPosition(t *testing.T) {
	r := NewRecord()
	r.Set("a", Int(1))
	r.Set("b", Int(2))
	r.Set("a", Int(3))
	require.Equal(t, []string{"a", "b"}, r.Keys())
	v, _ := r.Get("a")
	require.Equal(t, Int(3), v)

	r.Delete("a")
	require.Equal(t, []string{"b"}, r.Keys())
}

func TestPath(t *testing.T) {
	v, err := DecodeJSON([]byte(`{"user":{"posts":[{"id":7}]},"opt":{"x":1}}`))
	require.NoError(t, err)

	got, ok := Path(v, []string{"user", "posts", "0", "id"})
	require.True(t, ok)
	require.Equal(t, Int(7), got)

	_, ok = Path(v, []string{"user", "missing"})
	require.False(t, ok)

	_, ok = Path(v, []string{"user", "posts", "9"})
	require.False(t, ok)

	rec := v.(*Record)
	rec.Set("wrapped", Some(RecordOf("y", Int(2))))
	got, ok = Path(v, []string{"wrapped", "y"})
	require.True(t, ok)
	require.Equal(t, Int(2), got)
}

func TestText(t *testing.T) {
	require.Equal(t, "1", Text(Int(1)))
	require.Equal(t, "1.5", Text(Float(1.5)))
	require.Equal(t, "true", Text(Bool(true)))
	require.Equal(t, "abc", Text(String("abc")))
	require.Equal(t, `{"a":1}`, Text(RecordOf("a", Int(1))))
	require.Equal(t, `[1,2]`, Text(List{Int(1), Int(2)}))
	require.Equal(t, "null", Text(None()))
	require.Equal(t, "7", Text(Some(Int(7))))
}

func TestEqual_NumericCrossKind(t *testing.T) {
	require.True(t, Equal(Int(1), Float(1)))
	require.False(t, Equal(Int(1), Float(1.5)))
	require.True(t, Equal(RecordOf("a", Int(1), "b", Int(2)), RecordOf("b", Int(2), "a", Int(1))))
}

func TestConforms(t *testing.T) {
	user := TObject{Fields: []ObjectField{
		{Name: "id", Schema: TInt{}},
		{Name: "name", Schema: TString{}},
		{Name: "tags", Schema: TArray{Elem: TString{}}},
		{Name: "bio", Schema: TOptional{Elem: TString{}}},
	}}

	ok := Conforms(RecordOf(
		"id", Int(1),
		"name", String("n"),
		"tags", List{String("a")},
		"extra", Bool(true),
	), user)
	require.True(t, ok)

	require.False(t, Conforms(RecordOf("id", String("1"), "name", String("n"), "tags", List{}), user))
}

func TestSubtypeOf_WidthCovariant(t *testing.T) {
	wide := TObject{Fields: []ObjectField{
		{Name: "id", Schema: TInt{}},
		{Name: "name", Schema: TString{}},
	}}
	narrow := TObject{Fields: []ObjectField{{Name: "id", Schema: TInt{}}}}

	require.True(t, SubtypeOf(wide, narrow))
	require.False(t, SubtypeOf(narrow, wide))
	require.True(t, SubtypeOf(TInt{}, TOptional{Elem: TInt{}}))
}

func TestToTyped_DropsUnknownFields(t *testing.T) {
	s := TObject{Fields: []ObjectField{
		{Name: "id", Schema: TInt{}},
		{Name: "bio", Schema: TOptional{Elem: TString{}}},
	}}
	typed, ok := ToTyped(RecordOf("id", Int(1), "junk", Bool(true)), s)
	require.True(t, ok)
	rec := typed.(*Record)
	require.Equal(t, []string{"id", "bio"}, rec.Keys())
	bio, _ := rec.Get("bio")
	require.Equal(t, None(), bio)
}
