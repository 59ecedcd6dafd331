package registry

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/weavegql/weave/internal/blueprint"
)

func testBlueprint(query string) *blueprint.Blueprint {
	bp := &blueprint.Blueprint{
		QueryType: "Query",
		Types: map[string]*blueprint.Type{
			"Query": {Name: "Query", Kind: blueprint.KindObject, Fields: []*blueprint.Field{
				{Name: query, Type: blueprint.Named("String")},
			}},
		},
	}
	return bp.WithBuiltins()
}

func TestPutIsIdempotent(t *testing.T) {
	r := New()

	d1, err := r.Put(testBlueprint("hello"))
	require.NoError(t, err)
	d2, err := r.Put(testBlueprint("hello"))
	require.NoError(t, err)

	require.Equal(t, d1, d2)
	require.Equal(t, 1, r.Len())
	require.Equal(t, blueprint.DigestAlg, d1.Alg)
}

func TestGetAndDrop(t *testing.T) {
	r := New()
	d, err := r.Put(testBlueprint("hello"))
	require.NoError(t, err)

	e := r.Get(d.Hex)
	require.NotNil(t, e)
	require.Equal(t, d, e.Digest)

	require.Nil(t, r.Get("feedface"))

	require.True(t, r.Drop(d.Hex))
	require.False(t, r.Drop(d.Hex))
	require.Nil(t, r.Get(d.Hex))
}

func TestListIsSorted(t *testing.T) {
	r := New()
	_, err := r.Put(testBlueprint("a"))
	require.NoError(t, err)
	_, err = r.Put(testBlueprint("b"))
	require.NoError(t, err)

	entries := r.List()
	require.Len(t, entries, 2)
	require.Less(t, entries[0].Digest.Hex, entries[1].Digest.Hex)
}
