package language

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFlatten_InlinesFragments(t *testing.T) {
	doc, err := ParseQuery(`
		{ user { ...parts ... on User { extra } } }
		fragment parts on User { id name }
	`)
	require.NoError(t, err)

	flat := Flatten(doc, doc.Operations[0].SelectionSet)
	out := FormatSelectionSet(flat)
	require.Equal(t, "{ user { id name extra } }", out)
}

func TestFlatten_CyclicSpreadTerminates(t *testing.T) {
	doc, err := ParseQuery(`
		{ ...a }
		fragment a on Query { x ...a }
	`)
	require.NoError(t, err)

	flat := Flatten(doc, doc.Operations[0].SelectionSet)
	require.Equal(t, "{ x }", FormatSelectionSet(flat))
}

func TestFormatSelectionSet_ArgsAndAliases(t *testing.T) {
	doc, err := ParseQuery(`{ u: user(id: 4, active: true) { name } }`)
	require.NoError(t, err)

	out := FormatSelectionSet(doc.Operations[0].SelectionSet)
	require.Equal(t, "{ u: user(id: 4, active: true) { name } }", out)
}
