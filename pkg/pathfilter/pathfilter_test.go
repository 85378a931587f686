package pathfilter

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExcludedMatchesBasename(t *testing.T) {
	f, err := Compile([]string{"*.tmp", "node_modules"})
	require.NoError(t, err)

	require.True(t, f.Excluded("a.tmp"))
	require.True(t, f.Excluded("sub/dir/a.tmp"))
	require.True(t, f.Excluded("sub/node_modules"))
	require.False(t, f.Excluded("sub/keep.txt"))
}

func TestDoubleStarMatchesAnyDepth(t *testing.T) {
	f, err := Compile([]string{"**/cache/**"})
	require.NoError(t, err)

	require.True(t, f.Excluded("a/b/cache/file.bin"))
	require.False(t, f.Excluded("a/b/cached/file.bin"))
}

func TestNilFilterExcludesNothing(t *testing.T) {
	var f *Filter
	require.False(t, f.Excluded("anything"))
}

func TestCompileRejectsInvalidPattern(t *testing.T) {
	_, err := Compile([]string{"["})
	require.Error(t, err)
}
