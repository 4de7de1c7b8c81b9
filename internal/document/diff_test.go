package document

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestDiffFields verifies only the changed top-level fields appear in the
// patch.
func TestDiffFields(t *testing.T) {
	before := newShape("a", 10, 20, 30, 40, 1)
	after := before.Clone()
	after.PositionX = 15
	after.ZIndex = 3

	patch := Diff(before, after)
	require.NotNil(t, patch)
	require.NotNil(t, patch.PositionX)
	assert.Equal(t, 15.0, *patch.PositionX)
	require.NotNil(t, patch.ZIndex)
	assert.Equal(t, 3, *patch.ZIndex)
	assert.Nil(t, patch.PositionY)
	assert.Nil(t, patch.Width)
}

// TestDiffSubKeys verifies style diffs carry only changed sub-keys and
// removed keys map to nil.
func TestDiffSubKeys(t *testing.T) {
	before := newShape("a", 0, 0, 10, 10, 0)
	before.Style = map[string]any{"fill": "#fff", "stroke": "#000"}
	after := before.Clone()
	after.Style = map[string]any{"fill": "#f00"}

	patch := Diff(before, after)
	require.NotNil(t, patch)
	assert.Equal(t, "#f00", patch.Style["fill"])
	value, present := patch.Style["stroke"]
	assert.True(t, present, "removed key must appear in the patch")
	assert.Nil(t, value)
}

// TestDiffApplyRoundTrip verifies applying diff(a, b) to a store holding a
// yields b's changed fields while leaving the rest untouched.
func TestDiffApplyRoundTrip(t *testing.T) {
	store := New()
	before := newShape("a", 10, 20, 30, 40, 1)
	before.Style = map[string]any{"fill": "#fff", "stroke": "#000"}
	store.Create(before)

	after := before.Clone()
	after.PositionX = 99
	after.Style["fill"] = "#f00"

	patch := Diff(before, after)
	require.NotNil(t, patch)
	require.True(t, store.ApplyPatch("a", patch))

	got, ok := store.Get("a")
	require.True(t, ok)
	assert.Equal(t, 99.0, got.PositionX)
	assert.Equal(t, "#f00", got.Style["fill"])
	assert.Equal(t, 20.0, got.PositionY, "untouched field stays")
	assert.Equal(t, "#000", got.Style["stroke"], "untouched sub-key stays")
}

// TestDiffIdentical verifies identical elements diff to nil.
func TestDiffIdentical(t *testing.T) {
	before := newShape("a", 1, 2, 3, 4, 5)
	before.Style = map[string]any{"fill": "#fff"}
	assert.Nil(t, Diff(before, before.Clone()))
}
