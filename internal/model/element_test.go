package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestFromUntypedRejectsMalformed verifies decoding drops elements missing
// required fields instead of guessing.
func TestFromUntypedRejectsMalformed(t *testing.T) {
	cases := map[string]map[string]any{
		"missing id":       {"element_type": "Shape", "position_x": 0.0, "position_y": 0.0, "width": 1.0, "height": 1.0},
		"unknown type":     {"id": "a", "element_type": "Blob", "position_x": 0.0, "position_y": 0.0, "width": 1.0, "height": 1.0},
		"non-numeric size": {"id": "a", "element_type": "Shape", "position_x": 0.0, "position_y": 0.0, "width": "wide", "height": 1.0},
	}
	for name, raw := range cases {
		_, ok := FromUntyped(raw)
		assert.False(t, ok, name)
	}
}

// TestFromUntypedNormalizes verifies rotation wraps and degenerate sizes get
// the minimum dimension.
func TestFromUntypedNormalizes(t *testing.T) {
	element, ok := FromUntyped(map[string]any{
		"id": "a", "element_type": "Shape",
		"position_x": 1.0, "position_y": 2.0,
		"width": 0.0, "height": -5.0,
		"rotation": 370.0,
	})
	require.True(t, ok)
	assert.Equal(t, MinDimension, element.Width)
	assert.Equal(t, MinDimension, element.Height)
	assert.Equal(t, 10.0, element.Rotation)
}

// TestNormalizeRotation covers the wrap-around and non-finite edges.
func TestNormalizeRotation(t *testing.T) {
	assert.Equal(t, 0.0, NormalizeRotation(360))
	assert.Equal(t, 350.0, NormalizeRotation(-10))
	assert.Equal(t, 10.0, NormalizeRotation(730))
	assert.Equal(t, 0.0, NormalizeRotation(nan()))
}

func nan() float64 {
	zero := 0.0
	return zero / zero
}

// TestFoldNegativeSize verifies a negative size shifts the origin.
func TestFoldNegativeSize(t *testing.T) {
	origin, size := FoldNegativeSize(100, -30)
	assert.Equal(t, 70.0, origin)
	assert.Equal(t, 30.0, size)

	origin, size = FoldNegativeSize(100, 30)
	assert.Equal(t, 100.0, origin)
	assert.Equal(t, 30.0, size)
}

// TestParseBinding verifies side validation and the auto default.
func TestParseBinding(t *testing.T) {
	binding, ok := ParseBinding(map[string]any{"elementId": "e1", "side": "left"})
	require.True(t, ok)
	assert.Equal(t, SideLeft, binding.Side)

	binding, ok = ParseBinding(map[string]any{"elementId": "e1"})
	require.True(t, ok)
	assert.Equal(t, SideAuto, binding.Side)

	_, ok = ParseBinding(map[string]any{"elementId": "e1", "side": "diagonal"})
	assert.False(t, ok)
	_, ok = ParseBinding(map[string]any{"side": "left"})
	assert.False(t, ok)
	_, ok = ParseBinding("not an object")
	assert.False(t, ok)
}

// TestPatchMerge verifies later patches overwrite earlier fields and
// sub-keys union together.
func TestPatchMerge(t *testing.T) {
	x1, x2, y := 1.0, 2.0, 3.0
	patch := &ElementPatch{PositionX: &x1, Style: map[string]any{"fill": "#fff"}}
	patch.Merge(&ElementPatch{PositionX: &x2, PositionY: &y, Style: map[string]any{"stroke": "#000"}})

	assert.Equal(t, 2.0, *patch.PositionX)
	assert.Equal(t, 3.0, *patch.PositionY)
	assert.Equal(t, "#fff", patch.Style["fill"])
	assert.Equal(t, "#000", patch.Style["stroke"])
}

// TestPatchIsEmpty verifies the nil and zero cases.
func TestPatchIsEmpty(t *testing.T) {
	var nilPatch *ElementPatch
	assert.True(t, nilPatch.IsEmpty())
	assert.True(t, (&ElementPatch{}).IsEmpty())

	x := 1.0
	assert.False(t, (&ElementPatch{PositionX: &x}).IsEmpty())
	assert.False(t, (&ElementPatch{Metadata: map[string]any{"k": 1}}).IsEmpty())
}
