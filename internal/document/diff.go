package document

import (
	"boardsync/internal/model"
)

// Diff computes the minimal patch turning before into after: changed
// top-level fields plus only the changed sub-keys of style/properties/
// metadata (compared by serialized equality). Returns nil when nothing
// differs, which bounds what goes over the wire and to the backend.
func Diff(before, after *model.Element) *model.ElementPatch {
	if before == nil || after == nil {
		return nil
	}
	patch := &model.ElementPatch{}

	if before.PositionX != after.PositionX {
		value := after.PositionX
		patch.PositionX = &value
	}
	if before.PositionY != after.PositionY {
		value := after.PositionY
		patch.PositionY = &value
	}
	if before.Width != after.Width {
		value := after.Width
		patch.Width = &value
	}
	if before.Height != after.Height {
		value := after.Height
		patch.Height = &value
	}
	if before.Rotation != after.Rotation {
		value := after.Rotation
		patch.Rotation = &value
	}
	if before.ZIndex != after.ZIndex {
		value := after.ZIndex
		patch.ZIndex = &value
	}
	if !stringPtrEqual(before.LayerID, after.LayerID) && after.LayerID != nil {
		patch.LayerID = after.LayerID
	}
	if !stringPtrEqual(before.ParentID, after.ParentID) && after.ParentID != nil {
		patch.ParentID = after.ParentID
	}
	patch.Style = diffValueMap(before.Style, after.Style)
	patch.Properties = diffValueMap(before.Properties, after.Properties)
	patch.Metadata = diffValueMap(before.Metadata, after.Metadata)

	if patch.IsEmpty() {
		return nil
	}
	return patch
}

// diffValueMap does a shallow key-by-key comparison; a key present before
// but absent after maps to nil (removal).
func diffValueMap(before, after map[string]any) map[string]any {
	var delta map[string]any
	for key, afterValue := range after {
		beforeValue, ok := before[key]
		if ok && model.ValuesEqual(beforeValue, afterValue) {
			continue
		}
		if delta == nil {
			delta = make(map[string]any)
		}
		delta[key] = afterValue
	}
	for key := range before {
		if _, ok := after[key]; ok {
			continue
		}
		if delta == nil {
			delta = make(map[string]any)
		}
		delta[key] = nil
	}
	return delta
}

func stringPtrEqual(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
