package model

import (
	"encoding/json"
	"math"
	"time"
)

// ElementType identifies the kind of board element.
type ElementType string

const (
	TypeShape      ElementType = "Shape"
	TypeText       ElementType = "Text"
	TypeDrawing    ElementType = "Drawing"
	TypeStickyNote ElementType = "StickyNote"
	TypeImage      ElementType = "Image"
	TypeVideo      ElementType = "Video"
	TypeFrame      ElementType = "Frame"
	TypeConnector  ElementType = "Connector"
	TypeEmbed      ElementType = "Embed"
	TypeDocument   ElementType = "Document"
	TypeComponent  ElementType = "Component"
)

// Valid reports whether t is a known element type.
func (t ElementType) Valid() bool {
	switch t {
	case TypeShape, TypeText, TypeDrawing, TypeStickyNote, TypeImage,
		TypeVideo, TypeFrame, TypeConnector, TypeEmbed, TypeDocument, TypeComponent:
		return true
	}
	return false
}

// Side is the side of an element a connector endpoint attaches to.
type Side string

const (
	SideTop    Side = "top"
	SideRight  Side = "right"
	SideBottom Side = "bottom"
	SideLeft   Side = "left"
	SideAuto   Side = "auto"
)

// ConnectorBinding attaches a connector endpoint to another element.
type ConnectorBinding struct {
	ElementID string `json:"elementId"`
	Side      Side   `json:"side"`
}

// Element is a board object. Version is nil until the backend has persisted
// the element; DeletedAt marks a tombstone that stays addressable for undo.
type Element struct {
	ID          string         `json:"id"`
	BoardID     string         `json:"board_id"`
	LayerID     *string        `json:"layer_id,omitempty"`
	ParentID    *string        `json:"parent_id,omitempty"`
	CreatedBy   string         `json:"created_by,omitempty"`
	ElementType ElementType    `json:"element_type"`
	PositionX   float64        `json:"position_x"`
	PositionY   float64        `json:"position_y"`
	Width       float64        `json:"width"`
	Height      float64        `json:"height"`
	Rotation    float64        `json:"rotation"`
	ZIndex      int            `json:"z_index"`
	Style       map[string]any `json:"style"`
	Properties  map[string]any `json:"properties"`
	Metadata    map[string]any `json:"metadata"`
	Version     *int           `json:"version,omitempty"`
	CreatedAt   *time.Time     `json:"created_at,omitempty"`
	UpdatedAt   *time.Time     `json:"updated_at,omitempty"`
	DeletedAt   *time.Time     `json:"deleted_at,omitempty"`
}

// IsDeleted reports whether the element carries a tombstone.
func (e *Element) IsDeleted() bool {
	return e.DeletedAt != nil
}

// IsPersisted reports whether the backend has assigned a version.
func (e *Element) IsPersisted() bool {
	return e.Version != nil
}

// Clone returns a deep copy of the element.
func (e *Element) Clone() *Element {
	clone := *e
	clone.LayerID = cloneStringPtr(e.LayerID)
	clone.ParentID = cloneStringPtr(e.ParentID)
	clone.Version = cloneIntPtr(e.Version)
	clone.CreatedAt = cloneTimePtr(e.CreatedAt)
	clone.UpdatedAt = cloneTimePtr(e.UpdatedAt)
	clone.DeletedAt = cloneTimePtr(e.DeletedAt)
	clone.Style = CloneValueMap(e.Style)
	clone.Properties = CloneValueMap(e.Properties)
	clone.Metadata = CloneValueMap(e.Metadata)
	return &clone
}

// ElementPatch is a sparse update touching only the fields it names.
// Style/Properties/Metadata carry only the changed sub-keys; a nil sub-key
// value removes that key.
type ElementPatch struct {
	PositionX  *float64       `json:"position_x,omitempty"`
	PositionY  *float64       `json:"position_y,omitempty"`
	Width      *float64       `json:"width,omitempty"`
	Height     *float64       `json:"height,omitempty"`
	Rotation   *float64       `json:"rotation,omitempty"`
	ZIndex     *int           `json:"z_index,omitempty"`
	LayerID    *string        `json:"layer_id,omitempty"`
	ParentID   *string        `json:"parent_id,omitempty"`
	Style      map[string]any `json:"style,omitempty"`
	Properties map[string]any `json:"properties,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// IsEmpty reports whether the patch changes nothing.
func (p *ElementPatch) IsEmpty() bool {
	if p == nil {
		return true
	}
	return p.PositionX == nil && p.PositionY == nil && p.Width == nil &&
		p.Height == nil && p.Rotation == nil && p.ZIndex == nil &&
		p.LayerID == nil && p.ParentID == nil &&
		len(p.Style) == 0 && len(p.Properties) == 0 && len(p.Metadata) == 0
}

// Merge overlays other onto p, last write wins per field. Used to coalesce
// patches queued behind an in-flight create.
func (p *ElementPatch) Merge(other *ElementPatch) {
	if other == nil {
		return
	}
	if other.PositionX != nil {
		p.PositionX = other.PositionX
	}
	if other.PositionY != nil {
		p.PositionY = other.PositionY
	}
	if other.Width != nil {
		p.Width = other.Width
	}
	if other.Height != nil {
		p.Height = other.Height
	}
	if other.Rotation != nil {
		p.Rotation = other.Rotation
	}
	if other.ZIndex != nil {
		p.ZIndex = other.ZIndex
	}
	if other.LayerID != nil {
		p.LayerID = other.LayerID
	}
	if other.ParentID != nil {
		p.ParentID = other.ParentID
	}
	p.Style = mergeValueMap(p.Style, other.Style)
	p.Properties = mergeValueMap(p.Properties, other.Properties)
	p.Metadata = mergeValueMap(p.Metadata, other.Metadata)
}

func mergeValueMap(dst, src map[string]any) map[string]any {
	if len(src) == 0 {
		return dst
	}
	if dst == nil {
		dst = make(map[string]any, len(src))
	}
	for key, value := range src {
		dst[key] = value
	}
	return dst
}

// NormalizeRotation wraps a rotation into [0, 360). Non-finite input
// becomes 0.
func NormalizeRotation(value float64) float64 {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return 0
	}
	normalized := math.Mod(value, 360)
	if normalized < 0 {
		normalized += 360
	}
	if normalized >= 360 {
		return 0
	}
	return normalized
}

// MinDimension is the floor applied to non-positive remote dimensions.
const MinDimension = 1.0

// NormalizeDimension repairs a non-positive or non-finite size.
func NormalizeDimension(value float64) float64 {
	if math.IsNaN(value) || math.IsInf(value, 0) || value <= 0 {
		return MinDimension
	}
	return value
}

// FoldNegativeSize folds a negative size into the origin so width/height
// stay positive (dragging up-left while creating).
func FoldNegativeSize(origin, size float64) (float64, float64) {
	if size < 0 {
		return origin + size, -size
	}
	return origin, size
}

// DefaultStyle returns the style applied to new elements with no
// explicit style.
func DefaultStyle() map[string]any {
	return map[string]any{
		"fill":        "#ffffff",
		"stroke":      "#000000",
		"strokeWidth": float64(1),
		"opacity":     float64(1),
	}
}

// FromUntyped decodes a loose key-value object into an Element. Remote
// payloads are never trusted: a missing id, unknown element_type, or a
// non-numeric required field drops the element (ok=false) instead of
// erroring, so partially-synced peers cannot poison the board.
func FromUntyped(raw map[string]any) (*Element, bool) {
	if raw == nil {
		return nil, false
	}
	id, ok := stringField(raw, "id")
	if !ok || id == "" {
		return nil, false
	}
	typeName, ok := stringField(raw, "element_type")
	if !ok {
		return nil, false
	}
	elementType := ElementType(typeName)
	if !elementType.Valid() {
		return nil, false
	}
	positionX, ok := numberField(raw, "position_x")
	if !ok {
		return nil, false
	}
	positionY, ok := numberField(raw, "position_y")
	if !ok {
		return nil, false
	}
	width, ok := numberField(raw, "width")
	if !ok {
		return nil, false
	}
	height, ok := numberField(raw, "height")
	if !ok {
		return nil, false
	}

	element := &Element{
		ID:          id,
		ElementType: elementType,
		PositionX:   positionX,
		PositionY:   positionY,
		Width:       NormalizeDimension(width),
		Height:      NormalizeDimension(height),
		Style:       mapField(raw, "style"),
		Properties:  mapField(raw, "properties"),
		Metadata:    mapField(raw, "metadata"),
	}
	element.BoardID, _ = stringField(raw, "board_id")
	element.CreatedBy, _ = stringField(raw, "created_by")
	if value, ok := stringField(raw, "layer_id"); ok && value != "" {
		element.LayerID = &value
	}
	if value, ok := stringField(raw, "parent_id"); ok && value != "" {
		element.ParentID = &value
	}
	if value, ok := numberField(raw, "rotation"); ok {
		element.Rotation = NormalizeRotation(value)
	}
	if value, ok := numberField(raw, "z_index"); ok {
		element.ZIndex = int(value)
	}
	if value, ok := numberField(raw, "version"); ok {
		version := int(value)
		element.Version = &version
	}
	element.CreatedAt = timeField(raw, "created_at")
	element.UpdatedAt = timeField(raw, "updated_at")
	element.DeletedAt = timeField(raw, "deleted_at")
	return element, true
}

// ParseBinding decodes a connector binding sub-object from properties.
func ParseBinding(raw any) (*ConnectorBinding, bool) {
	object, ok := raw.(map[string]any)
	if !ok {
		return nil, false
	}
	elementID, ok := stringField(object, "elementId")
	if !ok || elementID == "" {
		return nil, false
	}
	side := SideAuto
	if value, ok := stringField(object, "side"); ok {
		switch Side(value) {
		case SideTop, SideRight, SideBottom, SideLeft, SideAuto:
			side = Side(value)
		default:
			return nil, false
		}
	}
	return &ConnectorBinding{ElementID: elementID, Side: side}, true
}

// ValuesEqual compares two loose values by serialized equality, the same
// comparison diffing uses for style/properties sub-keys.
func ValuesEqual(a, b any) bool {
	if a == nil && b == nil {
		return true
	}
	aJSON, errA := json.Marshal(a)
	bJSON, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	return string(aJSON) == string(bJSON)
}

// CloneValueMap deep-copies a loose key-value map through JSON. A nil map
// stays nil.
func CloneValueMap(values map[string]any) map[string]any {
	if values == nil {
		return nil
	}
	clone := make(map[string]any, len(values))
	for key, value := range values {
		clone[key] = cloneValue(value)
	}
	return clone
}

func cloneValue(value any) any {
	switch typed := value.(type) {
	case map[string]any:
		return CloneValueMap(typed)
	case []any:
		items := make([]any, len(typed))
		for i, item := range typed {
			items[i] = cloneValue(item)
		}
		return items
	default:
		return value
	}
}

func stringField(raw map[string]any, key string) (string, bool) {
	value, ok := raw[key].(string)
	return value, ok
}

func numberField(raw map[string]any, key string) (float64, bool) {
	switch value := raw[key].(type) {
	case float64:
		if math.IsNaN(value) || math.IsInf(value, 0) {
			return 0, false
		}
		return value, true
	case int:
		return float64(value), true
	case json.Number:
		parsed, err := value.Float64()
		if err != nil {
			return 0, false
		}
		return parsed, true
	}
	return 0, false
}

func mapField(raw map[string]any, key string) map[string]any {
	if value, ok := raw[key].(map[string]any); ok {
		return value
	}
	return map[string]any{}
}

func timeField(raw map[string]any, key string) *time.Time {
	value, ok := raw[key].(string)
	if !ok {
		return nil
	}
	parsed, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return nil
	}
	return &parsed
}

func cloneStringPtr(value *string) *string {
	if value == nil {
		return nil
	}
	copied := *value
	return &copied
}

func cloneIntPtr(value *int) *int {
	if value == nil {
		return nil
	}
	copied := *value
	return &copied
}

func cloneTimePtr(value *time.Time) *time.Time {
	if value == nil {
		return nil
	}
	copied := *value
	return &copied
}
