package document

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"boardsync/internal/model"
)

// Origin tags where a document mutation came from. Remote-origin changes are
// never re-broadcast, which is what keeps two peers from echoing the same
// update back and forth forever.
type Origin string

const (
	OriginLocal     Origin = "local"
	OriginRemote    Origin = "remote"
	OriginReconcile Origin = "reconcile"
)

const (
	fieldID          = "id"
	fieldBoardID     = "board_id"
	fieldLayerID     = "layer_id"
	fieldParentID    = "parent_id"
	fieldCreatedBy   = "created_by"
	fieldElementType = "element_type"
	fieldPositionX   = "position_x"
	fieldPositionY   = "position_y"
	fieldWidth       = "width"
	fieldHeight      = "height"
	fieldRotation    = "rotation"
	fieldZIndex      = "z_index"
	fieldVersion     = "version"
	fieldCreatedAt   = "created_at"
	fieldUpdatedAt   = "updated_at"
	fieldDeletedAt   = "deleted_at"

	sectionStyle      = "style"
	sectionProperties = "properties"
	sectionMetadata   = "metadata"
)

// stamp is a last-writer-wins timestamp: a lamport clock with the replica id
// breaking ties. Higher wins.
type stamp struct {
	Clock   uint64
	Replica string
}

func (s stamp) wins(over stamp) bool {
	if s.Clock != over.Clock {
		return s.Clock > over.Clock
	}
	return s.Replica > over.Replica
}

// cell is one independently-addressable leaf value. A nil value means the
// field is absent (removed); the stamp is retained so a concurrent stale
// write cannot resurrect it.
type cell struct {
	value any
	stamp stamp
}

// entry is the replicated state of one element: flat top-level fields plus
// per-key stamped sections for style/properties/metadata. seq preserves
// local insertion order for z-index ties.
type entry struct {
	seq      uint64
	fields   map[string]cell
	sections map[string]map[string]cell
}

func newEntry(seq uint64) *entry {
	return &entry{
		seq:    seq,
		fields: make(map[string]cell),
		sections: map[string]map[string]cell{
			sectionStyle:      {},
			sectionProperties: {},
			sectionMetadata:   {},
		},
	}
}

// Store is the canonical per-client replica of the board document. Local
// mutation, decoded remote updates and reconciliation patches all serialize
// through its mutex, so every merge is atomic with respect to materialization
// reads.
type Store struct {
	mu        sync.Mutex
	replica   string
	clock     uint64
	seq       uint64
	elements  map[string]*entry
	pending   []WireCell
	listeners []func(Origin)
}

// New creates an empty document replica with a fresh replica id.
func New() *Store {
	return &Store{
		replica:  uuid.NewString(),
		elements: make(map[string]*entry),
	}
}

// Replica returns this replica's id.
func (s *Store) Replica() string {
	return s.replica
}

// OnChange registers a listener invoked after every committed merge with the
// origin of the change. Listeners run outside the store lock.
func (s *Store) OnChange(fn func(Origin)) {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

func (s *Store) notify(origin Origin) {
	s.mu.Lock()
	listeners := make([]func(Origin), len(s.listeners))
	copy(listeners, s.listeners)
	s.mu.Unlock()
	for _, fn := range listeners {
		fn(origin)
	}
}

// nextStamp advances the lamport clock for a local commit.
func (s *Store) nextStamp() stamp {
	s.clock++
	return stamp{Clock: s.clock, Replica: s.replica}
}

func (s *Store) getOrCreate(id string) *entry {
	e, ok := s.elements[id]
	if !ok {
		s.seq++
		e = newEntry(s.seq)
		s.elements[id] = e
	}
	return e
}

// setField writes a top-level cell and records it for broadcast.
func (s *Store) setField(id string, e *entry, field string, value any, st stamp) {
	e.fields[field] = cell{value: value, stamp: st}
	s.pending = append(s.pending, WireCell{
		Element: id, Field: field, Value: value,
		Clock: st.Clock, Replica: st.Replica,
	})
}

// setSection writes one sub-key of style/properties/metadata.
func (s *Store) setSection(id string, e *entry, section, key string, value any, st stamp) {
	e.sections[section][key] = cell{value: value, stamp: st}
	s.pending = append(s.pending, WireCell{
		Element: id, Section: section, Field: key, Value: value,
		Clock: st.Clock, Replica: st.Replica,
	})
}

// Create inserts a new element under element.ID. Negative sizes are folded
// into the origin; a missing style gets the default fill/stroke.
func (s *Store) Create(element *model.Element) {
	s.mu.Lock()
	st := s.nextStamp()
	e := s.getOrCreate(element.ID)

	positionX, width := model.FoldNegativeSize(element.PositionX, element.Width)
	positionY, height := model.FoldNegativeSize(element.PositionY, element.Height)

	s.setField(element.ID, e, fieldID, element.ID, st)
	s.setField(element.ID, e, fieldBoardID, element.BoardID, st)
	s.setField(element.ID, e, fieldCreatedBy, element.CreatedBy, st)
	s.setField(element.ID, e, fieldElementType, string(element.ElementType), st)
	s.setField(element.ID, e, fieldPositionX, positionX, st)
	s.setField(element.ID, e, fieldPositionY, positionY, st)
	s.setField(element.ID, e, fieldWidth, width, st)
	s.setField(element.ID, e, fieldHeight, height, st)
	s.setField(element.ID, e, fieldRotation, model.NormalizeRotation(element.Rotation), st)
	s.setField(element.ID, e, fieldZIndex, float64(element.ZIndex), st)
	if element.LayerID != nil {
		s.setField(element.ID, e, fieldLayerID, *element.LayerID, st)
	}
	if element.ParentID != nil {
		s.setField(element.ID, e, fieldParentID, *element.ParentID, st)
	}
	if element.Version != nil {
		s.setField(element.ID, e, fieldVersion, float64(*element.Version), st)
	}

	now := time.Now().UTC()
	createdAt := now
	if element.CreatedAt != nil {
		createdAt = *element.CreatedAt
	}
	s.setField(element.ID, e, fieldCreatedAt, createdAt.Format(time.RFC3339Nano), st)
	s.setField(element.ID, e, fieldUpdatedAt, now.Format(time.RFC3339Nano), st)

	style := element.Style
	if len(style) == 0 {
		style = model.DefaultStyle()
	}
	for key, value := range style {
		s.setSection(element.ID, e, sectionStyle, key, value, st)
	}
	for key, value := range element.Properties {
		s.setSection(element.ID, e, sectionProperties, key, value, st)
	}
	for key, value := range element.Metadata {
		s.setSection(element.ID, e, sectionMetadata, key, value, st)
	}
	s.mu.Unlock()
	s.notify(OriginLocal)
}

// ApplyPatch applies a sparse local patch. Patches to missing or tombstoned
// elements are dropped (returns false), matching backend semantics.
func (s *Store) ApplyPatch(id string, patch *model.ElementPatch) bool {
	if patch.IsEmpty() {
		return false
	}
	s.mu.Lock()
	e, ok := s.elements[id]
	if !ok || s.isDeleted(e) {
		s.mu.Unlock()
		return false
	}
	st := s.nextStamp()
	s.applyPatchLocked(id, e, patch, st)
	s.setField(id, e, fieldUpdatedAt, time.Now().UTC().Format(time.RFC3339Nano), st)
	s.mu.Unlock()
	s.notify(OriginLocal)
	return true
}

func (s *Store) applyPatchLocked(id string, e *entry, patch *model.ElementPatch, st stamp) {
	if patch.PositionX != nil {
		s.setField(id, e, fieldPositionX, *patch.PositionX, st)
	}
	if patch.PositionY != nil {
		s.setField(id, e, fieldPositionY, *patch.PositionY, st)
	}
	if patch.Width != nil {
		s.setField(id, e, fieldWidth, *patch.Width, st)
	}
	if patch.Height != nil {
		s.setField(id, e, fieldHeight, *patch.Height, st)
	}
	if patch.Rotation != nil {
		s.setField(id, e, fieldRotation, model.NormalizeRotation(*patch.Rotation), st)
	}
	if patch.ZIndex != nil {
		s.setField(id, e, fieldZIndex, float64(*patch.ZIndex), st)
	}
	if patch.LayerID != nil {
		s.setField(id, e, fieldLayerID, *patch.LayerID, st)
	}
	if patch.ParentID != nil {
		s.setField(id, e, fieldParentID, *patch.ParentID, st)
	}
	for key, value := range patch.Style {
		s.setSection(id, e, sectionStyle, key, value, st)
	}
	for key, value := range patch.Properties {
		s.setSection(id, e, sectionProperties, key, value, st)
	}
	for key, value := range patch.Metadata {
		s.setSection(id, e, sectionMetadata, key, value, st)
	}
}

// Delete writes a tombstone. The element stays addressable for undo.
func (s *Store) Delete(id string, at time.Time) bool {
	s.mu.Lock()
	e, ok := s.elements[id]
	if !ok {
		s.mu.Unlock()
		return false
	}
	st := s.nextStamp()
	s.setField(id, e, fieldDeletedAt, at.UTC().Format(time.RFC3339Nano), st)
	s.setField(id, e, fieldUpdatedAt, at.UTC().Format(time.RFC3339Nano), st)
	s.mu.Unlock()
	s.notify(OriginLocal)
	return true
}

// Restore clears a tombstone, re-materializing the element locally.
func (s *Store) Restore(id string) bool {
	s.mu.Lock()
	e, ok := s.elements[id]
	if !ok {
		s.mu.Unlock()
		return false
	}
	st := s.nextStamp()
	s.setField(id, e, fieldDeletedAt, nil, st)
	s.setField(id, e, fieldUpdatedAt, time.Now().UTC().Format(time.RFC3339Nano), st)
	s.mu.Unlock()
	s.notify(OriginLocal)
	return true
}

// SetServerMeta folds a backend response (assigned version, timestamps) back
// into the replica. Broadcast to peers so they learn the durable version.
func (s *Store) SetServerMeta(id string, version int, updatedAt *time.Time, deletedAt *time.Time) bool {
	s.mu.Lock()
	e, ok := s.elements[id]
	if !ok {
		s.mu.Unlock()
		return false
	}
	st := s.nextStamp()
	s.setField(id, e, fieldVersion, float64(version), st)
	if updatedAt != nil {
		s.setField(id, e, fieldUpdatedAt, updatedAt.UTC().Format(time.RFC3339Nano), st)
	}
	if deletedAt != nil {
		s.setField(id, e, fieldDeletedAt, deletedAt.UTC().Format(time.RFC3339Nano), st)
	}
	s.mu.Unlock()
	s.notify(OriginReconcile)
	return true
}

// Rename moves an element to its server-assigned id. Cells are re-stamped
// under the new key, and the old id is tombstoned on the wire so peers that
// already merged the provisional element drop it.
func (s *Store) Rename(oldID, newID string) bool {
	if oldID == newID {
		return true
	}
	s.mu.Lock()
	e, ok := s.elements[oldID]
	if !ok {
		s.mu.Unlock()
		return false
	}
	delete(s.elements, oldID)
	s.elements[newID] = e
	st := s.nextStamp()
	s.pending = append(s.pending, WireCell{
		Element: oldID, Field: fieldDeletedAt,
		Value: time.Now().UTC().Format(time.RFC3339Nano),
		Clock: st.Clock, Replica: st.Replica,
	})
	for field, c := range e.fields {
		if field == fieldID {
			continue
		}
		s.setField(newID, e, field, c.value, st)
	}
	s.setField(newID, e, fieldID, newID, st)
	for section, cells := range e.sections {
		for key, c := range cells {
			s.setSection(newID, e, section, key, c.value, st)
		}
	}
	s.mu.Unlock()
	s.notify(OriginReconcile)
	return true
}

func (s *Store) isDeleted(e *entry) bool {
	c, ok := e.fields[fieldDeletedAt]
	return ok && c.value != nil
}

// Get materializes a single element, tombstoned or not.
func (s *Store) Get(id string) (*model.Element, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.elements[id]
	if !ok {
		return nil, false
	}
	element, ok := s.materializeEntry(id, e)
	return element, ok
}

// Materialize returns the live elements ordered by z-index, ties broken by
// insertion order. Malformed entries (missing required fields, unknown type)
// are dropped silently; tombstoned elements are excluded unless asked for.
func (s *Store) Materialize(includeDeleted bool) []*model.Element {
	s.mu.Lock()
	type ordered struct {
		element *model.Element
		seq     uint64
	}
	rows := make([]ordered, 0, len(s.elements))
	for id, e := range s.elements {
		element, ok := s.materializeEntry(id, e)
		if !ok {
			continue
		}
		if element.IsDeleted() && !includeDeleted {
			continue
		}
		rows = append(rows, ordered{element: element, seq: e.seq})
	}
	s.mu.Unlock()

	sort.Slice(rows, func(i, j int) bool {
		if rows[i].element.ZIndex != rows[j].element.ZIndex {
			return rows[i].element.ZIndex < rows[j].element.ZIndex
		}
		return rows[i].seq < rows[j].seq
	})
	elements := make([]*model.Element, len(rows))
	for i, row := range rows {
		elements[i] = row.element
	}
	return elements
}

func (s *Store) materializeEntry(id string, e *entry) (*model.Element, bool) {
	raw := make(map[string]any, len(e.fields)+3)
	for field, c := range e.fields {
		if c.value != nil {
			raw[field] = c.value
		}
	}
	if _, ok := raw[fieldID]; !ok {
		raw[fieldID] = id
	}
	for section, cells := range e.sections {
		values := make(map[string]any, len(cells))
		for key, c := range cells {
			if c.value != nil {
				values[key] = c.value
			}
		}
		raw[section] = values
	}
	return model.FromUntyped(raw)
}
