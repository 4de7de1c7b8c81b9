package document

import (
	"encoding/json"
	"fmt"
	"sort"
)

// WireCell is one stamped leaf value on the wire. Section is empty for
// top-level fields.
type WireCell struct {
	Element string `json:"element"`
	Section string `json:"section,omitempty"`
	Field   string `json:"field"`
	Value   any    `json:"value"`
	Clock   uint64 `json:"clock"`
	Replica string `json:"replica"`
}

type updatePayload struct {
	Cells []WireCell `json:"cells"`
}

// EncodeUpdate drains the cells changed since the last call into an
// incremental update payload. Returns ok=false when nothing changed.
func (s *Store) EncodeUpdate() ([]byte, bool) {
	s.mu.Lock()
	if len(s.pending) == 0 {
		s.mu.Unlock()
		return nil, false
	}
	cells := s.pending
	s.pending = nil
	s.mu.Unlock()

	data, err := json.Marshal(updatePayload{Cells: cells})
	if err != nil {
		return nil, false
	}
	return data, true
}

// EncodeState serializes the full stamped document for a SyncStep2 frame.
func (s *Store) EncodeState() ([]byte, error) {
	s.mu.Lock()
	ids := make([]string, 0, len(s.elements))
	for id := range s.elements {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var cells []WireCell
	for _, id := range ids {
		e := s.elements[id]
		fields := make([]string, 0, len(e.fields))
		for field := range e.fields {
			fields = append(fields, field)
		}
		sort.Strings(fields)
		for _, field := range fields {
			c := e.fields[field]
			cells = append(cells, WireCell{
				Element: id, Field: field, Value: c.value,
				Clock: c.stamp.Clock, Replica: c.stamp.Replica,
			})
		}
		for _, section := range []string{sectionStyle, sectionProperties, sectionMetadata} {
			keys := make([]string, 0, len(e.sections[section]))
			for key := range e.sections[section] {
				keys = append(keys, key)
			}
			sort.Strings(keys)
			for _, key := range keys {
				c := e.sections[section][key]
				cells = append(cells, WireCell{
					Element: id, Section: section, Field: key, Value: c.value,
					Clock: c.stamp.Clock, Replica: c.stamp.Replica,
				})
			}
		}
	}
	s.mu.Unlock()
	return json.Marshal(updatePayload{Cells: cells})
}

// ApplyRemote merges a decoded update payload under the given origin tag.
// A cell is taken only when its stamp wins over the local one; stale writes
// are discarded, so concurrent replicas converge regardless of arrival
// order. Merged cells are not queued for re-broadcast.
func (s *Store) ApplyRemote(payload []byte, origin Origin) error {
	var update updatePayload
	if err := json.Unmarshal(payload, &update); err != nil {
		return fmt.Errorf("decode update: %w", err)
	}
	// An empty cell list is a fresh board's snapshot, not corruption.
	if len(update.Cells) == 0 {
		return nil
	}

	s.mu.Lock()
	changed := false
	for _, wire := range update.Cells {
		if wire.Element == "" || wire.Field == "" {
			continue
		}
		incoming := stamp{Clock: wire.Clock, Replica: wire.Replica}
		if incoming.Clock > s.clock {
			s.clock = incoming.Clock
		}
		e := s.getOrCreate(wire.Element)
		var target map[string]cell
		if wire.Section == "" {
			target = e.fields
		} else {
			section, ok := e.sections[wire.Section]
			if !ok {
				continue
			}
			target = section
		}
		existing, ok := target[wire.Field]
		if ok && !incoming.wins(existing.stamp) {
			continue
		}
		target[wire.Field] = cell{value: wire.Value, stamp: incoming}
		changed = true
	}
	s.mu.Unlock()

	if changed {
		s.notify(origin)
	}
	return nil
}
