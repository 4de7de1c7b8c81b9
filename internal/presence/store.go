package presence

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// EditMode is what a peer is doing to an element.
type EditMode string

const (
	EditDrag   EditMode = "drag"
	EditResize EditMode = "resize"
	EditText   EditMode = "text"
)

// Cursor is a peer's pointer position in board coordinates.
type Cursor struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Editing marks the element a peer is actively manipulating.
type Editing struct {
	ElementID string   `json:"element_id"`
	Mode      EditMode `json:"mode"`
}

// Drag is a peer's live drag preview, broadcast before the move commits.
type Drag struct {
	ElementID string   `json:"element_id"`
	PositionX float64  `json:"position_x"`
	PositionY float64  `json:"position_y"`
	Width     *float64 `json:"width,omitempty"`
	Height    *float64 `json:"height,omitempty"`
	Rotation  *float64 `json:"rotation,omitempty"`
}

// PeerState is the raw ephemeral state of one connection. LastSeen and
// SelectionAt are stamped with local receive time, so staleness checks do
// not depend on remote clocks.
type PeerState struct {
	Key         string
	UserID      string
	UserName    string
	AvatarURL   string
	Cursor      *Cursor
	Selection   []string
	Editing     *Editing
	Drag        *Drag
	Clock       uint64
	LastSeen    time.Time
	SelectionAt time.Time
}

// awarenessPayload is the wire form of one peer's ephemeral state.
type awarenessPayload struct {
	Key       string   `json:"key"`
	UserID    string   `json:"user_id"`
	UserName  string   `json:"user_name"`
	AvatarURL string   `json:"avatar_url,omitempty"`
	Cursor    *Cursor  `json:"cursor,omitempty"`
	Selection []string `json:"selection,omitempty"`
	Editing   *Editing `json:"editing,omitempty"`
	Drag      *Drag    `json:"drag,omitempty"`
	Clock     uint64   `json:"clock"`
	Gone      bool     `json:"gone,omitempty"`
}

// Store holds the ephemeral key-value state of every connection on the
// board, local state included. It is constructed per session and torn down
// on leave; there is no process-wide singleton.
type Store struct {
	mu        sync.Mutex
	local     PeerState
	clock     uint64
	peers     map[string]*PeerState
	listeners []func()
}

// NewStore creates a presence store for one session.
func NewStore(connectionKey, userID, userName, avatarURL string) *Store {
	return &Store{
		local: PeerState{
			Key:       connectionKey,
			UserID:    userID,
			UserName:  userName,
			AvatarURL: avatarURL,
		},
		peers: make(map[string]*PeerState),
	}
}

// OnChange registers a listener invoked after every remote peer change
// (merge or eviction). Listeners run outside the store lock; render
// scheduling is the caller's business.
func (s *Store) OnChange(fn func()) {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

func (s *Store) notify() {
	s.mu.Lock()
	listeners := make([]func(), len(s.listeners))
	copy(listeners, s.listeners)
	s.mu.Unlock()
	for _, fn := range listeners {
		fn()
	}
}

// SetCursor updates the local cursor.
func (s *Store) SetCursor(x, y float64) {
	s.mu.Lock()
	s.local.Cursor = &Cursor{X: x, Y: y}
	s.mu.Unlock()
}

// ClearCursor drops the local cursor (pointer left the board).
func (s *Store) ClearCursor() {
	s.mu.Lock()
	s.local.Cursor = nil
	s.mu.Unlock()
}

// SetSelection replaces the local selection set.
func (s *Store) SetSelection(elementIDs []string) {
	s.mu.Lock()
	s.local.Selection = append([]string(nil), elementIDs...)
	s.mu.Unlock()
}

// SetEditing marks or clears the locally edited element.
func (s *Store) SetEditing(editing *Editing) {
	s.mu.Lock()
	s.local.Editing = editing
	s.mu.Unlock()
}

// SetDrag updates or clears the local drag preview.
func (s *Store) SetDrag(drag *Drag) {
	s.mu.Lock()
	s.local.Drag = drag
	s.mu.Unlock()
}

// EncodeLocal serializes the local state as an awareness payload. Each
// encode advances the local awareness clock so peers can discard reordered
// frames.
func (s *Store) EncodeLocal() ([]byte, error) {
	s.mu.Lock()
	s.clock++
	payload := awarenessPayload{
		Key:       s.local.Key,
		UserID:    s.local.UserID,
		UserName:  s.local.UserName,
		AvatarURL: s.local.AvatarURL,
		Cursor:    s.local.Cursor,
		Selection: append([]string(nil), s.local.Selection...),
		Editing:   s.local.Editing,
		Drag:      s.local.Drag,
		Clock:     s.clock,
	}
	s.mu.Unlock()
	return json.Marshal(payload)
}

// EncodeLeave serializes a tombstone payload telling peers this connection
// is gone.
func (s *Store) EncodeLeave() ([]byte, error) {
	s.mu.Lock()
	s.clock++
	payload := awarenessPayload{Key: s.local.Key, Clock: s.clock, Gone: true}
	s.mu.Unlock()
	return json.Marshal(payload)
}

// ApplyAwareness merges a remote awareness payload. Out-of-order frames
// (stale clock) and the local echo are dropped. Returns an error only on a
// corrupt payload.
func (s *Store) ApplyAwareness(payload []byte, now time.Time) error {
	var update awarenessPayload
	if err := json.Unmarshal(payload, &update); err != nil {
		return fmt.Errorf("decode awareness: %w", err)
	}
	if update.Key == "" {
		return fmt.Errorf("awareness payload missing connection key")
	}

	s.mu.Lock()
	changed := s.applyLocked(&update, now)
	s.mu.Unlock()
	if changed {
		s.notify()
	}
	return nil
}

// applyLocked merges one payload and reports whether anything changed.
// Caller holds mu.
func (s *Store) applyLocked(update *awarenessPayload, now time.Time) bool {
	if update.Key == s.local.Key {
		return false
	}
	if update.Gone {
		_, exists := s.peers[update.Key]
		delete(s.peers, update.Key)
		return exists
	}

	peer, exists := s.peers[update.Key]
	if exists && update.Clock <= peer.Clock {
		return false
	}
	if !exists {
		peer = &PeerState{Key: update.Key}
		s.peers[update.Key] = peer
	}

	selectionChanged := !exists ||
		!stringSlicesEqual(peer.Selection, update.Selection) ||
		!editingEqual(peer.Editing, update.Editing)

	peer.UserID = update.UserID
	peer.UserName = update.UserName
	peer.AvatarURL = update.AvatarURL
	peer.Cursor = update.Cursor
	peer.Selection = update.Selection
	peer.Editing = update.Editing
	peer.Drag = update.Drag
	peer.Clock = update.Clock
	peer.LastSeen = now
	if selectionChanged {
		peer.SelectionAt = now
	}
	return true
}

// Snapshot returns a copy of all remote peer states.
func (s *Store) Snapshot() []PeerState {
	s.mu.Lock()
	defer s.mu.Unlock()
	peers := make([]PeerState, 0, len(s.peers))
	for _, peer := range s.peers {
		copied := *peer
		peers = append(peers, copied)
	}
	return peers
}

// Sweep evicts connections not heard from within maxAge. Runs on a ticker
// independent of document merges, so idle peers disappear even when the
// board is quiet.
func (s *Store) Sweep(now time.Time, maxAge time.Duration) int {
	s.mu.Lock()
	removed := 0
	for key, peer := range s.peers {
		if now.Sub(peer.LastSeen) > maxAge {
			delete(s.peers, key)
			removed++
		}
	}
	s.mu.Unlock()
	if removed > 0 {
		s.notify()
	}
	return removed
}

func stringSlicesEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func editingEqual(a, b *Editing) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func dragEqual(a, b *Drag) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.ElementID == b.ElementID &&
		a.PositionX == b.PositionX && a.PositionY == b.PositionY &&
		floatPtrEqual(a.Width, b.Width) && floatPtrEqual(a.Height, b.Height) &&
		floatPtrEqual(a.Rotation, b.Rotation)
}

func floatPtrEqual(a, b *float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
