package presence

import (
	"hash/fnv"
	"sort"
	"time"
)

// palette is the fixed set of presence colors. Assignment hashes the user
// id, so a user keeps the same color across sessions and across peers.
var palette = []string{
	"#f44336", "#e91e63", "#9c27b0", "#673ab7", "#3f51b5",
	"#2196f3", "#00bcd4", "#009688", "#4caf50", "#ff9800",
}

// ColorFor returns the deterministic presence color for a user id.
func ColorFor(userID string) string {
	h := fnv.New32a()
	h.Write([]byte(userID))
	return palette[h.Sum32()%uint32(len(palette))]
}

// CursorEntry is one rendered remote cursor.
type CursorEntry struct {
	Key      string
	UserID   string
	UserName string
	Color    string
	X        float64
	Y        float64
	LastSeen time.Time
}

func (e *CursorEntry) equal(other *CursorEntry) bool {
	return e.Key == other.Key && e.UserID == other.UserID &&
		e.UserName == other.UserName && e.Color == other.Color &&
		e.X == other.X && e.Y == other.Y && e.LastSeen.Equal(other.LastSeen)
}

// BuildCursorMap derives the remote cursor view from raw peer states: at
// most one entry per logical user (keyed by user id, per-connection key when
// the user id is empty), keeping the most recently seen connection and
// dropping entries older than idle.
//
// When previous is supplied, an entry value-equal to its previous
// counterpart is returned as the same pointer, and an entirely-unchanged
// map is returned as previous itself. Downstream change detection depends
// on this.
func BuildCursorMap(peers []PeerState, idle time.Duration, now time.Time, previous map[string]*CursorEntry) map[string]*CursorEntry {
	cutoff := now.Add(-idle)
	fresh := make(map[string]*CursorEntry)
	for i := range peers {
		peer := &peers[i]
		if peer.Cursor == nil || peer.LastSeen.Before(cutoff) {
			continue
		}
		key := peer.UserID
		if key == "" {
			key = peer.Key
		}
		if existing, ok := fresh[key]; ok && !existing.LastSeen.Before(peer.LastSeen) {
			continue
		}
		fresh[key] = &CursorEntry{
			Key:      key,
			UserID:   peer.UserID,
			UserName: peer.UserName,
			Color:    ColorFor(peer.UserID),
			X:        peer.Cursor.X,
			Y:        peer.Cursor.Y,
			LastSeen: peer.LastSeen,
		}
	}

	if previous == nil {
		return fresh
	}
	reusedAll := len(fresh) == len(previous)
	for key, entry := range fresh {
		prev, ok := previous[key]
		if ok && entry.equal(prev) {
			fresh[key] = prev
		} else {
			reusedAll = false
		}
	}
	if reusedAll {
		return previous
	}
	return fresh
}

// SelectionEntry is one remote user's reported selection, with the actively
// edited element folded in.
type SelectionEntry struct {
	UserID    string
	UserName  string
	AvatarURL string
	Color     string
	Selection []string
	Editing   *Editing
	Drag      *Drag
	LastSeen  time.Time
}

func (e *SelectionEntry) equal(other *SelectionEntry) bool {
	return e.UserID == other.UserID && e.UserName == other.UserName &&
		e.AvatarURL == other.AvatarURL && e.Color == other.Color &&
		stringSlicesEqual(e.Selection, other.Selection) &&
		editingEqual(e.Editing, other.Editing) &&
		dragEqual(e.Drag, other.Drag) &&
		e.LastSeen.Equal(other.LastSeen)
}

// BuildSelectionPresence derives the remote selection view: peers whose
// selection-or-editing activity is within stale, excluding the local user.
// The edited element is always part of the reported selection even when the
// raw selection list does not carry it. Entry pointers are reused by value
// equality the same way BuildCursorMap does.
func BuildSelectionPresence(peers []PeerState, localUserID string, stale time.Duration, now time.Time, previous []*SelectionEntry) []*SelectionEntry {
	cutoff := now.Add(-stale)
	fresh := make([]*SelectionEntry, 0, len(peers))
	for i := range peers {
		peer := &peers[i]
		if peer.UserID != "" && peer.UserID == localUserID {
			continue
		}
		if peer.SelectionAt.Before(cutoff) {
			continue
		}
		selection := append([]string(nil), peer.Selection...)
		if peer.Editing != nil && !containsString(selection, peer.Editing.ElementID) {
			selection = append(selection, peer.Editing.ElementID)
		}
		if len(selection) == 0 && peer.Editing == nil {
			continue
		}
		fresh = append(fresh, &SelectionEntry{
			UserID:    peer.UserID,
			UserName:  peer.UserName,
			AvatarURL: peer.AvatarURL,
			Color:     ColorFor(peer.UserID),
			Selection: selection,
			Editing:   peer.Editing,
			Drag:      peer.Drag,
			LastSeen:  peer.LastSeen,
		})
	}
	sort.Slice(fresh, func(i, j int) bool { return fresh[i].UserID < fresh[j].UserID })

	if previous == nil {
		return fresh
	}
	prevByUser := make(map[string]*SelectionEntry, len(previous))
	for _, entry := range previous {
		prevByUser[entry.UserID] = entry
	}
	reusedAll := len(fresh) == len(previous)
	for i, entry := range fresh {
		prev, ok := prevByUser[entry.UserID]
		if ok && entry.equal(prev) {
			fresh[i] = prev
		} else {
			reusedAll = false
		}
	}
	if reusedAll {
		return previous
	}
	return fresh
}

func containsString(values []string, target string) bool {
	for _, value := range values {
		if value == target {
			return true
		}
	}
	return false
}
