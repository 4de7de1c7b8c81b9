package protocol

import (
	"errors"
	"fmt"
	"log"
)

// Binary frame layout: one tag byte, then an opaque payload.
const (
	TagSyncStep1 byte = 0 // no-op on receipt; the server snapshot is authoritative
	TagSyncStep2 byte = 1 // full-state update
	TagUpdate    byte = 2 // incremental update
	TagAwareness byte = 3 // ephemeral presence update
)

// ErrEmptyFrame is returned for a frame with no tag byte.
var ErrEmptyFrame = errors.New("protocol: empty frame")

// Frame is a decoded wire frame.
type Frame struct {
	Tag     byte
	Payload []byte
}

// Encode frames a payload under a tag.
func Encode(tag byte, payload []byte) []byte {
	frame := make([]byte, 1+len(payload))
	frame[0] = tag
	copy(frame[1:], payload)
	return frame
}

// Decode splits a frame into tag and payload.
func Decode(data []byte) (Frame, error) {
	if len(data) == 0 {
		return Frame{}, ErrEmptyFrame
	}
	return Frame{Tag: data[0], Payload: data[1:]}, nil
}

// Dispatcher routes decoded frames to the document and presence merge
// points. Handlers return an error on corrupt payloads; the dispatcher logs
// and drops them so a bad frame never takes down the session.
type Dispatcher struct {
	OnSyncStep2 func(payload []byte) error
	OnUpdate    func(payload []byte) error
	OnAwareness func(payload []byte) error
}

// Dispatch decodes one incoming frame and applies it. Unknown tags are
// logged and ignored for forward compatibility.
func (d *Dispatcher) Dispatch(data []byte) {
	frame, err := Decode(data)
	if err != nil {
		log.Printf("[Protocol] Dropping empty frame")
		return
	}

	switch frame.Tag {
	case TagSyncStep1:
		// The server pushes the authoritative snapshot unprompted; nothing
		// to answer here.
	case TagSyncStep2:
		d.apply("sync", d.OnSyncStep2, frame.Payload)
	case TagUpdate:
		d.apply("update", d.OnUpdate, frame.Payload)
	case TagAwareness:
		d.apply("awareness", d.OnAwareness, frame.Payload)
	default:
		log.Printf("[Protocol] Ignoring unknown frame tag %d (%d bytes)", frame.Tag, len(frame.Payload))
	}
}

func (d *Dispatcher) apply(kind string, handler func([]byte) error, payload []byte) {
	if handler == nil {
		return
	}
	if err := handler(payload); err != nil {
		log.Printf("[Protocol] Failed to merge %s frame (%d bytes, head %s): %v",
			kind, len(payload), payloadHead(payload), err)
	}
}

// payloadHead renders the first 16 bytes for diagnostics.
func payloadHead(payload []byte) string {
	head := payload
	if len(head) > 16 {
		head = head[:16]
	}
	return fmt.Sprintf("%x", head)
}
