package session

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"boardsync/internal/config"
	"boardsync/internal/protocol"
)

func sessionConfig(wsURL string) *config.Config {
	return &config.Config{
		Backend: config.BackendConfig{
			BaseURL: "http://127.0.0.1:0",
			WSURL:   wsURL,
			BoardID: "board-1",
		},
		WebSocket: config.WebSocketConfig{
			ReadBufferSize:   4096,
			WriteBufferSize:  4096,
			HandshakeTimeout: 2 * time.Second,
			WriteTimeout:     2 * time.Second,
			PingInterval:     50 * time.Millisecond,
		},
		Presence: config.PresenceConfig{
			CursorIdle:     time.Second,
			SelectionStale: time.Second,
			SweepInterval:  50 * time.Millisecond,
		},
		Routing: config.RoutingConfig{
			Workers: 1, QueueSize: 4,
			Padding: 16, BoundPadding: 8, Margin: 64,
			BendPenalty: 10, AnchorHysteresis: 0.25,
		},
		Reconcile: config.ReconcileConfig{UndoWindow: time.Second},
	}
}

// startBoardServer accepts one websocket upgrade and forwards every received
// data frame.
func startBoardServer(t *testing.T) (string, chan []byte) {
	t.Helper()
	frames := make(chan []byte, 64)
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			frames <- data
		}
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http"), frames
}

func nextFrame(t *testing.T, frames chan []byte) []byte {
	t.Helper()
	select {
	case frame := <-frames:
		require.NotEmpty(t, frame)
		return frame
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a frame")
		return nil
	}
}

// TestJoinAnnouncesAndLeavesOnClose verifies the join handshake goes out and
// Close delivers the leave tombstone through the writer goroutine before the
// close handshake tears the socket down.
func TestJoinAnnouncesAndLeavesOnClose(t *testing.T) {
	wsURL, frames := startBoardServer(t)

	sess, err := Join(context.Background(), sessionConfig(wsURL))
	require.NoError(t, err)

	first := nextFrame(t, frames)
	assert.Equal(t, protocol.TagSyncStep1, first[0])
	second := nextFrame(t, frames)
	assert.Equal(t, protocol.TagAwareness, second[0])

	sess.MoveCursor(10, 20)
	sess.Close()

	// The last awareness frame on the wire must be the leave tombstone.
	for {
		frame := nextFrame(t, frames)
		if frame[0] != protocol.TagAwareness {
			continue
		}
		var payload struct {
			Key  string `json:"key"`
			Gone bool   `json:"gone"`
		}
		require.NoError(t, json.Unmarshal(frame[1:], &payload))
		if payload.Gone {
			assert.NotEmpty(t, payload.Key)
			return
		}
	}
}
