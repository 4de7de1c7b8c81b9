package session

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"boardsync/internal/config"
	"boardsync/internal/document"
	"boardsync/internal/model"
	"boardsync/internal/presence"
	"boardsync/internal/protocol"
	"boardsync/internal/reconcile"
	"boardsync/internal/routing"
)

// Session is one live connection to a board: the document replica, the
// presence store, the persistence reconciler and the routing pool, glued to
// a single WebSocket. All outbound traffic funnels through one writer
// goroutine; a slow socket drops frames instead of blocking merges.
type Session struct {
	cfg      *config.Config
	identity Identity

	doc    *document.Store
	pres   *presence.Store
	rec    *reconcile.Reconciler
	router *routing.Adapter

	conn       *websocket.Conn
	outbound   chan []byte
	writerDone chan struct{}

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once

	mu            sync.Mutex
	cursorView    map[string]*presence.CursorEntry
	selectionView []*presence.SelectionEntry
	sides         map[string]map[string]model.Side

	// OnError receives user-facing persistence failures. Optional.
	OnError func(op, message string)
}

// Join dials the board socket and starts the session loops. The returned
// session is live until Close or a fatal socket error.
func Join(ctx context.Context, cfg *config.Config) (*Session, error) {
	identity := IdentityFromToken(cfg.Backend.AccessToken)

	s := &Session{
		cfg:      cfg,
		identity: identity,
		doc:      document.New(),
		pres:     presence.NewStore(uuid.NewString(), identity.UserID, identity.UserName, identity.AvatarURL),
		router:   routing.NewAdapter(cfg.Routing.Workers, cfg.Routing.QueueSize),
		outbound:   make(chan []byte, 256),
		writerDone: make(chan struct{}),
		sides:      make(map[string]map[string]model.Side),
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	api := reconcile.NewClient(cfg.Backend.BaseURL, cfg.Backend.BoardID, cfg.Backend.AccessToken)
	s.rec = reconcile.NewReconciler(s.doc, api, cfg.Reconcile.UndoWindow, func(op, message string) {
		if s.OnError != nil {
			s.OnError(op, message)
		}
	})

	dialer := websocket.Dialer{
		HandshakeTimeout: cfg.WebSocket.HandshakeTimeout,
		ReadBufferSize:   cfg.WebSocket.ReadBufferSize,
		WriteBufferSize:  cfg.WebSocket.WriteBufferSize,
	}
	target := cfg.Backend.WSURL + "/" + cfg.Backend.BoardID
	if cfg.Backend.AccessToken != "" {
		target += "?token=" + cfg.Backend.AccessToken
	}
	conn, _, err := dialer.DialContext(ctx, target, nil)
	if err != nil {
		s.cancel()
		return nil, err
	}
	s.conn = conn
	log.Printf("[Session] Connected to board %s as %s", cfg.Backend.BoardID, identity.UserID)

	// Local and reconcile commits go straight out; remote merges never echo.
	s.doc.OnChange(func(origin document.Origin) {
		if origin == document.OriginRemote {
			return
		}
		if payload, ok := s.doc.EncodeUpdate(); ok {
			s.enqueue(protocol.Encode(protocol.TagUpdate, payload))
		}
	})

	s.router.Start()

	s.wg.Add(3)
	go s.readPump()
	go s.writePump()
	go s.sweepLoop()

	// Announce ourselves: ask for the snapshot, then share who we are.
	s.enqueue(protocol.Encode(protocol.TagSyncStep1, nil))
	s.broadcastAwareness()
	return s, nil
}

// Document exposes the session's document replica.
func (s *Session) Document() *document.Store { return s.doc }

// Presence exposes the session's raw presence store.
func (s *Session) Presence() *presence.Store { return s.pres }

// Identity returns who this session presents as.
func (s *Session) Identity() Identity { return s.identity }

// Done closes when the session has shut down.
func (s *Session) Done() <-chan struct{} { return s.ctx.Done() }

// Close tears the session down: leave announcement, undo timers, routing
// pool, socket. The leave frame and close handshake go out on the writer
// goroutine, which owns all socket writes. Safe to call more than once.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.cancel()
		<-s.writerDone
		s.rec.Close()
		s.router.Close()
		s.conn.Close()
		s.wg.Wait()
		log.Printf("[Session] Left board %s", s.cfg.Backend.BoardID)
	})
}

// --- document operations ---

// CreateElement commits and persists a new element. A missing id gets a
// provisional one, replaced by the backend-assigned id on reconcile.
func (s *Session) CreateElement(ctx context.Context, element *model.Element) error {
	if element.ID == "" {
		element.ID = uuid.NewString()
	}
	element.BoardID = s.cfg.Backend.BoardID
	if element.CreatedBy == "" {
		element.CreatedBy = s.identity.UserID
	}
	return s.rec.CreateElement(ctx, element)
}

// UpdateElement commits and persists a sparse patch.
func (s *Session) UpdateElement(ctx context.Context, id string, patch *model.ElementPatch) error {
	return s.rec.UpdateElement(ctx, id, patch)
}

// DeleteElements tombstones and persists deletes, opening an undo window.
func (s *Session) DeleteElements(ctx context.Context, ids []string) {
	s.rec.DeleteElements(ctx, ids)
}

// UndoDelete restores the most recent delete batch while its window is open.
func (s *Session) UndoDelete(ctx context.Context) bool {
	return s.rec.UndoDelete(ctx)
}

// CanUndo reports whether a delete batch is still undoable.
func (s *Session) CanUndo() bool { return s.rec.CanUndo() }

// --- presence operations ---

// MoveCursor publishes the local cursor position.
func (s *Session) MoveCursor(x, y float64) {
	s.pres.SetCursor(x, y)
	s.broadcastAwareness()
}

// ClearCursor publishes that the pointer left the board.
func (s *Session) ClearCursor() {
	s.pres.ClearCursor()
	s.broadcastAwareness()
}

// Select publishes the local selection set.
func (s *Session) Select(elementIDs []string) {
	s.pres.SetSelection(elementIDs)
	s.broadcastAwareness()
}

// SetEditing publishes (or clears) the locally edited element.
func (s *Session) SetEditing(editing *presence.Editing) {
	s.pres.SetEditing(editing)
	s.broadcastAwareness()
}

// SetDrag publishes (or clears) the local drag preview.
func (s *Session) SetDrag(drag *presence.Drag) {
	s.pres.SetDrag(drag)
	s.broadcastAwareness()
}

// CursorView returns the remote cursor map. Unchanged entries keep their
// previous pointers, so callers can cheaply detect real changes.
func (s *Session) CursorView() map[string]*presence.CursorEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursorView = presence.BuildCursorMap(
		s.pres.Snapshot(), s.cfg.Presence.CursorIdle, time.Now(), s.cursorView)
	return s.cursorView
}

// SelectionView returns the remote selection presence with the same pointer
// reuse contract as CursorView.
func (s *Session) SelectionView() []*presence.SelectionEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selectionView = presence.BuildSelectionPresence(
		s.pres.Snapshot(), s.identity.UserID, s.cfg.Presence.SelectionStale, time.Now(), s.selectionView)
	return s.selectionView
}

func (s *Session) broadcastAwareness() {
	payload, err := s.pres.EncodeLocal()
	if err != nil {
		log.Printf("[Session] Failed to encode awareness: %v", err)
		return
	}
	s.enqueue(protocol.Encode(protocol.TagAwareness, payload))
}

// --- socket loops ---

func (s *Session) enqueue(frame []byte) {
	select {
	case s.outbound <- frame:
	default:
		log.Printf("[Session] Outbound queue full, dropping frame (%d bytes)", len(frame))
	}
}

func (s *Session) readPump() {
	defer s.wg.Done()
	defer s.cancel()

	dispatcher := &protocol.Dispatcher{
		OnSyncStep2: func(payload []byte) error {
			return s.doc.ApplyRemote(payload, document.OriginRemote)
		},
		OnUpdate: func(payload []byte) error {
			return s.doc.ApplyRemote(payload, document.OriginRemote)
		},
		OnAwareness: func(payload []byte) error {
			return s.pres.ApplyAwareness(payload, time.Now())
		},
	}

	readDeadline := 2*s.cfg.WebSocket.PingInterval + s.cfg.WebSocket.WriteTimeout
	s.conn.SetReadDeadline(time.Now().Add(readDeadline))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(readDeadline))
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if s.ctx.Err() == nil {
				log.Printf("[Session] Read failed: %v", err)
			}
			return
		}
		s.conn.SetReadDeadline(time.Now().Add(readDeadline))
		dispatcher.Dispatch(data)
	}
}

func (s *Session) writePump() {
	defer s.wg.Done()
	defer close(s.writerDone)
	ping := time.NewTicker(s.cfg.WebSocket.PingInterval)
	defer ping.Stop()

	for {
		select {
		case <-s.ctx.Done():
			s.writeLeave()
			return
		case frame := <-s.outbound:
			s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WebSocket.WriteTimeout))
			if err := s.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
				log.Printf("[Session] Write failed: %v", err)
				s.cancel()
				return
			}
		case <-ping.C:
			deadline := time.Now().Add(s.cfg.WebSocket.WriteTimeout)
			if err := s.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				log.Printf("[Session] Ping failed: %v", err)
				s.cancel()
				return
			}
		}
	}
}

// writeLeave announces departure and starts the close handshake. Only ever
// called from the writer goroutine; best effort on a dying socket.
func (s *Session) writeLeave() {
	payload, err := s.pres.EncodeLeave()
	if err != nil {
		return
	}
	deadline := time.Now().Add(s.cfg.WebSocket.WriteTimeout)
	s.conn.SetWriteDeadline(deadline)
	_ = s.conn.WriteMessage(websocket.BinaryMessage, protocol.Encode(protocol.TagAwareness, payload))
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
}

// sweepLoop prunes peers not heard from within the selection staleness
// bound, independent of document traffic.
func (s *Session) sweepLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.Presence.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case now := <-ticker.C:
			if removed := s.pres.Sweep(now, s.cfg.Presence.SelectionStale); removed > 0 {
				log.Printf("[Session] Swept %d idle peers", removed)
			}
		}
	}
}
