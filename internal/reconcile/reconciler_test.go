package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"boardsync/internal/document"
	"boardsync/internal/model"
)

type updateCall struct {
	id              string
	expectedVersion int
	patch           *model.ElementPatch
}

type versionCall struct {
	id              string
	expectedVersion int
}

// fakeAPI is an in-memory ElementAPI recording every call. Error fields are
// one-shot: consumed by the next matching call. createGate, when set, blocks
// Create until the channel closes.
type fakeAPI struct {
	mu            sync.Mutex
	createGate    chan struct{}
	createStarted chan struct{}
	startOnce     sync.Once

	createCount int
	created     []*model.Element
	updates     []updateCall
	deletes     []versionCall
	restores    []versionCall

	createErr  error
	updateErr  error
	deleteErr  error
	restoreErr error
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{createStarted: make(chan struct{})}
}

func (f *fakeAPI) Create(_ context.Context, element *model.Element) (*CreateResult, error) {
	f.startOnce.Do(func() { close(f.createStarted) })
	if f.createGate != nil {
		<-f.createGate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.createErr; err != nil {
		f.createErr = nil
		return nil, err
	}
	f.createCount++
	f.created = append(f.created, element.Clone())
	now := time.Now().UTC()
	return &CreateResult{
		ID:        fmt.Sprintf("srv-%d", f.createCount),
		Version:   1,
		CreatedAt: &now,
		UpdatedAt: &now,
	}, nil
}

func (f *fakeAPI) Update(_ context.Context, id string, expectedVersion int, patch *model.ElementPatch) (*UpdateResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, updateCall{id: id, expectedVersion: expectedVersion, patch: patch})
	if err := f.updateErr; err != nil {
		f.updateErr = nil
		return nil, err
	}
	now := time.Now().UTC()
	return &UpdateResult{Version: expectedVersion + 1, UpdatedAt: &now}, nil
}

func (f *fakeAPI) Delete(_ context.Context, id string, expectedVersion int) (*DeleteResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes = append(f.deletes, versionCall{id: id, expectedVersion: expectedVersion})
	if err := f.deleteErr; err != nil {
		f.deleteErr = nil
		return nil, err
	}
	now := time.Now().UTC()
	return &DeleteResult{Version: expectedVersion + 1, DeletedAt: &now, UpdatedAt: &now}, nil
}

func (f *fakeAPI) Restore(_ context.Context, id string, expectedVersion int) (*RestoreResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.restores = append(f.restores, versionCall{id: id, expectedVersion: expectedVersion})
	if err := f.restoreErr; err != nil {
		f.restoreErr = nil
		return nil, err
	}
	now := time.Now().UTC()
	return &RestoreResult{Version: expectedVersion + 1, UpdatedAt: &now}, nil
}

type harness struct {
	doc      *document.Store
	api      *fakeAPI
	rec      *Reconciler
	mu       sync.Mutex
	messages []string
}

func newHarness(t *testing.T, undoWindow time.Duration) *harness {
	t.Helper()
	h := &harness{doc: document.New(), api: newFakeAPI()}
	h.rec = NewReconciler(h.doc, h.api, undoWindow, func(op, message string) {
		h.mu.Lock()
		h.messages = append(h.messages, op+": "+message)
		h.mu.Unlock()
	})
	t.Cleanup(h.rec.Close)
	return h
}

func (h *harness) lastMessage() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.messages) == 0 {
		return ""
	}
	return h.messages[len(h.messages)-1]
}

func localShape(id string) *model.Element {
	return &model.Element{
		ID: id, BoardID: "board-1", ElementType: model.TypeShape,
		PositionX: 10, PositionY: 10, Width: 50, Height: 50,
	}
}

// TestCreatePersists verifies the element moves to its server id with the
// assigned version.
func TestCreatePersists(t *testing.T) {
	h := newHarness(t, time.Second)
	require.NoError(t, h.rec.CreateElement(context.Background(), localShape("local-1")))

	_, ok := h.doc.Get("local-1")
	assert.False(t, ok, "provisional id must be gone")
	element, ok := h.doc.Get("srv-1")
	require.True(t, ok)
	require.NotNil(t, element.Version)
	assert.Equal(t, 1, *element.Version)
}

// TestCreateFailureKeepsLocal verifies a failed create leaves the element
// as unpersisted local state and reports the rejection.
func TestCreateFailureKeepsLocal(t *testing.T) {
	h := newHarness(t, time.Second)
	h.api.createErr = errors.New("backend down")

	err := h.rec.CreateElement(context.Background(), localShape("local-1"))
	require.Error(t, err)

	element, ok := h.doc.Get("local-1")
	require.True(t, ok)
	assert.False(t, element.IsPersisted())
	assert.Equal(t, "create: Failed to create element", h.lastMessage())
}

// TestUpdateQueuedBehindCreate verifies a patch issued during an in-flight
// create is replayed once against the server id and version.
func TestUpdateQueuedBehindCreate(t *testing.T) {
	h := newHarness(t, time.Second)
	h.api.createGate = make(chan struct{})

	done := make(chan error, 1)
	go func() { done <- h.rec.CreateElement(context.Background(), localShape("local-1")) }()
	<-h.api.createStarted

	x := 42.0
	require.NoError(t, h.rec.UpdateElement(context.Background(), "local-1", &model.ElementPatch{PositionX: &x}))
	h.api.mu.Lock()
	assert.Empty(t, h.api.updates, "update must wait for the create")
	h.api.mu.Unlock()

	close(h.api.createGate)
	require.NoError(t, <-done)

	h.api.mu.Lock()
	defer h.api.mu.Unlock()
	require.Len(t, h.api.updates, 1)
	assert.Equal(t, "srv-1", h.api.updates[0].id)
	assert.Equal(t, 1, h.api.updates[0].expectedVersion)
	require.NotNil(t, h.api.updates[0].patch.PositionX)
	assert.Equal(t, 42.0, *h.api.updates[0].patch.PositionX)
}

// TestDeleteCoalescesWithCreate verifies create-then-delete resolves to one
// create and one delete against the server id.
func TestDeleteCoalescesWithCreate(t *testing.T) {
	h := newHarness(t, time.Second)
	h.api.createGate = make(chan struct{})

	done := make(chan error, 1)
	go func() { done <- h.rec.CreateElement(context.Background(), localShape("local-1")) }()
	<-h.api.createStarted

	h.rec.DeleteElements(context.Background(), []string{"local-1"})
	h.api.mu.Lock()
	assert.Empty(t, h.api.deletes, "delete must wait for the create")
	h.api.mu.Unlock()

	close(h.api.createGate)
	require.NoError(t, <-done)

	h.api.mu.Lock()
	require.Len(t, h.api.deletes, 1)
	assert.Equal(t, "srv-1", h.api.deletes[0].id)
	assert.Equal(t, 1, h.api.deletes[0].expectedVersion)
	assert.Equal(t, 1, h.api.createCount)
	h.api.mu.Unlock()

	element, ok := h.doc.Get("srv-1")
	require.True(t, ok)
	assert.True(t, element.IsDeleted())
}

// TestUpdateUnpersistedStaysLocal verifies elements the backend has never
// seen are patched locally without any API traffic.
func TestUpdateUnpersistedStaysLocal(t *testing.T) {
	h := newHarness(t, time.Second)
	h.doc.Create(localShape("local-1"))

	x := 99.0
	require.NoError(t, h.rec.UpdateElement(context.Background(), "local-1", &model.ElementPatch{PositionX: &x}))

	h.api.mu.Lock()
	assert.Empty(t, h.api.updates)
	h.api.mu.Unlock()
	element, _ := h.doc.Get("local-1")
	assert.Equal(t, 99.0, element.PositionX)
}

// TestUpdateConflictReported verifies a version conflict surfaces the
// backend's message.
func TestUpdateConflictReported(t *testing.T) {
	h := newHarness(t, time.Second)
	require.NoError(t, h.rec.CreateElement(context.Background(), localShape("local-1")))
	h.api.updateErr = &APIError{Status: 409, Code: CodeConflict, Message: "Element was modified by another user"}

	x := 5.0
	err := h.rec.UpdateElement(context.Background(), "srv-1", &model.ElementPatch{PositionX: &x})
	require.Error(t, err)
	assert.True(t, IsConflict(err))
	assert.Equal(t, "update: Element was modified by another user", h.lastMessage())
}

// TestUpdateNotFoundRecreates verifies a NOT_FOUND update falls back to
// recreating the element from its full local state.
func TestUpdateNotFoundRecreates(t *testing.T) {
	h := newHarness(t, time.Second)
	require.NoError(t, h.rec.CreateElement(context.Background(), localShape("local-1")))
	h.api.updateErr = &APIError{Status: 404, Code: CodeNotFound, Message: "element not found"}

	x := 77.0
	require.NoError(t, h.rec.UpdateElement(context.Background(), "srv-1", &model.ElementPatch{PositionX: &x}))

	h.api.mu.Lock()
	assert.Equal(t, 2, h.api.createCount)
	recreated := h.api.created[1]
	h.api.mu.Unlock()
	assert.Equal(t, 77.0, recreated.PositionX, "recreate must carry the patched state")

	element, ok := h.doc.Get("srv-2")
	require.True(t, ok)
	require.NotNil(t, element.Version)
	assert.Equal(t, 1, *element.Version)
}

// TestDeleteThenUndo verifies the optimistic delete round-trips and undo
// restores with the post-delete version.
func TestDeleteThenUndo(t *testing.T) {
	h := newHarness(t, time.Second)
	require.NoError(t, h.rec.CreateElement(context.Background(), localShape("local-1")))

	h.rec.DeleteElements(context.Background(), []string{"srv-1"})
	element, _ := h.doc.Get("srv-1")
	assert.True(t, element.IsDeleted())
	require.True(t, h.rec.CanUndo())

	require.True(t, h.rec.UndoDelete(context.Background()))
	h.api.mu.Lock()
	require.Len(t, h.api.restores, 1)
	assert.Equal(t, versionCall{id: "srv-1", expectedVersion: 2}, h.api.restores[0])
	h.api.mu.Unlock()

	element, _ = h.doc.Get("srv-1")
	assert.False(t, element.IsDeleted())
	assert.False(t, h.rec.CanUndo(), "undo is single-shot")
}

// TestDeleteFailureRollsBack verifies a rejected delete restores the local
// element and opens no undo window.
func TestDeleteFailureRollsBack(t *testing.T) {
	h := newHarness(t, time.Second)
	require.NoError(t, h.rec.CreateElement(context.Background(), localShape("local-1")))
	h.api.deleteErr = errors.New("backend down")

	h.rec.DeleteElements(context.Background(), []string{"srv-1"})

	element, _ := h.doc.Get("srv-1")
	assert.False(t, element.IsDeleted())
	assert.False(t, h.rec.CanUndo())
	assert.Equal(t, "delete: Failed to delete element", h.lastMessage())
}

// TestDeleteFailureKeepsExpectedVersion verifies a rejected delete leaves
// the version at the server's value, so the next update does not run into a
// permanent conflict.
func TestDeleteFailureKeepsExpectedVersion(t *testing.T) {
	h := newHarness(t, time.Second)
	require.NoError(t, h.rec.CreateElement(context.Background(), localShape("local-1")))
	h.api.deleteErr = errors.New("backend down")

	h.rec.DeleteElements(context.Background(), []string{"srv-1"})
	element, _ := h.doc.Get("srv-1")
	require.NotNil(t, element.Version)
	assert.Equal(t, 1, *element.Version)

	x := 5.0
	require.NoError(t, h.rec.UpdateElement(context.Background(), "srv-1", &model.ElementPatch{PositionX: &x}))
	h.api.mu.Lock()
	defer h.api.mu.Unlock()
	require.Len(t, h.api.updates, 1)
	assert.Equal(t, 1, h.api.updates[0].expectedVersion)
}

// TestUndoWindowExpires verifies the batch stops being undoable after the
// window elapses.
func TestUndoWindowExpires(t *testing.T) {
	h := newHarness(t, 20*time.Millisecond)
	require.NoError(t, h.rec.CreateElement(context.Background(), localShape("local-1")))

	h.rec.DeleteElements(context.Background(), []string{"srv-1"})
	require.True(t, h.rec.CanUndo())

	require.Eventually(t, func() bool { return !h.rec.CanUndo() }, time.Second, 5*time.Millisecond)
	assert.False(t, h.rec.UndoDelete(context.Background()))
}

// TestDeleteSupersedes verifies a newer delete batch forfeits the older
// one's undo.
func TestDeleteSupersedes(t *testing.T) {
	h := newHarness(t, time.Second)
	require.NoError(t, h.rec.CreateElement(context.Background(), localShape("local-1")))
	require.NoError(t, h.rec.CreateElement(context.Background(), localShape("local-2")))

	h.rec.DeleteElements(context.Background(), []string{"srv-1"})
	h.rec.DeleteElements(context.Background(), []string{"srv-2"})

	require.True(t, h.rec.UndoDelete(context.Background()))
	first, _ := h.doc.Get("srv-1")
	second, _ := h.doc.Get("srv-2")
	assert.True(t, first.IsDeleted(), "superseded batch stays deleted")
	assert.False(t, second.IsDeleted())
}

// TestUndoRestoreConflict verifies a rejected restore re-applies the local
// tombstone instead of leaving a ghost element.
func TestUndoRestoreConflict(t *testing.T) {
	h := newHarness(t, time.Second)
	require.NoError(t, h.rec.CreateElement(context.Background(), localShape("local-1")))
	h.rec.DeleteElements(context.Background(), []string{"srv-1"})
	h.api.restoreErr = &APIError{Status: 409, Code: CodeConflict, Message: "Element was changed since deletion"}

	require.True(t, h.rec.UndoDelete(context.Background()))

	element, _ := h.doc.Get("srv-1")
	assert.True(t, element.IsDeleted(), "conflicting restore must re-tombstone")
	assert.Equal(t, "restore: Element was changed since deletion", h.lastMessage())
}

// TestLocalDeleteNoServerCall verifies deleting an unpersisted element never
// reaches the backend, and its undo is purely local.
func TestLocalDeleteNoServerCall(t *testing.T) {
	h := newHarness(t, time.Second)
	h.doc.Create(localShape("local-1"))

	h.rec.DeleteElements(context.Background(), []string{"local-1"})
	element, _ := h.doc.Get("local-1")
	assert.True(t, element.IsDeleted())

	require.True(t, h.rec.UndoDelete(context.Background()))
	element, _ = h.doc.Get("local-1")
	assert.False(t, element.IsDeleted())

	h.api.mu.Lock()
	defer h.api.mu.Unlock()
	assert.Empty(t, h.api.deletes)
	assert.Empty(t, h.api.restores)
}
