package reconcile

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"boardsync/internal/document"
	"boardsync/internal/model"
)

// fallbackMessages are shown when the backend rejection carries no usable
// message of its own.
var fallbackMessages = map[string]string{
	"create":  "Failed to create element",
	"update":  "Failed to save changes",
	"delete":  "Failed to delete element",
	"restore": "Failed to restore element",
}

// pendingCreate tracks an element whose create is still on the wire. Updates
// arriving meanwhile coalesce into queued; a delete folds into pendingDelete
// and is issued against the server id once the create resolves.
type pendingCreate struct {
	queued        *model.ElementPatch
	pendingDelete bool
}

// pendingUpdate serializes updates per element: while one is in flight,
// later patches merge into queued and are sent as a single follow-up.
type pendingUpdate struct {
	queued *model.ElementPatch
}

// undoItem is one deleted element restorable within the undo window.
type undoItem struct {
	id            string
	version       int
	persisted     bool
	createPending bool
}

type undoBatch struct {
	items []undoItem
	timer *time.Timer
}

// Reconciler pushes local document mutations to the backend: optimistic
// local commit first, server write second, server-assigned versions folded
// back into the document. One reconciler serves one session.
type Reconciler struct {
	doc        *document.Store
	api        ElementAPI
	onError    func(op, message string)
	undoWindow time.Duration

	mu      sync.Mutex
	creates map[string]*pendingCreate
	updates map[string]*pendingUpdate
	undo    *undoBatch
	closed  bool
}

// NewReconciler wires a reconciler between a document replica and a backend.
// onError may be nil; rejections are then only logged.
func NewReconciler(doc *document.Store, api ElementAPI, undoWindow time.Duration, onError func(op, message string)) *Reconciler {
	return &Reconciler{
		doc:        doc,
		api:        api,
		onError:    onError,
		undoWindow: undoWindow,
		creates:    make(map[string]*pendingCreate),
		updates:    make(map[string]*pendingUpdate),
	}
}

// Close cancels the undo timer. In-flight API calls finish on their own.
func (r *Reconciler) Close() {
	r.mu.Lock()
	r.closed = true
	if r.undo != nil {
		r.undo.timer.Stop()
		r.undo = nil
	}
	r.mu.Unlock()
}

// CreateElement commits the element locally and persists it. The element
// keeps its provisional id until the backend answers; the server-assigned id
// then replaces it in the document. Edits and deletes issued while the
// create is in flight are replayed against the durable id.
func (r *Reconciler) CreateElement(ctx context.Context, element *model.Element) error {
	r.doc.Create(element)
	localID := element.ID

	r.mu.Lock()
	r.creates[localID] = &pendingCreate{}
	r.mu.Unlock()

	snapshot, ok := r.doc.Get(localID)
	if !ok {
		r.clearCreate(localID)
		return errors.New("element vanished before create")
	}

	res, err := r.api.Create(ctx, snapshot)
	if err != nil {
		// The element stays as unpersisted local state; the user's work
		// is not thrown away over a failed write.
		r.clearCreate(localID)
		r.report("create", err)
		return err
	}

	r.doc.Rename(localID, res.ID)
	r.doc.SetServerMeta(res.ID, res.Version, res.UpdatedAt, nil)

	r.mu.Lock()
	rec := r.creates[localID]
	delete(r.creates, localID)
	r.rebindUndoLocked(localID, res.ID)
	var queued *model.ElementPatch
	deleteAfter := false
	if rec != nil {
		queued = rec.queued
		deleteAfter = rec.pendingDelete
	}
	r.mu.Unlock()

	if deleteAfter {
		return r.deletePersisted(ctx, res.ID, res.Version)
	}
	if queued != nil {
		return r.pushUpdate(ctx, res.ID, queued)
	}
	return nil
}

// UpdateElement commits a sparse patch locally and persists it with the
// element's current version as the optimistic precondition. Patches against
// unpersisted elements stay local; patches against an in-flight create are
// queued and replayed once the create resolves.
func (r *Reconciler) UpdateElement(ctx context.Context, id string, patch *model.ElementPatch) error {
	if patch.IsEmpty() {
		return nil
	}

	r.mu.Lock()
	if rec, ok := r.creates[id]; ok {
		if rec.queued == nil {
			rec.queued = &model.ElementPatch{}
		}
		rec.queued.Merge(patch)
		r.mu.Unlock()
		r.doc.ApplyPatch(id, patch)
		return nil
	}
	r.mu.Unlock()

	element, ok := r.doc.Get(id)
	if !ok || element.IsDeleted() {
		return nil
	}
	if !r.doc.ApplyPatch(id, patch) {
		return nil
	}
	if !element.IsPersisted() {
		return nil
	}

	r.mu.Lock()
	if up, ok := r.updates[id]; ok {
		if up.queued == nil {
			up.queued = &model.ElementPatch{}
		}
		up.queued.Merge(patch)
		r.mu.Unlock()
		return nil
	}
	r.updates[id] = &pendingUpdate{}
	r.mu.Unlock()

	err := r.sendUpdate(ctx, id, *element.Version, patch)
	r.drainUpdates(ctx, id)
	return err
}

// pushUpdate persists a patch for an element whose version must be re-read
// from the document (replay after a create).
func (r *Reconciler) pushUpdate(ctx context.Context, id string, patch *model.ElementPatch) error {
	element, ok := r.doc.Get(id)
	if !ok || element.IsDeleted() || !element.IsPersisted() {
		return nil
	}

	r.mu.Lock()
	if up, ok := r.updates[id]; ok {
		if up.queued == nil {
			up.queued = &model.ElementPatch{}
		}
		up.queued.Merge(patch)
		r.mu.Unlock()
		return nil
	}
	r.updates[id] = &pendingUpdate{}
	r.mu.Unlock()

	err := r.sendUpdate(ctx, id, *element.Version, patch)
	r.drainUpdates(ctx, id)
	return err
}

func (r *Reconciler) sendUpdate(ctx context.Context, id string, expectedVersion int, patch *model.ElementPatch) error {
	res, err := r.api.Update(ctx, id, expectedVersion, patch)
	if err == nil {
		r.doc.SetServerMeta(id, res.Version, res.UpdatedAt, nil)
		return nil
	}
	if IsNotFound(err) {
		// The backend lost the element (or never had it): recreate it
		// from the full local state instead of dropping the edit.
		return r.recreate(ctx, id)
	}
	r.report("update", err)
	return err
}

// recreate pushes the element's full current state as a fresh create.
func (r *Reconciler) recreate(ctx context.Context, id string) error {
	element, ok := r.doc.Get(id)
	if !ok || element.IsDeleted() {
		return nil
	}
	res, err := r.api.Create(ctx, element)
	if err != nil {
		r.report("create", err)
		return err
	}
	r.doc.Rename(id, res.ID)
	r.doc.SetServerMeta(res.ID, res.Version, res.UpdatedAt, nil)
	r.mu.Lock()
	r.rebindUndoLocked(id, res.ID)
	r.mu.Unlock()
	return nil
}

// drainUpdates flushes patches that queued behind the in-flight update,
// coalesced into one follow-up write per round.
func (r *Reconciler) drainUpdates(ctx context.Context, id string) {
	for {
		r.mu.Lock()
		up, ok := r.updates[id]
		if !ok {
			r.mu.Unlock()
			return
		}
		queued := up.queued
		if queued == nil {
			delete(r.updates, id)
			r.mu.Unlock()
			return
		}
		up.queued = nil
		r.mu.Unlock()

		element, ok := r.doc.Get(id)
		if !ok || element.IsDeleted() || !element.IsPersisted() {
			continue
		}
		_ = r.sendUpdate(ctx, id, *element.Version, queued)
	}
}

// DeleteElements tombstones the elements locally, persists the deletes, and
// opens a fresh undo window. A second delete before the window closes
// supersedes the previous batch; only the newest deletion is undoable.
func (r *Reconciler) DeleteElements(ctx context.Context, ids []string) {
	r.mu.Lock()
	if r.undo != nil {
		r.undo.timer.Stop()
		r.undo = nil
	}
	r.mu.Unlock()

	now := time.Now().UTC()
	var items []undoItem

	for _, id := range ids {
		r.mu.Lock()
		if rec, ok := r.creates[id]; ok {
			rec.pendingDelete = true
			r.mu.Unlock()
			r.doc.Delete(id, now)
			items = append(items, undoItem{id: id, createPending: true})
			continue
		}
		r.mu.Unlock()

		element, ok := r.doc.Get(id)
		if !ok || element.IsDeleted() {
			continue
		}
		if !element.IsPersisted() {
			r.doc.Delete(id, now)
			items = append(items, undoItem{id: id})
			continue
		}

		version := *element.Version
		r.doc.Delete(id, now)
		res, err := r.api.Delete(ctx, id, version)
		if err != nil {
			// Roll the optimistic tombstone back; the element is still
			// alive as far as the backend is concerned.
			r.doc.Restore(id)
			r.report("delete", err)
			continue
		}
		r.doc.SetServerMeta(id, res.Version, res.UpdatedAt, res.DeletedAt)
		items = append(items, undoItem{id: id, version: res.Version, persisted: true})
	}

	if len(items) == 0 {
		return
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	batch := &undoBatch{items: items}
	batch.timer = time.AfterFunc(r.undoWindow, func() { r.expireUndo(batch) })
	r.undo = batch
	r.mu.Unlock()
}

// deletePersisted issues the server delete for an element whose create
// resolved with a delete already queued behind it.
func (r *Reconciler) deletePersisted(ctx context.Context, id string, version int) error {
	res, err := r.api.Delete(ctx, id, version)
	if err != nil {
		r.doc.Restore(id)
		r.report("delete", err)
		return err
	}
	r.doc.SetServerMeta(id, res.Version, res.UpdatedAt, res.DeletedAt)
	r.mu.Lock()
	if r.undo != nil {
		for i := range r.undo.items {
			if r.undo.items[i].id == id {
				r.undo.items[i].persisted = true
				r.undo.items[i].createPending = false
				r.undo.items[i].version = res.Version
			}
		}
	}
	r.mu.Unlock()
	return nil
}

// CanUndo reports whether a delete batch is still inside its undo window.
func (r *Reconciler) CanUndo() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.undo != nil
}

// UndoDelete restores the most recent delete batch. Persisted elements are
// restored optimistically and confirmed with the backend; a rejected restore
// (the tombstone was purged, or someone else touched the element) re-applies
// the local tombstone. Returns false when no batch is undoable.
func (r *Reconciler) UndoDelete(ctx context.Context) bool {
	r.mu.Lock()
	batch := r.undo
	r.undo = nil
	r.mu.Unlock()
	if batch == nil {
		return false
	}
	batch.timer.Stop()

	for _, item := range batch.items {
		if item.createPending {
			r.mu.Lock()
			if rec, ok := r.creates[item.id]; ok {
				rec.pendingDelete = false
			}
			r.mu.Unlock()
			r.doc.Restore(item.id)
			continue
		}
		if !item.persisted {
			r.doc.Restore(item.id)
			continue
		}

		r.doc.Restore(item.id)
		res, err := r.api.Restore(ctx, item.id, item.version)
		if err != nil {
			r.doc.Delete(item.id, time.Now().UTC())
			r.report("restore", err)
			continue
		}
		r.doc.SetServerMeta(item.id, res.Version, res.UpdatedAt, nil)
	}
	return true
}

func (r *Reconciler) expireUndo(batch *undoBatch) {
	r.mu.Lock()
	if r.undo == batch {
		r.undo = nil
	}
	r.mu.Unlock()
}

// rebindUndoLocked repoints undo items at a renamed element. Caller holds mu.
func (r *Reconciler) rebindUndoLocked(oldID, newID string) {
	if r.undo == nil || oldID == newID {
		return
	}
	for i := range r.undo.items {
		if r.undo.items[i].id == oldID {
			r.undo.items[i].id = newID
		}
	}
}

func (r *Reconciler) clearCreate(id string) {
	r.mu.Lock()
	delete(r.creates, id)
	r.mu.Unlock()
}

func (r *Reconciler) report(op string, err error) {
	log.Printf("[Reconcile] %s failed: %v", op, err)
	if r.onError == nil {
		return
	}
	message := fallbackMessages[op]
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		message = apiErr.Message
	}
	r.onError(op, message)
}
