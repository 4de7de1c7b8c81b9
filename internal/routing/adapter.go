package routing

import (
	"context"
	"errors"
	"log"
	"sync"
	"sync/atomic"

	"boardsync/internal/geometry"
)

// ErrWorkerStopped rejects outstanding requests when the pool is torn down.
var ErrWorkerStopped = errors.New("routing: worker pool stopped")

// ErrWorkerCrashed rejects outstanding requests after a worker panic.
var ErrWorkerCrashed = errors.New("routing: worker crashed")

// Request is one connector routing job.
type Request struct {
	Start     geometry.Point
	End       geometry.Point
	Obstacles []geometry.Obstacle
	Options   geometry.Options
}

type job struct {
	id      uint64
	request Request
}

type result struct {
	path geometry.Path
	err  error
}

// Adapter offloads routing to a pool of worker goroutines, correlating
// replies by request id. The router itself is pure and stateless, which is
// what makes computing independent connectors concurrently safe. Callers
// transparently fall back to synchronous routing whenever the pool is not
// available.
type Adapter struct {
	requests chan job
	workers  int

	mu      sync.Mutex
	pending map[uint64]chan result
	running bool

	nextID uint64
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewAdapter creates a stopped adapter; call Start to spin up the workers.
func NewAdapter(workers, queueSize int) *Adapter {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Adapter{
		requests: make(chan job, queueSize),
		workers:  workers,
		pending:  make(map[uint64]chan result),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start launches the worker goroutines.
func (a *Adapter) Start() {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return
	}
	a.running = true
	a.mu.Unlock()

	for i := 0; i < a.workers; i++ {
		a.wg.Add(1)
		go a.runWorker(i)
	}
	log.Printf("[Routing] Started %d routing workers", a.workers)
}

// RequestRoute computes a route off the caller's goroutine. When the pool is
// not running the route is computed synchronously instead; the caller cannot
// tell the difference beyond latency.
func (a *Adapter) RequestRoute(ctx context.Context, request Request) (geometry.Path, error) {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return routeSync(request), nil
	}
	id := atomic.AddUint64(&a.nextID, 1)
	reply := make(chan result, 1)
	a.pending[id] = reply
	a.mu.Unlock()

	select {
	case a.requests <- job{id: id, request: request}:
	case <-ctx.Done():
		a.drop(id)
		return geometry.Path{}, ctx.Err()
	case <-a.ctx.Done():
		a.drop(id)
		return routeSync(request), nil
	}

	select {
	case res := <-reply:
		return res.path, res.err
	case <-ctx.Done():
		a.drop(id)
		return geometry.Path{}, ctx.Err()
	case <-a.ctx.Done():
		a.drop(id)
		return geometry.Path{}, ErrWorkerStopped
	}
}

// Close tears the pool down and rejects every outstanding request.
func (a *Adapter) Close() {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return
	}
	a.running = false
	a.mu.Unlock()

	a.cancel()
	a.failAll(ErrWorkerStopped)
	a.wg.Wait()
}

func (a *Adapter) runWorker(index int) {
	defer a.wg.Done()
	defer func() {
		if recovered := recover(); recovered != nil {
			log.Printf("[Routing] Worker %d crashed: %v", index, recovered)
			a.mu.Lock()
			a.running = false
			a.mu.Unlock()
			a.cancel()
			a.failAll(ErrWorkerCrashed)
		}
	}()

	for {
		select {
		case <-a.ctx.Done():
			return
		case work := <-a.requests:
			path := routeSync(work.request)
			a.deliver(work.id, result{path: path})
		}
	}
}

func (a *Adapter) deliver(id uint64, res result) {
	a.mu.Lock()
	reply, ok := a.pending[id]
	if ok {
		delete(a.pending, id)
	}
	a.mu.Unlock()
	if ok {
		reply <- res
	}
}

func (a *Adapter) drop(id uint64) {
	a.mu.Lock()
	delete(a.pending, id)
	a.mu.Unlock()
}

// failAll rejects every outstanding request with one synthetic error.
func (a *Adapter) failAll(err error) {
	a.mu.Lock()
	pending := a.pending
	a.pending = make(map[uint64]chan result)
	a.mu.Unlock()
	for _, reply := range pending {
		reply <- result{err: err}
	}
}

func routeSync(request Request) geometry.Path {
	return geometry.Route(request.Start, request.End, request.Obstacles, request.Options)
}
