// Package workerpool multiplexes many RunSessions across a project: it
// bounds concurrency, tracks each slot as a store.Worker, and drains a
// priority queue as slots free up. Its concurrency model is grounded on
// the teacher's internal/dag/parallel.go ParallelExecutor (errgroup with
// SetLimit), generalized from "N specs in one DAG run" to "N concurrent
// RunSessions across specs." Unlike ParallelExecutor's errgroup.Go, which
// blocks the caller once the limit is reached, StartWorker must report
// ErrAtCapacity immediately rather than block an API request — so the
// bound is enforced with a mutex-guarded slot map instead, and each
// admitted slot still runs as its own goroutine.
package workerpool

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/specwright/specwright/internal/chunkrunner"
	"github.com/specwright/specwright/internal/eventbus"
	"github.com/specwright/specwright/internal/runsession"
	"github.com/specwright/specwright/internal/store"
)

// ErrAtCapacity is returned by StartWorker when MaxWorkers is already busy.
var ErrAtCapacity = errors.New("workerpool: at capacity")

// ErrAlreadyRunning is returned by StartWorker when a Worker already exists
// for the spec (idle/running/paused).
var ErrAlreadyRunning = errors.New("workerpool: a worker already exists for this spec")

// ErrWorkerNotFound is returned by Pause/Resume/Stop for an unknown worker.
var ErrWorkerNotFound = errors.New("workerpool: worker not found")

// Executor/Reviewer are the chunkrunner dependency interfaces a Pool needs
// to build a Session per admitted Worker.
type Executor = chunkrunner.Executor
type Reviewer = chunkrunner.Reviewer

type slot struct {
	worker *store.Worker
	sess   *runsession.Session
	paused *pauseFlag
	cancel context.CancelFunc
}

// pauseFlag is a cooperative, advisory pause checked at chunk boundaries.
type pauseFlag struct {
	mu     sync.Mutex
	paused bool
}

func (p *pauseFlag) set(v bool) {
	p.mu.Lock()
	p.paused = v
	p.mu.Unlock()
}

func (p *pauseFlag) get() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paused
}

// Pool bounds concurrent RunSessions with a mutex-guarded map of slots
// capped at maxWorkers, tracking
// each active session as a store.Worker row and draining store.QueueItem
// admissions as capacity frees up.
type Pool struct {
	store    *store.Store
	registry *runsession.Registry
	executor Executor
	reviewer Reviewer
	log      zerolog.Logger
	emit     func(eventbus.Event)

	maxWorkers int

	mu    sync.Mutex
	slots map[string]*slot // specID -> slot

	wg sync.WaitGroup
}

// New builds a Pool. emit may be nil, in which case worker_* events are
// discarded rather than published to an EventBus.
func New(s *store.Store, registry *runsession.Registry, executor Executor, reviewer Reviewer, log zerolog.Logger, emit func(eventbus.Event), maxWorkers int) *Pool {
	if maxWorkers < 1 {
		maxWorkers = 5
	}
	if emit == nil {
		emit = func(eventbus.Event) {}
	}
	return &Pool{
		store:      s,
		registry:   registry,
		executor:   executor,
		reviewer:   reviewer,
		log:        log,
		emit:       emit,
		maxWorkers: maxWorkers,
		slots:      make(map[string]*slot),
	}
}

func (p *Pool) emitEvent(eventType string, payload any) {
	p.emit(eventbus.Event{Topic: "workers", Type: eventType, Payload: payload})
}

func (p *Pool) activeCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.slots)
}

// StartWorker admits specID into a new Worker slot, attaching a headless
// runsession.Session. It returns ErrAtCapacity if MaxWorkers are already
// busy, or ErrAlreadyRunning if a Worker already exists for this spec.
func (p *Pool) StartWorker(ctx context.Context, specID, projectID string) (*store.Worker, error) {
	p.mu.Lock()
	if _, ok := p.slots[specID]; ok {
		p.mu.Unlock()
		return nil, ErrAlreadyRunning
	}
	if len(p.slots) >= p.maxWorkers {
		p.mu.Unlock()
		return nil, ErrAtCapacity
	}

	worker, err := p.store.CreateWorker(ctx, &store.Worker{SpecID: specID, ProjectID: projectID, Status: store.WorkerStatusIdle})
	if err != nil {
		p.mu.Unlock()
		return nil, fmt.Errorf("workerpool: creating worker: %w", err)
	}

	runner := chunkrunner.New(p.store, p.executor, p.reviewer, p.log, p.emit)
	sess := runsession.New(p.registry, p.store, runner, p.log, specID, projectID)
	if err := p.registry.Start(specID, sess); err != nil {
		p.mu.Unlock()
		return nil, fmt.Errorf("workerpool: admitting session: %w", err)
	}

	paused := &pauseFlag{}
	sess.SetPauseCheck(paused.get)
	sl := &slot{worker: worker, sess: sess, paused: paused}
	p.slots[specID] = sl
	p.mu.Unlock()

	if err := p.store.UpdateWorkerStatus(ctx, worker.ID, store.WorkerStatusRunning); err != nil {
		p.log.Warn().Err(err).Msg("workerpool: failed to mark worker running")
	}
	p.emitEvent("worker_started", worker.ID)

	p.wg.Add(1)
	go p.run(sl)

	return worker, nil
}

func (p *Pool) run(sl *slot) {
	defer p.wg.Done()
	defer p.release(sl.worker.SpecID)

	err := sl.sess.Run(context.Background())
	if err != nil {
		_ = p.store.UpdateWorkerError(context.Background(), sl.worker.ID, err.Error())
		_ = p.store.UpdateWorkerStatus(context.Background(), sl.worker.ID, store.WorkerStatusFailed)
		p.emitEvent("worker_failed", map[string]string{"workerID": sl.worker.ID, "error": err.Error()})
		return
	}

	_ = p.store.UpdateWorkerStatus(context.Background(), sl.worker.ID, store.WorkerStatusCompleted)
	p.emitEvent("worker_completed", sl.worker.ID)
}

// release frees the slot for specID and promotes the next queued item, if
// any and if project-scoped capacity allows it.
func (p *Pool) release(specID string) {
	p.mu.Lock()
	sl, ok := p.slots[specID]
	if ok {
		delete(p.slots, specID)
	}
	p.mu.Unlock()
	if !ok {
		return
	}

	p.emitEvent("queue_updated", nil)

	ctx := context.Background()
	next, err := p.store.NextQueued(ctx, sl.worker.ProjectID)
	if errors.Is(err, store.ErrNotFound) {
		return
	}
	if err != nil {
		p.log.Warn().Err(err).Msg("workerpool: failed to load next queued item")
		return
	}

	if _, err := p.StartWorker(ctx, next.SpecID, next.ProjectID); err != nil {
		p.log.Warn().Err(err).Str("spec_id", next.SpecID).Msg("workerpool: failed to promote queued spec")
		return
	}
	if err := p.store.Dequeue(ctx, next.ID); err != nil {
		p.log.Warn().Err(err).Msg("workerpool: failed to dequeue promoted item")
	}
}

// AddToQueue admits specID immediately if capacity allows, else enqueues it
// as a store.QueueItem ordered by priority (desc) then arrival (asc).
func (p *Pool) AddToQueue(ctx context.Context, specID, projectID string, priority int) error {
	if p.activeCount() < p.maxWorkers {
		_, err := p.StartWorker(ctx, specID, projectID)
		if err == nil || errors.Is(err, ErrAlreadyRunning) {
			return nil
		}
		if !errors.Is(err, ErrAtCapacity) {
			return err
		}
	}

	if _, err := p.store.Enqueue(ctx, &store.QueueItem{SpecID: specID, ProjectID: projectID, Priority: priority}); err != nil {
		return fmt.Errorf("workerpool: enqueuing: %w", err)
	}
	p.emitEvent("queue_updated", nil)
	return nil
}

// Pause sets the cooperative pause flag for a running worker. Advisory
// only: the Session checks it at the next chunk boundary, not mid-chunk.
func (p *Pool) Pause(ctx context.Context, specID string) error {
	sl, ok := p.lookup(specID)
	if !ok {
		return ErrWorkerNotFound
	}
	sl.paused.set(true)
	if err := p.store.UpdateWorkerStatus(ctx, sl.worker.ID, store.WorkerStatusPaused); err != nil {
		return err
	}
	p.emitEvent("worker_paused", sl.worker.ID)
	return nil
}

// Resume clears the pause flag for a worker.
func (p *Pool) Resume(ctx context.Context, specID string) error {
	sl, ok := p.lookup(specID)
	if !ok {
		return ErrWorkerNotFound
	}
	sl.paused.set(false)
	if err := p.store.UpdateWorkerStatus(ctx, sl.worker.ID, store.WorkerStatusRunning); err != nil {
		return err
	}
	p.emitEvent("worker_resumed", sl.worker.ID)
	return nil
}

// Stop aborts the underlying Session. A chunk that is mid-execution is
// aborted at the executor only when its next tool call arrives; otherwise
// it runs until it completes or its execute timeout fails it. There is no
// separate grace period.
func (p *Pool) Stop(ctx context.Context, specID string) error {
	sl, ok := p.lookup(specID)
	if !ok {
		return ErrWorkerNotFound
	}
	sl.sess.Abort()
	p.emitEvent("worker_stopped", sl.worker.ID)
	return nil
}

// IsPaused reports whether specID's worker has an advisory pause set.
func (p *Pool) IsPaused(specID string) bool {
	sl, ok := p.lookup(specID)
	if !ok {
		return false
	}
	return sl.paused.get()
}

func (p *Pool) lookup(specID string) (*slot, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	sl, ok := p.slots[specID]
	return sl, ok
}

// Wait blocks until every currently running Worker has finished. Useful in
// tests and for graceful shutdown; it does not stop new admissions.
func (p *Pool) Wait() {
	p.wg.Wait()
}
