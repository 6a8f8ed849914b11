package task

import (
	"context"
	"errors"
	"log"
	"sort"
	"sync"

	"torrentforge/config"
	"torrentforge/creator"

	"github.com/google/uuid"
)

// Builder performs the actual metafile construction on the manager's worker
// pool. Implementations must honor ctx at bounded intervals and report
// monotonically non-decreasing percentages through progress before returning.
type Builder interface {
	Build(ctx context.Context, params *creator.Params, progress func(int)) (*creator.Result, error)
}

// ErrTooManyTasks is returned by Create when the registry is at capacity and
// no finished task can be evicted.
var ErrTooManyTasks = errors.New("too many active tasks")

var errQueueFull = errors.New("task queue is full")

// Manager owns the set of live tasks. The id-to-task map is the one piece of
// state touched by multiple actors (create, delete, build callbacks); a
// single mutex covers the collision-check-plus-insert sequence, lookups and
// removal. Build events are routed by id through a fresh lookup, so an event
// for a deleted task is a safe no-op.
type Manager struct {
	cfg     *config.Config
	builder Builder

	mu    sync.RWMutex
	tasks map[string]*Task

	taskQueue      chan *Task
	concurrencySem chan struct{}
}

func NewManager(cfg *config.Config, builder Builder) (*Manager, error) {
	queueCap := cfg.MaxTasks
	if queueCap <= 0 {
		queueCap = 256
	}
	// Deleted or evicted tasks may still hold queue slots until the worker
	// loop drains them, so the queue carries slack beyond MaxTasks.
	queueCap *= 2
	m := &Manager{
		cfg:            cfg,
		builder:        builder,
		tasks:          make(map[string]*Task),
		taskQueue:      make(chan *Task, queueCap),
		concurrencySem: make(chan struct{}, cfg.MaxConcurrency),
	}
	return m, nil
}

func (m *Manager) Start(ctx context.Context) {
	log.Println("Task manager started. Concurrency limit:", m.cfg.MaxConcurrency)
	go m.workerLoop(ctx)
}

// workerLoop pulls tasks from the queue and processes them.
func (m *Manager) workerLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			log.Println("Worker loop shutting down.")
			return
		case t := <-m.taskQueue:
			// Wait for a free processing slot
			select {
			case <-ctx.Done():
				log.Println("Worker loop shutting down.")
				return
			case m.concurrencySem <- struct{}{}:
			}
			go func(t *Task) {
				defer func() { <-m.concurrencySem }() // Release slot
				m.process(ctx, t)
			}(t)
		}
	}
}

// Create allocates a fresh task id, registers the task and queues its build.
// It returns the id immediately; the build runs concurrently.
func (m *Manager) Create(params *creator.Params) (string, error) {
	m.mu.Lock()
	m.pruneLocked()
	if m.cfg.MaxTasks > 0 && len(m.tasks) >= m.cfg.MaxTasks {
		m.mu.Unlock()
		return "", ErrTooManyTasks
	}

	// Collisions are astronomically unlikely, but the registry must never
	// hand out a live id twice.
	id := uuid.NewString()
	for {
		if _, exists := m.tasks[id]; !exists {
			break
		}
		id = uuid.NewString()
	}

	t := newTask(id, params)
	m.tasks[id] = t
	m.mu.Unlock()

	select {
	case m.taskQueue <- t:
	default:
		m.mu.Lock()
		delete(m.tasks, id)
		m.mu.Unlock()
		return "", errQueueFull
	}
	log.Printf("Task %s submitted to queue.", id)
	return id, nil
}

// pruneLocked evicts finished tasks, oldest first, to make room for a new
// one. Caller holds m.mu.
func (m *Manager) pruneLocked() {
	if m.cfg.MaxTasks <= 0 || len(m.tasks) < m.cfg.MaxTasks {
		return
	}
	var finished []*Task
	for _, t := range m.tasks {
		if t.Done() {
			finished = append(finished, t)
		}
	}
	sort.Slice(finished, func(i, j int) bool {
		return finished[i].TimeDone().Before(finished[j].TimeDone())
	})
	for _, t := range finished {
		if len(m.tasks) < m.cfg.MaxTasks {
			break
		}
		delete(m.tasks, t.id)
		log.Printf("Task %s evicted to make room.", t.id)
	}
}

func (m *Manager) Get(id string) (*Task, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tasks[id]
	return t, ok
}

// IDs returns a snapshot of all registered task ids, in no particular order.
func (m *Manager) IDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.tasks))
	for id := range m.tasks {
		ids = append(ids, id)
	}
	return ids
}

// List returns a snapshot of all registered tasks.
func (m *Manager) List() []*Task {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tasks := make([]*Task, 0, len(m.tasks))
	for _, t := range m.tasks {
		tasks = append(tasks, t)
	}
	return tasks
}

// Delete removes the task from the registry and requests cancellation of its
// build if one is still running. It does not wait for the build to stop; a
// late event from it is dropped by the id routing.
func (m *Manager) Delete(id string) bool {
	m.mu.Lock()
	t, ok := m.tasks[id]
	if !ok {
		m.mu.Unlock()
		return false
	}
	delete(m.tasks, id)
	m.mu.Unlock()

	t.requestCancel()
	log.Printf("Task %s deleted.", id)
	return true
}

// Close tears the registry down: every remaining task is dropped and its
// build, if still running, receives a cancellation request.
func (m *Manager) Close() {
	m.mu.Lock()
	tasks := m.tasks
	m.tasks = make(map[string]*Task)
	m.mu.Unlock()

	for _, t := range tasks {
		t.requestCancel()
	}
	log.Printf("Task manager closed, %d task(s) dropped.", len(tasks))
}

// process runs one build on a pool goroutine and routes its outcome back
// through the registry.
func (m *Manager) process(parent context.Context, t *Task) {
	var ctx context.Context
	var cancel context.CancelFunc
	if m.cfg.BuildTimeout > 0 {
		ctx, cancel = context.WithTimeout(parent, m.cfg.BuildTimeout)
	} else {
		ctx, cancel = context.WithCancel(parent)
	}
	defer cancel()

	// Publish the cancel handle before the existence check: a concurrent
	// Delete either sees the handle or wins the check.
	t.setCancel(cancel)

	id := t.ID()
	if _, ok := m.Get(id); !ok {
		log.Printf("Task %s was deleted before processing.", id)
		return
	}

	log.Printf("Processing task %s", id)
	result, err := m.builder.Build(ctx, t.Params(), func(p int) {
		m.handleProgress(id, p)
	})
	if err != nil {
		m.handleFailure(id, err.Error())
		return
	}
	m.handleSuccess(id, result)
}

// The handle* methods deliver build events. Each one re-resolves the id so
// that events raced against Delete land nowhere instead of on a dead task.

func (m *Manager) handleProgress(id string, progress int) {
	if t, ok := m.Get(id); ok {
		t.onProgress(progress)
	}
}

func (m *Manager) handleSuccess(id string, result *creator.Result) {
	t, ok := m.Get(id)
	if !ok {
		log.Printf("Task %s finished after deletion, dropping result.", id)
		return
	}
	t.onSuccess(result)
	log.Printf("Task %s completed successfully.", id)
}

func (m *Manager) handleFailure(id string, msg string) {
	t, ok := m.Get(id)
	if !ok {
		log.Printf("Task %s failed after deletion, dropping error: %s", id, msg)
		return
	}
	t.onFailure(msg)
	log.Printf("Task %s failed: %s", id, msg)
}
