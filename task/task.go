package task

import (
	"context"
	"log"
	"os"
	"sync"
	"time"

	"torrentforge/creator"
)

type Status string

const (
	StatusPending    Status = "Pending"
	StatusProcessing Status = "Processing"
	StatusDone       Status = "Done"
	StatusError      Status = "Error"
)

// Task tracks one metafile creation job. Its fields are mutated only by the
// manager's event routing (onProgress/onSuccess/onFailure) and read from
// arbitrary caller goroutines; a single mutex guards every field. Events
// arriving after a terminal status are logged and dropped.
type Task struct {
	id string

	mu          sync.Mutex
	params      *creator.Params
	status      Status
	progress    int
	content     []byte
	path        string
	errorMsg    string
	timeAdded   time.Time
	timeStarted time.Time
	timeDone    time.Time
	cancel      context.CancelFunc
}

func newTask(id string, params *creator.Params) *Task {
	return &Task{
		id:        id,
		params:    params.Clone(),
		status:    StatusPending,
		timeAdded: time.Now(),
	}
}

func (t *Task) ID() string { return t.id }

func (t *Task) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

func (t *Task) Progress() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.progress
}

func (t *Task) IsRunning() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status == StatusProcessing
}

func (t *Task) IsDoneWithSuccess() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status == StatusDone && (len(t.content) > 0 || t.path != "")
}

// IsDoneWithError reports whether the build finished with a failure. The
// error message is always set on that path, including cancellation.
func (t *Task) IsDoneWithError() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status == StatusError && t.errorMsg != ""
}

func (t *Task) Done() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status == StatusDone || t.status == StatusError
}

func (t *Task) ErrorMessage() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.errorMsg
}

// Params returns a copy of the creation parameters. After a successful build
// PieceSize holds the piece size actually used, not the requested one.
func (t *Task) Params() *creator.Params {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.params.Clone()
}

func (t *Task) TimeAdded() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.timeAdded
}

func (t *Task) TimeDone() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.timeDone
}

// Content returns the produced metafile bytes: inline content if present,
// otherwise a best-effort read of the written file. Nil unless the task is
// done with success; callers wanting error detail should check the status
// first.
func (t *Task) Content() []byte {
	t.mu.Lock()
	if t.status != StatusDone {
		t.mu.Unlock()
		return nil
	}
	if len(t.content) > 0 {
		c := t.content
		t.mu.Unlock()
		return c
	}
	path := t.path
	t.mu.Unlock()

	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	return data
}

func (t *Task) setCancel(cancel context.CancelFunc) {
	t.mu.Lock()
	t.cancel = cancel
	t.mu.Unlock()
}

// requestCancel asks the associated build to stop. Best-effort and
// non-blocking; the build keeps running until its next context check.
func (t *Task) requestCancel() {
	t.mu.Lock()
	cancel := t.cancel
	t.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (t *Task) terminalLocked() bool {
	return t.status == StatusDone || t.status == StatusError
}

func (t *Task) onProgress(progress int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.terminalLocked() {
		log.Printf("Task %s: dropping progress update after completion.", t.id)
		return
	}
	if t.status == StatusPending {
		t.status = StatusProcessing
		t.timeStarted = time.Now()
	}
	t.progress = progress
}

func (t *Task) onSuccess(result *creator.Result) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.terminalLocked() {
		log.Printf("Task %s: dropping success event after completion.", t.id)
		return
	}
	now := time.Now()
	if t.timeStarted.IsZero() {
		t.timeStarted = now
	}
	t.status = StatusDone
	t.timeDone = now
	t.progress = 100
	t.content = result.Content
	t.path = result.Path
	t.params.PieceSize = result.PieceSize
}

func (t *Task) onFailure(msg string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.terminalLocked() {
		log.Printf("Task %s: dropping failure event after completion.", t.id)
		return
	}
	now := time.Now()
	if t.timeStarted.IsZero() {
		t.timeStarted = now
	}
	t.status = StatusError
	t.timeDone = now
	t.errorMsg = msg
}
