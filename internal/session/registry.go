package session

import (
	"sync"

	"github.com/sjawhar/livescribe/internal/storage"
)

type entry struct {
	status string
	source AudioSource
	buffer *RecoveryBuffer
}

func (e *entry) active() bool {
	return e.status == storage.StatusRecording || e.status == storage.StatusPaused
}

// Registry tracks live per-session state. Every method is safe for
// concurrent use, and each transition is applied atomically.
type Registry struct {
	mu         sync.Mutex
	bufferSize int
	entries    map[string]*entry
}

func NewRegistry(bufferSize int) *Registry {
	return &Registry{bufferSize: bufferSize, entries: make(map[string]*entry)}
}

// Activate marks id as recording with a fresh buffer. It returns false if the
// session is already recording, paused, or finalizing.
func (r *Registry) Activate(id string, source AudioSource) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.entries[id]; ok && e.status != storage.StatusError && e.status != storage.StatusIdle {
		return false
	}
	r.entries[id] = &entry{
		status: storage.StatusRecording,
		source: source,
		buffer: NewRecoveryBuffer(r.bufferSize),
	}
	return true
}

// Restore re-registers a session found recording or paused in the store
// after a restart. Existing entries are left alone.
func (r *Registry) Restore(id, status string, source AudioSource) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[id]; ok {
		return
	}
	r.entries[id] = &entry{status: status, source: source, buffer: NewRecoveryBuffer(r.bufferSize)}
}

// Transition moves id from one of the given statuses to to. It returns the
// previous status and whether the move happened.
func (r *Registry) Transition(id, to string, from ...string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok {
		return "", false
	}
	prev := e.status
	for _, f := range from {
		if prev == f {
			e.status = to
			return prev, true
		}
	}
	return prev, false
}

// BeginFinalize claims finalization of id. Only the first caller gets true;
// later calls see processing or completed and get false.
func (r *Registry) BeginFinalize(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok {
		r.entries[id] = &entry{status: storage.StatusProcessing}
		return true
	}
	if e.status == storage.StatusProcessing || e.status == storage.StatusCompleted {
		return false
	}
	e.status = storage.StatusProcessing
	e.buffer = nil
	return true
}

// Push adds c to id's rolling buffer. It reports false when the session is
// not recording or paused.
func (r *Registry) Push(id string, c Chunk) bool {
	r.mu.Lock()
	e, ok := r.entries[id]
	if !ok || !e.active() || e.buffer == nil {
		r.mu.Unlock()
		return false
	}
	buf := e.buffer
	r.mu.Unlock()

	buf.Push(c)
	return true
}

func (r *Registry) Status(id string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok {
		return "", false
	}
	return e.status, true
}

func (r *Registry) Source(id string) (AudioSource, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok || e.source == "" {
		return "", false
	}
	return e.source, true
}

// Recent returns the buffered chunks of id, oldest first.
func (r *Registry) Recent(id string) []Chunk {
	r.mu.Lock()
	e, ok := r.entries[id]
	if !ok || e.buffer == nil {
		r.mu.Unlock()
		return nil
	}
	buf := e.buffer
	r.mu.Unlock()

	return buf.Snapshot()
}

// Release forgets id, dropping its buffer.
func (r *Registry) Release(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, id)
}

// ReleaseActive forgets id only if it is recording or paused, and reports
// whether it did. Finalizing entries are kept so a later stop still sees them.
func (r *Registry) ReleaseActive(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok || !e.active() {
		return false
	}
	delete(r.entries, id)
	return true
}

// ActiveCount reports how many sessions are recording or paused.
func (r *Registry) ActiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, e := range r.entries {
		if e.active() {
			n++
		}
	}
	return n
}
