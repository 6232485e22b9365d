package session

import "sync"

// DefaultBufferSize is the number of recent chunks kept per session.
const DefaultBufferSize = 4

// RecoveryBuffer keeps the most recent chunks of a session, evicting the
// oldest once full.
type RecoveryBuffer struct {
	mu     sync.Mutex
	chunks []Chunk
	size   int
}

func NewRecoveryBuffer(size int) *RecoveryBuffer {
	if size <= 0 {
		size = DefaultBufferSize
	}
	return &RecoveryBuffer{size: size, chunks: make([]Chunk, 0, size)}
}

// Push appends c, dropping the oldest chunk when the buffer is full.
func (b *RecoveryBuffer) Push(c Chunk) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.chunks) == b.size {
		copy(b.chunks, b.chunks[1:])
		b.chunks = b.chunks[:b.size-1]
	}
	b.chunks = append(b.chunks, c)
}

// Snapshot returns the buffered chunks, oldest first.
func (b *RecoveryBuffer) Snapshot() []Chunk {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]Chunk, len(b.chunks))
	copy(out, b.chunks)
	return out
}

func (b *RecoveryBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.chunks)
}
