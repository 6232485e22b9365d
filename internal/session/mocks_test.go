package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sjawhar/livescribe/internal/storage"
)

type chunkRecord struct {
	audio      []byte
	transcript *string
}

type storeMock struct {
	mu       sync.Mutex
	sessions map[string]storage.Session
	chunks   map[string]map[int]*chunkRecord
	statuses []string

	// failStatus makes UpdateSession fail when it sets this status.
	failStatus string
	saveErr    error
}

func newStoreMock(ids ...string) *storeMock {
	s := &storeMock{
		sessions: map[string]storage.Session{},
		chunks:   map[string]map[int]*chunkRecord{},
	}
	for _, id := range ids {
		s.sessions[id] = storage.Session{ID: id, Status: storage.StatusIdle, AudioSource: "microphone", StartedAt: time.Now().UTC()}
	}
	return s
}

func (s *storeMock) GetSession(id string) (storage.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return storage.Session{}, fmt.Errorf("query session %s: %w", id, storage.ErrNotFound)
	}
	return sess, nil
}

func (s *storeMock) UpdateSession(id string, u storage.SessionUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return storage.ErrNotFound
	}
	if u.Status != nil && s.failStatus != "" && *u.Status == s.failStatus {
		return errors.New("disk full")
	}
	if u.Status != nil {
		sess.Status = *u.Status
		s.statuses = append(s.statuses, *u.Status)
	}
	if u.AudioSource != nil {
		sess.AudioSource = *u.AudioSource
	}
	if u.Transcript != nil {
		sess.Transcript = u.Transcript
	}
	if u.Summary != nil {
		sess.Summary = u.Summary
	}
	if u.Duration != nil {
		sess.Duration = *u.Duration
	}
	if u.CompletedAt != nil {
		sess.CompletedAt = u.CompletedAt
	}
	s.sessions[id] = sess
	return nil
}

func (s *storeMock) SaveChunk(sessionID string, sequence int, audio []byte, transcript *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	if _, ok := s.sessions[sessionID]; !ok {
		return errors.New("FOREIGN KEY constraint failed")
	}
	if s.chunks[sessionID] == nil {
		s.chunks[sessionID] = map[int]*chunkRecord{}
	}
	rec, ok := s.chunks[sessionID][sequence]
	if !ok {
		s.chunks[sessionID][sequence] = &chunkRecord{audio: audio, transcript: transcript}
		return nil
	}
	if transcript != nil {
		rec.transcript = transcript
	}
	return nil
}

func (s *storeMock) UpdateChunkTranscript(sessionID string, sequence int, transcript string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.chunks[sessionID][sequence]; ok {
		rec.transcript = &transcript
	}
	return nil
}

func (s *storeMock) GetOrderedTranscripts(sessionID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seqs := make([]int, 0, len(s.chunks[sessionID]))
	for seq := range s.chunks[sessionID] {
		seqs = append(seqs, seq)
	}
	sort.Ints(seqs)
	out := make([]string, 0, len(seqs))
	for _, seq := range seqs {
		if t := s.chunks[sessionID][seq].transcript; t != nil {
			out = append(out, *t)
		} else {
			out = append(out, "")
		}
	}
	return out, nil
}

func (s *storeMock) session(id string) storage.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions[id]
}

func (s *storeMock) chunkCount(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.chunks[id])
}

type hubEvent struct {
	kind       string
	sessionID  string
	status     string
	sequence   int
	transcript string
	summary    string
}

type hubMock struct {
	mu     sync.Mutex
	events []hubEvent
}

func (h *hubMock) BroadcastStatus(sessionID, status string) {
	h.record(hubEvent{kind: EventStatusUpdate, sessionID: sessionID, status: status})
}

func (h *hubMock) BroadcastTranscript(sessionID string, sequence int, transcript string) {
	h.record(hubEvent{kind: EventTranscriptUpdate, sessionID: sessionID, sequence: sequence, transcript: transcript})
}

func (h *hubMock) BroadcastComplete(sessionID, transcript, summary string) {
	h.record(hubEvent{kind: EventSessionComplete, sessionID: sessionID, transcript: transcript, summary: summary})
}

func (h *hubMock) record(e hubEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, e)
}

func (h *hubMock) ofKind(kind string) []hubEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []hubEvent
	for _, e := range h.events {
		if e.kind == kind {
			out = append(out, e)
		}
	}
	return out
}

// transcriberMock returns texts keyed by the byte at offset 4 of the chunk.
type transcriberMock struct {
	texts map[byte]string
	gate  chan struct{}

	mu           sync.Mutex
	continuation map[byte]bool
}

func (t *transcriberMock) Transcribe(_ context.Context, data []byte, continuation bool) string {
	if t.gate != nil {
		<-t.gate
	}
	key := data[4]
	t.mu.Lock()
	if t.continuation == nil {
		t.continuation = map[byte]bool{}
	}
	t.continuation[key] = continuation
	t.mu.Unlock()
	return t.texts[key]
}

type summarizerMock struct {
	calls atomic.Int32
	fn    func(transcript string) (string, error)
	delay time.Duration
}

func (s *summarizerMock) Summarize(_ context.Context, transcript string) (string, error) {
	s.calls.Add(1)
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	if s.fn == nil {
		return "## Summary\n- " + transcript, nil
	}
	return s.fn(transcript)
}

type archiverMock struct {
	called chan string
}

func (a archiverMock) Archive(_ context.Context, sessionID string) error {
	a.called <- sessionID
	return nil
}

type connMock struct {
	mu       sync.Mutex
	joined   []string
	statuses []string
	errors   []string
}

func (c *connMock) Join(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.joined = append(c.joined, sessionID)
}

func (c *connMock) SendStatus(_ string, status string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.statuses = append(c.statuses, status)
}

func (c *connMock) SendError(message string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errors = append(c.errors, message)
}

func (c *connMock) errorList() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.errors...)
}

func markedChunk(marker byte) []byte {
	data := webmChunk(1200)
	data[4] = marker
	return data
}
