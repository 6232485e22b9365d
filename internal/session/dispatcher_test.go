package session

import (
	"context"
	"errors"
	"testing"

	"github.com/sjawhar/livescribe/internal/storage"
)

func TestDispatchRecordingFlow(t *testing.T) {
	store := newStoreMock("s1")
	hub := &hubMock{}
	c := newTestCoordinator(store, nil, &summarizerMock{}, hub, Options{})
	d := NewDispatcher(c)
	conn := &connMock{}
	ctx := context.Background()

	d.Dispatch(ctx, conn, Command{Type: EventStartRecording, SessionID: "s1", AudioSource: SourceMicrophone})
	d.Dispatch(ctx, conn, Command{Type: EventTranscriptChunk, SessionID: "s1", Sequence: 0, Transcript: "hello there everyone"})
	d.Dispatch(ctx, conn, Command{Type: EventPauseRecording, SessionID: "s1"})
	d.Dispatch(ctx, conn, Command{Type: EventResumeRecording, SessionID: "s1"})
	d.Dispatch(ctx, conn, Command{Type: EventStopRecording, SessionID: "s1", Duration: 4})
	waitIdle(t, c)

	if errs := conn.errorList(); len(errs) != 0 {
		t.Fatalf("expected no errors, got %v", errs)
	}
	if len(conn.joined) == 0 || conn.joined[0] != "s1" {
		t.Fatalf("expected connection to join s1, got %v", conn.joined)
	}
	if store.session("s1").Status != storage.StatusCompleted {
		t.Fatalf("expected completed, got %q", store.session("s1").Status)
	}
	if got := len(hub.ofKind(EventSessionComplete)); got != 1 {
		t.Fatalf("expected one completion broadcast, got %d", got)
	}
}

func TestDispatchReportsGenericFailures(t *testing.T) {
	store := newStoreMock("s1")
	store.failStatus = storage.StatusRecording
	c := newTestCoordinator(store, nil, nil, &hubMock{}, Options{})
	d := NewDispatcher(c)
	conn := &connMock{}
	ctx := context.Background()

	d.Dispatch(ctx, conn, Command{Type: EventStartRecording, SessionID: "s1"})
	d.Dispatch(ctx, conn, Command{Type: EventStopRecording, SessionID: "ghost"})
	waitIdle(t, c)

	errs := conn.errorList()
	want := []string{"Failed to start recording", "Failed to stop recording"}
	if len(errs) != len(want) {
		t.Fatalf("expected errors %v, got %v", want, errs)
	}
	for i := range want {
		if errs[i] != want[i] {
			t.Fatalf("expected errors %v, got %v", want, errs)
		}
	}
}

func TestDispatchInvalidMessages(t *testing.T) {
	c := newTestCoordinator(newStoreMock("s1"), nil, nil, &hubMock{}, Options{})
	d := NewDispatcher(c)
	conn := &connMock{}

	d.Dispatch(context.Background(), conn, Command{Type: EventStartRecording})
	d.Dispatch(context.Background(), conn, Command{Type: "dance", SessionID: "s1"})

	errs := conn.errorList()
	if len(errs) != 2 || errs[0] != MsgInvalidMessage || errs[1] != MsgInvalidMessage {
		t.Fatalf("expected two invalid message errors, got %v", errs)
	}
}

func TestDispatchInvalidChunkIsSilent(t *testing.T) {
	store := newStoreMock("s1")
	c := newTestCoordinator(store, nil, nil, &hubMock{}, Options{})
	d := NewDispatcher(c)
	conn := &connMock{}

	d.Dispatch(context.Background(), conn, Command{Type: EventStartRecording, SessionID: "s1", AudioSource: SourceTab})
	d.Dispatch(context.Background(), conn, Command{Type: EventAudioChunk, SessionID: "s1", Sequence: 0, Audio: []byte("tiny")})

	if errs := conn.errorList(); len(errs) != 0 {
		t.Fatalf("expected dropped chunk to be silent, got %v", errs)
	}
	if store.chunkCount("s1") != 0 {
		t.Fatal("expected dropped chunk not persisted")
	}
}

func TestDispatchJoinSession(t *testing.T) {
	store := newStoreMock("s1")
	c := newTestCoordinator(store, nil, nil, &hubMock{}, Options{})
	d := NewDispatcher(c)
	ctx := context.Background()

	_ = c.Start(ctx, "s1", SourceTab)

	viewer := &connMock{}
	d.Dispatch(ctx, viewer, Command{Type: EventJoinSession, SessionID: "s1"})
	if len(viewer.joined) != 1 || len(viewer.statuses) != 1 || viewer.statuses[0] != storage.StatusRecording {
		t.Fatalf("expected viewer joined with recording status, got joined=%v statuses=%v", viewer.joined, viewer.statuses)
	}

	stranger := &connMock{}
	d.Dispatch(ctx, stranger, Command{Type: EventJoinSession, SessionID: "ghost"})
	if errs := stranger.errorList(); len(errs) != 1 || errs[0] != MsgSessionNotFound {
		t.Fatalf("expected session not found, got %v", errs)
	}
}

func TestCoordinatorStatus(t *testing.T) {
	store := newStoreMock("s1")
	c := newTestCoordinator(store, nil, nil, &hubMock{}, Options{})

	status, err := c.Status("s1")
	if err != nil || status != storage.StatusIdle {
		t.Fatalf("expected idle, got %q (%v)", status, err)
	}
	if _, err := c.Status("ghost"); !errors.Is(err, ErrUnknownSession) {
		t.Fatalf("expected ErrUnknownSession, got %v", err)
	}
}
