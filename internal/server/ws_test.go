package server

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sjawhar/livescribe/internal/session"
	"github.com/sjawhar/livescribe/internal/storage"
)

func TestDecodeCommand(t *testing.T) {
	audio := []byte{0x1A, 0x45, 0xDF, 0xA3}
	b64 := base64.StdEncoding.EncodeToString(audio)

	tests := []struct {
		name    string
		raw     string
		want    session.Command
		wantErr bool
	}{
		{
			name: "audio chunk base64",
			raw:  `{"type":"audio-chunk","session_id":"s1","sequence":2,"chunk_data":"` + b64 + `"}`,
			want: session.Command{Type: "audio-chunk", SessionID: "s1", Sequence: 2, Audio: audio, AudioSource: session.SourceMicrophone},
		},
		{
			name: "audio chunk byte array",
			raw:  `{"type":"audio-chunk","session_id":"s1","sequence":0,"chunk_data":[26,69,223,163]}`,
			want: session.Command{Type: "audio-chunk", SessionID: "s1", Audio: audio, AudioSource: session.SourceMicrophone},
		},
		{
			name: "start with tab source",
			raw:  `{"type":"start-recording","session_id":"s1","audio_source":"tab-share"}`,
			want: session.Command{Type: "start-recording", SessionID: "s1", AudioSource: session.SourceTab},
		},
		{
			name: "stop with client transcript",
			raw:  `{"type":"stop-recording","session_id":"s1","transcript":"hi","duration":12.5}`,
			want: session.Command{Type: "stop-recording", SessionID: "s1", Transcript: "hi", Duration: 12.5, AudioSource: session.SourceMicrophone},
		},
		{name: "not json", raw: `nope`, wantErr: true},
		{name: "missing type", raw: `{"session_id":"s1"}`, wantErr: true},
		{name: "chunk without sequence", raw: `{"type":"audio-chunk","session_id":"s1","chunk_data":[1]}`, wantErr: true},
		{name: "transcript without sequence", raw: `{"type":"transcript-chunk","session_id":"s1","transcript":"x"}`, wantErr: true},
		{name: "bad base64", raw: `{"type":"audio-chunk","session_id":"s1","sequence":0,"chunk_data":"!!"}`, wantErr: true},
		{name: "byte out of range", raw: `{"type":"audio-chunk","session_id":"s1","sequence":0,"chunk_data":[256]}`, wantErr: true},
		{name: "wrong chunk type", raw: `{"type":"audio-chunk","session_id":"s1","sequence":0,"chunk_data":{"a":1}}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := decodeCommand([]byte(tt.raw))
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %+v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("decodeCommand failed: %v", err)
			}
			if got.Type != tt.want.Type || got.SessionID != tt.want.SessionID || got.Sequence != tt.want.Sequence ||
				got.Transcript != tt.want.Transcript || got.Duration != tt.want.Duration ||
				got.AudioSource != tt.want.AudioSource || !bytes.Equal(got.Audio, tt.want.Audio) {
				t.Fatalf("expected %+v, got %+v", tt.want, got)
			}
		})
	}
}

type testEnv struct {
	store  *storage.SQLiteStore
	hub    *Hub
	coord  *session.Coordinator
	server *httptest.Server
}

func newTestEnv(t *testing.T, origins ...string) *testEnv {
	t.Helper()

	store, err := storage.NewSQLiteStore(t.TempDir() + "/test.db")
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}

	hub := NewHub()
	coord := session.NewCoordinator(store, nil, nil, hub, session.Options{})

	h, err := Handler(Options{
		Hub:            hub,
		Store:          store,
		Dispatcher:     session.NewDispatcher(coord),
		AllowedOrigins: origins,
		Status: StatusHooks{
			ActiveSessions: coord.ActiveSessions,
			Warnings:       func() []string { return []string{"deepgram API key not configured"} },
		},
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("livescribe_active_sessions 0\n"))
		}),
	})
	if err != nil {
		t.Fatalf("Handler failed: %v", err)
	}

	srv := httptest.NewServer(h)
	t.Cleanup(func() {
		srv.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = coord.Wait(ctx)
		_ = store.Close()
	})

	return &testEnv{store: store, hub: hub, coord: coord, server: srv}
}

func (e *testEnv) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(e.server.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	if msg := readEvent(t, conn); msg["type"] != "connection" || msg["connection_id"] == "" {
		t.Fatalf("expected connection event, got %#v", msg)
	}
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	var payload map[string]any
	if err := json.Unmarshal(data, &payload); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	return payload
}

func sendJSON(t *testing.T, conn *websocket.Conn, msg map[string]any) {
	t.Helper()
	if err := conn.WriteJSON(msg); err != nil {
		t.Fatalf("write failed: %v", err)
	}
}

func createSession(t *testing.T, env *testEnv) string {
	t.Helper()
	if err := env.store.CreateSession(storage.Session{ID: "s1", Title: "Standup"}); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	return "s1"
}

func TestWebSocketRecordingLifecycle(t *testing.T) {
	env := newTestEnv(t)
	id := createSession(t, env)
	recorder := env.dial(t)

	sendJSON(t, recorder, map[string]any{"type": "start-recording", "session_id": id, "audio_source": "tab"})
	if msg := readEvent(t, recorder); msg["type"] != "status-update" || msg["status"] != "recording" {
		t.Fatalf("expected recording status, got %#v", msg)
	}

	viewer := env.dial(t)
	sendJSON(t, viewer, map[string]any{"type": "join-session", "session_id": id})
	if msg := readEvent(t, viewer); msg["type"] != "status-update" || msg["status"] != "recording" {
		t.Fatalf("expected viewer status reply, got %#v", msg)
	}

	sendJSON(t, recorder, map[string]any{"type": "transcript-chunk", "session_id": id, "sequence": 1, "transcript": "welcome everyone"})
	sendJSON(t, recorder, map[string]any{"type": "transcript-chunk", "session_id": id, "sequence": 0, "transcript": "good morning"})

	for _, conn := range []*websocket.Conn{recorder, viewer} {
		first := readEvent(t, conn)
		second := readEvent(t, conn)
		if first["type"] != "transcript-update" || first["sequence"] != float64(1) || second["sequence"] != float64(0) {
			t.Fatalf("unexpected transcript updates %#v %#v", first, second)
		}
	}

	sendJSON(t, recorder, map[string]any{"type": "stop-recording", "session_id": id, "duration": 42})

	for _, conn := range []*websocket.Conn{recorder, viewer} {
		if msg := readEvent(t, conn); msg["status"] != "processing" {
			t.Fatalf("expected processing status, got %#v", msg)
		}
		msg := readEvent(t, conn)
		if msg["type"] != "session-complete" {
			t.Fatalf("expected session-complete, got %#v", msg)
		}
		if msg["transcript"] != "good morning welcome everyone" {
			t.Fatalf("unexpected transcript %q", msg["transcript"])
		}
		if msg["summary"] != session.FallbackSummary("good morning welcome everyone") {
			t.Fatalf("unexpected summary %q", msg["summary"])
		}
	}

	sess, err := env.store.GetSession(id)
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if sess.Status != storage.StatusCompleted || sess.Duration != 42 || sess.AudioSource != "tab" {
		t.Fatalf("unexpected stored session %+v", sess)
	}
}

func expectSilence(t *testing.T, conn *websocket.Conn, wait time.Duration) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(wait))
	if _, data, err := conn.ReadMessage(); err == nil {
		t.Fatalf("unexpected message %s", data)
	}
}

func TestWebSocketLateJoinerGetsNoCompletion(t *testing.T) {
	env := newTestEnv(t)
	id := createSession(t, env)
	recorder := env.dial(t)

	sendJSON(t, recorder, map[string]any{"type": "start-recording", "session_id": id, "audio_source": "microphone"})
	readEvent(t, recorder)
	sendJSON(t, recorder, map[string]any{"type": "transcript-chunk", "session_id": id, "sequence": 0, "transcript": "action items for friday"})
	readEvent(t, recorder)
	sendJSON(t, recorder, map[string]any{"type": "stop-recording", "session_id": id, "duration": 5})
	readEvent(t, recorder)
	if msg := readEvent(t, recorder); msg["type"] != "session-complete" {
		t.Fatalf("expected session-complete, got %#v", msg)
	}

	late := env.dial(t)
	sendJSON(t, late, map[string]any{"type": "join-session", "session_id": id})
	if msg := readEvent(t, late); msg["type"] != "status-update" || msg["status"] != "completed" {
		t.Fatalf("expected completed status reply, got %#v", msg)
	}
	expectSilence(t, late, 300*time.Millisecond)
}

func TestWebSocketErrorsGoOnlyToSender(t *testing.T) {
	env := newTestEnv(t)
	id := createSession(t, env)

	sender := env.dial(t)
	viewer := env.dial(t)
	sendJSON(t, viewer, map[string]any{"type": "join-session", "session_id": id})
	readEvent(t, viewer)

	if err := sender.WriteMessage(websocket.TextMessage, []byte("garbage")); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if msg := readEvent(t, sender); msg["type"] != "error" || msg["message"] != session.MsgInvalidMessage {
		t.Fatalf("expected invalid message error, got %#v", msg)
	}

	sendJSON(t, sender, map[string]any{"type": "start-recording", "session_id": "missing"})
	if msg := readEvent(t, sender); msg["type"] != "error" || msg["message"] != "Failed to start recording" {
		t.Fatalf("expected start failure, got %#v", msg)
	}

	_ = viewer.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	if _, data, err := viewer.ReadMessage(); err == nil {
		t.Fatalf("viewer should not receive errors, got %s", string(data))
	}
}

func TestWebSocketDisconnectKeepsRecording(t *testing.T) {
	env := newTestEnv(t)
	id := createSession(t, env)

	conn := env.dial(t)
	sendJSON(t, conn, map[string]any{"type": "start-recording", "session_id": id})
	readEvent(t, conn)
	_ = conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for env.hub.Members(id) != 0 {
		if time.Now().After(deadline) {
			t.Fatal("expected disconnected client to leave the room")
		}
		time.Sleep(10 * time.Millisecond)
	}

	status, err := env.coord.Status(id)
	if err != nil || status != storage.StatusRecording {
		t.Fatalf("expected session still recording, got %q (%v)", status, err)
	}
}

func TestWebSocketOriginCheck(t *testing.T) {
	env := newTestEnv(t, "https://app.example.com")
	url := "ws" + strings.TrimPrefix(env.server.URL, "http") + "/ws"

	_, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": []string{"https://evil.example.com"}})
	if err == nil {
		t.Fatal("expected disallowed origin to be rejected")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %#v", resp)
	}

	conn, _, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": []string{"https://app.example.com"}})
	if err != nil {
		t.Fatalf("expected allowed origin to connect: %v", err)
	}
	_ = conn.Close()
}

func TestClientSendAfterDisconnectIsSafe(t *testing.T) {
	hub := NewHub()
	c := &client{id: "c1", hub: hub, send: hub.Subscribe()}
	hub.Unsubscribe(c.send)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); c.SendError("Failed to stop recording") }()
	go func() { defer wg.Done(); c.SendStatus("s1", "completed") }()
	wg.Wait()
}
