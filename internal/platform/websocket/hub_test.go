package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// ---------------------------------------------------------------------------
// Hub tests
// ---------------------------------------------------------------------------

func TestHub_RegisterUnregister(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	client := NewClient("session-1", 4)

	hub.Register(client)
	if hub.ClientCount() != 1 {
		t.Fatalf("expected 1 client, got %d", hub.ClientCount())
	}
	if hub.TopicCount("session-1") != 1 {
		t.Fatalf("expected 1 client on session-1, got %d", hub.TopicCount("session-1"))
	}

	hub.Unregister(client)
	hub.Unregister(client)
	if hub.ClientCount() != 0 || hub.TopicCount("session-1") != 0 {
		t.Fatalf("expected hub to be empty, got %d clients", hub.ClientCount())
	}
	if _, ok := <-client.Send; ok {
		t.Error("expected Send to be closed")
	}
}

func TestHub_PublishToTopicOnly(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	follower := NewClient("session-1", 4)
	other := NewClient("session-2", 4)
	hub.Register(follower)
	hub.Register(other)

	err := hub.Publish(context.Background(), Event{
		Type:  EventState,
		Topic: "session-1",
		Data:  json.RawMessage(`{"progress":50}`),
	})
	if err != nil {
		t.Fatalf("Publish() error: %v", err)
	}

	select {
	case msg := <-follower.Send:
		var got Event
		if err := json.Unmarshal(msg, &got); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if got.Type != EventState || string(got.Data) != `{"progress":50}` {
			t.Errorf("unexpected event: %+v", got)
		}
	default:
		t.Fatal("expected follower to receive the event")
	}

	select {
	case <-other.Send:
		t.Fatal("client of another topic must not receive the event")
	default:
	}
}

func TestHub_PublishFullBufferDoesNotBlock(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	client := NewClient("session-1", 1)
	hub.Register(client)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 5; i++ {
			hub.Publish(context.Background(), Event{Type: EventState, Topic: "session-1"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full client buffer")
	}
	if len(client.Send) != 1 {
		t.Errorf("expected 1 buffered event, got %d", len(client.Send))
	}
}

func TestHub_CloseTopic(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	a := NewClient("session-1", 1)
	b := NewClient("session-1", 1)
	keep := NewClient("session-2", 1)
	hub.Register(a)
	hub.Register(b)
	hub.Register(keep)

	hub.CloseTopic("session-1")

	if hub.TopicCount("session-1") != 0 {
		t.Errorf("expected topic to be empty, got %d", hub.TopicCount("session-1"))
	}
	if hub.ClientCount() != 1 {
		t.Errorf("expected 1 remaining client, got %d", hub.ClientCount())
	}
	for _, c := range []*Client{a, b} {
		if _, ok := <-c.Send; ok {
			t.Error("expected Send to be closed")
		}
	}
	// A later Unregister from the read pump is a no-op.
	hub.Unregister(a)
}

// ---------------------------------------------------------------------------
// Streamer tests
// ---------------------------------------------------------------------------

func newStreamServer(t *testing.T, hub *Hub, origins []string) *httptest.Server {
	t.Helper()
	return newStreamServerWith(t, hub, origins, nil)
}

func newStreamServerWith(t *testing.T, hub *Hub, origins []string, open func() bool) *httptest.Server {
	t.Helper()
	streamer := NewStreamer(hub, origins, zerolog.Nop())
	e := echo.New()
	e.GET("/stream/:id", func(c echo.Context) error {
		id := c.Param("id")
		return streamer.Serve(c, id, &Event{Type: EventState, Topic: id}, open)
	})
	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + path
}

func readEvent(t *testing.T, conn *gorillawebsocket.Conn) Event {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var ev Event
	if err := json.Unmarshal(msg, &ev); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return ev
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestStreamer_DeliversInitialAndPublishedEvents(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	srv := newStreamServer(t, hub, nil)

	conn, _, err := gorillawebsocket.DefaultDialer.Dial(wsURL(srv, "/stream/session-1"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if ev := readEvent(t, conn); ev.Type != EventState || ev.Topic != "session-1" {
		t.Fatalf("unexpected initial event: %+v", ev)
	}

	waitFor(t, func() bool { return hub.TopicCount("session-1") == 1 })
	hub.Publish(context.Background(), Event{Type: EventClosed, Topic: "session-1"})
	if ev := readEvent(t, conn); ev.Type != EventClosed {
		t.Fatalf("expected closed event, got %+v", ev)
	}

	hub.CloseTopic("session-1")
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadMessage()
	if !gorillawebsocket.IsCloseError(err, gorillawebsocket.CloseNormalClosure) {
		t.Fatalf("expected normal close, got %v", err)
	}
}

func TestStreamer_ClientDisconnectUnregisters(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	srv := newStreamServer(t, hub, nil)

	conn, _, err := gorillawebsocket.DefaultDialer.Dial(wsURL(srv, "/stream/session-1"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	readEvent(t, conn)
	waitFor(t, func() bool { return hub.ClientCount() == 1 })

	conn.Close()
	waitFor(t, func() bool { return hub.ClientCount() == 0 })
}

func TestStreamer_RejectsUnknownOrigin(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	srv := newStreamServer(t, hub, []string{"http://localhost:3000"})

	header := http.Header{}
	header.Set("Origin", "http://evil.test")
	_, resp, err := gorillawebsocket.DefaultDialer.Dial(wsURL(srv, "/stream/session-1"), header)
	if err == nil {
		t.Fatal("expected dial to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %+v", resp)
	}

	header.Set("Origin", "http://localhost:3000")
	conn, _, err := gorillawebsocket.DefaultDialer.Dial(wsURL(srv, "/stream/session-1"), header)
	if err != nil {
		t.Fatalf("dial with allowed origin: %v", err)
	}
	conn.Close()
}

func TestOriginChecker(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		origin  string
		want    bool
	}{
		{"no list", nil, "http://a.test", true},
		{"wildcard", []string{"*"}, "http://a.test", true},
		{"listed", []string{"http://a.test"}, "http://a.test", true},
		{"unlisted", []string{"http://a.test"}, "http://b.test", false},
		{"no origin header", []string{"http://a.test"}, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.origin != "" {
				r.Header.Set("Origin", tt.origin)
			}
			if got := originChecker(tt.allowed)(r); got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestStreamer_TopicEndedDuringUpgrade(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	srv := newStreamServerWith(t, hub, nil, func() bool { return false })

	conn, _, err := gorillawebsocket.DefaultDialer.Dial(wsURL(srv, "/stream/gone"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if ev := readEvent(t, conn); ev.Type != EventState {
		t.Fatalf("expected initial state, got %+v", ev)
	}
	if ev := readEvent(t, conn); ev.Type != EventClosed || ev.Topic != "gone" {
		t.Fatalf("expected closed event, got %+v", ev)
	}
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadMessage()
	if !gorillawebsocket.IsCloseError(err, gorillawebsocket.CloseNormalClosure) {
		t.Fatalf("expected normal close, got %v", err)
	}
	waitFor(t, func() bool { return hub.ClientCount() == 0 })
}
