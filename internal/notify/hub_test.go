package notify_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nojoin/healthwatch/internal/notify"
)

// --- helpers ----------------------------------------------------------------

// startHub starts a test HTTP server with the hub as its handler.
// Returns the ws:// URL and the hub; the server and Run loop are cleaned up
// with the test.
func startHub(t *testing.T) (wsURL string, hub *notify.Hub) {
	t.Helper()

	hub = notify.New()
	ctx, cancel := context.WithCancel(context.Background())

	srv := httptest.NewServer(http.HandlerFunc(hub.ServeHTTP))
	go hub.Run(ctx)

	t.Cleanup(func() {
		cancel()
		srv.Close()
	})

	wsURL = "ws" + strings.TrimPrefix(srv.URL, "http")
	return wsURL, hub
}

// dial connects a WebSocket client to wsURL and returns the connection.
func dial(t *testing.T, wsURL string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", wsURL, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readMessage reads one text message from conn with a short deadline.
func readMessage(t *testing.T, conn *websocket.Conn) notify.Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	var msg notify.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("unmarshal %q: %v", data, err)
	}
	return msg
}

// waitClients blocks until the hub has registered n clients.
func waitClients(t *testing.T, hub *notify.Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.Count() < n {
		if time.Now().After(deadline) {
			t.Fatalf("hub never reached %d clients", n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// --- handle bookkeeping -----------------------------------------------------

func TestOpen_AssignsDistinctNonZeroHandles(t *testing.T) {
	hub := notify.New()

	h1, err := hub.Open("error", "backend down", true)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	h2, err := hub.Open("warning", "no audio", true)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if h1 == 0 || h2 == 0 {
		t.Errorf("handles = %d, %d, want non-zero", h1, h2)
	}
	if h1 == h2 {
		t.Errorf("duplicate handle %d", h1)
	}
	if got := len(hub.Notices()); got != 2 {
		t.Errorf("open notices = %d, want 2", got)
	}
}

func TestClose_RemovesNotice(t *testing.T) {
	hub := notify.New()

	h, _ := hub.Open("error", "backend down", true)
	if err := hub.Close(h); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if got := len(hub.Notices()); got != 0 {
		t.Errorf("open notices = %d, want 0", got)
	}

	// Closing again, or closing the zero handle, is a no-op.
	if err := hub.Close(h); err != nil {
		t.Errorf("double Close: %v", err)
	}
	if err := hub.Close(0); err != nil {
		t.Errorf("Close(0): %v", err)
	}
}

func TestNotices_OldestFirst(t *testing.T) {
	hub := notify.New()

	hub.Open("error", "first", true)
	hub.Open("warning", "second", true)
	hub.Open("error", "third", true)

	notices := hub.Notices()
	if len(notices) != 3 {
		t.Fatalf("notices = %d, want 3", len(notices))
	}
	for i := 1; i < len(notices); i++ {
		if notices[i-1].ID >= notices[i].ID {
			t.Errorf("notices not in open order: %v", notices)
		}
	}
}

func TestServeList_ReturnsOpenNotices(t *testing.T) {
	hub := notify.New()
	hub.Open("error", "backend down", true)

	rec := httptest.NewRecorder()
	hub.ServeList(rec, httptest.NewRequest(http.MethodGet, "/alerts", nil))

	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	var notices []notify.Notice
	if err := json.Unmarshal(rec.Body.Bytes(), &notices); err != nil {
		t.Fatalf("unmarshal body: %v", err)
	}
	if len(notices) != 1 || notices[0].Message != "backend down" {
		t.Errorf("body notices = %+v", notices)
	}
}

// --- WebSocket behaviour ------------------------------------------------------

func TestWS_BroadcastsOpenAndClose(t *testing.T) {
	wsURL, hub := startHub(t)
	conn := dial(t, wsURL)
	waitClients(t, hub, 1)

	h, _ := hub.Open("error", "backend down", true)

	msg := readMessage(t, conn)
	if msg.Event != "alert_open" {
		t.Fatalf("event = %q, want alert_open", msg.Event)
	}
	if msg.Data.Message != "backend down" || !msg.Data.Persistent {
		t.Errorf("data = %+v", msg.Data)
	}

	hub.Close(h)
	msg = readMessage(t, conn)
	if msg.Event != "alert_close" {
		t.Fatalf("event = %q, want alert_close", msg.Event)
	}
	if msg.Data.ID != uint64(h) {
		t.Errorf("closed id = %d, want %d", msg.Data.ID, h)
	}
}

func TestWS_ReplaysOpenNoticesOnConnect(t *testing.T) {
	wsURL, hub := startHub(t)

	hub.Open("error", "backend down", true)
	hub.Open("warning", "no audio", true)

	// A client connecting late still learns about both open alerts.
	conn := dial(t, wsURL)
	first := readMessage(t, conn)
	second := readMessage(t, conn)

	if first.Event != "alert_open" || second.Event != "alert_open" {
		t.Fatalf("events = %q, %q, want alert_open replays", first.Event, second.Event)
	}
	if first.Data.ID >= second.Data.ID {
		t.Errorf("replay out of order: %d then %d", first.Data.ID, second.Data.ID)
	}
}

func TestWS_ReplayAndLiveEventsDeliveredOnce(t *testing.T) {
	wsURL, hub := startHub(t)

	h1, _ := hub.Open("error", "backend down", true)

	// Connect, then open a second alert: the client must see the first
	// exactly once via replay and the second exactly once via broadcast.
	conn := dial(t, wsURL)
	waitClients(t, hub, 1)
	h2, _ := hub.Open("warning", "no audio", true)

	first := readMessage(t, conn)
	second := readMessage(t, conn)
	if first.Data.ID != uint64(h1) || second.Data.ID != uint64(h2) {
		t.Fatalf("got ids %d, %d, want replay %d then live %d",
			first.Data.ID, second.Data.ID, h1, h2)
	}

	// Nothing else is queued — neither alert was delivered twice.
	conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatal("unexpected extra message after replay and live event")
	}
}
