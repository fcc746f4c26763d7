package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/mnemic/groqnode/internal/conversation"
	"github.com/mnemic/groqnode/internal/event"
	"github.com/mnemic/groqnode/pkg/llm"
	"go.uber.org/zap"
)

func newTestClient(conversationID string) *Client {
	return &Client{
		remote:         "test",
		conversationID: conversationID,
		send:           make(chan Message, 2),
		logger:         zap.NewNop(),
	}
}

func TestHub_RegisterUnregister(t *testing.T) {
	hub := NewHub(zap.NewNop())
	c := newTestClient("")

	hub.Register(c)
	if hub.ClientCount() != 1 {
		t.Fatalf("ClientCount() = %d, want 1", hub.ClientCount())
	}

	hub.Unregister(c)
	hub.Unregister(c)
	if hub.ClientCount() != 0 {
		t.Errorf("ClientCount() = %d, want 0", hub.ClientCount())
	}
	if _, ok := <-c.send; ok {
		t.Error("send channel should be closed")
	}
}

func TestHub_BroadcastFilters(t *testing.T) {
	hub := NewHub(zap.NewNop())
	all := newTestClient("")
	watchA := newTestClient("a")
	watchB := newTestClient("b")
	for _, c := range []*Client{all, watchA, watchB} {
		hub.Register(c)
	}

	hub.Broadcast(Message{Type: MessageUpdated, ConversationID: "a"})

	if len(all.send) != 1 {
		t.Errorf("unfiltered client got %d messages, want 1", len(all.send))
	}
	if len(watchA.send) != 1 {
		t.Errorf("watcher of a got %d messages, want 1", len(watchA.send))
	}
	if len(watchB.send) != 0 {
		t.Errorf("watcher of b got %d messages, want 0", len(watchB.send))
	}
}

func TestHub_BroadcastDropsWhenBufferFull(t *testing.T) {
	hub := NewHub(zap.NewNop())
	c := newTestClient("")
	hub.Register(c)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 5; i++ {
			hub.Broadcast(Message{Type: MessageUpdated, ConversationID: "x"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Broadcast blocked on a full client buffer")
	}
	if len(c.send) != cap(c.send) {
		t.Errorf("buffered = %d, want %d", len(c.send), cap(c.send))
	}
}

type feed struct {
	bus     *event.Bus
	store   *conversation.Store
	handler *Handler
	url     string
}

func newFeed(t *testing.T) *feed {
	t.Helper()
	bus := event.NewBus(zap.NewNop())
	store := conversation.NewStore(zap.NewNop(), conversation.WithPublisher(bus))
	h := NewHandler(bus, store, nil, zap.NewNop())
	t.Cleanup(h.Close)

	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return &feed{
		bus:     bus,
		store:   store,
		handler: h,
		url:     "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/ws/conversations",
	}
}

func (f *feed) dial(t *testing.T, ctx context.Context, query string) *websocket.Conn {
	t.Helper()
	want := f.handler.ClientCount() + 1
	conn, _, err := websocket.Dial(ctx, f.url+query, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })

	deadline := time.Now().Add(2 * time.Second)
	for f.handler.ClientCount() < want {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}
	return conn
}

func TestHandler_StreamsUpdates(t *testing.T) {
	f := newFeed(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := f.dial(t, ctx, "")

	id := f.store.CreateNewConversation()
	f.store.UpdateHistory(id, []llm.Message{{Role: llm.RoleUser, Content: "hi"}})

	// Creation and update each publish once.
	var last Message
	for i := 0; i < 2; i++ {
		if err := wsjson.Read(ctx, conn, &last); err != nil {
			t.Fatalf("read %d: %v", i, err)
		}
		if last.Type != MessageUpdated || last.ConversationID != id {
			t.Errorf("message %d = %+v", i, last)
		}
	}
	if len(last.Data.Messages) != 1 || last.Data.Messages[0].Content != "hi" {
		t.Errorf("update payload = %+v", last.Data)
	}
}

func TestHandler_WatchSingleConversation(t *testing.T) {
	f := newFeed(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	f.store.UpdateHistory("watched", []llm.Message{{Role: llm.RoleSystem, Content: "sys"}})

	conn := f.dial(t, ctx, "?conversation_id=watched")

	var snap Message
	if err := wsjson.Read(ctx, conn, &snap); err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	if snap.Type != MessageSnapshot || len(snap.Data.Messages) != 1 {
		t.Fatalf("snapshot = %+v", snap)
	}

	f.store.UpdateHistory("other", []llm.Message{{Role: llm.RoleUser, Content: "ignored"}})
	f.store.UpdateHistory("watched", []llm.Message{
		{Role: llm.RoleSystem, Content: "sys"},
		{Role: llm.RoleUser, Content: "next"},
	})

	var update Message
	if err := wsjson.Read(ctx, conn, &update); err != nil {
		t.Fatalf("read update: %v", err)
	}
	if update.ConversationID != "watched" || len(update.Data.Messages) != 2 {
		t.Errorf("update = %+v", update)
	}
}

func TestHandler_CloseStopsForwarding(t *testing.T) {
	f := newFeed(t)
	c := newTestClient("")
	f.handler.hub.Register(c)

	f.handler.Close()
	f.store.UpdateHistory("x", nil)

	if len(c.send) != 0 {
		t.Errorf("received %d messages after Close", len(c.send))
	}
}
