package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vmihailenco/msgpack/v5"

	"blobarena/persist"
)

type inbound struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func startServer(t *testing.T, store persist.Store) (*Manager, string) {
	t.Helper()
	cfg := DefaultConfig()
	cfg.StaticDir = ""
	cfg.Arena.MaxFood = 0
	cfg.Arena.TickInterval = 5 * time.Millisecond
	m := NewManager(cfg, store)
	m.Start(context.Background())

	mux := http.NewServeMux()
	m.Routes(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(func() {
		srv.Close()
		m.Shutdown()
	})
	return m, "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func readUntil(t *testing.T, ws *websocket.Conn, msgType string) json.RawMessage {
	t.Helper()
	_ = ws.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		_, b, err := ws.ReadMessage()
		if err != nil {
			t.Fatalf("read waiting for %s: %v", msgType, err)
		}
		var env inbound
		if err := json.Unmarshal(b, &env); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if env.Type == msgType {
			return env.Data
		}
	}
}

func TestWebSocketJoinAndState(t *testing.T) {
	_, url := startServer(t, persist.NewMemoryStore())
	ws, _, err := websocket.DefaultDialer.Dial(url+"?player=alice", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ws.Close()

	var welcome WelcomeMessage
	if err := json.Unmarshal(readUntil(t, ws, MsgWelcome), &welcome); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(welcome.ClientID, "guest-") || welcome.Encoding != "json" {
		t.Fatalf("welcome = %+v", welcome)
	}

	join := `{"type":"join","x":300,"y":300,"radius":25}`
	if err := ws.WriteMessage(websocket.TextMessage, []byte(join)); err != nil {
		t.Fatalf("write: %v", err)
	}
	var snap GameStateMessage
	if err := json.Unmarshal(readUntil(t, ws, MsgGameState), &snap); err != nil {
		t.Fatal(err)
	}
	self, ok := snap.Players[welcome.ClientID]
	if !ok || self.Name != "alice" || self.Radius != 25 {
		t.Fatalf("self = %+v (%v)", self, ok)
	}
}

func TestWebSocketSameNameCannotTakeOverPlayer(t *testing.T) {
	m, url := startServer(t, persist.NewMemoryStore())
	owner, _, err := websocket.DefaultDialer.Dial(url+"?player=alice", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer owner.Close()
	var first WelcomeMessage
	if err := json.Unmarshal(readUntil(t, owner, MsgWelcome), &first); err != nil {
		t.Fatal(err)
	}
	if err := owner.WriteMessage(websocket.TextMessage, []byte(`{"type":"join","x":500,"y":500}`)); err != nil {
		t.Fatal(err)
	}
	readUntil(t, owner, MsgGameState)

	other, _, err := websocket.DefaultDialer.Dial(url+"?player=alice", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer other.Close()
	var second WelcomeMessage
	if err := json.Unmarshal(readUntil(t, other, MsgWelcome), &second); err != nil {
		t.Fatal(err)
	}
	if second.ClientID == first.ClientID {
		t.Fatalf("second connection was given the owner's id %q", first.ClientID)
	}
	if err := other.WriteMessage(websocket.TextMessage, []byte(`{"type":"move","vx":10,"vy":0}`)); err != nil {
		t.Fatal(err)
	}

	// 原连接仍然存活，实体未被移动
	var snap GameStateMessage
	for i := 0; i < 5; i++ {
		if err := json.Unmarshal(readUntil(t, owner, MsgGameState), &snap); err != nil {
			t.Fatal(err)
		}
	}
	if self := snap.Players[first.ClientID]; self.X != 500 {
		t.Fatalf("owner moved by another connection: x=%v", self.X)
	}
	if st := m.Room().Status(); st.Clients != 2 || st.Players != 1 {
		t.Fatalf("status = %+v", st)
	}
}

func TestWebSocketDisconnectPersistsPlayer(t *testing.T) {
	store := persist.NewMemoryStore()
	m, url := startServer(t, store)
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	var welcome WelcomeMessage
	if err := json.Unmarshal(readUntil(t, ws, MsgWelcome), &welcome); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(welcome.ClientID, "guest-") {
		t.Fatalf("generated id = %q", welcome.ClientID)
	}
	if err := ws.WriteMessage(websocket.TextMessage, []byte(`{"type":"join","x":800,"y":800}`)); err != nil {
		t.Fatal(err)
	}
	readUntil(t, ws, MsgGameState)
	ws.Close()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if rec, ok := store.Get(welcome.ClientID); ok {
			if rec.X != 800 || rec.Y != 800 {
				t.Fatalf("record = %+v", rec)
			}
			if m.Room().Status().Players != 0 {
				t.Fatalf("player not removed after disconnect")
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("record for %s never written", welcome.ClientID)
}

func TestWebSocketMsgpackEncoding(t *testing.T) {
	_, url := startServer(t, persist.NewMemoryStore())
	ws, _, err := websocket.DefaultDialer.Dial(url+"?player=bin&enc=msgpack", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ws.Close()

	_ = ws.SetReadDeadline(time.Now().Add(3 * time.Second))
	ft, b, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if ft != websocket.BinaryMessage {
		t.Fatalf("frame type = %d, want binary", ft)
	}
	var env struct {
		Type string         `msgpack:"type"`
		Data map[string]any `msgpack:"data"`
	}
	if err := msgpack.Unmarshal(b, &env); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if env.Type != MsgWelcome || env.Data["encoding"] != "msgpack" {
		t.Fatalf("welcome = %+v", env)
	}
}
