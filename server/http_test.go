package server

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

type testServer struct {
	hub    *Hub
	srv    *httptest.Server
	cancel context.CancelFunc
}

func startServer(t *testing.T, cfg Config) *testServer {
	t.Helper()
	h := NewHub(cfg)
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)
	srv := httptest.NewServer(NewHandler(h, cfg))
	ts := &testServer{hub: h, srv: srv, cancel: cancel}
	t.Cleanup(func() {
		cancel()
		h.Wait()
		srv.Close()
	})
	return ts
}

func (ts *testServer) dial(t *testing.T, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.srv.URL, "http") + path
	ws, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v (resp=%v)", url, err, resp)
	}
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

// readUntil 读取直到出现指定类型的消息（忽略 heartbeat 等其他消息）
func readUntil(t *testing.T, ws *websocket.Conn, typ string) map[string]any {
	t.Helper()
	_ = ws.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		var m map[string]any
		if err := ws.ReadJSON(&m); err != nil {
			t.Fatalf("waiting for %s: %v", typ, err)
		}
		if m["type"] == typ {
			return m
		}
	}
}

func writeJSON(t *testing.T, ws *websocket.Conn, v any) {
	t.Helper()
	if err := ws.WriteJSON(v); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestWebSocketJoinAndWaveScenario(t *testing.T) {
	ts := startServer(t, DefaultConfig())

	a := ts.dial(t, "/ws")
	initA := readUntil(t, a, MsgInit)
	if initA["playerId"] != float64(1) {
		t.Fatalf("first init playerId = %v", initA["playerId"])
	}

	b := ts.dial(t, "/ws")
	initB := readUntil(t, b, MsgInit)
	players := initB["gameState"].(map[string]any)["players"].(map[string]any)
	if _, ok := players["1"]; !ok {
		t.Errorf("second init should list player 1: %v", players)
	}
	joined := readUntil(t, a, MsgPlayerJoined)
	if joined["player"].(map[string]any)["id"] != float64(2) {
		t.Errorf("unexpected playerJoined: %v", joined)
	}

	writeJSON(t, a, map[string]any{"type": "requestNewWave", "currentWave": 1})
	for _, ws := range []*websocket.Conn{a, b} {
		nw := readUntil(t, ws, MsgNewWave)
		if nw["wave"] != float64(2) || nw["enemyCount"] != float64(8) {
			t.Errorf("unexpected newWave: %v", nw)
		}
	}

	writeJSON(t, b, map[string]any{"type": "ping"})
	if pong := readUntil(t, b, MsgPong); pong["timestamp"] == nil {
		t.Errorf("pong without timestamp: %v", pong)
	}
}

func TestWebSocketDisconnectBroadcastsAndResets(t *testing.T) {
	ts := startServer(t, DefaultConfig())

	a := ts.dial(t, "/ws")
	readUntil(t, a, MsgInit)
	b := ts.dial(t, "/")
	readUntil(t, b, MsgInit)
	readUntil(t, a, MsgPlayerJoined)

	writeJSON(t, a, map[string]any{"type": "requestNewWave", "currentWave": 1})
	readUntil(t, a, MsgNewWave)

	_ = b.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	left := readUntil(t, a, MsgPlayerLeft)
	if left["playerId"] != float64(2) {
		t.Errorf("playerLeft = %v", left)
	}

	_ = a.Close()
	waitFor(t, func() bool { return ts.hub.Registry().Len() == 0 })
	waitFor(t, func() bool { return ts.hub.Session().Wave() == 1 && !ts.hub.Session().IsActive() })
}

func TestWebSocketShutdownSendsGoingAway(t *testing.T) {
	ts := startServer(t, DefaultConfig())
	a := ts.dial(t, "/ws")
	readUntil(t, a, MsgInit)

	ts.cancel()
	_ = a.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		if _, _, err := a.ReadMessage(); err != nil {
			var ce *websocket.CloseError
			if !errors.As(err, &ce) || ce.Code != websocket.CloseGoingAway {
				t.Fatalf("expected 1001 close, got %v", err)
			}
			return
		}
	}
}

func TestWebSocketPeerTimeoutClosesConnection(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HeartbeatInterval = 50 * time.Millisecond
	cfg.PeerTimeout = 200 * time.Millisecond
	ts := startServer(t, cfg)

	a := ts.dial(t, "/ws")
	readUntil(t, a, MsgInit)
	// 不读取：gorilla 客户端只有在读取时才会回应 ping，对端会被判定超时
	waitFor(t, func() bool { return ts.hub.Registry().Len() == 0 })
}

func TestWebSocketRejectsWhenFull(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxClients = 1
	ts := startServer(t, cfg)
	a := ts.dial(t, "/ws")
	readUntil(t, a, MsgInit)

	url := "ws" + strings.TrimPrefix(ts.srv.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("expected dial to fail when server is full")
	}
	if resp == nil || resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %v", resp)
	}
}

func TestStatsEndpoint(t *testing.T) {
	ts := startServer(t, DefaultConfig())
	a := ts.dial(t, "/ws")
	readUntil(t, a, MsgInit)
	writeJSON(t, a, map[string]any{"type": "updateName", "name": "Alice"})
	waitFor(t, func() bool {
		p, ok := ts.hub.Session().Player(1)
		return ok && p.Name == "Alice"
	})

	resp, err := http.Get(ts.srv.URL + "/stats")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("content type = %q", ct)
	}
	if resp.Header.Get("Access-Control-Allow-Origin") != "*" {
		t.Errorf("missing CORS header")
	}
	var stats Stats
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if stats.ActiveConnections != 1 || len(stats.ClientList) != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if stats.ClientList[0].Name != "Alice" || stats.ClientList[0].Session == "" {
		t.Errorf("unexpected client entry: %+v", stats.ClientList[0])
	}
	if !stats.GameActive || stats.Wave != 1 {
		t.Errorf("unexpected session state: active=%v wave=%d", stats.GameActive, stats.Wave)
	}
}

func TestStatusPagesAreGzipped(t *testing.T) {
	// 无玩家时状态页也要压缩
	ts := startServer(t, DefaultConfig())

	for _, path := range []string{"/", "/test.html"} {
		req, _ := http.NewRequest(http.MethodGet, ts.srv.URL+path, nil)
		req.Header.Set("Accept-Encoding", "gzip")
		resp, err := http.DefaultTransport.RoundTrip(req)
		if err != nil {
			t.Fatal(err)
		}
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("%s: status %d", path, resp.StatusCode)
		}
		if resp.Header.Get("Content-Encoding") != "gzip" {
			t.Fatalf("%s: expected gzip encoding, got %q", path, resp.Header.Get("Content-Encoding"))
		}
		zr, err := gzip.NewReader(resp.Body)
		if err != nil {
			t.Fatal(err)
		}
		body, _ := io.ReadAll(zr)
		resp.Body.Close()
		if !strings.Contains(string(body), "<html>") {
			t.Errorf("%s: unexpected body %q", path, body)
		}
	}

	resp, err := http.Get(ts.srv.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if string(body) != "ok" {
		t.Errorf("healthz = %q", body)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestStaticClientIsServed(t *testing.T) {
	dir := t.TempDir()
	index := "<!DOCTYPE html><html><body>" + strings.Repeat("game client ", 40) + "</body></html>"
	if err := os.WriteFile(filepath.Join(dir, "index.html"), []byte(index), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "app.js"), []byte("console.log('fps')"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg := DefaultConfig()
	cfg.StaticDir = dir
	ts := startServer(t, cfg)

	// http.Get 透明解压 gzip
	for path, want := range map[string]string{"/": "game client", "/app.js": "console.log"} {
		resp, err := http.Get(ts.srv.URL + path)
		if err != nil {
			t.Fatal(err)
		}
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), want) {
			t.Errorf("%s: status %d body %q", path, resp.StatusCode, body)
		}
	}

	req, _ := http.NewRequest(http.MethodGet, ts.srv.URL+"/", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	resp, err := http.DefaultTransport.RoundTrip(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.Header.Get("Content-Encoding") != "gzip" {
		t.Errorf("static index should be gzipped, got %q", resp.Header.Get("Content-Encoding"))
	}

	resp, err = http.Get(ts.srv.URL + "/missing.js")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("missing file: status %d", resp.StatusCode)
	}

	// 静态目录下仍可在根路径建立 WebSocket
	a := ts.dial(t, "/")
	readUntil(t, a, MsgInit)
}

func TestStatusPageWithoutStaticIndex(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StaticDir = t.TempDir()
	ts := startServer(t, cfg)

	resp, err := http.Get(ts.srv.URL + "/")
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(body), "<html>") || resp.Header.Get("Content-Type") != "text/html; charset=utf-8" {
		t.Errorf("expected status page, got %q", body)
	}
}
