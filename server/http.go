package server

import (
	"encoding/json"
	"errors"
	"html/template"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/gorilla/websocket"
	"github.com/klauspost/compress/gzhttp"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// 浏览器客户端可能由任意静态站点托管：允许所有来源
		return true
	},
}

// gzipMinSize 小于该长度的响应不压缩；状态页在无玩家时也应被压缩
const gzipMinSize = 256

// NewHandler 注册全部 HTTP 路由：WebSocket 接入、静态客户端、状态页、/stats、测试页
func NewHandler(h *Hub, cfg Config) http.Handler {
	gz, err := gzhttp.NewWrapper(gzhttp.MinSize(gzipMinSize))
	if err != nil {
		panic(err)
	}
	ws := wsHandler(h, cfg)

	mux := http.NewServeMux()
	mux.Handle("/ws", ws)
	mux.Handle("/", rootHandler(ws, gz(statusHandler(h, cfg)), gz, cfg.StaticDir))
	mux.Handle("/stats", gz(statsHandler(h)))
	mux.Handle("/test.html", gz(testPageHandler()))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	return withCORS(mux)
}

// rootHandler 根路径：WebSocket 升级（旧客户端直接连接 ws://host:port/），
// 否则托管静态客户端；目录中没有 index.html 时 / 显示状态页
func rootHandler(ws, status http.Handler, gz func(http.Handler) http.HandlerFunc, staticDir string) http.Handler {
	var files http.Handler
	if staticDir != "" {
		files = gz(http.FileServer(http.Dir(staticDir)))
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case websocket.IsWebSocketUpgrade(r):
			ws.ServeHTTP(w, r)
		case r.URL.Path == "/" && (files == nil || !hasIndex(staticDir)):
			status.ServeHTTP(w, r)
		case files != nil:
			files.ServeHTTP(w, r)
		default:
			http.NotFound(w, r)
		}
	})
}

func hasIndex(dir string) bool {
	fi, err := os.Stat(filepath.Join(dir, "index.html"))
	return err == nil && !fi.IsDir()
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Origin, X-Requested-With, Content-Type, Accept")
		next.ServeHTTP(w, r)
	})
}

// wsHandler WebSocket 接入：升级后加入对局，读写协程由 Hub 启动
func wsHandler(h *Hub, cfg Config) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if cfg.MaxClients > 0 && h.registry.Len() >= cfg.MaxClients {
			h.metrics.IncRejected()
			http.Error(w, "server full", http.StatusServiceUnavailable)
			return
		}
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			Log.Warnw("upgrade error", "remote", r.RemoteAddr, "err", err)
			return
		}

		client := NewClientConn(ws, remoteIP(r), cfg.SendQueue)
		if err := h.Join(r.Context(), client); err != nil {
			code := websocket.CloseGoingAway
			if errors.Is(err, ErrServerFull) {
				code = websocket.CloseTryAgainLater
			}
			Log.Warnw("join rejected", "remote", r.RemoteAddr, "err", err)
			msg := websocket.FormatCloseMessage(code, err.Error())
			_ = ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(cfg.WriteTimeout))
			_ = ws.Close()
		}
	})
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// ClientInfo /stats 中单个连接的描述
type ClientInfo struct {
	ID      PlayerID `json:"id"`
	Name    string   `json:"name"`
	IP      string   `json:"ip"`
	Session string   `json:"session"`
	State   string   `json:"state"`
	Opened  string   `json:"opened"`
}

// Stats /stats 的响应体
type Stats struct {
	ActiveConnections int                 `json:"activeConnections"`
	Players           map[PlayerID]Player `json:"players"`
	ClientList        []ClientInfo        `json:"clientList"`
	ServerTime        string              `json:"serverTime"`
	Uptime            float64             `json:"uptime"`
	ServerIPs         []string            `json:"serverIps"`
	Wave              int                 `json:"wave"`
	GameActive        bool                `json:"gameActive"`
	Metrics           map[string]any      `json:"metrics"`
}

// CollectStats 汇总当前对局与连接信息
func (h *Hub) CollectStats() Stats {
	snap := h.session.Snapshot()
	clients := make([]ClientInfo, 0, h.registry.Len())
	for _, c := range h.registry.snapshot() {
		info := ClientInfo{
			ID:      c.playerID,
			Name:    "Unknown",
			IP:      c.IP,
			Session: c.SessionID,
			State:   "open",
			Opened:  c.Opened.UTC().Format(time.RFC3339),
		}
		if p, ok := snap.Players[c.playerID]; ok {
			info.Name = p.Name
		}
		if c.Closed() {
			info.State = "closing"
		}
		clients = append(clients, info)
	}
	return Stats{
		ActiveConnections: len(clients),
		Players:           snap.Players,
		ClientList:        clients,
		ServerTime:        h.now().UTC().Format(time.RFC3339),
		Uptime:            h.Uptime().Seconds(),
		ServerIPs:         ServerIPs(),
		Wave:              snap.Wave,
		GameActive:        snap.Active,
		Metrics:           h.metrics.Snapshot(),
	}
}

func statsHandler(h *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(h.CollectStats())
	}
}

// ServerIPs 本机所有非回环 IPv4 地址
func ServerIPs() []string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return nil
	}
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		ipnet, ok := a.(*net.IPNet)
		if !ok || ipnet.IP.IsLoopback() {
			continue
		}
		if v4 := ipnet.IP.To4(); v4 != nil {
			out = append(out, v4.String())
		}
	}
	return out
}

var statusPage = template.Must(template.New("status").Parse(`<!DOCTYPE html>
<html>
<head>
<title>FPS Game Server</title>
<meta http-equiv="refresh" content="5">
<style>
body { font-family: Arial, sans-serif; padding: 20px; line-height: 1.6; }
.status { background: #f5f5f5; padding: 15px; border-radius: 5px; margin: 15px 0; }
.player { margin-bottom: 10px; }
</style>
</head>
<body>
<h1>FPS Game Server</h1>
<div class="status">
<h2>Server Status</h2>
<p><strong>Active Connections:</strong> {{.Stats.ActiveConnections}}</p>
<p><strong>Game State:</strong> {{if .Stats.GameActive}}Active{{else}}Inactive{{end}}</p>
<p><strong>Current Wave:</strong> {{.Stats.Wave}}</p>
<p><strong>Server Addresses:</strong></p>
<ul>{{range .Stats.ServerIPs}}<li>ws://{{.}}:{{$.Port}}</li>{{end}}</ul>
</div>
<div class="status">
<h2>Connected Players ({{len .Players}})</h2>
{{range .Players}}<div class="player"><strong>{{.Name}}</strong> (ID: {{.ID}})<br>IP: {{.IP}}<br>Health: {{.Health}}<br>Position: {{printf "%.0f,%.0f,%.0f" .Position.X .Position.Y .Position.Z}}</div>
{{else}}No players connected{{end}}
</div>
<p><a href="/stats">View JSON Stats</a> | <a href="/test.html">WebSocket Test Page</a></p>
</body>
</html>
`))

func statusHandler(h *Hub, cfg Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data := struct {
			Stats   Stats
			Players []Player
			Port    int
		}{Stats: h.CollectStats(), Players: h.session.Players(), Port: cfg.Port}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := statusPage.Execute(w, data); err != nil {
			Log.Warnw("render status page", "err", err)
		}
	}
}

var testPage = template.Must(template.New("test").Parse(`<!DOCTYPE html>
<html>
<head>
<title>WebSocket Test</title>
<style>
body { font-family: Arial, sans-serif; padding: 20px; }
#log { border: 1px solid #ccc; padding: 10px; height: 300px; overflow-y: auto; margin-bottom: 10px; font-family: monospace; }
input, button, select { padding: 6px; margin: 4px; }
.error { color: #a94442; }
</style>
</head>
<body>
<h1>WebSocket Test</h1>
<div id="status">Status: Disconnected</div>
<div id="log"></div>
<div>
<input id="url" size="40">
<button id="connect">Connect</button>
<button id="disconnect">Disconnect</button>
</div>
<div>
<select id="type">{{range .Types}}<option>{{.}}</option>{{end}}</select>
<input id="data" size="60" value="{}">
<button id="send">Send</button>
</div>
<script>
var socket = null;
var logEl = document.getElementById('log');
document.getElementById('url').value = (location.protocol === 'https:' ? 'wss://' : 'ws://') + location.host + '/ws';
function addLog(text, isError) {
  var line = document.createElement('div');
  if (isError) line.className = 'error';
  line.textContent = new Date().toLocaleTimeString() + ' ' + text;
  logEl.appendChild(line);
  logEl.scrollTop = logEl.scrollHeight;
}
function setStatus(s) { document.getElementById('status').textContent = 'Status: ' + s; }
document.getElementById('connect').onclick = function () {
  if (socket) socket.close();
  setStatus('Connecting');
  socket = new WebSocket(document.getElementById('url').value);
  socket.onopen = function () { setStatus('Connected'); addLog('connected'); };
  socket.onmessage = function (e) { addLog('< ' + e.data); };
  socket.onerror = function () { setStatus('Error'); addLog('socket error', true); };
  socket.onclose = function (e) { setStatus('Disconnected'); addLog('closed: ' + e.code + ' ' + e.reason); socket = null; };
};
document.getElementById('disconnect').onclick = function () { if (socket) socket.close(1000, 'test page'); };
document.getElementById('send').onclick = function () {
  if (!socket || socket.readyState !== WebSocket.OPEN) { addLog('not connected', true); return; }
  var data;
  try { data = JSON.parse(document.getElementById('data').value || '{}'); } catch (err) { addLog('invalid JSON: ' + err.message, true); return; }
  data.type = document.getElementById('type').value;
  var text = JSON.stringify(data);
  socket.send(text);
  addLog('> ' + text);
};
</script>
</body>
</html>
`))

func testPageHandler() http.HandlerFunc {
	types := []string{
		MsgUpdateName, MsgPlayerUpdate, MsgShoot, MsgDamageEnemy, MsgKillEnemy,
		MsgCollectPickup, MsgPlayerDamaged, MsgChatMessage, MsgRequestNewWave, MsgPing,
	}
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := testPage.Execute(w, struct{ Types []string }{types}); err != nil {
			Log.Warnw("render test page", "err", err)
		}
	}
}
