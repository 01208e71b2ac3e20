package server

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var (
	ErrHubClosed   = errors.New("hub closed")
	ErrServerFull  = errors.New("server full")
	ErrAlreadyJoin = errors.New("connection already joined")
)

type joinRequest struct {
	c     *ClientConn
	reply chan error
}

// event 入站消息或离开通知；同一连接的事件共用一个通道以保持顺序
type event struct {
	c       *ClientConn
	payload []byte
	leave   bool
}

// Hub 对局的唯一所有者：加入、离开、消息路由与 heartbeat 全部在 Run 协程中串行执行
type Hub struct {
	cfg      Config
	registry *Registry
	session  *GameSession
	metrics  *RelayMetrics
	handlers map[string]handlerFunc

	joinCh chan joinRequest
	events chan event
	done   chan struct{}
	pumps  sync.WaitGroup // 所有连接的读写协程

	now     func() time.Time
	started time.Time
}

// NewHub 创建 Hub；需调用 Run 启动事件循环
func NewHub(cfg Config) *Hub {
	h := &Hub{
		cfg:      cfg,
		registry: NewRegistry(),
		session:  NewGameSession(),
		metrics:  &RelayMetrics{},
		joinCh:   make(chan joinRequest),
		events:   make(chan event, 256), // 足够缓冲，避免网络读阻塞
		done:     make(chan struct{}),
		now:      time.Now,
	}
	h.started = h.now()
	h.handlers = h.dispatchTable()
	return h
}

func (h *Hub) Session() *GameSession  { return h.session }
func (h *Hub) Registry() *Registry    { return h.registry }
func (h *Hub) Metrics() *RelayMetrics { return h.metrics }
func (h *Hub) Uptime() time.Duration  { return h.now().Sub(h.started) }
func (h *Hub) Done() <-chan struct{}  { return h.done }

// ActiveConnection 玩家当前的连接（唯一权威入口）
func (h *Hub) ActiveConnection(id PlayerID) (*ClientConn, bool) {
	return h.registry.Active(id)
}

// Wait 等待 Run 退出且所有连接的读写协程结束
func (h *Hub) Wait() {
	<-h.done
	h.pumps.Wait()
}

// Run 事件循环，ctx 取消后关闭所有连接并退出
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(h.cfg.HeartbeatInterval)
	defer ticker.Stop()
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return
		case req := <-h.joinCh:
			req.reply <- h.join(req.c)
		case ev := <-h.events:
			if ev.leave {
				h.leave(ev.c)
			} else {
				h.route(ev.c, ev.payload)
			}
		case <-ticker.C:
			h.heartbeat()
		}
	}
}

// Join 请求把连接加入对局；返回后 init 已进入该连接的发送队列
func (h *Hub) Join(ctx context.Context, c *ClientConn) error {
	req := joinRequest{c: c, reply: make(chan error, 1)}
	select {
	case h.joinCh <- req:
	case <-h.done:
		return ErrHubClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-req.reply:
		return err
	case <-h.done:
		return ErrHubClosed
	}
}

// Deliver 把一条入站消息交给事件循环；Hub 已停止或连接已关闭时返回 false
func (h *Hub) Deliver(c *ClientConn, payload []byte) bool {
	select {
	case h.events <- event{c: c, payload: payload}:
		return true
	case <-h.done:
		return false
	case <-c.done:
		return false
	}
}

// Leave 关闭连接并请求移除玩家；可重复调用
func (h *Hub) Leave(c *ClientConn) {
	c.Close(websocket.CloseNormalClosure, "")
	select {
	case h.events <- event{c: c, leave: true}:
	case <-h.done:
	}
}

func (h *Hub) join(c *ClientConn) error {
	if c.playerID != 0 {
		return ErrAlreadyJoin
	}
	if h.cfg.MaxClients > 0 && h.registry.Len() >= h.cfg.MaxClients {
		h.metrics.IncRejected()
		return ErrServerFull
	}
	id := h.registry.Register(c)
	player := NewPlayer(id, c.IP, h.now())
	h.session.AddPlayer(player)

	snap := h.session.Snapshot()
	h.send(c, InitMessage{
		Type:     MsgInit,
		PlayerID: id,
		GameState: GameStatePayload{
			Players: snap.Players,
			Enemies: snap.Enemies,
			Pickups: snap.Pickups,
			Wave:    snap.Wave,
		},
	})
	h.BroadcastToOthers(c, PlayerJoinedMessage{Type: MsgPlayerJoined, Player: *player})
	h.startPumps(c)

	if h.session.PlayerCount() == 1 {
		h.session.SetActive()
		Log.Infow("first player joined, activating game", "player", id)
	}
	h.metrics.IncAccepted()
	Log.Infow("player connected", "player", id, "ip", c.IP, "session", c.SessionID,
		"players", h.session.PlayerCount())
	return nil
}

// startPumps 在 Run 协程内登记读写协程，保证 Wait 之前不会再有新的 Add
func (h *Hub) startPumps(c *ClientConn) {
	if c.ws == nil {
		return
	}
	h.pumps.Add(2)
	go func() {
		defer h.pumps.Done()
		c.writePump(h.cfg)
	}()
	go func() {
		defer h.pumps.Done()
		c.readPump(h, h.cfg)
	}()
}

func (h *Hub) leave(c *ClientConn) {
	id := c.playerID
	if cur, ok := h.registry.Get(id); !ok || cur != c {
		return
	}
	h.session.RemovePlayer(id)
	h.registry.Unregister(id)
	h.BroadcastToAll(PlayerLeftMessage{Type: MsgPlayerLeft, PlayerID: id})

	remaining := h.session.PlayerCount()
	Log.Infow("player disconnected", "player", id, "session", c.SessionID, "remaining", remaining)
	if remaining == 0 {
		h.session.ResetSession()
		Log.Info("all players left, resetting game state")
	}
}

func (h *Hub) heartbeat() {
	h.BroadcastToAll(HeartbeatMessage{Type: MsgHeartbeat})
}

func (h *Hub) shutdown() {
	for _, c := range h.registry.snapshot() {
		c.Close(websocket.CloseGoingAway, "server shutting down")
		h.session.RemovePlayer(c.playerID)
		h.registry.Unregister(c.playerID)
	}
	h.session.ResetSession()
	Log.Info("hub stopped")
}
