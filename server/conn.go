package server

import (
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// ClientConn 一个 WebSocket 客户端：读泵把消息交给 Hub，写泵独占底层写操作
type ClientConn struct {
	ws        *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	closed    atomic.Bool

	closeCode   int
	closeReason string

	playerID  PlayerID // 由 Registry 分配
	SessionID string   // 连接级唯一标识，便于日志关联
	IP        string
	Opened    time.Time
}

// NewClientConn ws 可为 nil（测试中只观察发送队列）
func NewClientConn(ws *websocket.Conn, ip string, queue int) *ClientConn {
	if queue <= 0 {
		queue = DefaultSendQueue
	}
	return &ClientConn{
		ws:        ws,
		send:      make(chan []byte, queue),
		done:      make(chan struct{}),
		closeCode: websocket.CloseNormalClosure,
		SessionID: uuid.NewString(),
		IP:        ip,
		Opened:    time.Now(),
	}
}

func (c *ClientConn) PlayerID() PlayerID { return c.playerID }

// Closed 连接是否已进入关闭流程
func (c *ClientConn) Closed() bool { return c.closed.Load() }

// Enqueue 将消息压入发送队列（非阻塞）；队列满或已关闭时返回 false
func (c *ClientConn) Enqueue(b []byte) bool {
	if c.Closed() {
		return false
	}
	select {
	case <-c.done:
		return false
	case c.send <- b:
		return true
	default:
		// 慢客户端：丢弃本帧，不拖慢其他连接
		return false
	}
}

// Close 幂等关闭；code/reason 会作为关闭帧发给客户端
func (c *ClientConn) Close(code int, reason string) {
	c.closeOnce.Do(func() {
		c.closeCode = code
		c.closeReason = reason
		c.closed.Store(true)
		close(c.done)
	})
}

// writePump 独立协程，负责从 send 队列写出到 WS，并定期发送控制帧 ping
func (c *ClientConn) writePump(cfg Config) {
	ticker := time.NewTicker(cfg.PingPeriod())
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
		if r := recover(); r != nil {
			Log.Errorw("write pump panic", "player", c.playerID, "panic", r)
		}
	}()
	for {
		select {
		case msg := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				Log.Debugw("write failed", "player", c.playerID, "err", err)
				c.Close(websocket.CloseAbnormalClosure, "")
				return
			}
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(cfg.WriteTimeout)); err != nil {
				c.Close(websocket.CloseAbnormalClosure, "")
				return
			}
		case <-c.done:
			c.flush(cfg.WriteTimeout)
			if sendsCloseFrame(c.closeCode) {
				msg := websocket.FormatCloseMessage(c.closeCode, c.closeReason)
				_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(cfg.WriteTimeout))
			}
			return
		}
	}
}

// 1005/1006 只能由本地推断，不能出现在关闭帧中
func sendsCloseFrame(code int) bool {
	return code != websocket.CloseNoStatusReceived && code != websocket.CloseAbnormalClosure
}

// flush 关闭前尽量写出队列中剩余的消息
func (c *ClientConn) flush(timeout time.Duration) {
	for {
		select {
		case msg := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(timeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		default:
			return
		}
	}
}

// readPump 读取客户端消息并按序交给 Hub；退出时通知 Hub 走离开流程
func (c *ClientConn) readPump(h *Hub, cfg Config) {
	defer func() {
		if r := recover(); r != nil {
			Log.Errorw("read pump panic", "player", c.playerID, "panic", r)
		}
		h.Leave(c)
	}()
	c.ws.SetReadLimit(cfg.MaxMessageBytes)
	extend := func() { _ = c.ws.SetReadDeadline(time.Now().Add(cfg.PeerTimeout)) }
	extend()
	c.ws.SetPongHandler(func(string) error { extend(); return nil })

	for {
		_, payload, err := c.ws.ReadMessage()
		if err != nil {
			var ce *websocket.CloseError
			var ne net.Error
			switch {
			case errors.As(err, &ce):
				Log.Infow("client closed", "player", c.playerID, "code", ce.Code, "reason", ce.Text)
				// 客户端发起的关闭帧已由 gorilla 默认 CloseHandler 回应
				c.Close(websocket.CloseNoStatusReceived, "")
			case errors.As(err, &ne) && ne.Timeout():
				Log.Infow("peer timed out", "player", c.playerID, "timeout", cfg.PeerTimeout)
				c.Close(websocket.CloseGoingAway, "peer timeout")
			default:
				Log.Debugw("read failed", "player", c.playerID, "err", err)
				c.Close(websocket.CloseAbnormalClosure, "")
			}
			return
		}
		extend()
		if !h.Deliver(c, payload) {
			return
		}
	}
}
