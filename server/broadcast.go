package server

import "encoding/json"

// BroadcastToAll 序列化一次，发送给所有在线连接；正在关闭的连接直接跳过
func (h *Hub) BroadcastToAll(msg any) int {
	return h.fanout(msg, nil)
}

// BroadcastToOthers 同上，但排除发送者本身（按连接身份比较）
func (h *Hub) BroadcastToOthers(except *ClientConn, msg any) int {
	return h.fanout(msg, except)
}

// Unicast 发送给指定玩家当前的连接；玩家已离开时静默丢弃
func (h *Hub) Unicast(id PlayerID, msg any) bool {
	c, ok := h.ActiveConnection(id)
	if !ok {
		return false
	}
	return h.send(c, msg)
}

// send 直接写入某个连接的发送队列（如 init、pong 回复发送者）
func (h *Hub) send(c *ClientConn, msg any) bool {
	b, ok := encode(msg)
	if !ok {
		return false
	}
	if c.Enqueue(b) {
		h.metrics.AddFrames(1, 0)
		return true
	}
	h.metrics.AddFrames(0, 1)
	return false
}

func (h *Hub) fanout(msg any, except *ClientConn) int {
	b, ok := encode(msg)
	if !ok {
		return 0
	}
	sent, dropped := 0, 0
	h.registry.ForEach(func(_ PlayerID, c *ClientConn) {
		if c == except {
			return
		}
		if c.Enqueue(b) {
			sent++
		} else {
			dropped++
		}
	})
	h.metrics.AddFrames(sent, dropped)
	if dropped > 0 {
		Log.Debugw("broadcast dropped frames", "sent", sent, "dropped", dropped)
	}
	return sent
}

func encode(msg any) ([]byte, bool) {
	b, err := json.Marshal(msg)
	if err != nil {
		Log.Errorw("encode outbound message", "err", err)
		return nil, false
	}
	return b, true
}
