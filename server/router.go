package server

import (
	"strings"
	"unicode/utf8"
)

// handlerFunc 处理一种入站消息；c 为消息到达的连接
type handlerFunc func(c *ClientConn, in InboundMessage)

// dispatchTable 每个 Hub 只构建一次：type -> 处理函数
func (h *Hub) dispatchTable() map[string]handlerFunc {
	return map[string]handlerFunc{
		MsgUpdateName:     h.handleUpdateName,
		MsgPlayerUpdate:   h.handlePlayerUpdate,
		MsgShoot:          h.handleShoot,
		MsgDamageEnemy:    h.handleDamageEnemy,
		MsgKillEnemy:      h.handleKillEnemy,
		MsgCollectPickup:  h.handleCollectPickup,
		MsgPlayerDamaged:  h.handlePlayerDamaged,
		MsgChatMessage:    h.handleChatMessage,
		MsgRequestNewWave: h.handleRequestNewWave,
		MsgPing:           h.handlePing,
		// 客户端的保活回应，无需处理
		MsgPong:      func(*ClientConn, InboundMessage) {},
		MsgHeartbeat: func(*ClientConn, InboundMessage) {},
	}
}

// route 解析并分发一条消息；任何错误只丢弃这一条，连接保持打开
func (h *Hub) route(c *ClientConn, payload []byte) {
	h.metrics.IncReceived()
	if cur, ok := h.registry.Get(c.playerID); !ok || cur != c {
		return
	}
	in, err := DecodeInbound(payload)
	if err != nil {
		h.metrics.IncMalformed()
		Log.Warnw("dropping malformed message", "player", c.playerID, "err", err, "raw", truncate(string(payload), 256))
		return
	}
	handler, ok := h.handlers[in.Type]
	if !ok {
		h.metrics.IncUnknown()
		Log.Warnw("unknown message type", "player", c.playerID, "type", in.Type)
		return
	}
	if in.Type != MsgPing && in.Type != MsgPong && in.Type != MsgHeartbeat {
		Log.Debugw("received message", "player", c.playerID, "type", in.Type)
	}

	defer func() {
		if r := recover(); r != nil {
			h.metrics.IncPanics()
			Log.Errorw("message handler panic", "player", c.playerID, "type", in.Type, "panic", r)
		}
	}()
	handler(c, in)
}

func (h *Hub) handleUpdateName(c *ClientConn, in InboundMessage) {
	name := truncate(strings.TrimSpace(in.Name), h.cfg.MaxNameLength)
	if name == "" {
		return
	}
	if !h.session.RenamePlayer(c.playerID, name) {
		return
	}
	Log.Infow("player renamed", "player", c.playerID, "name", name)
	h.BroadcastToOthers(c, PlayerNameUpdatedMessage{
		Type:     MsgPlayerNameUpdated,
		PlayerID: c.playerID,
		Name:     name,
	})
}

func (h *Hub) handlePlayerUpdate(c *ClientConn, in InboundMessage) {
	if !h.session.UpdatePlayer(c.playerID, in.PlayerPatch) {
		return
	}
	h.BroadcastToOthers(c, PlayerUpdateMessage{
		Type:        MsgPlayerUpdate,
		PlayerID:    c.playerID,
		Position:    in.Position,
		Rotation:    in.Rotation,
		Health:      in.Health,
		WeaponIndex: in.WeaponIndex,
		Active:      in.Active,
	})
}

func (h *Hub) handleShoot(c *ClientConn, in InboundMessage) {
	h.BroadcastToOthers(c, PlayerShootMessage{
		Type:        MsgPlayerShoot,
		PlayerID:    c.playerID,
		Position:    in.Position,
		Direction:   in.Direction,
		WeaponIndex: in.WeaponIndex,
	})
}

// 敌人血量不在服务端维护，伤害事件原样转发给所有人
func (h *Hub) handleDamageEnemy(c *ClientConn, in InboundMessage) {
	h.BroadcastToAll(EnemyDamagedMessage{
		Type:     MsgEnemyDamaged,
		EnemyID:  in.EnemyID,
		Damage:   in.Damage,
		PlayerID: c.playerID,
	})
}

func (h *Hub) handleKillEnemy(c *ClientConn, in InboundMessage) {
	if !h.session.MarkEnemyKilled(in.EnemyID) {
		h.metrics.IncDuplicate()
		Log.Debugw("duplicate enemy kill suppressed", "player", c.playerID, "enemy", string(in.EnemyID))
		return
	}
	h.BroadcastToAll(EnemyKilledMessage{
		Type:     MsgEnemyKilled,
		EnemyID:  in.EnemyID,
		PlayerID: c.playerID,
	})
}

func (h *Hub) handleCollectPickup(c *ClientConn, in InboundMessage) {
	if !h.session.MarkPickupCollected(in.PickupID) {
		h.metrics.IncDuplicate()
		Log.Debugw("duplicate pickup suppressed", "player", c.playerID, "pickup", string(in.PickupID))
		return
	}
	h.BroadcastToAll(PickupCollectedMessage{
		Type:     MsgPickupCollected,
		PickupID: in.PickupID,
		PlayerID: c.playerID,
	})
}

// handlePlayerDamaged 只转发给被击中的玩家；目标已离开则丢弃
func (h *Hub) handlePlayerDamaged(c *ClientConn, in InboundMessage) {
	if in.TargetPlayerID == 0 {
		return
	}
	if _, ok := h.session.Player(in.TargetPlayerID); !ok {
		return
	}
	h.Unicast(in.TargetPlayerID, TakeDamageMessage{
		Type:           MsgTakeDamage,
		Amount:         in.Amount,
		SourcePlayerID: c.playerID,
	})
}

// handleChatMessage 广播给包括发送者在内的所有人
func (h *Hub) handleChatMessage(c *ClientConn, in InboundMessage) {
	text := truncate(strings.TrimSpace(in.Message), h.cfg.MaxChatLength)
	if text == "" {
		return
	}
	name := DefaultPlayerName(c.playerID)
	if p, ok := h.session.Player(c.playerID); ok {
		name = p.Name
	}
	h.BroadcastToAll(ChatMessage{
		Type:       MsgChatMessage,
		PlayerID:   c.playerID,
		PlayerName: name,
		Message:    text,
	})
}

// handleRequestNewWave 只有 currentWave 与当前波次一致的第一个请求生效
func (h *Hub) handleRequestNewWave(c *ClientConn, in InboundMessage) {
	wave, ok := h.session.AdvanceWave(in.CurrentWave)
	if !ok {
		h.metrics.IncStaleWave()
		Log.Debugw("stale wave request", "player", c.playerID, "requested", in.CurrentWave, "current", wave)
		return
	}
	h.metrics.IncWave()
	count := h.session.EnemyCount()
	Log.Infow("new wave", "wave", wave, "enemies", count, "requestedBy", c.playerID)
	h.BroadcastToAll(NewWaveMessage{Type: MsgNewWave, Wave: wave, EnemyCount: count})
}

func (h *Hub) handlePing(c *ClientConn, _ InboundMessage) {
	h.send(c, PongMessage{Type: MsgPong, Timestamp: h.now().UnixMilli()})
}

// truncate 按字符数截断（不会切断多字节字符）
func truncate(s string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}
	r := []rune(s)
	return string(r[:limit])
}
