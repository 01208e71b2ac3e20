package server

import (
	"encoding/json"
	"errors"
	"fmt"
)

// 入站消息类型
const (
	MsgUpdateName     = "updateName"
	MsgPlayerUpdate   = "playerUpdate"
	MsgShoot          = "shoot"
	MsgDamageEnemy    = "damageEnemy"
	MsgKillEnemy      = "killEnemy"
	MsgCollectPickup  = "collectPickup"
	MsgPlayerDamaged  = "playerDamaged"
	MsgChatMessage    = "chatMessage"
	MsgRequestNewWave = "requestNewWave"
	MsgPing           = "ping"
	MsgPong           = "pong"
	MsgHeartbeat      = "heartbeat"
)

// 出站消息类型（与入站重名的直接复用上面的常量）
const (
	MsgInit              = "init"
	MsgPlayerJoined      = "playerJoined"
	MsgPlayerLeft        = "playerLeft"
	MsgPlayerNameUpdated = "playerNameUpdated"
	MsgPlayerShoot       = "playerShoot"
	MsgEnemyDamaged      = "enemyDamaged"
	MsgEnemyKilled       = "enemyKilled"
	MsgPickupCollected   = "pickupCollected"
	MsgTakeDamage        = "takeDamage"
	MsgNewWave           = "newWave"
)

var (
	ErrMalformed   = errors.New("malformed message")
	ErrMissingType = errors.New("message has no type")
)

// InboundMessage 客户端发来的 JSON 文本消息；各类型只使用其中一部分字段
// 示例：{"type":"requestNewWave","currentWave":1}
type InboundMessage struct {
	Type string `json:"type"`

	PlayerPatch

	Name           string          `json:"name,omitempty"`
	Direction      *Vec3           `json:"direction,omitempty"`
	EnemyID        json.RawMessage `json:"enemyId,omitempty"`
	PickupID       json.RawMessage `json:"pickupId,omitempty"`
	Damage         *float64        `json:"damage,omitempty"`
	TargetPlayerID PlayerID        `json:"targetPlayerId,omitempty"`
	Amount         float64         `json:"amount,omitempty"`
	Message        string          `json:"message,omitempty"`
	CurrentWave    int             `json:"currentWave,omitempty"`
}

// DecodeInbound 解析入站消息；非 JSON 或缺少 type 返回错误
func DecodeInbound(payload []byte) (InboundMessage, error) {
	var in InboundMessage
	if err := json.Unmarshal(payload, &in); err != nil {
		return in, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if in.Type == "" {
		return in, ErrMissingType
	}
	return in, nil
}

// GameStatePayload init 消息中的完整对局快照
type GameStatePayload struct {
	Players map[PlayerID]Player `json:"players"`
	Enemies []json.RawMessage   `json:"enemies"`
	Pickups []json.RawMessage   `json:"pickups"`
	Wave    int                 `json:"wave"`
}

type InitMessage struct {
	Type      string           `json:"type"`
	PlayerID  PlayerID         `json:"playerId"`
	GameState GameStatePayload `json:"gameState"`
}

type PlayerJoinedMessage struct {
	Type   string `json:"type"`
	Player Player `json:"player"`
}

type PlayerLeftMessage struct {
	Type     string   `json:"type"`
	PlayerID PlayerID `json:"playerId"`
}

type PlayerNameUpdatedMessage struct {
	Type     string   `json:"type"`
	PlayerID PlayerID `json:"playerId"`
	Name     string   `json:"name"`
}

// PlayerUpdateMessage 只转发客户端实际上报的字段
type PlayerUpdateMessage struct {
	Type        string    `json:"type"`
	PlayerID    PlayerID  `json:"playerId"`
	Position    *Vec3     `json:"position,omitempty"`
	Rotation    *Rotation `json:"rotation,omitempty"`
	Health      *float64  `json:"health,omitempty"`
	WeaponIndex *int      `json:"weaponIndex,omitempty"`
	Active      *bool     `json:"active,omitempty"`
}

type PlayerShootMessage struct {
	Type        string   `json:"type"`
	PlayerID    PlayerID `json:"playerId"`
	Position    *Vec3    `json:"position,omitempty"`
	Direction   *Vec3    `json:"direction,omitempty"`
	WeaponIndex *int     `json:"weaponIndex,omitempty"`
}

type EnemyDamagedMessage struct {
	Type     string          `json:"type"`
	EnemyID  json.RawMessage `json:"enemyId,omitempty"`
	Damage   *float64        `json:"damage,omitempty"`
	PlayerID PlayerID        `json:"playerId"`
}

type EnemyKilledMessage struct {
	Type     string          `json:"type"`
	EnemyID  json.RawMessage `json:"enemyId,omitempty"`
	PlayerID PlayerID        `json:"playerId"`
}

type PickupCollectedMessage struct {
	Type     string          `json:"type"`
	PickupID json.RawMessage `json:"pickupId,omitempty"`
	PlayerID PlayerID        `json:"playerId"`
}

type TakeDamageMessage struct {
	Type           string   `json:"type"`
	Amount         float64  `json:"amount"`
	SourcePlayerID PlayerID `json:"sourcePlayerId"`
}

type ChatMessage struct {
	Type       string   `json:"type"`
	PlayerID   PlayerID `json:"playerId"`
	PlayerName string   `json:"playerName"`
	Message    string   `json:"message"`
}

type NewWaveMessage struct {
	Type       string `json:"type"`
	Wave       int    `json:"wave"`
	EnemyCount int    `json:"enemyCount"`
}

type PongMessage struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"` // Unix 毫秒
}

type HeartbeatMessage struct {
	Type string `json:"type"`
}
