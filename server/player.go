package server

import (
	"fmt"
	"time"
)

// PlayerID 玩家唯一标识：从 1 递增，进程生命周期内不复用
type PlayerID uint64

// Vec3 三维坐标
type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Rotation 视角；x 为 pitch，y 为 yaw（与客户端线格式一致）
type Rotation struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// SpawnPosition 新玩家的默认出生点（眼高 1.8）
var SpawnPosition = Vec3{X: 0, Y: 1.8, Z: 0}

// Player 房间内的玩家记录；健康值等由客户端上报，服务端只做转发
type Player struct {
	ID          PlayerID `json:"id"`
	Name        string   `json:"name"`
	Position    Vec3     `json:"position"`
	Rotation    Rotation `json:"rotation"`
	Health      float64  `json:"health"`
	Score       float64  `json:"score"`
	WeaponIndex int      `json:"weaponIndex"`
	Active      bool     `json:"active"`
	IP          string   `json:"ip"`
	Connected   string   `json:"connected"`
}

// NewPlayer 按默认值创建玩家
func NewPlayer(id PlayerID, ip string, now time.Time) *Player {
	return &Player{
		ID:        id,
		Name:      DefaultPlayerName(id),
		Position:  SpawnPosition,
		Health:    100,
		Active:    true,
		IP:        ip,
		Connected: now.UTC().Format(time.RFC3339),
	}
}

func DefaultPlayerName(id PlayerID) string {
	return fmt.Sprintf("Player %d", id)
}

// PlayerPatch 部分更新：仅覆盖非 nil 字段（名字通过 RenamePlayer 单独修改）
type PlayerPatch struct {
	Position    *Vec3     `json:"position,omitempty"`
	Rotation    *Rotation `json:"rotation,omitempty"`
	Health      *float64  `json:"health,omitempty"`
	Score       *float64  `json:"score,omitempty"`
	WeaponIndex *int      `json:"weaponIndex,omitempty"`
	Active      *bool     `json:"active,omitempty"`
}

func (p *Player) apply(patch PlayerPatch) {
	if patch.Position != nil {
		p.Position = *patch.Position
	}
	if patch.Rotation != nil {
		p.Rotation = *patch.Rotation
	}
	if patch.Health != nil {
		p.Health = *patch.Health
	}
	if patch.Score != nil {
		p.Score = *patch.Score
	}
	if patch.WeaponIndex != nil {
		p.WeaponIndex = *patch.WeaponIndex
	}
	if patch.Active != nil {
		p.Active = *patch.Active
	}
}
