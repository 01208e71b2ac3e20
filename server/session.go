package server

import (
	"encoding/json"
	"sort"
	"sync"
)

// EnemyCountBase 每波基础敌人数量
const EnemyCountBase = 5

// 去重集合的上限：超出后的事件不再记录，按原样转发
const (
	maxTrackedIDs   = 4096
	maxEntityKeyLen = 128
)

// GameSession 单例对局状态：玩家表、波次、敌人/拾取物列表
// 写入只发生在 Hub 的事件循环中；读锁供 HTTP 状态页等并发读取
type GameSession struct {
	mu sync.RWMutex

	players map[PlayerID]*Player
	enemies []json.RawMessage
	pickups []json.RawMessage
	wave    int
	active  bool

	// 本波已广播过的击杀/拾取，用于去重
	killed    map[string]struct{}
	collected map[string]struct{}
}

// SessionSnapshot 对局的只读副本，用于 init 消息与 /stats
type SessionSnapshot struct {
	Players map[PlayerID]Player `json:"players"`
	Enemies []json.RawMessage   `json:"enemies"`
	Pickups []json.RawMessage   `json:"pickups"`
	Wave    int                 `json:"wave"`
	Active  bool                `json:"-"`
}

func NewGameSession() *GameSession {
	return &GameSession{
		players:   make(map[PlayerID]*Player),
		enemies:   []json.RawMessage{},
		pickups:   []json.RawMessage{},
		wave:      1,
		killed:    make(map[string]struct{}),
		collected: make(map[string]struct{}),
	}
}

func (s *GameSession) AddPlayer(p *Player) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	s.players[p.ID] = &cp
}

// UpdatePlayer 部分更新；玩家不存在时返回 false（消息可能与断线竞争）
func (s *GameSession) UpdatePlayer(id PlayerID, patch PlayerPatch) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.players[id]
	if !ok {
		return false
	}
	p.apply(patch)
	return true
}

func (s *GameSession) RenamePlayer(id PlayerID, name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.players[id]
	if !ok {
		return false
	}
	p.Name = name
	return true
}

func (s *GameSession) RemovePlayer(id PlayerID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.players[id]; !ok {
		return false
	}
	delete(s.players, id)
	return true
}

// Player 返回玩家副本
func (s *GameSession) Player(id PlayerID) (Player, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.players[id]
	if !ok {
		return Player{}, false
	}
	return *p, true
}

// Players 按 ID 升序返回全部玩家副本
func (s *GameSession) Players() []Player {
	s.mu.RLock()
	out := make([]Player, 0, len(s.players))
	for _, p := range s.players {
		out = append(out, *p)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *GameSession) PlayerCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.players)
}

// Snapshot 深拷贝当前对局，调用方可随意持有
func (s *GameSession) Snapshot() SessionSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := SessionSnapshot{
		Players: make(map[PlayerID]Player, len(s.players)),
		Enemies: append([]json.RawMessage{}, s.enemies...),
		Pickups: append([]json.RawMessage{}, s.pickups...),
		Wave:    s.wave,
		Active:  s.active,
	}
	for id, p := range s.players {
		snap.Players[id] = *p
	}
	return snap
}

func (s *GameSession) Wave() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.wave
}

// AdvanceWave 仅当 current 等于当前波次时推进，返回新波次；过期请求返回 false
func (s *GameSession) AdvanceWave(current int) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if current != s.wave {
		return s.wave, false
	}
	s.incrementWaveLocked()
	return s.wave, true
}

// IncrementWave 无条件推进波次
func (s *GameSession) IncrementWave() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.incrementWaveLocked()
	return s.wave
}

func (s *GameSession) incrementWaveLocked() {
	s.wave++
	s.killed = make(map[string]struct{})
	s.collected = make(map[string]struct{})
}

// EnemyCount 新波次的敌人数量：base + floor(玩家数 * 1.5)
func (s *GameSession) EnemyCount() int {
	n := s.PlayerCount()
	return EnemyCountBase + n*3/2
}

func (s *GameSession) IsActive() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

func (s *GameSession) SetActive() {
	s.mu.Lock()
	s.active = true
	s.mu.Unlock()
}

// ResetSession 所有玩家离开后调用：波次归 1，清空敌人/拾取物
func (s *GameSession) ResetSession() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.wave = 1
	s.enemies = []json.RawMessage{}
	s.pickups = []json.RawMessage{}
	s.active = false
	s.killed = make(map[string]struct{})
	s.collected = make(map[string]struct{})
}

// MarkEnemyKilled 记录击杀；同一波次内重复上报返回 false
func (s *GameSession) MarkEnemyKilled(enemyID json.RawMessage) bool {
	return s.markOnce(&s.killed, enemyID)
}

// MarkPickupCollected 记录拾取；同一波次内重复上报返回 false
func (s *GameSession) MarkPickupCollected(pickupID json.RawMessage) bool {
	return s.markOnce(&s.collected, pickupID)
}

func (s *GameSession) markOnce(set *map[string]struct{}, id json.RawMessage) bool {
	key := entityKey(id)
	if key == "" || len(key) > maxEntityKeyLen {
		// 无 ID 的事件无法去重，按原样转发
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, seen := (*set)[key]; seen {
		return false
	}
	if len(*set) < maxTrackedIDs {
		(*set)[key] = struct{}{}
	}
	return true
}

// entityKey 规范化实体 ID：数字 7 与字符串 "7" 视为同一实体
func entityKey(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		return str
	}
	return string(raw)
}
