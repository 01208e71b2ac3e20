package server

import (
	"sort"
	"sync"
)

// Registry 管理在线连接与玩家 ID 的映射；ID 单调递增且不复用
type Registry struct {
	mu     sync.RWMutex
	conns  map[PlayerID]*ClientConn
	nextID PlayerID
}

func NewRegistry() *Registry {
	return &Registry{conns: make(map[PlayerID]*ClientConn), nextID: 1}
}

// Register 为连接分配下一个玩家 ID
func (r *Registry) Register(c *ClientConn) PlayerID {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.nextID
	r.nextID++
	c.playerID = id
	r.conns[id] = c
	return id
}

// Unregister 移除映射；重复调用返回 false
func (r *Registry) Unregister(id PlayerID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conns[id]; !ok {
		return false
	}
	delete(r.conns, id)
	return true
}

func (r *Registry) Get(id PlayerID) (*ClientConn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[id]
	return c, ok
}

// Active 返回该玩家当前唯一有效的连接；已关闭视为不存在
func (r *Registry) Active(id PlayerID) (*ClientConn, bool) {
	c, ok := r.Get(id)
	if !ok || c.Closed() {
		return nil, false
	}
	return c, true
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// ForEach 在快照上迭代（按 ID 升序），不持锁调用 fn；
// 迭代期间被移除或已关闭的连接会被跳过
func (r *Registry) ForEach(fn func(id PlayerID, c *ClientConn)) {
	for _, c := range r.snapshot() {
		if c.Closed() || !r.contains(c) {
			continue
		}
		fn(c.playerID, c)
	}
}

func (r *Registry) snapshot() []*ClientConn {
	r.mu.RLock()
	list := make([]*ClientConn, 0, len(r.conns))
	for _, c := range r.conns {
		list = append(list, c)
	}
	r.mu.RUnlock()
	sort.Slice(list, func(i, j int) bool { return list[i].playerID < list[j].playerID })
	return list
}

func (r *Registry) contains(c *ClientConn) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.conns[c.playerID] == c
}
