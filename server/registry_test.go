package server

import (
	"sync"
	"testing"
)

func TestRegistryIDsAreMonotonic(t *testing.T) {
	r := NewRegistry()
	a := NewClientConn(nil, "", 1)
	b := NewClientConn(nil, "", 1)
	if id := r.Register(a); id != 1 {
		t.Fatalf("first id = %d, want 1", id)
	}
	if id := r.Register(b); id != 2 {
		t.Fatalf("second id = %d, want 2", id)
	}
	if !r.Unregister(1) {
		t.Fatal("unregister of live id should succeed")
	}
	if r.Unregister(1) {
		t.Errorf("second unregister should be a no-op")
	}
	c := NewClientConn(nil, "", 1)
	if id := r.Register(c); id != 3 {
		t.Errorf("ids must not be reused, got %d", id)
	}
}

func TestRegistryForEachSkipsRemovedAndClosed(t *testing.T) {
	r := NewRegistry()
	conns := make([]*ClientConn, 4)
	for i := range conns {
		conns[i] = NewClientConn(nil, "", 1)
		r.Register(conns[i])
	}
	conns[3].Close(1000, "")

	var visited []PlayerID
	r.ForEach(func(id PlayerID, c *ClientConn) {
		visited = append(visited, id)
		if id == 1 {
			// 迭代过程中移除后续连接
			r.Unregister(2)
		}
	})
	if len(visited) != 2 || visited[0] != 1 || visited[1] != 3 {
		t.Errorf("visited = %v, want [1 3]", visited)
	}
}

func TestRegistryActive(t *testing.T) {
	r := NewRegistry()
	c := NewClientConn(nil, "", 1)
	id := r.Register(c)
	if got, ok := r.Active(id); !ok || got != c {
		t.Fatalf("Active(%d) = %v,%v", id, got, ok)
	}
	c.Close(1000, "")
	if _, ok := r.Active(id); ok {
		t.Errorf("closed connection should not be active")
	}
	if _, ok := r.Active(99); ok {
		t.Errorf("unknown id should not be active")
	}
}

func TestRegistryConcurrentRegister(t *testing.T) {
	r := NewRegistry()
	const n = 100
	ids := make(chan PlayerID, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ids <- r.Register(NewClientConn(nil, "", 1))
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[PlayerID]bool)
	for id := range ids {
		if seen[id] {
			t.Fatalf("duplicate id %d", id)
		}
		seen[id] = true
	}
	if len(seen) != n || r.Len() != n {
		t.Errorf("registered %d ids, len %d", len(seen), r.Len())
	}
}

func TestClientConnCloseIsIdempotent(t *testing.T) {
	c := NewClientConn(nil, "", 1)
	if !c.Enqueue([]byte("a")) {
		t.Fatal("enqueue on open connection failed")
	}
	if c.Enqueue([]byte("b")) {
		t.Errorf("enqueue on full queue should drop")
	}
	c.Close(1001, "bye")
	c.Close(1000, "again")
	if c.closeCode != 1001 || c.closeReason != "bye" {
		t.Errorf("first close wins, got %d %q", c.closeCode, c.closeReason)
	}
	if c.Enqueue([]byte("c")) {
		t.Errorf("enqueue after close should fail")
	}
}
