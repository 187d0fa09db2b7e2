package session

import (
	"container/list"
	"context"
	"sync"
	"time"
)

const (
	defaultMaxEntries = 4096
	defaultTTL        = 30 * time.Minute
)

// MemoryStore 以内存保存会话状态，LRU 加 TTL 双重界定容量，
// 避免无上限增长。适合单进程部署与测试。
type MemoryStore struct {
	mu         sync.Mutex
	entries    map[string]*list.Element
	order      *list.List
	maxEntries int
	ttl        time.Duration
	now        func() time.Time
}

type memoryEntry struct {
	state    *State
	expireAt time.Time
}

// MemoryOption 定义可选配置。
type MemoryOption func(*MemoryStore)

// WithMaxEntries 限制会话条目数量，超出时淘汰最久未使用的会话。
func WithMaxEntries(limit int) MemoryOption {
	return func(m *MemoryStore) {
		if limit > 0 {
			m.maxEntries = limit
		}
	}
}

// WithTTL 设置会话的空闲过期时间。
func WithTTL(ttl time.Duration) MemoryOption {
	return func(m *MemoryStore) {
		if ttl > 0 {
			m.ttl = ttl
		}
	}
}

// withClock 供测试注入时钟。
func withClock(now func() time.Time) MemoryOption {
	return func(m *MemoryStore) {
		m.now = now
	}
}

// NewMemoryStore 创建内存会话存储。
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	store := &MemoryStore{
		entries:    make(map[string]*list.Element),
		order:      list.New(),
		maxEntries: defaultMaxEntries,
		ttl:        defaultTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(store)
		}
	}
	return store
}

// Get 实现 Store 接口。过期条目等同不存在。
func (m *MemoryStore) Get(_ context.Context, id string) (*State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	elem, ok := m.entries[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	entry := elem.Value.(*memoryEntry)
	if m.now().After(entry.expireAt) {
		m.removeLocked(id, elem)
		return nil, ErrSessionNotFound
	}
	m.order.MoveToFront(elem)
	return entry.state.Clone(), nil
}

// Put 实现 Store 接口，写入同时刷新 TTL 并按需淘汰。
func (m *MemoryStore) Put(_ context.Context, state *State) error {
	if state == nil || state.ID == "" {
		return ErrSessionNotFound
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	clone := state.Clone()
	clone.UpdatedAt = m.now()
	entry := &memoryEntry{state: clone, expireAt: m.now().Add(m.ttl)}

	if elem, ok := m.entries[state.ID]; ok {
		elem.Value = entry
		m.order.MoveToFront(elem)
		return nil
	}

	m.entries[state.ID] = m.order.PushFront(entry)
	for m.order.Len() > m.maxEntries {
		oldest := m.order.Back()
		if oldest == nil {
			break
		}
		m.removeLocked(oldest.Value.(*memoryEntry).state.ID, oldest)
	}
	return nil
}

// Delete 实现 Store 接口。
func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if elem, ok := m.entries[id]; ok {
		m.removeLocked(id, elem)
	}
	return nil
}

// Close 实现 Store 接口。
func (m *MemoryStore) Close() error {
	return nil
}

func (m *MemoryStore) removeLocked(id string, elem *list.Element) {
	m.order.Remove(elem)
	delete(m.entries, id)
}

// Len 返回当前存活条目数，测试用。
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.order.Len()
}
