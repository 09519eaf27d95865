package pool

import (
	"fmt"
	"sync"
	"time"

	"github.com/kart-io/logger"
)

// Manager 管理进程内的命名池，负责统一关闭。
type Manager struct {
	mu    sync.RWMutex
	pools map[Type]*Pool
}

// NewManager 创建新的池管理器
func NewManager() *Manager {
	return &Manager{pools: make(map[Type]*Pool)}
}

// Register 创建并注册一个池，同类型重复注册返回错误。
func (m *Manager) Register(typ Type, config *Config) (*Pool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.pools[typ]; ok {
		return nil, fmt.Errorf("池已存在: %s", typ)
	}
	p, err := NewPool(string(typ), typ, config)
	if err != nil {
		return nil, err
	}
	m.pools[typ] = p
	return p, nil
}

// Get 获取指定类型的池
func (m *Manager) Get(typ Type) (*Pool, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.pools[typ]
	return p, ok
}

// Stats 返回所有池的统计信息
func (m *Manager) Stats() []Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Stats, 0, len(m.pools))
	for _, p := range m.pools {
		out = append(out, p.Stats())
	}
	return out
}

// Shutdown 等待各池任务结束后释放，单个池超时只记录日志。
func (m *Manager) Shutdown(timeout time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for typ, p := range m.pools {
		if err := p.ReleaseTimeout(timeout); err != nil {
			logger.Warnw("Worker pool release timeout", "name", typ, "error", err.Error())
		}
	}
	m.pools = make(map[Type]*Pool)
}
