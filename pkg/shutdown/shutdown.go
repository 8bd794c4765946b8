package shutdown

import (
	"context"
	"sync"

	"github.com/aetherbot/gotrader/pkg/logger"
)

// hook is one named cleanup step.
type hook struct {
	name string
	run  func(ctx context.Context)
}

// Manager collects named cleanup hooks and runs them all concurrently at
// shutdown, bounded by the caller's context.
type Manager struct {
	mu    sync.Mutex
	hooks []hook
}

// NewManager creates an empty manager.
func NewManager() *Manager {
	return &Manager{}
}

// Register adds a hook. name only appears in logs.
func (m *Manager) Register(name string, run func(ctx context.Context)) {
	m.mu.Lock()
	m.hooks = append(m.hooks, hook{name: name, run: run})
	m.mu.Unlock()
}

// Shutdown runs every hook concurrently and blocks until all finish or ctx
// expires. ctx should carry a timeout so one stuck hook cannot hang the
// process forever.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	hooks := m.hooks
	m.mu.Unlock()

	if len(hooks) == 0 {
		return
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		var wg sync.WaitGroup
		for _, h := range hooks {
			wg.Add(1)
			go func(h hook) {
				defer wg.Done()
				h.run(ctx)
				logger.Debugf("shutdown: %s done", h.name)
			}(h)
		}
		wg.Wait()
	}()

	select {
	case <-done:
		logger.Infof("shutdown complete (%d hooks)", len(hooks))
	case <-ctx.Done():
		logger.Warnf("shutdown timed out: %v", ctx.Err())
	}
}
