// Package task manages the lifecycle of protocol goroutines: named tasks
// with panic recovery, cooperative stop via context cancellation, and a
// wait barrier for clean shutdown.
package task

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/arloliu/go-spilink/logger"
)

// Func represents a function that performs a task within a goroutine managed
// by the Manager. It should return true to continue running the task, or
// false to stop the goroutine.
type Func func() bool

// Manager manages the lifecycle of goroutines (tasks) within a link endpoint.
//
// The Manager uses a context.Context to manage the lifecycle of the goroutines.
// When the context is canceled, all running goroutines are signaled to stop.
// Wait blocks until all goroutines terminate, then recreates the internal
// context so the manager can be reused across open/close cycles.
type Manager struct {
	pctx   context.Context
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger logger.Logger
	count  atomic.Int32
	mu     sync.RWMutex // protects ctx and cancel
}

// NewManager creates a new Manager with the given context as the parent
// context and logger.
func NewManager(ctx context.Context, l logger.Logger) *Manager {
	mgr := &Manager{pctx: ctx, logger: l}
	mgr.ctx, mgr.cancel = context.WithCancel(ctx)

	return mgr
}

// Context returns the current task context. Tasks blocked on channels should
// also select on Context().Done().
func (mgr *Manager) Context() context.Context {
	mgr.mu.RLock()
	defer mgr.mu.RUnlock()

	return mgr.ctx
}

// Start starts a new goroutine with the given name and task function.
//
// The taskFunc is called in a loop and should return true to continue
// running, or false to stop the goroutine.
func (mgr *Manager) Start(name string, taskFunc Func) error {
	ctx := mgr.Context()

	select {
	case <-ctx.Done():
		return fmt.Errorf("task manager already stopped")
	default:
	}

	mgr.logger.Debug("start task", "name", name)
	mgr.wg.Add(1)
	mgr.count.Add(1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				mgr.logger.Error("panic in task", "name", name, "panic", r)
			}

			mgr.count.Add(-1)
			mgr.logger.Debug("task terminated", "name", name, "task_count", mgr.Count())
			mgr.wg.Done()
		}()

		for {
			select {
			case <-mgr.Context().Done():
				return
			default:
				if !taskFunc() {
					return
				}
			}
		}
	}()

	return nil
}

// Stop signals all running goroutines to terminate.
func (mgr *Manager) Stop() {
	mgr.mu.Lock()
	if mgr.cancel != nil {
		mgr.cancel()
	}
	mgr.mu.Unlock()
}

// Wait waits for all goroutines to terminate, then recreates the internal
// context so the manager can be reused.
func (mgr *Manager) Wait() {
	mgr.wg.Wait()

	mgr.mu.Lock()
	mgr.ctx, mgr.cancel = context.WithCancel(mgr.pctx)
	mgr.mu.Unlock()
}

// Count returns the number of currently running goroutines.
func (mgr *Manager) Count() int {
	return int(mgr.count.Load())
}
