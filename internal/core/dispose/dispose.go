// Package dispose 提供统一的资源生命周期管理
// 所有长生命周期组件都绑定一个父 context，关闭时按注册顺序执行清理回调
package dispose

import (
	"context"
	"fmt"
	"sync"

	corelog "sessionhub-core/internal/core/log"
)

// Disposable 统一的资源释放接口
type Disposable interface {
	Close() error
}

// Dispose 资源管理结构体
type Dispose struct {
	mu            sync.Mutex
	closed        bool
	ctx           context.Context
	cancel        context.CancelFunc
	cleanHandlers []func() error
}

// Ctx 返回资源绑定的 context
func (d *Dispose) Ctx() context.Context {
	return d.ctx
}

// IsClosed 判断资源是否已关闭
func (d *Dispose) IsClosed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

// SetCtx 绑定父 context 并注册关闭回调
// 父 context 取消时自动执行清理
func (d *Dispose) SetCtx(parent context.Context, onClose func() error) {
	d.mu.Lock()
	if d.ctx != nil {
		d.mu.Unlock()
		corelog.Warn("dispose: ctx already set")
		return
	}
	if parent == nil {
		parent = context.Background()
	}
	d.ctx, d.cancel = context.WithCancel(parent)
	if onClose != nil {
		d.cleanHandlers = append(d.cleanHandlers, onClose)
	}
	ctx := d.ctx
	d.mu.Unlock()

	go func() {
		<-ctx.Done()
		if err := d.Close(); err != nil {
			corelog.Errorf("dispose: context cancellation cleanup failed: %v", err)
		}
	}()
}

// AddCleanHandler 添加清理处理器（关闭时按添加顺序执行）
func (d *Dispose) AddCleanHandler(f func() error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cleanHandlers = append(d.cleanHandlers, f)
}

// Close 关闭资源，执行所有清理处理器
// 幂等：重复调用返回 nil
func (d *Dispose) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	if d.cancel != nil {
		d.cancel()
	}
	handlers := make([]func() error, len(d.cleanHandlers))
	copy(handlers, d.cleanHandlers)
	d.mu.Unlock()

	var errs []error
	for i, handler := range handlers {
		if err := handler(); err != nil {
			corelog.Errorf("dispose: cleanup handler[%d] failed: %v", i, err)
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("dispose cleanup failed with %d errors (first: %w)", len(errs), errs[0])
	}
	return nil
}
