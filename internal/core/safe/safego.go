// Package safe 提供安全的 Goroutine 管理
//
// 设计原则：
// 1. 所有 Goroutine 必须有 panic 恢复
// 2. 支持 Goroutine 计数和跟踪
// 3. 支持 context 取消
package safe

import (
	"context"
	"runtime/debug"
	"sync/atomic"

	corelog "sessionhub-core/internal/core/log"
)

var globalManager = &manager{}

type manager struct {
	activeCount atomic.Int64 // 当前活跃 Goroutine 数量
	totalCount  atomic.Int64 // 累计创建的 Goroutine 数量
	panicCount  atomic.Int64 // panic 次数
}

// Stats Goroutine 统计信息
type Stats struct {
	Active     int64 // 当前活跃数量
	Total      int64 // 累计创建数量
	PanicCount int64 // panic 次数
}

// GetStats 获取统计信息
func GetStats() Stats {
	return Stats{
		Active:     globalManager.activeCount.Load(),
		Total:      globalManager.totalCount.Load(),
		PanicCount: globalManager.panicCount.Load(),
	}
}

// Go 安全启动 Goroutine（带 panic 恢复）
// name 用于日志标识
func Go(name string, fn func()) {
	globalManager.totalCount.Add(1)
	globalManager.activeCount.Add(1)

	go func() {
		defer func() {
			globalManager.activeCount.Add(-1)
			if r := recover(); r != nil {
				globalManager.panicCount.Add(1)
				stack := string(debug.Stack())
				corelog.Errorf("SafeGo[%s]: panic recovered: %v\n%s", name, r, stack)
			}
		}()
		fn()
	}()
}

// GoWithContext 带 context 的安全 Goroutine
// 当 context 取消时，fn 应该检查 ctx.Done() 并退出
func GoWithContext(ctx context.Context, name string, fn func(ctx context.Context)) {
	globalManager.totalCount.Add(1)
	globalManager.activeCount.Add(1)

	go func() {
		defer func() {
			globalManager.activeCount.Add(-1)
			if r := recover(); r != nil {
				globalManager.panicCount.Add(1)
				stack := string(debug.Stack())
				corelog.Errorf("SafeGo[%s]: panic recovered: %v\n%s", name, r, stack)
			}
		}()
		fn(ctx)
	}()
}

// GoLoop 安全启动循环 Goroutine
// 适用于需要持续运行的后台任务
// 如果 fn 返回 error，会记录日志但不会 panic
func GoLoop(ctx context.Context, name string, fn func(ctx context.Context) error) {
	globalManager.totalCount.Add(1)
	globalManager.activeCount.Add(1)

	go func() {
		defer func() {
			globalManager.activeCount.Add(-1)
			if r := recover(); r != nil {
				globalManager.panicCount.Add(1)
				stack := string(debug.Stack())
				corelog.Errorf("SafeGo[%s]: panic recovered in loop: %v\n%s", name, r, stack)
			}
		}()

		for {
			select {
			case <-ctx.Done():
				corelog.Debugf("SafeGo[%s]: context cancelled, exiting loop", name)
				return
			default:
				if err := fn(ctx); err != nil {
					corelog.Warnf("SafeGo[%s]: loop iteration error: %v", name, err)
				}
			}
		}
	}()
}
