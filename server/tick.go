package server

import (
	"context"
	"time"
)

// RunRetrySweep 独立于连接 I/O 的周期任务：按固定间隔扫描待确认的重开请求
// ctx 取消后返回
func (c *Coordinator) RunRetrySweep(ctx context.Context, every time.Duration) error {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	c.log.Infow("retry sweep started", "every", every)
	for {
		select {
		case <-ctx.Done():
			c.log.Info("retry sweep stopped")
			return nil
		case <-ticker.C:
			c.SweepRetries(c.now())
		}
	}
}
