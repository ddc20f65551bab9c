package reasonbank

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// StartSweeper runs a background goroutine that periodically drops expired
// cache entries so memory is reclaimed even when the cache sees no traffic.
func (c *ResponseCache) StartSweeper(interval time.Duration) {
	if !c.enabled || interval <= 0 {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.cancelSweep = cancel

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				c.mu.Lock()
				before := c.order.Len()
				c.sweepExpiredLocked()
				removed := before - c.order.Len()
				c.mu.Unlock()
				if removed > 0 {
					c.logger.Debug("cache sweep", zap.Int("removed", removed))
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// StopSweeper stops the background sweeper if one is running.
func (c *ResponseCache) StopSweeper() {
	if c.cancelSweep != nil {
		c.cancelSweep()
		c.cancelSweep = nil
	}
}
