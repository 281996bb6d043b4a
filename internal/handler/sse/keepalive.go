package sse

import (
	"log/slog"
	"sync"
	"time"
)

// KeepAliveWriter writes one keep-alive ping. An error means the
// connection is gone.
type KeepAliveWriter interface {
	WriteKeepAlive() error
}

// TickerKeepAlive pings at a fixed interval until stopped or a write fails.
type TickerKeepAlive struct {
	interval time.Duration
	done     chan struct{}
	stopOnce sync.Once
}

// NewTickerKeepAlive creates a ticker-based keep-alive
func NewTickerKeepAlive(interval time.Duration) *TickerKeepAlive {
	return &TickerKeepAlive{
		interval: interval,
		done:     make(chan struct{}),
	}
}

// Start pings in the background. The returned channel closes when pinging
// ends, either through Stop or a failed write.
func (k *TickerKeepAlive) Start(writer KeepAliveWriter, logger *slog.Logger) <-chan struct{} {
	ticker := time.NewTicker(k.interval)
	stopped := make(chan struct{})

	go func() {
		defer close(stopped)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if err := writer.WriteKeepAlive(); err != nil {
					logger.Warn("keep-alive write failed, stopping", "error", err)
					return
				}
			case <-k.done:
				return
			}
		}
	}()

	return stopped
}

// Stop ends pinging. Safe to call more than once.
func (k *TickerKeepAlive) Stop() {
	k.stopOnce.Do(func() { close(k.done) })
}
