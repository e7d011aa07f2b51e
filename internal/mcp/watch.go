package mcp

import (
	"context"
	"log/slog"
	"os"
	"time"
)

// WatchParent calls cancel when the parent process goes away, so a server
// spawned over stdio does not outlive its client. It never touches stdin,
// which belongs to the stdio transport.
func WatchParent(ctx context.Context, cancel context.CancelFunc, interval time.Duration, logger *slog.Logger) {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ppid := os.Getppid()
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if os.Getppid() != ppid {
					logger.Warn("parent process exited, shutting down", "ppid", ppid)
					cancel()
					return
				}
			}
		}
	}()
}
