//go:build !windows

package hostterm

import (
	"context"
	"os"
	"os/signal"

	"golang.org/x/sys/unix"
)

// WatchResize blocks, delivering a Render instruction with refreshed
// dimensions to the screen bus on every SIGWINCH, until ctx is cancelled.
// Run this in its own goroutine.
func (h *Host) WatchResize(ctx context.Context) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, unix.SIGWINCH)
	defer signal.Stop(sigCh)

	for {
		select {
		case <-ctx.Done():
			return
		case <-sigCh:
			h.onResize()
		}
	}
}
