//go:build windows

package hostterm

import "context"

// WatchResize is a no-op on Windows: there is no SIGWINCH equivalent, and
// the console API's resize notification is out of scope for this engine
// (the pack's own Windows terminal handling, garaekz-tfx/terminal/windows.go,
// makes the same simplification for its signal handler).
func (h *Host) WatchResize(ctx context.Context) {
	<-ctx.Done()
}
