// Package ringbuf implements the fixed-size cross-process message bridge
// described in spec §6: the server creates a transport at a well-known
// filesystem path, each client opens it by path, and messages pass as
// length-prefixed frames with no spin-waiting on either side.
package ringbuf

import "errors"

// DefaultSize is the default transport capacity in bytes, matching Mosaic's
// SharedRingBuffer::create(MOSAIC_IPC_PIPE, 8192) default.
const DefaultSize = 8192

// ErrMessageTooLarge is returned by Send when a frame would not fit inside
// the transport's capacity even when empty.
var ErrMessageTooLarge = errors.New("ringbuf: message exceeds transport capacity")

// ErrClosed is returned by Send/Recv after Close.
var ErrClosed = errors.New("ringbuf: transport closed")

// Transport is the point-to-point bridge a server and exactly one client use
// to exchange wire frames. Implementations: ringbuf_unix.go (mmap'd file +
// flock + a unix-domain doorbell socket) and ringbuf_windows.go (a go-winio
// named pipe).
type Transport interface {
	// Send writes one frame. The unix transport does not wait for space: it
	// returns an error when the ring lacks room for the frame.
	Send(frame []byte) error
	// Recv blocks until a frame is available or the transport is closed.
	Recv() ([]byte, error)
	// Close releases the transport's resources. Safe to call once.
	Close() error
	// Path reports the filesystem (or pipe) path backing this transport.
	Path() string
}
