//go:build !windows

package ringbuf

import (
	"encoding/binary"
	"fmt"
	"net"
	"os"
	"os/user"
	"path/filepath"
	"sync"

	"golang.org/x/sys/unix"

	"mosaic/internal/userutil"
)

// header occupies the first 8 bytes of the mapped region: a write cursor and
// a read cursor, each a uint32 offset into the ring. Access is always under
// flock(fd), so the cursors never need atomics.
const headerSize = 8

// unixTransport is a file-backed mmap(MAP_SHARED) ring buffer. The backing
// file lives at Path(); a second file, Path()+".sock", carries a
// SOCK_DGRAM doorbell so a blocked Recv wakes immediately instead of
// polling.
type unixTransport struct {
	path     string
	file     *os.File
	data     []byte // mmap'd region: headerSize header + ring body
	ringSize uint32

	doorbell   *net.UnixConn
	doorbellAddr *net.UnixAddr
	peerAddr     *net.UnixAddr

	mu     sync.Mutex
	closed bool
}

// Create makes a new transport at path, sized to capacity bytes of ring
// body, and removes any stale files left by a prior crashed process at the
// same path.
func Create(path string, capacity int) (Transport, error) {
	if capacity <= 0 {
		capacity = DefaultSize
	}
	_ = os.Remove(path)
	_ = os.Remove(path + ".sock")

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return nil, fmt.Errorf("ringbuf: create %s: %w", path, err)
	}
	total := headerSize + capacity
	if err := f.Truncate(int64(total)); err != nil {
		f.Close()
		return nil, fmt.Errorf("ringbuf: truncate %s: %w", path, err)
	}

	t, err := mapTransport(path, f, uint32(capacity))
	if err != nil {
		return nil, err
	}

	addr := &net.UnixAddr{Name: path + ".sock", Net: "unixgram"}
	conn, err := net.ListenUnixgram("unixgram", addr)
	if err != nil {
		t.Close()
		return nil, fmt.Errorf("ringbuf: listen doorbell %s: %w", addr.Name, err)
	}
	t.doorbell = conn
	t.doorbellAddr = addr
	return t, nil
}

// Open attaches to a transport a server (or another client) already created
// at path.
func Open(path string) (Transport, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("ringbuf: open %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("ringbuf: stat %s: %w", path, err)
	}
	capacity := uint32(info.Size()) - headerSize

	t, err := mapTransport(path, f, capacity)
	if err != nil {
		return nil, err
	}

	clientAddr := &net.UnixAddr{Name: fmt.Sprintf("%s.client-%d.sock", path, os.Getpid()), Net: "unixgram"}
	conn, err := net.ListenUnixgram("unixgram", clientAddr)
	if err != nil {
		t.Close()
		return nil, fmt.Errorf("ringbuf: listen client doorbell: %w", err)
	}
	t.doorbell = conn
	t.doorbellAddr = clientAddr
	t.peerAddr = &net.UnixAddr{Name: path + ".sock", Net: "unixgram"}
	return t, nil
}

func mapTransport(path string, f *os.File, capacity uint32) (*unixTransport, error) {
	total := headerSize + int(capacity)
	data, err := unix.Mmap(int(f.Fd()), 0, total, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("ringbuf: mmap %s: %w", path, err)
	}
	return &unixTransport{path: path, file: f, data: data, ringSize: capacity}, nil
}

func (t *unixTransport) Path() string { return t.path }

func (t *unixTransport) withLock(fn func() error) error {
	if err := unix.Flock(int(t.file.Fd()), unix.LOCK_EX); err != nil {
		return fmt.Errorf("ringbuf: flock: %w", err)
	}
	defer unix.Flock(int(t.file.Fd()), unix.LOCK_UN)
	return fn()
}

func (t *unixTransport) cursors() (write, read uint32) {
	return binary.LittleEndian.Uint32(t.data[0:4]), binary.LittleEndian.Uint32(t.data[4:8])
}

func (t *unixTransport) setCursors(write, read uint32) {
	binary.LittleEndian.PutUint32(t.data[0:4], write)
	binary.LittleEndian.PutUint32(t.data[4:8], read)
}

func (t *unixTransport) freeSpace(write, read uint32) uint32 {
	if write >= read {
		return t.ringSize - (write - read) - 1
	}
	return read - write - 1
}

func (t *unixTransport) ring() []byte { return t.data[headerSize:] }

// Send writes a length-prefixed frame into the ring and rings the peer's
// doorbell. It does not wait for space: if the ring's free space is smaller
// than the frame, it returns a "buffer full" error and writes nothing.
func (t *unixTransport) Send(frame []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrClosed
	}
	need := uint32(4 + len(frame))
	if need >= t.ringSize {
		return ErrMessageTooLarge
	}

	err := t.withLock(func() error {
		write, read := t.cursors()
		if t.freeSpace(write, read) < need {
			return fmt.Errorf("ringbuf: buffer full")
		}
		ring := t.ring()
		var hdr [4]byte
		binary.LittleEndian.PutUint32(hdr[:], uint32(len(frame)))
		write = t.writeBytes(ring, write, hdr[:])
		write = t.writeBytes(ring, write, frame)
		t.setCursors(write, read)
		return nil
	})
	if err != nil {
		return err
	}
	if t.doorbell != nil && t.peerAddr != nil {
		_, _ = t.doorbell.WriteToUnix([]byte{1}, t.peerAddr)
	} else if t.doorbell != nil {
		// a Create'd end has no peer address (only Open sets one), so
		// there is no doorbell to ring.
		_ = t.doorbellAddr
	}
	return nil
}

func (t *unixTransport) writeBytes(ring []byte, at uint32, data []byte) uint32 {
	n := uint32(len(ring))
	for len(data) > 0 {
		chunk := n - at
		if chunk > uint32(len(data)) {
			chunk = uint32(len(data))
		}
		copy(ring[at:at+chunk], data[:chunk])
		at = (at + chunk) % n
		data = data[chunk:]
	}
	return at
}

func (t *unixTransport) readBytes(ring []byte, at uint32, out []byte) uint32 {
	n := uint32(len(ring))
	for len(out) > 0 {
		chunk := n - at
		if chunk > uint32(len(out)) {
			chunk = uint32(len(out))
		}
		copy(out[:chunk], ring[at:at+chunk])
		at = (at + chunk) % n
		out = out[chunk:]
	}
	return at
}

// Recv blocks on the doorbell socket until a frame is available, then reads
// it out of the ring under flock.
func (t *unixTransport) Recv() ([]byte, error) {
	for {
		t.mu.Lock()
		closed := t.closed
		t.mu.Unlock()
		if closed {
			return nil, ErrClosed
		}

		var frame []byte
		var found bool
		err := t.withLock(func() error {
			write, read := t.cursors()
			if write == read {
				return nil
			}
			ring := t.ring()
			var hdr [4]byte
			read = t.readBytes(ring, read, hdr[:])
			size := binary.LittleEndian.Uint32(hdr[:])
			frame = make([]byte, size)
			read = t.readBytes(ring, read, frame)
			t.setCursors(write, read)
			found = true
			return nil
		})
		if err != nil {
			return nil, err
		}
		if found {
			return frame, nil
		}

		buf := make([]byte, 1)
		if t.doorbell == nil {
			return nil, fmt.Errorf("ringbuf: no doorbell registered for blocking recv")
		}
		_, _, err = t.doorbell.ReadFromUnix(buf)
		if err != nil {
			t.mu.Lock()
			closed := t.closed
			t.mu.Unlock()
			if closed {
				return nil, ErrClosed
			}
			return nil, fmt.Errorf("ringbuf: doorbell read: %w", err)
		}
	}
}

func (t *unixTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	if t.doorbell != nil {
		t.doorbell.Close()
	}
	unix.Munmap(t.data)
	return t.file.Close()
}

// DefaultServerPath returns the well-known per-user file path the session
// server creates its transport at and drive-by clients open by name,
// scoped to the current username so two users on the same host never
// collide on the same path.
func DefaultServerPath() (string, error) {
	current, err := user.Current()
	if err != nil {
		return "", fmt.Errorf("ringbuf: resolve current user: %w", err)
	}
	return filepath.Join(os.TempDir(), "mosaic-"+userutil.SanitizeUsername(current.Username)+".server"), nil
}
