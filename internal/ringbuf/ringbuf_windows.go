//go:build windows

package ringbuf

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"os/user"
	"regexp"
	"strings"
	"sync"

	"github.com/Microsoft/go-winio"

	"mosaic/internal/userutil"
)

// winTransport backs the cross-process bridge with a go-winio named pipe —
// Windows has no unprivileged shared-memory-by-path primitive as convenient
// as mmap, so a byte-stream pipe plays the same role as the unix mmap ring:
// a single bounded, point-to-point, blocking channel addressed by a
// well-known name.
type winTransport struct {
	path     string
	listener net.Listener // non-nil on the Create side
	conn     net.Conn

	mu     sync.Mutex
	closed bool
}

// Create opens a named-pipe listener at path and accepts its first (and
// only supported) connection lazily on first Send/Recv. The listener's
// DACL restricts access to SYSTEM and the current user, the same
// protected-DACL pattern the multiplexer's own command pipe used.
func Create(path string, capacity int) (Transport, error) {
	sd, err := currentUserSecurityDescriptor()
	if err != nil {
		return nil, fmt.Errorf("ringbuf: security descriptor: %w", err)
	}
	l, err := winio.ListenPipe(pipeName(path), &winio.PipeConfig{
		SecurityDescriptor: sd,
		InputBufferSize:    int32(DefaultSize),
		OutputBufferSize:   int32(DefaultSize),
	})
	if err != nil {
		return nil, fmt.Errorf("ringbuf: listen pipe %s: %w", path, err)
	}
	return &winTransport{path: path, listener: l}, nil
}

// Open dials an already-created transport by path.
func Open(path string) (Transport, error) {
	conn, err := winio.DialPipe(pipeName(path), nil)
	if err != nil {
		return nil, fmt.Errorf("ringbuf: dial pipe %s: %w", path, err)
	}
	return &winTransport{path: path, conn: conn}, nil
}

func pipeName(path string) string {
	return `\\.\pipe\mosaic-` + path
}

// DefaultServerPath returns the well-known per-user key identifying the
// session server's pipe, scoped to the current username so two users on
// the same host never collide on the same pipe.
func DefaultServerPath() (string, error) {
	current, err := user.Current()
	if err != nil {
		return "", fmt.Errorf("ringbuf: resolve current user: %w", err)
	}
	return "server-" + userutil.SanitizeUsername(current.Username), nil
}

var validSIDPattern = regexp.MustCompile(`^S-1(-\d+)+$`)

// currentUserSecurityDescriptor builds an SDDL string granting full access
// only to SYSTEM and the current user's SID, so another local account
// cannot open this session's instruction pipe.
func currentUserSecurityDescriptor() (string, error) {
	current, err := user.Current()
	if err != nil {
		return "", fmt.Errorf("resolve current user: %w", err)
	}
	sid := strings.TrimSpace(current.Uid)
	if sid == "" {
		return "", errors.New("current user SID is unavailable")
	}
	if !validSIDPattern.MatchString(sid) {
		return "", fmt.Errorf("current user SID has unexpected format: %s", sid)
	}
	return fmt.Sprintf("D:P(A;;GA;;;SY)(A;;GA;;;%s)", sid), nil
}

func (t *winTransport) Path() string { return t.path }

func (t *winTransport) ensureConn() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn != nil {
		return nil
	}
	if t.listener == nil {
		return fmt.Errorf("ringbuf: transport has no connection and no listener")
	}
	conn, err := t.listener.Accept()
	if err != nil {
		return fmt.Errorf("ringbuf: accept pipe client: %w", err)
	}
	t.conn = conn
	return nil
}

func (t *winTransport) Send(frame []byte) error {
	if len(frame) > DefaultSize {
		return ErrMessageTooLarge
	}
	if err := t.ensureConn(); err != nil {
		return err
	}
	var hdr [4]byte
	binary.LittleEndian.PutUint32(hdr[:], uint32(len(frame)))
	if _, err := t.conn.Write(hdr[:]); err != nil {
		return fmt.Errorf("ringbuf: write frame header: %w", err)
	}
	if _, err := t.conn.Write(frame); err != nil {
		return fmt.Errorf("ringbuf: write frame body: %w", err)
	}
	return nil
}

func (t *winTransport) Recv() ([]byte, error) {
	if err := t.ensureConn(); err != nil {
		return nil, err
	}
	var hdr [4]byte
	if _, err := io.ReadFull(t.conn, hdr[:]); err != nil {
		if err == io.EOF {
			return nil, ErrClosed
		}
		return nil, fmt.Errorf("ringbuf: read frame header: %w", err)
	}
	size := binary.LittleEndian.Uint32(hdr[:])
	frame := make([]byte, size)
	if _, err := io.ReadFull(t.conn, frame); err != nil {
		return nil, fmt.Errorf("ringbuf: read frame body: %w", err)
	}
	return frame, nil
}

func (t *winTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	if t.conn != nil {
		t.conn.Close()
	}
	if t.listener != nil {
		t.listener.Close()
	}
	return nil
}
