package wayland

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// zombieCacheSize bounds how many destroyed object ids are remembered while
// the compositor may still have events for them in flight.
const zombieCacheSize = 256

// Conn is a client connection to the compositor. It is not safe for
// concurrent use; the bridge goroutine owns it.
type Conn struct {
	sock *net.UnixConn
	rbuf []byte
	wbuf []byte

	nextID  uint32
	objects map[uint32]string
	zombies *lru.Cache[uint32, string]
}

// SocketPath resolves the compositor socket from WAYLAND_DISPLAY and
// XDG_RUNTIME_DIR the way libwayland does.
func SocketPath() (string, error) {
	name := os.Getenv("WAYLAND_DISPLAY")
	if name == "" {
		name = "wayland-0"
	}
	if filepath.IsAbs(name) {
		return name, nil
	}
	dir := os.Getenv("XDG_RUNTIME_DIR")
	if dir == "" {
		return "", errors.New("XDG_RUNTIME_DIR is not set")
	}
	return filepath.Join(dir, name), nil
}

func Dial() (*Conn, error) {
	path, err := SocketPath()
	if err != nil {
		return nil, err
	}
	return DialPath(path)
}

func DialPath(path string) (*Conn, error) {
	addr := &net.UnixAddr{Name: path, Net: "unix"}
	sock, err := net.DialUnix("unix", nil, addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", path, err)
	}

	zombies, err := lru.New[uint32, string](zombieCacheSize)
	if err != nil {
		sock.Close()
		return nil, err
	}

	return &Conn{
		sock:    sock,
		nextID:  displayID + 1,
		objects: map[uint32]string{displayID: ifaceDisplay},
		zombies: zombies,
	}, nil
}

func (c *Conn) Close() error {
	return c.sock.Close()
}

// newObject allocates a client-side object id.
func (c *Conn) newObject(iface string) uint32 {
	id := c.nextID
	c.nextID++
	c.objects[id] = iface
	return id
}

// addServerObject registers an id the compositor created with a new_id event.
func (c *Conn) addServerObject(id uint32, iface string) {
	c.zombies.Remove(id)
	c.objects[id] = iface
}

func (c *Conn) iface(id uint32) (string, bool) {
	iface, ok := c.objects[id]
	return iface, ok
}

// forget moves an object to the zombie cache: it is dead to us, but events
// addressed to it may still arrive.
func (c *Conn) forget(id uint32) {
	if iface, ok := c.objects[id]; ok {
		delete(c.objects, id)
		c.zombies.Add(id, iface)
	}
}

func (c *Conn) isZombie(id uint32) bool {
	return c.zombies.Contains(id)
}

// deleteID handles wl_display.delete_id: the id is fully released.
func (c *Conn) deleteID(id uint32) {
	delete(c.objects, id)
	c.zombies.Remove(id)
}

func (c *Conn) request(obj uint32, opcode uint16, a *args) {
	c.wbuf = appendMessage(c.wbuf, obj, opcode, a.bytes())
}

func (c *Conn) Flush() error {
	for len(c.wbuf) > 0 {
		n, err := c.sock.Write(c.wbuf)
		c.wbuf = c.wbuf[n:]
		if err != nil {
			return fmt.Errorf("failed to write to compositor: %w", err)
		}
	}
	c.wbuf = c.wbuf[:0]
	return nil
}

// readTimeout waits up to d for data from the compositor and buffers what
// arrives. Running out of time is not an error.
func (c *Conn) readTimeout(d time.Duration) error {
	if err := c.sock.SetReadDeadline(time.Now().Add(d)); err != nil {
		return err
	}
	var chunk [maxMessageSize]byte
	n, err := c.sock.Read(chunk[:])
	c.rbuf = append(c.rbuf, chunk[:n]...)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, os.ErrDeadlineExceeded):
		return nil
	case errors.Is(err, io.EOF):
		return errors.New("compositor closed the connection")
	default:
		return fmt.Errorf("failed to read from compositor: %w", err)
	}
}

// next returns the next complete buffered message, if any.
func (c *Conn) next() (message, bool, error) {
	msg, rest, ok, err := splitMessage(c.rbuf)
	if err != nil || !ok {
		return message{}, false, err
	}
	// Copy args out so rbuf can be compacted.
	msg.args = append([]byte(nil), msg.args...)
	c.rbuf = append(c.rbuf[:0], rest...)
	return msg, true, nil
}
