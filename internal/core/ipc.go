package core

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Commands accepted on the control socket, one per connection.
const (
	MessageToggle = "toggle"
	MessageStatus = "status"
	MessageReload = "reload"
)

const ipcTimeout = 5 * time.Second

type IPCServer struct {
	app        *App
	socketPath string
	listener   *net.UnixListener
	log        *zap.SugaredLogger
}

func NewIPCServer(app *App, socketPath string, log *zap.SugaredLogger) *IPCServer {
	return &IPCServer{
		app:        app,
		socketPath: socketPath,
		log:        log,
	}
}

func (s *IPCServer) Listen() error {
	if s.listener != nil {
		return fmt.Errorf("IPC server already running")
	}

	// A stale socket from a previous run blocks the bind.
	if _, err := os.Stat(s.socketPath); err == nil {
		os.Remove(s.socketPath)
	}

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("failed to create socket listener: %w", err)
	}

	s.listener = listener.(*net.UnixListener)
	s.log.Infof("IPC server listening on %s", s.socketPath)
	return nil
}

// Serve accepts connections until ctx is cancelled.
func (s *IPCServer) Serve(ctx context.Context) error {
	if s.listener == nil {
		return fmt.Errorf("IPC server not listening")
	}

	listener := s.listener
	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	for {
		conn, err := listener.AcceptUnix()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.log.Warnf("Error accepting connection: %v", err)
			continue
		}
		go s.handleConnection(ctx, conn)
	}
}

func (s *IPCServer) handleConnection(ctx context.Context, conn *net.UnixConn) {
	defer conn.Close()

	conn.SetDeadline(time.Now().Add(ipcTimeout))

	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil && line == "" {
		s.log.Warnf("Error reading from connection: %v", err)
		return
	}

	message := strings.TrimSpace(line)
	s.log.Debugf("Received IPC message: %s", message)

	ctx, cancel := context.WithTimeout(ctx, ipcTimeout)
	defer cancel()

	reply := s.handleMessage(ctx, message)
	if _, err := fmt.Fprintln(conn, reply); err != nil {
		s.log.Warnf("Error writing reply: %v", err)
	}
}

// handleMessage returns the reply line: the daemon status, or "error: ..."
func (s *IPCServer) handleMessage(ctx context.Context, message string) string {
	var (
		status string
		err    error
	)
	switch message {
	case MessageToggle:
		status, err = s.app.Toggle(ctx)
	case MessageStatus:
		status, err = s.app.Status(ctx)
	case MessageReload:
		status, err = s.app.Reload(ctx)
	default:
		err = fmt.Errorf("unknown command %q", message)
	}
	if err != nil {
		return "error: " + err.Error()
	}
	return status
}

func (s *IPCServer) Stop() error {
	if s.listener == nil {
		return nil
	}
	s.listener.Close()
	s.listener = nil

	if _, err := os.Stat(s.socketPath); err == nil {
		if err := os.Remove(s.socketPath); err != nil {
			return fmt.Errorf("failed to remove socket: %w", err)
		}
	}

	s.log.Infof("IPC server stopped")
	return nil
}

// Send delivers one message to a running daemon and returns its reply.
func Send(socketPath, message string) (string, error) {
	conn, err := net.DialTimeout("unix", socketPath, ipcTimeout)
	if err != nil {
		return "", fmt.Errorf("failed to connect to %s: %w", socketPath, err)
	}
	defer conn.Close()

	conn.SetDeadline(time.Now().Add(ipcTimeout))

	if _, err := fmt.Fprintln(conn, message); err != nil {
		return "", fmt.Errorf("failed to send message: %w", err)
	}

	reply, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil && reply == "" {
		return "", fmt.Errorf("failed to read reply: %w", err)
	}
	reply = strings.TrimSpace(reply)
	if msg, ok := strings.CutPrefix(reply, "error: "); ok {
		return "", errors.New(msg)
	}
	return reply, nil
}
