package urdriver

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net"
	"sync"
	"time"
)

// ErrNotConnected is returned when the robot has not connected back to a
// driver server.
var ErrNotConnected = errors.New("urdriver: robot not connected")

// server accepts the connection the control script opens back to the host.
// Only the newest connection is kept.
type server struct {
	name string
	ln   net.Listener
	log  *slog.Logger

	onConnect    func()
	onDisconnect func()

	mu     sync.Mutex
	conn   net.Conn
	closed bool
	wg     sync.WaitGroup

	firstConn chan struct{}
	once      sync.Once
}

func listen(name, addr string, log *slog.Logger) (*server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s on %s: %w", name, addr, err)
	}
	s := &server{
		name:      name,
		ln:        ln,
		log:       log.With("server", name),
		firstConn: make(chan struct{}),
	}
	s.log.Debug("listening", "addr", ln.Addr().String())
	return s, nil
}

func (s *server) start() {
	s.wg.Add(1)
	go s.acceptLoop()
}

// Port returns the bound port.
func (s *server) Port() int {
	return s.ln.Addr().(*net.TCPAddr).Port
}

func (s *server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if !closed {
				s.log.Warn("accept failed", "error", err)
			}
			return
		}

		s.mu.Lock()
		prev := s.conn
		s.conn = conn
		s.mu.Unlock()
		if prev != nil {
			prev.Close()
		}

		s.once.Do(func() { close(s.firstConn) })
		s.log.Debug("robot connected", "remote", conn.RemoteAddr().String())
		if s.onConnect != nil {
			s.onConnect()
		}
		s.wg.Add(1)
		go s.watch(conn)
	}
}

// watch drains conn until it fails and reports the disconnect if conn is
// still the current connection.
func (s *server) watch(conn net.Conn) {
	defer s.wg.Done()
	io.Copy(io.Discard, conn)

	s.mu.Lock()
	current := s.conn == conn
	if current {
		s.conn = nil
	}
	s.mu.Unlock()
	conn.Close()

	if current {
		s.log.Debug("robot disconnected")
		if s.onDisconnect != nil {
			s.onDisconnect()
		}
	}
}

func (s *server) connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}

// awaitConnection waits until the robot has connected at least once.
func (s *server) awaitConnection(ctx context.Context, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-s.firstConn:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return fmt.Errorf("%s: %w", s.name, ErrNotConnected)
	}
}

func (s *server) write(buf []byte, timeout time.Duration) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("%s: %w", s.name, ErrNotConnected)
	}
	if timeout > 0 {
		conn.SetWriteDeadline(time.Now().Add(timeout))
	}
	if _, err := conn.Write(buf); err != nil {
		return fmt.Errorf("write %s: %w", s.name, err)
	}
	return nil
}

func (s *server) close() error {
	s.mu.Lock()
	s.closed = true
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()

	err := s.ln.Close()
	if conn != nil {
		conn.Close()
	}
	s.wg.Wait()
	return err
}

// mult scales floating point values into the fixed point integers the
// control script reads.
const mult = 1000000

func fixed(v float64) int32 {
	return int32(math.Round(v * mult))
}

func encodeInt32s(vals []int32) []byte {
	buf := make([]byte, 0, 4*len(vals))
	for _, v := range vals {
		buf = binary.BigEndian.AppendUint32(buf, uint32(v))
	}
	return buf
}
