// Package dashboard is a client for the actuator's dashboard server, a
// line-oriented text protocol on TCP port 29999. Every command is one line
// and is answered by one line.
package dashboard

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/gwillem/urforce/pkg/robot"
)

// Port is the dashboard server port.
const Port = 29999

const defaultTimeout = 5 * time.Second

var (
	// ErrNotConnected is returned by commands sent before Connect.
	ErrNotConnected = errors.New("dashboard: not connected")
	// ErrRejected is returned when a reply does not acknowledge the command.
	ErrRejected = errors.New("dashboard: command rejected")
)

// Client talks to one dashboard server. Commands are serialized.
type Client struct {
	addr    string
	timeout time.Duration
	log     *slog.Logger

	mu   sync.Mutex
	conn net.Conn
	r    *bufio.Reader
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout bounds every command that has no context deadline.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithLogger logs commands and replies at debug level.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.log = l }
}

// New creates a client for host. A host without a port gets Port.
func New(host string, opts ...Option) *Client {
	c := &Client{
		addr:    withDefaultPort(host, Port),
		timeout: defaultTimeout,
		log:     slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func withDefaultPort(host string, port int) string {
	if _, _, err := net.SplitHostPort(host); err == nil {
		return host
	}
	return net.JoinHostPort(host, fmt.Sprint(port))
}

// Addr returns the dialed address.
func (c *Client) Addr() string {
	return c.addr
}

// Connect dials the server and reads its greeting.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		return nil
	}

	var d net.Dialer
	dialCtx, cancel := c.withTimeout(ctx)
	defer cancel()
	conn, err := d.DialContext(dialCtx, "tcp", c.addr)
	if err != nil {
		return fmt.Errorf("dial dashboard %s: %w", c.addr, err)
	}
	c.conn = conn
	c.r = bufio.NewReader(conn)

	stop := c.bind(ctx)
	greeting, err := c.readLine(ctx)
	stop()
	if err != nil {
		c.closeLocked()
		return fmt.Errorf("read dashboard greeting: %w", err)
	}
	c.log.Debug("dashboard connected", "addr", c.addr, "greeting", greeting)
	return nil
}

// Send writes cmd and returns the reply line.
func (c *Client) Send(ctx context.Context, cmd string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return "", ErrNotConnected
	}

	stop := c.bind(ctx)
	defer stop()

	if _, err := fmt.Fprintf(c.conn, "%s\n", cmd); err != nil {
		return "", fmt.Errorf("send %q: %w", cmd, ctxErr(ctx, err))
	}
	reply, err := c.readLine(ctx)
	if err != nil {
		return "", fmt.Errorf("read reply to %q: %w", cmd, err)
	}
	c.log.Debug("dashboard command", "cmd", cmd, "reply", reply)
	return reply, nil
}

// SendAndExpect sends cmd and fails with ErrRejected unless the reply starts
// with expected.
func (c *Client) SendAndExpect(ctx context.Context, cmd, expected string) error {
	reply, err := c.Send(ctx, cmd)
	if err != nil {
		return err
	}
	if !strings.HasPrefix(reply, expected) {
		return fmt.Errorf("%w: %s: %q", ErrRejected, cmd, reply)
	}
	return nil
}

// Stop stops the running program.
func (c *Client) Stop(ctx context.Context) error {
	return c.SendAndExpect(ctx, "stop", "Stopped")
}

// PowerOn powers the arm on.
func (c *Client) PowerOn(ctx context.Context) error {
	return c.SendAndExpect(ctx, "power on", "Powering on")
}

// PowerOff powers the arm off.
func (c *Client) PowerOff(ctx context.Context) error {
	return c.SendAndExpect(ctx, "power off", "Powering off")
}

// BrakeRelease releases the brakes.
func (c *Client) BrakeRelease(ctx context.Context) error {
	return c.SendAndExpect(ctx, "brake release", "Brake releasing")
}

// PolyscopeVersion asks the controller for its software version.
func (c *Client) PolyscopeVersion(ctx context.Context) (robot.Version, error) {
	reply, err := c.Send(ctx, "PolyscopeVersion")
	if err != nil {
		return robot.Version{}, err
	}
	v, err := robot.ParseVersion(reply)
	if err != nil {
		return robot.Version{}, fmt.Errorf("parse polyscope version %q: %w", reply, err)
	}
	return v, nil
}

// Close closes the connection. It is safe to call more than once.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeLocked()
}

func (c *Client) closeLocked() error {
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	c.r = nil
	return err
}

// bind applies ctx's deadline, or the client timeout, to the connection and
// aborts blocked I/O when ctx is cancelled.
func (c *Client) bind(ctx context.Context) (stop func()) {
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(c.timeout)
	}
	conn := c.conn
	conn.SetDeadline(deadline)
	unbind := context.AfterFunc(ctx, func() {
		conn.SetDeadline(time.Now())
	})
	return func() {
		unbind()
		conn.SetDeadline(time.Time{})
	}
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}

func (c *Client) readLine(ctx context.Context) (string, error) {
	line, err := c.r.ReadString('\n')
	if err != nil {
		return "", ctxErr(ctx, err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// ctxErr prefers the context's error over the timeout it caused.
func ctxErr(ctx context.Context, err error) error {
	if cerr := ctx.Err(); cerr != nil {
		return cerr
	}
	return err
}

var _ robot.Dashboard = (*Client)(nil)
