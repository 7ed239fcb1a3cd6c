// Package monitor serves session status over HTTP: the latest snapshot as
// JSON on /status and a live stream on /websocket.
package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/gwillem/urforce/pkg/session"
)

const (
	sendBuffer   = 16
	pingInterval = 30 * time.Second
	readTimeout  = 60 * time.Second
	writeTimeout = 10 * time.Second
)

// Event is the JSON form of a session status.
type Event struct {
	SessionID     string    `json:"session_id"`
	State         string    `json:"state"`
	Version       string    `json:"version,omitempty"`
	CalibrationOK bool      `json:"calibration_ok"`
	Keepalives    uint64    `json:"keepalives"`
	ElapsedMS     int64     `json:"elapsed_ms"`
	DurationMS    int64     `json:"duration_ms"`
	LastPeriodUS  int64     `json:"last_period_us"`
	MaxPeriodUS   int64     `json:"max_period_us"`
	Missed        uint64    `json:"missed"`
	Timestamp     time.Time `json:"timestamp"`
	Error         string    `json:"error,omitempty"`
}

// EventFrom converts a status snapshot.
func EventFrom(st session.Status) Event {
	ev := Event{
		SessionID:     st.SessionID,
		State:         st.State.String(),
		CalibrationOK: st.CalibrationOK,
		Keepalives:    st.Keepalives,
		ElapsedMS:     st.Elapsed.Milliseconds(),
		DurationMS:    st.Duration.Milliseconds(),
		LastPeriodUS:  st.LastPeriod.Microseconds(),
		MaxPeriodUS:   st.MaxPeriod.Microseconds(),
		Missed:        st.Missed,
		Timestamp:     st.Timestamp,
	}
	if st.Version.Major > 0 {
		ev.Version = st.Version.String()
	}
	if st.Err != nil {
		ev.Error = st.Err.Error()
	}
	return ev
}

// Server fans status events out to websocket clients.
type Server struct {
	log      *slog.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[int64]*client
	last    *Event
	nextID  atomic.Int64
}

// New creates a monitor server.
func New(logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		log:     logger.With("component", "monitor"),
		clients: make(map[int64]*client),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("/websocket", s.handleWebSocket)
	return mux
}

// ListenAndServe serves on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	srv := &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 5 * time.Second}
	s.log.Info("monitor listening", "addr", ln.Addr().String())

	go func() {
		<-ctx.Done()
		s.closeClients()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Publish records st as the latest status and sends it to every client.
func (s *Server) Publish(st session.Status) {
	ev := EventFrom(st)
	s.mu.Lock()
	s.last = &ev
	clients := make([]*client, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	for _, c := range clients {
		c.send(ev)
	}
}

// Last returns the latest event, if any.
func (s *Server) Last() (Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return Event{}, false
	}
	return *s.last, true
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ev, ok := s.Last()
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(ev)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &client{
		id:     s.nextID.Add(1),
		conn:   conn,
		log:    s.log,
		sendCh: make(chan Event, sendBuffer),
		done:   make(chan struct{}),
	}
	s.mu.Lock()
	s.clients[c.id] = c
	last := s.last
	s.mu.Unlock()
	s.log.Debug("websocket client connected", "client", c.id)

	if last != nil {
		c.send(*last)
	}
	go c.writePump()
	c.readPump()

	s.mu.Lock()
	delete(s.clients, c.id)
	s.mu.Unlock()
	s.log.Debug("websocket client disconnected", "client", c.id)
}

func (s *Server) closeClients() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, c := range s.clients {
		c.close()
		delete(s.clients, id)
	}
}

type client struct {
	id     int64
	conn   *websocket.Conn
	log    *slog.Logger
	sendCh chan Event
	done   chan struct{}
	once   sync.Once
}

// send drops the event when the client is not keeping up.
func (c *client) send(ev Event) {
	select {
	case c.sendCh <- ev:
	case <-c.done:
	default:
		c.log.Debug("dropping event for slow client", "client", c.id)
	}
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// readPump only handles control frames; clients do not send commands.
func (c *client) readPump() {
	defer c.close()
	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(readTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Debug("websocket read failed", "client", c.id, "error", err)
			}
			return
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.close()
	}()
	for {
		select {
		case ev := <-c.sendCh:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}
