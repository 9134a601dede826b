package realtime

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/tbourn/unibabel/internal/config"
	"github.com/tbourn/unibabel/internal/observability"
)

// Heartbeat and sizing defaults, used when the session config leaves them
// zero.
const (
	defaultWriteWait   = 10 * time.Second
	defaultPingPeriod  = 30 * time.Second
	defaultQueueSize   = 256
	defaultReadLimit   = 64 << 10
	pongWaitMultiplier = 2
	closeGracePeriod   = time.Second
)

// Session is one websocket connection. Outbound frames go through a bounded
// queue drained by a single writer goroutine; a client that lets the queue
// fill up is disconnected instead of slowing down everybody else.
type Session struct {
	id     string
	userID int64
	echo   bool

	conn *websocket.Conn
	out  chan []byte
	done chan struct{}

	closeOnce sync.Once
	shedOnce  sync.Once

	writeWait  time.Duration
	pingPeriod time.Duration
	log        zerolog.Logger
}

func newSession(id string, userID int64, echo bool, conn *websocket.Conn, cfg config.SessionConfig, log zerolog.Logger) *Session {
	q := cfg.QueueSize
	if q <= 0 {
		q = defaultQueueSize
	}
	s := &Session{
		id:         id,
		userID:     userID,
		echo:       echo,
		conn:       conn,
		out:        make(chan []byte, q),
		done:       make(chan struct{}),
		writeWait:  cfg.WriteTimeout,
		pingPeriod: cfg.PingInterval,
		log:        log,
	}
	if s.writeWait <= 0 {
		s.writeWait = defaultWriteWait
	}
	if s.pingPeriod <= 0 {
		s.pingPeriod = defaultPingPeriod
	}
	return s
}

// ID implements Endpoint.
func (s *Session) ID() string { return s.id }

// UserID implements Endpoint.
func (s *Session) UserID() int64 { return s.userID }

// Echo implements Endpoint.
func (s *Session) Echo() bool { return s.echo }

// Done is closed once the session starts shutting down.
func (s *Session) Done() <-chan struct{} { return s.done }

// Enqueue implements Endpoint. A full queue sheds the session.
func (s *Session) Enqueue(frame []byte) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.out <- frame:
		return true
	default:
		s.shedOnce.Do(func() {
			observability.SessionsShed.Inc()
			s.log.Warn().Int("queue", cap(s.out)).Msg("outbound queue full; disconnecting slow session")
		})
		s.Close()
		return false
	}
}

// Close implements Endpoint. It is idempotent and never blocks; the writer
// goroutine sends the close frame and tears the connection down.
func (s *Session) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}

// writePump owns every write to the connection.
func (s *Session) writePump() {
	ticker := time.NewTicker(s.pingPeriod)
	defer func() {
		ticker.Stop()
		_ = s.conn.Close()
	}()

	for {
		select {
		case frame := <-s.out:
			_ = s.conn.SetWriteDeadline(time.Now().Add(s.writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				s.log.Debug().Err(err).Msg("write failed")
				s.Close()
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(s.writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.Close()
				return
			}
		case <-s.done:
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGracePeriod))
			return
		}
	}
}
