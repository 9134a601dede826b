package realtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"

	"github.com/tbourn/unibabel/internal/config"
	"github.com/tbourn/unibabel/internal/domain"
	"github.com/tbourn/unibabel/internal/observability"
)

// Ack is the dispatcher's confirmation of a stored send.
type Ack struct {
	MessageID int64
	CreatedAt time.Time
	Replayed  bool
}

// Dispatcher stores and fans out a send on behalf of a session.
type Dispatcher interface {
	Send(ctx context.Context, sessionID string, chatID int64, text, nonce string) (Ack, error)
}

// ChatAccess decides whether a user may subscribe to a chat. It returns a
// coded error (InvalidChat, ForbiddenSender) when not.
type ChatAccess interface {
	CheckParticipant(ctx context.Context, chatID, userID int64) error
}

// GatewayOption customizes a Gateway.
type GatewayOption func(*Gateway)

// WithAllowedOrigins restricts websocket upgrades to these origins. An empty
// list accepts any origin.
func WithAllowedOrigins(origins []string) GatewayOption {
	return func(g *Gateway) {
		if len(origins) == 0 {
			return
		}
		allowed := make(map[string]struct{}, len(origins))
		for _, o := range origins {
			allowed[o] = struct{}{}
		}
		g.upgrader.CheckOrigin = func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			_, ok := allowed[origin]
			return ok
		}
	}
}

// WithDisconnectHook registers fn to run with the session id after a
// session is gone, e.g. to drop its rate-limit bucket.
func WithDisconnectHook(fn func(sessionID string)) GatewayOption {
	return func(g *Gateway) { g.onDisconnect = fn }
}

// Gateway upgrades authenticated HTTP requests to websocket sessions and
// serves their frames.
type Gateway struct {
	reg      *Registry
	disp     Dispatcher
	access   ChatAccess
	cfg      config.SessionConfig
	upgrader websocket.Upgrader

	onDisconnect func(string)
	wg           sync.WaitGroup
}

// NewGateway wires a gateway.
func NewGateway(reg *Registry, disp Dispatcher, access ChatAccess, cfg config.SessionConfig, opts ...GatewayOption) *Gateway {
	g := &Gateway{
		reg:    reg,
		disp:   disp,
		access: access,
		cfg:    cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Handler upgrades GET /ws. The caller must already be authenticated: the
// auth middleware stores the user id under "userID". ?echo=true asks for the
// session's own sends to be delivered back to it.
func (g *Gateway) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		v, ok := c.Get("userID")
		userID, _ := v.(int64)
		if !ok || userID == 0 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": "unauthorized", "message": "missing user identity"})
			return
		}
		echo, _ := strconv.ParseBool(c.Query("echo"))

		conn, err := g.upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			// Upgrade already replied with an HTTP error.
			log.Debug().Err(err).Int64("user_id", userID).Msg("websocket upgrade failed")
			return
		}
		g.Serve(conn, userID, echo)
	}
}

// Serve runs a session on an upgraded connection until it ends.
func (g *Gateway) Serve(conn *websocket.Conn, userID int64, echo bool) {
	id := uuid.NewString()
	logger := log.With().Str("session_id", id).Int64("user_id", userID).Logger()
	s := newSession(id, userID, echo, conn, g.cfg, logger)

	if !g.reg.Register(s) {
		_ = conn.Close()
		return
	}
	g.wg.Add(1)
	observability.SessionsActive.Inc()
	logger.Info().Bool("echo", echo).Msg("session connected")

	go s.writePump()
	g.readLoop(s)

	g.reg.Drop(id)
	s.Close()
	if g.onDisconnect != nil {
		g.onDisconnect(id)
	}
	observability.SessionsActive.Dec()
	g.wg.Done()
	logger.Info().Msg("session disconnected")
}

func (g *Gateway) readLoop(s *Session) {
	limit := g.cfg.ReadLimit
	if limit <= 0 {
		limit = defaultReadLimit
	}
	pongWait := pongWaitMultiplier * s.pingPeriod
	s.conn.SetReadLimit(limit)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	// Unblock ReadMessage when the session is closed from elsewhere.
	go func() {
		<-s.done
		_ = s.conn.SetReadDeadline(time.Now())
	}()

	for {
		kind, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				s.log.Debug().Err(err).Msg("read failed")
			}
			return
		}
		// Any traffic proves the peer is alive.
		_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
		if kind != websocket.TextMessage {
			continue
		}
		g.handleFrame(s, data)
	}
}

// handleFrame serves one client frame. Frames of a session are handled one
// at a time, in arrival order.
func (g *Gateway) handleFrame(s *Session, data []byte) {
	in, err := DecodeInbound(data)
	if err != nil {
		s.log.Debug().Err(err).Msg("malformed frame")
		s.Enqueue(EncodeError("", domain.NewError(domain.CodeBadFrame, "frame is not valid JSON")))
		return
	}

	ctx, span := observability.Tracer().Start(context.Background(), "realtime.frame")
	span.SetAttributes(attribute.String("frame.op", in.Op), attribute.String("session.id", s.id))
	defer span.End()

	switch in.Op {
	case OpPing:
		s.Enqueue(EncodePong())

	case OpSend:
		ack, err := g.disp.Send(ctx, s.id, in.ChatID, in.Text, in.Nonce)
		if err != nil {
			g.logFailure(s, err, in)
			s.Enqueue(EncodeError(in.Nonce, err))
			return
		}
		s.Enqueue(EncodeAck(in.Nonce, ack.MessageID, ack.CreatedAt))

	case OpJoin:
		if err := g.access.CheckParticipant(ctx, in.ChatID, s.userID); err != nil {
			g.logFailure(s, err, in)
			s.Enqueue(EncodeError("", err))
			return
		}
		if err := g.reg.Join(s.id, in.ChatID); err != nil {
			s.log.Debug().Err(err).Int64("chat_id", in.ChatID).Msg("join after drop")
		}

	case OpLeave:
		_ = g.reg.Leave(s.id, in.ChatID)

	default:
		s.log.Debug().Str("op", in.Op).Msg("unknown op")
		s.Enqueue(EncodeError(in.Nonce, domain.NewError(domain.CodeBadFrame, fmt.Sprintf("unknown op %q", in.Op))))
	}
}

func (g *Gateway) logFailure(s *Session, err error, in Inbound) {
	code := domain.CodeOf(err)
	ev := s.log.Debug()
	if code == domain.CodeInternal {
		ev = s.log.Error()
	}
	ev.Err(err).Str("op", in.Op).Int64("chat_id", in.ChatID).Str("code", string(code)).Msg("frame failed")
}

// Shutdown closes every session and waits for their loops to finish or ctx
// to end.
func (g *Gateway) Shutdown(ctx context.Context) error {
	for _, ep := range g.reg.Endpoints() {
		ep.Close()
	}
	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.Join(errors.New("websocket sessions still open"), ctx.Err())
	}
}
