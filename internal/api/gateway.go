package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/lalith-99/arenachat/internal/apperr"
	"github.com/lalith-99/arenachat/internal/identity"
	"github.com/lalith-99/arenachat/internal/middleware"
	"github.com/lalith-99/arenachat/internal/mux"
	"github.com/lalith-99/arenachat/internal/repository"
	"github.com/lalith-99/arenachat/internal/resolver"
	"github.com/lalith-99/arenachat/internal/session"
	"github.com/lalith-99/arenachat/internal/viewport"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Client operations.
const (
	OpOpen   = "open"
	OpSend   = "send"
	OpDelete = "delete"
	OpScroll = "scroll"
	OpJump   = "jump"
	OpClose  = "close"
)

type GatewayOptions struct {
	// MessagesPerSecond and Burst limit sends per connection.
	MessagesPerSecond float64
	Burst             int

	Mux mux.Options

	// OutboundBuffer is how many frames may wait for a slow client before
	// the connection is dropped.
	OutboundBuffer int
	PingInterval   time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	OpTimeout      time.Duration

	// CheckOrigin is passed to the upgrader; nil keeps gorilla's same-origin
	// check.
	CheckOrigin func(r *http.Request) bool
}

func (o *GatewayOptions) defaults() {
	if o.MessagesPerSecond <= 0 {
		o.MessagesPerSecond = 5
	}
	if o.Burst <= 0 {
		o.Burst = 10
	}
	if o.OutboundBuffer <= 0 {
		o.OutboundBuffer = 256
	}
	if o.PingInterval <= 0 {
		o.PingInterval = 30 * time.Second
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = 60 * time.Second
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
	if o.OpTimeout <= 0 {
		o.OpTimeout = 10 * time.Second
	}
}

// Gateway is the websocket surface. Each connection drives its own
// Multiplexer: the client says which tab is active and the server streams
// the frames that tab renders.
//
// Why one writer goroutine per connection?
//   - gorilla/websocket allows one concurrent writer. Frames come from
//     session loops and viewport timers, replies from the reader; they all
//     go through one buffered channel to the writer.
type Gateway struct {
	roles    repository.RoleRepository
	resolver *resolver.Resolver
	deps     session.Deps
	opts     GatewayOptions
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

func NewGateway(roles repository.RoleRepository, res *resolver.Resolver, deps session.Deps, opts GatewayOptions, logger *zap.Logger) *Gateway {
	opts.defaults()
	return &Gateway{
		roles:    roles,
		resolver: res,
		deps:     deps,
		opts:     opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     opts.CheckOrigin,
		},
		logger: logger,
	}
}

// clientOp is one request from the client. Which fields matter depends on
// Op.
type clientOp struct {
	Op        string `json:"op"`
	RequestID string `json:"request_id,omitempty"`
	channelQuery
	Body      string             `json:"body,omitempty"`
	MessageID string             `json:"message_id,omitempty"`
	Position  *viewport.Position `json:"position,omitempty"`
}

// reply answers one clientOp. Frames (mux.Frame) are pushed separately.
type reply struct {
	Type      string           `json:"type"`
	Op        string           `json:"op"`
	RequestID string           `json:"request_id,omitempty"`
	Channel   *resolveResponse `json:"channel,omitempty"`
	MessageID *uuid.UUID       `json:"message_id,omitempty"`
	ErrorKind apperr.Kind      `json:"error_kind,omitempty"`
	Error     string           `json:"error,omitempty"`
}

// Handle handles GET /v1/ws
func (g *Gateway) Handle(c *gin.Context) {
	caller, ok := middleware.GetCaller(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}

	ws, err := g.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		g.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	conn := &wsConn{
		ws:     ws,
		out:    make(chan any, g.opts.OutboundBuffer),
		done:   make(chan struct{}),
		logger: g.logger.With(zap.String("user_id", caller.UserID.String())),
	}
	conn.serve(g, caller)
}

type wsConn struct {
	ws     *websocket.Conn
	out    chan any
	done   chan struct{}
	once   sync.Once
	logger *zap.Logger
}

func (w *wsConn) serve(g *Gateway, caller identity.Caller) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := identity.NewProvider(caller, g.roles)
	m := mux.New(p, g.resolver, g.deps, mux.SinkFunc(func(f mux.Frame) { w.push(f) }), g.opts.Mux)
	limiter := rate.NewLimiter(rate.Limit(g.opts.MessagesPerSecond), g.opts.Burst)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		w.writeLoop(g.opts)
	}()

	w.logger.Info("websocket connected", zap.Bool("admin_mode", caller.AdminMode))
	w.readLoop(ctx, g, m, limiter)

	// Sessions stop emitting before the writer goes away.
	m.Close()
	w.shutdown()
	<-writerDone
	w.ws.Close()
	w.logger.Info("websocket disconnected")
}

func (w *wsConn) readLoop(ctx context.Context, g *Gateway, m *mux.Multiplexer, limiter *rate.Limiter) {
	w.ws.SetReadDeadline(time.Now().Add(g.opts.ReadTimeout))
	w.ws.SetPongHandler(func(string) error {
		w.ws.SetReadDeadline(time.Now().Add(g.opts.ReadTimeout))
		return nil
	})

	for {
		var op clientOp
		if err := w.ws.ReadJSON(&op); err != nil {
			var (
				syntaxErr *json.SyntaxError
				typeErr   *json.UnmarshalTypeError
			)
			if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
				// Malformed JSON: answer and keep the connection.
				w.push(reply{Type: "error", ErrorKind: apperr.KindValidation, Error: "malformed request"})
				continue
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				w.logger.Info("websocket closed unexpectedly", zap.Error(err))
			}
			return
		}
		w.ws.SetReadDeadline(time.Now().Add(g.opts.ReadTimeout))
		w.push(g.dispatch(ctx, m, limiter, op))
	}
}

func (g *Gateway) dispatch(ctx context.Context, m *mux.Multiplexer, limiter *rate.Limiter, op clientOp) reply {
	r := reply{Type: "ack", Op: op.Op, RequestID: op.RequestID}
	ctx, cancel := context.WithTimeout(ctx, g.opts.OpTimeout)
	defer cancel()

	var err error
	switch op.Op {
	case OpOpen:
		var req resolver.Request
		if req, err = op.request(); err == nil {
			var res *resolver.Resolution
			if res, err = m.Open(ctx, req); err == nil {
				out := resolutionResponse(res, op.Kind)
				r.Channel = &out
			}
		}

	case OpSend:
		if !limiter.Allow() {
			err = apperr.Validation("sending too fast, slow down")
			break
		}
		msg, sendErr := m.Send(ctx, op.Body)
		if err = sendErr; err == nil {
			r.MessageID = &msg.ID
		}

	case OpDelete:
		var id uuid.UUID
		if id, err = uuid.Parse(op.MessageID); err != nil {
			err = apperr.Validation("invalid message_id")
			break
		}
		if err = m.Delete(ctx, id); err == nil {
			r.MessageID = &id
		}

	case OpScroll:
		if op.Position == nil {
			err = apperr.Validation("position is required")
			break
		}
		m.Scroll(*op.Position)

	case OpJump:
		m.JumpToLatest()

	case OpClose:
		m.CloseTab()

	default:
		err = apperr.Validation("unknown op %q", op.Op)
	}

	if err != nil {
		r.Type = "error"
		r.ErrorKind = apperr.KindTransientIO
		r.Error = "request failed"
		if appErr, ok := apperr.As(err); ok {
			r.ErrorKind = appErr.Kind
			r.Error = appErr.Message
		} else {
			g.logger.Error("websocket op failed", zap.String("op", op.Op), zap.Error(err))
		}
	}
	return r
}

// push queues v for the writer. A client that cannot keep up with its
// buffer is disconnected rather than allowed to stall session loops.
func (w *wsConn) push(v any) {
	select {
	case <-w.done:
		return
	default:
	}
	select {
	case w.out <- v:
	case <-w.done:
	default:
		w.logger.Warn("websocket client too slow, disconnecting")
		w.shutdown()
		w.ws.Close()
	}
}

func (w *wsConn) shutdown() {
	w.once.Do(func() { close(w.done) })
}

func (w *wsConn) writeLoop(opts GatewayOptions) {
	ping := time.NewTicker(opts.PingInterval)
	defer ping.Stop()

	write := func(v any) bool {
		w.ws.SetWriteDeadline(time.Now().Add(opts.WriteTimeout))
		if err := w.ws.WriteJSON(v); err != nil {
			w.logger.Debug("websocket write failed", zap.Error(err))
			return false
		}
		return true
	}

	for {
		select {
		case v := <-w.out:
			if !write(v) {
				w.shutdown()
				w.ws.Close()
				return
			}
		case <-ping.C:
			w.ws.SetWriteDeadline(time.Now().Add(opts.WriteTimeout))
			if err := w.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				w.shutdown()
				w.ws.Close()
				return
			}
		case <-w.done:
			// Flush what is already queued, then say goodbye.
			for {
				select {
				case v := <-w.out:
					if !write(v) {
						return
					}
				default:
					w.ws.SetWriteDeadline(time.Now().Add(opts.WriteTimeout))
					w.ws.WriteMessage(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
					return
				}
			}
		}
	}
}
