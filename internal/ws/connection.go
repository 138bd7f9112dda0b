package ws

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/Mustapha-AitAbd/Backend-astomeeting-app/internal/hub"
	"github.com/Mustapha-AitAbd/Backend-astomeeting-app/internal/metrics"
)

type Options struct {
	PingInterval   time.Duration
	PongWait       time.Duration
	WriteDeadline  time.Duration
	MaxMessageSize int64
	SendBuffer     int
	RatePerSecond  float64
	Burst          int
}

type Connection struct {
	ws      *websocket.Conn
	session *Session
	disp    *Dispatcher
	limiter *rate.Limiter
	opts    Options
	log     *zap.Logger
}

func NewConnection(conn *websocket.Conn, authUserID string, disp *Dispatcher, opts Options, log *zap.Logger) *Connection {
	id := uuid.NewString()
	return &Connection{
		ws:      conn,
		session: &Session{Client: hub.NewClient(id, opts.SendBuffer), AuthUserID: authUserID},
		disp:    disp,
		limiter: rate.NewLimiter(rate.Limit(opts.RatePerSecond), opts.Burst),
		opts:    opts,
		log:     log.With(zap.String("conn_id", id)),
	}
}

// Serve blocks until the connection ends. Events are handled one at a time
// in arrival order.
func (c *Connection) Serve() {
	c.disp.Connect(c.session)
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.writePump()
	}()
	c.readPump()
	c.disp.Disconnect(c.session)
	<-done
}

func (c *Connection) readPump() {
	defer func() {
		_ = c.ws.Close()
	}()
	c.ws.SetReadLimit(c.opts.MaxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	c.ws.SetPongHandler(func(string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		c.disp.Heartbeat(ctx, c.session)
		return c.ws.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Debug("websocket read ended", zap.Error(err))
			}
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(c.opts.PongWait))

		if !c.limiter.Allow() {
			metrics.WSEvents.WithLabelValues("", "rate_limited").Inc()
			c.log.Warn("inbound event rate limited")
			continue
		}

		var env hub.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.log.Debug("malformed frame", zap.Error(err))
			continue
		}
		c.disp.Handle(context.Background(), c.session, env)
	}
}

func (c *Connection) writePump() {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()
	send := c.session.Client.Send
	for {
		select {
		case msg, ok := <-send:
			if !ok {
				_ = c.ws.WriteControl(websocket.CloseMessage, []byte{}, time.Now().Add(time.Second))
				return
			}
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.opts.WriteDeadline))
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.opts.WriteDeadline)); err != nil {
				return
			}
		}
	}
}
