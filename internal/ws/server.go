package ws

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/Mustapha-AitAbd/Backend-astomeeting-app/internal/auth"
)

type Server struct {
	disp *Dispatcher
	jv   *auth.JWTValidator // nil disables token checks
	opts Options
	log  *zap.Logger
}

func NewServer(disp *Dispatcher, jv *auth.JWTValidator, opts Options, log *zap.Logger) *Server {
	return &Server{disp: disp, jv: jv, opts: opts, log: log}
}

// Register mounts the websocket endpoint on app at path.
func (s *Server) Register(app fiber.Router, path string) {
	app.Use(path, s.upgrade)
	app.Get(path, websocket.New(s.handle))
}

// upgrade rejects plain HTTP and, when tokens are required, unauthenticated
// upgrades before the handshake.
func (s *Server) upgrade(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}
	if s.jv == nil {
		return c.Next()
	}
	token := c.Query("token")
	if token == "" {
		token, _ = auth.BearerToken(c.Get(fiber.HeaderAuthorization))
	}
	if token == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "missing token"})
	}
	sub, err := s.jv.Validate(token)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": err.Error()})
	}
	c.Locals("user_id", sub)
	return c.Next()
}

func (s *Server) handle(conn *websocket.Conn) {
	uid, _ := conn.Locals("user_id").(string)
	c := NewConnection(conn, uid, s.disp, s.opts, s.log)
	c.Serve()
}
