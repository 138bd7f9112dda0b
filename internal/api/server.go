package api

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"

	"github.com/Mustapha-AitAbd/Backend-astomeeting-app/internal/auth"
	"github.com/Mustapha-AitAbd/Backend-astomeeting-app/internal/domain"
	"github.com/Mustapha-AitAbd/Backend-astomeeting-app/internal/metrics"
)

type ChatService interface {
	CreateConversation(ctx context.Context, userA, userB string) (*domain.Conversation, error)
	ListConversations(ctx context.Context, userID string) ([]domain.ConversationView, error)
	ListMessages(ctx context.Context, conversationID string) ([]*domain.Message, error)
	SendMessage(ctx context.Context, in domain.NewMessage) (*domain.Message, error)
	UpdateStatus(ctx context.Context, messageID, status, actor string) (*domain.Message, error)
	IsOnline(ctx context.Context, userID string) bool
}

// Presigner hands out direct upload URLs for message media.
type Presigner interface {
	PresignUpload(ctx context.Context, fileName, contentType string) (uploadURL, fileURL string, err error)
}

type Options struct {
	JWT            *auth.JWTValidator // nil leaves the API open
	Presigner      Presigner          // nil disables media uploads
	Limiter        *IPRateLimiter     // nil disables rate limiting
	RequestTimeout time.Duration
}

type Server struct {
	svc     ChatService
	media   Presigner
	timeout time.Duration
	log     *zap.Logger
}

// NewServer builds the fiber app with the chat routes under /api/chat plus
// /health and /metrics.
func NewServer(svc ChatService, opts Options, log *zap.Logger) *fiber.App {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 5 * time.Second
	}
	app := fiber.New(fiber.Config{
		ErrorHandler:          ErrorHandler(log),
		DisableStartupMessage: true,
	})
	s := &Server{svc: svc, media: opts.Presigner, timeout: opts.RequestTimeout, log: log}

	app.Use(RequestLogger(log))
	app.Use(recover.New())

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	app.Get("/metrics", metrics.Handler())

	chat := app.Group("/api/chat")
	if opts.Limiter != nil {
		chat.Use(opts.Limiter.Handler())
	}
	if opts.JWT != nil {
		chat.Use(JWTAuth(opts.JWT))
	}

	chat.Post("/conversation", s.createConversation)
	chat.Get("/conversation/:userId", s.listConversations)
	chat.Post("/message", s.sendMessage)
	chat.Get("/message/:conversationId", s.listMessages)
	chat.Put("/message/status", s.updateStatus)
	chat.Get("/presence/:userId", s.presence)
	chat.Post("/media/upload-url", s.mediaUploadURL)

	return app
}

func (s *Server) ctx(c *fiber.Ctx) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.UserContext(), s.timeout)
}
