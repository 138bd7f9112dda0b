package api

import (
	"fmt"

	"github.com/gofiber/fiber/v2"

	"github.com/Mustapha-AitAbd/Backend-astomeeting-app/internal/apperrors"
	"github.com/Mustapha-AitAbd/Backend-astomeeting-app/internal/domain"
	"github.com/Mustapha-AitAbd/Backend-astomeeting-app/internal/metrics"
)

type createConversationReq struct {
	SenderID   string `json:"senderId" validate:"required"`
	ReceiverID string `json:"receiverId" validate:"required,nefield=SenderID"`
}

type sendMessageReq struct {
	ConversationID string `json:"conversationId" validate:"required"`
	SenderID       string `json:"senderId" validate:"required"`
	ReceiverID     string `json:"receiverId" validate:"required,nefield=SenderID"`
	Text           string `json:"text" validate:"required_without=Media,max=4096"`
	Media          string `json:"media" validate:"max=2048"`
}

type updateStatusReq struct {
	MessageID string `json:"messageId" validate:"required"`
	Status    string `json:"status" validate:"required"`
}

type uploadURLReq struct {
	FileName    string `json:"fileName" validate:"required,max=255"`
	ContentType string `json:"contentType" validate:"required"`
}

type presenceResp struct {
	UserID   string `json:"userId"`
	IsOnline bool   `json:"isOnline"`
}

// actingAs rejects bodies that name a user other than the authenticated one.
// Unauthenticated deployments accept any id.
func actingAs(c *fiber.Ctx, userID string) error {
	sub, _ := c.Locals("user_id").(string)
	if sub != "" && sub != userID {
		return fmt.Errorf("%w: token subject does not match %q", apperrors.ErrUnauthorized, userID)
	}
	return nil
}

func (s *Server) createConversation(c *fiber.Ctx) error {
	var req createConversationReq
	if err := parseBody(c, &req); err != nil {
		return err
	}
	if err := actingAs(c, req.SenderID); err != nil {
		return err
	}
	ctx, cancel := s.ctx(c)
	defer cancel()

	conv, err := s.svc.CreateConversation(ctx, req.SenderID, req.ReceiverID)
	if err != nil {
		return err
	}
	return c.JSON(conv)
}

func (s *Server) listConversations(c *fiber.Ctx) error {
	ctx, cancel := s.ctx(c)
	defer cancel()

	convs, err := s.svc.ListConversations(ctx, c.Params("userId"))
	if err != nil {
		return err
	}
	return c.JSON(convs)
}

func (s *Server) sendMessage(c *fiber.Ctx) error {
	var req sendMessageReq
	if err := parseBody(c, &req); err != nil {
		return err
	}
	if err := actingAs(c, req.SenderID); err != nil {
		return err
	}
	ctx, cancel := s.ctx(c)
	defer cancel()

	msg, err := s.svc.SendMessage(ctx, domain.NewMessage{
		ConversationID: req.ConversationID,
		SenderID:       req.SenderID,
		ReceiverID:     req.ReceiverID,
		Text:           req.Text,
		Media:          req.Media,
	})
	if err != nil {
		return err
	}
	metrics.MessagesSent.WithLabelValues("rest").Inc()
	return c.JSON(msg)
}

func (s *Server) listMessages(c *fiber.Ctx) error {
	ctx, cancel := s.ctx(c)
	defer cancel()

	msgs, err := s.svc.ListMessages(ctx, c.Params("conversationId"))
	if err != nil {
		return err
	}
	return c.JSON(msgs)
}

func (s *Server) updateStatus(c *fiber.Ctx) error {
	var req updateStatusReq
	if err := parseBody(c, &req); err != nil {
		return err
	}
	ctx, cancel := s.ctx(c)
	defer cancel()

	sub, _ := c.Locals("user_id").(string)
	msg, err := s.svc.UpdateStatus(ctx, req.MessageID, req.Status, sub)
	if err != nil {
		return err
	}
	return c.JSON(msg)
}

func (s *Server) presence(c *fiber.Ctx) error {
	userID := c.Params("userId")
	ctx, cancel := s.ctx(c)
	defer cancel()
	return c.JSON(presenceResp{UserID: userID, IsOnline: s.svc.IsOnline(ctx, userID)})
}

func (s *Server) mediaUploadURL(c *fiber.Ctx) error {
	if s.media == nil {
		return fmt.Errorf("%w: media uploads are not configured", apperrors.ErrServiceUnavailable)
	}
	var req uploadURLReq
	if err := parseBody(c, &req); err != nil {
		return err
	}
	ctx, cancel := s.ctx(c)
	defer cancel()

	upload, file, err := s.media.PresignUpload(ctx, req.FileName, req.ContentType)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"uploadUrl": upload, "fileUrl": file})
}
