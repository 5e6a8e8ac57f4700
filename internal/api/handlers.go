package api

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/fathima-sithara/tiffin-realtime/internal/apperr"
	"github.com/fathima-sithara/tiffin-realtime/internal/domain"
	"github.com/fathima-sithara/tiffin-realtime/internal/service"
)

func (s *Server) conversations(c *fiber.Ctx) error {
	out, err := s.deps.Chat.Conversations(c.UserContext(), s.identity(c))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"conversations": out})
}

func (s *Server) unreadMessages(c *fiber.Ctx) error {
	n, err := s.deps.Chat.UnreadTotal(c.UserContext(), s.identity(c))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"unreadCount": n})
}

func (s *Server) history(c *fiber.Ctx) error {
	p, err := s.deps.Chat.History(c.UserContext(), s.identity(c), c.Params("conversationId"), c.QueryInt("page", 1), c.QueryInt("limit", domain.DefaultPageSize))
	if err != nil {
		return err
	}
	return c.JSON(p)
}

// sendMessage goes through the same router as message:send.
func (s *Server) sendMessage(c *fiber.Ctx) error {
	var req service.SendMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest("invalid payload")
	}
	msg, err := s.deps.Chat.Send(c.UserContext(), s.identity(c), nil, req)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(service.MessageSentPayload{Success: true, Message: msg})
}

func (s *Server) markConversationRead(c *fiber.Ctx) error {
	n, err := s.deps.Chat.MarkConversationRead(c.UserContext(), s.identity(c), c.Params("conversationId"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"success": true, "count": n})
}

func (s *Server) deleteMessage(c *fiber.Ctx) error {
	m, err := s.deps.Chat.Delete(c.UserContext(), s.identity(c), c.Params("messageId"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"success": true, "messageId": m.ID, "isDeleted": m.IsDeleted})
}

type reportReq struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

func (s *Server) reportMessage(c *fiber.Ctx) error {
	var req reportReq
	if err := bind(c, &req); err != nil {
		return err
	}
	m, err := s.deps.Chat.Report(c.UserContext(), s.identity(c), c.Params("messageId"), req.Reason)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"success": true, "messageId": m.ID})
}

type uploadReq struct {
	Filename    string `json:"filename" validate:"required,max=200"`
	ContentType string `json:"contentType" validate:"required"`
}

func (s *Server) uploadURL(c *fiber.Ctx) error {
	if s.deps.Uploads == nil {
		return apperr.Unavailable("attachment uploads are not configured", nil)
	}
	var req uploadReq
	if err := bind(c, &req); err != nil {
		return err
	}
	u, err := s.deps.Uploads.PresignUpload(c.UserContext(), s.identity(c).UserID, req.Filename, req.ContentType)
	if err != nil {
		return err
	}
	return c.JSON(u)
}

func (s *Server) listNotifications(c *fiber.Ctx) error {
	unread := strings.EqualFold(c.Query("unread"), "true")
	p, err := s.deps.Notify.List(c.UserContext(), s.identity(c), c.QueryInt("page", 1), c.QueryInt("limit", domain.DefaultPageSize), unread)
	if err != nil {
		return err
	}
	return c.JSON(p)
}

func (s *Server) unreadNotifications(c *fiber.Ctx) error {
	n, err := s.deps.Notify.UnreadCount(c.UserContext(), s.identity(c), nil)
	if err != nil {
		return err
	}
	return c.JSON(service.UnreadCountPayload{Count: n})
}

func (s *Server) readNotification(c *fiber.Ctx) error {
	n, err := s.deps.Notify.MarkRead(c.UserContext(), s.identity(c), nil, c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(service.NotificationPayload{Notification: n})
}

func (s *Server) readAllNotifications(c *fiber.Ctx) error {
	n, err := s.deps.Notify.MarkAllRead(c.UserContext(), s.identity(c), nil)
	if err != nil {
		return err
	}
	return c.JSON(service.AllReadPayload{Success: true, Count: n})
}

// createNotification is the service-to-service path; admin only.
func (s *Server) createNotification(c *fiber.Ctx) error {
	var n domain.Notification
	if err := c.BodyParser(&n); err != nil {
		return badRequest("invalid payload")
	}
	created, err := s.deps.Notify.Send(c.UserContext(), &n)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(service.NotificationPayload{Notification: created})
}

func (s *Server) presence(c *fiber.Ctx) error {
	userID := c.Params("userId")
	body := fiber.Map{"userId": userID}
	if s.deps.Hub != nil {
		body["onlineHere"] = s.deps.Hub.Online(userID)
	}
	if s.deps.Presence == nil {
		return c.JSON(body)
	}
	p, err := s.deps.Presence.GetPresence(c.UserContext(), userID)
	if err != nil {
		return err
	}
	body["status"] = p.Status
	body["lastSeen"] = p.LastSeen
	body["connections"] = p.Connections
	return c.JSON(body)
}
