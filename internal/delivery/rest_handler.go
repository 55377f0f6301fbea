package delivery

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"

	"eventhub-realtime/internal/domain"
	"eventhub-realtime/internal/store"
)

func (s *Server) registerRoutes(app *fiber.App) {
	api := app.Group("/api", requireAuth(s.auth))

	messages := api.Group("/messages")
	messages.Get("/conversations", s.handleGetConversations)
	messages.Get("/conversation/:otherUserId", s.handleGetConversation)
	messages.Post("/send", s.handleSendMessage)
	messages.Put("/mark-read", s.handleMarkMessagesRead)
	messages.Get("/unread-count", s.handleUnreadMessages)
	messages.Post("/support/start", s.handleStartSupport)
	messages.Delete("/:messageId", s.handleDeleteMessage)

	notifications := api.Group("/notifications")
	notifications.Get("/", s.handleListNotifications)
	notifications.Put("/mark-read", s.handleMarkNotificationsRead)
	notifications.Put("/mark-all-read", s.handleMarkAllNotificationsRead)
	notifications.Get("/unread-count", s.handleUnreadNotifications)
	notifications.Delete("/:notificationId", s.handleDeleteNotification)
}

func ok(c *fiber.Ctx, data interface{}) error {
	return c.JSON(fiber.Map{"success": true, "data": data})
}

func (s *Server) handleGetConversations(c *fiber.Ctx) error {
	conversations, err := s.messaging.Conversations(c.UserContext(), currentUser(c))
	if err != nil {
		return err
	}
	return ok(c, conversations)
}

func (s *Server) handleGetConversation(c *fiber.Ctx) error {
	page, err := s.messaging.Conversation(
		c.UserContext(),
		currentUser(c),
		c.Params("otherUserId"),
		c.QueryInt("page", 1),
		c.QueryInt("limit", store.DefaultPageSize),
	)
	if err != nil {
		return err
	}
	return ok(c, page)
}

// handleSendMessage is the HTTP fallback for send-message. The sender's own
// sockets are not echoed; the response carries the stored message.
func (s *Server) handleSendMessage(c *fiber.Ctx) error {
	var req domain.SendMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
	}

	msg, err := s.messaging.Send(c.UserContext(), currentUser(c), req)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"success": true, "data": msg})
}

func (s *Server) handleMarkMessagesRead(c *fiber.Ctx) error {
	var req domain.MarkReadRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
	}

	n, err := s.messaging.MarkRead(c.UserContext(), currentUser(c), req.MessageIDs)
	if err != nil {
		return err
	}
	return ok(c, fiber.Map{"updated": n})
}

func (s *Server) handleUnreadMessages(c *fiber.Ctx) error {
	n, err := s.messaging.UnreadCount(c.UserContext(), currentUser(c))
	if err != nil {
		return err
	}
	return ok(c, domain.CountPayload{Count: n})
}

func (s *Server) handleStartSupport(c *fiber.Ctx) error {
	session, err := s.messaging.StartSupport(c.UserContext(), currentUser(c))
	if err != nil {
		return err
	}
	status := fiber.StatusCreated
	if session.Resumed {
		status = fiber.StatusOK
	}
	return c.Status(status).JSON(fiber.Map{"success": true, "data": session})
}

func (s *Server) handleDeleteMessage(c *fiber.Ctx) error {
	if err := s.messaging.Delete(c.UserContext(), currentUser(c), c.Params("messageId")); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"success": true, "message": "Message deleted"})
}

func (s *Server) handleListNotifications(c *fiber.Ctx) error {
	page, err := s.notify.List(
		c.UserContext(),
		currentUser(c).ID,
		c.QueryInt("page", 1),
		c.QueryInt("limit", 20),
		c.QueryBool("unreadOnly", false),
	)
	if err != nil {
		return err
	}
	return ok(c, page)
}

func (s *Server) handleMarkNotificationsRead(c *fiber.Ctx) error {
	var req domain.MarkNotificationsReadRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
	}

	n, err := s.notify.MarkRead(c.UserContext(), currentUser(c).ID, req.NotificationIDs)
	if err != nil {
		return err
	}
	return ok(c, fiber.Map{"updated": n})
}

func (s *Server) handleMarkAllNotificationsRead(c *fiber.Ctx) error {
	n, err := s.notify.MarkAllRead(c.UserContext(), currentUser(c).ID)
	if err != nil {
		return err
	}
	return ok(c, fiber.Map{"updated": n})
}

func (s *Server) handleUnreadNotifications(c *fiber.Ctx) error {
	n, err := s.notify.UnreadCount(c.UserContext(), currentUser(c).ID)
	if err != nil {
		return err
	}
	return ok(c, domain.CountPayload{Count: n})
}

func (s *Server) handleDeleteNotification(c *fiber.Ctx) error {
	if err := s.notify.Delete(c.UserContext(), currentUser(c).ID, c.Params("notificationId")); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"success": true, "message": "Notification deleted"})
}

// Check is the result of one dependency check of the health endpoint.
type Check struct {
	Status  string `json:"status"`
	Latency string `json:"latency,omitempty"`
	Message string `json:"message,omitempty"`
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 3*time.Second)
	defer cancel()

	results := make(map[string]Check)
	healthy := true

	for name, check := range s.checks {
		start := time.Now()
		if err := check(ctx); err != nil {
			results[name] = Check{Status: "fail", Message: "connection failed"}
			healthy = false
			continue
		}
		results[name] = Check{Status: "pass", Latency: time.Since(start).String()}
	}

	status, code := "healthy", fiber.StatusOK
	if !healthy {
		status, code = "degraded", fiber.StatusServiceUnavailable
	}

	return c.Status(code).JSON(fiber.Map{
		"status":      status,
		"environment": s.config.Environment,
		"connections": s.hub.ConnectionCount(),
		"checks":      results,
		"timestamp":   time.Now().UTC().Format(time.RFC3339),
	})
}
