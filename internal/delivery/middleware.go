package delivery

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"eventhub-realtime/internal/domain"
	"eventhub-realtime/internal/metrics"
)

const userLocalKey = "user"

// requireAuth resolves the bearer token and stores the user in c.Locals.
func requireAuth(auth TokenAuthenticator) fiber.Handler {
	return func(c *fiber.Ctx) error {
		header := c.Get(fiber.HeaderAuthorization)
		if !strings.HasPrefix(header, "Bearer ") {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"success": false,
				"message": "Not authorized, no token",
			})
		}

		user, err := auth.Authenticate(c.UserContext(), strings.TrimSpace(strings.TrimPrefix(header, "Bearer ")))
		if err != nil {
			if !errors.Is(err, domain.ErrAuthentication) {
				return err
			}
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"success": false,
				"message": "Not authorized, token failed",
			})
		}

		c.Locals(userLocalKey, user)
		return c.Next()
	}
}

func currentUser(c *fiber.Ctx) *domain.User {
	user, _ := c.Locals(userLocalKey).(*domain.User)
	return user
}

// requestLogger logs and measures every request.
func requestLogger(logger zerolog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		if err != nil {
			// Let the error handler write the response so the status is final.
			if herr := c.App().ErrorHandler(c, err); herr != nil {
				c.Status(fiber.StatusInternalServerError)
			}
		}

		status := c.Response().StatusCode()
		latency := time.Since(start)
		path := c.Route().Path

		metrics.HTTPRequestsTotal.WithLabelValues(c.Method(), path, strconv.Itoa(status)).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(c.Method(), path).Observe(latency.Seconds())

		logger.Info().
			Str("method", c.Method()).
			Str("path", c.Path()).
			Int("status", status).
			Dur("latency", latency).
			Str("remote_addr", c.IP()).
			Msg("request completed")
		return nil
	}
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	var ferr *fiber.Error
	switch {
	case errors.As(err, &ferr):
		return ferr.Code
	case errors.Is(err, domain.ErrAuthentication):
		return fiber.StatusUnauthorized
	case errors.Is(err, domain.ErrForbidden):
		return fiber.StatusForbidden
	case errors.Is(err, domain.ErrNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, domain.ErrInvalidInput):
		return fiber.StatusBadRequest
	case errors.Is(err, domain.ErrNoAgentsAvailable):
		return fiber.StatusServiceUnavailable
	default:
		return fiber.StatusInternalServerError
	}
}

// clientMessage is the reason shown to clients. Internal failures are not
// described.
func clientMessage(err error) string {
	var ferr *fiber.Error
	switch {
	case errors.As(err, &ferr):
		return ferr.Message
	case errors.Is(err, domain.ErrInvalidInput):
		return err.Error()
	case errors.Is(err, domain.ErrNotFound):
		return err.Error()
	case errors.Is(err, domain.ErrForbidden):
		return reasonNotAuthorized
	case errors.Is(err, domain.ErrAuthentication):
		return reasonInvalidToken
	case errors.Is(err, domain.ErrNoAgentsAvailable):
		return "No support agents available, please try again later"
	case errors.Is(err, domain.ErrPersistence):
		return "Message could not be saved"
	default:
		return "Internal server error"
	}
}

// errorHandler is the fiber.Config ErrorHandler.
func errorHandler(logger zerolog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		status := statusFor(err)
		if status >= fiber.StatusInternalServerError {
			logger.Error().Err(err).Str("path", c.Path()).Msg("Request failed")
		}
		return c.Status(status).JSON(fiber.Map{
			"success": false,
			"message": clientMessage(err),
		})
	}
}
