package api

import (
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/Mustapha-AitAbd/Backend-astomeeting-app/internal/apperrors"
	"github.com/Mustapha-AitAbd/Backend-astomeeting-app/internal/utils"
)

type errorBody struct {
	Error   string                  `json:"error"`
	Details []utils.ValidationError `json:"details,omitempty"`
}

// invalidBody carries field level validation failures to the error handler.
type invalidBody struct {
	details []utils.ValidationError
}

func (e *invalidBody) Error() string { return "validation failed" }

func (e *invalidBody) Unwrap() error { return apperrors.ErrBadRequest }

func statusFor(err error) int {
	var fe *fiber.Error
	switch {
	case errors.As(err, &fe):
		return fe.Code
	case errors.Is(err, apperrors.ErrBadRequest):
		return fiber.StatusBadRequest
	case errors.Is(err, apperrors.ErrNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, apperrors.ErrUnauthorized):
		return fiber.StatusUnauthorized
	case errors.Is(err, apperrors.ErrRateLimited):
		return fiber.StatusTooManyRequests
	case errors.Is(err, apperrors.ErrServiceUnavailable):
		return fiber.StatusServiceUnavailable
	default:
		return fiber.StatusInternalServerError
	}
}

// ErrorHandler renders every error returned by a handler as {"error": ...}.
// Internal failures are logged and hidden from the client.
func ErrorHandler(log *zap.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		code := statusFor(err)
		body := errorBody{Error: err.Error()}

		var ib *invalidBody
		if errors.As(err, &ib) {
			body.Details = ib.details
		}
		if code >= fiber.StatusInternalServerError && code != fiber.StatusServiceUnavailable {
			log.Error("request failed",
				zap.String("method", c.Method()),
				zap.String("path", c.Path()),
				zap.Error(err))
			body.Error = "internal server error"
		}
		return c.Status(code).JSON(body)
	}
}

func parseBody(c *fiber.Ctx, out any) error {
	if err := c.BodyParser(out); err != nil {
		return fmt.Errorf("%w: invalid payload", apperrors.ErrBadRequest)
	}
	if details := utils.ValidateStruct(out); len(details) > 0 {
		return &invalidBody{details: details}
	}
	return nil
}
