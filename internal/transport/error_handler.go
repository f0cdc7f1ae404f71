package transport

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"
	"github.com/kursadbilgin/campaign-engine/internal/domain"
	"go.uber.org/zap"
)

var statusByCode = map[string]int{
	domain.ErrValidation.Code:          fiber.StatusBadRequest,
	domain.ErrNoRecipientSource.Code:   fiber.StatusBadRequest,
	domain.ErrNoValidRecipient.Code:    fiber.StatusBadRequest,
	domain.ErrForbidden.Code:           fiber.StatusForbidden,
	domain.ErrInvalidSignature.Code:    fiber.StatusForbidden,
	domain.ErrNotFound.Code:            fiber.StatusNotFound,
	domain.ErrConflict.Code:            fiber.StatusConflict,
	domain.ErrLinkNotFound.Code:        fiber.StatusInternalServerError,
	domain.ErrEmptyDestination.Code:    fiber.StatusInternalServerError,
	domain.ErrProviderSendFailure.Code: fiber.StatusBadGateway,
}

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// StatusOf maps an error to its HTTP status and machine code.
func StatusOf(err error) (int, string) {
	if code := domain.CodeOf(err); code != "" {
		if status, ok := statusByCode[code]; ok {
			return status, code
		}
		return fiber.StatusInternalServerError, code
	}

	var fe *fiber.Error
	if errors.As(err, &fe) {
		return fe.Code, codeFromStatus(fe.Code)
	}
	return fiber.StatusInternalServerError, "INTERNAL_ERROR"
}

func ErrorHandler(logger *zap.Logger) fiber.ErrorHandler {
	if logger == nil {
		logger = zap.NewNop()
	}

	return func(c *fiber.Ctx, err error) error {
		status, code := StatusOf(err)

		fields := []zap.Field{
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Int("status", status),
			zap.String("code", code),
			zap.Error(err),
		}
		message := err.Error()
		if status >= fiber.StatusInternalServerError {
			logger.Error("request error", fields...)
			if domain.CodeOf(err) == "" {
				message = utils.StatusMessage(status)
			}
		} else {
			logger.Warn("request rejected", fields...)
		}

		return c.Status(status).JSON(ErrorBody{Error: ErrorDetail{Code: code, Message: message}})
	}
}

func codeFromStatus(status int) string {
	return strings.ToUpper(strings.ReplaceAll(utils.StatusMessage(status), " ", "_"))
}
