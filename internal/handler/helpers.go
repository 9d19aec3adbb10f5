package handler

import (
	"errors"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/elevate-api/internal/apperror"
	"github.com/noah-isme/elevate-api/internal/middleware"
	"github.com/noah-isme/elevate-api/internal/utils"
)

var errInvalidID = errors.New("invalid id")

func splitAndTrim(input string) []string {
	parts := strings.Split(input, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func parseQueryInt(c *fiber.Ctx, key string) (int, error) {
	value := strings.TrimSpace(c.Query(key))
	if value == "" {
		return 0, nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, err
	}
	return parsed, nil
}

func parseQueryUint(c *fiber.Ctx, key string) (uint, error) {
	value := strings.TrimSpace(c.Query(key))
	if value == "" {
		return 0, nil
	}
	parsed, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		return 0, err
	}
	return uint(parsed), nil
}

func parseIDParam(c *fiber.Ctx, key string) (uint, error) {
	parsed, err := strconv.ParseUint(strings.TrimSpace(c.Params(key)), 10, 64)
	if err != nil || parsed == 0 {
		return 0, errInvalidID
	}
	return uint(parsed), nil
}

func requestLogger(base zerolog.Logger, c *fiber.Ctx) *zerolog.Logger {
	logger := base
	if c != nil {
		if correlation := middleware.GetCorrelationID(c); correlation != "" {
			logger = base.With().Str("correlation_id", correlation).Logger()
		}
	}
	return &logger
}

// statusForKind maps service error kinds onto HTTP statuses.
func statusForKind(kind apperror.Kind) int {
	switch kind {
	case apperror.KindNotFound:
		return fiber.StatusNotFound
	case apperror.KindConflict:
		return fiber.StatusConflict
	case apperror.KindValidation:
		return fiber.StatusUnprocessableEntity
	case apperror.KindAuthorization:
		return fiber.StatusForbidden
	case apperror.KindTransient:
		return fiber.StatusServiceUnavailable
	default:
		return fiber.StatusInternalServerError
	}
}

// respondError writes a service error. Internal errors are logged and masked.
func respondError(c *fiber.Ctx, logger zerolog.Logger, err error, message string) error {
	kind := apperror.KindOf(err)
	status := statusForKind(kind)

	if kind == apperror.KindInternal {
		requestLogger(logger, c).Error().Err(err).Str("path", c.Path()).Msg(message)
		return utils.SendError(c, status, message)
	}

	var typed *apperror.Error
	if errors.As(err, &typed) {
		var details interface{}
		if len(typed.Details) > 0 {
			details = typed.Details
		}
		return utils.Fail(c, status, typed.Message, details)
	}
	return utils.SendError(c, status, err.Error())
}
