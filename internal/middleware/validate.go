package middleware

import (
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/bilgisen/chanpost/internal/logger"
)

// QueryKey is the Locals key holding the validated query struct.
const QueryKey = "queryParams"

var validate = validator.New()

// ValidateQuery parses the query string into a fresh T per request, seeded by
// defaults when given, validates it and stores it under QueryKey.
func ValidateQuery[T any](defaults func() T) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var q T
		if defaults != nil {
			q = defaults()
		}

		if err := c.QueryParser(&q); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid query parameters",
				"msg":   err.Error(),
			})
		}

		if err := validate.Struct(&q); err != nil {
			var verrs validator.ValidationErrors
			if !errors.As(err, &verrs) {
				return err
			}
			fields := make(map[string]string, len(verrs))
			for _, fe := range verrs {
				fields[fe.Field()] = fe.Tag()
			}

			return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
				"error":  "Invalid query parameters",
				"fields": fields,
			})
		}

		c.Locals(QueryKey, q)
		return c.Next()
	}
}

// Query returns the struct stored by ValidateQuery.
func Query[T any](c *fiber.Ctx) T {
	q, _ := c.Locals(QueryKey).(T)
	return q
}

// ErrorHandler is the fiber error handler; it logs and answers with JSON.
func ErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError

	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
	}

	logger.Get().Error().
		Err(err).
		Str("method", c.Method()).
		Str("path", c.Path()).
		Int("status", code).
		Msg("HTTP error")

	return c.Status(code).JSON(fiber.Map{
		"error": http.StatusText(code),
	})
}
