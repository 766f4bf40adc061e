package middleware

import (
	"fmt"
	"runtime/debug"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// Recovery turns panics into logged 500s. Stack traces go to the log,
// never to the client.
func Recovery(logger *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		defer func() {
			if r := recover(); r != nil {
				fields := []zap.Field{
					zap.Error(fmt.Errorf("panic recovered: %v", r)),
					zap.ByteString("stack", debug.Stack()),
					zap.String("method", c.Method()),
					zap.String("path", c.Path()),
				}
				if rid, ok := c.Locals("request_id").(string); ok {
					fields = append(fields, zap.String("request_id", rid))
				}
				logger.Error("panic recovered", fields...)

				c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
					"error": "internal server error",
				})
			}
		}()

		return c.Next()
	}
}
