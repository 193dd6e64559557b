package validation

import (
	"regexp"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

var idPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

type Config struct {
	MaxIDLength int
	// IDParams are the route parameters and query keys holding record ids.
	IDParams            []string
	AllowedContentTypes []string
	Logger              *zap.Logger
}

// Middleware rejects requests whose id parameters could not be record ids
// and write requests with an unexpected body type.
func Middleware(cfg Config) fiber.Handler {
	if cfg.MaxIDLength == 0 {
		cfg.MaxIDLength = 128
	}
	if len(cfg.IDParams) == 0 {
		cfg.IDParams = []string{"id", "session1", "session2"}
	}
	if len(cfg.AllowedContentTypes) == 0 {
		cfg.AllowedContentTypes = []string{fiber.MIMEApplicationJSON}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return func(c *fiber.Ctx) error {
		if c.Method() == fiber.MethodPost || c.Method() == fiber.MethodPut {
			if ct := c.Get(fiber.HeaderContentType); ct != "" && !allowedContentType(ct, cfg.AllowedContentTypes) {
				return c.Status(fiber.StatusUnsupportedMediaType).JSON(fiber.Map{
					"error": "Unsupported content type",
				})
			}
		}

		for _, name := range cfg.IDParams {
			value := c.Params(name)
			if value == "" {
				value = c.Query(name)
			}
			if value == "" {
				continue
			}
			if !IsValidID(value, cfg.MaxIDLength) {
				cfg.Logger.Warn("Rejected malformed id",
					zap.String("param", name),
					zap.String("ip", c.IP()),
					zap.String("path", c.Path()),
				)
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "Invalid " + name,
				})
			}
		}

		return c.Next()
	}
}

func IsValidID(id string, maxLength int) bool {
	return len(id) <= maxLength && idPattern.MatchString(id)
}

func allowedContentType(contentType string, allowed []string) bool {
	for _, a := range allowed {
		if strings.HasPrefix(strings.ToLower(contentType), a) {
			return true
		}
	}
	return false
}
