package handler

import (
	"context"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/shortloop/shortloop/internal/app/service"
	"go.uber.org/zap"
)

// RedirectDeps groups dependencies required by redirect handlers.
type RedirectDeps struct {
	Logger *zap.Logger
	Links  service.LinkService
}

// RedirectHandler implements the redirect and unlock flows.
type RedirectHandler struct {
	logger *zap.Logger
	links  service.LinkService
}

// NewRedirectHandler creates a redirect handler with the provided dependencies.
func NewRedirectHandler(deps RedirectDeps) *RedirectHandler {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedirectHandler{
		logger: logger,
		links:  deps.Links,
	}
}

// Register wires redirect routes onto the provided router. These are
// catch-all routes and must be registered after the API group.
func (h *RedirectHandler) Register(router fiber.Router) {
	router.Get("/", h.Health)
	router.Get("/health", h.Health)
	router.Get("/:shortId", h.Resolve)
	router.Post("/:shortId/unlock", h.Unlock)
}

// Health is a simple root endpoint so we know the service is running.
func (h *RedirectHandler) Health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"service": "shortloop",
		"status":  "ok",
		"time":    time.Now().UTC().Format(time.RFC3339),
	})
}

// Resolve handles GET /:shortId. Active unprotected links 302 to their
// target; protected links answer with the password gate instead.
func (h *RedirectHandler) Resolve(c *fiber.Ctx) error {
	shortID := c.Params("shortId")
	if shortID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "missing short id",
		})
	}

	res, err := h.links.Resolve(requestContext(c), shortID, clientContext(c))
	if err != nil {
		return h.fail(c, err, shortID)
	}

	if res.RequiresPassword {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"requires_password": true,
			"unlock":            "/" + shortID + "/unlock",
		})
	}

	h.logger.Debug("redirecting short link",
		zap.String("short_id", shortID),
		zap.String("target", res.Target),
	)
	return c.Redirect(res.Target, fiber.StatusFound)
}

// UnlockRequest carries the credential for a protected link.
type UnlockRequest struct {
	Password string `json:"password"`
}

// Unlock handles POST /:shortId/unlock, the second step of the password
// gate. On success the target is returned in the body; the client
// performs the navigation itself.
func (h *RedirectHandler) Unlock(c *fiber.Ctx) error {
	shortID := c.Params("shortId")
	if shortID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "missing short id",
		})
	}

	var req UnlockRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}

	res, err := h.links.Unlock(requestContext(c), shortID, req.Password, clientContext(c))
	if err != nil {
		return h.fail(c, err, shortID)
	}

	return c.JSON(fiber.Map{
		"target": res.Target,
	})
}

func (h *RedirectHandler) fail(c *fiber.Ctx, err error, shortID string) error {
	status, message := classify(err)
	if status == fiber.StatusInternalServerError {
		h.logger.Error("redirect resolution failed",
			zap.Error(err),
			zap.String("short_id", shortID),
		)
	}
	return c.Status(status).JSON(fiber.Map{
		"error": message,
	})
}

// classify maps the service error taxonomy onto HTTP statuses. Anything
// unclassified becomes a generic 500; internal detail stays inside.
func classify(err error) (int, string) {
	switch {
	case service.IsValidation(err):
		return fiber.StatusBadRequest, err.Error()
	case service.IsNotFound(err):
		return fiber.StatusNotFound, "short link not found"
	case service.IsGone(err):
		return fiber.StatusGone, "short link is no longer available"
	case service.IsAuth(err):
		return fiber.StatusUnauthorized, "invalid password"
	default:
		return fiber.StatusInternalServerError, "internal server error"
	}
}

// clientContext extracts what the core is allowed to know about the
// requester: first forwarded-for hop or the direct peer, the referrer,
// the raw user agent and any geo hint an upstream proxy resolved.
func clientContext(c *fiber.Ctx) service.ClientContext {
	ip := c.IP()
	if fwd := c.Get("X-Forwarded-For"); fwd != "" {
		first := strings.TrimSpace(strings.Split(fwd, ",")[0])
		if first != "" {
			ip = first
		}
	}

	return service.ClientContext{
		IP:        ip,
		Referrer:  c.Get("Referer"),
		UserAgent: c.Get("User-Agent"),
		GeoHint: service.Geo{
			Country: c.Get("CF-IPCountry"),
		},
	}
}

func requestContext(c *fiber.Ctx) context.Context {
	if ctx := c.UserContext(); ctx != nil {
		return ctx
	}
	return context.Background()
}
