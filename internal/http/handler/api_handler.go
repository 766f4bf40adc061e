package handler

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/shortloop/shortloop/internal/app/model"
	"github.com/shortloop/shortloop/internal/app/service"
	"go.uber.org/zap"
)

// APIDeps groups dependencies required by the management API handlers.
type APIDeps struct {
	Logger    *zap.Logger
	Links     service.LinkService
	Analytics service.AnalyticsService
	BaseURL   string
}

// APIHandler implements the creation and analytics endpoints.
type APIHandler struct {
	logger    *zap.Logger
	links     service.LinkService
	analytics service.AnalyticsService
	baseURL   string
}

// NewAPIHandler creates an API handler with the provided dependencies.
func NewAPIHandler(deps APIDeps) *APIHandler {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &APIHandler{
		logger:    logger,
		links:     deps.Links,
		analytics: deps.Analytics,
		baseURL:   strings.TrimRight(deps.BaseURL, "/"),
	}
}

// Register wires API routes onto the provided router.
func (h *APIHandler) Register(router fiber.Router) {
	api := router.Group("/api")
	{
		api.Post("/shorten", h.CreateLink)
		api.Get("/analytics", h.QueryAnalytics)
		api.Get("/links/:shortId/analytics", h.LinkAnalytics)
	}
}

// CreateLinkRequest is the creation body. Analytics defaults to enabled
// when the field is omitted; expiry is RFC 3339.
type CreateLinkRequest struct {
	OriginalURL     string `json:"original_url"`
	EnableAnalytics *bool  `json:"enable_analytics"`
	ExpiresAt       string `json:"expires_at"`
	Password        string `json:"password"`
}

// CreateLinkResponse echoes the created (or deduplicated) record. The
// password hash never appears here.
type CreateLinkResponse struct {
	ShortID           string     `json:"short_id"`
	ShortURL          string     `json:"short_url"`
	OriginalURL       string     `json:"original_url"`
	AnalyticsEnabled  bool       `json:"analytics_enabled"`
	PasswordProtected bool       `json:"password_protected"`
	ExpiresAt         *time.Time `json:"expires_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
}

// CreateLink handles POST /api/shorten.
func (h *APIHandler) CreateLink(c *fiber.Ctx) error {
	req, err := decodeCreateRequest(c.Body())
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	input := service.CreateLinkInput{
		OriginalURL:     req.OriginalURL,
		EnableAnalytics: true,
		Password:        req.Password,
	}
	if req.EnableAnalytics != nil {
		input.EnableAnalytics = *req.EnableAnalytics
	}
	if req.ExpiresAt != "" {
		expires, err := time.Parse(time.RFC3339, req.ExpiresAt)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "expires_at must be an RFC 3339 timestamp",
			})
		}
		input.ExpiresAt = &expires
	}

	link, err := h.links.Create(requestContext(c), input)
	if err != nil {
		status, message := classify(err)
		if status == fiber.StatusInternalServerError {
			h.logger.Error("failed to create link", zap.Error(err))
		}
		return c.Status(status).JSON(fiber.Map{
			"error": message,
		})
	}

	return c.Status(fiber.StatusCreated).JSON(h.linkResponse(link))
}

// QueryAnalytics handles GET /api/analytics?url=. The query accepts a
// bare identifier, a short URL or the original URL.
func (h *APIHandler) QueryAnalytics(c *fiber.Ctx) error {
	query := c.Query("url")
	if query == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "url query parameter is required",
		})
	}
	return h.respondAnalytics(c, query)
}

// LinkAnalytics handles GET /api/links/:shortId/analytics.
func (h *APIHandler) LinkAnalytics(c *fiber.Ctx) error {
	shortID := c.Params("shortId")
	if shortID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "short id is required",
		})
	}
	return h.respondAnalytics(c, shortID)
}

func (h *APIHandler) respondAnalytics(c *fiber.Ctx, query string) error {
	report, err := h.analytics.Query(requestContext(c), query)
	if err != nil {
		status, message := classify(err)
		if status == fiber.StatusInternalServerError {
			h.logger.Error("analytics query failed", zap.Error(err))
		}
		return c.Status(status).JSON(fiber.Map{
			"error": message,
		})
	}
	return c.JSON(report)
}

func (h *APIHandler) linkResponse(link *model.Link) CreateLinkResponse {
	return CreateLinkResponse{
		ShortID:           link.ShortID,
		ShortURL:          h.baseURL + "/" + link.ShortID,
		OriginalURL:       link.OriginalURL,
		AnalyticsEnabled:  link.AnalyticsEnabled,
		PasswordProtected: link.PasswordProtected,
		ExpiresAt:         link.ExpiresAt,
		CreatedAt:         link.CreatedAt,
	}
}

// decodeCreateRequest parses the creation body strictly: unknown fields
// are rejected at the boundary rather than silently dropped.
func decodeCreateRequest(body []byte) (*CreateLinkRequest, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()

	var req CreateLinkRequest
	if err := dec.Decode(&req); err != nil {
		return nil, fmt.Errorf("invalid request body")
	}
	if dec.More() {
		return nil, fmt.Errorf("invalid request body")
	}
	return &req, nil
}
