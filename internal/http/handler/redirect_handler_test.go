package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/shortloop/shortloop/internal/app/model"
	"github.com/shortloop/shortloop/internal/app/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeLinkService implements service.LinkService with func fields.
type fakeLinkService struct {
	createFn  func(ctx context.Context, input service.CreateLinkInput) (*model.Link, error)
	resolveFn func(ctx context.Context, shortID string, client service.ClientContext) (*service.Resolution, error)
	unlockFn  func(ctx context.Context, shortID, password string, client service.ClientContext) (*service.Resolution, error)
}

func (f *fakeLinkService) Create(ctx context.Context, input service.CreateLinkInput) (*model.Link, error) {
	return f.createFn(ctx, input)
}

func (f *fakeLinkService) Resolve(ctx context.Context, shortID string, client service.ClientContext) (*service.Resolution, error) {
	return f.resolveFn(ctx, shortID, client)
}

func (f *fakeLinkService) Unlock(ctx context.Context, shortID, password string, client service.ClientContext) (*service.Resolution, error) {
	return f.unlockFn(ctx, shortID, password, client)
}

func newApp(links service.LinkService) *fiber.App {
	app := fiber.New()
	NewRedirectHandler(RedirectDeps{Links: links}).Register(app)
	return app
}

func TestResolve_RedirectsActiveLink(t *testing.T) {
	var got service.ClientContext
	app := newApp(&fakeLinkService{
		resolveFn: func(_ context.Context, shortID string, client service.ClientContext) (*service.Resolution, error) {
			assert.Equal(t, "aZ3kQ", shortID)
			got = client
			return &service.Resolution{Target: "http://example.com"}, nil
		},
	})

	req := httptest.NewRequest("GET", "/aZ3kQ", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	req.Header.Set("Referer", "https://ref.example")
	req.Header.Set("User-Agent", "curl/8.4.0")

	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusFound, resp.StatusCode)
	assert.Equal(t, "http://example.com", resp.Header.Get("Location"))

	// The boundary, not the core, parses transport headers.
	assert.Equal(t, "203.0.113.9", got.IP)
	assert.Equal(t, "https://ref.example", got.Referrer)
	assert.Equal(t, "curl/8.4.0", got.UserAgent)
}

func TestResolve_PasswordGate(t *testing.T) {
	app := newApp(&fakeLinkService{
		resolveFn: func(context.Context, string, service.ClientContext) (*service.Resolution, error) {
			return &service.Resolution{RequiresPassword: true}, nil
		},
	})

	resp, err := app.Test(httptest.NewRequest("GET", "/aZ3kQ", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, true, body["requires_password"])
}

func TestResolve_ErrorMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{service.ErrNotFound, fiber.StatusNotFound},
		{service.ErrGone, fiber.StatusGone},
	}
	for _, tc := range cases {
		app := newApp(&fakeLinkService{
			resolveFn: func(context.Context, string, service.ClientContext) (*service.Resolution, error) {
				return nil, tc.err
			},
		})
		resp, err := app.Test(httptest.NewRequest("GET", "/aZ3kQ", nil))
		require.NoError(t, err)
		assert.Equal(t, tc.status, resp.StatusCode, "error %v", tc.err)
	}
}

func TestUnlock(t *testing.T) {
	app := newApp(&fakeLinkService{
		unlockFn: func(_ context.Context, shortID, password string, _ service.ClientContext) (*service.Resolution, error) {
			assert.Equal(t, "aZ3kQ", shortID)
			if password != "hunter2" {
				return nil, service.ErrAuth
			}
			return &service.Resolution{Target: "http://example.com"}, nil
		},
	})

	body, _ := json.Marshal(UnlockRequest{Password: "wrong"})
	req := httptest.NewRequest("POST", "/aZ3kQ/unlock", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)

	body, _ = json.Marshal(UnlockRequest{Password: "hunter2"})
	req = httptest.NewRequest("POST", "/aZ3kQ/unlock", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	var out map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, "http://example.com", out["target"])
}

func TestDecodeCreateRequest_RejectsUnknownFields(t *testing.T) {
	_, err := decodeCreateRequest([]byte(`{"original_url":"https://a.com","surprise":true}`))
	assert.Error(t, err)

	req, err := decodeCreateRequest([]byte(`{"original_url":"https://a.com"}`))
	require.NoError(t, err)
	assert.Equal(t, "https://a.com", req.OriginalURL)
	assert.Nil(t, req.EnableAnalytics)
}
