package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shortloop/shortloop/internal/app/metrics"
	"github.com/shortloop/shortloop/internal/app/model"
	"github.com/shortloop/shortloop/internal/app/repository"
	"github.com/shortloop/shortloop/internal/app/shortid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// urlPattern is the accepted URL shape after scheme normalization:
// a scheme plus a body free of spaces and quotes.
var urlPattern = regexp.MustCompile(`^(ftp|http|https)://[^ "]+$`)

// ClientContext is what the HTTP boundary knows about the requester. The
// core never parses transport headers itself; the boundary extracts the
// client address (first forwarded-for hop or the direct peer), the
// referrer and the raw user agent, plus any geo hint an upstream proxy
// already resolved.
type ClientContext struct {
	IP        string
	Referrer  string
	UserAgent string
	GeoHint   Geo
}

// CreateLinkInput captures a creation request after boundary decoding.
type CreateLinkInput struct {
	OriginalURL     string
	EnableAnalytics bool
	ExpiresAt       *time.Time
	Password        string
}

// Resolution is the outcome of a successful Resolve or Unlock. When
// RequiresPassword is set the target is withheld and no click has been
// recorded; the caller must follow up with Unlock.
type Resolution struct {
	Target           string
	RequiresPassword bool
}

// LinkService owns the short-link lifecycle: creation with dedup and the
// redirect state machine with analytics recording.
type LinkService interface {
	Create(ctx context.Context, input CreateLinkInput) (*model.Link, error)
	Resolve(ctx context.Context, shortID string, client ClientContext) (*Resolution, error)
	Unlock(ctx context.Context, shortID, password string, client ClientContext) (*Resolution, error)
}

type linkService struct {
	logger   *zap.Logger
	repo     repository.LinkRepository
	ids      shortid.Generator
	enricher Enricher
	clicks   *ClickPublisher
	onCreate func()
}

// LinkServiceDeps bundles what the service needs. Enricher and Clicks may
// be nil; OnCreate, when set, runs after each new record is persisted
// (used to re-arm the expiry reaper).
type LinkServiceDeps struct {
	Logger   *zap.Logger
	Repo     repository.LinkRepository
	IDs      shortid.Generator
	Enricher Enricher
	Clicks   *ClickPublisher
	OnCreate func()
}

// NewLinkService returns a LinkService backed by the given repository.
func NewLinkService(deps LinkServiceDeps) LinkService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	enricher := deps.Enricher
	if enricher == nil {
		enricher = NewNoopEnricher()
	}
	ids := deps.IDs
	if ids == nil {
		ids = shortid.NewGenerator()
	}
	return &linkService{
		logger:   logger,
		repo:     deps.Repo,
		ids:      ids,
		enricher: enricher,
		clicks:   deps.Clicks,
		onCreate: deps.OnCreate,
	}
}

func (s *linkService) Create(ctx context.Context, input CreateLinkInput) (*model.Link, error) {
	originalURL, err := normalizeURL(input.OriginalURL)
	if err != nil {
		return nil, err
	}

	protected := input.Password != ""

	// Dedup: creation is idempotent per (url, analytics, expiry,
	// password-presence) tuple, not globally per URL.
	existing, err := s.repo.GetByURLAndOptions(ctx, originalURL, input.EnableAnalytics, input.ExpiresAt, protected)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, repository.ErrLinkNotFound) {
		return nil, fmt.Errorf("dedup lookup: %w", err)
	}

	var hash *string
	if protected {
		h, err := bcrypt.GenerateFromPassword([]byte(input.Password), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("hash password: %w", err)
		}
		hs := string(h)
		hash = &hs
	}

	link := &model.Link{
		ShortID:           s.ids.Generate(),
		OriginalURL:       originalURL,
		ExpiresAt:         input.ExpiresAt,
		IsActive:          true,
		AnalyticsEnabled:  input.EnableAnalytics,
		ClickCount:        0,
		PasswordProtected: protected,
		PasswordHash:      hash,
	}

	err = s.repo.Create(ctx, link)
	if errors.Is(err, repository.ErrShortIDTaken) {
		// One regeneration retry; a second collision on a 64^5 space
		// means something is badly wrong.
		link.ShortID = s.ids.Generate()
		err = s.repo.Create(ctx, link)
		if errors.Is(err, repository.ErrShortIDTaken) {
			return nil, ErrConflict
		}
	}
	if err != nil {
		return nil, fmt.Errorf("create link: %w", err)
	}

	metrics.LinksCreated.Inc()
	if s.onCreate != nil {
		s.onCreate()
	}
	s.logger.Debug("short link created",
		zap.String("short_id", link.ShortID),
		zap.Bool("analytics", link.AnalyticsEnabled),
		zap.Bool("protected", link.PasswordProtected),
	)
	return link, nil
}

func (s *linkService) Resolve(ctx context.Context, shortID string, client ClientContext) (*Resolution, error) {
	link, err := s.loadUsable(ctx, shortID)
	if err != nil {
		return nil, err
	}

	if link.PasswordProtected {
		// Two-step protocol: no analytics until the credential clears.
		metrics.Redirects.WithLabelValues("password_required").Inc()
		return &Resolution{RequiresPassword: true}, nil
	}

	s.recordClick(ctx, link, client)
	metrics.Redirects.WithLabelValues("ok").Inc()
	return &Resolution{Target: link.OriginalURL}, nil
}

func (s *linkService) Unlock(ctx context.Context, shortID, password string, client ClientContext) (*Resolution, error) {
	link, err := s.loadUsable(ctx, shortID)
	if err != nil {
		return nil, err
	}

	// A missing hash and a wrong password report identically: the caller
	// learns nothing beyond "invalid password". bcrypt's comparison is
	// constant-time-equivalent against a non-matching guess.
	if link.PasswordHash == nil {
		metrics.Redirects.WithLabelValues("auth_failed").Inc()
		return nil, ErrAuth
	}
	if err := bcrypt.CompareHashAndPassword([]byte(*link.PasswordHash), []byte(password)); err != nil {
		metrics.Redirects.WithLabelValues("auth_failed").Inc()
		return nil, ErrAuth
	}

	s.recordClick(ctx, link, client)
	metrics.Redirects.WithLabelValues("ok").Inc()
	return &Resolution{Target: link.OriginalURL}, nil
}

// loadUsable fetches the record and runs the state checks that must
// precede any password handling or analytics write: a disabled or
// expired link never reveals whether it is protected and never records
// a click. The expiry check here is defense in depth; the store's reaper
// may not have fired yet at the instant of the lookup.
func (s *linkService) loadUsable(ctx context.Context, shortID string) (*model.Link, error) {
	link, err := s.repo.GetByShortID(ctx, shortID)
	if err != nil {
		if errors.Is(err, repository.ErrLinkNotFound) {
			metrics.Redirects.WithLabelValues("not_found").Inc()
			return nil, ErrNotFound
		}
		metrics.Redirects.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("load link: %w", err)
	}

	if !link.IsActive {
		metrics.Redirects.WithLabelValues("gone").Inc()
		return nil, ErrGone
	}
	if link.IsExpired(time.Now()) {
		metrics.Redirects.WithLabelValues("gone").Inc()
		return nil, ErrGone
	}
	return link, nil
}

// recordClick applies the analytics side of a successful redirect. The
// counter always moves; the event is only built when the link has
// analytics enabled. Both land in one repository transaction so the
// count and the event list never drift apart. A failed write is logged
// and the redirect proceeds.
func (s *linkService) recordClick(ctx context.Context, link *model.Link, client ClientContext) {
	var event *model.ClickEvent
	if link.AnalyticsEnabled {
		geo := client.GeoHint
		if geo.Country == "" && geo.City == "" {
			looked, err := s.enricher.Lookup(ctx, client.IP)
			if err == nil {
				geo = looked
			}
		}
		event = &model.ClickEvent{
			ID:          uuid.NewString(),
			LinkShortID: link.ShortID,
			Time:        time.Now().UTC(),
			IP:          client.IP,
			Referrer:    client.Referrer,
			UserAgent:   NormalizeUserAgent(client.UserAgent),
			Country:     geo.Country,
			City:        geo.City,
		}
	}

	if err := s.repo.RecordClick(ctx, link.ShortID, event); err != nil {
		s.logger.Error("failed to record click",
			zap.Error(err),
			zap.String("short_id", link.ShortID),
		)
		return
	}
	metrics.ClicksRecorded.Inc()

	if s.clicks != nil && event != nil {
		if err := s.clicks.Publish(event); err != nil {
			s.logger.Warn("failed to publish click event",
				zap.Error(err),
				zap.String("short_id", link.ShortID),
			)
		}
	}
}

// normalizeURL applies the creation rules: reject empty input, default a
// missing scheme to http://, then require strict URL syntax.
func normalizeURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("%w: url is required", ErrValidation)
	}

	lower := strings.ToLower(raw)
	if !strings.HasPrefix(lower, "http://") && !strings.HasPrefix(lower, "https://") && !strings.HasPrefix(lower, "ftp://") {
		raw = "http://" + raw
	}
	if !urlPattern.MatchString(raw) {
		return "", fmt.Errorf("%w: malformed url", ErrValidation)
	}
	return raw, nil
}
