package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/shortloop/shortloop/internal/app/model"
	"github.com/shortloop/shortloop/internal/app/repository"
	"github.com/shortloop/shortloop/internal/app/shortid"
)

// AnalyticsReport is the read-only aggregation for one link: the
// canonical short URL, the live counter and the full ordered history.
// Password material never appears here.
type AnalyticsReport struct {
	ShortID    string             `json:"short_id"`
	ShortURL   string             `json:"short_url"`
	ClickCount int64              `json:"click_count"`
	Events     []model.ClickEvent `json:"events"`
}

// AnalyticsService answers analytics queries addressed by identifier,
// short URL or original URL.
type AnalyticsService interface {
	Query(ctx context.Context, urlOrID string) (*AnalyticsReport, error)
}

type analyticsService struct {
	// repo is the uncached repository: analytics needs the live
	// ClickCount, which the record cache deliberately does not carry.
	repo    repository.LinkRepository
	baseURL string
}

// NewAnalyticsService builds the query service. baseURL is the address
// short URLs are composed from (e.g. "https://sh.rt").
func NewAnalyticsService(repo repository.LinkRepository, baseURL string) AnalyticsService {
	return &analyticsService{
		repo:    repo,
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

func (s *analyticsService) Query(ctx context.Context, urlOrID string) (*AnalyticsReport, error) {
	input := strings.TrimSpace(urlOrID)
	if input == "" {
		return nil, fmt.Errorf("%w: query is required", ErrValidation)
	}

	// First interpretation: the input addresses a link by identifier,
	// possibly wrapped in our base URL or some scheme://host prefix.
	if candidate := extractIdentifier(input, s.baseURL); candidate != "" {
		link, err := s.repo.GetByShortID(ctx, candidate)
		if err == nil {
			return s.report(ctx, link)
		}
		if !errors.Is(err, repository.ErrLinkNotFound) {
			return nil, fmt.Errorf("lookup by short id: %w", err)
		}
	}

	// Second interpretation: the input is the original URL itself.
	link, err := s.repo.GetByOriginalURL(ctx, input)
	if err != nil {
		if errors.Is(err, repository.ErrLinkNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("lookup by original url: %w", err)
	}
	return s.report(ctx, link)
}

func (s *analyticsService) report(ctx context.Context, link *model.Link) (*AnalyticsReport, error) {
	events, err := s.repo.ListEvents(ctx, link.ShortID)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	if events == nil {
		events = []model.ClickEvent{}
	}
	return &AnalyticsReport{
		ShortID:    link.ShortID,
		ShortURL:   s.baseURL + "/" + link.ShortID,
		ClickCount: link.ClickCount,
		Events:     events,
	}, nil
}

// extractIdentifier strips the configured base prefix or a generic
// scheme://host prefix and returns the remainder when it has identifier
// syntax, else "".
func extractIdentifier(input, baseURL string) string {
	candidate := input

	if baseURL != "" && strings.HasPrefix(candidate, baseURL) {
		candidate = strings.TrimPrefix(candidate, baseURL)
	} else if strings.Contains(candidate, "://") {
		parsed, err := url.Parse(candidate)
		if err != nil {
			return ""
		}
		candidate = parsed.Path
	}
	candidate = strings.Trim(candidate, "/")

	if !shortid.Valid(candidate) {
		return ""
	}
	return candidate
}
