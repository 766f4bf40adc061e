package service

import (
	"context"
	"net"
	"time"

	"go.uber.org/zap"
)

// Geo carries the location fields attached to a click event. Either or
// both may be empty when the lookup fails or the address is local.
type Geo struct {
	Country string
	City    string
}

// Enricher resolves a client address to a location. Implementations talk
// to whatever geo source the deployment has (MaxMind database, upstream
// header service); the core only depends on this interface.
type Enricher interface {
	Lookup(ctx context.Context, ip string) (Geo, error)
}

type noopEnricher struct{}

// NewNoopEnricher returns an Enricher that resolves nothing. Used when no
// geo source is configured.
func NewNoopEnricher() Enricher {
	return noopEnricher{}
}

func (noopEnricher) Lookup(context.Context, string) (Geo, error) {
	return Geo{}, nil
}

// boundedEnricher wraps an Enricher with a deadline. A slow or failing
// lookup degrades to empty fields so enrichment can never hold up a
// redirect.
type boundedEnricher struct {
	inner   Enricher
	timeout time.Duration
	logger  *zap.Logger
}

// BoundEnricher applies timeout to every Lookup on inner. Loopback and
// unparseable addresses short-circuit without calling the source.
func BoundEnricher(inner Enricher, timeout time.Duration, logger *zap.Logger) Enricher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &boundedEnricher{inner: inner, timeout: timeout, logger: logger}
}

func (e *boundedEnricher) Lookup(ctx context.Context, ip string) (Geo, error) {
	parsed := net.ParseIP(ip)
	if parsed == nil || parsed.IsLoopback() {
		return Geo{}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	type result struct {
		geo Geo
		err error
	}
	ch := make(chan result, 1)
	go func() {
		geo, err := e.inner.Lookup(ctx, ip)
		ch <- result{geo, err}
	}()

	select {
	case res := <-ch:
		if res.err != nil {
			e.logger.Debug("geo lookup failed", zap.Error(res.err), zap.String("ip", ip))
			return Geo{}, nil
		}
		return res.geo, nil
	case <-ctx.Done():
		e.logger.Debug("geo lookup timed out", zap.String("ip", ip))
		return Geo{}, nil
	}
}
