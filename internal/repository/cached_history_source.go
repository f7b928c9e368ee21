package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"FinWindow/internal/domain/models"
	domrepo "FinWindow/internal/domain/repository"
	"FinWindow/pkg/cache"
	applogger "FinWindow/pkg/logger"
)

const historyKeyPrefix = "history"

// CachedHistorySource fronts a HistorySource with a response cache keyed by
// portfolio and requested bounds. Fresh queries skip the read but still refresh the entry.
type CachedHistorySource struct {
	next    domrepo.HistorySource
	cache   cache.Service
	ttl     time.Duration
	metrics domrepo.Metrics
	l       *applogger.Logger
}

func NewCachedHistorySource(next domrepo.HistorySource, c cache.Service, ttl time.Duration, m domrepo.Metrics, l *applogger.Logger) *CachedHistorySource {
	return &CachedHistorySource{next: next, cache: c, ttl: ttl, metrics: m, l: l}
}

func historyKey(q models.HistoryQuery) string {
	start, end := "-", "-"
	if q.Start != nil {
		start = q.Start.String()
	}
	if q.End != nil {
		end = q.End.String()
	}
	return cache.GenerateKeyWithParams(historyKeyPrefix, q.PortfolioID, start, end)
}

func (s *CachedHistorySource) FetchHistory(ctx context.Context, q models.HistoryQuery) (models.Series, error) {
	key := historyKey(q)

	if q.Fresh {
		s.metrics.RecordCache("bypass")
	} else {
		var cached models.Series
		err := s.cache.Get(ctx, key, &cached)
		switch {
		case err == nil:
			s.metrics.RecordCache("hit")
			return cached, nil
		case errors.Is(err, cache.ErrCacheMiss):
			s.metrics.RecordCache("miss")
		default:
			s.metrics.RecordCache("error")
			s.l.Warn("history cache read failed", applogger.String("key", key), applogger.Error(err))
		}
	}

	series, err := s.next.FetchHistory(ctx, q)
	if err != nil {
		return nil, err
	}
	if err := s.cache.Set(ctx, key, series, s.ttl); err != nil {
		s.l.Warn("history cache write failed", applogger.String("key", key), applogger.Error(err))
	}
	return series, nil
}

// Invalidate drops every cached range of the portfolio.
func (s *CachedHistorySource) Invalidate(ctx context.Context, portfolioID string) error {
	pattern := cache.BuildPattern(cache.GenerateKey(historyKeyPrefix, portfolioID) + ":")
	if err := s.cache.DeleteByPattern(ctx, pattern); err != nil {
		return fmt.Errorf("invalidate history %s: %w", portfolioID, err)
	}
	return nil
}

var (
	_ domrepo.HistorySource = (*CachedHistorySource)(nil)
	_ domrepo.HistoryCache  = (*CachedHistorySource)(nil)
)
