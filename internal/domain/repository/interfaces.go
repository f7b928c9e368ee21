package repository

import (
	"context"

	"FinWindow/internal/domain/models"
)

// HistorySource reads dated valuation records for one portfolio.
type HistorySource interface {
	FetchHistory(ctx context.Context, q models.HistoryQuery) (models.Series, error)
}

// HistoryCache drops cached backend responses.
type HistoryCache interface {
	Invalidate(ctx context.Context, portfolioID string) error
}

// WindowEventPublisher announces merges applied to a session window.
type WindowEventPublisher interface {
	PublishWindowChanged(ctx context.Context, evt models.WindowEvent) error
}

type Metrics interface {
	RecordFetch(mode, result string)
	RecordDropped(reason string)
	RecordBatchSize(mode string, points int)
	RecordCache(result string)
	RecordSessions(open int)
	RecordError(kind string)
	RecordLatency(op string, seconds float64)
}
