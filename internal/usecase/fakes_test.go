package usecase

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"

	"FinWindow/internal/domain/models"
	"FinWindow/pkg/date"
)

// fakeSource answers queries from a fixed dataset, clipped to the requested bounds. When
// gate is set, each query blocks until a value arrives on it.
type fakeSource struct {
	mu      sync.Mutex
	data    models.Series
	err     error
	queries []models.HistoryQuery
	gate    chan struct{}
	started chan models.HistoryQuery
}

func newFakeSource(data models.Series) *fakeSource {
	return &fakeSource{data: data, started: make(chan models.HistoryQuery, 16)}
}

func (f *fakeSource) FetchHistory(ctx context.Context, q models.HistoryQuery) (models.Series, error) {
	f.mu.Lock()
	f.queries = append(f.queries, q)
	gate, err, data := f.gate, f.err, f.data
	f.mu.Unlock()

	select {
	case f.started <- q:
	default:
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	var out models.Series
	for _, p := range data {
		if q.Start != nil && p.Date.Before(*q.Start) {
			continue
		}
		if q.End != nil && p.Date.After(*q.End) {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

func (f *fakeSource) setErr(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

func (f *fakeSource) setData(data models.Series) {
	f.mu.Lock()
	f.data = data
	f.mu.Unlock()
}

func (f *fakeSource) block() chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gate = make(chan struct{})
	return f.gate
}

func (f *fakeSource) unblock() {
	f.mu.Lock()
	f.gate = nil
	f.mu.Unlock()
}

func (f *fakeSource) calls() []models.HistoryQuery {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.HistoryQuery, len(f.queries))
	copy(out, f.queries)
	return out
}

func point(d date.Date, value int64) models.DataPoint {
	return models.DataPoint{Date: d, Metrics: map[string]decimal.Decimal{"value": decimal.NewFromInt(value)}}
}

// daily returns one point per day over [start, start+n).
func daily(start date.Date, n int) models.Series {
	s := make(models.Series, 0, n)
	for i := 0; i < n; i++ {
		s = append(s, point(start.Add(i), int64(i)))
	}
	return s
}

func dates(s models.Series) []string {
	out := make([]string, len(s))
	for i, p := range s {
		out[i] = p.Date.String()
	}
	return out
}
