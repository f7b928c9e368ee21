package usecase

import (
	"sync"

	"FinWindow/internal/domain/models"
	"FinWindow/pkg/date"
)

// SeriesStore holds one chart's loaded series, its loaded range and what is known about
// the full dataset. The series is always strictly ascending by date.
type SeriesStore struct {
	mu     sync.RWMutex
	series models.Series
	loaded *models.DateRange
	total  models.TotalRange
}

func NewSeriesStore() *SeriesStore {
	return &SeriesStore{}
}

// Apply merges a fetched batch according to req and returns the resulting length.
// A successful unbounded load marks the total range complete; any other replace clears it.
func (s *SeriesStore) Apply(req FetchRequest, batch models.Series) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.series = MergeSeries(s.series, batch, req.Mode)
	s.loaded = MergeRange(s.loaded, req.Mode, req.Start, req.End, batch)

	switch {
	case req.MarkComplete:
		s.total = models.TotalRange{Complete: true}
		if first, last, ok := s.series.Bounds(); ok {
			s.total.Start, s.total.End = &first, &last
		}
	case req.Mode == MergeReplace:
		s.total = models.TotalRange{}
	}
	return len(s.series)
}

// Snapshot returns copies safe to hand to readers.
func (s *SeriesStore) Snapshot() (models.Series, *models.DateRange, models.TotalRange) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	series := make(models.Series, len(s.series))
	copy(series, s.series)
	return series, copyRange(s.loaded), copyTotal(s.total)
}

// Bounds reads the point count, loaded range and total range as one consistent view.
func (s *SeriesStore) Bounds() (int, *models.DateRange, models.TotalRange) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.series), copyRange(s.loaded), copyTotal(s.total)
}

func (s *SeriesStore) LoadedRange() *models.DateRange {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyRange(s.loaded)
}

func (s *SeriesStore) TotalRange() models.TotalRange {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyTotal(s.total)
}

func copyRange(r *models.DateRange) *models.DateRange {
	if r == nil {
		return nil
	}
	c := *r
	return &c
}

func copyTotal(t models.TotalRange) models.TotalRange {
	out := models.TotalRange{Complete: t.Complete}
	if t.Start != nil {
		d := *t.Start
		out.Start = &d
	}
	if t.End != nil {
		d := *t.End
		out.End = &d
	}
	return out
}

func datePtr(d date.Date) *date.Date { return &d }
