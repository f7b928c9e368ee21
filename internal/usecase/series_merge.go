package usecase

import (
	"FinWindow/internal/domain/models"
	"FinWindow/pkg/date"
)

// MergeMode selects how a fetched batch combines with the loaded series.
type MergeMode string

const (
	MergeReplace MergeMode = "replace"
	MergeAppend  MergeMode = "append"
)

// ParseMergeMode maps the wire value onto a MergeMode; anything but "append" replaces.
func ParseMergeMode(s string) MergeMode {
	if s == string(MergeAppend) {
		return MergeAppend
	}
	return MergeReplace
}

// MergeSeries combines existing with incoming. Replace discards existing. Append keeps
// every existing point and adds incoming points for dates not yet present. The result is
// strictly ascending by date either way.
func MergeSeries(existing, incoming models.Series, mode MergeMode) models.Series {
	if mode == MergeReplace {
		return incoming.Sorted()
	}
	combined := make(models.Series, 0, len(existing)+len(incoming))
	combined = append(combined, existing...)
	combined = append(combined, incoming...)
	// Sorted keeps the first occurrence, so existing points win over incoming duplicates.
	return combined.Sorted()
}

// MergeRange computes the loaded range after a fetch. Each side is the requested bound
// when one was given, otherwise the matching edge of the batch. Replace (or a first load)
// takes that range as is; Append widens the existing range to cover it. A side that is
// still unknown falls back to the other side, and nil is returned when neither is known.
func MergeRange(existing *models.DateRange, mode MergeMode, start, end *date.Date, batch models.Series) *models.DateRange {
	first, last, ok := batch.Bounds()
	if start == nil && ok {
		start = &first
	}
	if end == nil && ok {
		end = &last
	}
	switch {
	case start == nil && end == nil:
		if mode == MergeAppend && existing != nil {
			r := *existing
			return &r
		}
		return nil
	case start == nil:
		start = end
	case end == nil:
		end = start
	}

	if mode == MergeReplace || existing == nil {
		return &models.DateRange{Start: *start, End: *end}
	}
	return &models.DateRange{
		Start: date.Min(existing.Start, *start),
		End:   date.Max(existing.End, *end),
	}
}
