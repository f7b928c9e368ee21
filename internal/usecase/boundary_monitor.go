package usecase

import (
	"FinWindow/internal/domain/models"
	"FinWindow/pkg/date"
)

const (
	minBufferPoints = 10
	minExtendDays   = 30
)

// BufferSize is how close, in points, the visible window may get to either edge of the
// loaded series before an extension is requested.
func BufferSize(length int) int {
	if b := length / 10; b > minBufferPoints {
		return b
	}
	return minBufferPoints
}

// ExtendDays is how many days each extension fetch covers.
func ExtendDays(defaultWindowDays int) int {
	if e := defaultWindowDays / 2; e > minExtendDays {
		return e
	}
	return minExtendDays
}

// BoundaryMonitor turns zoom changes into extension fetches past the loaded edges.
type BoundaryMonitor struct {
	extendDays int
	today      func() date.Date
}

func NewBoundaryMonitor(defaultWindowDays int, today func() date.Date) *BoundaryMonitor {
	return &BoundaryMonitor{extendDays: ExtendDays(defaultWindowDays), today: today}
}

// Check returns the append fetches the zoom state calls for, left edge first. Nothing is
// requested while unzoomed, before a first load, or once the full dataset is loaded.
// The right edge never extends past today.
func (m *BoundaryMonitor) Check(z models.ZoomState, length int, loaded *models.DateRange, total models.TotalRange) []FetchRequest {
	if !z.IsZoomed || loaded == nil || total.Complete {
		return nil
	}
	buffer := BufferSize(length)

	var reqs []FetchRequest
	if z.StartIndex() < buffer {
		reqs = append(reqs, FetchRequest{
			Start:  datePtr(loaded.Start.Add(-m.extendDays)),
			End:    datePtr(loaded.Start),
			Mode:   MergeAppend,
			Reason: "zoom_left",
		})
	}
	if z.EndIndex() > length-buffer {
		end := loaded.End.Add(m.extendDays)
		if !end.After(m.today()) {
			reqs = append(reqs, FetchRequest{
				Start:  datePtr(loaded.End),
				End:    datePtr(end),
				Mode:   MergeAppend,
				Reason: "zoom_right",
			})
		}
	}
	return reqs
}
