package models

import (
	"errors"
	"fmt"

	"FinWindow/pkg/date"
)

// DateRange is an inclusive span of calendar days.
type DateRange struct {
	Start date.Date `json:"start"`
	End   date.Date `json:"end"`
}

func (r DateRange) String() string { return fmt.Sprintf("[%s, %s]", r.Start, r.End) }

// TotalRange describes the whole dataset the backend can return. The zero value means
// unknown: more data may exist beyond the loaded range.
type TotalRange struct {
	Complete bool       `json:"complete"`
	Start    *date.Date `json:"start,omitempty"`
	End      *date.Date `json:"end,omitempty"`
}

// ZoomState is reported by the chart on every zoom or pan. XDomain holds indices into the
// currently loaded series.
type ZoomState struct {
	IsZoomed bool   `json:"is_zoomed"`
	XDomain  [2]int `json:"x_domain"`
}

// StartIndex is the first visible series index.
func (z ZoomState) StartIndex() int { return z.XDomain[0] }

// EndIndex is the last visible series index.
func (z ZoomState) EndIndex() int { return z.XDomain[1] }

// View is what the chart renders.
type View struct {
	Data        Series     `json:"data"`
	Loading     bool       `json:"loading"`
	Error       string     `json:"error,omitempty"`
	LoadedRange *DateRange `json:"loaded_range,omitempty"`
	TotalRange  TotalRange `json:"total_data_range"`
}

// LoadFailedMessage is the fixed user-facing text recorded when a fetch fails.
const LoadFailedMessage = "Failed to load historical data"

// ErrNetwork classifies every backend failure.
var ErrNetwork = errors.New("network error")

// NetworkError wraps a request rejection or transport failure from the history backend.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrNetwork) match any NetworkError.
func (e *NetworkError) Is(target error) bool { return target == ErrNetwork }
