package models

import (
	"time"

	"FinWindow/pkg/date"
)

// HistoryQuery scopes one backend read. Nil bounds are unbounded on that side.
type HistoryQuery struct {
	PortfolioID string
	Start       *date.Date
	End         *date.Date
	// Fresh skips any response cache on read.
	Fresh bool
}

// WindowEvent is published after a fetched batch has been merged into a session.
type WindowEvent struct {
	SessionID      string     `json:"session_id"`
	PortfolioID    string     `json:"portfolio_id"`
	Mode           string     `json:"mode"`
	RequestedStart *date.Date `json:"requested_start,omitempty"`
	RequestedEnd   *date.Date `json:"requested_end,omitempty"`
	LoadedRange    *DateRange `json:"loaded_range,omitempty"`
	Points         int        `json:"points"`
	Fetched        int        `json:"fetched"`
	At             time.Time  `json:"at"`
}

// InvalidationEvent announces that the backend history of a portfolio changed.
type InvalidationEvent struct {
	PortfolioID string `json:"portfolio_id" validate:"required"`
}
