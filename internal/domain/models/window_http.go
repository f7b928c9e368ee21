package models

// Requests for the chart session HTTP endpoints. Defined in domain for consistency and reuse.

type OpenSessionRequest struct {
	PortfolioID string `json:"portfolio_id" validate:"required,max=128"`
}

type ZoomRequest struct {
	IsZoomed bool  `json:"is_zoomed"`
	XDomain  []int `json:"x_domain" validate:"len=2,dive,gte=0"`
}

// ZoomState converts the request into the monitor's input.
func (r *ZoomRequest) ZoomState() ZoomState {
	z := ZoomState{IsZoomed: r.IsZoomed}
	copy(z.XDomain[:], r.XDomain)
	return z
}

type RangeRequest struct {
	StartDate string `json:"start_date" validate:"required,datetime=2006-01-02"`
	EndDate   string `json:"end_date" validate:"required,datetime=2006-01-02"`
	Mode      string `json:"mode" default:"replace" validate:"oneof=replace append"`
}

// SessionResponse is returned when a chart session is opened.
type SessionResponse struct {
	SessionID   string `json:"session_id"`
	PortfolioID string `json:"portfolio_id"`
	View        View   `json:"view"`
}
