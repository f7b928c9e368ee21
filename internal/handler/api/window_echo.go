package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"FinWindow/internal/domain/models"
	domrepo "FinWindow/internal/domain/repository"
	"FinWindow/internal/service/ratelimit"
	"FinWindow/internal/usecase"
	"FinWindow/pkg/date"
	xhttp "FinWindow/pkg/http"
	xlogger "FinWindow/pkg/logger"
)

// WindowHandler exposes chart sessions over Echo.
type WindowHandler struct {
	registry *usecase.SessionRegistry
	zoomRL   *ratelimit.Limiter
	metrics  domrepo.Metrics
	logger   *xlogger.Logger
	stream   StreamConfig
}

type HandlerOption func(*WindowHandler)

func WithStreamConfig(cfg StreamConfig) HandlerOption {
	return func(h *WindowHandler) { h.stream = cfg }
}

func NewWindowHandler(registry *usecase.SessionRegistry, zoomRL *ratelimit.Limiter, m domrepo.Metrics, logger *xlogger.Logger, opts ...HandlerOption) *WindowHandler {
	h := &WindowHandler{
		registry: registry,
		zoomRL:   zoomRL,
		metrics:  m,
		logger:   logger,
		stream:   DefaultStreamConfig(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *WindowHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api/sessions")
	g.POST("", h.Open)
	g.GET("/:id", h.Get)
	g.DELETE("/:id", h.Close)
	g.POST("/:id/zoom", h.Zoom)
	g.POST("/:id/range", h.Range)
	g.POST("/:id/reset", h.Reset)
	g.POST("/:id/all", h.All)
	g.POST("/:id/refetch", h.Refetch)
	g.GET("/:id/stream", h.Stream)
}

func (h *WindowHandler) Open(c echo.Context) error {
	req := &models.OpenSessionRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	ctrl, err := h.registry.Open(c.Request().Context(), req.PortfolioID)
	if ctrl == nil {
		h.logger.Error("open session error", xlogger.Error(err))
		return xhttp.InternalServerErrorResponse(c)
	}
	resp := models.SessionResponse{
		SessionID:   ctrl.SessionID(),
		PortfolioID: ctrl.PortfolioID(),
		View:        ctrl.View(),
	}
	if err != nil {
		return h.loadError(c, ctrl, err, resp)
	}
	return xhttp.CreatedResponse(c, resp)
}

func (h *WindowHandler) Get(c echo.Context) error {
	ctrl, err := h.session(c)
	if err != nil {
		return xhttp.AppErrorResponse(c, err)
	}
	return xhttp.SuccessResponse(c, ctrl.View())
}

func (h *WindowHandler) Close(c echo.Context) error {
	id := c.Param("id")
	if err := h.registry.Close(id); err != nil {
		return xhttp.AppErrorResponse(c, sessionError(id, err))
	}
	return xhttp.NoContentResponse(c)
}

// Zoom feeds the boundary monitor. The check itself is debounced, so the call returns 202.
func (h *WindowHandler) Zoom(c echo.Context) error {
	ctrl, err := h.session(c)
	if err != nil {
		return xhttp.AppErrorResponse(c, err)
	}
	req := &models.ZoomRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	if !h.zoomRL.Allow(ctrl.SessionID()) {
		h.metrics.RecordDropped("rate_limited")
		h.logger.Warn("zoom rate limited", xlogger.String("session", ctrl.SessionID()))
		return xhttp.AppErrorResponse(c, xhttp.TooManyRequestsError("too many zoom updates"))
	}
	ctrl.OnZoomChange(req.ZoomState())
	return xhttp.AcceptedResponse(c)
}

func (h *WindowHandler) Range(c echo.Context) error {
	ctrl, err := h.session(c)
	if err != nil {
		return xhttp.AppErrorResponse(c, err)
	}
	req := &models.RangeRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	// the validator already checked the layout
	start, _ := date.Parse(req.StartDate)
	end, _ := date.Parse(req.EndDate)

	return h.run(c, ctrl, "range", func(ctx context.Context) error {
		if usecase.ParseMergeMode(req.Mode) == usecase.MergeAppend {
			return ctrl.ExtendDateRange(ctx, start, end)
		}
		return ctrl.LoadDateRange(ctx, start, end)
	})
}

func (h *WindowHandler) Reset(c echo.Context) error {
	ctrl, err := h.session(c)
	if err != nil {
		return xhttp.AppErrorResponse(c, err)
	}
	return h.run(c, ctrl, "reset", ctrl.ResetToInitialRange)
}

func (h *WindowHandler) All(c echo.Context) error {
	ctrl, err := h.session(c)
	if err != nil {
		return xhttp.AppErrorResponse(c, err)
	}
	return h.run(c, ctrl, "all", ctrl.LoadAllData)
}

func (h *WindowHandler) Refetch(c echo.Context) error {
	ctrl, err := h.session(c)
	if err != nil {
		return xhttp.AppErrorResponse(c, err)
	}
	return h.run(c, ctrl, "refetch", ctrl.Refetch)
}

// run executes a controller operation and answers with the resulting View.
func (h *WindowHandler) run(c echo.Context, ctrl *usecase.WindowController, op string, fn func(context.Context) error) error {
	start := time.Now()
	err := fn(c.Request().Context())
	h.metrics.RecordLatency("session_"+op, time.Since(start).Seconds())
	if err != nil {
		return h.loadError(c, ctrl, err, ctrl.View())
	}
	return xhttp.SuccessResponse(c, ctrl.View())
}

// loadError maps controller failures. A failed load still answers with the data the
// session holds, inside a 502 envelope.
func (h *WindowHandler) loadError(c echo.Context, ctrl *usecase.WindowController, err error, data interface{}) error {
	switch {
	case errors.Is(err, usecase.ErrFetchInFlight):
		return xhttp.AppErrorResponse(c, xhttp.ConflictError("ERR_FETCH_IN_FLIGHT", "a fetch is already in flight").WithError(err))
	case errors.Is(err, usecase.ErrInvalidRange):
		return xhttp.AppErrorResponse(c, xhttp.BadRequestError(err.Error()).WithError(err))
	case errors.Is(err, usecase.ErrControllerClosed):
		return xhttp.AppErrorResponse(c, xhttp.GoneError("session closed").WithError(err))
	case errors.Is(err, models.ErrNetwork):
		h.logger.Warn("history load failed",
			xlogger.String("session", ctrl.SessionID()),
			xlogger.String("portfolio", ctrl.PortfolioID()),
			xlogger.Error(err))
		return xhttp.BadGatewayResponse(c, data)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		// the fetch keeps running; the caller stopped waiting
		return xhttp.DataResponse(c, http.StatusGatewayTimeout, data)
	}
	h.logger.Error("session operation error", xlogger.String("session", ctrl.SessionID()), xlogger.Error(err))
	return xhttp.InternalServerErrorResponse(c)
}

func (h *WindowHandler) session(c echo.Context) (*usecase.WindowController, error) {
	id := c.Param("id")
	ctrl, err := h.registry.Get(id)
	if err != nil {
		return nil, sessionError(id, err)
	}
	return ctrl, nil
}

func sessionError(id string, err error) error {
	if errors.Is(err, usecase.ErrSessionNotFound) {
		return xhttp.NotFoundErrorf("session %s not found", id).WithParam("session_id", id).WithError(err)
	}
	return err
}
