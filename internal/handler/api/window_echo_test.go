package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FinWindow/internal/domain/models"
	"FinWindow/internal/service/ratelimit"
	"FinWindow/internal/usecase"
	"FinWindow/pkg/date"
	xlogger "FinWindow/pkg/logger"
	"FinWindow/pkg/metrics"
)

var testToday = date.MustParse("2024-06-30")

type stubSource struct {
	mu      sync.Mutex
	data    models.Series
	err     error
	gate    chan struct{}
	started chan struct{}
}

func (s *stubSource) FetchHistory(ctx context.Context, q models.HistoryQuery) (models.Series, error) {
	s.mu.Lock()
	gate, err := s.gate, s.err
	s.mu.Unlock()
	select {
	case s.started <- struct{}{}:
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
	for _, p := range s.data {
		if (q.Start == nil || !p.Date.Before(*q.Start)) && (q.End == nil || !p.Date.After(*q.End)) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *stubSource) set(gate chan struct{}, err error) {
	s.mu.Lock()
	s.gate, s.err = gate, err
	s.mu.Unlock()
}

type envelope struct {
	Status  int             `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type fixture struct {
	e        *echo.Echo
	src      *stubSource
	registry *usecase.SessionRegistry
	zoomRL   *ratelimit.Limiter
}

func newFixture(t *testing.T, zoomCapacity float64) *fixture {
	t.Helper()
	var data models.Series
	for i := 0; i < 100; i++ {
		d := testToday.Add(-99 + i)
		data = append(data, models.DataPoint{Date: d, Metrics: map[string]decimal.Decimal{"value": decimal.NewFromInt(int64(i))}})
	}
	src := &stubSource{data: data, started: make(chan struct{}, 8)}
	zoomRL := ratelimit.New(zoomCapacity, 0)
	registry := usecase.NewSessionRegistry(src,
		usecase.WindowConfig{DefaultWindowDays: 30, Debounce: 10 * time.Millisecond},
		time.Hour, nil, metrics.Nop{}, xlogger.Nop(),
		usecase.WithRegistryClock(nil, func() date.Date { return testToday }),
		usecase.WithOnClose(zoomRL.Forget))
	t.Cleanup(registry.CloseAll)

	h := NewWindowHandler(registry, zoomRL, metrics.Nop{}, xlogger.Nop(),
		WithStreamConfig(StreamConfig{PingInterval: time.Second, PongWait: 5 * time.Second, WriteTimeout: time.Second}))
	e := echo.New()
	h.RegisterRoutes(e)
	return &fixture{e: e, src: src, registry: registry, zoomRL: zoomRL}
}

func (f *fixture) do(t *testing.T, method, path, body string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	f.e.ServeHTTP(rec, req)

	var env envelope
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	}
	return rec, env
}

func (f *fixture) open(t *testing.T) models.SessionResponse {
	t.Helper()
	_, env := f.do(t, http.MethodPost, "/api/sessions", `{"portfolio_id":"p1"}`)
	require.Equal(t, http.StatusCreated, env.Status)
	var resp models.SessionResponse
	require.NoError(t, json.Unmarshal(env.Data, &resp))
	return resp
}

func TestOpenSessionLoadsInitialWindow(t *testing.T) {
	f := newFixture(t, 10)
	resp := f.open(t)

	assert.NotEmpty(t, resp.SessionID)
	assert.Equal(t, "p1", resp.PortfolioID)
	assert.Len(t, resp.View.Data, 31)
	require.NotNil(t, resp.View.LoadedRange)
	assert.Equal(t, testToday.Add(-30), resp.View.LoadedRange.Start)
	assert.Equal(t, testToday, resp.View.LoadedRange.End)
	assert.False(t, resp.View.Loading)
}

func TestOpenSessionValidation(t *testing.T) {
	f := newFixture(t, 10)
	rec, env := f.do(t, http.MethodPost, "/api/sessions", `{}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, http.StatusBadRequest, env.Status)
	assert.Equal(t, 0, f.registry.Len())
}

func TestOpenSessionUpstreamFailureKeepsSession(t *testing.T) {
	f := newFixture(t, 10)
	f.src.set(nil, errors.New("connection refused"))

	_, env := f.do(t, http.MethodPost, "/api/sessions", `{"portfolio_id":"p1"}`)
	assert.Equal(t, http.StatusBadGateway, env.Status)

	var resp models.SessionResponse
	require.NoError(t, json.Unmarshal(env.Data, &resp))
	assert.Equal(t, models.LoadFailedMessage, resp.View.Error)
	assert.Empty(t, resp.View.Data)
	assert.Equal(t, 1, f.registry.Len())
}

func TestUnknownSessionIsNotFound(t *testing.T) {
	f := newFixture(t, 10)
	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/api/sessions/nope"},
		{http.MethodPost, "/api/sessions/nope/refetch"},
		{http.MethodDelete, "/api/sessions/nope"},
	} {
		_, env := f.do(t, tc.method, tc.path, "")
		assert.Equal(t, http.StatusNotFound, env.Status, tc.path)
	}
}

func TestRangeReplaceAndAppend(t *testing.T) {
	f := newFixture(t, 10)
	id := f.open(t).SessionID

	_, env := f.do(t, http.MethodPost, "/api/sessions/"+id+"/range", `{"start_date":"2024-06-01","end_date":"2024-06-10"}`)
	require.Equal(t, http.StatusOK, env.Status)
	var view models.View
	require.NoError(t, json.Unmarshal(env.Data, &view))
	assert.Len(t, view.Data, 10)
	assert.Equal(t, date.MustParse("2024-06-01"), view.LoadedRange.Start)

	_, env = f.do(t, http.MethodPost, "/api/sessions/"+id+"/range", `{"start_date":"2024-05-20","end_date":"2024-05-31","mode":"append"}`)
	require.Equal(t, http.StatusOK, env.Status)
	require.NoError(t, json.Unmarshal(env.Data, &view))
	assert.Len(t, view.Data, 22)
	assert.Equal(t, date.MustParse("2024-05-20"), view.LoadedRange.Start)
	assert.Equal(t, date.MustParse("2024-06-10"), view.LoadedRange.End)
	assert.True(t, view.Data.IsNormalized())
}

func TestRangeRejectsBadInput(t *testing.T) {
	f := newFixture(t, 10)
	id := f.open(t).SessionID

	for _, body := range []string{
		`{"start_date":"2024/06/01","end_date":"2024-06-10"}`,
		`{"start_date":"2024-06-01","end_date":"2024-06-10","mode":"merge"}`,
		`{"start_date":"2024-06-10","end_date":"2024-06-01"}`,
	} {
		_, env := f.do(t, http.MethodPost, "/api/sessions/"+id+"/range", body)
		assert.Equal(t, http.StatusBadRequest, env.Status, body)
	}
}

func TestAllResetAndRefetch(t *testing.T) {
	f := newFixture(t, 10)
	id := f.open(t).SessionID

	_, env := f.do(t, http.MethodPost, "/api/sessions/"+id+"/all", "")
	require.Equal(t, http.StatusOK, env.Status)
	var view models.View
	require.NoError(t, json.Unmarshal(env.Data, &view))
	assert.Len(t, view.Data, 100)
	assert.True(t, view.TotalRange.Complete)

	_, env = f.do(t, http.MethodPost, "/api/sessions/"+id+"/reset", "")
	require.Equal(t, http.StatusOK, env.Status)
	require.NoError(t, json.Unmarshal(env.Data, &view))
	assert.Len(t, view.Data, 31)
	assert.False(t, view.TotalRange.Complete)

	_, env = f.do(t, http.MethodPost, "/api/sessions/"+id+"/refetch", "")
	require.Equal(t, http.StatusOK, env.Status)
	require.NoError(t, json.Unmarshal(env.Data, &view))
	assert.Len(t, view.Data, 31)
}

func TestOperationDuringFetchConflicts(t *testing.T) {
	f := newFixture(t, 10)
	id := f.open(t).SessionID

	for len(f.src.started) > 0 {
		<-f.src.started
	}
	gate := make(chan struct{})
	f.src.set(gate, nil)

	done := make(chan envelope, 1)
	go func() {
		_, env := f.do(t, http.MethodPost, "/api/sessions/"+id+"/all", "")
		done <- env
	}()
	select {
	case <-f.src.started:
	case <-time.After(2 * time.Second):
		t.Fatal("fetch did not start")
	}

	rec, env := f.do(t, http.MethodPost, "/api/sessions/"+id+"/refetch", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, http.StatusConflict, env.Status)
	assert.Contains(t, string(env.Data), "ERR_FETCH_IN_FLIGHT")

	close(gate)
	select {
	case env := <-done:
		assert.Equal(t, http.StatusOK, env.Status)
	case <-time.After(2 * time.Second):
		t.Fatal("load did not finish")
	}
}

func TestZoomAcceptedAndRateLimited(t *testing.T) {
	f := newFixture(t, 1)
	id := f.open(t).SessionID

	rec, _ := f.do(t, http.MethodPost, "/api/sessions/"+id+"/zoom", `{"is_zoomed":false,"x_domain":[0,10]}`)
	assert.Equal(t, http.StatusAccepted, rec.Code)

	rec, env := f.do(t, http.MethodPost, "/api/sessions/"+id+"/zoom", `{"is_zoomed":false,"x_domain":[0,10]}`)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, http.StatusTooManyRequests, env.Status)
}

func TestSessionExitReleasesZoomBucket(t *testing.T) {
	f := newFixture(t, 10)
	first := f.open(t).SessionID
	second := f.open(t).SessionID

	for _, id := range []string{first, second} {
		rec, _ := f.do(t, http.MethodPost, "/api/sessions/"+id+"/zoom", `{"is_zoomed":false,"x_domain":[0,10]}`)
		require.Equal(t, http.StatusAccepted, rec.Code)
	}
	require.Equal(t, 2, f.zoomRL.Len())

	rec, _ := f.do(t, http.MethodDelete, "/api/sessions/"+first, "")
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, 1, f.zoomRL.Len())

	f.registry.CloseAll()
	assert.Equal(t, 0, f.zoomRL.Len())
}

func TestZoomValidation(t *testing.T) {
	f := newFixture(t, 10)
	id := f.open(t).SessionID

	_, env := f.do(t, http.MethodPost, "/api/sessions/"+id+"/zoom", `{"is_zoomed":true,"x_domain":[3]}`)
	assert.Equal(t, http.StatusBadRequest, env.Status)
}

func TestDeleteSession(t *testing.T) {
	f := newFixture(t, 10)
	id := f.open(t).SessionID

	rec, _ := f.do(t, http.MethodDelete, "/api/sessions/"+id, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, 0, f.registry.Len())

	_, env := f.do(t, http.MethodGet, "/api/sessions/"+id, "")
	assert.Equal(t, http.StatusNotFound, env.Status)
}

func TestStreamPushesViewsAndClosesWithSession(t *testing.T) {
	f := newFixture(t, 10)
	id := f.open(t).SessionID

	srv := httptest.NewServer(f.e)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/sessions/" + id + "/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var msg streamOut
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, msgView, msg.Type)
	require.NotNil(t, msg.View)
	assert.Len(t, msg.View.Data, 31)

	require.NoError(t, conn.WriteJSON(map[string]interface{}{"type": "pan"}))
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, msgError, msg.Type)

	require.NoError(t, f.registry.Close(id))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), err.Error())
			break
		}
	}
}
