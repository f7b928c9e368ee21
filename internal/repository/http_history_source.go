package repository

import (
	"context"
	"net/url"
	"strings"

	"FinWindow/internal/domain/models"
	domrepo "FinWindow/internal/domain/repository"
	pkghttp "FinWindow/pkg/http"
	applogger "FinWindow/pkg/logger"
)

// DefaultHistoryPath is the backend range endpoint; {portfolio} is replaced per query.
const DefaultHistoryPath = "/api/portfolios/{portfolio}/history"

// HTTPHistorySource reads history from the REST backend:
// GET {base}{path}?start_date=YYYY-MM-DD&end_date=YYYY-MM-DD, omitted bounds are unbounded.
type HTTPHistorySource struct {
	client  *pkghttp.Client
	baseURL string
	path    string
	l       *applogger.Logger
}

func NewHTTPHistorySource(client *pkghttp.Client, baseURL, path string, l *applogger.Logger) *HTTPHistorySource {
	if path == "" {
		path = DefaultHistoryPath
	}
	return &HTTPHistorySource{
		client:  client,
		baseURL: strings.TrimRight(baseURL, "/"),
		path:    path,
		l:       l,
	}
}

func (s *HTTPHistorySource) FetchHistory(ctx context.Context, q models.HistoryQuery) (models.Series, error) {
	endpoint := s.baseURL + strings.ReplaceAll(s.path, "{portfolio}", url.PathEscape(q.PortfolioID))

	params := url.Values{}
	if q.Start != nil {
		params.Set("start_date", q.Start.String())
	}
	if q.End != nil {
		params.Set("end_date", q.End.String())
	}

	var out models.Series
	err := s.client.SendAndParse(ctx, &pkghttp.RequestOptions{
		Method:      pkghttp.MethodGet,
		URL:         endpoint,
		QueryParams: params,
	}, &out)
	if err != nil {
		s.l.Debug("history request failed",
			applogger.String("url", endpoint),
			applogger.String("query", params.Encode()),
			applogger.Error(err))
		return nil, &models.NetworkError{Op: "GET " + endpoint, Err: err}
	}
	return out, nil
}

var _ domrepo.HistorySource = (*HTTPHistorySource)(nil)
