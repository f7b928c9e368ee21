package repository

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"FinWindow/internal/domain/models"
	domrepo "FinWindow/internal/domain/repository"
	"FinWindow/pkg/date"
	applogger "FinWindow/pkg/logger"
)

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// HistorySchema creates the table ClickHouseHistorySource reads when it does not exist.
func HistorySchema(table string, metrics []string) string {
	cols := make([]string, 0, len(metrics))
	for _, m := range metrics {
		cols = append(cols, fmt.Sprintf("    %s Decimal(18, 4)", m))
	}
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    portfolio_id String,
    date Date,
%s
) ENGINE = ReplacingMergeTree
ORDER BY (portfolio_id, date)`, table, strings.Join(cols, ",\n"))
}

// ClickHouseHistorySource reads dated valuation rows for a portfolio from ClickHouse.
type ClickHouseHistorySource struct {
	db      *sql.DB
	table   string
	metrics []string
	l       *applogger.Logger
}

// NewClickHouseHistorySource validates table and metric column names, which are spliced
// into the query text.
func NewClickHouseHistorySource(db *sql.DB, table string, metrics []string, l *applogger.Logger) (*ClickHouseHistorySource, error) {
	if !identRe.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	if len(metrics) == 0 {
		return nil, fmt.Errorf("at least one metric column is required")
	}
	for _, m := range metrics {
		if !identRe.MatchString(m) || strings.Contains(m, ".") {
			return nil, fmt.Errorf("invalid metric column %q", m)
		}
	}
	return &ClickHouseHistorySource{db: db, table: table, metrics: metrics, l: l}, nil
}

func (s *ClickHouseHistorySource) buildQuery(q models.HistoryQuery) (string, []interface{}) {
	var b strings.Builder
	fmt.Fprintf(&b, "SELECT date, %s FROM %s FINAL WHERE portfolio_id = ?", strings.Join(s.metrics, ", "), s.table)
	args := []interface{}{q.PortfolioID}
	if q.Start != nil {
		b.WriteString(" AND date >= ?")
		args = append(args, q.Start.String())
	}
	if q.End != nil {
		b.WriteString(" AND date <= ?")
		args = append(args, q.End.String())
	}
	b.WriteString(" ORDER BY date")
	return b.String(), args
}

func (s *ClickHouseHistorySource) FetchHistory(ctx context.Context, q models.HistoryQuery) (models.Series, error) {
	query, args := s.buildQuery(q)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		s.l.Error("clickhouse history query error",
			applogger.String("table", s.table),
			applogger.String("portfolio", q.PortfolioID),
			applogger.Error(err))
		return nil, &models.NetworkError{Op: "query history", Err: err}
	}
	defer rows.Close()

	out := make(models.Series, 0, 256)
	for rows.Next() {
		var day time.Time
		vals := make([]decimal.NullDecimal, len(s.metrics))
		dest := make([]interface{}, 0, len(vals)+1)
		dest = append(dest, &day)
		for i := range vals {
			dest = append(dest, &vals[i])
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, &models.NetworkError{Op: "scan history", Err: err}
		}

		p := models.DataPoint{Date: date.Of(day), Metrics: make(map[string]decimal.Decimal, len(s.metrics))}
		for i, v := range vals {
			if v.Valid {
				p.Metrics[s.metrics[i]] = v.Decimal
			}
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, &models.NetworkError{Op: "read history rows", Err: err}
	}
	return out, nil
}

var _ domrepo.HistorySource = (*ClickHouseHistorySource)(nil)
