package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	"FinWindow/pkg/date"

	"github.com/shopspring/decimal"
)

// DataPoint is one dated record of the valuation history.
// On the wire it is a flat object: {"date":"2024-01-31","value":1234.5,"cost":1000}.
type DataPoint struct {
	Date    date.Date
	Metrics map[string]decimal.Decimal
}

// Metric returns the named metric, or zero when absent.
func (p DataPoint) Metric(name string) decimal.Decimal {
	return p.Metrics[name]
}

// UnmarshalJSON decodes the flat wire form. Non-numeric fields other than "date" are ignored.
func (p *DataPoint) UnmarshalJSON(b []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	rawDate, ok := raw["date"]
	if !ok {
		return fmt.Errorf("data point: missing date")
	}
	var d date.Date
	if err := json.Unmarshal(rawDate, &d); err != nil {
		return fmt.Errorf("data point: %w", err)
	}

	metrics := make(map[string]decimal.Decimal, len(raw)-1)
	for k, v := range raw {
		if k == "date" || !isJSONNumber(v) {
			continue
		}
		var m decimal.Decimal
		if err := m.UnmarshalJSON(v); err != nil {
			return fmt.Errorf("data point %s: field %s: %w", d, k, err)
		}
		metrics[k] = m
	}

	p.Date = d
	p.Metrics = metrics
	return nil
}

// MarshalJSON encodes the flat wire form.
func (p DataPoint) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(p.Metrics)+1)
	for k, v := range p.Metrics {
		out[k] = json.Number(v.String())
	}
	out["date"] = p.Date
	return json.Marshal(out)
}

func isJSONNumber(v json.RawMessage) bool {
	v = bytes.TrimSpace(v)
	if len(v) == 0 {
		return false
	}
	c := v[0]
	return c == '-' || (c >= '0' && c <= '9')
}

// Series is a sequence of data points, strictly ascending by date once normalized.
type Series []DataPoint

// Bounds returns the first and last date of a sorted series.
func (s Series) Bounds() (first, last date.Date, ok bool) {
	if len(s) == 0 {
		return date.Date{}, date.Date{}, false
	}
	return s[0].Date, s[len(s)-1].Date, true
}

// Sorted returns a copy of s ordered by date with duplicate dates collapsed; the first
// occurrence of a date wins.
func (s Series) Sorted() Series {
	out := make(Series, 0, len(s))
	seen := make(map[date.Date]struct{}, len(s))
	for _, p := range s {
		if _, dup := seen[p.Date]; dup {
			continue
		}
		seen[p.Date] = struct{}{}
		out = append(out, p)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out
}

// IsNormalized reports whether s is strictly ascending by date.
func (s Series) IsNormalized() bool {
	for i := 1; i < len(s); i++ {
		if !s[i-1].Date.Before(s[i].Date) {
			return false
		}
	}
	return true
}
