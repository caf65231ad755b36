// Package report builds views over a finished ResultTable: filtered
// transaction lists with risk tiers, trend summaries and the HTML report.
package report

import (
	"fmt"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/opensource-finance/fraudlens/internal/calibrate"
	"github.com/opensource-finance/fraudlens/internal/dataset"
	"github.com/opensource-finance/fraudlens/internal/domain"
)

// Filter selects rows of a result table. Zero values match everything.
type Filter struct {
	FlaggedOnly bool
	Type        string
	Locations   []string
	Channels    []string
	MinAmount   *float64
	MaxAmount   *float64
	Tiers       []calibrate.Tier

	// From and To bound the transaction date by calendar day, inclusive.
	From time.Time
	To   time.Time
}

// Row is a scored record with its risk tier.
type Row struct {
	domain.ScoredRecord
	RiskTier calibrate.Tier `json:"riskTier"`
}

// Active reports whether any criterion other than FlaggedOnly is set.
func (f Filter) Active() bool {
	return f.Type != "" || len(f.Locations) > 0 || len(f.Channels) > 0 ||
		f.MinAmount != nil || f.MaxAmount != nil || len(f.Tiers) > 0 ||
		!f.From.IsZero() || !f.To.IsZero()
}

// Match reports whether r passes the filter.
func (f Filter) Match(r *domain.ScoredRecord) bool {
	if f.FlaggedOnly && !r.IsFraud {
		return false
	}
	if f.Type != "" && r.Type != f.Type {
		return false
	}
	if len(f.Locations) > 0 && !slices.Contains(f.Locations, r.Location) {
		return false
	}
	if len(f.Channels) > 0 && !slices.Contains(f.Channels, r.Channel) {
		return false
	}
	if f.MinAmount != nil || f.MaxAmount != nil {
		if !r.Has(domain.MissingAmount) {
			return false
		}
		if f.MinAmount != nil && r.Amount < *f.MinAmount {
			return false
		}
		if f.MaxAmount != nil && r.Amount > *f.MaxAmount {
			return false
		}
	}
	if len(f.Tiers) > 0 && !slices.Contains(f.Tiers, calibrate.RiskTier(r.FraudProbability)) {
		return false
	}
	if !f.From.IsZero() || !f.To.IsZero() {
		if !r.Has(domain.MissingTransactionDate) {
			return false
		}
		day := truncateDay(r.TransactionDate)
		if !f.From.IsZero() && day.Before(truncateDay(f.From)) {
			return false
		}
		if !f.To.IsZero() && day.After(truncateDay(f.To)) {
			return false
		}
	}
	return true
}

// Apply returns the matching rows of table in input order.
func Apply(table *domain.ResultTable, f Filter) []Row {
	rows := make([]Row, 0)
	for i := range table.Records {
		r := &table.Records[i]
		if !f.Match(r) {
			continue
		}
		rows = append(rows, Row{
			ScoredRecord: *r,
			RiskTier:     calibrate.RiskTier(r.FraudProbability),
		})
	}
	return rows
}

// ParseFilter reads a filter from query parameters: flagged, type,
// location, channel and tier (repeatable or comma separated), minAmount,
// maxAmount, from and to.
func ParseFilter(q url.Values) (Filter, error) {
	var f Filter

	if v := q.Get("flagged"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return f, fmt.Errorf("invalid flagged value %q", v)
		}
		f.FlaggedOnly = b
	}
	if v := q.Get("type"); v != "" && !strings.EqualFold(v, "all") {
		f.Type = v
	}
	f.Locations = multi(q["location"])
	f.Channels = multi(q["channel"])
	for _, v := range multi(q["tier"]) {
		tier, ok := calibrate.ParseTier(v)
		if !ok {
			return f, fmt.Errorf("invalid tier %q", v)
		}
		if !slices.Contains(f.Tiers, tier) {
			f.Tiers = append(f.Tiers, tier)
		}
	}

	var err error
	if f.MinAmount, err = parseAmount(q.Get("minAmount")); err != nil {
		return f, err
	}
	if f.MaxAmount, err = parseAmount(q.Get("maxAmount")); err != nil {
		return f, err
	}
	if f.MinAmount != nil && f.MaxAmount != nil && *f.MinAmount > *f.MaxAmount {
		return f, fmt.Errorf("minAmount exceeds maxAmount")
	}

	if f.From, err = parseDate("from", q.Get("from")); err != nil {
		return f, err
	}
	if f.To, err = parseDate("to", q.Get("to")); err != nil {
		return f, err
	}
	return f, nil
}

func multi(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			part = strings.TrimSpace(part)
			if part == "" || strings.EqualFold(part, "all") {
				continue
			}
			out = append(out, part)
		}
	}
	return out
}

func parseAmount(s string) (*float64, error) {
	if s == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q", s)
	}
	return &v, nil
}

func parseDate(name, s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, ok, err := dataset.ParseTime(s)
	if err != nil || !ok {
		return time.Time{}, fmt.Errorf("invalid %s date %q", name, s)
	}
	return t, nil
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
