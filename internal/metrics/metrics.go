// Package metrics computes coverage and compliance views over snapshots of
// records and goals. Everything here is pure: no mutation of inputs, no
// side effects, deterministic output, safe under concurrent snapshots.
package metrics

import (
	"sort"

	"planifica/internal/domain"
)

// Thresholds are the compliance cut points, as percentages.
type Thresholds struct {
	Critical float64
	Alert    float64
}

// DefaultThresholds match the standard program cut points.
var DefaultThresholds = Thresholds{Critical: 50, Alert: 75}

// Tier is a compliance classification for a coverage percentage.
type Tier string

const (
	TierCritical Tier = "critical"
	TierAlert    Tier = "alert"
	TierOnTrack  Tier = "on_track"
)

// TierFor classifies a coverage percentage. Below Critical is critical,
// below Alert is alert, everything else is on track.
func TierFor(pct float64, t Thresholds) Tier {
	switch {
	case pct < t.Critical:
		return TierCritical
	case pct < t.Alert:
		return TierAlert
	default:
		return TierOnTrack
	}
}

// Coverage is the official progress of one community against its target.
// Only approved records count as recorded; pending and in-review totals
// are reported separately as provisional.
type Coverage struct {
	Community   string  `json:"community"`
	Recorded    int     `json:"recorded"`
	Provisional int     `json:"provisional"`
	Target      int     `json:"target"`
	Pct         float64 `json:"pct"`
}

// CoverageByCommunity sums record totals for one community. Pct is
// recorded/target*100, 0 when the target is 0, and deliberately uncapped:
// values above 100 are valid and surfaced.
func CoverageByCommunity(records []domain.Record, goals []domain.CommunityGoal, community string) Coverage {
	c := Coverage{Community: community}
	for _, rec := range records {
		if rec.Community != community {
			continue
		}
		switch rec.State {
		case domain.StateApproved:
			c.Recorded += rec.Total
		case domain.StatePending, domain.StateInReview:
			c.Provisional += rec.Total
		}
	}
	for _, g := range goals {
		if g.Community == community {
			c.Target = g.Target
			break
		}
	}
	if c.Target > 0 {
		c.Pct = float64(c.Recorded) / float64(c.Target) * 100
	}
	return c
}

// ScopeScore is one ranking input.
type ScopeScore struct {
	ID  string  `json:"id"`
	Pct float64 `json:"pct"`
}

// RankedScope is one ranking output row.
type RankedScope struct {
	Rank int     `json:"rank"`
	ID   string  `json:"id"`
	Pct  float64 `json:"pct"`
}

// RankScopes orders scopes descending by pct, ties broken ascending by id
// so recomputation always reproduces the same ranking.
func RankScopes(scopes []ScopeScore) []RankedScope {
	sorted := make([]ScopeScore, len(scopes))
	copy(sorted, scopes)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Pct != sorted[j].Pct {
			return sorted[i].Pct > sorted[j].Pct
		}
		return sorted[i].ID < sorted[j].ID
	})
	out := make([]RankedScope, len(sorted))
	for i, s := range sorted {
		out[i] = RankedScope{Rank: i + 1, ID: s.ID, Pct: s.Pct}
	}
	return out
}

// MethodBreakdown sums approved tallies per method, optionally restricted
// to one category. Records whose stored tally fails to decode are skipped;
// the engine never writes such rows.
func MethodBreakdown(records []domain.Record, category domain.MethodCategory) map[domain.Method]int {
	out := map[domain.Method]int{}
	for _, rec := range records {
		if rec.State != domain.StateApproved {
			continue
		}
		tally, err := rec.Tally()
		if err != nil {
			continue
		}
		for method, count := range tally {
			if category != "" && method.Category() != category {
				continue
			}
			out[method] += count
		}
	}
	return out
}

// TrendPoint is one period's approved total.
type TrendPoint struct {
	Period   string `json:"period"`
	Recorded int    `json:"recorded"`
}

// Trend returns one point per requested period, in the given order, with 0
// for periods that have no approved records. Periods are never omitted so
// callers can detect reporting gaps.
func Trend(records []domain.Record, periods []string) []TrendPoint {
	totals := map[string]int{}
	for _, rec := range records {
		if rec.State == domain.StateApproved {
			totals[rec.Period] += rec.Total
		}
	}
	out := make([]TrendPoint, len(periods))
	for i, p := range periods {
		out[i] = TrendPoint{Period: p, Recorded: totals[p]}
	}
	return out
}
