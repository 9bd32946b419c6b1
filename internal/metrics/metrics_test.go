package metrics_test

import (
	"reflect"
	"testing"

	"planifica/internal/domain"
	"planifica/internal/metrics"
)

func approved(community, period string, total int) domain.Record {
	return domain.Record{Community: community, Period: period, Total: total, State: domain.StateApproved}
}

func pending(community, period string, total int) domain.Record {
	return domain.Record{Community: community, Period: period, Total: total, State: domain.StatePending}
}

func TestCoverageByCommunity(t *testing.T) {
	records := []domain.Record{
		approved("San Pedro Necta", "2025-07", 6),
		approved("San Pedro Necta", "2025-08", 4),
		pending("San Pedro Necta", "2025-09", 5),
		{Community: "San Pedro Necta", Period: "2025-06", Total: 9, State: domain.StateRejected},
		approved("Todos Santos", "2025-08", 99),
	}
	goals := []domain.CommunityGoal{
		{Community: "San Pedro Necta", PeriodYear: 2025, Target: 20},
		{Community: "Todos Santos", PeriodYear: 2025, Target: 280},
	}
	c := metrics.CoverageByCommunity(records, goals, "San Pedro Necta")
	if c.Recorded != 10 {
		t.Fatalf("recorded = %d, want 10 (approved only)", c.Recorded)
	}
	if c.Provisional != 5 {
		t.Fatalf("provisional = %d, want 5", c.Provisional)
	}
	if c.Pct != 50 {
		t.Fatalf("pct = %v, want 50", c.Pct)
	}
}

func TestCoverageZeroTarget(t *testing.T) {
	c := metrics.CoverageByCommunity([]domain.Record{approved("X", "2025-01", 12)}, nil, "X")
	if c.Pct != 0 {
		t.Fatalf("pct = %v, want 0 when target is 0", c.Pct)
	}
	if c.Recorded != 12 {
		t.Fatalf("recorded = %d, want 12", c.Recorded)
	}
}

func TestCoverageUncappedAbove100(t *testing.T) {
	records := []domain.Record{approved("Todos Santos", "2025-08", 350)}
	goals := []domain.CommunityGoal{{Community: "Todos Santos", PeriodYear: 2025, Target: 280}}
	c := metrics.CoverageByCommunity(records, goals, "Todos Santos")
	if c.Pct <= 100 {
		t.Fatalf("pct = %v, want above 100", c.Pct)
	}
}

func TestRankScopesDeterministic(t *testing.T) {
	scopes := []metrics.ScopeScore{
		{ID: "Santa Bárbara", Pct: 40},
		{ID: "Todos Santos", Pct: 91.4},
		{ID: "La Democracia", Pct: 91.4},
		{ID: "San Pedro Necta", Pct: 100},
	}
	got := metrics.RankScopes(scopes)
	want := []metrics.RankedScope{
		{Rank: 1, ID: "San Pedro Necta", Pct: 100},
		{Rank: 2, ID: "La Democracia", Pct: 91.4},
		{Rank: 3, ID: "Todos Santos", Pct: 91.4},
		{Rank: 4, ID: "Santa Bárbara", Pct: 40},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("ranking = %+v, want %+v", got, want)
	}
	// input must not be reordered
	if scopes[0].ID != "Santa Bárbara" {
		t.Fatalf("input mutated: %+v", scopes)
	}
}

func TestRankingFromComputedCoverage(t *testing.T) {
	records := []domain.Record{
		approved("San Pedro Necta", "2025-08", 350),
		approved("Todos Santos", "2025-08", 252),
	}
	goals := []domain.CommunityGoal{
		{Community: "San Pedro Necta", PeriodYear: 2025, Target: 350},
		{Community: "Todos Santos", PeriodYear: 2025, Target: 280},
	}
	var scopes []metrics.ScopeScore
	for _, c := range []string{"San Pedro Necta", "Todos Santos"} {
		cov := metrics.CoverageByCommunity(records, goals, c)
		scopes = append(scopes, metrics.ScopeScore{ID: c, Pct: cov.Pct})
	}
	ranked := metrics.RankScopes(scopes)
	if ranked[0].ID != "San Pedro Necta" || ranked[0].Pct != 100 {
		t.Fatalf("rank 1 = %+v", ranked[0])
	}
	if ranked[1].ID != "Todos Santos" || ranked[1].Pct != 90 {
		t.Fatalf("rank 2 = %+v", ranked[1])
	}
}

func TestMethodBreakdown(t *testing.T) {
	rec := approved("San Pedro Necta", "2025-09", 7)
	rec.TallyJSON = `{"iny_mensual":4,"pildoras":2,"diu":1}`
	skipped := pending("San Pedro Necta", "2025-09", 3)
	skipped.TallyJSON = `{"pildoras":3}`

	all := metrics.MethodBreakdown([]domain.Record{rec, skipped}, "")
	if all[domain.MethodInyMensual] != 4 || all[domain.MethodPildoras] != 2 || all[domain.MethodDIU] != 1 {
		t.Fatalf("breakdown = %v", all)
	}
	if len(all) != 3 {
		t.Fatalf("pending record counted: %v", all)
	}

	injectables := metrics.MethodBreakdown([]domain.Record{rec}, domain.CategoryInjectable)
	if len(injectables) != 1 || injectables[domain.MethodInyMensual] != 4 {
		t.Fatalf("injectable filter = %v", injectables)
	}
}

func TestTrendZeroFillsGaps(t *testing.T) {
	records := []domain.Record{
		approved("San Pedro Necta", "2025-07", 18),
		approved("San Pedro Necta", "2025-09", 24),
		pending("San Pedro Necta", "2025-08", 11),
	}
	got := metrics.Trend(records, []string{"2025-07", "2025-08", "2025-09"})
	want := []metrics.TrendPoint{
		{Period: "2025-07", Recorded: 18},
		{Period: "2025-08", Recorded: 0},
		{Period: "2025-09", Recorded: 24},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("trend = %+v, want %+v", got, want)
	}
}

func TestTierBoundaries(t *testing.T) {
	cases := []struct {
		pct  float64
		want metrics.Tier
	}{
		{0, metrics.TierCritical},
		{49.9, metrics.TierCritical},
		{50, metrics.TierAlert},
		{74.9, metrics.TierAlert},
		{75, metrics.TierOnTrack},
		{120, metrics.TierOnTrack},
	}
	for _, tc := range cases {
		if got := metrics.TierFor(tc.pct, metrics.DefaultThresholds); got != tc.want {
			t.Errorf("TierFor(%v) = %s, want %s", tc.pct, got, tc.want)
		}
	}
}
