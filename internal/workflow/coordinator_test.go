package workflow_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"planifica/internal/config"
	"planifica/internal/db"
	"planifica/internal/domain"
	"planifica/internal/engine"
	"planifica/internal/metrics"
	"planifica/internal/migrate"
	"planifica/internal/workflow"
)

type testEnv struct {
	Coord workflow.Coordinator
	Ctx   context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	eng := engine.New(conn, config.Default())
	eng.Now = func() time.Time { return time.Date(2025, 9, 15, 12, 0, 0, 0, time.UTC) }
	ctx := context.Background()
	actors := []domain.Actor{
		{ID: "auxiliar", DisplayName: "Auxiliar", Role: domain.RoleFieldWorker, Community: "San Pedro Necta"},
		{ID: "asistente", DisplayName: "Asistente", Role: domain.RoleSupervisor, Territory: "norte"},
		{ID: "encargado", DisplayName: "Encargado", Role: domain.RoleManager, Community: "San Pedro Necta"},
		{ID: "coordinadora", DisplayName: "Coordinadora", Role: domain.RoleCoordinator},
	}
	for _, a := range actors {
		a.CreatedAt = "2025-01-01T00:00:00Z"
		if err := eng.Repo.InsertActor(ctx, a); err != nil {
			t.Fatalf("seed actor %s: %v", a.ID, err)
		}
	}
	if _, err := eng.SetCommunityGoal(ctx, "coordinadora", "San Pedro Necta", 2025, 20, 1200); err != nil {
		t.Fatalf("seed goal: %v", err)
	}
	return testEnv{Coord: workflow.New(eng), Ctx: ctx}
}

func TestDefaultScopePerRole(t *testing.T) {
	cases := []struct {
		actor domain.Actor
		want  workflow.Scope
	}{
		{domain.Actor{Role: domain.RoleFieldWorker}, workflow.Scope{Kind: workflow.ScopeSelf}},
		{domain.Actor{Role: domain.RoleSupervisor, Territory: "norte"}, workflow.Scope{Kind: workflow.ScopeTerritory, ID: "norte"}},
		{domain.Actor{Role: domain.RoleManager}, workflow.Scope{Kind: workflow.ScopeMunicipality}},
		{domain.Actor{Role: domain.RoleCoordinator}, workflow.Scope{Kind: workflow.ScopeMunicipality}},
	}
	for _, tc := range cases {
		if got := workflow.DefaultScope(tc.actor); got != tc.want {
			t.Errorf("DefaultScope(%s) = %+v, want %+v", tc.actor.Role, got, tc.want)
		}
	}
}

func TestScopeAuthorization(t *testing.T) {
	env := newTestEnv(t)
	cases := []struct {
		actorID string
		scope   workflow.Scope
		allowed bool
	}{
		{"auxiliar", workflow.Scope{Kind: workflow.ScopeSelf}, true},
		{"auxiliar", workflow.Scope{Kind: workflow.ScopeCommunity, ID: "San Pedro Necta"}, false},
		{"auxiliar", workflow.Scope{Kind: workflow.ScopeMunicipality}, false},
		{"asistente", workflow.Scope{Kind: workflow.ScopeTerritory, ID: "norte"}, true},
		{"asistente", workflow.Scope{Kind: workflow.ScopeTerritory, ID: "sur"}, false},
		{"asistente", workflow.Scope{Kind: workflow.ScopeCommunity, ID: "San Pedro Necta"}, true},
		{"asistente", workflow.Scope{Kind: workflow.ScopeCommunity, ID: "Santa Bárbara"}, false},
		{"asistente", workflow.Scope{Kind: workflow.ScopeMunicipality}, false},
		{"encargado", workflow.Scope{Kind: workflow.ScopeMunicipality}, true},
		{"encargado", workflow.Scope{Kind: workflow.ScopeCommunity, ID: "San Pedro Necta"}, true},
		{"encargado", workflow.Scope{Kind: workflow.ScopeCommunity, ID: "Todos Santos"}, false},
		{"coordinadora", workflow.Scope{Kind: workflow.ScopeMunicipality}, true},
		{"coordinadora", workflow.Scope{Kind: workflow.ScopeTerritory, ID: "sur"}, true},
	}
	for _, tc := range cases {
		_, err := env.Coord.GetDashboard(env.Ctx, tc.actorID, tc.scope)
		var denied engine.ScopeForbiddenError
		if tc.allowed && err != nil {
			t.Errorf("%s %s/%s: unexpected error %v", tc.actorID, tc.scope.Kind, tc.scope.ID, err)
		}
		if !tc.allowed && !errors.As(err, &denied) {
			t.Errorf("%s %s/%s: want ScopeForbiddenError, got %v", tc.actorID, tc.scope.Kind, tc.scope.ID, err)
		}
	}
}

func TestWriteRecomputesDashboard(t *testing.T) {
	env := newTestEnv(t)
	res, err := env.Coord.SubmitRecord(env.Ctx, engine.SubmitOptions{
		ActorID:   "auxiliar",
		Community: "San Pedro Necta",
		Period:    "2025-09",
		Tally:     domain.Tally{domain.MethodInyMensual: 4, domain.MethodPildoras: 6},
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if res.Dashboard.PendingReview != 1 {
		t.Fatalf("pending review = %d, want 1", res.Dashboard.PendingReview)
	}
	if res.Dashboard.Provisional != 10 || res.Dashboard.Recorded != 0 {
		t.Fatalf("provisional=%d recorded=%d, want 10/0 before approval",
			res.Dashboard.Provisional, res.Dashboard.Recorded)
	}

	res, err = env.Coord.TransitionRecord(env.Ctx, engine.TransitionOptions{
		ActorID: "asistente", RecordID: res.Record.ID, Event: domain.EventApprove,
	})
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if res.Dashboard.Recorded != 10 || res.Dashboard.Provisional != 0 {
		t.Fatalf("recorded=%d provisional=%d, want 10/0 after approval",
			res.Dashboard.Recorded, res.Dashboard.Provisional)
	}
	if res.Dashboard.Pct != 50 {
		t.Fatalf("pct = %v, want 50 of target 20", res.Dashboard.Pct)
	}
	if res.Dashboard.Tier != metrics.TierAlert {
		t.Fatalf("tier = %s, want alert at 50%%", res.Dashboard.Tier)
	}
}

func TestDashboardExcludesPriorYearRecords(t *testing.T) {
	env := newTestEnv(t)
	submit := func(period string) string {
		t.Helper()
		res, err := env.Coord.SubmitRecord(env.Ctx, engine.SubmitOptions{
			ActorID:   "auxiliar",
			Community: "San Pedro Necta",
			Period:    period,
			Tally:     domain.Tally{domain.MethodPildoras: 8},
		})
		if err != nil {
			t.Fatalf("submit %s: %v", period, err)
		}
		return res.Record.ID
	}
	oldID := submit("2024-11")
	newID := submit("2025-08")
	for _, id := range []string{oldID, newID} {
		if _, err := env.Coord.TransitionRecord(env.Ctx, engine.TransitionOptions{
			ActorID: "asistente", RecordID: id, Event: domain.EventApprove,
		}); err != nil {
			t.Fatalf("approve %s: %v", id, err)
		}
	}
	submit("2024-12")

	d, err := env.Coord.GetDashboard(env.Ctx, "coordinadora", workflow.Scope{})
	if err != nil {
		t.Fatalf("dashboard: %v", err)
	}
	if d.Recorded != 8 {
		t.Fatalf("recorded = %d, want 8 (2024 records excluded from 2025 coverage)", d.Recorded)
	}
	if d.Pct != 40 {
		t.Fatalf("pct = %v, want 40 of target 20", d.Pct)
	}
	if d.Breakdown[domain.MethodPildoras] != 8 {
		t.Fatalf("breakdown = %v, want only the 2025 approval", d.Breakdown)
	}
	// the backlog spans years
	if d.PendingReview != 1 {
		t.Fatalf("pending review = %d, want the open 2024 record", d.PendingReview)
	}
}

func TestFieldWorkerDashboardIsSelfScoped(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Coord.SubmitRecord(env.Ctx, engine.SubmitOptions{
		ActorID:   "auxiliar",
		Community: "San Pedro Necta",
		Period:    "2025-09",
		Tally:     domain.Tally{domain.MethodDIU: 2},
	}); err != nil {
		t.Fatal(err)
	}
	d, err := env.Coord.GetDashboard(env.Ctx, "auxiliar", workflow.Scope{})
	if err != nil {
		t.Fatalf("dashboard: %v", err)
	}
	if d.Scope.Kind != workflow.ScopeSelf {
		t.Fatalf("scope = %s, want self", d.Scope.Kind)
	}
	if d.PendingReview != 1 {
		t.Fatalf("pending review = %d, want 1", d.PendingReview)
	}
}

func TestDashboardTrendCoversTrailingMonths(t *testing.T) {
	env := newTestEnv(t)
	d, err := env.Coord.GetDashboard(env.Ctx, "coordinadora", workflow.Scope{})
	if err != nil {
		t.Fatalf("dashboard: %v", err)
	}
	if len(d.Trend) != 6 {
		t.Fatalf("trend points = %d, want 6", len(d.Trend))
	}
	if d.Trend[0].Period != "2025-04" || d.Trend[5].Period != "2025-09" {
		t.Fatalf("trend window = %s..%s, want 2025-04..2025-09",
			d.Trend[0].Period, d.Trend[5].Period)
	}
}

func TestRankingIsStableAcrossRecompute(t *testing.T) {
	env := newTestEnv(t)
	eng := env.Coord.Engine
	if _, err := eng.SetCommunityGoal(env.Ctx, "coordinadora", "Todos Santos", 2025, 20, 980); err != nil {
		t.Fatal(err)
	}
	first, err := env.Coord.GetDashboard(env.Ctx, "coordinadora", workflow.Scope{})
	if err != nil {
		t.Fatal(err)
	}
	second, err := env.Coord.GetDashboard(env.Ctx, "coordinadora", workflow.Scope{})
	if err != nil {
		t.Fatal(err)
	}
	if len(first.Ranking) != len(second.Ranking) {
		t.Fatalf("ranking length changed: %d vs %d", len(first.Ranking), len(second.Ranking))
	}
	for i := range first.Ranking {
		if first.Ranking[i] != second.Ranking[i] {
			t.Fatalf("ranking not stable at %d: %+v vs %+v", i, first.Ranking[i], second.Ranking[i])
		}
	}
}
