package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"planifica/internal/config"
	"planifica/internal/db"
	"planifica/internal/domain"
	"planifica/internal/engine"
	"planifica/internal/migrate"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
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
	return testEnv{Engine: eng, Ctx: ctx}
}

func submit(t *testing.T, env testEnv, period string) domain.Record {
	t.Helper()
	rec, err := env.Engine.SubmitRecord(env.Ctx, engine.SubmitOptions{
		ActorID:   "auxiliar",
		Community: "San Pedro Necta",
		Period:    period,
		Tally: domain.Tally{
			domain.MethodInyMensual: 4,
			domain.MethodPildoras:   2,
			domain.MethodDIU:        1,
		},
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	return rec
}

func TestSubmitComputesTotal(t *testing.T) {
	env := newTestEnv(t)
	rec := submit(t, env, "2025-09")
	if rec.State != domain.StatePending {
		t.Fatalf("state = %s, want pending", rec.State)
	}
	if rec.Total != 7 {
		t.Fatalf("total = %d, want 7", rec.Total)
	}
	stored, err := env.Engine.Repo.GetRecord(env.Ctx, rec.ID)
	if err != nil {
		t.Fatalf("reload record: %v", err)
	}
	if stored.TallyJSON != rec.TallyJSON || stored.Total != 7 {
		t.Fatalf("stored tally = %q total %d, want %q total 7", stored.TallyJSON, stored.Total, rec.TallyJSON)
	}
	log, err := env.Engine.Repo.ListTransitions(env.Ctx, rec.ID)
	if err != nil {
		t.Fatalf("list transitions: %v", err)
	}
	if len(log) != 1 || log[0].FromState != "" || log[0].ToState != domain.StatePending {
		t.Fatalf("unexpected first log entry: %+v", log)
	}
}

func TestDeclaredTotalMismatch(t *testing.T) {
	env := newTestEnv(t)
	declared := 10
	_, err := env.Engine.SubmitRecord(env.Ctx, engine.SubmitOptions{
		ActorID:       "auxiliar",
		Community:     "San Pedro Necta",
		Period:        "2025-09",
		Tally:         domain.Tally{domain.MethodPildoras: 3},
		DeclaredTotal: &declared,
	})
	var totalErr engine.InvalidTotalError
	if !errors.As(err, &totalErr) {
		t.Fatalf("want InvalidTotalError, got %v", err)
	}
	if totalErr.Declared != 10 || totalErr.Computed != 3 {
		t.Fatalf("unexpected error fields: %+v", totalErr)
	}
}

func TestDuplicatePeriodBlocksOpenRecord(t *testing.T) {
	env := newTestEnv(t)
	first := submit(t, env, "2025-09")
	_, err := env.Engine.SubmitRecord(env.Ctx, engine.SubmitOptions{
		ActorID:   "auxiliar",
		Community: "San Pedro Necta",
		Period:    "2025-09",
		Tally:     domain.Tally{domain.MethodDIU: 1},
	})
	var dupErr engine.DuplicatePeriodError
	if !errors.As(err, &dupErr) {
		t.Fatalf("want DuplicatePeriodError, got %v", err)
	}
	if dupErr.ExistingID != first.ID {
		t.Fatalf("existing id = %s, want %s", dupErr.ExistingID, first.ID)
	}
	// a record for another period is fine
	if _, err := env.Engine.SubmitRecord(env.Ctx, engine.SubmitOptions{
		ActorID:   "auxiliar",
		Community: "San Pedro Necta",
		Period:    "2025-10",
		Tally:     domain.Tally{domain.MethodDIU: 1},
	}); err != nil {
		t.Fatalf("other period: %v", err)
	}
}

func TestResubmitAfterRejectionSupersedes(t *testing.T) {
	env := newTestEnv(t)
	first := submit(t, env, "2025-09")
	if _, err := env.Engine.TransitionRecord(env.Ctx, engine.TransitionOptions{
		ActorID: "asistente", RecordID: first.ID, Event: domain.EventStartReview,
	}); err != nil {
		t.Fatalf("start_review: %v", err)
	}
	comment := "revisar dispositivos"
	rejected, err := env.Engine.TransitionRecord(env.Ctx, engine.TransitionOptions{
		ActorID: "asistente", RecordID: first.ID, Event: domain.EventReject, Comment: &comment,
	})
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if rejected.ReviewComments == nil || *rejected.ReviewComments != comment {
		t.Fatalf("comment = %v, want %q", rejected.ReviewComments, comment)
	}
	// the rejected record is closed
	_, err = env.Engine.TransitionRecord(env.Ctx, engine.TransitionOptions{
		ActorID: "asistente", RecordID: first.ID, Event: domain.EventStartReview,
	})
	var terminal engine.TerminalStateError
	if !errors.As(err, &terminal) {
		t.Fatalf("want TerminalStateError on retry, got %v", err)
	}
	second := submit(t, env, "2025-09")
	if second.Supersedes == nil || *second.Supersedes != first.ID {
		t.Fatalf("supersedes = %v, want %s", second.Supersedes, first.ID)
	}
}

func TestReviewFlow(t *testing.T) {
	env := newTestEnv(t)
	rec := submit(t, env, "2025-09")
	rec, err := env.Engine.TransitionRecord(env.Ctx, engine.TransitionOptions{
		ActorID: "asistente", RecordID: rec.ID, Event: domain.EventStartReview,
	})
	if err != nil || rec.State != domain.StateInReview {
		t.Fatalf("start_review: state=%s err=%v", rec.State, err)
	}
	rec, err = env.Engine.TransitionRecord(env.Ctx, engine.TransitionOptions{
		ActorID: "asistente", RecordID: rec.ID, Event: domain.EventApprove,
	})
	if err != nil || rec.State != domain.StateApproved {
		t.Fatalf("approve: state=%s err=%v", rec.State, err)
	}
	if rec.ReviewerActorID == nil || *rec.ReviewerActorID != "asistente" {
		t.Fatalf("reviewer = %v, want asistente", rec.ReviewerActorID)
	}
}

func TestDirectApproveFromPending(t *testing.T) {
	env := newTestEnv(t)
	rec := submit(t, env, "2025-09")
	rec, err := env.Engine.TransitionRecord(env.Ctx, engine.TransitionOptions{
		ActorID: "encargado", RecordID: rec.ID, Event: domain.EventApprove,
	})
	if err != nil || rec.State != domain.StateApproved {
		t.Fatalf("direct approve: state=%s err=%v", rec.State, err)
	}
}

func TestRequestRevisionIncrementsCount(t *testing.T) {
	env := newTestEnv(t)
	rec := submit(t, env, "2025-09")
	if _, err := env.Engine.TransitionRecord(env.Ctx, engine.TransitionOptions{
		ActorID: "asistente", RecordID: rec.ID, Event: domain.EventStartReview,
	}); err != nil {
		t.Fatal(err)
	}
	comment := "faltan orales"
	rec, err := env.Engine.TransitionRecord(env.Ctx, engine.TransitionOptions{
		ActorID: "asistente", RecordID: rec.ID, Event: domain.EventRequestRevision, Comment: &comment,
	})
	if err != nil {
		t.Fatalf("request_revision: %v", err)
	}
	if rec.State != domain.StatePending || rec.RevisionCount != 1 {
		t.Fatalf("state=%s revisions=%d, want pending/1", rec.State, rec.RevisionCount)
	}
}

func TestCommentRequiredOnReject(t *testing.T) {
	env := newTestEnv(t)
	rec := submit(t, env, "2025-09")
	_, err := env.Engine.TransitionRecord(env.Ctx, engine.TransitionOptions{
		ActorID: "asistente", RecordID: rec.ID, Event: domain.EventReject,
	})
	var commentErr engine.CommentRequiredError
	if !errors.As(err, &commentErr) {
		t.Fatalf("want CommentRequiredError, got %v", err)
	}
}

func TestFieldWorkerCannotReview(t *testing.T) {
	env := newTestEnv(t)
	rec := submit(t, env, "2025-09")
	_, err := env.Engine.TransitionRecord(env.Ctx, engine.TransitionOptions{
		ActorID: "auxiliar", RecordID: rec.ID, Event: domain.EventStartReview,
	})
	var forbidden engine.ForbiddenError
	if !errors.As(err, &forbidden) {
		t.Fatalf("want ForbiddenError, got %v", err)
	}
}

func TestTerminalRecordClosed(t *testing.T) {
	env := newTestEnv(t)
	rec := submit(t, env, "2025-09")
	if _, err := env.Engine.TransitionRecord(env.Ctx, engine.TransitionOptions{
		ActorID: "asistente", RecordID: rec.ID, Event: domain.EventApprove,
	}); err != nil {
		t.Fatal(err)
	}
	_, err := env.Engine.TransitionRecord(env.Ctx, engine.TransitionOptions{
		ActorID: "asistente", RecordID: rec.ID, Event: domain.EventStartReview,
	})
	var terminal engine.TerminalStateError
	if !errors.As(err, &terminal) {
		t.Fatalf("want TerminalStateError, got %v", err)
	}
	if terminal.Record.ID != rec.ID || terminal.Record.State != domain.StateApproved {
		t.Fatalf("terminal error lacks authoritative record: %+v", terminal.Record)
	}
}

func TestReplayMatchesCachedState(t *testing.T) {
	env := newTestEnv(t)
	rec := submit(t, env, "2025-09")
	if _, err := env.Engine.TransitionRecord(env.Ctx, engine.TransitionOptions{
		ActorID: "asistente", RecordID: rec.ID, Event: domain.EventStartReview,
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.TransitionRecord(env.Ctx, engine.TransitionOptions{
		ActorID: "asistente", RecordID: rec.ID, Event: domain.EventApprove,
	}); err != nil {
		t.Fatal(err)
	}
	if err := env.Engine.VerifyReplay(env.Ctx, rec.ID); err != nil {
		t.Fatalf("verify replay: %v", err)
	}
	log, err := env.Engine.Repo.ListTransitions(env.Ctx, rec.ID)
	if err != nil {
		t.Fatal(err)
	}
	state, err := engine.Replay(log)
	if err != nil || state != domain.StateApproved {
		t.Fatalf("replay = %s, %v; want approved", state, err)
	}
}

func TestMergeAppliesOfflineLog(t *testing.T) {
	env := newTestEnv(t)
	rec := submit(t, env, "2025-09")
	comment := "ok"
	rec, err := env.Engine.MergeTransitions(env.Ctx, engine.MergeOptions{
		ActorID:  "asistente",
		RecordID: rec.ID,
		Entries: []domain.Transition{
			{FromState: domain.StateInReview, ToState: domain.StateApproved, ActorID: "asistente", TS: "2025-09-16T09:05:00Z", Comment: &comment},
			{FromState: domain.StatePending, ToState: domain.StateInReview, ActorID: "asistente", TS: "2025-09-16T09:00:00Z"},
		},
	})
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if rec.State != domain.StateApproved {
		t.Fatalf("state = %s, want approved", rec.State)
	}
	// replaying again with the same entries is a no-op
	again, err := env.Engine.MergeTransitions(env.Ctx, engine.MergeOptions{
		ActorID:  "asistente",
		RecordID: rec.ID,
		Entries: []domain.Transition{
			{FromState: domain.StatePending, ToState: domain.StateInReview, ActorID: "asistente", TS: "2025-09-16T09:00:00Z"},
		},
	})
	if err != nil || again.State != domain.StateApproved {
		t.Fatalf("idempotent merge: state=%s err=%v", again.State, err)
	}
}

func TestMergeConflictFailsLaterEntry(t *testing.T) {
	env := newTestEnv(t)
	rec := submit(t, env, "2025-09")
	// the record moved to in_review online
	if _, err := env.Engine.TransitionRecord(env.Ctx, engine.TransitionOptions{
		ActorID: "asistente", RecordID: rec.ID, Event: domain.EventStartReview,
	}); err != nil {
		t.Fatal(err)
	}
	// a second device also departed pending, later
	_, err := env.Engine.MergeTransitions(env.Ctx, engine.MergeOptions{
		ActorID:  "encargado",
		RecordID: rec.ID,
		Entries: []domain.Transition{
			{FromState: domain.StatePending, ToState: domain.StateApproved, ActorID: "encargado", TS: "2025-09-17T08:00:00Z"},
		},
	})
	var conflict engine.ConflictingTransitionError
	if !errors.As(err, &conflict) {
		t.Fatalf("want ConflictingTransitionError, got %v", err)
	}
	if conflict.State != domain.StateInReview {
		t.Fatalf("conflict state = %s, want in_review", conflict.State)
	}
	// nothing was applied
	cur, err := env.Engine.Repo.GetRecord(env.Ctx, rec.ID)
	if err != nil || cur.State != domain.StateInReview {
		t.Fatalf("record state = %s err=%v, want in_review", cur.State, err)
	}
}

func TestGoalGuards(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.SetMethodGoal(env.Ctx, "encargado", domain.MethodPildoras, 2025, 420); err != nil {
		t.Fatalf("manager set goal: %v", err)
	}
	_, err := env.Engine.SetMethodGoal(env.Ctx, "asistente", domain.MethodPildoras, 2025, 100)
	var forbidden engine.ForbiddenError
	if !errors.As(err, &forbidden) {
		t.Fatalf("want ForbiddenError for supervisor, got %v", err)
	}
	_, err = env.Engine.SetMethodGoal(env.Ctx, "encargado", domain.MethodPildoras, 2025, -5)
	var target engine.InvalidTargetError
	if !errors.As(err, &target) {
		t.Fatalf("want InvalidTargetError, got %v", err)
	}
	_, err = env.Engine.SetMethodGoal(env.Ctx, "encargado", "pastillas_magicas", 2025, 10)
	if err == nil {
		t.Fatalf("expected unknown method error")
	}
}

func TestLastWriteWinsOnGoals(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.SetCommunityGoal(env.Ctx, "coordinadora", "San Pedro Necta", 2025, 300, 1200); err != nil {
		t.Fatal(err)
	}
	g, err := env.Engine.SetCommunityGoal(env.Ctx, "encargado", "San Pedro Necta", 2025, 350, 1200)
	if err != nil {
		t.Fatal(err)
	}
	if g.Target != 350 {
		t.Fatalf("target = %d, want 350", g.Target)
	}
	stored, err := env.Engine.Repo.GetCommunityGoal(env.Ctx, nil, "San Pedro Necta", 2025)
	if err != nil || stored.Target != 350 {
		t.Fatalf("stored target = %d err=%v", stored.Target, err)
	}
}

func TestTotalAnnualTarget(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.SetMethodGoal(env.Ctx, "coordinadora", domain.MethodPildoras, 2025, 420); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.SetMethodGoal(env.Ctx, "coordinadora", domain.MethodDIU, 2025, 180); err != nil {
		t.Fatal(err)
	}
	total, err := env.Engine.TotalAnnualTarget(env.Ctx, 2025)
	if err != nil || total != 600 {
		t.Fatalf("total = %d err=%v, want 600", total, err)
	}
}

func TestEventAppendedOnStateChanges(t *testing.T) {
	env := newTestEnv(t)
	rec := submit(t, env, "2025-09")
	if _, err := env.Engine.TransitionRecord(env.Ctx, engine.TransitionOptions{
		ActorID: "asistente", RecordID: rec.ID, Event: domain.EventApprove,
	}); err != nil {
		t.Fatal(err)
	}
	rows, err := env.Engine.DB.QueryContext(env.Ctx, `SELECT type FROM events WHERE entity_id=?`, rec.ID)
	if err != nil {
		t.Fatalf("query events: %v", err)
	}
	defer rows.Close()
	types := map[string]bool{}
	for rows.Next() {
		var typ string
		if err := rows.Scan(&typ); err != nil {
			t.Fatal(err)
		}
		types[typ] = true
	}
	if !types["record.submitted"] || !types["record.approve"] {
		t.Fatalf("missing events, got %v", types)
	}
}
