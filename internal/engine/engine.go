package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"planifica/internal/config"
	"planifica/internal/domain"
	"planifica/internal/events"
	"planifica/internal/repo"
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Config: cfg,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// SubmitOptions are parameters for submitting a monthly record.
type SubmitOptions struct {
	ID            string
	ActorID       string
	Community     string
	Period        string
	Tally         domain.Tally
	DeclaredTotal *int
}

// SubmitRecord creates a record in pending with its first log entry. A
// non-terminal record for the same (owner, period) blocks resubmission;
// a terminal one becomes the supersedes target.
func (e Engine) SubmitRecord(ctx context.Context, opts SubmitOptions) (domain.Record, error) {
	if opts.ActorID == "" {
		return domain.Record{}, errors.New("actor is required")
	}
	if opts.Community == "" {
		return domain.Record{}, errors.New("community is required")
	}
	if _, err := domain.ParsePeriod(opts.Period); err != nil {
		return domain.Record{}, err
	}
	if err := opts.Tally.Validate(); err != nil {
		return domain.Record{}, err
	}
	total := opts.Tally.Total()
	if opts.DeclaredTotal != nil && *opts.DeclaredTotal != total {
		return domain.Record{}, InvalidTotalError{Declared: *opts.DeclaredTotal, Computed: total}
	}
	tallyJSON, err := json.Marshal(opts.Tally)
	if err != nil {
		return domain.Record{}, err
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Record{}, err
	}
	defer tx.Rollback()

	if _, err := e.Repo.GetActorTx(ctx, tx, opts.ActorID); err != nil {
		return domain.Record{}, fmt.Errorf("actor %s: %w", opts.ActorID, err)
	}

	var supersedes *string
	prior, err := e.Repo.LatestOwnerPeriodRecord(ctx, tx, opts.ActorID, opts.Period)
	if err == nil {
		if !prior.State.Terminal() {
			return domain.Record{}, DuplicatePeriodError{OwnerActorID: opts.ActorID, Period: opts.Period, ExistingID: prior.ID}
		}
		supersedes = &prior.ID
	} else if err != repo.ErrNotFound {
		return domain.Record{}, err
	}

	now := e.now().UTC().Format(time.RFC3339)
	rec := domain.Record{
		ID:           opts.ID,
		OwnerActorID: opts.ActorID,
		Community:    opts.Community,
		Period:       opts.Period,
		TallyJSON:    string(tallyJSON),
		Total:        total,
		State:        domain.StatePending,
		Supersedes:   supersedes,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if err := e.Repo.InsertRecord(ctx, tx, rec); err != nil {
		return domain.Record{}, fmt.Errorf("insert record: %w", err)
	}
	if _, err := e.Repo.AppendTransition(ctx, tx, domain.Transition{
		RecordID: rec.ID,
		ToState:  domain.StatePending,
		ActorID:  opts.ActorID,
		TS:       now,
	}); err != nil {
		return domain.Record{}, err
	}
	payload := events.EventPayload{"community": rec.Community, "period": rec.Period, "total": rec.Total}
	if supersedes != nil {
		payload["supersedes"] = *supersedes
	}
	if err := e.Events.Append(ctx, tx, "record.submitted", "record", rec.ID, opts.ActorID, payload); err != nil {
		return domain.Record{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Record{}, err
	}
	return rec, nil
}

// TransitionOptions are parameters for one review transition.
type TransitionOptions struct {
	ActorID  string
	RecordID string
	Event    domain.TransitionEvent
	Comment  *string
}

// targetState returns the destination for an event from a state, or an
// InvalidTransitionError. Direct approval and rejection from pending are
// permitted.
func targetState(from domain.RecordState, event domain.TransitionEvent) (domain.RecordState, error) {
	switch from {
	case domain.StatePending:
		switch event {
		case domain.EventStartReview:
			return domain.StateInReview, nil
		case domain.EventApprove:
			return domain.StateApproved, nil
		case domain.EventReject:
			return domain.StateRejected, nil
		}
	case domain.StateInReview:
		switch event {
		case domain.EventApprove:
			return domain.StateApproved, nil
		case domain.EventReject:
			return domain.StateRejected, nil
		case domain.EventRequestRevision:
			return domain.StatePending, nil
		}
	}
	return "", InvalidTransitionError{From: from, Event: event}
}

func commentRequired(event domain.TransitionEvent) bool {
	return event == domain.EventReject || event == domain.EventRequestRevision
}

// TransitionRecord applies one review event. The log entry and the cached
// state commit atomically, or neither does.
func (e Engine) TransitionRecord(ctx context.Context, opts TransitionOptions) (domain.Record, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Record{}, err
	}
	defer tx.Rollback()

	rec, err := e.Repo.GetRecordTx(ctx, tx, opts.RecordID)
	if err != nil {
		return domain.Record{}, err
	}
	actor, err := e.Repo.GetActorTx(ctx, tx, opts.ActorID)
	if err != nil {
		return domain.Record{}, fmt.Errorf("actor %s: %w", opts.ActorID, err)
	}
	if rec.State.Terminal() {
		return rec, TerminalStateError{Record: rec}
	}
	if !actor.Role.CanReview() {
		return rec, ForbiddenError{Role: actor.Role, Action: "review records"}
	}
	to, err := targetState(rec.State, opts.Event)
	if err != nil {
		return rec, err
	}
	if commentRequired(opts.Event) && (opts.Comment == nil || *opts.Comment == "") {
		return rec, CommentRequiredError{Event: opts.Event}
	}

	now := e.now().UTC().Format(time.RFC3339)
	entry, err := e.Repo.AppendTransition(ctx, tx, domain.Transition{
		RecordID:  rec.ID,
		FromState: rec.State,
		ToState:   to,
		ActorID:   opts.ActorID,
		TS:        now,
		Comment:   opts.Comment,
	})
	if err != nil {
		return rec, err
	}
	applyTransition(&rec, entry)
	rec.UpdatedAt = now
	if err := e.Repo.UpdateRecord(ctx, tx, rec); err != nil {
		return rec, err
	}
	payload := events.EventPayload{"from": string(entry.FromState), "to": string(to)}
	if opts.Comment != nil {
		payload["comment"] = *opts.Comment
	}
	if err := e.Events.Append(ctx, tx, "record."+string(opts.Event), "record", rec.ID, opts.ActorID, payload); err != nil {
		return rec, err
	}
	if err := tx.Commit(); err != nil {
		return rec, err
	}
	return rec, nil
}

// applyTransition projects one accepted log entry onto the cached record.
func applyTransition(rec *domain.Record, entry domain.Transition) {
	rec.State = entry.ToState
	switch entry.ToState {
	case domain.StateApproved, domain.StateRejected:
		actor := entry.ActorID
		rec.ReviewerActorID = &actor
		if entry.Comment != nil {
			rec.ReviewComments = entry.Comment
		}
	case domain.StatePending:
		if entry.FromState == domain.StateInReview {
			rec.RevisionCount++
			if entry.Comment != nil {
				rec.ReviewComments = entry.Comment
			}
		}
	case domain.StateInReview:
		actor := entry.ActorID
		rec.ReviewerActorID = &actor
	}
}

// AddComment attaches a reviewer note without changing state. Allowed at
// any point in the lifecycle, terminal states included.
func (e Engine) AddComment(ctx context.Context, actorID, recordID, comment string) (domain.Record, error) {
	if comment == "" {
		return domain.Record{}, errors.New("comment is required")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Record{}, err
	}
	defer tx.Rollback()

	rec, err := e.Repo.GetRecordTx(ctx, tx, recordID)
	if err != nil {
		return domain.Record{}, err
	}
	if _, err := e.Repo.GetActorTx(ctx, tx, actorID); err != nil {
		return domain.Record{}, fmt.Errorf("actor %s: %w", actorID, err)
	}
	rec.ReviewComments = &comment
	rec.UpdatedAt = e.now().UTC().Format(time.RFC3339)
	if err := e.Repo.UpdateRecord(ctx, tx, rec); err != nil {
		return rec, err
	}
	if err := e.Events.Append(ctx, tx, "record.commented", "record", rec.ID, actorID, events.EventPayload{"comment": comment}); err != nil {
		return rec, err
	}
	if err := tx.Commit(); err != nil {
		return rec, err
	}
	return rec, nil
}

// Replay rebuilds a record's state from its transition log. The log is the
// source of truth; the stored state column is a cached projection of it.
func Replay(entries []domain.Transition) (domain.RecordState, error) {
	var state domain.RecordState
	for i, entry := range entries {
		if i == 0 {
			if entry.FromState != "" {
				return "", fmt.Errorf("first log entry departs %s, want submission", entry.FromState)
			}
		} else if entry.FromState != state {
			return "", fmt.Errorf("log entry %d departs %s but record was %s", i, entry.FromState, state)
		}
		state = entry.ToState
	}
	if state == "" {
		return "", errors.New("empty transition log")
	}
	return state, nil
}

// MergeOptions carry a device-local transition log for reconciliation.
type MergeOptions struct {
	ActorID  string
	RecordID string
	Entries  []domain.Transition
}

// MergeTransitions reconciles an offline device log with the stored one.
// Entries merge in (ts, id) order; an entry departing a state the record
// has already left fails with ConflictingTransition and nothing from that
// entry onward is applied. Accepted entries commit atomically.
func (e Engine) MergeTransitions(ctx context.Context, opts MergeOptions) (domain.Record, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Record{}, err
	}
	defer tx.Rollback()

	rec, err := e.Repo.GetRecordTx(ctx, tx, opts.RecordID)
	if err != nil {
		return domain.Record{}, err
	}
	existing, err := e.Repo.ListTransitionsTx(ctx, tx, opts.RecordID)
	if err != nil {
		return rec, err
	}
	state, err := Replay(existing)
	if err != nil {
		return rec, err
	}

	seen := map[string]bool{}
	for _, entry := range existing {
		seen[mergeKey(entry)] = true
	}
	incoming := make([]domain.Transition, 0, len(opts.Entries))
	for _, entry := range opts.Entries {
		if !seen[mergeKey(entry)] {
			incoming = append(incoming, entry)
		}
	}
	sort.SliceStable(incoming, func(i, j int) bool {
		if incoming[i].TS != incoming[j].TS {
			return incoming[i].TS < incoming[j].TS
		}
		return incoming[i].ID < incoming[j].ID
	})

	applied := 0
	for _, entry := range incoming {
		if state.Terminal() {
			return rec, TerminalStateError{Record: rec}
		}
		if entry.FromState != state {
			return rec, ConflictingTransitionError{Record: rec, Entry: entry, State: state}
		}
		if _, err := stateMachineEvent(entry.FromState, entry.ToState); err != nil {
			return rec, err
		}
		stored, err := e.Repo.AppendTransition(ctx, tx, domain.Transition{
			RecordID:  rec.ID,
			FromState: entry.FromState,
			ToState:   entry.ToState,
			ActorID:   entry.ActorID,
			TS:        entry.TS,
			Comment:   entry.Comment,
		})
		if err != nil {
			return rec, err
		}
		applyTransition(&rec, stored)
		state = rec.State
		applied++
	}
	if applied == 0 {
		return rec, tx.Commit()
	}
	rec.UpdatedAt = e.now().UTC().Format(time.RFC3339)
	if err := e.Repo.UpdateRecord(ctx, tx, rec); err != nil {
		return rec, err
	}
	if err := e.Events.Append(ctx, tx, "record.synced", "record", rec.ID, opts.ActorID,
		events.EventPayload{"applied": applied, "state": string(rec.State)}); err != nil {
		return rec, err
	}
	if err := tx.Commit(); err != nil {
		return rec, err
	}
	return rec, nil
}

func mergeKey(t domain.Transition) string {
	return t.TS + "|" + string(t.FromState) + "|" + string(t.ToState) + "|" + t.ActorID
}

// stateMachineEvent maps a (from, to) pair back to its event, rejecting
// pairs the state machine never produces.
func stateMachineEvent(from, to domain.RecordState) (domain.TransitionEvent, error) {
	for _, event := range []domain.TransitionEvent{
		domain.EventStartReview, domain.EventApprove, domain.EventReject, domain.EventRequestRevision,
	} {
		if target, err := targetState(from, event); err == nil && target == to {
			return event, nil
		}
	}
	return "", fmt.Errorf("no transition from %s to %s", from, to)
}

// SetMethodGoal upserts the annual target for a method, last write wins.
func (e Engine) SetMethodGoal(ctx context.Context, actorID string, method domain.Method, year, target int) (domain.MethodGoal, error) {
	if !method.Known() {
		return domain.MethodGoal{}, fmt.Errorf("unknown method %q", method)
	}
	if target < 0 {
		return domain.MethodGoal{}, InvalidTargetError{Target: target}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.MethodGoal{}, err
	}
	defer tx.Rollback()

	actor, err := e.Repo.GetActorTx(ctx, tx, actorID)
	if err != nil {
		return domain.MethodGoal{}, fmt.Errorf("actor %s: %w", actorID, err)
	}
	if !actor.Role.CanManageGoals() {
		return domain.MethodGoal{}, ForbiddenError{Role: actor.Role, Action: "manage goals"}
	}
	oldTarget := 0
	if prev, err := e.Repo.GetMethodGoal(ctx, tx, method, year); err == nil {
		oldTarget = prev.Target
	} else if err != repo.ErrNotFound {
		return domain.MethodGoal{}, err
	}
	g := domain.MethodGoal{
		Method:     method,
		PeriodYear: year,
		Target:     target,
		UpdatedAt:  e.now().UTC().Format(time.RFC3339),
	}
	if err := e.Repo.UpsertMethodGoal(ctx, tx, g); err != nil {
		return domain.MethodGoal{}, err
	}
	if err := e.Events.Append(ctx, tx, "goal.method.updated", "method_goal", string(method), actorID,
		events.EventPayload{"year": year, "old_target": oldTarget, "new_target": target}); err != nil {
		return domain.MethodGoal{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.MethodGoal{}, err
	}
	return g, nil
}

// SetCommunityGoal upserts the annual target and MEF population for a community.
func (e Engine) SetCommunityGoal(ctx context.Context, actorID, community string, year, target, mefPopulation int) (domain.CommunityGoal, error) {
	if community == "" {
		return domain.CommunityGoal{}, errors.New("community is required")
	}
	if target < 0 {
		return domain.CommunityGoal{}, InvalidTargetError{Target: target}
	}
	if mefPopulation < 0 {
		return domain.CommunityGoal{}, InvalidTargetError{Target: mefPopulation}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.CommunityGoal{}, err
	}
	defer tx.Rollback()

	actor, err := e.Repo.GetActorTx(ctx, tx, actorID)
	if err != nil {
		return domain.CommunityGoal{}, fmt.Errorf("actor %s: %w", actorID, err)
	}
	if !actor.Role.CanManageGoals() {
		return domain.CommunityGoal{}, ForbiddenError{Role: actor.Role, Action: "manage goals"}
	}
	oldTarget := 0
	if prev, err := e.Repo.GetCommunityGoal(ctx, tx, community, year); err == nil {
		oldTarget = prev.Target
	} else if err != repo.ErrNotFound {
		return domain.CommunityGoal{}, err
	}
	g := domain.CommunityGoal{
		Community:     community,
		PeriodYear:    year,
		Target:        target,
		MEFPopulation: mefPopulation,
		UpdatedAt:     e.now().UTC().Format(time.RFC3339),
	}
	if err := e.Repo.UpsertCommunityGoal(ctx, tx, g); err != nil {
		return domain.CommunityGoal{}, err
	}
	if err := e.Events.Append(ctx, tx, "goal.community.updated", "community_goal", community, actorID,
		events.EventPayload{"year": year, "old_target": oldTarget, "new_target": target, "mef_population": mefPopulation}); err != nil {
		return domain.CommunityGoal{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.CommunityGoal{}, err
	}
	return g, nil
}

// TotalAnnualTarget sums all method goals for a year.
func (e Engine) TotalAnnualTarget(ctx context.Context, year int) (int, error) {
	goals, err := e.Repo.ListMethodGoals(ctx, year)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, g := range goals {
		total += g.Target
	}
	return total, nil
}

// VerifyReplay recomputes a record's state from its log and compares it to
// the cached column. Backs the record verify command.
func (e Engine) VerifyReplay(ctx context.Context, recordID string) error {
	rec, err := e.Repo.GetRecord(ctx, recordID)
	if err != nil {
		return err
	}
	log, err := e.Repo.ListTransitions(ctx, recordID)
	if err != nil {
		return err
	}
	state, err := Replay(log)
	if err != nil {
		return err
	}
	if state != rec.State {
		return fmt.Errorf("record %s cached state %s but replay yields %s", rec.ID, rec.State, state)
	}
	return nil
}
