// Package workflow is the façade in front of the state machine and the
// metrics engine. It is the only caller allowed to use both, so every
// successful write is followed by a consistent recompute before a view
// goes back to the caller.
package workflow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"planifica/internal/domain"
	"planifica/internal/engine"
	"planifica/internal/metrics"
	"planifica/internal/repo"
)

type Coordinator struct {
	Engine engine.Engine
}

func New(e engine.Engine) Coordinator {
	return Coordinator{Engine: e}
}

// ScopeKind selects how wide a dashboard looks.
type ScopeKind string

const (
	ScopeSelf         ScopeKind = "self"
	ScopeCommunity    ScopeKind = "community"
	ScopeTerritory    ScopeKind = "territory"
	ScopeMunicipality ScopeKind = "municipality"
)

// Scope is a dashboard visibility request. ID is the community or
// territory name; empty for self and municipality.
type Scope struct {
	Kind ScopeKind `json:"kind" enum:"self,community,territory,municipality"`
	ID   string    `json:"id,omitempty"`
}

// DefaultScope is the widest scope a role may see.
func DefaultScope(actor domain.Actor) Scope {
	switch actor.Role {
	case domain.RoleFieldWorker:
		return Scope{Kind: ScopeSelf}
	case domain.RoleSupervisor:
		return Scope{Kind: ScopeTerritory, ID: actor.Territory}
	case domain.RoleManager, domain.RoleCoordinator:
		return Scope{Kind: ScopeMunicipality}
	}
	return Scope{Kind: ScopeSelf}
}

// authorizeScope enforces the visibility matrix: field workers see their
// own records, supervisors their territory, managers their community plus
// the municipality, coordinators the whole municipality.
func (c Coordinator) authorizeScope(actor domain.Actor, scope Scope) error {
	deny := engine.ScopeForbiddenError{Role: actor.Role, ScopeKind: string(scope.Kind), ScopeID: scope.ID}
	switch actor.Role {
	case domain.RoleFieldWorker:
		if scope.Kind == ScopeSelf {
			return nil
		}
	case domain.RoleSupervisor:
		switch scope.Kind {
		case ScopeSelf:
			return nil
		case ScopeTerritory:
			if scope.ID == actor.Territory {
				return nil
			}
		case ScopeCommunity:
			if c.Engine.Config != nil && c.Engine.Config.TerritoryFor(scope.ID) == actor.Territory {
				return nil
			}
		}
	case domain.RoleManager:
		switch scope.Kind {
		case ScopeSelf, ScopeMunicipality:
			return nil
		case ScopeCommunity:
			if scope.ID == actor.Community {
				return nil
			}
		}
	case domain.RoleCoordinator:
		switch scope.Kind {
		case ScopeSelf, ScopeMunicipality, ScopeTerritory, ScopeCommunity:
			return nil
		}
	}
	return deny
}

// scopeFilters translates an authorized scope into record query filters.
func (c Coordinator) scopeFilters(actor domain.Actor, scope Scope) repo.RecordFilters {
	switch scope.Kind {
	case ScopeSelf:
		return repo.RecordFilters{OwnerActorID: actor.ID}
	case ScopeCommunity:
		return repo.RecordFilters{Community: scope.ID}
	case ScopeTerritory:
		var communities []string
		if c.Engine.Config != nil {
			communities = c.Engine.Config.Territories[scope.ID]
		}
		if len(communities) == 0 {
			communities = []string{scope.ID}
		}
		return repo.RecordFilters{Communities: communities}
	default:
		return repo.RecordFilters{}
	}
}

// CommunityView is one community's coverage with its compliance tier.
type CommunityView struct {
	metrics.Coverage
	Tier metrics.Tier `json:"tier"`
}

// Dashboard is the view model returned after reads and writes alike.
type Dashboard struct {
	Scope         Scope                 `json:"scope"`
	Year          int                   `json:"year"`
	Communities   []CommunityView       `json:"communities"`
	Ranking       []metrics.RankedScope `json:"ranking"`
	Breakdown     map[domain.Method]int `json:"breakdown"`
	Trend         []metrics.TrendPoint  `json:"trend"`
	Recorded      int                   `json:"recorded"`
	Provisional   int                   `json:"provisional"`
	Target        int                   `json:"target"`
	Pct           float64               `json:"pct"`
	Tier          metrics.Tier          `json:"tier"`
	PendingReview int                   `json:"pending_review"`
}

func (c Coordinator) thresholds() metrics.Thresholds {
	t := metrics.DefaultThresholds
	if cfg := c.Engine.Config; cfg != nil && cfg.Thresholds.Alert > 0 {
		t = metrics.Thresholds{Critical: cfg.Thresholds.Critical, Alert: cfg.Thresholds.Alert}
	}
	return t
}

// GetDashboard computes the scoped view for an actor. The snapshot is one
// set of read queries; a concurrent transition lands entirely before or
// entirely after it.
func (c Coordinator) GetDashboard(ctx context.Context, actorID string, scope Scope) (Dashboard, error) {
	actor, err := c.Engine.Repo.GetActor(ctx, actorID)
	if err != nil {
		return Dashboard{}, err
	}
	if scope.Kind == "" {
		scope = DefaultScope(actor)
	}
	if err := c.authorizeScope(actor, scope); err != nil {
		return Dashboard{}, err
	}

	now := c.Engine.Now
	if now == nil {
		now = time.Now
	}
	year := now().UTC().Year()

	filters := c.scopeFilters(actor, scope)
	records, err := c.Engine.Repo.ListRecords(ctx, filters)
	if err != nil {
		return Dashboard{}, err
	}
	goals, err := c.Engine.Repo.ListCommunityGoals(ctx, year)
	if err != nil {
		return Dashboard{}, err
	}

	// Coverage is measured against the current annual targets, so only
	// this year's records count toward it. The trend window below keeps
	// the full set because it can reach into the previous year.
	yearPrefix := fmt.Sprintf("%04d-", year)
	var yearRecords []domain.Record
	for _, rec := range records {
		if strings.HasPrefix(rec.Period, yearPrefix) {
			yearRecords = append(yearRecords, rec)
		}
	}

	d := Dashboard{Scope: scope, Year: year}
	thresholds := c.thresholds()

	var scores []metrics.ScopeScore
	for _, community := range c.scopeCommunities(actor, scope, yearRecords) {
		cov := metrics.CoverageByCommunity(yearRecords, goals, community)
		d.Communities = append(d.Communities, CommunityView{
			Coverage: cov,
			Tier:     metrics.TierFor(cov.Pct, thresholds),
		})
		d.Recorded += cov.Recorded
		d.Provisional += cov.Provisional
		d.Target += cov.Target
		scores = append(scores, metrics.ScopeScore{ID: community, Pct: cov.Pct})
	}
	if d.Target > 0 {
		d.Pct = float64(d.Recorded) / float64(d.Target) * 100
	}
	d.Tier = metrics.TierFor(d.Pct, thresholds)
	d.Ranking = metrics.RankScopes(scores)
	d.Breakdown = metrics.MethodBreakdown(yearRecords, "")
	d.Trend = metrics.Trend(records, trailingPeriods(now().UTC(), c.trendMonths()))

	// The review backlog is a workload counter, not a coverage metric, so
	// it spans years.
	counts, err := c.Engine.Repo.CountRecordsByState(ctx, filters)
	if err != nil {
		return Dashboard{}, err
	}
	d.PendingReview = counts[domain.StatePending] + counts[domain.StateInReview]
	return d, nil
}

func (c Coordinator) trendMonths() int {
	if cfg := c.Engine.Config; cfg != nil {
		return cfg.TrendMonths()
	}
	return 6
}

// scopeCommunities lists the communities a dashboard covers, in a stable
// order. Communities that only appear in records are included so coverage
// never silently drops data outside the configured map.
func (c Coordinator) scopeCommunities(actor domain.Actor, scope Scope, records []domain.Record) []string {
	var base []string
	switch scope.Kind {
	case ScopeCommunity:
		base = []string{scope.ID}
	case ScopeTerritory:
		if c.Engine.Config != nil {
			base = append(base, c.Engine.Config.Territories[scope.ID]...)
		}
	case ScopeMunicipality:
		if c.Engine.Config != nil {
			base = c.Engine.Config.Communities()
		}
	}
	seen := map[string]bool{}
	var out []string
	for _, community := range base {
		if !seen[community] {
			seen[community] = true
			out = append(out, community)
		}
	}
	for _, rec := range records {
		if !seen[rec.Community] {
			seen[rec.Community] = true
			out = append(out, rec.Community)
		}
	}
	return out
}

// trailingPeriods returns the last n periods ending at the given month,
// oldest first.
func trailingPeriods(end time.Time, n int) []string {
	periods := make([]string, n)
	month := time.Date(end.Year(), end.Month(), 1, 0, 0, 0, 0, time.UTC)
	for i := n - 1; i >= 0; i-- {
		periods[i] = domain.FormatPeriod(month)
		month = month.AddDate(0, -1, 0)
	}
	return periods
}

// SubmitResult pairs a written record with the submitter's fresh dashboard.
type SubmitResult struct {
	Record    domain.Record `json:"record"`
	Dashboard Dashboard     `json:"dashboard"`
}

// SubmitRecord writes through the engine, then recomputes the caller's
// default-scope dashboard so the response reflects the new record.
func (c Coordinator) SubmitRecord(ctx context.Context, opts engine.SubmitOptions) (SubmitResult, error) {
	rec, err := c.Engine.SubmitRecord(ctx, opts)
	if err != nil {
		return SubmitResult{Record: rec}, err
	}
	d, err := c.GetDashboard(ctx, opts.ActorID, Scope{})
	if err != nil {
		return SubmitResult{Record: rec}, err
	}
	return SubmitResult{Record: rec, Dashboard: d}, nil
}

// TransitionRecord applies a review event, then recomputes the reviewer's
// dashboard.
func (c Coordinator) TransitionRecord(ctx context.Context, opts engine.TransitionOptions) (SubmitResult, error) {
	rec, err := c.Engine.TransitionRecord(ctx, opts)
	if err != nil {
		return SubmitResult{Record: rec}, err
	}
	d, err := c.GetDashboard(ctx, opts.ActorID, Scope{})
	if err != nil {
		return SubmitResult{Record: rec}, err
	}
	return SubmitResult{Record: rec, Dashboard: d}, nil
}

// SyncRecord merges a device-local transition log, then recomputes.
func (c Coordinator) SyncRecord(ctx context.Context, opts engine.MergeOptions) (SubmitResult, error) {
	rec, err := c.Engine.MergeTransitions(ctx, opts)
	if err != nil {
		return SubmitResult{Record: rec}, err
	}
	d, err := c.GetDashboard(ctx, opts.ActorID, Scope{})
	if err != nil {
		return SubmitResult{Record: rec}, err
	}
	return SubmitResult{Record: rec, Dashboard: d}, nil
}
