package domain

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// Role classifies an actor and drives transition and scope permissions.
type Role string

const (
	RoleFieldWorker Role = "field_worker"
	RoleSupervisor  Role = "supervisor"
	RoleManager     Role = "manager"
	RoleCoordinator Role = "coordinator"
)

// ValidRoles is the canonical set of accepted role strings.
var ValidRoles = map[Role]bool{
	RoleFieldWorker: true,
	RoleSupervisor:  true,
	RoleManager:     true,
	RoleCoordinator: true,
}

// CanReview reports whether the role may drive the review workflow.
func (r Role) CanReview() bool {
	return r == RoleSupervisor || r == RoleManager
}

// CanManageGoals reports whether the role may change targets.
func (r Role) CanManageGoals() bool {
	return r == RoleManager || r == RoleCoordinator
}

type Actor struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Role        Role   `json:"role" enum:"field_worker,supervisor,manager,coordinator"`
	Community   string `json:"community,omitempty"`
	Territory   string `json:"territory,omitempty"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

// MethodCategory groups contraceptive methods for breakdowns and goals.
type MethodCategory string

const (
	CategoryInjectable MethodCategory = "injectable"
	CategoryOral       MethodCategory = "oral"
	CategoryDevice     MethodCategory = "device"
	CategoryBarrier    MethodCategory = "barrier"
	CategoryNatural    MethodCategory = "natural"
	CategoryPermanent  MethodCategory = "permanent"
)

// Method is a contraceptive method code. The set is closed reference data.
type Method string

const (
	MethodInyMensual        Method = "iny_mensual"
	MethodInyBimensual      Method = "iny_bimensual"
	MethodInyTrimestral     Method = "iny_trimestral"
	MethodPildoras          Method = "pildoras"
	MethodPildoraEmergencia Method = "pildora_emergencia"
	MethodDIU               Method = "diu"
	MethodImplante          Method = "implante"
	MethodCondonMasculino   Method = "condon_masculino"
	MethodCondonFemenino    Method = "condon_femenino"
	MethodMELA              Method = "mela"
	MethodCollarCiclo       Method = "collar_ciclo"
	MethodAQVFemenina       Method = "aqv_femenina"
	MethodAQVMasculina      Method = "aqv_masculina"
)

var methodCategories = map[Method]MethodCategory{
	MethodInyMensual:        CategoryInjectable,
	MethodInyBimensual:      CategoryInjectable,
	MethodInyTrimestral:     CategoryInjectable,
	MethodPildoras:          CategoryOral,
	MethodPildoraEmergencia: CategoryOral,
	MethodDIU:               CategoryDevice,
	MethodImplante:          CategoryDevice,
	MethodCondonMasculino:   CategoryBarrier,
	MethodCondonFemenino:    CategoryBarrier,
	MethodMELA:              CategoryNatural,
	MethodCollarCiclo:       CategoryNatural,
	MethodAQVFemenina:       CategoryPermanent,
	MethodAQVMasculina:      CategoryPermanent,
}

// Category returns the category for a known method, or "" for unknown codes.
func (m Method) Category() MethodCategory {
	return methodCategories[m]
}

// Known reports whether the method code belongs to the closed set.
func (m Method) Known() bool {
	_, ok := methodCategories[m]
	return ok
}

// Methods lists all known method codes in a stable order.
func Methods() []Method {
	out := make([]Method, 0, len(methodCategories))
	for m := range methodCategories {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Tally maps methods to non-negative counts for one record.
type Tally map[Method]int

// Total sums all counts in the tally.
func (t Tally) Total() int {
	sum := 0
	for _, n := range t {
		sum += n
	}
	return sum
}

// Validate checks method codes and non-negative counts.
func (t Tally) Validate() error {
	for m, n := range t {
		if !m.Known() {
			return fmt.Errorf("unknown method %s", m)
		}
		if n < 0 {
			return fmt.Errorf("negative count %d for method %s", n, m)
		}
	}
	return nil
}

// RecordState is the review lifecycle position of a record.
type RecordState string

const (
	StatePending  RecordState = "pending"
	StateInReview RecordState = "in_review"
	StateApproved RecordState = "approved"
	StateRejected RecordState = "rejected"
)

// Terminal reports whether the state admits no further transitions.
func (s RecordState) Terminal() bool {
	return s == StateApproved || s == StateRejected
}

// Record is one monthly submission of service counts for a community.
// The transitions log is the source of truth; State is the cached
// projection of the last log entry.
type Record struct {
	ID              string      `json:"id"`
	OwnerActorID    string      `json:"owner_actor_id"`
	Community       string      `json:"community"`
	Period          string      `json:"period"`
	TallyJSON       string      `json:"tally_json"`
	Total           int         `json:"total"`
	State           RecordState `json:"state" enum:"pending,in_review,approved,rejected"`
	ReviewerActorID *string     `json:"reviewer_actor_id,omitempty"`
	ReviewComments  *string     `json:"review_comments,omitempty"`
	RevisionCount   int         `json:"revision_count"`
	Supersedes      *string     `json:"supersedes,omitempty"`
	CreatedAt       string      `json:"created_at" format:"date-time"`
	UpdatedAt       string      `json:"updated_at" format:"date-time"`
}

// Tally decodes the stored tally. Records written by the engine always
// carry valid JSON, so decode failures indicate corruption.
func (r Record) Tally() (Tally, error) {
	var t Tally
	if r.TallyJSON == "" {
		return Tally{}, nil
	}
	if err := json.Unmarshal([]byte(r.TallyJSON), &t); err != nil {
		return nil, fmt.Errorf("decode tally for record %s: %w", r.ID, err)
	}
	return t, nil
}

// TransitionEvent names a state machine command.
type TransitionEvent string

const (
	EventStartReview     TransitionEvent = "start_review"
	EventApprove         TransitionEvent = "approve"
	EventReject          TransitionEvent = "reject"
	EventRequestRevision TransitionEvent = "request_revision"
)

// Transition is one immutable entry of a record's review log.
// FromState is empty for the submission entry.
type Transition struct {
	ID        int64       `json:"id"`
	RecordID  string      `json:"record_id"`
	FromState RecordState `json:"from_state,omitempty"`
	ToState   RecordState `json:"to_state"`
	ActorID   string      `json:"actor_id"`
	TS        string      `json:"ts" format:"date-time"`
	Comment   *string     `json:"comment,omitempty"`
}

// MethodGoal is the annual target for one contraceptive method.
type MethodGoal struct {
	Method     Method `json:"method"`
	PeriodYear int    `json:"period_year"`
	Target     int    `json:"target"`
	UpdatedAt  string `json:"updated_at" format:"date-time"`
}

// CommunityGoal is the annual target for one community together with the
// reference MEF population used for coverage-ratio math.
type CommunityGoal struct {
	Community     string `json:"community"`
	PeriodYear    int    `json:"period_year"`
	Target        int    `json:"target"`
	MEFPopulation int    `json:"mef_population"`
	UpdatedAt     string `json:"updated_at" format:"date-time"`
}

// Event is one append-only audit log entry.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// ParsePeriod validates a YYYY-MM period string.
func ParsePeriod(period string) (time.Time, error) {
	t, err := time.Parse("2006-01", period)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid period %q, want YYYY-MM", period)
	}
	return t, nil
}

// FormatPeriod renders a time as a YYYY-MM period string.
func FormatPeriod(t time.Time) string {
	return t.Format("2006-01")
}
