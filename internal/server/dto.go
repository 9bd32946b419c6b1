package server

import (
	"planifica/internal/domain"
	"planifica/internal/workflow"
)

// Request payloads

type SubmitRecordRequest struct {
	ID        *string        `json:"id,omitempty"`
	Community string         `json:"community"`
	Period    string         `json:"period" example:"2025-09"`
	Tally     map[string]int `json:"tally"`
	Total     *int           `json:"total,omitempty"`
}

type TransitionRequest struct {
	Event   string  `json:"event" enum:"start_review,approve,reject,request_revision"`
	Comment *string `json:"comment,omitempty"`
}

type CommentRequest struct {
	Comment string `json:"comment"`
}

type SyncEntryRequest struct {
	FromState string  `json:"from_state,omitempty" enum:",pending,in_review,approved,rejected"`
	ToState   string  `json:"to_state" enum:"pending,in_review,approved,rejected"`
	ActorID   string  `json:"actor_id"`
	TS        string  `json:"ts" format:"date-time"`
	Comment   *string `json:"comment,omitempty"`
}

type SyncRequest struct {
	Entries []SyncEntryRequest `json:"entries"`
}

type SetMethodGoalRequest struct {
	Year   int `json:"year"`
	Target int `json:"target"`
}

type SetCommunityGoalRequest struct {
	Year          int `json:"year"`
	Target        int `json:"target"`
	MEFPopulation int `json:"mef_population"`
}

type CreateActorRequest struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Role        string `json:"role" enum:"field_worker,supervisor,manager,coordinator"`
	Community   string `json:"community,omitempty"`
	Territory   string `json:"territory,omitempty"`
}

type DevLoginRequest struct {
	ActorID string `json:"actor_id"`
}

// Response payloads

type DevLoginResponse struct {
	Token string `json:"token"`
}

type RecordResponse struct {
	ID              string         `json:"id"`
	OwnerActorID    string         `json:"owner_actor_id"`
	Community       string         `json:"community"`
	Period          string         `json:"period"`
	Tally           map[string]int `json:"tally"`
	Total           int            `json:"total"`
	State           string         `json:"state" enum:"pending,in_review,approved,rejected"`
	ReviewerActorID *string        `json:"reviewer_actor_id,omitempty"`
	ReviewComments  *string        `json:"review_comments,omitempty"`
	RevisionCount   int            `json:"revision_count"`
	Supersedes      *string        `json:"supersedes,omitempty"`
	CreatedAt       string         `json:"created_at" format:"date-time"`
	UpdatedAt       string         `json:"updated_at" format:"date-time"`
}

type TransitionResponse struct {
	ID        int64   `json:"id"`
	RecordID  string  `json:"record_id"`
	FromState string  `json:"from_state,omitempty"`
	ToState   string  `json:"to_state"`
	ActorID   string  `json:"actor_id"`
	TS        string  `json:"ts" format:"date-time"`
	Comment   *string `json:"comment,omitempty"`
}

type RecordDetailResponse struct {
	Record      RecordResponse       `json:"record"`
	Transitions []TransitionResponse `json:"transitions"`
}

type RecordListResponse struct {
	Items      []RecordResponse `json:"items"`
	NextCursor string           `json:"next_cursor,omitempty"`
}

type WriteResultResponse struct {
	Record    RecordResponse     `json:"record"`
	Dashboard workflow.Dashboard `json:"dashboard"`
}

type ActorResponse struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Role        string `json:"role" enum:"field_worker,supervisor,manager,coordinator"`
	Community   string `json:"community,omitempty"`
	Territory   string `json:"territory,omitempty"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

type GoalsResponse struct {
	Year              int                    `json:"year"`
	Methods           []domain.MethodGoal    `json:"methods"`
	Communities       []domain.CommunityGoal `json:"communities"`
	TotalAnnualTarget int                    `json:"total_annual_target"`
}

type EventResponse struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

// Converters

func recordResponse(rec domain.Record) RecordResponse {
	tally, _ := rec.Tally()
	flat := make(map[string]int, len(tally))
	for method, count := range tally {
		flat[string(method)] = count
	}
	return RecordResponse{
		ID:              rec.ID,
		OwnerActorID:    rec.OwnerActorID,
		Community:       rec.Community,
		Period:          rec.Period,
		Tally:           flat,
		Total:           rec.Total,
		State:           string(rec.State),
		ReviewerActorID: rec.ReviewerActorID,
		ReviewComments:  rec.ReviewComments,
		RevisionCount:   rec.RevisionCount,
		Supersedes:      rec.Supersedes,
		CreatedAt:       rec.CreatedAt,
		UpdatedAt:       rec.UpdatedAt,
	}
}

func mapRecords(items []domain.Record) []RecordResponse {
	res := make([]RecordResponse, 0, len(items))
	for _, rec := range items {
		res = append(res, recordResponse(rec))
	}
	return res
}

func transitionResponse(t domain.Transition) TransitionResponse {
	return TransitionResponse{
		ID:        t.ID,
		RecordID:  t.RecordID,
		FromState: string(t.FromState),
		ToState:   string(t.ToState),
		ActorID:   t.ActorID,
		TS:        t.TS,
		Comment:   t.Comment,
	}
}

func mapTransitions(items []domain.Transition) []TransitionResponse {
	res := make([]TransitionResponse, 0, len(items))
	for _, t := range items {
		res = append(res, transitionResponse(t))
	}
	return res
}

func actorResponse(a domain.Actor) ActorResponse {
	return ActorResponse{
		ID:          a.ID,
		DisplayName: a.DisplayName,
		Role:        string(a.Role),
		Community:   a.Community,
		Territory:   a.Territory,
		CreatedAt:   a.CreatedAt,
	}
}

func mapActors(items []domain.Actor) []ActorResponse {
	res := make([]ActorResponse, 0, len(items))
	for _, a := range items {
		res = append(res, actorResponse(a))
	}
	return res
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Payload:    e.Payload,
	}
}

func mapEvents(items []domain.Event) []EventResponse {
	res := make([]EventResponse, 0, len(items))
	for _, e := range items {
		res = append(res, eventResponse(e))
	}
	return res
}

func writeResult(res workflow.SubmitResult) WriteResultResponse {
	return WriteResultResponse{
		Record:    recordResponse(res.Record),
		Dashboard: res.Dashboard,
	}
}

func domainTally(flat map[string]int) domain.Tally {
	t := make(domain.Tally, len(flat))
	for method, count := range flat {
		t[domain.Method(method)] = count
	}
	return t
}
