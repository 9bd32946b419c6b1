package engine

import (
	"fmt"

	"planifica/internal/domain"
)

// InvalidTotalError indicates a declared total that disagrees with the tally sum.
type InvalidTotalError struct {
	Declared int
	Computed int
}

func (e InvalidTotalError) Error() string {
	return fmt.Sprintf("declared total %d does not match tally sum %d", e.Declared, e.Computed)
}

// InvalidTargetError indicates a negative goal target.
type InvalidTargetError struct {
	Target int
}

func (e InvalidTargetError) Error() string {
	return fmt.Sprintf("target %d must be non-negative", e.Target)
}

// DuplicatePeriodError indicates an owner already has an open record for the period.
type DuplicatePeriodError struct {
	OwnerActorID string
	Period       string
	ExistingID   string
}

func (e DuplicatePeriodError) Error() string {
	return fmt.Sprintf("actor %s already has open record %s for period %s", e.OwnerActorID, e.ExistingID, e.Period)
}

// CommentRequiredError indicates a transition that must carry a comment.
type CommentRequiredError struct {
	Event domain.TransitionEvent
}

func (e CommentRequiredError) Error() string {
	return fmt.Sprintf("comment required for %s", e.Event)
}

// ForbiddenError indicates the actor's role does not permit the action.
type ForbiddenError struct {
	Role   domain.Role
	Action string
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("role %s may not %s", e.Role, e.Action)
}

// ScopeForbiddenError indicates a dashboard scope outside the actor's visibility.
type ScopeForbiddenError struct {
	Role      domain.Role
	ScopeKind string
	ScopeID   string
}

func (e ScopeForbiddenError) Error() string {
	return fmt.Sprintf("role %s may not view scope %s/%s", e.Role, e.ScopeKind, e.ScopeID)
}

// TerminalStateError indicates a transition attempted on a closed record.
// Record carries the current authoritative row so the caller can reconcile.
type TerminalStateError struct {
	Record domain.Record
}

func (e TerminalStateError) Error() string {
	return fmt.Sprintf("record %s is %s; no further transitions", e.Record.ID, e.Record.State)
}

// InvalidTransitionError indicates an event not legal from the current state.
type InvalidTransitionError struct {
	From  domain.RecordState
	Event domain.TransitionEvent
}

func (e InvalidTransitionError) Error() string {
	return fmt.Sprintf("event %s not allowed from state %s", e.Event, e.From)
}

// ConflictingTransitionError indicates a merged log entry that departs a
// state the record has already left. The later entry fails; nothing is
// auto-resolved.
type ConflictingTransitionError struct {
	Record domain.Record
	Entry  domain.Transition
	State  domain.RecordState
}

func (e ConflictingTransitionError) Error() string {
	return fmt.Sprintf("transition from %s conflicts with current state %s of record %s",
		e.Entry.FromState, e.State, e.Record.ID)
}
