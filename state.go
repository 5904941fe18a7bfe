package pubsub

import (
	"context"
	"fmt"
)

// State is the per-entity lifecycle state.
type State int

const (
	StateDisabled State = iota
	StatePaused
	StatePreOperational
	StateOperational
	StateError
)

func (s State) String() string {
	switch s {
	case StateDisabled:
		return "Disabled"
	case StatePaused:
		return "Paused"
	case StatePreOperational:
		return "PreOperational"
	case StateOperational:
		return "Operational"
	case StateError:
		return "Error"
	default:
		return "Unknown"
	}
}

// Cause annotates a state-change notification with why it happened.
type Cause int

const (
	CauseGood Cause = iota
	CauseBadResourceUnavailable
	CauseBadConfigurationError
	CauseBadInternalError
)

func (c Cause) String() string {
	switch c {
	case CauseGood:
		return "Good"
	case CauseBadResourceUnavailable:
		return "BadResourceUnavailable"
	case CauseBadConfigurationError:
		return "BadConfigurationError"
	case CauseBadInternalError:
		return "BadInternalError"
	default:
		return "Unknown"
	}
}

// EntityKind names a PubSub entity's type for logging/diagnostics.
type EntityKind int

const (
	KindConnection EntityKind = iota
	KindReaderGroup
	KindWriterGroup
	KindDataSetReader
	KindDataSetWriter
)

func (k EntityKind) String() string {
	switch k {
	case KindConnection:
		return "Connection"
	case KindReaderGroup:
		return "ReaderGroup"
	case KindWriterGroup:
		return "WriterGroup"
	case KindDataSetReader:
		return "DataSetReader"
	case KindDataSetWriter:
		return "DataSetWriter"
	default:
		return "Unknown"
	}
}

// StateChangeCallback is invoked exactly once per observed state change,
// on every change where state != oldState. It is called
// while the service mutex is held; implementations must not re-enter the
// Manager synchronously.
type StateChangeCallback func(id Identifier, kind EntityKind, newState State, cause Cause)

// transitionAction is the resource-management side effect a transition
// cell in the transition table requires, independent of the entity kind.
type transitionAction int

const (
	actionNone transitionAction = iota
	actionAcquireSchedule
	actionCancelRelease
	actionDowngrade
	actionReleaseSet
	actionSet
	actionUnsupported
)

// transitionTable implements the allowed-transition matrix. Diagonal
// cells are handled separately (true no-op, no callback) before this table
// is consulted.
func transitionTable(from, to State) transitionAction {
	switch from {
	case StateDisabled:
		switch to {
		case StatePaused:
			return actionSet
		case StatePreOperational:
			return actionAcquireSchedule
		case StateOperational:
			return actionUnsupported // "via PreOp": not directly reachable
		case StateError:
			return actionSet
		}
	case StatePaused:
		switch to {
		case StateDisabled:
			return actionCancelRelease
		case StatePreOperational:
			return actionAcquireSchedule
		case StateOperational:
			return actionUnsupported // "via PreOp"
		case StateError:
			return actionSet
		}
	case StatePreOperational:
		switch to {
		case StateDisabled:
			return actionCancelRelease
		case StatePaused:
			return actionUnsupported
		case StateOperational:
			return actionSet // "on first message": internal promotion only, see promoteToOperational
		case StateError:
			return actionReleaseSet
		}
	case StateOperational:
		switch to {
		case StateDisabled:
			return actionCancelRelease
		case StatePaused:
			return actionUnsupported
		case StatePreOperational:
			return actionDowngrade
		case StateError:
			return actionReleaseSet
		}
	case StateError:
		switch to {
		case StateDisabled:
			return actionSet // noop resource action, state value still updates
		case StatePaused, StatePreOperational, StateOperational:
			return actionUnsupported
		}
	}
	return actionUnsupported
}

// entityTransition is implemented by every PubSub entity's internal
// wrapper so the generic engine below can drive it through the transition
// table without duplicating it per entity kind.
type entityTransition interface {
	id() Identifier
	kind() EntityKind
	rawState() State
	setRawState(State)
	callback() StateChangeCallback

	// acquire is called for actionAcquireSchedule: acquire resources and
	// schedule any periodic callback. A returned error sets the entity to
	// Error instead (matching "the Connection's own connect attempt may
	// fail, downgrading the group to Error").
	acquire(ctx context.Context) error

	// release is called for actionCancelRelease/actionReleaseSet: cancel
	// any scheduled callback and release acquired resources.
	release(ctx context.Context)

	// children returns this entity's direct children for propagation-down.
	children() []entityTransition
}

// setEntityState drives e through the transition table. Callers must
// hold the Manager's service mutex. Requesting an unknown
// State value yields BadInternalError; requesting an unsupported
// transition yields BadNotSupported without mutating state.
func (m *Manager) setEntityState(ctx context.Context, e entityTransition, target State, cause Cause) error {
	if target < StateDisabled || target > StateError {
		return fmt.Errorf("%w: unknown target state %d", ErrInternalError, target)
	}

	from := e.rawState()
	if from == target {
		return nil // true no-op: same state never re-fires the callback
	}

	action := transitionTable(from, target)
	switch action {
	case actionUnsupported:
		return fmt.Errorf("%w: %s cannot transition %s -> %s", ErrNotSupported, e.kind(), from, target)

	case actionAcquireSchedule:
		if err := e.acquire(ctx); err != nil {
			m.logger.Warn("acquire failed, entering Error", "kind", e.kind().String(), "id", e.id().String(), "error", err)
			e.setRawState(StateError)
			m.notify(e, StateError, CauseBadResourceUnavailable)
			m.propagateDown(ctx, e, StateError, CauseBadResourceUnavailable)
			return nil
		}

	case actionCancelRelease, actionReleaseSet:
		e.release(ctx)

	case actionDowngrade, actionSet, actionNone:
		// no resource side effect beyond the state value itself

	default:
		return fmt.Errorf("%w: unhandled transition action", ErrInternalError)
	}

	e.setRawState(target)
	m.notify(e, target, cause)

	if target == StateDisabled || target == StateError || target == StatePaused {
		m.propagateDown(ctx, e, target, CauseBadResourceUnavailable)
	}

	return nil
}

// propagateDown implements propagation down: a parent entering
// Disabled/Error/Paused forces every child to the same state with cause
// BadResourceUnavailable. Child-level errors are logged and do not stop
// propagation to remaining children; the
// parent's own transition has already succeeded.
func (m *Manager) propagateDown(ctx context.Context, parent entityTransition, target State, cause Cause) {
	for _, child := range parent.children() {
		if child.rawState() == target {
			continue
		}
		if err := m.setEntityState(ctx, child, target, cause); err != nil {
			m.logger.Error("propagation to child failed", "parent", parent.id().String(), "child", child.id().String(), "error", err)
		}
	}
}

// notify invokes the entity's registered callback exactly once, and
// fans the change out through the lifecycle event bus afterwards.
func (m *Manager) notify(e entityTransition, newState State, cause Cause) {
	if cb := e.callback(); cb != nil {
		cb(e.id(), e.kind(), newState, cause)
	}
	m.publishStateEvent(e.id(), e.kind(), newState, cause)
}

// promoteToOperational implements the PreOperational -> Operational
// "on first message" cell: it is only ever called from dispatch.go after a
// successful decode+match, never from setEntityState's generic table.
func (m *Manager) promoteToOperational(e entityTransition) {
	if e.rawState() != StatePreOperational {
		return
	}
	e.setRawState(StateOperational)
	m.notify(e, StateOperational, CauseGood)
}

// downgradeToPreOperational implements the Operational -> PreOperational
// "downgrade allowed" cell, used by freeze.go when a buffered offset table
// is invalidated.
func (m *Manager) downgradeToPreOperational(e entityTransition) {
	if e.rawState() != StateOperational {
		return
	}
	e.setRawState(StatePreOperational)
	m.notify(e, StatePreOperational, CauseGood)
}
