package pubsub

import (
	"context"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/google/uuid"

	"github.com/GoCodeAlone/opcua-pubsub/lifecycle"
)

// Event type constants for the state events this package publishes onto the
// lifecycle bus, named in reverse-domain notation.
const (
	lifecycleEventTypeStateChanged lifecycle.EventType = "com.opcua.pubsub.entity.state.changed"
)

// stateEventPublisher is the seam between the state machine (state.go) and
// the lifecycle fan-out. A Manager always has one; the
// no-op variant is the default until WithLifecycleBus wires a real
// lifecycle.Dispatcher in.
type stateEventPublisher interface {
	Publish(id Identifier, kind EntityKind, newState State, cause Cause)
}

// nopStateEventPublisher discards every event. It is the default so that a
// Manager built with NewManager() and no options never needs a running
// dispatcher.
type nopStateEventPublisher struct{}

func newNopStateEventPublisher() stateEventPublisher { return nopStateEventPublisher{} }

func (nopStateEventPublisher) Publish(Identifier, EntityKind, State, Cause) {}

// dispatcherStateEventPublisher wraps a lifecycle.Dispatcher, translating
// every state transition into a lifecycle.Event. A CloudEvents v1.0
// envelope is built for each transition and supplies the event's ID and
// timestamp; the envelope itself is not dispatched. Dispatch failures
// (buffer full, dispatcher not running) are logged and otherwise ignored —
// a failed bus publish must never affect the state
// transition's result, since the transition has already committed.
type dispatcherStateEventPublisher struct {
	dispatcher *lifecycle.Dispatcher
	logger     Logger
	source     string
}

// newDispatcherStateEventPublisher wraps dispatcher. source is the
// CloudEvents "source" attribute for every event this Manager emits
// (typically a stable process/instance identifier).
func newDispatcherStateEventPublisher(dispatcher *lifecycle.Dispatcher, logger Logger, source string) stateEventPublisher {
	if logger == nil {
		logger = NopLogger{}
	}
	if source == "" {
		source = "opcua-pubsub"
	}
	return &dispatcherStateEventPublisher{dispatcher: dispatcher, logger: logger, source: source}
}

func (p *dispatcherStateEventPublisher) Publish(id Identifier, kind EntityKind, newState State, cause Cause) {
	evt := p.buildEvent(id, kind, newState, cause)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := p.dispatcher.Dispatch(ctx, evt); err != nil {
		p.logger.Warn("lifecycle bus publish failed", "entity", id.String(), "kind", kind.String(), "error", err)
	}
}

func (p *dispatcherStateEventPublisher) buildEvent(id Identifier, kind EntityKind, newState State, cause Cause) *lifecycle.Event {
	ce := cloudevents.NewEvent()
	ce.SetID(generateEventID())
	ce.SetSource(p.source)
	ce.SetType(string(lifecycleEventTypeStateChanged))
	ce.SetTime(time.Now())
	ce.SetSpecVersion(cloudevents.VersionV1)

	payload := entityStateChangedPayload{
		EntityID: id.String(),
		Kind:     kind.String(),
		State:    newState.String(),
		Cause:    cause.String(),
	}
	_ = ce.SetData(cloudevents.ApplicationJSON, payload)
	ce.SetExtension("entitykind", kind.String())
	ce.SetExtension("entitystate", newState.String())

	data := map[string]any{
		"entityId": payload.EntityID,
		"kind":     payload.Kind,
		"state":    payload.State,
		"cause":    payload.Cause,
	}

	return &lifecycle.Event{
		ID:        ce.ID(),
		Type:      lifecycleEventTypeStateChanged,
		Source:    p.source,
		Timestamp: ce.Time(),
		Phase:     lifecycle.PhaseRunning,
		Status:    stateEventStatus(cause),
		Data:      data,
		Version:   "1.0",
	}
}

// entityStateChangedPayload is the CloudEvents JSON body for a state
// transition notification.
type entityStateChangedPayload struct {
	EntityID string `json:"entityId"`
	Kind     string `json:"kind"`
	State    string `json:"state"`
	Cause    string `json:"cause"`
}

func stateEventStatus(cause Cause) lifecycle.EventStatus {
	if cause == CauseGood {
		return lifecycle.EventStatusCompleted
	}
	return lifecycle.EventStatusFailed
}

// generateEventID uses a UUIDv7-with-v4-fallback scheme for
// CloudEvents IDs: time-ordered when possible,
// never hard-failing.
func generateEventID() string {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return id.String()
}

// publishStateEvent fans a state transition out to the Manager's lifecycle
// bus. Called exactly once per notify() (state.go), after the direct
// StateChangeCallback has already run.
func (m *Manager) publishStateEvent(id Identifier, kind EntityKind, newState State, cause Cause) {
	if m.lifecycleBus == nil {
		return
	}
	m.lifecycleBus.Publish(id, kind, newState, cause)
}

// WithLifecycleBus wires a running lifecycle.Dispatcher as the Manager's
// secondary notification path. source is the CloudEvents
// "source" attribute stamped on every event. The dispatcher must already be
// started (lifecycle.Dispatcher.Start) — the Manager never starts or stops
// it, matching the "consumed collaborator, not owned" pattern used for
// EventLoop and NodeStore.
func WithLifecycleBus(dispatcher *lifecycle.Dispatcher, source string) ManagerOption {
	return func(m *Manager) {
		m.lifecycleBus = newDispatcherStateEventPublisher(dispatcher, m.logger, source)
	}
}
