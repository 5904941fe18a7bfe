// Package lifecycle provides lifecycle event management and dispatching services
package lifecycle

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Static errors for lifecycle package
var (
	ErrDispatcherNotRunning     = errors.New("dispatcher is not running")
	ErrEventCannotBeNil         = errors.New("event cannot be nil")
	ErrEventBufferFull          = errors.New("event buffer is full, dropping event")
	ErrDispatcherAlreadyRunning = errors.New("dispatcher is already running")
	ErrQueryNotImplemented      = errors.New("query method not yet implemented")
	ErrEventNotFound            = errors.New("event not found")
)

// Dispatcher implements the EventDispatcher interface
type Dispatcher struct {
	mu        sync.RWMutex
	observers map[string]EventObserver
	running   bool
	config    *DispatchConfig
	metrics   *EventMetrics
	eventChan chan *Event
	stopChan  chan struct{}
}

// NewDispatcher creates a new lifecycle event dispatcher
func NewDispatcher(config *DispatchConfig) *Dispatcher {
	if config == nil {
		config = &DispatchConfig{
			BufferSize:        1000,
			MaxRetries:        3,
			RetryDelay:        time.Second,
			ObserverTimeout:   30 * time.Second,
			EnablePersistence: false,
			EnableMetrics:     true,
		}
	}

	return &Dispatcher{
		observers: make(map[string]EventObserver),
		running:   false,
		config:    config,
		metrics: &EventMetrics{
			EventsByType:   make(map[EventType]int64),
			EventsByStatus: make(map[EventStatus]int64),
		},
		eventChan: make(chan *Event, config.BufferSize),
		stopChan:  make(chan struct{}),
	}
}

// Dispatch sends a lifecycle event to all registered observers
func (d *Dispatcher) Dispatch(ctx context.Context, event *Event) error {
	if !d.IsRunning() {
		return ErrDispatcherNotRunning
	}

	if event == nil {
		return ErrEventCannotBeNil
	}

	select {
	case d.eventChan <- event:
		return nil
	default:
		atomic.AddInt64(&d.metrics.BackpressureWarnings, 1)
		return ErrEventBufferFull
	}
}

// RegisterObserver registers an observer to receive lifecycle events
func (d *Dispatcher) RegisterObserver(ctx context.Context, observer EventObserver) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.observers[observer.ID()] = observer
	atomic.AddInt64(&d.metrics.ActiveObservers, 1)
	return nil
}

// UnregisterObserver removes an observer from receiving events
func (d *Dispatcher) UnregisterObserver(ctx context.Context, observerID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.observers[observerID]; exists {
		delete(d.observers, observerID)
		atomic.AddInt64(&d.metrics.ActiveObservers, -1)
	}
	return nil
}

// GetObservers returns all currently registered observers
func (d *Dispatcher) GetObservers(ctx context.Context) ([]EventObserver, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	observers := make([]EventObserver, 0, len(d.observers))
	for _, observer := range d.observers {
		observers = append(observers, observer)
	}

	return observers, nil
}

// Start begins the event dispatcher service
func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return ErrDispatcherAlreadyRunning
	}
	d.running = true
	d.stopChan = make(chan struct{})
	d.mu.Unlock()

	go d.processEvents(ctx)
	return nil
}

// Stop gracefully shuts down the event dispatcher
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.running {
		return nil
	}

	d.running = false
	close(d.stopChan)

	return nil
}

// IsRunning returns true if the dispatcher is currently running
func (d *Dispatcher) IsRunning() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.running
}

// processEvents delivers buffered events to observers in priority order
// (highest Priority() first), respecting each observer's EventTypes()
// filter. An observer that exceeds ObserverTimeout or panics is counted
// and skipped rather than stalling the rest of the batch.
func (d *Dispatcher) processEvents(ctx context.Context) {
	for {
		select {
		case event := <-d.eventChan:
			d.deliver(ctx, event)
		case <-d.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, event *Event) {
	d.mu.RLock()
	observers := make([]EventObserver, 0, len(d.observers))
	for _, o := range d.observers {
		observers = append(observers, o)
	}
	d.mu.RUnlock()

	sort.Slice(observers, func(i, j int) bool { return observers[i].Priority() > observers[j].Priority() })

	atomic.AddInt64(&d.metrics.TotalEvents, 1)

	for _, o := range observers {
		if !wantsEvent(o, event.Type) {
			continue
		}
		d.deliverOne(ctx, o, event)
	}
}

func wantsEvent(o EventObserver, t EventType) bool {
	types := o.EventTypes()
	if len(types) == 0 {
		return true // no filter: observer wants everything
	}
	for _, want := range types {
		if want == t {
			return true
		}
	}
	return false
}

func (d *Dispatcher) deliverOne(ctx context.Context, o EventObserver, event *Event) {
	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				atomic.AddInt64(&d.metrics.ObserverPanics, 1)
				done <- nil
			}
		}()
		done <- o.OnEvent(ctx, event)
	}()

	select {
	case err := <-done:
		if err != nil {
			atomic.AddInt64(&d.metrics.ObserverErrors, 1)
		}
	case <-time.After(d.config.ObserverTimeout):
		atomic.AddInt64(&d.metrics.ObserverErrors, 1)
	}
}

// Store implements basic EventStore interface
type Store struct {
	mu     sync.RWMutex
	events map[string]*Event
	index  map[string][]*Event // indexed by source
}

// NewStore creates a new event store
func NewStore() *Store {
	return &Store{
		events: make(map[string]*Event),
		index:  make(map[string][]*Event),
	}
}

// Store persists a lifecycle event
func (s *Store) Store(ctx context.Context, event *Event) error {
	if event == nil {
		return ErrEventCannotBeNil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.events[event.ID] = event
	s.index[event.Source] = append(s.index[event.Source], event)

	return nil
}

// Get retrieves a specific event by ID
func (s *Store) Get(ctx context.Context, eventID string) (*Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	event, exists := s.events[eventID]
	if !exists {
		return nil, ErrEventNotFound
	}

	return event, nil
}

// Query retrieves events matching the given criteria. Only the subset of
// QueryCriteria the PubSub control plane actually populates (Sources,
// Since, Until) is honored; a richer criteria engine has no caller in this
// repository.
func (s *Store) Query(ctx context.Context, criteria *QueryCriteria) ([]*Event, error) {
	if criteria == nil {
		return nil, ErrQueryNotImplemented
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var pool []*Event
	if len(criteria.Sources) == 0 {
		for _, e := range s.events {
			pool = append(pool, e)
		}
	} else {
		for _, src := range criteria.Sources {
			pool = append(pool, s.index[src]...)
		}
	}

	filtered := make([]*Event, 0, len(pool))
	for _, e := range pool {
		if criteria.Since != nil && e.Timestamp.Before(*criteria.Since) {
			continue
		}
		if criteria.Until != nil && e.Timestamp.After(*criteria.Until) {
			continue
		}
		filtered = append(filtered, e)
	}
	return filtered, nil
}

// Delete removes events matching the given criteria's Sources.
func (s *Store) Delete(ctx context.Context, criteria *QueryCriteria) error {
	if criteria == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, src := range criteria.Sources {
		for _, e := range s.index[src] {
			delete(s.events, e.ID)
		}
		delete(s.index, src)
	}
	return nil
}

// GetEventHistory returns event history for a specific source
func (s *Store) GetEventHistory(ctx context.Context, source string, since time.Time) ([]*Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	events, exists := s.index[source]
	if !exists {
		return nil, nil
	}

	filtered := make([]*Event, 0)
	for _, event := range events {
		if event.Timestamp.After(since) {
			filtered = append(filtered, event)
		}
	}

	return filtered, nil
}

// BasicObserver implements a basic EventObserver for testing
type BasicObserver struct {
	id         string
	eventTypes []EventType
	priority   int
	callback   func(context.Context, *Event) error
}

// NewBasicObserver creates a new basic observer
func NewBasicObserver(id string, eventTypes []EventType, priority int, callback func(context.Context, *Event) error) *BasicObserver {
	return &BasicObserver{
		id:         id,
		eventTypes: eventTypes,
		priority:   priority,
		callback:   callback,
	}
}

// OnEvent is called when a lifecycle event is dispatched
func (o *BasicObserver) OnEvent(ctx context.Context, event *Event) error {
	if o.callback != nil {
		return o.callback(ctx, event)
	}
	return nil
}

// ID returns the unique identifier for this observer
func (o *BasicObserver) ID() string {
	return o.id
}

// EventTypes returns the types of events this observer wants to receive
func (o *BasicObserver) EventTypes() []EventType {
	return o.eventTypes
}

// Priority returns the priority of this observer (higher = called first)
func (o *BasicObserver) Priority() int {
	return o.priority
}
