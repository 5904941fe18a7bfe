// Package pubsub implements an OPC UA PubSub control plane: the
// Connection/ReaderGroup/WriterGroup/DataSetReader/DataSetWriter topology,
// its per-entity state machine, frame decode-and-dispatch, freeze/unfreeze,
// and security key management, all driven through a single Manager.
//
// A Manager owns the topology and serializes every mutation behind one
// service mutex; callers never see partial updates. Transport, wire
// codec, node storage, and security policy are all supplied as
// collaborator interfaces at construction time, so a host application
// wires in its own UDP/MQTT transport and UADP/JSON codec without this
// package depending on either.
//
// Basic usage:
//
//	mgr := pubsub.NewManager(pubsub.WithDefaultEventLoop(loop), pubsub.WithCodec(codec))
//	connID, err := mgr.AddConnection(ctx, pubsub.ConnectionConfig{Name: "c1", TransportProfileURI: "opc.udp"})
//	groupID, err := mgr.AddReaderGroup(ctx, connID, pubsub.ReaderGroupConfig{SubscribingIntervalMs: 100})
//	err = mgr.EnableReaderGroup(ctx, groupID)
package pubsub

import (
	"context"
	"fmt"
	"sync"

	"github.com/GoCodeAlone/opcua-pubsub/health"
)

// Manager is process-scoped: it owns an ordered sequence of
// Connections and the identifier generator, and
// serializes every mutation behind a single, non-reentrant service mutex.
// All exported mutator methods acquire mu; internal helpers
// (setEntityState, propagateDown, ...) assume it is already held.
type Manager struct {
	mu sync.Mutex

	logger Logger

	connections []*Connection
	keyStorages map[string]*KeyStorage // keyed by securityGroupId

	defaultEventLoop EventLoop
	nodeStore        NodeStore
	codec            NetworkMessageCodec
	security         SecurityPolicy

	lifecycleBus stateEventPublisher

	maintenance *maintenanceHandle

	collaborators    *collaboratorRegistry
	healthAggregator *health.Aggregator

	bootstrapDefaults      ManagerDefaults
	securityGroupPolicies  map[string]string
}

// ManagerOption configures a Manager at construction time.
type ManagerOption func(*Manager)

// WithLogger overrides the Manager's Logger (default NopLogger).
func WithLogger(l Logger) ManagerOption {
	return func(m *Manager) { m.logger = l }
}

// WithDefaultEventLoop sets the server-wide EventLoop used when neither a
// ReaderGroup/WriterGroup nor its Connection carries a dedicated one:
// group's own, else Connection's, else server's.
func WithDefaultEventLoop(loop EventLoop) ManagerOption {
	return func(m *Manager) { m.defaultEventLoop = loop }
}

// WithNodeStore wires the information-model collaborator consulted by
// Freeze's hard-freeze external-value-backend validation.
// Without one, a hard freeze whose reader binds a target variable fails
// with ErrNotSupported rather than panicking; a hard freeze with no bound
// targets still succeeds.
func WithNodeStore(store NodeStore) ManagerOption {
	return func(m *Manager) { m.nodeStore = store }
}

// WithCodec wires the wire-codec collaborator the decode-and-dispatch
// loop decodes every received frame with. Without one,
// every receive tick logs and drops — matching an unwired codec rather
// than a panic.
func WithCodec(codec NetworkMessageCodec) ManagerOption {
	return func(m *Manager) { m.codec = codec }
}

// WithSecurityPolicy wires the security collaborator KeyStorage
// contexts are created against.
func WithSecurityPolicy(policy SecurityPolicy) ManagerOption {
	return func(m *Manager) { m.security = policy }
}

// NewManager constructs an empty Manager.
func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{
		logger:                NopLogger{},
		keyStorages:           make(map[string]*KeyStorage),
		bootstrapDefaults:     DefaultManagerDefaults(),
		securityGroupPolicies: make(map[string]string),
	}
	m.lifecycleBus = newNopStateEventPublisher()
	m.collaborators = newCollaboratorRegistry()
	m.healthAggregator = health.NewAggregator(nil)
	for _, opt := range opts {
		opt(m)
	}
	_ = m.healthAggregator.RegisterCheck(context.Background(), newTopologyHealthChecker(m))
	return m
}

// GenerateUniqueIdentifier returns a fresh opaque identifier.
func (m *Manager) GenerateUniqueIdentifier() Identifier {
	return generateUniqueIdentifier()
}

// effectiveEventLoop resolves the loop to schedule against, following
// the fallback chain: group's own, else Connection's, else the
// Manager's default.
func (m *Manager) effectiveEventLoop(groupLoop, connLoop EventLoop) (EventLoop, error) {
	if groupLoop != nil {
		return groupLoop, nil
	}
	if connLoop != nil {
		return connLoop, nil
	}
	if m.defaultEventLoop != nil {
		return m.defaultEventLoop, nil
	}
	return nil, fmt.Errorf("%w: no EventLoop available (group, connection, or manager default)", ErrConfigurationError)
}

// findConnection walks the topology for id: O(total entities),
// acceptable at control-plane rates. Caller must hold mu.
func (m *Manager) findConnection(id Identifier) *Connection {
	for _, c := range m.connections {
		if c.identifier == id {
			return c
		}
	}
	return nil
}

func (m *Manager) findReaderGroup(id Identifier) (*ReaderGroup, *Connection) {
	for _, c := range m.connections {
		for _, g := range c.readerGroups {
			if g.identifier == id {
				return g, c
			}
		}
	}
	return nil, nil
}

func (m *Manager) findWriterGroup(id Identifier) (*WriterGroup, *Connection) {
	for _, c := range m.connections {
		for _, g := range c.writerGroups {
			if g.identifier == id {
				return g, c
			}
		}
	}
	return nil, nil
}

func (m *Manager) findDataSetReader(id Identifier) (*DataSetReader, *ReaderGroup) {
	for _, c := range m.connections {
		for _, g := range c.readerGroups {
			for _, r := range g.readers {
				if r.identifier == id {
					return r, g
				}
			}
		}
	}
	return nil, nil
}

func (m *Manager) findDataSetWriter(id Identifier) (*DataSetWriter, *WriterGroup) {
	for _, c := range m.connections {
		for _, g := range c.writerGroups {
			for _, w := range g.writers {
				if w.identifier == id {
					return w, g
				}
			}
		}
	}
	return nil, nil
}

// Snapshot is a read-only view of the full topology for diagnostics.
type Snapshot struct {
	Connections []ConnectionSnapshot `json:"connections"`
}

type ConnectionSnapshot struct {
	ID           string               `json:"id"`
	Name         string               `json:"name"`
	State        string               `json:"state"`
	FreezeCount  int                  `json:"freezeCount"`
	ReaderGroups []ReaderGroupSnapshot `json:"readerGroups"`
	WriterGroups []WriterGroupSnapshot `json:"writerGroups"`
}

type ReaderGroupSnapshot struct {
	ID       string               `json:"id"`
	Name     string               `json:"name"`
	State    string               `json:"state"`
	Frozen   bool                 `json:"frozen"`
	Readers  []DataSetReaderSnapshot `json:"readers"`
}

type DataSetReaderSnapshot struct {
	ID     string `json:"id"`
	State  string `json:"state"`
	Frozen bool   `json:"frozen"`
}

type WriterGroupSnapshot struct {
	ID      string               `json:"id"`
	Name    string               `json:"name"`
	State   string               `json:"state"`
	Frozen  bool                 `json:"frozen"`
	Writers []DataSetWriterSnapshot `json:"writers"`
}

type DataSetWriterSnapshot struct {
	ID     string `json:"id"`
	State  string `json:"state"`
	Frozen bool   `json:"frozen"`
}

// Topology returns a snapshot of the full Manager topology, taken under the
// service mutex. Used by the diagnostics HTTP API and tests.
func (m *Manager) Topology() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := Snapshot{Connections: make([]ConnectionSnapshot, 0, len(m.connections))}
	for _, c := range m.connections {
		cs := ConnectionSnapshot{
			ID:          c.identifier.String(),
			Name:        c.config.Name,
			State:       c.state.String(),
			FreezeCount: c.freezeCounter,
		}
		for _, g := range c.readerGroups {
			gs := ReaderGroupSnapshot{ID: g.identifier.String(), Name: g.config.Name, State: g.state.String(), Frozen: g.configurationFrozen}
			for _, r := range g.readers {
				gs.Readers = append(gs.Readers, DataSetReaderSnapshot{ID: r.identifier.String(), State: r.state.String(), Frozen: r.configurationFrozen})
			}
			cs.ReaderGroups = append(cs.ReaderGroups, gs)
		}
		for _, g := range c.writerGroups {
			gs := WriterGroupSnapshot{ID: g.identifier.String(), Name: g.config.Name, State: g.state.String(), Frozen: g.configurationFrozen}
			for _, w := range g.writers {
				gs.Writers = append(gs.Writers, DataSetWriterSnapshot{ID: w.identifier.String(), State: w.state.String(), Frozen: w.configurationFrozen})
			}
			cs.WriterGroups = append(cs.WriterGroups, gs)
		}
		snap.Connections = append(snap.Connections, cs)
	}
	return snap
}

// withLock runs fn under the service mutex — the single entry point every
// exported mutator funnels through. Internal mutators assume the lock is
// already held at entry; nothing checks it at run time.
func (m *Manager) withLock(ctx context.Context, fn func(ctx context.Context) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(ctx)
}
