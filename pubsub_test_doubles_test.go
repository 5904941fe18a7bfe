package pubsub

import (
	"context"
	"sync"
)

// fakeEventLoop is a synchronous stand-in for the EventLoop collaborator:
// AddCyclicCallback records the callback instead of actually scheduling it
// against a timer, so tests can invoke it deterministically via
// fire/fireAll.
type fakeEventLoop struct {
	mu        sync.Mutex
	nextID    uint64
	callbacks map[uint64]func(ctx context.Context)
	removed   []uint64
}

func newFakeEventLoop() *fakeEventLoop {
	return &fakeEventLoop{callbacks: make(map[uint64]func(ctx context.Context))}
}

func (f *fakeEventLoop) AddCyclicCallback(fn func(ctx context.Context), intervalMs float64, policy CycleMissPolicy) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := f.nextID
	f.callbacks[id] = fn
	return id, nil
}

func (f *fakeEventLoop) RemoveCyclicCallback(id uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.callbacks, id)
	f.removed = append(f.removed, id)
}

func (f *fakeEventLoop) AddDelayedCallback(fn func(ctx context.Context)) {
	fn(context.Background())
}

func (f *fakeEventLoop) fire(id uint64, ctx context.Context) {
	f.mu.Lock()
	fn := f.callbacks[id]
	f.mu.Unlock()
	if fn != nil {
		fn(ctx)
	}
}

func (f *fakeEventLoop) fireAll(ctx context.Context) {
	f.mu.Lock()
	fns := make([]func(ctx context.Context), 0, len(f.callbacks))
	for _, fn := range f.callbacks {
		fns = append(fns, fn)
	}
	f.mu.Unlock()
	for _, fn := range fns {
		fn(ctx)
	}
}

func (f *fakeEventLoop) registered() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.callbacks)
}

// fakeTransport is a TransportConnector double that can be told to fail.
type fakeTransport struct {
	connectErr    error
	connectCount  int
	disconnectCount int
}

func (f *fakeTransport) Connect(ctx context.Context) error {
	f.connectCount++
	return f.connectErr
}

func (f *fakeTransport) Disconnect(ctx context.Context) error {
	f.disconnectCount++
	return nil
}

// fakeFrameSource replays a fixed queue of buffers, one per NextFrame call.
type fakeFrameSource struct {
	mu      sync.Mutex
	buffers [][]byte
}

func (f *fakeFrameSource) push(buf []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.buffers = append(f.buffers, buf)
}

func (f *fakeFrameSource) NextFrame(ctx context.Context) ([]byte, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.buffers) == 0 {
		return nil, false, nil
	}
	buf := f.buffers[0]
	f.buffers = f.buffers[1:]
	return buf, true, nil
}

// fakeExternalValue records writes made to a target node during dispatch.
type fakeExternalValue struct {
	mu     sync.Mutex
	writes map[int]any
}

func newFakeExternalValue() *fakeExternalValue {
	return &fakeExternalValue{writes: make(map[int]any)}
}

func (f *fakeExternalValue) Write(fieldIndex int, value any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes[fieldIndex] = value
	return nil
}

// fakeNode wraps a fakeExternalValue behind the Node interface.
type fakeNode struct {
	backend ValueBackendType
	value   ExternalValue
}

func (n *fakeNode) BackendType() ValueBackendType { return n.backend }
func (n *fakeNode) ExternalValue() ExternalValue   { return n.value }

// fakeNodeStore resolves nodeIDs registered via set; Get on an unknown ID
// fails, matching a node store that can't resolve an unconfigured target.
type fakeNodeStore struct {
	mu    sync.Mutex
	nodes map[string]Node
}

func newFakeNodeStore() *fakeNodeStore {
	return &fakeNodeStore{nodes: make(map[string]Node)}
}

func (s *fakeNodeStore) set(id string, n Node) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodes[id] = n
}

func (s *fakeNodeStore) Get(nodeID string) (Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.nodes[nodeID]
	if !ok {
		return nil, ErrNotFound
	}
	return n, nil
}

func (s *fakeNodeStore) Release(n Node) {}

// fakeSecurityContext is the opaque SecurityContext handle fakeSecurityPolicy issues.
type fakeSecurityContext struct {
	policyURI     string
	signingKey    []byte
	encryptingKey []byte
	keyNonce      []byte
}

// fakeSecurityPolicy is a minimal SecurityPolicy double recording calls.
type fakeSecurityPolicy struct {
	mu            sync.Mutex
	newContextErr error
	contexts      []*fakeSecurityContext
	deleted       []SecurityContext
}

func (p *fakeSecurityPolicy) NewContext(policyURI string, signingKey, encryptingKey, keyNonce []byte) (SecurityContext, error) {
	if p.newContextErr != nil {
		return nil, p.newContextErr
	}
	sc := &fakeSecurityContext{policyURI: policyURI, signingKey: signingKey, encryptingKey: encryptingKey, keyNonce: keyNonce}
	p.mu.Lock()
	p.contexts = append(p.contexts, sc)
	p.mu.Unlock()
	return sc, nil
}

func (p *fakeSecurityPolicy) SetSecurityKeys(ctx SecurityContext, signingKey, encryptingKey, keyNonce []byte) error {
	sc, _ := ctx.(*fakeSecurityContext)
	if sc != nil {
		sc.signingKey = signingKey
		sc.encryptingKey = encryptingKey
		sc.keyNonce = keyNonce
	}
	return nil
}

func (p *fakeSecurityPolicy) DeleteContext(ctx SecurityContext) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.deleted = append(p.deleted, ctx)
}

// fakeCodec is a scriptable NetworkMessageCodec double: DecodeHeaders
// returns whatever message was queued via setNextMessage, ignoring the raw
// buffer bytes entirely — wire framing itself is out of scope here.
type fakeCodec struct {
	mu              sync.Mutex
	nextMessage     *NetworkMessage
	headerErr       error
	payloadErr      error
	footerErr       error
	verifyErr       error
	checkIdentifier func(nm *NetworkMessage, r *DataSetReader, gc ReaderGroupConfig) bool
}

func (c *fakeCodec) DecodeHeaders(buffer []byte, pos *int) (*NetworkMessage, error) {
	if c.headerErr != nil {
		return nil, c.headerErr
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.nextMessage == nil {
		return &NetworkMessage{}, nil
	}
	cp := *c.nextMessage
	return &cp, nil
}

func (c *fakeCodec) DecodePayload(buffer []byte, pos *int, nm *NetworkMessage) error {
	if c.payloadErr != nil {
		return c.payloadErr
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.nextMessage != nil {
		nm.DataSetMessages = c.nextMessage.DataSetMessages
	}
	return nil
}

func (c *fakeCodec) DecodeFooters(buffer []byte, pos *int, nm *NetworkMessage) error {
	return c.footerErr
}

func (c *fakeCodec) CheckIdentifier(nm *NetworkMessage, reader *DataSetReader, groupConfig ReaderGroupConfig) bool {
	if c.checkIdentifier != nil {
		return c.checkIdentifier(nm, reader, groupConfig)
	}
	return false
}

func (c *fakeCodec) VerifyAndDecryptNetworkMessage(buffer []byte, pos *int, nm *NetworkMessage, group *ReaderGroup) error {
	return c.verifyErr
}

// stateRecorder captures every callback invocation for a single entity,
// used to assert that every state change observed via stateChangeCallback
// matches getState.
type stateRecorder struct {
	mu     sync.Mutex
	events []stateEvent
}

type stateEvent struct {
	id    Identifier
	kind  EntityKind
	state State
	cause Cause
}

func (r *stateRecorder) callback() StateChangeCallback {
	return func(id Identifier, kind EntityKind, newState State, cause Cause) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.events = append(r.events, stateEvent{id: id, kind: kind, state: newState, cause: cause})
	}
}

func (r *stateRecorder) last() (stateEvent, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.events) == 0 {
		return stateEvent{}, false
	}
	return r.events[len(r.events)-1], true
}

func (r *stateRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}
