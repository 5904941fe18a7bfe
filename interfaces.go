package pubsub

import "context"

// CycleMissPolicy controls what an EventLoop does when a cyclic callback's
// tick is still running when the next one is due.
type CycleMissPolicy int

const (
	CycleMissSkip CycleMissPolicy = iota
	CycleMissQueue
)

// EventLoop is the consumed transport/reactor collaborator.
// The control plane never runs its own timers; every periodic receive/
// publish tick is registered against an EventLoop supplied by the caller.
type EventLoop interface {
	AddCyclicCallback(fn func(ctx context.Context), intervalMs float64, cycleMissPolicy CycleMissPolicy) (id uint64, err error)
	RemoveCyclicCallback(id uint64)
	AddDelayedCallback(fn func(ctx context.Context))
}

// ExternalValue is a zero-copy handle into NodeStore-managed storage,
// obtained via NodeStore.Get and released via NodeStore.Release. Non-nil
// only while the owning freeze's get/release bracket is open.
type ExternalValue interface {
	// Write stores the decoded field value at the backing location.
	Write(fieldIndex int, value any) error
}

// ValueBackendType classifies a Node's value storage.
type ValueBackendType int

const (
	ValueBackendInternal ValueBackendType = iota
	ValueBackendExternal
)

// Node is the minimal view of an OPC UA address-space node the control
// plane needs: its value-backend classification and, when External, a
// handle usable until Release.
type Node interface {
	BackendType() ValueBackendType
	ExternalValue() ExternalValue
}

// NodeStore is the consumed information-model collaborator.
type NodeStore interface {
	Get(nodeID string) (Node, error)
	Release(n Node)
}

// SecurityContext is an opaque handle returned by SecurityPolicy.NewContext,
// passed back into SetSecurityKeys/DeleteContext.
type SecurityContext interface{}

// SecurityPolicy is the consumed security collaborator.
type SecurityPolicy interface {
	NewContext(policyURI string, signingKey, encryptingKey, keyNonce []byte) (SecurityContext, error)
	SetSecurityKeys(ctx SecurityContext, signingKey, encryptingKey, keyNonce []byte) error
	DeleteContext(ctx SecurityContext)
}

// TransportConnector is consumed by Connection state promotion/demotion:
// the Connection's own connect attempt may fail, and a concrete action is
// required to make that possible. A nil TransportConnector makes
// connect/disconnect no-ops that always succeed, matching an unwired
// collaborator rather than a failure.
type TransportConnector interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
}

// NetworkMessage is the decoded wire message produced by the codec
// collaborator. The wire codec itself is out of scope and consumed only.
// The control plane treats it as an opaque carrier plus the three matching
// fields dispatch needs.
type NetworkMessage struct {
	PublisherID     PublisherID
	WriterGroupID   uint16
	DataSetMessages []DataSetMessage
	Encrypted       bool
}

// DataSetMessage is one payload unit inside a NetworkMessage, destined for
// exactly one DataSetReader/Writer by (PublisherID, WriterGroupID,
// DataSetWriterID).
type DataSetMessage struct {
	DataSetWriterID uint16
	FieldValues     []any // positional, matches DataSetMetaData.Fields order
}

// FrameSource supplies the next raw buffer waiting on a Connection, for the
// subscribe scheduler to hand to NetworkMessageCodec. This is the
// byte-level counterpart to TransportConnector's connect/disconnect pair;
// a concrete source is required to make "an already-available buffer to
// decode" executable. ok is false when nothing is
// currently buffered (not an error — the scheduler tick simply does
// nothing this cycle).
type FrameSource interface {
	NextFrame(ctx context.Context) (buffer []byte, ok bool, err error)
}

// NetworkMessageCodec is the consumed wire-codec collaborator:
// decodeHeaders/decodePayload/decodeFooters, plus the security
// gate checkIdentifier/verifyAndDecryptNetworkMessage.
type NetworkMessageCodec interface {
	DecodeHeaders(buffer []byte, pos *int) (*NetworkMessage, error)
	DecodePayload(buffer []byte, pos *int, nm *NetworkMessage) error
	DecodeFooters(buffer []byte, pos *int, nm *NetworkMessage) error

	// CheckIdentifier reports whether reader is a plausible match for nm's
	// headers, before payload decode — used to pick a security context
	// during the encrypted-dispatch search.
	CheckIdentifier(nm *NetworkMessage, reader *DataSetReader, groupConfig ReaderGroupConfig) bool

	// VerifyAndDecryptNetworkMessage authenticates/decrypts nm in place
	// using the group's security context.
	VerifyAndDecryptNetworkMessage(buffer []byte, pos *int, nm *NetworkMessage, group *ReaderGroup) error
}
