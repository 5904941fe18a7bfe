package pubsub

// This file implements value-typed, deep-copyable configuration records
// for every PubSub entity kind. Every Copy* function performs a full deep
// duplication of owned buffers (slices, maps, variant payloads); none has a
// failure path or returns an error. Every Clear* function is idempotent.

// KeyValue is an ordered key/value pair, used for connection and transport
// properties. An ordered slice (not a map) is used because the original
// implementation preserves insertion order for diagnostics output.
type KeyValue struct {
	Key   string
	Value any
}

func copyKeyValues(src []KeyValue) []KeyValue {
	if src == nil {
		return nil
	}
	dst := make([]KeyValue, len(src))
	copy(dst, src)
	return dst
}

// EncodingMimeType selects the NetworkMessage wire encoding for a group.
type EncodingMimeType int

const (
	EncodingUADP EncodingMimeType = iota
	EncodingJSON
)

// RTLevel selects the real-time operating mode for a group.
type RTLevel int

const (
	RTLevelNone RTLevel = iota
	RTLevelFixedSize
)

// SecurityMode selects the message-security mode for a group.
type SecurityMode int

const (
	SecurityModeNone SecurityMode = iota
	SecurityModeSign
	SecurityModeSignAndEncrypt
)

// TransportSettings is a deep-copyable bag of transport-specific knobs
// (multicast TTL, MQTT QoS, Ethernet VLAN id, ...). The control plane never
// interprets these keys; they are handed to the EventLoop/transport
// collaborator verbatim.
type TransportSettings map[string]any

func copyTransportSettings(src TransportSettings) TransportSettings {
	if src == nil {
		return nil
	}
	dst := make(TransportSettings, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

// ConnectionConfig is the value-typed configuration for a Connection.
type ConnectionConfig struct {
	Name                string
	PublisherID         PublisherID
	TransportProfileURI string
	Address             string
	TransportSettings   TransportSettings
	Properties          []KeyValue

	// EventLoop is the Connection's dedicated EventLoop, or nil to use the
	// owning Manager's default loop: group's own, else Connection's,
	// else server's.
	EventLoop EventLoop

	// Transport is consulted on state promotion/demotion.
	// Nil means connect/disconnect are no-ops and always succeed.
	Transport TransportConnector

	// Frames supplies raw buffers to decode on every subscribe-scheduler
	// tick. The wire codec and its byte source are consumed
	// only; a nil Frames makes every tick a no-op poll that
	// finds nothing to decode, rather than a failure.
	Frames FrameSource

	// StateChangeCallback is invoked once per observed state change for
	// this Connection, mirroring the original's
	// per-entity stateChangeCallback configuration field.
	StateChangeCallback StateChangeCallback
}

// Copy clears dst and then deep-copies src into it; it cannot fail.
func (c *ConnectionConfig) Copy(src ConnectionConfig) {
	c.Clear()
	c.Name = src.Name
	c.PublisherID = src.PublisherID
	c.TransportProfileURI = src.TransportProfileURI
	c.Address = src.Address
	c.TransportSettings = copyTransportSettings(src.TransportSettings)
	c.Properties = copyKeyValues(src.Properties)
	c.EventLoop = src.EventLoop
	c.Transport = src.Transport
	c.Frames = src.Frames
	c.StateChangeCallback = src.StateChangeCallback
}

// Clear releases all owned buffers. Idempotent.
func (c *ConnectionConfig) Clear() {
	*c = ConnectionConfig{}
}

// MessageSettingsType names the concrete DataSetReaderMessageSettings
// payload. Only UADPDataSetReaderMessage is eligible for RT hard freeze.
type MessageSettingsType int

const (
	MessageSettingsUnknown MessageSettingsType = iota
	UADPDataSetReaderMessage
	JSONDataSetReaderMessage
)

// FieldDataType classifies a DataSetMetaData field for RT eligibility:
// numeric, boolean, or a String/ByteString with
// maxStringLength > 0.
type FieldDataType int

const (
	FieldDataTypeBoolean FieldDataType = iota
	FieldDataTypeNumeric
	FieldDataTypeString
	FieldDataTypeByteString
)

// FieldMetaData describes a single field of a DataSetReader's metadata.
type FieldMetaData struct {
	Name            string
	DataType        FieldDataType
	MaxStringLength int // only meaningful for String/ByteString
}

// RTEligible reports whether this field may participate in an RT
// fixed-size offset table.
func (f FieldMetaData) RTEligible() bool {
	switch f.DataType {
	case FieldDataTypeBoolean, FieldDataTypeNumeric:
		return true
	case FieldDataTypeString, FieldDataTypeByteString:
		return f.MaxStringLength > 0
	default:
		return false
	}
}

// DataSetMetaData is the typed field list for a DataSetReader/Writer.
type DataSetMetaData struct {
	Name   string
	Fields []FieldMetaData
}

func copyFields(src []FieldMetaData) []FieldMetaData {
	if src == nil {
		return nil
	}
	dst := make([]FieldMetaData, len(src))
	copy(dst, src)
	return dst
}

func (m *DataSetMetaData) Copy(src DataSetMetaData) {
	m.Name = src.Name
	m.Fields = copyFields(src.Fields)
}

func (m *DataSetMetaData) Clear() {
	*m = DataSetMetaData{}
}

// TargetVariable binds one metadata field to a local target node, with an
// optional pre-resolved external value pointer (populated only while the
// group is frozen and the node's value backend is External).
type TargetVariable struct {
	FieldIndex   int
	TargetNodeID string
	// externalValue is populated by freeze.go from NodeStore.get and
	// released on unfreeze/removal; nil outside a hard-frozen group.
	externalValue ExternalValue
}

func copyTargets(src []TargetVariable) []TargetVariable {
	if src == nil {
		return nil
	}
	dst := make([]TargetVariable, len(src))
	for i, t := range src {
		dst[i] = TargetVariable{FieldIndex: t.FieldIndex, TargetNodeID: t.TargetNodeID}
	}
	return dst
}

// DataSetReaderMessageSettings names the wire message-settings payload type.
type DataSetReaderMessageSettings struct {
	Type MessageSettingsType
}

// DataSetReaderConfig is the value-typed configuration for a DataSetReader.
type DataSetReaderConfig struct {
	PublisherID     PublisherID
	WriterGroupID   uint16
	DataSetWriterID uint16
	MetaData        DataSetMetaData
	MessageSettings DataSetReaderMessageSettings
	Targets         []TargetVariable

	// StateChangeCallback is invoked once per observed state change for
	// this DataSetReader.
	StateChangeCallback StateChangeCallback
}

func (c *DataSetReaderConfig) Copy(src DataSetReaderConfig) {
	c.Clear()
	c.PublisherID = src.PublisherID
	c.WriterGroupID = src.WriterGroupID
	c.DataSetWriterID = src.DataSetWriterID
	c.MetaData.Copy(src.MetaData)
	c.MessageSettings = src.MessageSettings
	c.Targets = copyTargets(src.Targets)
	c.StateChangeCallback = src.StateChangeCallback
}

func (c *DataSetReaderConfig) Clear() {
	*c = DataSetReaderConfig{}
}

// ReaderGroupConfig is the value-typed configuration for a ReaderGroup.
type ReaderGroupConfig struct {
	Name                 string
	SubscribingIntervalMs float64
	TimeoutMs            float64
	EncodingMimeType     EncodingMimeType
	RTLevel              RTLevel
	SecurityMode         SecurityMode
	SecurityGroupID      string
	SecurityPolicyURI    string
	EnableBlockingSocket bool

	// EventLoop is this group's own dedicated loop, or nil to fall back to
	// its Connection's, then the Manager's default.
	EventLoop EventLoop

	// Callback, if set, replaces the default synchronous
	// receiveBufferedNetworkMessage dispatch with a custom hook — used for
	// enableBlockingSocket groups.
	Callback func(m *Manager, g *ReaderGroup, c *Connection)

	// StateChangeCallback is invoked once per observed state change for
	// this ReaderGroup.
	StateChangeCallback StateChangeCallback
}

const defaultSubscribingIntervalMs = 5.0

func (c *ReaderGroupConfig) Copy(src ReaderGroupConfig) {
	*c = src
	if c.Name == "" {
		c.Name = "ReaderGroup"
	}
	if c.SubscribingIntervalMs <= 0 {
		c.SubscribingIntervalMs = defaultSubscribingIntervalMs
	}
	if c.TimeoutMs <= 0 {
		if c.EnableBlockingSocket {
			c.TimeoutMs = 0
		} else {
			c.TimeoutMs = 1000
		}
	}
}

func (c *ReaderGroupConfig) Clear() {
	*c = ReaderGroupConfig{}
}

// WriterGroupConfig is the value-typed configuration for a WriterGroup,
// symmetric to ReaderGroupConfig.
type WriterGroupConfig struct {
	Name                string
	PublishingIntervalMs float64
	EncodingMimeType    EncodingMimeType
	RTLevel             RTLevel
	SecurityMode        SecurityMode
	SecurityGroupID     string
	SecurityPolicyURI   string

	// EventLoop is this group's own dedicated loop, or nil to fall back to
	// its Connection's, then the Manager's default.
	EventLoop EventLoop

	Callback func(m *Manager, g *WriterGroup, c *Connection)

	// StateChangeCallback is invoked once per observed state change for
	// this WriterGroup.
	StateChangeCallback StateChangeCallback
}

func (c *WriterGroupConfig) Copy(src WriterGroupConfig) {
	*c = src
	if c.Name == "" {
		c.Name = "WriterGroup"
	}
	if c.PublishingIntervalMs <= 0 {
		c.PublishingIntervalMs = defaultSubscribingIntervalMs
	}
}

func (c *WriterGroupConfig) Clear() {
	*c = WriterGroupConfig{}
}

// DataSetWriterConfig is the value-typed configuration for a DataSetWriter.
type DataSetWriterConfig struct {
	DataSetWriterID uint16
	MetaData        DataSetMetaData
	SourceNodeIDs   []string // nodes whose values feed this writer's dataset

	// StateChangeCallback is invoked once per observed state change for
	// this DataSetWriter.
	StateChangeCallback StateChangeCallback
}

func (c *DataSetWriterConfig) Copy(src DataSetWriterConfig) {
	c.Clear()
	c.DataSetWriterID = src.DataSetWriterID
	c.MetaData.Copy(src.MetaData)
	if src.SourceNodeIDs != nil {
		c.SourceNodeIDs = append([]string(nil), src.SourceNodeIDs...)
	}
	c.StateChangeCallback = src.StateChangeCallback
}

func (c *DataSetWriterConfig) Clear() {
	*c = DataSetWriterConfig{}
}
