package pubsub

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManager_AddConnection_RequestsPreOperational(t *testing.T) {
	m := NewManager()
	rec := &stateRecorder{}

	id, err := m.AddConnection(context.Background(), ConnectionConfig{
		Name:                "conn-1",
		StateChangeCallback: rec.callback(),
	})
	require.NoError(t, err)
	require.False(t, id.IsNil())

	state, err := m.ConnectionState(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, StatePreOperational, state)

	evt, ok := rec.last()
	require.True(t, ok, "stateChangeCallback should have fired")
	assert.Equal(t, StatePreOperational, evt.state)
	assert.Equal(t, KindConnection, evt.kind)
}

func TestManager_AddConnection_TransportFailureEntersError(t *testing.T) {
	m := NewManager()
	transport := &fakeTransport{connectErr: errors.New("dial refused")}
	rec := &stateRecorder{}

	id, err := m.AddConnection(context.Background(), ConnectionConfig{
		Name:                "conn-fails",
		Transport:           transport,
		StateChangeCallback: rec.callback(),
	})
	require.NoError(t, err, "AddConnection itself never fails on a transport error")

	state, err := m.ConnectionState(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, StateError, state)

	evt, ok := rec.last()
	require.True(t, ok)
	assert.Equal(t, StateError, evt.state)
	assert.Equal(t, CauseBadResourceUnavailable, evt.cause)
}

func TestManager_SameStateTransition_IsNoOpAndDoesNotRefireCallback(t *testing.T) {
	m := NewManager()
	rec := &stateRecorder{}
	id, err := m.AddConnection(context.Background(), ConnectionConfig{StateChangeCallback: rec.callback()})
	require.NoError(t, err)

	before := rec.count()
	require.NoError(t, m.EnableConnection(context.Background(), id))
	assert.Equal(t, before, rec.count(), "re-enabling an already-PreOperational connection must not re-fire the callback")
}

func TestManager_DisablingConnectionPropagatesDownToEveryChild(t *testing.T) {
	m := NewManager()
	loop := newFakeEventLoop()

	connRec := &stateRecorder{}
	groupRec := &stateRecorder{}
	readerRec := &stateRecorder{}

	connID, err := m.AddConnection(context.Background(), ConnectionConfig{
		EventLoop:           loop,
		StateChangeCallback: connRec.callback(),
	})
	require.NoError(t, err)

	groupID, err := m.AddReaderGroup(context.Background(), connID, ReaderGroupConfig{
		EventLoop:           loop,
		StateChangeCallback: groupRec.callback(),
	})
	require.NoError(t, err)

	readerID, err := m.AddDataSetReader(context.Background(), groupID, DataSetReaderConfig{
		StateChangeCallback: readerRec.callback(),
	})
	require.NoError(t, err)

	require.NoError(t, m.DisableConnection(context.Background(), connID))

	connState, err := m.ConnectionState(context.Background(), connID)
	require.NoError(t, err)
	assert.Equal(t, StateDisabled, connState)

	groupState, err := m.ReaderGroupState(context.Background(), groupID)
	require.NoError(t, err)
	assert.Equal(t, StateDisabled, groupState)

	_, g := m.findDataSetReader(readerID)
	require.NotNil(t, g)
	reader, _ := m.findDataSetReader(readerID)
	require.NotNil(t, reader)
	assert.Equal(t, StateDisabled, reader.rawState())

	groupEvt, ok := groupRec.last()
	require.True(t, ok)
	assert.Equal(t, StateDisabled, groupEvt.state)
	assert.Equal(t, CauseBadResourceUnavailable, groupEvt.cause)

	readerEvt, ok := readerRec.last()
	require.True(t, ok)
	assert.Equal(t, StateDisabled, readerEvt.state)
}

func TestManager_EnableReaderGroup_PromotesDisabledParentConnection(t *testing.T) {
	m := NewManager()
	loop := newFakeEventLoop()

	connID, err := m.AddConnection(context.Background(), ConnectionConfig{EventLoop: loop})
	require.NoError(t, err)
	groupID, err := m.AddReaderGroup(context.Background(), connID, ReaderGroupConfig{EventLoop: loop})
	require.NoError(t, err)

	require.NoError(t, m.DisableConnection(context.Background(), connID))

	require.NoError(t, m.EnableReaderGroup(context.Background(), groupID))

	connState, err := m.ConnectionState(context.Background(), connID)
	require.NoError(t, err)
	assert.Equal(t, StatePreOperational, connState, "enabling a group must promote its Disabled parent first (propagation-up)")

	groupState, err := m.ReaderGroupState(context.Background(), groupID)
	require.NoError(t, err)
	assert.Equal(t, StatePreOperational, groupState)
}

func TestManager_UnsupportedTransitionLeavesStateUnchanged(t *testing.T) {
	m := NewManager()
	id, err := m.AddConnection(context.Background(), ConnectionConfig{})
	require.NoError(t, err)
	require.NoError(t, m.DisableConnection(context.Background(), id))

	// Disabled -> Operational is not directly reachable ("via PreOp" only).
	err = m.withLock(context.Background(), func(ctx context.Context) error {
		c := m.findConnection(id)
		return m.setEntityState(ctx, c, StateOperational, CauseGood)
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotSupported))

	state, err := m.ConnectionState(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, StateDisabled, state, "a rejected transition must not mutate state")
}

func TestManager_ReceiveFirstMessage_PromotesGroupAndReaderToOperational(t *testing.T) {
	m := NewManager()
	loop := newFakeEventLoop()
	frames := &fakeFrameSource{}
	codec := &fakeCodec{}

	connID, err := m.AddConnection(context.Background(), ConnectionConfig{
		EventLoop: loop,
		Frames:    frames,
	})
	require.NoError(t, err)

	m.codec = codec

	groupID, err := m.AddReaderGroup(context.Background(), connID, ReaderGroupConfig{EventLoop: loop})
	require.NoError(t, err)
	readerID, err := m.AddDataSetReader(context.Background(), groupID, DataSetReaderConfig{
		PublisherID:     PublisherID{Kind: PublisherIDUInt16, UInt16: 1},
		WriterGroupID:   1,
		DataSetWriterID: 7,
	})
	require.NoError(t, err)

	groupState, err := m.ReaderGroupState(context.Background(), groupID)
	require.NoError(t, err)
	require.Equal(t, StatePreOperational, groupState)

	codec.nextMessage = &NetworkMessage{
		PublisherID:   PublisherID{Kind: PublisherIDUInt16, UInt16: 1},
		WriterGroupID: 1,
		DataSetMessages: []DataSetMessage{
			{DataSetWriterID: 7, FieldValues: []any{int32(42)}},
		},
	}
	frames.push([]byte{0x00})

	loop.fireAll(context.Background())

	groupState, err = m.ReaderGroupState(context.Background(), groupID)
	require.NoError(t, err)
	assert.Equal(t, StateOperational, groupState, "first successfully dispatched message promotes the group")

	reader, _ := m.findDataSetReader(readerID)
	require.NotNil(t, reader)
	assert.Equal(t, StateOperational, reader.rawState(), "promotion cascades to the reader child too")
}

func TestManager_RemoveConnection_UnlinksAndMarksDeleteFlag(t *testing.T) {
	m := NewManager()
	id, err := m.AddConnection(context.Background(), ConnectionConfig{})
	require.NoError(t, err)

	require.NoError(t, m.RemoveConnection(context.Background(), id))

	_, err = m.ConnectionState(context.Background(), id)
	assert.True(t, errors.Is(err, ErrNotFound), "a removed connection is unlinked from the topology")
}

func TestManager_OperationsOnUnknownIdentifier_ReturnErrNotFound(t *testing.T) {
	m := NewManager()
	unknown := m.GenerateUniqueIdentifier()

	_, err := m.ConnectionState(context.Background(), unknown)
	assert.True(t, errors.Is(err, ErrNotFound))

	err = m.EnableConnection(context.Background(), unknown)
	assert.True(t, errors.Is(err, ErrNotFound))
}
