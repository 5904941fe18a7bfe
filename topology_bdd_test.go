package pubsub

import (
	"context"
	"errors"
	"testing"

	"github.com/cucumber/godog"
)

var (
	errNoConnection        = errors.New("no connection created yet")
	errNoReaderGroup       = errors.New("no reader group created yet")
	errNoDataSetReader     = errors.New("no data set reader created yet")
	errWrongTickCount      = errors.New("unexpected number of synchronous ticks")
	errWrongState          = errors.New("entity was not in the expected state")
	errWrongCallbackCause  = errors.New("last callback did not report the expected state/cause")
	errFreezeDidNotFail    = errors.New("freeze unexpectedly succeeded")
	errWrongFreezeError    = errors.New("freeze failed with the wrong error")
	errGroupStillFrozen    = errors.New("reader group configuration is still marked frozen")
	errFreezeCounterDrift  = errors.New("connection freeze counter did not return to its pre-freeze value")
	errBufferedMessageLeft = errors.New("data set reader still has a buffered message")
	errContextCreatedTwice = errors.New("security context was created more than once")
	errWrongNonceSequence  = errors.New("nonce sequence number was not reset to 1")
)

// topologyBDDContext holds the fixtures and outcome of a single scenario.
type topologyBDDContext struct {
	manager *Manager
	loop    *fakeEventLoop
	codec   *fakeCodec
	nodes   *fakeNodeStore
	policy  *fakeSecurityPolicy

	connID  Identifier
	groupID Identifier

	readerID  Identifier
	readerRec *stateRecorder
	groupRec  *stateRecorder

	secondGroupID  Identifier
	secondGroupRec *stateRecorder

	freezeErr      error
	preFreezeCount int
	tickCount      int
}

func (c *topologyBDDContext) reset() {
	*c = topologyBDDContext{}
}

func (c *topologyBDDContext) aFreshManager(ctx context.Context) (context.Context, error) {
	c.loop = newFakeEventLoop()
	c.codec = &fakeCodec{}
	c.nodes = newFakeNodeStore()
	c.policy = &fakeSecurityPolicy{}
	c.manager = NewManager(
		WithDefaultEventLoop(c.loop),
		WithCodec(c.codec),
		WithNodeStore(c.nodes),
		WithSecurityPolicy(c.policy),
	)
	return ctx, nil
}

func (c *topologyBDDContext) aConnectionNamedWithTransport(ctx context.Context, name, transport string) error {
	id, err := c.manager.AddConnection(ctx, ConnectionConfig{
		Name:                name,
		TransportProfileURI: transport,
		PublisherID:         PublisherID{Kind: PublisherIDUInt16, UInt16: 7},
	})
	if err != nil {
		return err
	}
	c.connID = id
	return nil
}

func (c *topologyBDDContext) aReaderGroupWithSubscribingInterval(ctx context.Context, intervalMs int) error {
	c.groupRec = &stateRecorder{}
	id, err := c.manager.AddReaderGroup(ctx, c.connID, ReaderGroupConfig{
		Name:                  "G",
		SubscribingIntervalMs: float64(intervalMs),
		StateChangeCallback:   c.groupRec.callback(),
		Callback: func(m *Manager, g *ReaderGroup, conn *Connection) {
			c.tickCount++
		},
	})
	if err != nil {
		return err
	}
	c.groupID = id
	return nil
}

func (c *topologyBDDContext) aFixedSizeReaderGroupWithSubscribingInterval(ctx context.Context, intervalMs int) error {
	c.groupRec = &stateRecorder{}
	id, err := c.manager.AddReaderGroup(ctx, c.connID, ReaderGroupConfig{
		Name:                  "G",
		SubscribingIntervalMs: float64(intervalMs),
		RTLevel:               RTLevelFixedSize,
		StateChangeCallback:   c.groupRec.callback(),
	})
	if err != nil {
		return err
	}
	c.groupID = id
	return nil
}

func (c *topologyBDDContext) aDataSetReaderMatching(ctx context.Context, publisherID, writerGroupID, dataSetWriterID int) error {
	c.readerRec = &stateRecorder{}
	id, err := c.manager.AddDataSetReader(ctx, c.groupID, DataSetReaderConfig{
		PublisherID:         PublisherID{Kind: PublisherIDUInt16, UInt16: uint16(publisherID)},
		WriterGroupID:       uint16(writerGroupID),
		DataSetWriterID:     uint16(dataSetWriterID),
		MessageSettings:     DataSetReaderMessageSettings{Type: UADPDataSetReaderMessage},
		MetaData:            DataSetMetaData{Name: "ds", Fields: []FieldMetaData{{Name: "v", DataType: FieldDataTypeNumeric}}},
		StateChangeCallback: c.readerRec.callback(),
	})
	if err != nil {
		return err
	}
	c.readerID = id
	return nil
}

func (c *topologyBDDContext) aDataSetReaderWithAStringFieldWithMaxLength(ctx context.Context, maxLen int) error {
	c.readerRec = &stateRecorder{}
	id, err := c.manager.AddDataSetReader(ctx, c.groupID, DataSetReaderConfig{
		PublisherID:         PublisherID{Kind: PublisherIDUInt16, UInt16: 7},
		WriterGroupID:       1,
		DataSetWriterID:     1,
		MessageSettings:     DataSetReaderMessageSettings{Type: UADPDataSetReaderMessage},
		MetaData:            DataSetMetaData{Name: "ds", Fields: []FieldMetaData{{Name: "s", DataType: FieldDataTypeString, MaxStringLength: maxLen}}},
		StateChangeCallback: c.readerRec.callback(),
	})
	if err != nil {
		return err
	}
	c.readerID = id
	return nil
}

// twoEnabledReaderGroupsOnThatConnection builds two ReaderGroups, each with
// one matching DataSetReader, and promotes both to Operational by injecting
// a matching frame — matching the "Operational" precondition of the removal
// scenario rather than leaving them at their just-created PreOperational.
func (c *topologyBDDContext) twoEnabledReaderGroupsOnThatConnection(ctx context.Context) error {
	c.groupRec = &stateRecorder{}
	id1, err := c.manager.AddReaderGroup(ctx, c.connID, ReaderGroupConfig{Name: "G1", StateChangeCallback: c.groupRec.callback()})
	if err != nil {
		return err
	}
	c.groupID = id1
	if _, err := c.manager.AddDataSetReader(ctx, id1, DataSetReaderConfig{
		PublisherID:     PublisherID{Kind: PublisherIDUInt16, UInt16: 7},
		WriterGroupID:   1,
		DataSetWriterID: 1,
	}); err != nil {
		return err
	}

	c.secondGroupRec = &stateRecorder{}
	id2, err := c.manager.AddReaderGroup(ctx, c.connID, ReaderGroupConfig{Name: "G2", StateChangeCallback: c.secondGroupRec.callback()})
	if err != nil {
		return err
	}
	c.secondGroupID = id2
	if _, err := c.manager.AddDataSetReader(ctx, id2, DataSetReaderConfig{
		PublisherID:     PublisherID{Kind: PublisherIDUInt16, UInt16: 7},
		WriterGroupID:   2,
		DataSetWriterID: 1,
	}); err != nil {
		return err
	}

	conn := c.manager.findConnection(c.connID)
	for _, wgID := range []uint16{1, 2} {
		c.codec.nextMessage = &NetworkMessage{
			PublisherID:     PublisherID{Kind: PublisherIDUInt16, UInt16: 7},
			WriterGroupID:   wgID,
			DataSetMessages: []DataSetMessage{{DataSetWriterID: 1}},
		}
		if err := c.manager.withLock(ctx, func(ctx context.Context) error {
			c.manager.decodeAndDispatch(ctx, []byte{0x00}, conn)
			return nil
		}); err != nil {
			return err
		}
	}
	return nil
}

func (c *topologyBDDContext) aReaderGroupSecuredWithSecurityGroup(ctx context.Context, securityGroupID string) error {
	id, err := c.manager.AddReaderGroup(ctx, c.connID, ReaderGroupConfig{
		Name:              "Secured",
		SecurityMode:      SecurityModeSign,
		SecurityGroupID:   securityGroupID,
		SecurityPolicyURI: "http://opcfoundation.org/UA/SecurityPolicy#Aes128Sha256RsaOaep",
	})
	if err != nil {
		return err
	}
	c.groupID = id
	return nil
}

func (c *topologyBDDContext) iEnableTheReaderGroup(ctx context.Context) error {
	return c.manager.EnableReaderGroup(ctx, c.groupID)
}

func (c *topologyBDDContext) iInjectAFrameMatching(ctx context.Context, publisherID, writerGroupID, dataSetWriterID int) error {
	c.codec.nextMessage = &NetworkMessage{
		PublisherID:     PublisherID{Kind: PublisherIDUInt16, UInt16: uint16(publisherID)},
		WriterGroupID:   uint16(writerGroupID),
		DataSetMessages: []DataSetMessage{{DataSetWriterID: uint16(dataSetWriterID)}},
	}
	c.codec.checkIdentifier = func(nm *NetworkMessage, r *DataSetReader, gc ReaderGroupConfig) bool { return false }

	conn := c.manager.findConnection(c.connID)
	return c.manager.withLock(ctx, func(ctx context.Context) error {
		c.manager.decodeAndDispatch(ctx, []byte{0x00}, conn)
		return nil
	})
}

func (c *topologyBDDContext) iRemoveTheConnection(ctx context.Context) error {
	return c.manager.RemoveConnection(ctx, c.connID)
}

func (c *topologyBDDContext) iFreezeTheReaderGroup(ctx context.Context) error {
	conn := c.manager.findConnection(c.connID)
	c.preFreezeCount = conn.freezeCounter
	c.freezeErr = c.manager.Freeze(ctx, c.groupID)
	return nil
}

func (c *topologyBDDContext) iUnfreezeTheReaderGroup(ctx context.Context) error {
	return c.manager.Unfreeze(ctx, c.groupID)
}

func (c *topologyBDDContext) iSetEncryptionKeysWithToken(ctx context.Context, tokenID int) error {
	return c.manager.SetEncryptionKeys(ctx, c.groupID, uint32(tokenID), []byte("sign"), []byte("encrypt"), []byte("nonce"))
}

func (c *topologyBDDContext) theConnectionShouldBe(ctx context.Context, want string) error {
	s, err := c.manager.ConnectionState(ctx, c.connID)
	if err != nil {
		return err
	}
	if s.String() != want {
		return errWrongState
	}
	return nil
}

func (c *topologyBDDContext) theReaderGroupShouldBe(ctx context.Context, want string) error {
	s, err := c.manager.ReaderGroupState(ctx, c.groupID)
	if err != nil {
		return err
	}
	if s.String() != want {
		return errWrongState
	}
	return nil
}

func (c *topologyBDDContext) theReaderGroupShouldHaveOneSchedulerTickRegistered(ctx context.Context) error {
	if c.loop.registered() != 1 {
		return errWrongTickCount
	}
	return nil
}

func (c *topologyBDDContext) exactlyOneSynchronousTickShouldHaveRun(ctx context.Context) error {
	if c.tickCount != 1 {
		return errWrongTickCount
	}
	return nil
}

func (c *topologyBDDContext) theDataSetReaderShouldBe(ctx context.Context, want string) error {
	g, _ := c.manager.findReaderGroup(c.groupID)
	if g == nil {
		return errNoReaderGroup
	}
	for _, r := range g.readers {
		if r.identifier == c.readerID {
			if r.state.String() != want {
				return errWrongState
			}
			return nil
		}
	}
	return errNoDataSetReader
}

func (c *topologyBDDContext) theLastStateChangeCallbackShouldReport(ctx context.Context, want, cause string) error {
	ev, ok := c.readerRec.last()
	if !ok {
		return errNoDataSetReader
	}
	if ev.state.String() != want || ev.cause.String() != cause {
		return errWrongCallbackCause
	}
	return nil
}

func (c *topologyBDDContext) bothReaderGroupsShouldHaveBeenNotifiedDisabledBeforeDeletion(ctx context.Context) error {
	ev1, ok1 := c.groupRec.last()
	ev2, ok2 := c.secondGroupRec.last()
	if !ok1 || !ok2 {
		return errNoReaderGroup
	}
	if ev1.state != StateDisabled || ev1.cause != CauseBadResourceUnavailable {
		return errWrongCallbackCause
	}
	if ev2.state != StateDisabled || ev2.cause != CauseBadResourceUnavailable {
		return errWrongCallbackCause
	}
	return nil
}

func (c *topologyBDDContext) theConnectionShouldNoLongerBeFound(ctx context.Context) error {
	if c.manager.findConnection(c.connID) != nil {
		return errNoConnection
	}
	return nil
}

func (c *topologyBDDContext) freezingShouldFailWithNotSupported(ctx context.Context) error {
	if c.freezeErr == nil {
		return errFreezeDidNotFail
	}
	if !errors.Is(c.freezeErr, ErrNotSupported) {
		return errWrongFreezeError
	}
	return nil
}

func (c *topologyBDDContext) theReaderGroupConfigurationShouldNotBeFrozen(ctx context.Context) error {
	g, _ := c.manager.findReaderGroup(c.groupID)
	if g == nil {
		return errNoReaderGroup
	}
	if g.configurationFrozen {
		return errGroupStillFrozen
	}
	return nil
}

func (c *topologyBDDContext) theConnectionsFreezeCounterShouldMatchItsPreFreezeValue(ctx context.Context) error {
	conn := c.manager.findConnection(c.connID)
	if conn == nil {
		return errNoConnection
	}
	if conn.freezeCounter != c.preFreezeCount {
		return errFreezeCounterDrift
	}
	return nil
}

func (c *topologyBDDContext) theDataSetReadersBufferedMessageShouldBeCleared(ctx context.Context) error {
	g, _ := c.manager.findReaderGroup(c.groupID)
	if g == nil {
		return errNoReaderGroup
	}
	for _, r := range g.readers {
		if r.identifier == c.readerID && r.bufferedMessage != nil {
			return errBufferedMessageLeft
		}
	}
	return nil
}

func (c *topologyBDDContext) theSecurityContextShouldHaveBeenCreatedExactlyOnce(ctx context.Context) error {
	if len(c.policy.contexts) != 1 {
		return errContextCreatedTwice
	}
	return nil
}

func (c *topologyBDDContext) theNonceSequenceNumberShouldBe(ctx context.Context, want int) error {
	g, _ := c.manager.findReaderGroup(c.groupID)
	if g == nil || g.keyStorage == nil {
		return errNoReaderGroup
	}
	if int(g.keyStorage.nonceSequenceNumber) != want {
		return errWrongNonceSequence
	}
	return nil
}

func initializeTopologyScenario(sc *godog.ScenarioContext) {
	bdd := &topologyBDDContext{}

	sc.Before(func(ctx context.Context, _ *godog.Scenario) (context.Context, error) {
		bdd.reset()
		return ctx, nil
	})

	sc.Step(`^a fresh manager$`, bdd.aFreshManager)
	sc.Step(`^a connection named "([^"]*)" with transport "([^"]*)"$`, bdd.aConnectionNamedWithTransport)
	sc.Step(`^a reader group with a (\d+) ms subscribing interval on that connection$`, bdd.aReaderGroupWithSubscribingInterval)
	sc.Step(`^a fixed-size reader group with a (\d+) ms subscribing interval on that connection$`, bdd.aFixedSizeReaderGroupWithSubscribingInterval)
	sc.Step(`^a data set reader matching publisher (\d+), writer group (\d+), writer (\d+)$`, bdd.aDataSetReaderMatching)
	sc.Step(`^a data set reader with a string field with max length (\d+)$`, bdd.aDataSetReaderWithAStringFieldWithMaxLength)
	sc.Step(`^two enabled reader groups on that connection$`, bdd.twoEnabledReaderGroupsOnThatConnection)
	sc.Step(`^a reader group secured with security group "([^"]*)"$`, bdd.aReaderGroupSecuredWithSecurityGroup)

	sc.Step(`^I enable the reader group$`, bdd.iEnableTheReaderGroup)
	sc.Step(`^I inject a frame matching publisher (\d+), writer group (\d+), writer (\d+)$`, bdd.iInjectAFrameMatching)
	sc.Step(`^I remove the connection$`, bdd.iRemoveTheConnection)
	sc.Step(`^I freeze the reader group$`, bdd.iFreezeTheReaderGroup)
	sc.Step(`^I unfreeze the reader group$`, bdd.iUnfreezeTheReaderGroup)
	sc.Step(`^I set encryption keys with token (\d+)$`, bdd.iSetEncryptionKeysWithToken)

	sc.Step(`^the connection should be (\w+)$`, bdd.theConnectionShouldBe)
	sc.Step(`^the reader group should be (\w+)$`, bdd.theReaderGroupShouldBe)
	sc.Step(`^the reader group should have one scheduler tick registered$`, bdd.theReaderGroupShouldHaveOneSchedulerTickRegistered)
	sc.Step(`^exactly one synchronous tick should have run$`, bdd.exactlyOneSynchronousTickShouldHaveRun)
	sc.Step(`^the data set reader should be (\w+)$`, bdd.theDataSetReaderShouldBe)
	sc.Step(`^the last state change callback should report (\w+) with cause (\w+)$`, bdd.theLastStateChangeCallbackShouldReport)
	sc.Step(`^both reader groups should have been notified Disabled with cause BadResourceUnavailable before deletion$`, bdd.bothReaderGroupsShouldHaveBeenNotifiedDisabledBeforeDeletion)
	sc.Step(`^the connection should no longer be found$`, bdd.theConnectionShouldNoLongerBeFound)
	sc.Step(`^freezing should fail with not supported$`, bdd.freezingShouldFailWithNotSupported)
	sc.Step(`^the reader group configuration should not be frozen$`, bdd.theReaderGroupConfigurationShouldNotBeFrozen)
	sc.Step(`^the connection's freeze counter should match its pre-freeze value$`, bdd.theConnectionsFreezeCounterShouldMatchItsPreFreezeValue)
	sc.Step(`^the data set reader's buffered message should be cleared$`, bdd.theDataSetReadersBufferedMessageShouldBeCleared)
	sc.Step(`^the security context should have been created exactly once$`, bdd.theSecurityContextShouldHaveBeenCreatedExactlyOnce)
	sc.Step(`^the nonce sequence number should be (\d+)$`, bdd.theNonceSequenceNumberShouldBe)
}

func TestTopologyFeatures(t *testing.T) {
	suite := godog.TestSuite{
		ScenarioInitializer: initializeTopologyScenario,
		Options: &godog.Options{
			Format:   "pretty",
			Paths:    []string{"features/topology.feature"},
			TestingT: t,
			Strict:   true,
		},
	}

	if suite.Run() != 0 {
		t.Fatal("non-zero status returned, failed to run feature tests")
	}
}
