package pubsub

import "context"

// Connection is owned by the Manager. It never talks to a
// transport directly; acquire/release call out to the configured
// TransportConnector — the wire codec and transport event loop
// implementation are consumed only, never produced here.
type Connection struct {
	identifier Identifier
	config     ConnectionConfig
	state      State
	cause      Cause
	freezeCounter int
	deleteFlag bool

	stateCallback StateChangeCallback

	readerGroups []*ReaderGroup
	writerGroups []*WriterGroup

	manager *Manager
}

func (c *Connection) id() Identifier             { return c.identifier }
func (c *Connection) kind() EntityKind            { return KindConnection }
func (c *Connection) rawState() State             { return c.state }
func (c *Connection) setRawState(s State)         { c.state = s }
func (c *Connection) callback() StateChangeCallback { return c.stateCallback }

// acquire connects the transport — the Connection's own connect
// attempt may fail, downgrading the group to Error via propagation. A nil
// TransportConnector always succeeds.
func (c *Connection) acquire(ctx context.Context) error {
	if c.config.Transport == nil {
		return nil
	}
	return c.config.Transport.Connect(ctx)
}

// release disconnects the transport. Disconnect errors are logged, not
// propagated — release always succeeds from the state machine's point of
// view; there is no "release failed" state.
func (c *Connection) release(ctx context.Context) {
	if c.config.Transport == nil {
		return
	}
	if err := c.config.Transport.Disconnect(ctx); err != nil {
		c.manager.logger.Warn("transport disconnect failed", "connection", c.identifier.String(), "error", err)
	}
}

func (c *Connection) children() []entityTransition {
	out := make([]entityTransition, 0, len(c.readerGroups)+len(c.writerGroups))
	for _, g := range c.readerGroups {
		out = append(out, g)
	}
	for _, g := range c.writerGroups {
		out = append(out, g)
	}
	return out
}

// effectiveEventLoop resolves the fallback chain for a group of this
// Connection: groupLoop if non-nil, else this Connection's own loop, else
// the Manager's default.
func (c *Connection) effectiveEventLoop(groupLoop EventLoop) (EventLoop, error) {
	return c.manager.effectiveEventLoop(groupLoop, c.config.EventLoop)
}
