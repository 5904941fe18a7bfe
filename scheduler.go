package pubsub

import "context"

// receiveBufferedNetworkMessage is the subscribe scheduler's per-tick entry
// point: each tick re-enters the core under the service
// mutex and invokes receiveBufferedNetworkMessage(server, group,
// connection). Callers (ReaderGroup.acquire's cyclic callback, and the
// immediate post-registration call) must already hold the service mutex.
func (m *Manager) receiveBufferedNetworkMessage(ctx context.Context, g *ReaderGroup, conn *Connection) {
	if g.config.Callback != nil {
		g.config.Callback(m, g, conn)
		return
	}

	if conn.config.Frames == nil {
		return
	}

	buffer, ok, err := conn.config.Frames.NextFrame(ctx)
	if err != nil {
		m.logger.Warn("frame source error", "connection", conn.identifier.String(), "error", err)
		return
	}
	if !ok {
		return
	}

	m.decodeAndDispatch(ctx, buffer, conn)
}

// publishTick is the publish-scheduler's per-tick entry point, symmetric to
// receiveBufferedNetworkMessage: the subscribe scheduler replaced
// by a publish scheduler, otherwise identical contracts. Encoding and
// sending the outgoing NetworkMessage is consumed only; the
// hook is the caller-supplied Callback.
func (m *Manager) publishTick(ctx context.Context, g *WriterGroup, conn *Connection) {
	if g.config.Callback != nil {
		g.config.Callback(m, g, conn)
	}
}
