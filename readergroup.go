package pubsub

import (
	"context"
	"fmt"
)

// ReaderGroup is owned by a Connection. Its subscribeCallbackId
// is non-zero exactly while an EventLoop cyclic callback is scheduled;
// acquire/release keep that in lockstep with state.
type ReaderGroup struct {
	identifier          Identifier
	config              ReaderGroupConfig
	state               State
	cause               Cause
	configurationFrozen bool

	subscribeCallbackID uint64

	keyStorage      *KeyStorage
	securityContext SecurityContext

	stateCallback StateChangeCallback

	readers []*DataSetReader

	parent  *Connection
	manager *Manager
}

func (g *ReaderGroup) id() Identifier               { return g.identifier }
func (g *ReaderGroup) kind() EntityKind              { return KindReaderGroup }
func (g *ReaderGroup) rawState() State               { return g.state }
func (g *ReaderGroup) setRawState(s State)           { g.state = s }
func (g *ReaderGroup) callback() StateChangeCallback { return g.stateCallback }

// acquire registers the group's cyclic receive callback. Re-entrant
// registration (subscribeCallbackId already non-zero) is a BadInternalError.
func (g *ReaderGroup) acquire(ctx context.Context) error {
	if g.subscribeCallbackID != 0 {
		return fmt.Errorf("%w: ReaderGroup %s already has a subscribe callback registered", ErrInternalError, g.identifier)
	}

	loop, err := g.manager.effectiveEventLoop(g.config.EventLoop, g.parent.config.EventLoop)
	if err != nil {
		return err
	}

	id, err := loop.AddCyclicCallback(func(tickCtx context.Context) {
		g.manager.withLock(tickCtx, func(lockedCtx context.Context) error {
			g.manager.receiveBufferedNetworkMessage(lockedCtx, g, g.parent)
			return nil
		})
	}, g.config.SubscribingIntervalMs, CycleMissSkip)
	if err != nil {
		return fmt.Errorf("%w: scheduling ReaderGroup %s: %s", ErrResourceUnavailable, g.identifier, err)
	}
	g.subscribeCallbackID = id

	// Immediately after successful registration the scheduler invokes the
	// callback once synchronously unless enableBlockingSocket is set.
	if !g.config.EnableBlockingSocket {
		g.manager.receiveBufferedNetworkMessage(ctx, g, g.parent)
	}
	return nil
}

// release cancels the scheduled callback and drops every child reader's
// offset table, matching the cancel+release transition cells. The group's
// KeyStorage reference and security context are left in place.
func (g *ReaderGroup) release(ctx context.Context) {
	if g.subscribeCallbackID != 0 {
		loop, err := g.manager.effectiveEventLoop(g.config.EventLoop, g.parent.config.EventLoop)
		if err == nil {
			loop.RemoveCyclicCallback(g.subscribeCallbackID)
		}
		g.subscribeCallbackID = 0
	}
	for _, r := range g.readers {
		r.bufferedMessage = nil
	}
}

func (g *ReaderGroup) children() []entityTransition {
	out := make([]entityTransition, 0, len(g.readers))
	for _, r := range g.readers {
		out = append(out, r)
	}
	return out
}
