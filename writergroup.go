package pubsub

import (
	"context"
	"fmt"
)

// WriterGroup is owned by a Connection and is symmetric to ReaderGroup:
// same state machine and freeze logic, with its subscribe scheduler
// replaced by a publish scheduler and otherwise identical contracts.
// Encoding the outgoing NetworkMessage is consumed only, never produced
// here; each publish tick invokes the configured Callback, which
// is where a caller supplies the encode-and-send step.
type WriterGroup struct {
	identifier          Identifier
	config              WriterGroupConfig
	state               State
	cause               Cause
	configurationFrozen bool

	publishCallbackID uint64

	keyStorage      *KeyStorage
	securityContext SecurityContext

	stateCallback StateChangeCallback

	writers []*DataSetWriter

	parent  *Connection
	manager *Manager
}

func (g *WriterGroup) id() Identifier               { return g.identifier }
func (g *WriterGroup) kind() EntityKind              { return KindWriterGroup }
func (g *WriterGroup) rawState() State               { return g.state }
func (g *WriterGroup) setRawState(s State)           { g.state = s }
func (g *WriterGroup) callback() StateChangeCallback { return g.stateCallback }

func (g *WriterGroup) acquire(ctx context.Context) error {
	if g.publishCallbackID != 0 {
		return fmt.Errorf("%w: WriterGroup %s already has a publish callback registered", ErrInternalError, g.identifier)
	}

	loop, err := g.manager.effectiveEventLoop(g.config.EventLoop, g.parent.config.EventLoop)
	if err != nil {
		return err
	}

	id, err := loop.AddCyclicCallback(func(tickCtx context.Context) {
		g.manager.withLock(tickCtx, func(lockedCtx context.Context) error {
			g.manager.publishTick(lockedCtx, g, g.parent)
			return nil
		})
	}, g.config.PublishingIntervalMs, CycleMissSkip)
	if err != nil {
		return fmt.Errorf("%w: scheduling WriterGroup %s: %s", ErrResourceUnavailable, g.identifier, err)
	}
	g.publishCallbackID = id
	return nil
}

func (g *WriterGroup) release(ctx context.Context) {
	if g.publishCallbackID != 0 {
		loop, err := g.manager.effectiveEventLoop(g.config.EventLoop, g.parent.config.EventLoop)
		if err == nil {
			loop.RemoveCyclicCallback(g.publishCallbackID)
		}
		g.publishCallbackID = 0
	}
}

func (g *WriterGroup) children() []entityTransition {
	out := make([]entityTransition, 0, len(g.writers))
	for _, w := range g.writers {
		out = append(out, w)
	}
	return out
}
