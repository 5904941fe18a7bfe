package pubsub

import (
	"context"
	"fmt"
)

// offsetTable is the pre-decoded RT fixed-size layout built on first message
// after a hard freeze. The wire codec
// that would populate its byte offsets is consumed only; it is
// represented here only as the presence/absence marker the state machine
// and dispatch loop need.
type offsetTable struct {
	built bool
}

// Freeze commits group's current configuration, grounded on
// UA_ReaderGroup_freezeConfiguration's step order: already-frozen is a
// success no-op. A FixedSize rtLevel first walks the (single supported)
// child reader for hard-freeze eligibility — message settings, PublisherId
// shape, per-field RT eligibility, and external-value node resolution — and
// only once every check passes does it touch the connection counter and
// child frozen flags, so a rejected freeze leaves all of that state
// untouched. Freeze takes the service mutex itself.
func (m *Manager) Freeze(ctx context.Context, readerGroupID Identifier) error {
	return m.withLock(ctx, func(ctx context.Context) error {
		g, conn := m.findReaderGroup(readerGroupID)
		if g == nil {
			return fmt.Errorf("%w: ReaderGroup %s", ErrNotFound, readerGroupID)
		}
		return m.freezeReaderGroup(ctx, g, conn)
	})
}

func (m *Manager) freezeReaderGroup(ctx context.Context, g *ReaderGroup, conn *Connection) error {
	if g.configurationFrozen {
		return nil
	}

	hardFreeze := g.config.RTLevel == RTLevelFixedSize
	var reader *DataSetReader
	var resolved []ExternalValue

	if hardFreeze {
		if len(g.readers) > 1 {
			return fmt.Errorf("%w: multiple DataSetReaders in a hard-frozen ReaderGroup", ErrNotImplemented)
		}
		if len(g.readers) == 1 {
			reader = g.readers[0]

			if reader.config.MessageSettings.Type != UADPDataSetReaderMessage {
				return fmt.Errorf("%w: hard freeze requires UADP message settings", ErrNotSupported)
			}
			if !reader.config.PublisherID.IsFixedSize() {
				return fmt.Errorf("%w: hard freeze does not support a string PublisherId", ErrNotSupported)
			}

			nodeStore := m.nodeStore
			resolved = make([]ExternalValue, len(reader.config.Targets))
			for i, field := range reader.config.MetaData.Fields {
				if !field.RTEligible() {
					return fmt.Errorf("%w: field %q is not RT-eligible (dynamic-length string/bytestring or non-numeric)", ErrNotSupported, field.Name)
				}
				if i >= len(reader.config.Targets) {
					continue
				}
				target := reader.config.Targets[i]
				if nodeStore == nil || target.TargetNodeID == "" {
					return fmt.Errorf("%w: target variable %q has no resolvable node store", ErrNotSupported, target.TargetNodeID)
				}
				node, err := nodeStore.Get(target.TargetNodeID)
				if err != nil {
					return fmt.Errorf("%w: resolving target node %q: %s", ErrNotSupported, target.TargetNodeID, err)
				}
				if node.BackendType() != ValueBackendExternal {
					nodeStore.Release(node)
					return fmt.Errorf("%w: target node %q has no external value backend", ErrNotSupported, target.TargetNodeID)
				}
				resolved[i] = node.ExternalValue()
				nodeStore.Release(node)
			}
		}
	}

	// Every validation above has already succeeded, so the state mutation
	// below cannot fail partway: a rejected freeze never leaves
	// configurationFrozen or freezeCounter changed.
	conn.freezeCounter++
	g.configurationFrozen = true
	for _, r := range g.readers {
		r.configurationFrozen = true
	}

	if reader == nil {
		return nil
	}

	for i, ev := range resolved {
		if ev != nil {
			reader.config.Targets[i].externalValue = ev
		}
	}

	// Reset the offset buffer: the next received message rebuilds it and
	// re-promotes the group to Operational.
	reader.bufferedMessage = nil
	m.downgradeToPreOperational(g)

	return nil
}

// Unfreeze reverses Freeze: decrements the connection counter, clears the
// frozen flag on the group and every child reader, and clears any buffered
// offset table. Unfreezing while Operational leaves the group running in
// non-RT mode.
func (m *Manager) Unfreeze(ctx context.Context, readerGroupID Identifier) error {
	return m.withLock(ctx, func(ctx context.Context) error {
		g, conn := m.findReaderGroup(readerGroupID)
		if g == nil {
			return fmt.Errorf("%w: ReaderGroup %s", ErrNotFound, readerGroupID)
		}
		if !g.configurationFrozen {
			return nil
		}

		conn.freezeCounter--
		g.configurationFrozen = false
		for _, r := range g.readers {
			r.configurationFrozen = false
			r.bufferedMessage = nil
			for i := range r.config.Targets {
				r.config.Targets[i].externalValue = nil
			}
		}
		return nil
	})
}

// FreezeWriterGroup and UnfreezeWriterGroup are the symmetric WriterGroup
// operations, sharing the same state machine and freeze logic. There is
// no hard-freeze eligibility walk on the write side in this control plane —
// the wire encode step that would consume an RT offset table is consumed
// only — so only the soft-freeze bookkeeping applies.
func (m *Manager) FreezeWriterGroup(ctx context.Context, writerGroupID Identifier) error {
	return m.withLock(ctx, func(ctx context.Context) error {
		g, conn := m.findWriterGroup(writerGroupID)
		if g == nil {
			return fmt.Errorf("%w: WriterGroup %s", ErrNotFound, writerGroupID)
		}
		if g.configurationFrozen {
			return nil
		}
		conn.freezeCounter++
		g.configurationFrozen = true
		for _, w := range g.writers {
			w.configurationFrozen = true
		}
		return nil
	})
}

func (m *Manager) UnfreezeWriterGroup(ctx context.Context, writerGroupID Identifier) error {
	return m.withLock(ctx, func(ctx context.Context) error {
		g, conn := m.findWriterGroup(writerGroupID)
		if g == nil {
			return fmt.Errorf("%w: WriterGroup %s", ErrNotFound, writerGroupID)
		}
		if !g.configurationFrozen {
			return nil
		}
		conn.freezeCounter--
		g.configurationFrozen = false
		for _, w := range g.writers {
			w.configurationFrozen = false
		}
		return nil
	})
}
