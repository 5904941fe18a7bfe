package pubsub

import "context"

// decodeAndDispatch runs the five-step decode
// sequence: decodeHeaders, the encrypted-dispatch reader search, payload
// and footer decode, then per-message dispatch by matching triple. Decode
// and match failures are logged and dropped — the scheduler tick simply
// produces nothing this cycle.
func (m *Manager) decodeAndDispatch(ctx context.Context, buffer []byte, conn *Connection) {
	if m.codec == nil {
		m.logger.Warn("no NetworkMessageCodec wired, dropping frame", "connection", conn.identifier.String())
		return
	}

	pos := 0
	nm, err := m.codec.DecodeHeaders(buffer, &pos)
	if err != nil {
		m.logger.Warn("decodeHeaders failed, dropping frame", "connection", conn.identifier.String(), "error", err)
		return
	}

	if nm.Encrypted {
		if group := m.findSecuredReader(nm, conn); group != nil {
			if err := m.codec.VerifyAndDecryptNetworkMessage(buffer, &pos, nm, group); err != nil {
				m.logger.Warn("verify/decrypt failed, dropping frame", "connection", conn.identifier.String(), "error", err)
				return
			}
		} else {
			// No secured reader claimed it: the frame is silently accepted
			// and may still be delivered to a non-secured reader.
			m.logger.Warn("encrypted frame matched no secured reader, continuing unencrypted", "connection", conn.identifier.String())
		}
	}

	if err := m.codec.DecodePayload(buffer, &pos, nm); err != nil {
		m.logger.Warn("decodePayload failed, dropping frame", "connection", conn.identifier.String(), "error", err)
		return
	}
	if err := m.codec.DecodeFooters(buffer, &pos, nm); err != nil {
		m.logger.Warn("decodeFooters failed, dropping frame", "connection", conn.identifier.String(), "error", err)
		return
	}

	for i := range nm.DataSetMessages {
		m.dispatchDataSetMessage(ctx, nm, &nm.DataSetMessages[i], conn)
	}
}

// findSecuredReader walks conn's reader groups and their readers in
// insertion order, returning the group of the first reader that accepts nm.
// The search stops at that first accepting reader; the caller verifies
// against its group and drops the frame if verification fails.
func (m *Manager) findSecuredReader(nm *NetworkMessage, conn *Connection) *ReaderGroup {
	for _, g := range conn.readerGroups {
		if g.config.SecurityMode == SecurityModeNone {
			continue
		}
		for _, r := range g.readers {
			if m.codec.CheckIdentifier(nm, r, g.config) {
				return g
			}
		}
	}
	return nil
}

// dispatchDataSetMessage delivers dsm to the reader whose (PublisherId,
// WriterGroupId, DataSetWriterId) triple matches.
func (m *Manager) dispatchDataSetMessage(ctx context.Context, nm *NetworkMessage, dsm *DataSetMessage, conn *Connection) {
	for _, g := range conn.readerGroups {
		for _, r := range g.readers {
			if !r.matchesHeader(nm, g, dsm) {
				continue
			}
			m.deliverToReader(ctx, g, r, dsm)
			return
		}
	}
}

// deliverToReader implements the promotion and RT offset-table side
// effects of a successful match: promoting the group and its children to
// Operational on the first delivered message, and building the reader's
// offset table on its first delivery while hard-frozen.
func (m *Manager) deliverToReader(ctx context.Context, g *ReaderGroup, r *DataSetReader, dsm *DataSetMessage) {
	if g.rawState() == StatePreOperational {
		m.promoteToOperational(g)
		for _, child := range g.children() {
			m.promoteToOperational(child)
		}
	}

	if g.configurationFrozen && g.config.RTLevel == RTLevelFixedSize && r.bufferedMessage == nil {
		r.bufferedMessage = &offsetTable{built: true}
	}

	for _, target := range r.config.Targets {
		if target.externalValue == nil {
			continue
		}
		if target.FieldIndex < 0 || target.FieldIndex >= len(dsm.FieldValues) {
			continue
		}
		if err := target.externalValue.Write(target.FieldIndex, dsm.FieldValues[target.FieldIndex]); err != nil {
			m.logger.Warn("external value write failed", "reader", r.identifier.String(), "error", err)
		}
	}
}
