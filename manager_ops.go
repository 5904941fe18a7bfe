package pubsub

import (
	"context"
	"fmt"
)

// This file implements the typed create/remove/enable/disable/get
// operations: entities are created by a
// typed create call that copies the caller's config, links into the
// parent, assigns an identifier, and requests state PreOperational.
// Destruction is two-phased: synchronous unlink + deleteFlag=true +
// transport disconnect.

// AddConnection creates a Connection under the Manager, copies cfg, and
// requests PreOperational.
func (m *Manager) AddConnection(ctx context.Context, cfg ConnectionConfig) (Identifier, error) {
	var id Identifier
	err := m.withLock(ctx, func(ctx context.Context) error {
		c := &Connection{identifier: m.GenerateUniqueIdentifier(), manager: m}
		c.config.Copy(cfg)
		c.stateCallback = cfg.StateChangeCallback

		m.connections = append(m.connections, c)
		id = c.identifier

		if err := m.setEntityState(ctx, c, StatePreOperational, CauseGood); err != nil {
			return err
		}
		return nil
	})
	return id, err
}

// RemoveConnection implements the two-phase destruction: the
// Connection is set Disabled (cancelling/releasing transport and
// propagating down to every child), marked deleteFlag, and unlinked from
// m.connections. No delayed free is scheduled.
func (m *Manager) RemoveConnection(ctx context.Context, id Identifier) error {
	return m.withLock(ctx, func(ctx context.Context) error {
		c := m.findConnection(id)
		if c == nil {
			return fmt.Errorf("%w: Connection %s", ErrNotFound, id)
		}
		if err := m.setEntityState(ctx, c, StateDisabled, CauseGood); err != nil {
			m.logger.Warn("disable before remove failed", "connection", id.String(), "error", err)
		}
		c.deleteFlag = true

		for i, existing := range m.connections {
			if existing.identifier == id {
				m.connections = append(m.connections[:i], m.connections[i+1:]...)
				break
			}
		}
		return nil
	})
}

func (m *Manager) EnableConnection(ctx context.Context, id Identifier) error {
	return m.withLock(ctx, func(ctx context.Context) error {
		c := m.findConnection(id)
		if c == nil {
			return fmt.Errorf("%w: Connection %s", ErrNotFound, id)
		}
		return m.setEntityState(ctx, c, StatePreOperational, CauseGood)
	})
}

func (m *Manager) DisableConnection(ctx context.Context, id Identifier) error {
	return m.withLock(ctx, func(ctx context.Context) error {
		c := m.findConnection(id)
		if c == nil {
			return fmt.Errorf("%w: Connection %s", ErrNotFound, id)
		}
		return m.setEntityState(ctx, c, StateDisabled, CauseGood)
	})
}

func (m *Manager) ConnectionState(ctx context.Context, id Identifier) (State, error) {
	var s State
	err := m.withLock(ctx, func(ctx context.Context) error {
		c := m.findConnection(id)
		if c == nil {
			return fmt.Errorf("%w: Connection %s", ErrNotFound, id)
		}
		s = c.state
		return nil
	})
	return s, err
}

func (m *Manager) ConnectionConfigOf(ctx context.Context, id Identifier) (ConnectionConfig, error) {
	var cfg ConnectionConfig
	err := m.withLock(ctx, func(ctx context.Context) error {
		c := m.findConnection(id)
		if c == nil {
			return fmt.Errorf("%w: Connection %s", ErrNotFound, id)
		}
		cfg.Copy(c.config)
		return nil
	})
	return cfg, err
}

// AddReaderGroup creates a ReaderGroup under connectionID.
// JSON encoding with any security mode is rejected.
func (m *Manager) AddReaderGroup(ctx context.Context, connectionID Identifier, cfg ReaderGroupConfig) (Identifier, error) {
	var id Identifier
	err := m.withLock(ctx, func(ctx context.Context) error {
		conn := m.findConnection(connectionID)
		if conn == nil {
			return fmt.Errorf("%w: Connection %s", ErrNotFound, connectionID)
		}
		if conn.freezeCounter > 0 {
			return fmt.Errorf("%w: Connection %s has frozen children, cannot add a ReaderGroup", ErrConfigurationError, connectionID)
		}
		if cfg.EncodingMimeType == EncodingJSON && cfg.SecurityMode != SecurityModeNone {
			return fmt.Errorf("%w: JSON encoding does not support message security", ErrInternalError)
		}

		if cfg.SubscribingIntervalMs <= 0 && m.bootstrapDefaults.SubscribingIntervalMs > 0 {
			cfg.SubscribingIntervalMs = m.bootstrapDefaults.SubscribingIntervalMs
		}
		if cfg.TimeoutMs <= 0 && m.bootstrapDefaults.TimeoutMs > 0 && !cfg.EnableBlockingSocket {
			cfg.TimeoutMs = float64(m.bootstrapDefaults.TimeoutMs)
		}

		g := &ReaderGroup{identifier: m.GenerateUniqueIdentifier(), parent: conn, manager: m}
		g.config.Copy(cfg)
		g.stateCallback = cfg.StateChangeCallback

		if g.config.SecurityMode != SecurityModeNone && g.config.SecurityGroupID != "" {
			ks, err := m.acquireKeyStorage(g.config.SecurityGroupID, g.config.SecurityPolicyURI)
			if err != nil {
				return err
			}
			g.keyStorage = ks
		}

		conn.readerGroups = append(conn.readerGroups, g)
		id = g.identifier

		return m.setEntityState(ctx, g, StatePreOperational, CauseGood)
	})
	return id, err
}

func (m *Manager) RemoveReaderGroup(ctx context.Context, id Identifier) error {
	return m.withLock(ctx, func(ctx context.Context) error {
		g, conn := m.findReaderGroup(id)
		if g == nil {
			return fmt.Errorf("%w: ReaderGroup %s", ErrNotFound, id)
		}
		if err := m.setEntityState(ctx, g, StateDisabled, CauseGood); err != nil {
			m.logger.Warn("disable before remove failed", "readerGroup", id.String(), "error", err)
		}
		if g.keyStorage != nil {
			m.releaseKeyStorage(g.config.SecurityGroupID)
			g.keyStorage = nil
		}

		for i, existing := range conn.readerGroups {
			if existing.identifier == id {
				conn.readerGroups = append(conn.readerGroups[:i], conn.readerGroups[i+1:]...)
				break
			}
		}
		return nil
	})
}

func (m *Manager) EnableReaderGroup(ctx context.Context, id Identifier) error {
	return m.withLock(ctx, func(ctx context.Context) error {
		g, conn := m.findReaderGroup(id)
		if g == nil {
			return fmt.Errorf("%w: ReaderGroup %s", ErrNotFound, id)
		}
		// Propagation up: enabling a group promotes a Disabled/Paused
		// Connection to PreOperational first.
		if conn.rawState() == StateDisabled || conn.rawState() == StatePaused {
			if err := m.setEntityState(ctx, conn, StatePreOperational, CauseGood); err != nil {
				return err
			}
		}
		return m.setEntityState(ctx, g, StatePreOperational, CauseGood)
	})
}

func (m *Manager) DisableReaderGroup(ctx context.Context, id Identifier) error {
	return m.withLock(ctx, func(ctx context.Context) error {
		g, _ := m.findReaderGroup(id)
		if g == nil {
			return fmt.Errorf("%w: ReaderGroup %s", ErrNotFound, id)
		}
		return m.setEntityState(ctx, g, StateDisabled, CauseGood)
	})
}

func (m *Manager) ReaderGroupState(ctx context.Context, id Identifier) (State, error) {
	var s State
	err := m.withLock(ctx, func(ctx context.Context) error {
		g, _ := m.findReaderGroup(id)
		if g == nil {
			return fmt.Errorf("%w: ReaderGroup %s", ErrNotFound, id)
		}
		s = g.state
		return nil
	})
	return s, err
}

// AddDataSetReader creates a DataSetReader under readerGroupID.
func (m *Manager) AddDataSetReader(ctx context.Context, readerGroupID Identifier, cfg DataSetReaderConfig) (Identifier, error) {
	var id Identifier
	err := m.withLock(ctx, func(ctx context.Context) error {
		g, _ := m.findReaderGroup(readerGroupID)
		if g == nil {
			return fmt.Errorf("%w: ReaderGroup %s", ErrNotFound, readerGroupID)
		}
		if g.configurationFrozen {
			return fmt.Errorf("%w: ReaderGroup %s is frozen", ErrConfigurationError, readerGroupID)
		}

		r := &DataSetReader{identifier: m.GenerateUniqueIdentifier(), parent: g, manager: m}
		r.config.Copy(cfg)
		r.stateCallback = cfg.StateChangeCallback

		g.readers = append(g.readers, r)
		id = r.identifier

		return m.setEntityState(ctx, r, StatePreOperational, CauseGood)
	})
	return id, err
}

func (m *Manager) RemoveDataSetReader(ctx context.Context, id Identifier) error {
	return m.withLock(ctx, func(ctx context.Context) error {
		r, g := m.findDataSetReader(id)
		if r == nil {
			return fmt.Errorf("%w: DataSetReader %s", ErrNotFound, id)
		}
		if err := m.setEntityState(ctx, r, StateDisabled, CauseGood); err != nil {
			m.logger.Warn("disable before remove failed", "dataSetReader", id.String(), "error", err)
		}
		for i, existing := range g.readers {
			if existing.identifier == id {
				g.readers = append(g.readers[:i], g.readers[i+1:]...)
				break
			}
		}
		return nil
	})
}

// AddWriterGroup creates a WriterGroup under connectionID, symmetric to
// AddReaderGroup.
func (m *Manager) AddWriterGroup(ctx context.Context, connectionID Identifier, cfg WriterGroupConfig) (Identifier, error) {
	var id Identifier
	err := m.withLock(ctx, func(ctx context.Context) error {
		conn := m.findConnection(connectionID)
		if conn == nil {
			return fmt.Errorf("%w: Connection %s", ErrNotFound, connectionID)
		}
		if conn.freezeCounter > 0 {
			return fmt.Errorf("%w: Connection %s has frozen children, cannot add a WriterGroup", ErrConfigurationError, connectionID)
		}
		if cfg.EncodingMimeType == EncodingJSON && cfg.SecurityMode != SecurityModeNone {
			return fmt.Errorf("%w: JSON encoding does not support message security", ErrInternalError)
		}

		if cfg.PublishingIntervalMs <= 0 && m.bootstrapDefaults.SubscribingIntervalMs > 0 {
			cfg.PublishingIntervalMs = m.bootstrapDefaults.SubscribingIntervalMs
		}

		g := &WriterGroup{identifier: m.GenerateUniqueIdentifier(), parent: conn, manager: m}
		g.config.Copy(cfg)
		g.stateCallback = cfg.StateChangeCallback

		if g.config.SecurityMode != SecurityModeNone && g.config.SecurityGroupID != "" {
			ks, err := m.acquireKeyStorage(g.config.SecurityGroupID, g.config.SecurityPolicyURI)
			if err != nil {
				return err
			}
			g.keyStorage = ks
		}

		conn.writerGroups = append(conn.writerGroups, g)
		id = g.identifier

		return m.setEntityState(ctx, g, StatePreOperational, CauseGood)
	})
	return id, err
}

func (m *Manager) RemoveWriterGroup(ctx context.Context, id Identifier) error {
	return m.withLock(ctx, func(ctx context.Context) error {
		g, conn := m.findWriterGroup(id)
		if g == nil {
			return fmt.Errorf("%w: WriterGroup %s", ErrNotFound, id)
		}
		if err := m.setEntityState(ctx, g, StateDisabled, CauseGood); err != nil {
			m.logger.Warn("disable before remove failed", "writerGroup", id.String(), "error", err)
		}
		if g.keyStorage != nil {
			m.releaseKeyStorage(g.config.SecurityGroupID)
			g.keyStorage = nil
		}
		for i, existing := range conn.writerGroups {
			if existing.identifier == id {
				conn.writerGroups = append(conn.writerGroups[:i], conn.writerGroups[i+1:]...)
				break
			}
		}
		return nil
	})
}

func (m *Manager) EnableWriterGroup(ctx context.Context, id Identifier) error {
	return m.withLock(ctx, func(ctx context.Context) error {
		g, conn := m.findWriterGroup(id)
		if g == nil {
			return fmt.Errorf("%w: WriterGroup %s", ErrNotFound, id)
		}
		if conn.rawState() == StateDisabled || conn.rawState() == StatePaused {
			if err := m.setEntityState(ctx, conn, StatePreOperational, CauseGood); err != nil {
				return err
			}
		}
		return m.setEntityState(ctx, g, StatePreOperational, CauseGood)
	})
}

func (m *Manager) DisableWriterGroup(ctx context.Context, id Identifier) error {
	return m.withLock(ctx, func(ctx context.Context) error {
		g, _ := m.findWriterGroup(id)
		if g == nil {
			return fmt.Errorf("%w: WriterGroup %s", ErrNotFound, id)
		}
		return m.setEntityState(ctx, g, StateDisabled, CauseGood)
	})
}

// AddDataSetWriter creates a DataSetWriter under writerGroupID.
func (m *Manager) AddDataSetWriter(ctx context.Context, writerGroupID Identifier, cfg DataSetWriterConfig) (Identifier, error) {
	var id Identifier
	err := m.withLock(ctx, func(ctx context.Context) error {
		g, _ := m.findWriterGroup(writerGroupID)
		if g == nil {
			return fmt.Errorf("%w: WriterGroup %s", ErrNotFound, writerGroupID)
		}
		if g.configurationFrozen {
			return fmt.Errorf("%w: WriterGroup %s is frozen", ErrConfigurationError, writerGroupID)
		}

		w := &DataSetWriter{identifier: m.GenerateUniqueIdentifier(), parent: g, manager: m}
		w.config.Copy(cfg)
		w.stateCallback = cfg.StateChangeCallback

		g.writers = append(g.writers, w)
		id = w.identifier

		return m.setEntityState(ctx, w, StatePreOperational, CauseGood)
	})
	return id, err
}

func (m *Manager) RemoveDataSetWriter(ctx context.Context, id Identifier) error {
	return m.withLock(ctx, func(ctx context.Context) error {
		w, g := m.findDataSetWriter(id)
		if w == nil {
			return fmt.Errorf("%w: DataSetWriter %s", ErrNotFound, id)
		}
		if err := m.setEntityState(ctx, w, StateDisabled, CauseGood); err != nil {
			m.logger.Warn("disable before remove failed", "dataSetWriter", id.String(), "error", err)
		}
		for i, existing := range g.writers {
			if existing.identifier == id {
				g.writers = append(g.writers[:i], g.writers[i+1:]...)
				break
			}
		}
		return nil
	})
}
