package pubsub

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
)

// maintenanceHandle wraps the recurring audit/sweep jobs on a `robfig/cron`
// instance driving named, `@every`-spec'd jobs, here repurposed from
// generic application jobs to fixed PubSub topology audits.
type maintenanceHandle struct {
	cron *cron.Cron
}

// StartMaintenance registers and starts the three recurring jobs:
// sweep-deferred-delete, audit-freeze-counters, and
// audit-key-storage-refs. Calling it twice is an error; call StopMaintenance
// first to reconfigure.
func (m *Manager) StartMaintenance(ctx context.Context) error {
	m.mu.Lock()
	if m.maintenance != nil {
		m.mu.Unlock()
		return fmt.Errorf("%w: maintenance scheduler already running", ErrInternalError)
	}
	c := cron.New()
	m.maintenance = &maintenanceHandle{cron: c}
	m.mu.Unlock()

	if _, err := c.AddFunc("@every 1s", func() { m.sweepDeferredDelete() }); err != nil {
		return fmt.Errorf("%w: scheduling sweep-deferred-delete: %s", ErrInternalError, err)
	}
	if _, err := c.AddFunc("@every 30s", func() { m.auditFreezeCounters() }); err != nil {
		return fmt.Errorf("%w: scheduling audit-freeze-counters: %s", ErrInternalError, err)
	}
	if _, err := c.AddFunc("@every 30s", func() { m.auditKeyStorageRefs() }); err != nil {
		return fmt.Errorf("%w: scheduling audit-key-storage-refs: %s", ErrInternalError, err)
	}

	c.Start()
	return nil
}

// StopMaintenance stops the cron scheduler. A no-op if not running.
func (m *Manager) StopMaintenance(ctx context.Context) error {
	m.mu.Lock()
	h := m.maintenance
	m.maintenance = nil
	m.mu.Unlock()

	if h == nil {
		return nil
	}
	<-h.cron.Stop().Done()
	return nil
}

// sweepDeferredDelete frees every entity with deleteFlag == true once it
// has drained — in this in-process model a Connection is already unlinked
// from m.connections by RemoveConnection, so draining is immediate; this
// exists as the hook a real deferred-free policy (one that waits on
// in-flight scheduler ticks) would extend.
func (m *Manager) sweepDeferredDelete() {
	m.mu.Lock()
	defer m.mu.Unlock()

	live := m.connections[:0:0]
	for _, c := range m.connections {
		if c.deleteFlag {
			continue
		}
		live = append(live, c)
	}
	m.connections = live
}

// auditFreezeCounters recomputes each Connection's freezeCounter from its
// children and logs a mismatch. Audit only: never
// self-heals, since a mismatch indicates a defect elsewhere.
func (m *Manager) auditFreezeCounters() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, c := range m.connections {
		want := 0
		for _, g := range c.readerGroups {
			if g.configurationFrozen {
				want++
			}
		}
		for _, g := range c.writerGroups {
			if g.configurationFrozen {
				want++
			}
		}
		if want != c.freezeCounter {
			m.logger.Error("freezeCounter audit mismatch", "connection", c.identifier.String(), "want", want, "have", c.freezeCounter)
		}
	}
}

// auditKeyStorageRefs recomputes each KeyStorage's refcount from
// referencing groups. Audit only.
func (m *Manager) auditKeyStorageRefs() {
	m.mu.Lock()
	defer m.mu.Unlock()

	counts := make(map[string]int, len(m.keyStorages))
	for _, c := range m.connections {
		for _, g := range c.readerGroups {
			if g.keyStorage != nil {
				counts[g.keyStorage.securityGroupID]++
			}
		}
		for _, g := range c.writerGroups {
			if g.keyStorage != nil {
				counts[g.keyStorage.securityGroupID]++
			}
		}
	}

	for id, ks := range m.keyStorages {
		if counts[id] != ks.referenceCount {
			m.logger.Error("KeyStorage refcount audit mismatch", "securityGroupId", id, "want", counts[id], "have", ks.referenceCount)
		}
	}
}
