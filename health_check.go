package pubsub

import (
	"context"
	"fmt"

	"github.com/GoCodeAlone/opcua-pubsub/health"
)

// topologyHealthChecker implements health.HealthChecker by walking the
// live topology under the service mutex and reporting StatusCritical if any
// entity is in StateError, StatusWarning if any is Paused or
// PreOperational, and StatusHealthy otherwise — the same worst-state
// reasoning applied elsewhere to state propagation, reused here as a
// read-only rollup instead of a mutation.
type topologyHealthChecker struct {
	manager *Manager
}

func newTopologyHealthChecker(m *Manager) health.HealthChecker {
	return &topologyHealthChecker{manager: m}
}

func (c *topologyHealthChecker) Name() string { return "pubsub.topology" }

func (c *topologyHealthChecker) Description() string {
	return "rolls up Connection/ReaderGroup/WriterGroup/DataSetReader/DataSetWriter state across the topology"
}

func (c *topologyHealthChecker) Check(ctx context.Context) (*health.CheckResult, error) {
	snap := c.manager.Topology()

	status := health.StatusHealthy
	errorCount, degradedCount, total := 0, 0, 0

	note := func(state string) {
		total++
		switch state {
		case "Error":
			errorCount++
			status = health.StatusCritical
		case "Paused", "PreOperational":
			degradedCount++
			if status != health.StatusCritical {
				status = health.StatusWarning
			}
		}
	}

	for _, c := range snap.Connections {
		note(c.State)
		for _, g := range c.ReaderGroups {
			note(g.State)
			for _, r := range g.Readers {
				note(r.State)
			}
		}
		for _, g := range c.WriterGroups {
			note(g.State)
			for _, w := range g.Writers {
				note(w.State)
			}
		}
	}

	return &health.CheckResult{
		Name:   c.Name(),
		Status: status,
		Message: fmt.Sprintf("%d entities, %d in Error, %d degraded", total, errorCount, degradedCount),
		Details: map[string]interface{}{
			"totalEntities":    total,
			"errorEntities":    errorCount,
			"degradedEntities": degradedCount,
		},
	}, nil
}

// Health runs every registered health check (the topology rollup, plus any
// caller-supplied checks added via RegisterHealthCheck) and returns the
// aggregated status. It does not hold the service mutex
// itself — Topology() does its own locking per check.
func (m *Manager) Health(ctx context.Context) (*health.AggregatedStatus, error) {
	return m.healthAggregator.CheckAll(ctx)
}

// RegisterHealthCheck adds an additional health.HealthChecker (for example,
// one covering a TransportConnector's own liveness) to the checks Health
// rolls up.
func (m *Manager) RegisterHealthCheck(ctx context.Context, checker health.HealthChecker) error {
	return m.healthAggregator.RegisterCheck(ctx, checker)
}
