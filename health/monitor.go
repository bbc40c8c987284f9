package health

import (
	"sync"
	"time"
)

// Probe reports the current health of one component.
type Probe func() Status

// Monitor tracks the health of named components. A component is either
// pushed with Update or pulled through a registered Probe on every read.
type Monitor struct {
	mu       sync.RWMutex
	statuses map[string]Status
	probes   map[string]Probe
}

// NewMonitor creates a new health monitor
func NewMonitor() *Monitor {
	return &Monitor{
		statuses: make(map[string]Status),
		probes:   make(map[string]Probe),
	}
}

// Register adds a probe evaluated on each Get, GetAll and AggregateHealth.
// A probe replaces any pushed status of the same name.
func (m *Monitor) Register(name string, probe Probe) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.statuses, name)
	m.probes[name] = probe
}

// Update records a pushed status for a named component
func (m *Monitor) Update(name string, status Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses[name] = normalize(name, status)
}

// UpdateHealthy is a convenience method to update a component as healthy
func (m *Monitor) UpdateHealthy(name, message string) {
	m.Update(name, NewHealthy(name, message))
}

// UpdateUnhealthy is a convenience method to update a component as unhealthy
func (m *Monitor) UpdateUnhealthy(name, message string) {
	m.Update(name, NewUnhealthy(name, message))
}

// UpdateDegraded is a convenience method to update a component as degraded
func (m *Monitor) UpdateDegraded(name, message string) {
	m.Update(name, NewDegraded(name, message))
}

// Get returns the status of a named component.
func (m *Monitor) Get(name string) (Status, bool) {
	m.mu.RLock()
	probe, probed := m.probes[name]
	status, pushed := m.statuses[name]
	m.mu.RUnlock()

	if probed {
		return normalize(name, probe()), true
	}
	return status, pushed
}

// GetAll returns a copy of all current statuses.
func (m *Monitor) GetAll() map[string]Status {
	m.mu.RLock()
	result := make(map[string]Status, len(m.statuses)+len(m.probes))
	for name, status := range m.statuses {
		result[name] = status
	}
	probes := make(map[string]Probe, len(m.probes))
	for name, p := range m.probes {
		probes[name] = p
	}
	m.mu.RUnlock()

	// probes run outside the lock
	for name, p := range probes {
		result[name] = normalize(name, p())
	}
	return result
}

// Remove removes a component from monitoring
func (m *Monitor) Remove(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.statuses, name)
	delete(m.probes, name)
}

// AggregateHealth returns an aggregated health status for the entire system
func (m *Monitor) AggregateHealth(systemName string) Status {
	all := m.GetAll()
	subs := make([]Status, 0, len(all))
	for _, status := range all {
		subs = append(subs, status)
	}
	return Aggregate(systemName, subs)
}

// Count returns the number of components being monitored
func (m *Monitor) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.statuses) + len(m.probes)
}

func normalize(name string, s Status) Status {
	s.Component = name
	if s.Timestamp.IsZero() {
		s.Timestamp = time.Now()
	}
	return s
}
