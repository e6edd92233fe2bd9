// Package alerts provides the capped operational alert buffer.
package alerts

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"autosniper/internal/logging"
	"autosniper/internal/models"
)

// DefaultCapacity is the maximum number of retained alerts.
const DefaultCapacity = 1000

// Manager holds a capped, insertion-ordered buffer of operational alerts.
// Newest alerts sit at the head; when the buffer is full the oldest are
// evicted first. Alerts are immutable except for the acknowledged flag.
type Manager struct {
	mu       sync.RWMutex
	alerts   []models.ExecutionAlert // index 0 is newest
	capacity int
	counter  uint64
	logger   zerolog.Logger
}

// NewManager creates an alert manager with the default capacity.
func NewManager(logger zerolog.Logger) *Manager {
	return NewManagerWithCapacity(DefaultCapacity, logger)
}

// NewManagerWithCapacity creates an alert manager with a custom capacity.
func NewManagerWithCapacity(capacity int, logger zerolog.Logger) *Manager {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	return &Manager{
		alerts:   make([]models.ExecutionAlert, 0, capacity),
		capacity: capacity,
		logger:   logger.With().Str("component", "alerts").Logger(),
	}
}

// Add creates an alert, inserts it at the head, and evicts the oldest entry
// when over capacity. Logging verbosity follows severity.
func (m *Manager) Add(alertType models.AlertType, severity models.AlertSeverity, message string, details map[string]interface{}) models.ExecutionAlert {
	m.mu.Lock()
	m.counter++
	alert := models.ExecutionAlert{
		ID:        fmt.Sprintf("alert_%d_%d", time.Now().UnixNano(), m.counter),
		Type:      alertType,
		Severity:  severity,
		Message:   message,
		Details:   details,
		Timestamp: time.Now(),
	}
	if details != nil {
		if pid, ok := details["position_id"].(string); ok {
			alert.PositionID = pid
		}
		if sym, ok := details["symbol"].(string); ok {
			alert.Symbol = sym
		}
	}

	m.alerts = append([]models.ExecutionAlert{alert}, m.alerts...)
	if len(m.alerts) > m.capacity {
		m.alerts = m.alerts[:m.capacity]
	}
	m.mu.Unlock()

	logging.LogAlert(m.logger, string(severity), string(alertType), message)
	return alert
}

// Acknowledge sets the acknowledged flag on the alert with the given id.
func (m *Manager) Acknowledge(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.alerts {
		if m.alerts[i].ID == id {
			m.alerts[i].Acknowledged = true
			return true
		}
	}
	return false
}

// Recent returns the newest n alerts.
func (m *Manager) Recent(n int) []models.ExecutionAlert {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if n > len(m.alerts) {
		n = len(m.alerts)
	}
	out := make([]models.ExecutionAlert, n)
	copy(out, m.alerts[:n])
	return out
}

// ByType returns alerts matching the given type, newest first.
func (m *Manager) ByType(t models.AlertType) []models.ExecutionAlert {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.ExecutionAlert
	for _, a := range m.alerts {
		if a.Type == t {
			out = append(out, a)
		}
	}
	return out
}

// BySeverity returns alerts matching the given severity, newest first.
func (m *Manager) BySeverity(s models.AlertSeverity) []models.ExecutionAlert {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.ExecutionAlert
	for _, a := range m.alerts {
		if a.Severity == s {
			out = append(out, a)
		}
	}
	return out
}

// Unacknowledged returns all alerts that have not been acknowledged.
func (m *Manager) Unacknowledged() []models.ExecutionAlert {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.ExecutionAlert
	for _, a := range m.alerts {
		if !a.Acknowledged {
			out = append(out, a)
		}
	}
	return out
}

// HasCriticalIssues reports whether any unacknowledged critical alert exists.
func (m *Manager) HasCriticalIssues() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, a := range m.alerts {
		if a.Severity == models.SeverityCritical && !a.Acknowledged {
			return true
		}
	}
	return false
}

// Count returns the number of retained alerts.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.alerts)
}

// Counts returns retained alert totals per severity.
func (m *Manager) Counts() map[models.AlertSeverity]int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	counts := make(map[models.AlertSeverity]int)
	for _, a := range m.alerts {
		counts[a.Severity]++
	}
	return counts
}

// Export serializes the retained alerts for backup.
func (m *Manager) Export() ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return json.Marshal(m.alerts)
}

// Import replaces the buffer with previously exported alerts after
// re-validating each entry. Entries beyond capacity are dropped oldest-first.
func (m *Manager) Import(data []byte) error {
	var imported []models.ExecutionAlert
	if err := json.Unmarshal(data, &imported); err != nil {
		return fmt.Errorf("decoding alert backup: %w", err)
	}
	for i, a := range imported {
		if a.ID == "" {
			return fmt.Errorf("alert %d: missing id", i)
		}
		if !a.Severity.Valid() {
			return fmt.Errorf("alert %d: invalid severity %q", i, a.Severity)
		}
		if a.Timestamp.IsZero() {
			return fmt.Errorf("alert %d: missing timestamp", i)
		}
	}
	if len(imported) > m.capacity {
		imported = imported[:m.capacity]
	}

	m.mu.Lock()
	m.alerts = imported
	m.mu.Unlock()
	return nil
}
