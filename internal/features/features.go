package features

import (
	"sync"
)

// FeatureFlag represents a feature flag configuration.
type FeatureFlag struct {
	Name        string `json:"name"`
	Enabled     bool   `json:"enabled"`
	Description string `json:"description"`
}

// Manager manages feature flags.
type Manager struct {
	mu    sync.RWMutex
	flags map[string]*FeatureFlag
}

// NewManager creates a new feature flag manager.
func NewManager() *Manager {
	return &Manager{
		flags: make(map[string]*FeatureFlag),
	}
}

// Register registers a new feature flag.
func (m *Manager) Register(name string, enabled bool, description string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.flags[name] = &FeatureFlag{
		Name:        name,
		Enabled:     enabled,
		Description: description,
	}
}

// IsEnabled checks if a feature flag is enabled. Unknown flags are disabled.
func (m *Manager) IsEnabled(name string) bool {
	if m == nil {
		return false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	flag, exists := m.flags[name]
	if !exists {
		return false
	}

	return flag.Enabled
}

// Set toggles a registered flag and reports whether it exists.
func (m *Manager) Set(name string, enabled bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	flag, exists := m.flags[name]
	if !exists {
		return false
	}
	flag.Enabled = enabled
	return true
}

// GetAll returns a copy of all feature flags.
func (m *Manager) GetAll() map[string]FeatureFlag {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make(map[string]FeatureFlag, len(m.flags))
	for k, v := range m.flags {
		result[k] = *v
	}
	return result
}

const (
	// FeatureReportCache serves reports from the cache layer.
	FeatureReportCache = "report_cache"
	// FeatureNotifications pushes sale and redemption notices.
	FeatureNotifications = "notifications"
	// FeatureConsistencyCheck verifies balances against history after each mutation.
	FeatureConsistencyCheck = "consistency_check"
)

// Defaults registers the ledger's flags with the given initial values.
func Defaults(reportCache, notifications, consistencyCheck bool) *Manager {
	m := NewManager()
	m.Register(FeatureReportCache, reportCache, "serve reports from cache")
	m.Register(FeatureNotifications, notifications, "push sale and redemption notices")
	m.Register(FeatureConsistencyCheck, consistencyCheck, "verify balances against history after each mutation")
	return m
}
