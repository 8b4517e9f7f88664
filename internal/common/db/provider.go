package db

import (
	"fmt"
	"sync/atomic"
)

// Provider returns the current database instance.
type Provider interface {
	Current() Database
}

// TransactionCapable reports whether the store behind a provider honours transactions.
type TransactionCapable interface {
	Transactional() bool
}

// Manager holds the active database and its transaction capability.
type Manager struct {
	current       atomic.Value
	transactional atomic.Bool
}

// NewManager creates a Manager that assumes transactions are supported
// until SetTransactional says otherwise.
func NewManager(database Database) *Manager {
	m := &Manager{}
	m.current.Store(database)
	m.transactional.Store(true)
	return m
}

// Current returns the active database instance.
func (m *Manager) Current() Database {
	if m == nil {
		return nil
	}
	value := m.current.Load()
	if value == nil {
		return nil
	}
	return value.(Database)
}

// SetTransactional records the result of the startup capability probe.
func (m *Manager) SetTransactional(ok bool) {
	m.transactional.Store(ok)
}

// Transactional reports the recorded capability.
func (m *Manager) Transactional() bool {
	if m == nil {
		return false
	}
	return m.transactional.Load()
}

// SupportsTransactions reads the capability flag from provider.
// Providers that do not expose one are assumed transactional.
func SupportsTransactions(provider Provider) bool {
	if c, ok := provider.(TransactionCapable); ok {
		return c.Transactional()
	}
	return true
}

// CurrentDatabase fetches the current database instance from provider.
func CurrentDatabase(provider Provider) (Database, error) {
	if provider == nil {
		return nil, fmt.Errorf("database provider is nil")
	}
	database := provider.Current()
	if database == nil {
		return nil, fmt.Errorf("database is nil")
	}
	return database, nil
}
