package warehouse

import (
	"sync"

	"github.com/uplift-analytics/warehouse-engine/pkg/models"
)

// IntegrationInfo describes a registered warehouse kind for UI discovery.
type IntegrationInfo struct {
	Type        models.DataSourceType `json:"type"`
	DisplayName string                `json:"display_name"`
	Description string                `json:"description"`
}

// IntegrationFactory builds an integration from decrypted connection params.
type IntegrationFactory func(params map[string]any) (Integration, error)

// Registration contains info plus the factory for one warehouse kind.
type Registration struct {
	Info    IntegrationInfo
	Factory IntegrationFactory
}

var (
	registryMu sync.RWMutex
	registry   = make(map[models.DataSourceType]Registration)
)

// Register is called by each adapter's init() function.
// Thread-safe for concurrent init() calls.
func Register(reg Registration) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[reg.Info.Type] = reg
}

// RegisteredIntegrations returns info for all registered warehouse kinds.
func RegisteredIntegrations() []IntegrationInfo {
	registryMu.RLock()
	defer registryMu.RUnlock()

	result := make([]IntegrationInfo, 0, len(registry))
	for _, reg := range registry {
		result = append(result, reg.Info)
	}
	return result
}

// GetFactory returns the factory for a warehouse kind, or nil if the kind is
// not registered.
func GetFactory(dsType models.DataSourceType) IntegrationFactory {
	registryMu.RLock()
	defer registryMu.RUnlock()

	if reg, ok := registry[dsType]; ok {
		return reg.Factory
	}
	return nil
}

// IsRegistered checks if a warehouse kind is available.
func IsRegistered(dsType models.DataSourceType) bool {
	registryMu.RLock()
	defer registryMu.RUnlock()
	_, ok := registry[dsType]
	return ok
}
