package backend

import (
	"fmt"
	"sort"
	"sync"
)

// StoreConstructor opens a Store at the given path.
// Drivers that keep nothing on disk ignore the path.
type StoreConstructor func(path string) (Store, error)

// storeRegistration holds a constructor with its priority
type storeRegistration struct {
	constructor StoreConstructor
	priority    int
}

// Global registry for store drivers
var (
	storesMu sync.RWMutex
	stores   = make(map[string]storeRegistration)
)

// RegisterStore registers a store driver constructor.
// Drivers should call this in their init() function.
func RegisterStore(name string, constructor StoreConstructor) {
	RegisterStoreWithPriority(name, constructor, 100) // Default priority
}

// RegisterStoreWithPriority registers a store driver with a priority.
// Lower priority numbers are preferred when no driver is configured (sqlite=10).
func RegisterStoreWithPriority(name string, constructor StoreConstructor, priority int) {
	storesMu.Lock()
	defer storesMu.Unlock()
	stores[name] = storeRegistration{
		constructor: constructor,
		priority:    priority,
	}
}

// StoreDrivers returns the registered driver names sorted by priority, then name.
func StoreDrivers() []string {
	storesMu.RLock()
	defer storesMu.RUnlock()

	names := make([]string, 0, len(stores))
	for name := range stores {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		pi, pj := stores[names[i]].priority, stores[names[j]].priority
		if pi != pj {
			return pi < pj
		}
		return names[i] < names[j]
	})
	return names
}

// OpenStore opens the named driver. An empty name picks the preferred driver.
func OpenStore(name, path string) (Store, error) {
	if name == "" {
		drivers := StoreDrivers()
		if len(drivers) == 0 {
			return nil, fmt.Errorf("no store drivers registered")
		}
		name = drivers[0]
	}

	storesMu.RLock()
	reg, ok := stores[name]
	storesMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown store driver: %q", name)
	}
	return reg.constructor(path)
}
