package bonsai

import (
	"fmt"
	"sort"
	"sync"

	"github.com/oarkflow/bonsai/utils"
)

// Manager is a registry of named maps sharing a value type.
type Manager[V any] struct {
	maps  map[string]*Map[V]
	mutex sync.Mutex
}

// NewManager returns an empty registry.
func NewManager[V any]() *Manager[V] {
	return &Manager[V]{
		maps: make(map[string]*Map[V]),
	}
}

// AddMap registers m under name; an empty name gets a generated identifier.
// The chosen name is returned.
func (mg *Manager[V]) AddMap(name string, m *Map[V]) string {
	if name == "" {
		name = utils.NewID().String()
	}
	mg.mutex.Lock()
	defer mg.mutex.Unlock()
	mg.maps[name] = m
	return name
}

// GetMap returns the map registered under name.
func (mg *Manager[V]) GetMap(name string) (*Map[V], bool) {
	mg.mutex.Lock()
	defer mg.mutex.Unlock()
	m, ok := mg.maps[name]
	return m, ok
}

// DeleteMap removes the registration; the map itself is untouched.
func (mg *Manager[V]) DeleteMap(name string) {
	mg.mutex.Lock()
	defer mg.mutex.Unlock()
	delete(mg.maps, name)
}

// ListMaps returns the registered names in sorted order.
func (mg *Manager[V]) ListMaps() []string {
	mg.mutex.Lock()
	defer mg.mutex.Unlock()
	names := make([]string, 0, len(mg.maps))
	for name := range mg.maps {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Stats returns the snapshot of the named map.
func (mg *Manager[V]) Stats(name string) (Stats, error) {
	mg.mutex.Lock()
	m, ok := mg.maps[name]
	mg.mutex.Unlock()
	if !ok {
		return Stats{}, fmt.Errorf("bonsai: map %q not registered", name)
	}
	return m.Stats(), nil
}
