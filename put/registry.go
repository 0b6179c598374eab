package put

import (
	"reflect"
	"sync"
)

// Registry maps the runtime type of an object to the Resolver that puts it.
// The zero value is an empty Registry ready for use. A nil *Registry has no
// entries.
type Registry struct {
	mtx       sync.RWMutex
	resolvers map[reflect.Type]Resolver
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Add sets the Resolver for objects of type t, replacing any previous one.
func (reg *Registry) Add(t reflect.Type, r Resolver) {
	reg.mtx.Lock()
	defer reg.mtx.Unlock()

	if reg.resolvers == nil {
		reg.resolvers = map[reflect.Type]Resolver{}
	}
	reg.resolvers[t] = r
}

// Register sets the Resolver for objects of type T.
func Register[T any](reg *Registry, r Resolver) {
	reg.Add(reflect.TypeOf((*T)(nil)).Elem(), r)
}

// Lookup returns the Resolver registered for t.
func (reg *Registry) Lookup(t reflect.Type) (Resolver, bool) {
	if reg == nil {
		return nil, false
	}

	reg.mtx.RLock()
	defer reg.mtx.RUnlock()

	r, ok := reg.resolvers[t]
	return r, ok
}

// Types returns the number of types with a registered Resolver.
func (reg *Registry) Types() int {
	if reg == nil {
		return 0
	}

	reg.mtx.RLock()
	defer reg.mtx.RUnlock()

	return len(reg.resolvers)
}
