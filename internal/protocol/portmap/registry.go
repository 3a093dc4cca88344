package portmap

import (
	"cmp"
	"slices"
	"sync"
)

// registryKey identifies a mapping for lookup: (program, version, protocol).
type registryKey struct {
	prog uint32
	vers uint32
	prot uint32
}

// Registry is a thread-safe in-memory table of mappings.
type Registry struct {
	mu       sync.RWMutex
	mappings map[registryKey]Mapping
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{mappings: make(map[registryKey]Mapping)}
}

// Set adds a mapping. It fails when the port is 0 or when the key is
// already bound to a different port; re-registering the same port succeeds.
func (r *Registry) Set(m Mapping) bool {
	if m.Port == 0 {
		return false
	}
	key := registryKey{prog: m.Prog, vers: m.Vers, prot: m.Prot}

	r.mu.Lock()
	defer r.mu.Unlock()

	if cur, ok := r.mappings[key]; ok && cur.Port != m.Port {
		return false
	}
	r.mappings[key] = m
	return true
}

// Unset removes the mapping equal to m on all four fields. A zero port in
// m matches any port. Returns false when nothing was removed.
func (r *Registry) Unset(m Mapping) bool {
	key := registryKey{prog: m.Prog, vers: m.Vers, prot: m.Prot}

	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.mappings[key]
	if !ok || (m.Port != 0 && cur.Port != m.Port) {
		return false
	}
	delete(r.mappings, key)
	return true
}

// Getport returns the port registered for (prog, vers, prot), or 0.
func (r *Registry) Getport(prog, vers, prot uint32) uint32 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.mappings[registryKey{prog: prog, vers: vers, prot: prot}].Port
}

// Dump returns a snapshot of every mapping sorted by (prog, vers, prot).
func (r *Registry) Dump() []Mapping {
	r.mu.RLock()
	result := make([]Mapping, 0, len(r.mappings))
	for _, m := range r.mappings {
		result = append(result, m)
	}
	r.mu.RUnlock()

	slices.SortFunc(result, func(a, b Mapping) int {
		if c := cmp.Compare(a.Prog, b.Prog); c != 0 {
			return c
		}
		if c := cmp.Compare(a.Vers, b.Vers); c != 0 {
			return c
		}
		return cmp.Compare(a.Prot, b.Prot)
	})
	return result
}

// RegisterSelf advertises the port mapper itself on TCP and UDP.
func (r *Registry) RegisterSelf(port int) {
	r.Set(Mapping{Prog: Program, Vers: Version, Prot: ProtoTCP, Port: uint32(port)})
	r.Set(Mapping{Prog: Program, Vers: Version, Prot: ProtoUDP, Port: uint32(port)})
}

// Count returns the number of mappings.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.mappings)
}
