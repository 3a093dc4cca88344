package mount

import (
	"sort"
	"sync"
)

// Entry is one row of the mount list reported by DUMP.
type Entry struct {
	Hostname  string
	Directory string
}

// Registry tracks which clients mounted which paths. It is advisory: NFS
// access never depends on it.
type Registry struct {
	mu      sync.Mutex
	entries map[Entry]struct{}
}

// NewRegistry returns an empty mount list.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[Entry]struct{})}
}

// Record adds a mount of dir by host. Recording twice is a no-op.
func (r *Registry) Record(host, dir string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[Entry{Hostname: host, Directory: dir}] = struct{}{}
}

// Remove deletes the mount of dir by host.
func (r *Registry) Remove(host, dir string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, Entry{Hostname: host, Directory: dir})
}

// RemoveAll deletes every mount of host and returns how many were removed.
func (r *Registry) RemoveAll(host string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for e := range r.entries {
		if e.Hostname == host {
			delete(r.entries, e)
			n++
		}
	}
	return n
}

// List returns the mounts ordered by host then directory.
func (r *Registry) List() []Entry {
	r.mu.Lock()
	out := make([]Entry, 0, len(r.entries))
	for e := range r.entries {
		out = append(out, e)
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Hostname != out[j].Hostname {
			return out[i].Hostname < out[j].Hostname
		}
		return out[i].Directory < out[j].Directory
	})
	return out
}
