// Package identity translates between numeric AUTH_SYS ids and the owner
// and group names a backing store keeps.
package identity

import (
	"os/user"
	"strconv"
	"sync"

	"github.com/marmos91/nfs3gw/internal/logger"
)

// Service maps ids to names and back. When no mapping exists the fallback
// is returned.
type Service interface {
	UserName(uid uint32, fallback string) string
	GroupName(gid uint32, fallback string) string
	UID(name string, fallback uint32) uint32
	GID(name string, fallback uint32) uint32
}

// Config holds static mappings.
type Config struct {
	// Users maps user names to uids.
	Users map[string]uint32 `mapstructure:"users" yaml:"users,omitempty"`

	// Groups maps group names to gids.
	Groups map[string]uint32 `mapstructure:"groups" yaml:"groups,omitempty"`

	// UseSystem consults the host user database for names not in the
	// static maps.
	UseSystem bool `mapstructure:"use_system" yaml:"use_system"`
}

type table struct {
	byName map[string]uint32
	byID   map[uint32]string
}

func newTable(m map[string]uint32) table {
	t := table{byName: make(map[string]uint32, len(m)), byID: make(map[uint32]string, len(m))}
	for name, id := range m {
		t.byName[name] = id
		if _, dup := t.byID[id]; !dup {
			t.byID[id] = name
		}
	}
	return t
}

// Mapper implements Service with static tables and an optional system
// lookup. System results, including misses, are cached.
type Mapper struct {
	users  table
	groups table

	useSystem bool
	cache     sync.Map
}

var _ Service = (*Mapper)(nil)

// New builds a Mapper from cfg.
func New(cfg Config) *Mapper {
	return &Mapper{
		users:     newTable(cfg.Users),
		groups:    newTable(cfg.Groups),
		useSystem: cfg.UseSystem,
	}
}

type cacheKey struct {
	kind string
	key  string
}

func (m *Mapper) cached(kind, key string, lookup func() (string, bool)) (string, bool) {
	k := cacheKey{kind, key}
	if v, ok := m.cache.Load(k); ok {
		s := v.(string)
		return s, s != ""
	}
	s, ok := lookup()
	if !ok {
		s = ""
	}
	m.cache.Store(k, s)
	return s, ok
}

func (m *Mapper) UserName(uid uint32, fallback string) string {
	if name, ok := m.users.byID[uid]; ok {
		return name
	}
	if m.useSystem {
		id := strconv.FormatUint(uint64(uid), 10)
		name, ok := m.cached("user-name", id, func() (string, bool) {
			u, err := user.LookupId(id)
			if err != nil {
				return "", false
			}
			return u.Username, true
		})
		if ok {
			return name
		}
	}
	return fallback
}

func (m *Mapper) GroupName(gid uint32, fallback string) string {
	if name, ok := m.groups.byID[gid]; ok {
		return name
	}
	if m.useSystem {
		id := strconv.FormatUint(uint64(gid), 10)
		name, ok := m.cached("group-name", id, func() (string, bool) {
			g, err := user.LookupGroupId(id)
			if err != nil {
				return "", false
			}
			return g.Name, true
		})
		if ok {
			return name
		}
	}
	return fallback
}

func (m *Mapper) UID(name string, fallback uint32) uint32 {
	if id, ok := m.users.byName[name]; ok {
		return id
	}
	if m.useSystem && name != "" {
		s, ok := m.cached("uid", name, func() (string, bool) {
			u, err := user.Lookup(name)
			if err != nil {
				return "", false
			}
			return u.Uid, true
		})
		if ok {
			if id, err := strconv.ParseUint(s, 10, 32); err == nil {
				return uint32(id)
			}
		}
	}
	return numericOr(name, fallback)
}

func (m *Mapper) GID(name string, fallback uint32) uint32 {
	if id, ok := m.groups.byName[name]; ok {
		return id
	}
	if m.useSystem && name != "" {
		s, ok := m.cached("gid", name, func() (string, bool) {
			g, err := user.LookupGroup(name)
			if err != nil {
				return "", false
			}
			return g.Gid, true
		})
		if ok {
			if id, err := strconv.ParseUint(s, 10, 32); err == nil {
				return uint32(id)
			}
		}
	}
	return numericOr(name, fallback)
}

// numericOr accepts names that are plain decimal ids, which is how
// unmapped owners are stored.
func numericOr(name string, fallback uint32) uint32 {
	if id, err := strconv.ParseUint(name, 10, 32); err == nil {
		return uint32(id)
	}
	if name != "" {
		logger.Debug("Identity: no mapping for name=%s, using %d", name, fallback)
	}
	return fallback
}

// FormatID is the name stored for an id with no mapping.
func FormatID(id uint32) string {
	return strconv.FormatUint(uint64(id), 10)
}
