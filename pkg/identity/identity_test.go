package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStaticMappings(t *testing.T) {
	m := New(Config{
		Users:  map[string]uint32{"alice": 1000, "bob": 1001},
		Groups: map[string]uint32{"staff": 50},
	})

	tests := []struct {
		name string
		got  any
		want any
	}{
		{"UserName", m.UserName(1000, "x"), "alice"},
		{"UserNameFallback", m.UserName(4242, "nobody"), "nobody"},
		{"GroupName", m.GroupName(50, "x"), "staff"},
		{"GroupNameFallback", m.GroupName(7, "nogroup"), "nogroup"},
		{"UID", m.UID("bob", 65534), uint32(1001)},
		{"UIDNumeric", m.UID("1234", 65534), uint32(1234)},
		{"UIDFallback", m.UID("mallory", 65534), uint32(65534)},
		{"GID", m.GID("staff", 65534), uint32(50)},
		{"GIDFallback", m.GID("", 65534), uint32(65534)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.got)
		})
	}
}

func TestSystemLookupRoot(t *testing.T) {
	m := New(Config{UseSystem: true})

	// uid 0 is "root" on every system the tests run on.
	assert.Equal(t, "root", m.UserName(0, "fallback"))
	assert.Equal(t, uint32(0), m.UID("root", 65534))

	// Cached misses still fall back.
	assert.Equal(t, "fallback", m.UserName(3999999999, "fallback"))
	assert.Equal(t, "fallback", m.UserName(3999999999, "fallback"))
}

func TestFormatIDRoundTrip(t *testing.T) {
	m := New(Config{})
	assert.Equal(t, uint32(501), m.UID(FormatID(501), 0))
}
