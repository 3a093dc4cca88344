// Package export decides which clients may mount the export and whether
// they may modify it.
//
// Rules are matched in order against the client address; the first match
// wins and clients matching no rule get no access. A host is "*", an IP
// address, or a CIDR network.
package export

import (
	"fmt"
	"net"
	"strings"
	"sync"

	"github.com/marmos91/nfs3gw/internal/logger"
)

// Access is the privilege granted to a client.
type Access int

const (
	None Access = iota
	ReadOnly
	ReadWrite
)

func (a Access) String() string {
	switch a {
	case ReadOnly:
		return "ro"
	case ReadWrite:
		return "rw"
	default:
		return "none"
	}
}

// ParseAccess accepts "ro", "rw" and "none" plus their long forms.
func ParseAccess(s string) (Access, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "ro", "read-only", "read_only":
		return ReadOnly, nil
	case "rw", "read-write", "read_write":
		return ReadWrite, nil
	case "none", "":
		return None, nil
	}
	return None, fmt.Errorf("invalid access %q", s)
}

// Rule grants Access to clients matching Host.
type Rule struct {
	Host   string `mapstructure:"host" yaml:"host" validate:"required"`
	Access string `mapstructure:"access" yaml:"access" validate:"required,oneof=ro rw none read-only read-write"`
}

// Parse reads the compact "host access;host access" form. An entry with no
// access keyword is read-only.
func Parse(s string) ([]Rule, error) {
	var rules []Rule
	for _, entry := range strings.Split(s, ";") {
		fields := strings.Fields(entry)
		switch len(fields) {
		case 0:
			continue
		case 1:
			rules = append(rules, Rule{Host: fields[0], Access: "ro"})
		case 2:
			rules = append(rules, Rule{Host: fields[0], Access: fields[1]})
		default:
			return nil, fmt.Errorf("invalid export entry %q", strings.TrimSpace(entry))
		}
	}
	return rules, nil
}

type matcher struct {
	rule   Rule
	access Access
	all    bool
	ip     net.IP
	net    *net.IPNet
}

func (m *matcher) match(ip net.IP) bool {
	switch {
	case m.all:
		return true
	case m.net != nil:
		return m.net.Contains(ip)
	default:
		return m.ip.Equal(ip)
	}
}

func compile(rules []Rule) ([]matcher, error) {
	out := make([]matcher, 0, len(rules))
	for _, r := range rules {
		access, err := ParseAccess(r.Access)
		if err != nil {
			return nil, fmt.Errorf("export %s: %w", r.Host, err)
		}
		m := matcher{rule: r, access: access}

		host := strings.TrimSpace(r.Host)
		switch {
		case host == "*":
			m.all = true
		case strings.Contains(host, "/"):
			_, n, err := net.ParseCIDR(host)
			if err != nil {
				return nil, fmt.Errorf("export %s: %w", host, err)
			}
			m.net = n
		default:
			m.ip = net.ParseIP(host)
			if m.ip == nil {
				return nil, fmt.Errorf("export %s: not an IP address, CIDR or *", host)
			}
		}
		out = append(out, m)
	}
	return out, nil
}

// Table is a replaceable, ordered list of export rules.
type Table struct {
	mu       sync.RWMutex
	matchers []matcher
}

// New compiles rules into a Table.
func New(rules []Rule) (*Table, error) {
	t := &Table{}
	if err := t.Replace(rules); err != nil {
		return nil, err
	}
	return t, nil
}

// Replace swaps the rule set atomically. On error the current rules stay.
func (t *Table) Replace(rules []Rule) error {
	matchers, err := compile(rules)
	if err != nil {
		return err
	}
	t.mu.Lock()
	t.matchers = matchers
	t.mu.Unlock()
	logger.Info("Export table loaded: rules=%d", len(matchers))
	return nil
}

// Access returns the privilege of the client at ip.
func (t *Table) Access(ip net.IP) Access {
	if ip == nil {
		return None
	}
	t.mu.RLock()
	defer t.mu.RUnlock()

	for i := range t.matchers {
		if t.matchers[i].match(ip) {
			return t.matchers[i].access
		}
	}
	return None
}

// Rules returns the current rules in match order.
func (t *Table) Rules() []Rule {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]Rule, len(t.matchers))
	for i := range t.matchers {
		out[i] = t.matchers[i].rule
	}
	return out
}
