// Package agentcatalog resolves agent provider ids to runnable
// commands and probes their availability on the host.
package agentcatalog

import (
	"os/exec"
	"sort"
	"sync"

	"pkt.systems/coxswain/schema"
)

// Entry configures one agent provider.
type Entry struct {
	Command string
	Args    []string
}

// Catalog maps provider ids to commands. Lookups probe the binary on
// every call so a freshly installed agent becomes available without a
// restart.
type Catalog struct {
	mu       sync.Mutex
	entries  map[schema.AgentID]Entry
	lookPath func(string) (string, error)
}

// New builds a catalog from configured entries. Unconfigured ids fall
// back to probing the id itself as a bare command name.
func New(entries map[schema.AgentID]Entry) *Catalog {
	copied := make(map[schema.AgentID]Entry, len(entries))
	for id, entry := range entries {
		copied[id] = entry
	}
	return &Catalog{
		entries:  copied,
		lookPath: exec.LookPath,
	}
}

// GetAgent reports whether the provider's command is runnable. The
// error return is reserved for invalid ids; a missing binary is an
// unavailable agent, not an error.
func (c *Catalog) GetAgent(id schema.AgentID) (schema.AgentInfo, error) {
	normalized, err := schema.NormalizeAgentID(string(id))
	if err != nil {
		return schema.AgentInfo{}, err
	}
	c.mu.Lock()
	entry, ok := c.entries[normalized]
	lookPath := c.lookPath
	c.mu.Unlock()
	if !ok {
		entry = Entry{Command: string(normalized)}
	}
	info := schema.AgentInfo{Command: entry.Command, Args: append([]string(nil), entry.Args...)}
	resolved, err := lookPath(entry.Command)
	if err != nil {
		return info, nil
	}
	info.Available = true
	info.Command = resolved
	return info, nil
}

// List reports availability for every configured provider.
func (c *Catalog) List() []schema.AgentSnapshot {
	c.mu.Lock()
	ids := make([]schema.AgentID, 0, len(c.entries))
	for id := range c.entries {
		ids = append(ids, id)
	}
	c.mu.Unlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	out := make([]schema.AgentSnapshot, 0, len(ids))
	for _, id := range ids {
		info, err := c.GetAgent(id)
		if err != nil {
			continue
		}
		out = append(out, schema.AgentSnapshot{ID: id, Available: info.Available, Command: info.Command})
	}
	return out
}
