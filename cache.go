package toolhost

import "sync"

// ToolCache maps a server identifier to the ordered tool list last fetched from
// it. An entry is written only by its own session's ListTools completion and
// dropped whenever that session leaves the ready state, so a hit always
// reflects a tool list observed while connected.
type ToolCache struct {
	mu    sync.RWMutex
	tools map[string][]Tool
}

// NewToolCache creates an empty cache.
func NewToolCache() *ToolCache {
	return &ToolCache{
		tools: make(map[string][]Tool),
	}
}

// Get returns the cached tool list for id, preserving the server's listing
// order. The second result is false when no entry exists.
func (c *ToolCache) Get(id string) ([]Tool, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	tools, ok := c.tools[id]
	if !ok {
		return nil, false
	}
	out := make([]Tool, len(tools))
	copy(out, tools)
	return out, true
}

func (c *ToolCache) set(id string, tools []Tool) {
	kept := make([]Tool, len(tools))
	copy(kept, tools)

	c.mu.Lock()
	c.tools[id] = kept
	c.mu.Unlock()
}

func (c *ToolCache) drop(id string) {
	c.mu.Lock()
	delete(c.tools, id)
	c.mu.Unlock()
}
