package memory

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// Graph is the bidirectional association graph between traces, persisted
// as JSON beside the vector store. Links are capped per trace so recall
// fan-out stays bounded.
type Graph struct {
	mu    sync.RWMutex
	path  string
	links map[string][]string
}

// MaxAssociations bounds how many neighbors one trace keeps.
const MaxAssociations = 5

// LoadGraph reads the graph file, starting empty when it does not exist.
func LoadGraph(path string) (*Graph, error) {
	g := &Graph{path: path, links: make(map[string][]string)}

	data, err := os.ReadFile(path) // #nosec G304
	if err != nil {
		if os.IsNotExist(err) {
			return g, nil
		}
		return nil, fmt.Errorf("failed to read memory graph: %w", err)
	}
	if err := json.Unmarshal(data, &g.links); err != nil {
		return nil, fmt.Errorf("failed to parse memory graph: %w", err)
	}
	return g, nil
}

// Save writes the graph atomically.
func (g *Graph) Save() error {
	g.mu.RLock()
	data, err := json.MarshalIndent(g.links, "", "  ")
	g.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("failed to encode memory graph: %w", err)
	}

	if dir := filepath.Dir(g.path); dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("failed to create graph dir: %w", err)
		}
	}

	tmp := g.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write memory graph: %w", err)
	}
	return os.Rename(tmp, g.path)
}

// Link connects two traces in both directions, dropping the weakest end
// when a trace already carries MaxAssociations neighbors.
func (g *Graph) Link(a, b string) {
	if a == "" || b == "" || a == b {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.addDirected(a, b)
	g.addDirected(b, a)
}

func (g *Graph) addDirected(from, to string) {
	neighbors := g.links[from]
	for _, id := range neighbors {
		if id == to {
			return
		}
	}
	if len(neighbors) >= MaxAssociations {
		neighbors = neighbors[1:]
	}
	g.links[from] = append(neighbors, to)
}

// Neighbors returns the associated trace ids for one trace.
func (g *Graph) Neighbors(id string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	neighbors := g.links[id]
	out := make([]string, len(neighbors))
	copy(out, neighbors)
	return out
}

// Remove deletes a trace from the graph, unlinking it everywhere.
func (g *Graph) Remove(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, neighbor := range g.links[id] {
		g.links[neighbor] = without(g.links[neighbor], id)
		if len(g.links[neighbor]) == 0 {
			delete(g.links, neighbor)
		}
	}
	delete(g.links, id)
}

// Rewire replaces a set of merged trace ids with their merged successor:
// every outside neighbor of an old id becomes a neighbor of newID.
func (g *Graph) Rewire(oldIDs []string, newID string) {
	old := make(map[string]bool, len(oldIDs))
	for _, id := range oldIDs {
		old[id] = true
	}

	g.mu.Lock()
	inherited := make(map[string]bool)
	for _, id := range oldIDs {
		for _, neighbor := range g.links[id] {
			if !old[neighbor] && neighbor != newID {
				inherited[neighbor] = true
			}
		}
	}
	for _, id := range oldIDs {
		for _, neighbor := range g.links[id] {
			g.links[neighbor] = without(g.links[neighbor], id)
			if len(g.links[neighbor]) == 0 && !inherited[neighbor] {
				delete(g.links, neighbor)
			}
		}
		delete(g.links, id)
	}
	g.mu.Unlock()

	ids := make([]string, 0, len(inherited))
	for id := range inherited {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		g.Link(newID, id)
	}
}

// Len returns the number of traces with at least one association.
func (g *Graph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.links)
}

func without(ids []string, drop string) []string {
	out := ids[:0]
	for _, id := range ids {
		if id != drop {
			out = append(out, id)
		}
	}
	return out
}
