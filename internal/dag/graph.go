// Package dag provides the dependency graph underpinning job scheduling:
// nodes keyed by ID, directed prerequisite edges, and cycle detection.
package dag

import (
	"fmt"
	"sort"
	"sync"
)

// CycleError reports the first node found to be involved in a cycle.
type CycleError struct {
	NodeID string
}

// Error implements the error interface.
func (e *CycleError) Error() string {
	return fmt.Sprintf("cycle detected involving node '%s'", e.NodeID)
}

// node is a single vertex with bidirectional adjacency for fast lookup of
// both prerequisites and dependents.
type node struct {
	id         string
	deps       map[string]*node
	dependents map[string]*node
}

// Graph is a thread-safe directed graph. Edges point from a prerequisite
// to the nodes that depend on it.
type Graph struct {
	mutex sync.RWMutex
	nodes map[string]*node
}

// New creates and returns an initialized, empty Graph.
func New() *Graph {
	return &Graph{
		nodes: make(map[string]*node),
	}
}

// AddNode adds a new node with the given ID to the graph. If a node with
// the same ID already exists, the function does nothing.
func (g *Graph) AddNode(id string) {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	if _, ok := g.nodes[id]; ok {
		return
	}

	g.nodes[id] = &node{
		id:         id,
		deps:       make(map[string]*node),
		dependents: make(map[string]*node),
	}
}

// AddEdge creates a directed edge from the `fromID` node to the `toID` node.
// This signifies that `toID` has a dependency on `fromID`. An error is returned
// if either node does not exist or if the edge would create a self-reference.
func (g *Graph) AddEdge(fromID, toID string) error {
	if fromID == toID {
		return fmt.Errorf("self-referential edge not allowed: %s -> %s", fromID, fromID)
	}

	g.mutex.Lock()
	defer g.mutex.Unlock()

	fromNode, ok := g.nodes[fromID]
	if !ok {
		return fmt.Errorf("source node not found: %s", fromID)
	}

	toNode, ok := g.nodes[toID]
	if !ok {
		return fmt.Errorf("destination node not found: %s", toID)
	}

	toNode.deps[fromID] = fromNode
	fromNode.dependents[toID] = toNode

	return nil
}

// Len returns the number of nodes in the graph.
func (g *Graph) Len() int {
	g.mutex.RLock()
	defer g.mutex.RUnlock()
	return len(g.nodes)
}

// Dependencies returns a sorted slice of node IDs that the given node
// depends on.
func (g *Graph) Dependencies(id string) ([]string, error) {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	n, ok := g.nodes[id]
	if !ok {
		return nil, fmt.Errorf("node not found: %s", id)
	}

	deps := make([]string, 0, len(n.deps))
	for depID := range n.deps {
		deps = append(deps, depID)
	}
	sort.Strings(deps)
	return deps, nil
}

// Dependents returns a sorted slice of node IDs that depend on the given node.
func (g *Graph) Dependents(id string) ([]string, error) {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	n, ok := g.nodes[id]
	if !ok {
		return nil, fmt.Errorf("node not found: %s", id)
	}

	dependents := make([]string, 0, len(n.dependents))
	for depID := range n.dependents {
		dependents = append(dependents, depID)
	}
	sort.Strings(dependents)
	return dependents, nil
}

// Roots returns the sorted IDs of all nodes with no dependencies.
func (g *Graph) Roots() []string {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	var roots []string
	for id, n := range g.nodes {
		if len(n.deps) == 0 {
			roots = append(roots, id)
		}
	}
	sort.Strings(roots)
	return roots
}

// DetectCycles checks the graph for any cycles. It returns a non-nil error
// if a cycle is found, indicating the first node involved in the detected cycle.
func (g *Graph) DetectCycles() error {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	// Use classic depth-first search with three sets of nodes:
	// permanent: nodes that have been fully visited and are not part of a cycle.
	// temporary: nodes currently in the recursion stack for the current traversal.
	// unvisited: all other nodes.
	permanent := make(map[string]bool)
	temporary := make(map[string]bool)

	var visit func(n *node) error
	visit = func(n *node) error {
		if permanent[n.id] {
			return nil // Already visited and known to be safe.
		}
		if temporary[n.id] {
			// We've hit a node that's already in our recursion stack, so we have a cycle.
			return &CycleError{NodeID: n.id}
		}

		temporary[n.id] = true

		for _, dependent := range n.dependents {
			if err := visit(dependent); err != nil {
				return err // Propagate the error up.
			}
		}

		// All dependents have been visited, so we can move this node from temporary to permanent.
		delete(temporary, n.id)
		permanent[n.id] = true

		return nil
	}

	// Visit every node in the graph. Iterate in sorted order so a graph
	// with multiple cycles reports the same one every time.
	ids := make([]string, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if !permanent[id] {
			if err := visit(g.nodes[id]); err != nil {
				return err
			}
		}
	}

	return nil
}
