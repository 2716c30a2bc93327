// Package runner drives a declared action graph against scenarios, producing
// one signed provenance trace per scenario, and hands the traces to the
// invariant evaluator.
//
// The typical flow:
//
//  1. ParseGraph: JSON or JSONC bytes → Graph
//  2. Graph.Order: dependency-respecting node order, or ErrCyclicGraph
//  3. Runner.Run: expand, execute and evaluate every scenario concurrently
package runner

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/tidwall/jsonc"

	"github.com/Mindburn-Labs/avs/pkg/contracts"
)

// Node is one action invocation in the graph.
type Node struct {
	ID     string         `json:"id"`
	Agent  string         `json:"agent"`
	Action string         `json:"action"`
	Inputs map[string]any `json:"inputs,omitempty"`
	// Delegate marks a node reached through a delegation hop. The first
	// delegating node mints the root envelope; every delegating node
	// advances it by one hop.
	Delegate bool `json:"delegate,omitempty"`
}

// Edge orders Source before Target.
type Edge struct {
	Source string `json:"source"`
	Target string `json:"target"`
}

// Graph is the declared action graph.
type Graph struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// ParseGraph strips JSONC comments and trailing commas, then decodes.
func ParseGraph(data []byte) (*Graph, error) {
	var g Graph
	if err := json.Unmarshal(jsonc.ToJSON(data), &g); err != nil {
		return nil, fmt.Errorf("%w: parsing graph: %v", contracts.ErrMalformed, err)
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return &g, nil
}

// ReadGraph loads a graph file.
func ReadGraph(path string) (*Graph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	g, err := ParseGraph(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return g, nil
}

// Validate checks node identity and edge endpoints.
func (g *Graph) Validate() error {
	seen := make(map[string]bool, len(g.Nodes))
	for i, n := range g.Nodes {
		if n.ID == "" {
			return fmt.Errorf("%w: node %d has no id", contracts.ErrMalformed, i)
		}
		if seen[n.ID] {
			return fmt.Errorf("%w: duplicate node id %q", contracts.ErrMalformed, n.ID)
		}
		seen[n.ID] = true
		if n.Action == "" || n.Agent == "" {
			return fmt.Errorf("%w: node %q needs agent and action", contracts.ErrMalformed, n.ID)
		}
	}
	for _, e := range g.Edges {
		if !seen[e.Source] || !seen[e.Target] {
			return fmt.Errorf("%w: edge %s -> %s references an unknown node", contracts.ErrMalformed, e.Source, e.Target)
		}
	}
	return nil
}

// Order returns the nodes in a topological order. Among nodes whose
// dependencies are satisfied, declaration order wins, so a linear graph
// runs exactly as listed.
func (g *Graph) Order() ([]Node, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}
	index := make(map[string]int, len(g.Nodes))
	for i, n := range g.Nodes {
		index[n.ID] = i
	}
	indegree := make([]int, len(g.Nodes))
	succ := make([][]int, len(g.Nodes))
	for _, e := range g.Edges {
		s, t := index[e.Source], index[e.Target]
		succ[s] = append(succ[s], t)
		indegree[t]++
	}

	done := make([]bool, len(g.Nodes))
	order := make([]Node, 0, len(g.Nodes))
	for len(order) < len(g.Nodes) {
		next := -1
		for i := range g.Nodes {
			if !done[i] && indegree[i] == 0 {
				next = i
				break
			}
		}
		if next < 0 {
			var stuck []string
			for i, n := range g.Nodes {
				if !done[i] {
					stuck = append(stuck, n.ID)
				}
			}
			return nil, fmt.Errorf("%w: nodes %v form a cycle", contracts.ErrCyclicGraph, stuck)
		}
		done[next] = true
		order = append(order, g.Nodes[next])
		for _, t := range succ[next] {
			indegree[t]--
		}
	}
	return order, nil
}
