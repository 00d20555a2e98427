// Package graph computes readiness and progress over a case's billing nodes.
package graph

import (
	"fmt"
	"sort"
	"strings"

	"github.com/opensource-finance/docket/internal/domain"
)

// Graph is a point-in-time partition of a case's active billing nodes.
// Every active node is in exactly one of Completed, Ready or Blocked.
type Graph struct {
	Phase     domain.Phase          `json:"phase"`
	Nodes     []*domain.BillingNode `json:"nodes"`
	Completed []*domain.BillingNode `json:"completed"`
	Ready     []*domain.BillingNode `json:"ready"`
	Blocked   []*domain.BillingNode `json:"blocked"`

	// OverallProgress is the completed share of active nodes, 0-100.
	OverallProgress int `json:"overallProgress"`

	// PhaseProgress is OverallProgress restricted to each phase present.
	PhaseProgress map[domain.Phase]int `json:"phaseProgress"`

	byID map[string]*domain.BillingNode
}

// Build partitions the active nodes. A node is ready when it is incomplete
// and every dependency refers to a completed active node; otherwise it is
// blocked. Inactive nodes are ignored.
func Build(nodes []*domain.BillingNode, currentPhase domain.Phase) *Graph {
	g := &Graph{
		Phase:         currentPhase,
		Nodes:         []*domain.BillingNode{},
		Completed:     []*domain.BillingNode{},
		Ready:         []*domain.BillingNode{},
		Blocked:       []*domain.BillingNode{},
		PhaseProgress: make(map[domain.Phase]int),
		byID:          make(map[string]*domain.BillingNode, len(nodes)),
	}

	for _, n := range nodes {
		if n == nil || !n.IsActive {
			continue
		}
		g.Nodes = append(g.Nodes, n)
		g.byID[n.ID] = n
	}
	sortNodes(g.Nodes)

	type tally struct{ done, total int }
	phases := make(map[domain.Phase]*tally)

	for _, n := range g.Nodes {
		t, ok := phases[n.Phase]
		if !ok {
			t = &tally{}
			phases[n.Phase] = t
		}
		t.total++

		switch {
		case n.IsCompleted:
			t.done++
			g.Completed = append(g.Completed, n)
		case g.dependenciesMet(n):
			g.Ready = append(g.Ready, n)
		default:
			g.Blocked = append(g.Blocked, n)
		}
	}

	switch {
	case len(g.Nodes) > 0:
		g.OverallProgress = percent(len(g.Completed), len(g.Nodes))
	case currentPhase.Terminal():
		g.OverallProgress = 100
	}
	for p, t := range phases {
		g.PhaseProgress[p] = percent(t.done, t.total)
	}

	return g
}

func (g *Graph) dependenciesMet(n *domain.BillingNode) bool {
	for _, dep := range n.Dependencies {
		d, ok := g.byID[dep]
		if !ok || !d.IsCompleted {
			return false
		}
	}
	return true
}

// percent rounds half up.
func percent(part, total int) int {
	if total == 0 {
		return 0
	}
	return (200*part + total) / (2 * total)
}

func sortNodes(nodes []*domain.BillingNode) {
	sort.SliceStable(nodes, func(i, j int) bool {
		if nodes[i].Order != nodes[j].Order {
			return nodes[i].Order < nodes[j].Order
		}
		return nodes[i].ID < nodes[j].ID
	})
}

// Node returns an active node by id.
func (g *Graph) Node(id string) (*domain.BillingNode, bool) {
	n, ok := g.byID[id]
	return n, ok
}

// IsReady reports whether the node is in the ready partition.
func (g *Graph) IsReady(id string) bool {
	for _, n := range g.Ready {
		if n.ID == id {
			return true
		}
	}
	return false
}

// NextMilestone is the first ready node, else the first blocked node.
func (g *Graph) NextMilestone() *domain.BillingNode {
	if len(g.Ready) > 0 {
		return g.Ready[0]
	}
	if len(g.Blocked) > 0 {
		return g.Blocked[0]
	}
	return nil
}

// Unbilled returns completed nodes no invoice covers yet.
func (g *Graph) Unbilled() []*domain.BillingNode {
	var out []*domain.BillingNode
	for _, n := range g.Completed {
		if !n.Billed() {
			out = append(out, n)
		}
	}
	return out
}

// PhaseComplete reports whether the phase has at least one active node and
// all of them are completed.
func (g *Graph) PhaseComplete(p domain.Phase) bool {
	found := false
	for _, n := range g.Nodes {
		if n.Phase != p {
			continue
		}
		found = true
		if !n.IsCompleted {
			return false
		}
	}
	return found
}

// NewlyReady returns the nodes ready in after that were not ready in before.
func NewlyReady(before, after *Graph) []*domain.BillingNode {
	wasReady := make(map[string]bool)
	if before != nil {
		for _, n := range before.Ready {
			wasReady[n.ID] = true
		}
	}
	out := []*domain.BillingNode{}
	for _, n := range after.Ready {
		if !wasReady[n.ID] {
			out = append(out, n)
		}
	}
	return out
}

// ValidateNodeSet checks a node set before it is persisted. Structural
// problems fail with ErrInvalidArgument; a dependency cycle fails with
// ErrDependencyCycle naming the nodes that can never become ready.
func ValidateNodeSet(nodes []*domain.BillingNode) error {
	ids := make(map[string]*domain.BillingNode, len(nodes))
	var problems []string

	for i, n := range nodes {
		if n == nil {
			problems = append(problems, fmt.Sprintf("node %d is empty", i))
			continue
		}
		if n.ID == "" {
			problems = append(problems, fmt.Sprintf("node %d has no id", i))
			continue
		}
		if _, dup := ids[n.ID]; dup {
			problems = append(problems, fmt.Sprintf("duplicate node id %s", n.ID))
			continue
		}
		ids[n.ID] = n
	}

	for _, n := range nodes {
		if n == nil || n.ID == "" {
			continue
		}
		for _, dep := range n.Dependencies {
			switch {
			case dep == n.ID:
				problems = append(problems, fmt.Sprintf("node %s depends on itself", n.ID))
			case ids[dep] == nil:
				problems = append(problems, fmt.Sprintf("node %s depends on unknown node %s", n.ID, dep))
			}
		}
	}

	if len(problems) > 0 {
		return &domain.ValidationError{Kind: domain.ErrInvalidArgument, Errors: problems}
	}

	if cyclic := findCycle(ids); len(cyclic) > 0 {
		return &domain.ValidationError{
			Kind:   domain.ErrDependencyCycle,
			Errors: []string{fmt.Sprintf("dependency cycle among nodes: %s", strings.Join(cyclic, ", "))},
		}
	}
	return nil
}

// findCycle runs Kahn's algorithm and returns the ids left unsorted, which
// are exactly the nodes on or behind a cycle.
func findCycle(nodes map[string]*domain.BillingNode) []string {
	indegree := make(map[string]int, len(nodes))
	dependents := make(map[string][]string, len(nodes))
	for id, n := range nodes {
		seen := make(map[string]bool, len(n.Dependencies))
		for _, dep := range n.Dependencies {
			if seen[dep] {
				continue
			}
			seen[dep] = true
			indegree[id]++
			dependents[dep] = append(dependents[dep], id)
		}
	}

	queue := make([]string, 0, len(nodes))
	for id := range nodes {
		if indegree[id] == 0 {
			queue = append(queue, id)
		}
	}

	visited := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		visited++
		for _, next := range dependents[id] {
			indegree[next]--
			if indegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}

	if visited == len(nodes) {
		return nil
	}
	var remaining []string
	for id := range nodes {
		if indegree[id] > 0 {
			remaining = append(remaining, id)
		}
	}
	sort.Strings(remaining)
	return remaining
}
