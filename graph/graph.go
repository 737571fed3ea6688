// Package graph resolves template-level "needs" declarations into an
// instance-level dependency DAG and answers which instances are
// runnable given the set of satisfied dependencies.
package graph

import (
	"slices"
	"strings"

	"github.com/loomci/loom/workflow"
)

// Graph is the resolved dependency DAG over expanded job instances.
// Nodes are keyed by stable instance IDs, in definition order, so
// scheduling and reporting order are reproducible across runs.
type Graph struct {
	order []string
	nodes map[string]*node
}

type node struct {
	id         string
	deps       map[string]struct{}
	dependents map[string]struct{}
}

// Build resolves each instance's template-level needs into
// instance-level edges. A need on a template that expands to several
// instances fans out to all of them: the dependency is satisfied only
// once every instance of the needed template is terminal. The edge set
// is cycle-checked before the graph is returned.
func Build(instances []*workflow.JobInstance) (*Graph, error) {
	g := &Graph{nodes: make(map[string]*node)}

	byTemplate := make(map[string][]string)
	for _, inst := range instances {
		id := inst.ID()
		if _, ok := g.nodes[id]; ok {
			// a literal job name can collide with a matrix
			// instance's rendered identity
			return nil, workflow.Errorf("duplicate instance identity %q", id)
		}
		g.order = append(g.order, id)
		g.nodes[id] = &node{
			id:         id,
			deps:       make(map[string]struct{}),
			dependents: make(map[string]struct{}),
		}
		byTemplate[inst.Template.Name] = append(byTemplate[inst.Template.Name], id)
	}

	for _, inst := range instances {
		id := inst.ID()
		for _, need := range inst.Template.Needs {
			targets, ok := byTemplate[need]
			if !ok {
				return nil, workflow.Errorf("job %q needs unknown job %q", inst.Template.Name, need)
			}
			for _, target := range targets {
				if target == id {
					return nil, workflow.Errorf("job %q depends on itself", id)
				}
				g.nodes[id].deps[target] = struct{}{}
				g.nodes[target].dependents[id] = struct{}{}
			}
		}
	}

	if cycle := g.findCycle(); cycle != nil {
		return nil, workflow.Errorf("dependency cycle: %s", strings.Join(cycle, " -> "))
	}

	return g, nil
}

// Instances returns all instance IDs in stable definition order.
func (g *Graph) Instances() []string {
	return slices.Clone(g.order)
}

// Dependencies returns the IDs the given instance waits on, sorted.
func (g *Graph) Dependencies(id string) []string {
	n, ok := g.nodes[id]
	if !ok {
		return nil
	}
	return sortedKeys(n.deps)
}

// Dependents returns the IDs waiting on the given instance, sorted.
func (g *Graph) Dependents(id string) []string {
	n, ok := g.nodes[id]
	if !ok {
		return nil
	}
	return sortedKeys(n.dependents)
}

// Runnable returns, in stable order, every instance whose dependencies
// are all in satisfied and which has not yet been started.
func (g *Graph) Runnable(satisfied, started map[string]struct{}) []string {
	var runnable []string
	for _, id := range g.order {
		if _, ok := started[id]; ok {
			continue
		}
		n := g.nodes[id]
		ready := true
		for dep := range n.deps {
			if _, ok := satisfied[dep]; !ok {
				ready = false
				break
			}
		}
		if ready {
			runnable = append(runnable, id)
		}
	}
	return runnable
}

// findCycle runs a depth-first search with the classic three-colour
// marking. On finding a back edge it returns the cycle members in walk
// order; a nil return means the graph is acyclic.
func (g *Graph) findCycle() []string {
	permanent := make(map[string]bool)
	temporary := make(map[string]bool)
	var stack []string

	var visit func(n *node) []string
	visit = func(n *node) []string {
		if permanent[n.id] {
			return nil
		}
		if temporary[n.id] {
			// back edge: the cycle is the stack suffix from the
			// first occurrence of this node
			start := slices.Index(stack, n.id)
			return append(slices.Clone(stack[start:]), n.id)
		}

		temporary[n.id] = true
		stack = append(stack, n.id)

		for _, dep := range sortedKeys(n.dependents) {
			if cycle := visit(g.nodes[dep]); cycle != nil {
				return cycle
			}
		}

		stack = stack[:len(stack)-1]
		delete(temporary, n.id)
		permanent[n.id] = true

		return nil
	}

	for _, id := range g.order {
		if !permanent[id] {
			if cycle := visit(g.nodes[id]); cycle != nil {
				return cycle
			}
		}
	}

	return nil
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
