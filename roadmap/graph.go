package roadmap

import "fmt"

// Node is anything with an id and a set of dependency ids.
type Node interface {
	NodeID() string
	Deps() []string
}

type color uint8

const (
	white color = iota
	gray
	black
)

// HasCycle reports whether the dependency graph of nodes contains a cycle.
// Edges run from a node to each of its dependencies. Dependencies on ids not
// in nodes are ignored. A node depending on itself is a cycle.
func HasCycle[N Node](nodes []N) bool {
	return FindCycle(nodes) != nil
}

// FindCycle returns one cycle as a list of ids with the first id repeated at
// the end, or nil when the graph is acyclic. Runs in O(nodes + edges).
func FindCycle[N Node](nodes []N) []string {
	adj := make(map[string][]string, len(nodes))
	for _, n := range nodes {
		adj[n.NodeID()] = append(adj[n.NodeID()], n.Deps()...)
	}

	colors := make(map[string]color, len(adj))
	parent := make(map[string]string, len(adj))

	var cycle []string
	var visit func(id string) bool
	visit = func(id string) bool {
		colors[id] = gray
		for _, dep := range adj[id] {
			if _, known := adj[dep]; !known {
				continue
			}
			switch colors[dep] {
			case gray:
				cycle = unwind(parent, id, dep)
				return true
			case white:
				parent[dep] = id
				if visit(dep) {
					return true
				}
			}
		}
		colors[id] = black
		return false
	}

	for _, n := range nodes {
		if colors[n.NodeID()] == white && visit(n.NodeID()) {
			return cycle
		}
	}
	return nil
}

// unwind walks parent links from the node that closed the back edge up to
// its target and returns the cycle in dependency order.
func unwind(parent map[string]string, from, to string) []string {
	path := []string{from}
	for cur := from; cur != to; {
		cur = parent[cur]
		path = append(path, cur)
	}
	// path is from → ... → to along parent links; reverse to get to → ... → from.
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return append(path, to)
}

// CheckCycles returns a *CircularDependencyError when tasks contain a cycle.
func CheckCycles[N Node](nodes []N) error {
	if cycle := FindCycle(nodes); cycle != nil {
		return &CircularDependencyError{Cycle: cycle}
	}
	return nil
}

// TopologicalOrder returns tasks with every dependency before its dependents.
// Among ready tasks the original order wins, so an already ordered list is
// returned unchanged. Fails on unknown dependencies and on cycles.
func TopologicalOrder(tasks []Task) ([]Task, error) {
	index := make(map[string]int, len(tasks))
	for i, t := range tasks {
		index[t.ID] = i
	}

	inDegree := make([]int, len(tasks))
	dependents := make([][]int, len(tasks))
	for i, t := range tasks {
		for _, dep := range t.DependsOn {
			j, ok := index[dep]
			if !ok {
				return nil, fmt.Errorf("task %q depends on unknown task %q", t.ID, dep)
			}
			inDegree[i]++
			dependents[j] = append(dependents[j], i)
		}
	}

	sorted := make([]Task, 0, len(tasks))
	emitted := make([]bool, len(tasks))
	for len(sorted) < len(tasks) {
		next := -1
		for i := range tasks {
			if !emitted[i] && inDegree[i] == 0 {
				next = i
				break
			}
		}
		if next < 0 {
			return nil, &CircularDependencyError{Cycle: FindCycle(tasks)}
		}
		emitted[next] = true
		sorted = append(sorted, tasks[next])
		for _, d := range dependents[next] {
			inDegree[d]--
		}
	}
	return sorted, nil
}
