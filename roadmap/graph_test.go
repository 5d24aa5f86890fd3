package roadmap

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tasksOf(edges map[string][]string, order ...string) []Task {
	tasks := make([]Task, 0, len(order))
	for _, id := range order {
		tasks = append(tasks, Task{ID: id, DependsOn: edges[id]})
	}
	return tasks
}

func TestHasCycle(t *testing.T) {
	tests := []struct {
		name  string
		tasks []Task
		want  bool
	}{
		{"empty", nil, false},
		{"single", tasksOf(nil, "a"), false},
		{"self dependency", tasksOf(map[string][]string{"a": {"a"}}, "a"), true},
		{"chain", tasksOf(map[string][]string{"b": {"a"}, "c": {"b"}}, "a", "b", "c"), false},
		{"diamond", tasksOf(map[string][]string{"b": {"a"}, "c": {"a"}, "d": {"b", "c"}}, "a", "b", "c", "d"), false},
		{"two cycle", tasksOf(map[string][]string{"a": {"b"}, "b": {"a"}}, "a", "b"), true},
		{"disconnected cycle", tasksOf(map[string][]string{"x": {"y"}, "y": {"z"}, "z": {"x"}}, "a", "x", "y", "z"), true},
		{"unknown dependency", tasksOf(map[string][]string{"a": {"ghost"}}, "a"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HasCycle(tt.tasks))
		})
	}
}

func TestFindCycle_Path(t *testing.T) {
	tasks := tasksOf(map[string][]string{"a": {"b"}, "b": {"c"}, "c": {"a"}}, "a", "b", "c")

	cycle := FindCycle(tasks)
	require.NotNil(t, cycle)
	assert.Equal(t, cycle[0], cycle[len(cycle)-1])
	assert.Len(t, cycle, 4)

	// Each consecutive pair is a dependsOn edge.
	byID := map[string]Task{}
	for _, task := range tasks {
		byID[task.ID] = task
	}
	for i := 0; i+1 < len(cycle); i++ {
		assert.Contains(t, byID[cycle[i]].DependsOn, cycle[i+1])
	}
}

func TestFindCycle_SelfDependency(t *testing.T) {
	assert.Equal(t, []string{"a", "a"}, FindCycle(tasksOf(map[string][]string{"a": {"a"}}, "a")))
}

func TestCheckCycles(t *testing.T) {
	err := CheckCycles(tasksOf(map[string][]string{"a": {"b"}, "b": {"a"}}, "a", "b"))

	var cycleErr *CircularDependencyError
	require.True(t, errors.As(err, &cycleErr))
	assert.Contains(t, cycleErr.Error(), "->")

	assert.NoError(t, CheckCycles(tasksOf(nil, "a", "b")))
}

func TestHasCycle_RevisedTasks(t *testing.T) {
	revised := []RevisedTask{
		{ID: "a", DependsOn: []string{"b"}},
		{ID: "b", DependsOn: []string{"a"}},
	}
	assert.True(t, HasCycle(revised))
}

// randomDAG builds n tasks where edges only point to lower indices.
func randomDAG(r *rand.Rand, n int) []Task {
	tasks := make([]Task, n)
	for i := range tasks {
		tasks[i].ID = fmt.Sprintf("t%d", i)
		for j := 0; j < i; j++ {
			if r.IntN(4) == 0 {
				tasks[i].DependsOn = append(tasks[i].DependsOn, tasks[j].ID)
			}
		}
	}
	// Shuffle so the detector cannot rely on input order.
	r.Shuffle(len(tasks), func(i, j int) { tasks[i], tasks[j] = tasks[j], tasks[i] })
	return tasks
}

func TestHasCycle_Property(t *testing.T) {
	r := rand.New(rand.NewPCG(42, 7))

	for iter := 0; iter < 300; iter++ {
		n := 1 + r.IntN(25)
		dag := randomDAG(r, n)

		if HasCycle(dag) {
			t.Fatalf("iteration %d: random DAG reported as cyclic: %+v", iter, dag)
		}
		if _, err := TopologicalOrder(dag); err != nil {
			t.Fatalf("iteration %d: DAG could not be ordered: %v", iter, err)
		}

		// Inject a back edge: pick any edge path a -> ... -> b and add b -> a.
		// The simplest guaranteed cycle is a dependency pointing back at a dependent.
		var from, to int = -1, -1
		for i, task := range dag {
			if len(task.DependsOn) > 0 {
				from = i
				for j := range dag {
					if dag[j].ID == task.DependsOn[0] {
						to = j
					}
				}
				break
			}
		}
		if from < 0 {
			// No edges: inject a self dependency instead.
			dag[0].DependsOn = append(dag[0].DependsOn, dag[0].ID)
		} else {
			dag[to].DependsOn = append(dag[to].DependsOn, dag[from].ID)
		}

		if !HasCycle(dag) {
			t.Fatalf("iteration %d: injected cycle not detected", iter)
		}
		if _, err := TopologicalOrder(dag); err == nil {
			t.Fatalf("iteration %d: cyclic graph was ordered", iter)
		}
	}
}

// TestFindCycle_LongCycleProperty threads a chain of 3 to 8 tasks through a
// random DAG and closes it with one back edge, so every cycle runs through it.
func TestFindCycle_LongCycleProperty(t *testing.T) {
	r := rand.New(rand.NewPCG(9, 3))

	for iter := 0; iter < 300; iter++ {
		n := 8 + r.IntN(20)
		tasks := make([]Task, n)
		for i := range tasks {
			tasks[i].ID = fmt.Sprintf("t%d", i)
			for j := 0; j < i; j++ {
				if r.IntN(5) == 0 {
					tasks[i].DependsOn = append(tasks[i].DependsOn, tasks[j].ID)
				}
			}
		}

		// Chain members in ascending index order keep the graph acyclic.
		length := 3 + r.IntN(6)
		chain := r.Perm(n)[:length]
		slices.Sort(chain)
		for k := 1; k < length; k++ {
			tasks[chain[k]].DependsOn = append(tasks[chain[k]].DependsOn, tasks[chain[k-1]].ID)
		}
		require.False(t, HasCycle(tasks), "iteration %d: chain alone must stay acyclic", iter)

		first, last := tasks[chain[0]].ID, tasks[chain[length-1]].ID
		tasks[chain[0]].DependsOn = append(tasks[chain[0]].DependsOn, last)
		r.Shuffle(n, func(i, j int) { tasks[i], tasks[j] = tasks[j], tasks[i] })

		cycle := FindCycle(tasks)
		require.NotNil(t, cycle, "iteration %d: injected cycle of %d tasks not found", iter, length)
		assert.Equal(t, cycle[0], cycle[len(cycle)-1])
		assert.Contains(t, cycle, first)
		assert.Contains(t, cycle, last)

		byID := make(map[string]Task, n)
		for _, task := range tasks {
			byID[task.ID] = task
		}
		for i := 0; i+1 < len(cycle); i++ {
			assert.Contains(t, byID[cycle[i]].DependsOn, cycle[i+1], "iteration %d: %v is not a dependency path", iter, cycle)
		}

		_, err := TopologicalOrder(tasks)
		var cycleErr *CircularDependencyError
		require.True(t, errors.As(err, &cycleErr), "iteration %d: expected a cycle error, got %v", iter, err)
	}
}

func TestTopologicalOrder(t *testing.T) {
	t.Run("keeps valid order", func(t *testing.T) {
		tasks := tasksOf(map[string][]string{"b": {"a"}}, "a", "b", "c")
		got, err := TopologicalOrder(tasks)
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b", "c"}, ids(got))
	})

	t.Run("moves dependencies first", func(t *testing.T) {
		tasks := tasksOf(map[string][]string{"feed": {"auth"}, "launch": {"feed"}}, "launch", "feed", "auth", "docs")
		got, err := TopologicalOrder(tasks)
		require.NoError(t, err)
		assert.Equal(t, []string{"auth", "feed", "launch", "docs"}, ids(got))
	})

	t.Run("unknown dependency", func(t *testing.T) {
		_, err := TopologicalOrder(tasksOf(map[string][]string{"a": {"ghost"}}, "a"))
		assert.ErrorContains(t, err, "unknown task")
	})

	t.Run("cycle", func(t *testing.T) {
		_, err := TopologicalOrder(tasksOf(map[string][]string{"a": {"b"}, "b": {"a"}}, "a", "b"))
		var cycleErr *CircularDependencyError
		assert.ErrorAs(t, err, &cycleErr)
	})
}

func ids(tasks []Task) []string {
	out := make([]string, len(tasks))
	for i, t := range tasks {
		out[i] = t.ID
	}
	return out
}
