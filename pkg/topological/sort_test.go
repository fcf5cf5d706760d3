package topological_test

import (
	"maps"
	"slices"
	"testing"

	"github.com/rhino1998/aslet/pkg/topological"
	"github.com/stretchr/testify/require"
)

// Graph maps each node to the nodes it depends on.
type Graph struct {
	nodes map[int]struct{}
	edges map[int]map[int]struct{}
}

func NewGraph() *Graph {
	return &Graph{
		nodes: make(map[int]struct{}),
		edges: make(map[int]map[int]struct{}),
	}
}

func (g *Graph) Nodes() []int {
	return slices.Sorted(maps.Keys(g.nodes))
}

func (g *Graph) NodeEdges(a int) []int {
	return slices.Sorted(maps.Keys(g.edges[a]))
}

// Add records that a depends on b.
func (g *Graph) Add(a, b int) {
	g.nodes[a] = struct{}{}
	g.nodes[b] = struct{}{}
	if _, ok := g.edges[a]; !ok {
		g.edges[a] = make(map[int]struct{})
	}
	g.edges[a][b] = struct{}{}
}

func TestTopologicalSort_Empty(t *testing.T) {
	g := NewGraph()

	r := require.New(t)

	l, err := topological.Sort(g.Nodes(), g.NodeEdges)
	r.NoError(err)
	r.Empty(l)
}

func TestTopologicalSort_Basic(t *testing.T) {
	g := NewGraph()
	g.Add(1, 2)
	g.Add(2, 3)

	r := require.New(t)

	l, err := topological.Sort(g.Nodes(), g.NodeEdges)
	r.NoError(err)
	r.Equal([]int{3, 2, 1}, l)
}

func TestTopologicalSort_Complex(t *testing.T) {
	g := NewGraph()
	g.Add(1, 2)
	g.Add(2, 3)
	g.Add(2, 4)
	g.Add(2, 5)

	g.Add(3, 6)
	g.Add(4, 6)
	g.Add(5, 6)

	r := require.New(t)

	l, err := topological.Sort(g.Nodes(), g.NodeEdges)
	r.NoError(err)
	r.Equal([]int{6, 3, 4, 5, 2, 1}, l)
}

func TestTopologicalSort_Independent(t *testing.T) {
	r := require.New(t)

	l, err := topological.Sort([]int{3, 1, 2}, func(int) []int { return nil })
	r.NoError(err)
	r.Equal([]int{1, 2, 3}, l)
}

func TestTopologicalSort_UnknownDependency(t *testing.T) {
	r := require.New(t)

	l, err := topological.Sort([]int{1}, func(int) []int { return []int{7} })
	r.NoError(err)
	r.Equal([]int{1}, l)
}

func TestTopologicalSort_Cycle(t *testing.T) {
	g := NewGraph()
	g.Add(1, 1)

	r := require.New(t)

	_, err := topological.Sort(g.Nodes(), g.NodeEdges)
	r.ErrorIs(err, topological.ErrCycleDetected)
}

func TestTopologicalSort_ComplexCycle(t *testing.T) {
	g := NewGraph()
	g.Add(1, 2)
	g.Add(2, 3)
	g.Add(2, 4)
	g.Add(2, 5)

	g.Add(3, 6)
	g.Add(4, 6)
	g.Add(5, 6)
	g.Add(6, 1)
	g.Add(7, 1)

	r := require.New(t)

	_, err := topological.Sort(g.Nodes(), g.NodeEdges)
	r.ErrorIs(err, topological.ErrCycleDetected)

	var cycleErr topological.CycleError[int]
	r.ErrorAs(err, &cycleErr)
	r.Equal([]int{1, 2, 3, 4, 5, 6, 7}, cycleErr.Keys)
}

func TestTopologicalSortFunc(t *testing.T) {
	type module struct {
		name    string
		imports []string
	}

	modules := map[string]*module{
		"main": {name: "main", imports: []string{"util", "strs"}},
		"util": {name: "util", imports: []string{"strs"}},
		"strs": {name: "strs"},
	}

	r := require.New(t)

	l, err := topological.SortFunc(
		slices.Collect(maps.Values(modules)),
		func(m *module) string { return m.name },
		func(m *module) []*module {
			var deps []*module
			for _, name := range m.imports {
				deps = append(deps, modules[name])
			}
			return deps
		},
	)
	r.NoError(err)

	var names []string
	for _, m := range l {
		names = append(names, m.name)
	}
	r.Equal([]string{"strs", "util", "main"}, names)
}
