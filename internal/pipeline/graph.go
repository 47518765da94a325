package pipeline

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/goran-ethernal/ChainPipeline/pkg/job"
	"github.com/goran-ethernal/ChainPipeline/pkg/record"
	"github.com/yourbasic/graph"
)

// ConfigurationError is fatal and reported before any range is processed.
type ConfigurationError = job.ConfigurationError

// ErrCycle is wrapped by the ConfigurationError returned for a cyclic job graph.
var ErrCycle = errors.New("job graph has a cycle")

// JobGraph is the producer to consumer graph of a job set.
// Vertices are job indexes in declaration order.
type JobGraph struct {
	*graph.Mutable

	jobs      []job.Job
	jobIndex  map[string]int
	producers map[record.EntityKind][]int
}

// NewJobGraph links every producer to each job reading one of its output kinds.
func NewJobGraph(jobs []job.Job) (*JobGraph, error) {
	g := &JobGraph{
		Mutable:   graph.New(len(jobs)),
		jobs:      jobs,
		jobIndex:  make(map[string]int, len(jobs)),
		producers: make(map[record.EntityKind][]int),
	}

	for i, j := range jobs {
		if j == nil {
			return nil, &ConfigurationError{Reason: fmt.Sprintf("job %d is nil", i)}
		}
		if _, dup := g.jobIndex[j.Name()]; dup {
			return nil, &ConfigurationError{Job: j.Name(), Reason: "duplicate job name"}
		}
		g.jobIndex[j.Name()] = i

		for _, kind := range j.OutputTypes() {
			if !slices.Contains(g.producers[kind], i) {
				g.producers[kind] = append(g.producers[kind], i)
			}
		}
	}

	for consumer, j := range jobs {
		for _, kind := range j.DependencyTypes() {
			for _, producer := range g.producers[kind] {
				g.AddCost(producer, consumer, 1)
			}
		}
	}

	if !graph.Acyclic(g) {
		return nil, &ConfigurationError{
			Reason: "dependency cycle between " + strings.Join(g.cycleMembers(), ", "),
			Err:    ErrCycle,
		}
	}

	return g, nil
}

// Levels groups jobs by their longest producer chain. A job only depends on
// jobs of earlier levels; inside a level jobs keep declaration order.
func (g *JobGraph) Levels() [][]job.Job {
	order, ok := graph.TopSort(g)
	if !ok {
		return nil
	}

	depth := make([]int, len(g.jobs))
	maxDepth := 0
	for _, v := range order {
		g.Visit(v, func(w int, _ int64) bool {
			if depth[v]+1 > depth[w] {
				depth[w] = depth[v] + 1
			}
			return false
		})
		maxDepth = max(maxDepth, depth[v])
	}

	if len(g.jobs) == 0 {
		return nil
	}

	levels := make([][]job.Job, maxDepth+1)
	for i, j := range g.jobs {
		levels[depth[i]] = append(levels[depth[i]], j)
	}
	return levels
}

// ProducersOf returns the names of the jobs writing kind, in declaration order.
func (g *JobGraph) ProducersOf(kind record.EntityKind) []string {
	idx := g.producers[kind]
	out := make([]string, len(idx))
	for i, v := range idx {
		out[i] = g.jobs[v].Name()
	}
	return out
}

// cycleMembers names the jobs of every strongly connected component that forms a cycle.
func (g *JobGraph) cycleMembers() []string {
	var members []int
	for _, component := range graph.StrongComponents(g) {
		if len(component) > 1 || g.Edge(component[0], component[0]) {
			members = append(members, component...)
		}
	}
	slices.Sort(members)

	names := make([]string, len(members))
	for i, v := range members {
		names[i] = g.jobs[v].Name()
	}
	return names
}
