package pipeline

import (
	"fmt"

	"github.com/goran-ethernal/ChainPipeline/pkg/job"
	"github.com/goran-ethernal/ChainPipeline/pkg/record"
)

// Plan is the resolved execution order of a job set.
type Plan struct {
	// Levels run one after another. Jobs inside a level are independent.
	Levels [][]job.Job
	// SourceKinds are registered dependency kinds that no job produces.
	SourceKinds []record.EntityKind
}

// Jobs returns every job of the plan in execution order.
func (p *Plan) Jobs() []job.Job {
	var out []job.Job
	for _, level := range p.Levels {
		out = append(out, level...)
	}
	return out
}

// Resolve validates the job set against the registry and orders it.
func Resolve(jobs []job.Job, registry *record.Registry) (*Plan, error) {
	if registry == nil {
		return nil, &ConfigurationError{Reason: "record registry is required"}
	}

	g, err := NewJobGraph(jobs)
	if err != nil {
		return nil, err
	}

	plan := &Plan{Levels: g.Levels()}
	seenSource := make(map[record.EntityKind]struct{})

	for _, j := range jobs {
		if err := registry.Resolve(j.OutputTypes()...); err != nil {
			return nil, &ConfigurationError{Job: j.Name(), Reason: "output kind", Err: err}
		}
		if err := registry.Resolve(j.DependencyTypes()...); err != nil {
			return nil, &ConfigurationError{Job: j.Name(), Reason: "dependency kind", Err: err}
		}

		for _, kind := range j.DependencyTypes() {
			if len(g.ProducersOf(kind)) > 0 {
				continue
			}
			if _, ok := seenSource[kind]; !ok {
				seenSource[kind] = struct{}{}
				plan.SourceKinds = append(plan.SourceKinds, kind)
			}
		}
	}

	return plan, nil
}

// String renders the plan as "level: job, job".
func (p *Plan) String() string {
	s := ""
	for i, level := range p.Levels {
		if i > 0 {
			s += "; "
		}
		s += fmt.Sprintf("%d:", i)
		for k, j := range level {
			if k > 0 {
				s += ","
			}
			s += " " + j.Name()
		}
	}
	return s
}
