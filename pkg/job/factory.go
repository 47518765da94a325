package job

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/goran-ethernal/ChainPipeline/internal/logger"
	"github.com/goran-ethernal/ChainPipeline/internal/multicall"
	"github.com/goran-ethernal/ChainPipeline/pkg/config"
	"github.com/goran-ethernal/ChainPipeline/pkg/record"
)

// MultiCaller executes batched read-only contract calls.
type MultiCaller interface {
	ExecuteCalls(ctx context.Context, calls []*multicall.Call) error
}

// Env holds the shared services handed to job factories.
type Env struct {
	MultiCall MultiCaller
	Log       *logger.Logger
}

// Factory is a function that creates a new job instance.
type Factory func(cfg config.JobConfig, env Env) (Job, error)

type registration struct {
	factory     Factory
	descriptors []record.Descriptor
}

var (
	factories = make(map[string]registration)
	mu        sync.RWMutex
)

// Register registers a job factory with the given type name together with the
// descriptors of every kind the job writes.
// This is typically called in init() functions of job packages.
// The type name is case-insensitive and will be stored in lowercase.
func Register(jobType string, factory Factory, descriptors ...record.Descriptor) {
	mu.Lock()
	defer mu.Unlock()
	name := strings.ToLower(jobType)
	if _, exists := factories[name]; exists {
		logger.GetDefaultLogger().Infof("job with name %s already in job registry. "+
			"It will be overwritten.", name)
	}

	factories[name] = registration{factory: factory, descriptors: descriptors}
}

// GetFactory returns the factory for the given job type.
// Returns nil if the type is not registered.
// The lookup is case-insensitive.
func GetFactory(jobType string) Factory {
	mu.RLock()
	defer mu.RUnlock()
	return factories[strings.ToLower(jobType)].factory
}

// ListRegistered returns the registered job types in sorted order.
func ListRegistered() []string {
	mu.RLock()
	defer mu.RUnlock()

	types := make([]string, 0, len(factories))
	for t := range factories {
		types = append(types, t)
	}
	slices.Sort(types)
	return types
}

// Create creates a new job instance using the registered factory.
// Returns an error if the type is not registered or if creation fails.
// The type lookup is case-insensitive.
func Create(cfg config.JobConfig, env Env) (Job, error) {
	factory := GetFactory(cfg.Type)
	if factory == nil {
		return nil, fmt.Errorf("unknown job type: %s (registered types: %v)", cfg.Type, ListRegistered())
	}

	return factory(cfg, env)
}

// NewRecordRegistry builds the record registry for the given job types.
// Descriptors shared by several types are registered once.
func NewRecordRegistry(jobTypes ...string) (*record.Registry, error) {
	mu.RLock()
	defer mu.RUnlock()

	registry, err := record.NewRegistry()
	if err != nil {
		return nil, err
	}

	for _, t := range jobTypes {
		reg, ok := factories[strings.ToLower(t)]
		if !ok {
			return nil, fmt.Errorf("unknown job type: %s", t)
		}
		for _, d := range reg.descriptors {
			if _, exists := registry.Lookup(d.Kind); exists {
				continue
			}
			if err := registry.Register(d); err != nil {
				return nil, fmt.Errorf("job type %s: %w", t, err)
			}
		}
	}

	return registry, nil
}
