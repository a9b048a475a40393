package filter

import (
	"github.com/experiment-hub/experiment-hub/server/identifiers"
	"github.com/experiment-hub/experiment-hub/server/media"
	"github.com/experiment-hub/experiment-hub/server/message"
	"github.com/juju/errors"
)

// Descriptor describes one registered filter type.
type Descriptor struct {
	// Type is the unique type name referenced by FilterConfig.Type.
	Type string

	Category    Category
	Channel     media.Kind
	GroupFilter bool

	// DefaultConfig lists the options the filter accepts, with defaults
	// and bounds.
	DefaultConfig map[string]message.FilterOption

	// New constructs an instance with the given id and initial config.
	New func(id identifiers.FilterID, config message.FilterConfig) (Filter, error)
}

// Registry is a static table of filter types, populated at startup.
// There is no runtime type scanning; every available type is registered
// explicitly.
type Registry struct {
	descriptors map[string]Descriptor
	order       []string
}

func NewRegistry() *Registry {
	return &Registry{
		descriptors: map[string]Descriptor{},
	}
}

// Register adds a descriptor. Registering a duplicate type name is a
// programming error.
func (r *Registry) Register(desc Descriptor) error {
	if _, ok := r.descriptors[desc.Type]; ok {
		return errors.Errorf("filter type already registered: %q", desc.Type)
	}

	r.descriptors[desc.Type] = desc
	r.order = append(r.order, desc.Type)

	return nil
}

// Get looks up a descriptor by type name.
func (r *Registry) Get(filterType string) (Descriptor, bool) {
	desc, ok := r.descriptors[filterType]

	return desc, ok
}

// Catalog returns the descriptors advertised to clients, in registration
// order. CategoryNone types are never included; CategoryTest types only
// when includeTest is set.
func (r *Registry) Catalog(includeTest bool) []Descriptor {
	var ret []Descriptor

	for _, filterType := range r.order {
		desc := r.descriptors[filterType]

		switch desc.Category {
		case CategorySession:
			ret = append(ret, desc)
		case CategoryTest:
			if includeTest {
				ret = append(ret, desc)
			}
		case CategoryNone:
		}
	}

	return ret
}

// Validate checks registry integrity: every requiresOtherFilter
// cross-reference in a default config must name a registered type. Run
// once at startup, not per call.
func (r *Registry) Validate() error {
	for _, filterType := range r.order {
		desc := r.descriptors[filterType]

		for optName, opt := range desc.DefaultConfig {
			if opt.RequiresOtherFilter == "" {
				continue
			}

			if _, ok := r.descriptors[opt.RequiresOtherFilter]; !ok {
				return errors.Errorf(
					"filter %q option %q requires unregistered filter %q",
					filterType, optName, opt.RequiresOtherFilter,
				)
			}
		}
	}

	return nil
}

// NewDefaultRegistry returns the registry with all shipped filter types,
// validated.
func NewDefaultRegistry() (*Registry, error) {
	r := NewRegistry()

	descriptors := []Descriptor{
		rotationDescriptor(),
		edgeOutlineDescriptor(),
		delayDescriptor(),
		templateGroupDescriptor(),
	}

	for _, desc := range descriptors {
		if err := r.Register(desc); err != nil {
			return nil, errors.Trace(err)
		}
	}

	if err := r.Validate(); err != nil {
		return nil, errors.Trace(err)
	}

	return r, nil
}
