// Package parser holds the record parser registry and the built-in parsers.
package parser

import (
	"fmt"
	"sort"
	"sync"

	"github.com/jittakal/kafbridge/internal/errors"
	"github.com/jittakal/kafbridge/pkg/parser"
	"github.com/jittakal/kafbridge/pkg/segment"
)

// Built-in parser names.
const (
	NameDelimited  = "delimited"
	NameJSON       = "json"
	NameAvro       = "avro"
	NameCloudEvent = "cloudevent"
)

// Registry maps parser names to constructors.
type Registry struct {
	mu           sync.RWMutex
	constructors map[string]parser.Constructor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{constructors: make(map[string]parser.Constructor)}
}

// DefaultRegistry creates a registry with every built-in parser.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.mustRegister(NameDelimited, NewDelimitedParser)
	r.mustRegister(NameJSON, NewJSONParser)
	r.mustRegister(NameAvro, NewAvroParser)
	r.mustRegister(NameCloudEvent, NewCloudEventParser)
	return r
}

// Register adds a constructor. Names are unique.
func (r *Registry) Register(name string, constructor parser.Constructor) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.constructors[name]; exists {
		return fmt.Errorf("parser %q already registered", name)
	}
	r.constructors[name] = constructor
	return nil
}

func (r *Registry) mustRegister(name string, constructor parser.Constructor) {
	if err := r.Register(name, constructor); err != nil {
		panic(err)
	}
}

// New builds the parser registered under name for columns.
func (r *Registry) New(name string, columns segment.Schema, props parser.Properties) (parser.Parser, error) {
	r.mu.RLock()
	constructor, ok := r.constructors[name]
	r.mu.RUnlock()

	if !ok {
		return nil, &errors.ConfigurationError{
			Component: "parser",
			Reason:    fmt.Sprintf("no parser named %q", name),
			Err:       errors.ErrUnknownParser,
		}
	}
	if len(columns) == 0 {
		return nil, &errors.ConfigurationError{
			Component: "parser",
			Reason:    fmt.Sprintf("parser %q needs at least one column", name),
		}
	}

	p, err := constructor(columns, props)
	if err != nil {
		return nil, &errors.ConfigurationError{
			Component: "parser",
			Reason:    fmt.Sprintf("failed to build parser %q", name),
			Err:       err,
		}
	}
	return p, nil
}

// Names returns the registered parser names in order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.constructors))
	for name := range r.constructors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
