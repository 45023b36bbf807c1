// Package parser defines the record parser contract.
package parser

import "github.com/jittakal/kafbridge/pkg/segment"

// Parser decodes one raw payload into column values following the schema it
// was built with. Implementations must be safe for concurrent use and keep no
// state between calls.
type Parser interface {
	// Parse decodes payload. Malformed payloads return an error wrapping
	// errors.ErrRejected; the caller skips and counts them.
	Parse(payload []byte) (segment.ParsedRow, error)

	// Name returns the registry name of the parser.
	Name() string
}

// Properties are the parser initialization parameters from configuration.
type Properties map[string]string

// Get returns the value of key or def when it is unset.
func (p Properties) Get(key, def string) string {
	if v, ok := p[key]; ok && v != "" {
		return v
	}
	return def
}

// Constructor builds a parser for a column schema.
type Constructor func(columns segment.Schema, props Properties) (Parser, error)
