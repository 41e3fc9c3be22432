// Package schema publishes JSON schemas reflected from the Go types the
// loaders decode into, so editors can validate run files.
package schema

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/swaggest/jsonschema-go"
)

// LabelRunFile is the schema of the YAML run file.
const LabelRunFile = "run-file"

// draft is the dialect advertised in generated documents.
const draft = "http://json-schema.org/draft-07/schema#"

// Option adjusts a registered document.
type Option func(*document)

// WithTitle sets the document title.
func WithTitle(title string) Option {
	return func(d *document) { d.title = title }
}

// WithDescription sets the document description.
func WithDescription(desc string) Option {
	return func(d *document) { d.description = desc }
}

// Omit drops properties with the given JSON names, at any depth.
func Omit(names ...string) Option {
	return func(d *document) {
		for _, n := range names {
			d.omit[n] = true
		}
	}
}

type document struct {
	value       any
	title       string
	description string
	omit        map[string]bool

	once sync.Once
	text string
	err  error
}

func (d *document) render() (string, error) {
	d.once.Do(func() {
		d.text, d.err = generate(d)
	})
	return d.text, d.err
}

var (
	mu       sync.RWMutex
	registry = make(map[string]*document)
)

// Register makes v's schema available under label. Registering a label
// again replaces the previous document.
func Register(label string, v any, opts ...Option) {
	d := &document{value: v, omit: make(map[string]bool)}
	for _, opt := range opts {
		opt(d)
	}
	mu.Lock()
	registry[label] = d
	mu.Unlock()
}

// Get returns the indented schema for label. It is generated once.
func Get(label string) (string, error) {
	mu.RLock()
	d, ok := registry[label]
	mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("unknown schema label: %s", label)
	}
	s, err := d.render()
	if err != nil {
		return "", fmt.Errorf("failed to generate schema for %s: %w", label, err)
	}
	return s, nil
}

// Labels returns the registered labels, sorted.
func Labels() []string {
	mu.RLock()
	defer mu.RUnlock()
	labels := make([]string, 0, len(registry))
	for label := range registry {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	return labels
}

// GenerateJSON reflects v without registering it.
func GenerateJSON(v any, omit ...string) (string, error) {
	d := &document{value: v, omit: make(map[string]bool)}
	Omit(omit...)(d)
	return generate(d)
}

func generate(d *document) (string, error) {
	var r jsonschema.Reflector
	opts := []func(*jsonschema.ReflectContext){jsonschema.InlineRefs}
	if len(d.omit) > 0 {
		opts = append(opts, jsonschema.InterceptProp(func(p jsonschema.InterceptPropParams) error {
			if d.omit[p.Name] {
				return jsonschema.ErrSkipProperty
			}
			return nil
		}))
	}

	s, err := r.Reflect(d.value, opts...)
	if err != nil {
		return "", err
	}
	if d.title != "" {
		s.WithTitle(d.title)
	}
	if d.description != "" {
		s.WithDescription(d.description)
	}

	// Round trip through a map to add the dialect key, which the reflected
	// type does not carry.
	raw, err := json.Marshal(s)
	if err != nil {
		return "", err
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return "", err
	}
	doc["$schema"] = draft
	out, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", err
	}
	return string(out), nil
}
