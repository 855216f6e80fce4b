// Package schema loads per-collection metadata: permission thresholds, field
// policies, ownership and the custom events a collection may emit.
package schema

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"livesync/pkg/model"
)

// Operation is one of the four document operations permissions are defined for.
type Operation string

const (
	Create Operation = "create"
	Read   Operation = "read"
	Update Operation = "update"
	Delete Operation = "delete"
)

func (op Operation) IsValid() bool {
	switch op {
	case Create, Read, Update, Delete:
		return true
	}
	return false
}

// FieldPolicy maps an operation to the minimum privilege level for one field.
type FieldPolicy map[Operation]int

// Policy is the per-field permission table of a collection.
type Policy map[string]FieldPolicy

// Allows reports whether a caller at level may perform op on field.
// Fields without a threshold are open.
func (p Policy) Allows(field string, op Operation, level int) bool {
	threshold, ok := p[field][op]
	return !ok || threshold <= level
}

// Denied returns the fields a caller at level may not touch for op, sorted.
func (p Policy) Denied(op Operation, level int) []string {
	var out []string
	for field := range p {
		if !p.Allows(field, op, level) {
			out = append(out, field)
		}
	}
	sort.Strings(out)
	return out
}

type Collection struct {
	Name        string               `yaml:"-"`
	OwnerField  string               `yaml:"owner_field"`
	ReadOnly    bool                 `yaml:"read_only"`
	Permissions map[Operation]int    `yaml:"permissions"`
	Fields      Policy               `yaml:"fields"`
	Events      []string             `yaml:"events"`
	Rules       map[Operation]string `yaml:"rules"`
	Indexes     []string             `yaml:"indexes"`
}

// Threshold returns the collection-wide minimum level for op.
func (c *Collection) Threshold(op Operation) int {
	return c.Permissions[op]
}

// HasEvent reports whether name is a custom event declared for the collection.
func (c *Collection) HasEvent(name string) bool {
	for _, e := range c.Events {
		if e == name {
			return true
		}
	}
	return false
}

type Schema struct {
	Collections map[string]*Collection `yaml:"collections"`
}

// Load reads a schema file.
func Load(path string) (*Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema file: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Schema, error) {
	var s Schema
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse schema: %w", err)
	}
	if s.Collections == nil {
		s.Collections = make(map[string]*Collection)
	}
	for name, c := range s.Collections {
		if c == nil {
			c = &Collection{}
			s.Collections[name] = c
		}
		c.Name = name
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

func (s *Schema) Validate() error {
	for name, c := range s.Collections {
		if !model.CheckDocumentID(name) {
			return model.Validationf("invalid collection name %q", name)
		}
		for op := range c.Permissions {
			if !op.IsValid() {
				return model.Validationf("collection %s: unknown operation %q in permissions", name, op)
			}
		}
		for op := range c.Rules {
			if !op.IsValid() {
				return model.Validationf("collection %s: unknown operation %q in rules", name, op)
			}
		}
		for field, fp := range c.Fields {
			for op := range fp {
				if !op.IsValid() {
					return model.Validationf("collection %s: field %s: unknown operation %q", name, field, op)
				}
			}
		}
		seen := make(map[string]bool)
		for _, e := range c.Events {
			if e == "" || seen[e] {
				return model.Validationf("collection %s: empty or duplicate event %q", name, e)
			}
			seen[e] = true
		}
	}
	return nil
}

// Collection returns the metadata of a collection.
func (s *Schema) Collection(name string) (*Collection, bool) {
	c, ok := s.Collections[name]
	return c, ok
}

// Names returns the collection names, sorted.
func (s *Schema) Names() []string {
	names := make([]string, 0, len(s.Collections))
	for name := range s.Collections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
