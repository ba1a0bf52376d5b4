package fps

import (
	"fmt"
	"sort"
	"strings"

	"github.com/nasa-jpl/gomilk/shmdir"
)

// Meta declares one parameter of a schema
type Meta struct {
	Comment string
	Type    Type
	Flags   Flag
}

// Value is the set of Go types a typed attribute may have
type Value interface {
	string | bool | int | int32 | int64 | uint32 | uint64 | float32 | float64
}

// Field is a typed attribute as seen by NewSchema
type Field interface {
	Key() string
	kind() kind
	goType() string
}

// Attr is a typed accessor on one parameter.  Values go through Get and Set
// of the FPS; nothing is stored in the attribute.
type Attr[T Value] struct {
	key string
}

// NewAttr returns the accessor for key
func NewAttr[T Value](key string) Attr[T] { return Attr[T]{key: key} }

// Key is the parameter name
func (a Attr[T]) Key() string { return a.key }

func (a Attr[T]) holder() Type {
	var zero T
	switch any(zero).(type) {
	case string:
		return TypeString
	case bool:
		return TypeBool
	case int32:
		return TypeInt32
	case int, int64:
		return TypeInt64
	case uint32:
		return TypeUint32
	case uint64:
		return TypeUint64
	case float32:
		return TypeFloat32
	}
	return TypeFloat64
}

func (a Attr[T]) kind() kind { return a.holder().kind() }

func (a Attr[T]) goType() string {
	var zero T
	return fmt.Sprintf("%T", zero)
}

// Get reads the parameter and converts it to T
func (a Attr[T]) Get(p *FPS) (T, error) {
	var zero T
	v, err := p.Get(a.key)
	if err != nil {
		return zero, err
	}
	x, err := coerce(a.holder(), v)
	if err != nil {
		return zero, err
	}
	if _, ok := any(zero).(int); ok {
		return any(int(x.(int64))).(T), nil
	}
	return x.(T), nil
}

// Set writes v to the parameter
func (a Attr[T]) Set(p *FPS, v T) error {
	return p.Set(a.key, v)
}

// SchemaError is a schema whose metadata and attributes disagree
type SchemaError struct {
	Problems []string
}

func (e *SchemaError) Error() string {
	return "invalid FPS schema: " + strings.Join(e.Problems, "; ")
}

// Schema is a validated set of typed attributes over an FPS
type Schema struct {
	meta map[string]Meta
	keys []string
}

// NewSchema checks that meta is present, that its keys are exactly the keys
// of fields, that each entry is well formed and that each field's Go type
// can hold the declared parameter type
func NewSchema(meta map[string]Meta, fields ...Field) (*Schema, error) {
	var problems []string
	if meta == nil {
		problems = append(problems, "no metadata")
	}
	declared := make(map[string]Field, len(fields))
	for _, f := range fields {
		if _, dup := declared[f.Key()]; dup {
			problems = append(problems, fmt.Sprintf("attribute %q declared twice", f.Key()))
		}
		declared[f.Key()] = f
	}
	for _, f := range fields {
		if _, ok := meta[f.Key()]; !ok && meta != nil {
			problems = append(problems, fmt.Sprintf("attribute %q has no metadata", f.Key()))
		}
	}
	keys := make([]string, 0, len(meta))
	for k := range meta {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		m := meta[k]
		f, ok := declared[k]
		if !ok {
			problems = append(problems, fmt.Sprintf("metadata %q has no attribute", k))
			continue
		}
		if !m.Type.Valid() {
			problems = append(problems, fmt.Sprintf("metadata %q: invalid type %v", k, m.Type))
			continue
		}
		if !m.Flags.Valid() {
			problems = append(problems, fmt.Sprintf("metadata %q: invalid flags %v", k, m.Flags))
		}
		if f.kind() != m.Type.kind() {
			problems = append(problems, fmt.Sprintf("attribute %q: %s cannot hold %v", k, f.goType(), m.Type))
		}
	}
	if len(problems) > 0 {
		return nil, &SchemaError{Problems: problems}
	}
	return &Schema{meta: meta, keys: keys}, nil
}

// MustSchema is NewSchema that panics, for package level schemas
func MustSchema(meta map[string]Meta, fields ...Field) *Schema {
	s, err := NewSchema(meta, fields...)
	if err != nil {
		panic(err)
	}
	return s
}

// Keys returns the schema keys, sorted
func (s *Schema) Keys() []string { return append([]string{}, s.keys...) }

// Create makes an FPS and registers every schema parameter before running
// opts.PostCreate
func (s *Schema) Create(dir shmdir.Dir, name string, force bool, opts Options) (*FPS, error) {
	user := opts.PostCreate
	opts.PostCreate = func(p *FPS) error {
		for _, k := range s.keys {
			m := s.meta[k]
			if err := p.AddParam(k, m.Comment, m.Type, m.Flags); err != nil {
				return err
			}
		}
		if user != nil {
			return user(p)
		}
		return nil
	}
	return Create(dir, name, force, opts)
}

// Open attaches to an FPS and checks it declares every schema parameter with
// the schema type
func (s *Schema) Open(dir shmdir.Dir, name string, opts Options) (*FPS, error) {
	p, err := Open(dir, name, opts)
	if err != nil {
		return nil, err
	}
	types, err := p.Types()
	if err != nil {
		return nil, err
	}
	var problems []string
	for _, k := range s.keys {
		t, ok := types[k]
		switch {
		case !ok:
			problems = append(problems, fmt.Sprintf("%s has no parameter %q", p.Name(), k))
		case t != s.meta[k].Type:
			problems = append(problems, fmt.Sprintf("%s parameter %q is %v, schema says %v", p.Name(), k, t, s.meta[k].Type))
		}
	}
	if len(problems) > 0 {
		p.Disconnect()
		return nil, &SchemaError{Problems: problems}
	}
	return p, nil
}
