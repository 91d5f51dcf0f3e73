// Package schema defines the profile fields collected during voice
// onboarding. The registry is loaded once at startup and is read-only
// afterwards, so it is safe to share across concurrent callers.
package schema

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrFieldNotFound is returned when a field name is not in the registry.
// Hitting it at runtime indicates a configuration or programming error.
var ErrFieldNotFound = errors.New("field not found in schema registry")

// ValueType describes how a field's value is typed and coerced.
type ValueType string

const (
	// TypeText is free-form text.
	TypeText ValueType = "text"
	// TypeNumber is an integer quantity (e.g. years of experience).
	TypeNumber ValueType = "number"
	// TypeEnumSingle is a single selection from a known vocabulary.
	TypeEnumSingle ValueType = "enum_single"
	// TypeEnumMulti is a list of selections (e.g. spoken languages).
	TypeEnumMulti ValueType = "enum_multi"
	// TypeYear is a four-digit calendar year.
	TypeYear ValueType = "year"
)

// Validation holds optional per-field constraints.
type Validation struct {
	// Pattern is a regular expression the string form must match.
	Pattern string `yaml:"pattern,omitempty"`
	// Min and Max bound numeric values (inclusive).
	Min *int `yaml:"min,omitempty"`
	Max *int `yaml:"max,omitempty"`
	// MaxSelections caps list length for enum_multi fields (0 = no cap).
	MaxSelections int `yaml:"max_selections,omitempty"`

	compiled *regexp.Regexp
}

// FieldDefinition is the static descriptor of one profile field.
// Definitions are immutable after the registry is built.
type FieldDefinition struct {
	Name        string      `yaml:"name"`
	DisplayName string      `yaml:"display_name"`
	Type        ValueType   `yaml:"type"`
	Required    bool        `yaml:"required"`
	Validation  *Validation `yaml:"validation,omitempty"`
	// Order defines the default question sequence (ascending).
	Order int `yaml:"order"`
}

// Registry is the ordered, immutable set of field definitions.
type Registry struct {
	fields []FieldDefinition
	byName map[string]int
}

// NewRegistry builds a registry from definitions, validating name
// uniqueness and compiling validation patterns. Fields are ordered by
// their collection order.
func NewRegistry(fields []FieldDefinition) (*Registry, error) {
	if len(fields) == 0 {
		return nil, errors.New("schema registry requires at least one field")
	}

	sorted := make([]FieldDefinition, len(fields))
	copy(sorted, fields)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Order < sorted[j].Order
	})

	byName := make(map[string]int, len(sorted))
	for i := range sorted {
		f := &sorted[i]
		if f.Name == "" {
			return nil, fmt.Errorf("field at order %d has no name", f.Order)
		}
		if _, dup := byName[f.Name]; dup {
			return nil, fmt.Errorf("duplicate field name %q", f.Name)
		}
		if f.Type == "" {
			f.Type = TypeText
		}
		switch f.Type {
		case TypeText, TypeNumber, TypeEnumSingle, TypeEnumMulti, TypeYear:
		default:
			return nil, fmt.Errorf("field %q has unknown type %q", f.Name, f.Type)
		}
		if f.DisplayName == "" {
			f.DisplayName = displayName(f.Name)
		}
		if f.Validation != nil && f.Validation.Pattern != "" {
			re, err := regexp.Compile(f.Validation.Pattern)
			if err != nil {
				return nil, fmt.Errorf("field %q pattern: %w", f.Name, err)
			}
			f.Validation.compiled = re
		}
		byName[f.Name] = i
	}

	return &Registry{fields: sorted, byName: byName}, nil
}

// LoadRegistry reads field definitions from a YAML file.
func LoadRegistry(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schema file: %w", err)
	}

	var doc struct {
		Fields []FieldDefinition `yaml:"fields"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse schema file: %w", err)
	}

	return NewRegistry(doc.Fields)
}

// DefaultRegistry returns the built-in doctor registration schema.
func DefaultRegistry() *Registry {
	reg, err := NewRegistry([]FieldDefinition{
		{Name: "full_name", DisplayName: "Full Name", Type: TypeText, Required: true, Order: 1,
			Validation: &Validation{Pattern: `\S{2,}`}},
		{Name: "primary_specialization", DisplayName: "Specialization", Type: TypeEnumSingle, Required: true, Order: 2,
			Validation: &Validation{Pattern: `\S{3,}`}},
		{Name: "years_of_experience", DisplayName: "Years of Experience", Type: TypeNumber, Required: true, Order: 3,
			Validation: &Validation{Min: intPtr(0), Max: intPtr(70)}},
		{Name: "medical_registration_number", DisplayName: "Registration Number", Type: TypeText, Required: true, Order: 4,
			Validation: &Validation{Pattern: `\S{4,}`}},
		{Name: "email", DisplayName: "Email Address", Type: TypeText, Required: true, Order: 5,
			Validation: &Validation{Pattern: `^[^@\s]+@[^@\s]+\.[^@\s]+$`}},
		{Name: "phone_number", DisplayName: "Phone Number", Type: TypeText, Required: true, Order: 6,
			Validation: &Validation{Pattern: `^\+?[\d\s\-()]{10,}$`}},
		{Name: "languages", DisplayName: "Languages", Type: TypeEnumMulti, Required: false, Order: 7,
			Validation: &Validation{MaxSelections: 10}},
	})
	if err != nil {
		// The built-in schema is validated by tests; a failure here is a bug.
		panic(err)
	}
	return reg
}

// Fields returns the definitions in collection order.
func (r *Registry) Fields() []FieldDefinition {
	out := make([]FieldDefinition, len(r.fields))
	copy(out, r.fields)
	return out
}

// Get returns the definition for name, or ErrFieldNotFound.
func (r *Registry) Get(name string) (FieldDefinition, error) {
	i, ok := r.byName[name]
	if !ok {
		return FieldDefinition{}, fmt.Errorf("%w: %q", ErrFieldNotFound, name)
	}
	return r.fields[i], nil
}

// Has reports whether name is a known field.
func (r *Registry) Has(name string) bool {
	_, ok := r.byName[name]
	return ok
}

// Required returns the required definitions in collection order.
func (r *Registry) Required() []FieldDefinition {
	var out []FieldDefinition
	for _, f := range r.fields {
		if f.Required {
			out = append(out, f)
		}
	}
	return out
}

// RequiredCount returns the number of required fields.
func (r *Registry) RequiredCount() int {
	n := 0
	for _, f := range r.fields {
		if f.Required {
			n++
		}
	}
	return n
}

func displayName(name string) string {
	parts := strings.Split(name, "_")
	for i, p := range parts {
		if p == "" {
			continue
		}
		parts[i] = strings.ToUpper(p[:1]) + p[1:]
	}
	return strings.Join(parts, " ")
}

func intPtr(v int) *int { return &v }

var digitsRe = regexp.MustCompile(`\d+`)

// Coerce normalizes an untrusted extracted value into the field's typed
// form, applying validation constraints. It returns an error when the
// value cannot be represented as the field's type; callers are expected
// to discard such proposals rather than fail the turn.
func (f FieldDefinition) Coerce(value any) (any, error) {
	if value == nil {
		return nil, fmt.Errorf("field %q: nil value", f.Name)
	}

	switch f.Type {
	case TypeText, TypeEnumSingle:
		s := strings.TrimSpace(stringify(value))
		if s == "" {
			return nil, fmt.Errorf("field %q: empty string", f.Name)
		}
		if f.Name == "email" {
			s = strings.ToLower(s)
		}
		if err := f.checkPattern(s); err != nil {
			return nil, err
		}
		return s, nil

	case TypeNumber, TypeYear:
		n, err := toInt(value)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", f.Name, err)
		}
		if f.Type == TypeYear && (n < 1900 || n > 2200) {
			return nil, fmt.Errorf("field %q: %d is not a plausible year", f.Name, n)
		}
		if v := f.Validation; v != nil {
			if v.Min != nil && n < *v.Min {
				return nil, fmt.Errorf("field %q: %d below minimum %d", f.Name, n, *v.Min)
			}
			if v.Max != nil && n > *v.Max {
				return nil, fmt.Errorf("field %q: %d above maximum %d", f.Name, n, *v.Max)
			}
		}
		return n, nil

	case TypeEnumMulti:
		items, err := toStringList(value)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", f.Name, err)
		}
		if len(items) == 0 {
			return nil, fmt.Errorf("field %q: empty list", f.Name)
		}
		if v := f.Validation; v != nil && v.MaxSelections > 0 && len(items) > v.MaxSelections {
			items = items[:v.MaxSelections]
		}
		return items, nil
	}

	return nil, fmt.Errorf("field %q: unhandled type %q", f.Name, f.Type)
}

// Empty reports whether a coerced value counts as not-collected. An
// empty list does not satisfy a multi-select field even if stored.
func (f FieldDefinition) Empty(value any) bool {
	switch v := value.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(v) == ""
	case []string:
		return len(v) == 0
	case []any:
		return len(v) == 0
	default:
		return false
	}
}

func (f FieldDefinition) checkPattern(s string) error {
	if f.Validation == nil || f.Validation.compiled == nil {
		return nil
	}
	if !f.Validation.compiled.MatchString(s) {
		return fmt.Errorf("field %q: %q does not match pattern", f.Name, s)
	}
	return nil
}

func stringify(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	default:
		return fmt.Sprintf("%v", v)
	}
}

// toInt accepts JSON numbers and digit-bearing strings ("15 years" -> 15).
func toInt(value any) (int, error) {
	switch v := value.(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		return int(v), nil
	case string:
		m := digitsRe.FindString(v)
		if m == "" {
			return 0, fmt.Errorf("no digits in %q", v)
		}
		return strconv.Atoi(m)
	default:
		return 0, fmt.Errorf("cannot convert %T to number", value)
	}
}

// toStringList accepts lists and comma-separated strings.
func toStringList(value any) ([]string, error) {
	appendTrimmed := func(dst []string, s string) []string {
		s = strings.TrimSpace(s)
		if s != "" {
			dst = append(dst, s)
		}
		return dst
	}

	switch v := value.(type) {
	case []string:
		var out []string
		for _, s := range v {
			out = appendTrimmed(out, s)
		}
		return out, nil
	case []any:
		var out []string
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("list item %T is not a string", item)
			}
			out = appendTrimmed(out, s)
		}
		return out, nil
	case string:
		var out []string
		for _, s := range strings.Split(v, ",") {
			out = appendTrimmed(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("cannot convert %T to string list", value)
	}
}
