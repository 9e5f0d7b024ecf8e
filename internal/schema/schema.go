package schema

import "strings"

// Kind is the expected type of a feature value.
type Kind string

const (
	KindNumeric     Kind = "numeric"
	KindCategorical Kind = "categorical"
	KindBoolean     Kind = "boolean"
)

// Range is a reference interval used for display and alerting only.
type Range struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Field describes one expected feature of a task.
type Field struct {
	Name     string   `json:"name"`
	Label    string   `json:"label"`
	Kind     Kind     `json:"kind"`
	Unit     string   `json:"unit,omitempty"`
	Required bool     `json:"required"`
	Range    *Range   `json:"referenceRange,omitempty"`
	Choices  []string `json:"choices,omitempty"`

	// Identity marks demographic fields collected once and treated as
	// ground truth. They never prompt confirmation and never block submission.
	Identity bool `json:"identity,omitempty"`

	// SkipValidation exempts the field from the presence and numeric checks
	// of the validation gate. Used for the age field, which the review UI
	// hides.
	SkipValidation bool `json:"skipValidation,omitempty"`

	Aliases []string `json:"aliases,omitempty"`
}

// Schema is the ordered feature definition of a task. It is immutable once
// built; accessors hand out copies.
type Schema struct {
	task   Task
	fields []Field
	index  map[string]int
	lookup map[string]int
}

func newSchema(task Task, fields []Field) *Schema {
	s := &Schema{
		task:   task,
		fields: fields,
		index:  make(map[string]int, len(fields)),
		lookup: make(map[string]int, len(fields)*2),
	}
	for i, f := range fields {
		s.index[f.Name] = i
		s.lookup[foldKey(f.Name)] = i
	}
	// Aliases never shadow a canonical name.
	for i, f := range fields {
		for _, a := range f.Aliases {
			if _, taken := s.lookup[foldKey(a)]; !taken {
				s.lookup[foldKey(a)] = i
			}
		}
	}
	return s
}

func (s *Schema) Task() Task { return s.task }

// Len returns the number of declared fields.
func (s *Schema) Len() int { return len(s.fields) }

// Fields returns a copy of the field definitions in declaration order.
func (s *Schema) Fields() []Field {
	out := make([]Field, len(s.fields))
	for i, f := range s.fields {
		out[i] = f.clone()
	}
	return out
}

// Field returns the definition of the canonical field name.
func (s *Schema) Field(name string) (Field, bool) {
	i, ok := s.index[name]
	if !ok {
		return Field{}, false
	}
	return s.fields[i].clone(), true
}

// Has reports whether name is a canonical field of the schema.
func (s *Schema) Has(name string) bool {
	_, ok := s.index[name]
	return ok
}

// Resolve maps an extracted key to its canonical field name. Matching is
// case-insensitive and ignores spaces, dashes and underscores; aliases are
// consulted after canonical names.
func (s *Schema) Resolve(key string) (string, bool) {
	if i, ok := s.index[key]; ok {
		return s.fields[i].Name, true
	}
	i, ok := s.lookup[foldKey(key)]
	if !ok {
		return "", false
	}
	return s.fields[i].Name, true
}

// Keys returns the canonical field names in declaration order.
func (s *Schema) Keys() []string {
	out := make([]string, len(s.fields))
	for i, f := range s.fields {
		out[i] = f.Name
	}
	return out
}

// RequiredKeys returns the names of required fields in declaration order.
func (s *Schema) RequiredKeys() []string {
	var out []string
	for _, f := range s.fields {
		if f.Required {
			out = append(out, f.Name)
		}
	}
	return out
}

// IdentityKeys returns the fields describing who the patient is rather than
// a measurement.
func (s *Schema) IdentityKeys() []string {
	var out []string
	for _, f := range s.fields {
		if f.Identity {
			out = append(out, f.Name)
		}
	}
	return out
}

// Label returns the human-readable label of a field, falling back to the key.
func (s *Schema) Label(name string) string {
	if i, ok := s.index[name]; ok && s.fields[i].Label != "" {
		return s.fields[i].Label
	}
	return name
}

// Position orders keys for display: schema fields first, in declaration
// order, then everything else.
func (s *Schema) Position(name string) int {
	if i, ok := s.index[name]; ok {
		return i
	}
	return len(s.fields)
}

func (f Field) clone() Field {
	if f.Range != nil {
		r := *f.Range
		f.Range = &r
	}
	if f.Choices != nil {
		f.Choices = append([]string(nil), f.Choices...)
	}
	if f.Aliases != nil {
		f.Aliases = append([]string(nil), f.Aliases...)
	}
	return f
}

func foldKey(k string) string {
	k = strings.ToLower(strings.TrimSpace(k))
	return strings.Map(func(r rune) rune {
		switch r {
		case '_', '-', ' ', '.':
			return -1
		}
		return r
	}, k)
}
