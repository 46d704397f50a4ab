package models

// Value holds a field that may be declared either as a single string or as a
// list of strings.
type Value struct {
	Set     bool
	List    bool
	Items   []string
	Literal string
}

// StringValue returns a Value declared as a single string.
func StringValue(s string) Value {
	return Value{Set: true, Literal: s}
}

// ListValue returns a Value declared as a list of strings.
func ListValue(items ...string) Value {
	return Value{Set: true, List: true, Items: items}
}

// Empty reports whether the value is absent, an empty string or an empty list.
func (v Value) Empty() bool {
	if !v.Set {
		return true
	}
	if v.List {
		return len(v.Items) == 0
	}
	return v.Literal == ""
}

// JobSpec is one declared job.
// Commands is required to run the job, but a job without commands is still a
// legal declaration.
type JobSpec struct {
	Name         string
	Dependencies Value
	Commands     Value
}

// JobSuite is the ordered set of jobs declared by one config file.
type JobSuite struct {
	Jobs []JobSpec // declaration order

	// HasRun is set when the config declares a `run` table.
	HasRun bool
	// HasSuite is set when `run.suite` is declared.
	HasSuite bool
	Suite    []string
}

// Names returns every job name in declaration order.
func (s *JobSuite) Names() []string {
	names := make([]string, len(s.Jobs))
	for i, j := range s.Jobs {
		names[i] = j.Name
	}
	return names
}

// Lookup returns the job declared under name.
func (s *JobSuite) Lookup(name string) (JobSpec, bool) {
	for _, j := range s.Jobs {
		if j.Name == name {
			return j, true
		}
	}
	return JobSpec{}, false
}

// Has reports whether name is a declared job.
func (s *JobSuite) Has(name string) bool {
	_, ok := s.Lookup(name)
	return ok
}

// Mapping is the generic, order-preserving key/value tree produced by the
// config loaders. Nested tables are *Mapping, sequences are []any.
type Mapping struct {
	Keys   []string
	Values map[string]any
}

// NewMapping returns an empty mapping.
func NewMapping() *Mapping {
	return &Mapping{Values: make(map[string]any)}
}

// Set stores value under key, keeping the first insertion position.
func (m *Mapping) Set(key string, value any) {
	if _, ok := m.Values[key]; !ok {
		m.Keys = append(m.Keys, key)
	}
	m.Values[key] = value
}

// Get returns the value stored under key.
func (m *Mapping) Get(key string) (any, bool) {
	v, ok := m.Values[key]
	return v, ok
}

// Len returns the number of keys.
func (m *Mapping) Len() int {
	if m == nil {
		return 0
	}
	return len(m.Keys)
}
