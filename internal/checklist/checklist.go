package checklist

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Value is a ternary checklist answer.
type Value int8

const (
	Unset Value = iota
	False
	True
)

// FromPtr converts a nullable bool into a Value.
func FromPtr(b *bool) Value {
	if b == nil {
		return Unset
	}
	if *b {
		return True
	}
	return False
}

// Ptr returns the nullable bool form used for storage and JSON.
func (v Value) Ptr() *bool {
	switch v {
	case True:
		t := true
		return &t
	case False:
		f := false
		return &f
	default:
		return nil
	}
}

func (v Value) String() string {
	switch v {
	case True:
		return "true"
	case False:
		return "false"
	default:
		return "unset"
	}
}

// MarshalJSON encodes Unset as null.
func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Ptr())
}

// UnmarshalJSON accepts true, false or null.
func (v *Value) UnmarshalJSON(data []byte) error {
	var b *bool
	if err := json.Unmarshal(data, &b); err != nil {
		return fmt.Errorf("checklist value must be true, false or null: %w", err)
	}
	*v = FromPtr(b)
	return nil
}

// Answers holds one value per checklist item.
type Answers struct {
	Q1_1, Q1_2, Q1_3         Value
	Q2_1, Q2_2, Q2_3         Value
	Q3_1, Q3_2               Value
	Q4_1, Q4_2, Q4_3, Q4_4   Value
	Q5_1, Q5_2, Q5_3         Value
	Q6_1, Q6_2, Q6_3         Value
	Q7_1, Q7_2, Q7_3         Value
	Q8_1, Q8_2, Q8_3         Value
	Q9_1, Q9_2               Value
	Q10_1, Q10_2             Value
	Q11_1, Q11_2, Q11_3      Value
	Q12_1                    Value
	Q13_1                    Value
	Q14_1                    Value
}

// fields lists every item in rubric order. It is the single source of the field set.
func (a *Answers) fields() []field {
	return []field{
		{"q1_1", &a.Q1_1}, {"q1_2", &a.Q1_2}, {"q1_3", &a.Q1_3},
		{"q2_1", &a.Q2_1}, {"q2_2", &a.Q2_2}, {"q2_3", &a.Q2_3},
		{"q3_1", &a.Q3_1}, {"q3_2", &a.Q3_2},
		{"q4_1", &a.Q4_1}, {"q4_2", &a.Q4_2}, {"q4_3", &a.Q4_3}, {"q4_4", &a.Q4_4},
		{"q5_1", &a.Q5_1}, {"q5_2", &a.Q5_2}, {"q5_3", &a.Q5_3},
		{"q6_1", &a.Q6_1}, {"q6_2", &a.Q6_2}, {"q6_3", &a.Q6_3},
		{"q7_1", &a.Q7_1}, {"q7_2", &a.Q7_2}, {"q7_3", &a.Q7_3},
		{"q8_1", &a.Q8_1}, {"q8_2", &a.Q8_2}, {"q8_3", &a.Q8_3},
		{"q9_1", &a.Q9_1}, {"q9_2", &a.Q9_2},
		{"q10_1", &a.Q10_1}, {"q10_2", &a.Q10_2},
		{"q11_1", &a.Q11_1}, {"q11_2", &a.Q11_2}, {"q11_3", &a.Q11_3},
		{"q12_1", &a.Q12_1},
		{"q13_1", &a.Q13_1},
		{"q14_1", &a.Q14_1},
	}
}

type field struct {
	name string
	ptr  *Value
}

var fieldNames = func() []string {
	var a Answers
	fs := a.fields()
	names := make([]string, len(fs))
	for i, f := range fs {
		names[i] = f.name
	}
	return names
}()

var fieldIndex = func() map[string]int {
	idx := make(map[string]int, len(fieldNames))
	for i, name := range fieldNames {
		idx[name] = i
	}
	return idx
}()

// MaxScore is the fixed maximum score: one point per checklist item.
var MaxScore = len(fieldNames)

// FieldNames returns the checklist item names in rubric order.
func FieldNames() []string {
	return append([]string(nil), fieldNames...)
}

// IsField reports whether name is a known checklist item.
func IsField(name string) bool {
	_, ok := fieldIndex[name]
	return ok
}

// UnknownFieldError reports names outside the fixed enumeration.
type UnknownFieldError struct {
	Names []string
}

func (e UnknownFieldError) Error() string {
	return "unknown checklist fields: " + strings.Join(e.Names, ", ")
}

// Get returns the value of a named item.
func (a *Answers) Get(name string) (Value, bool) {
	i, ok := fieldIndex[name]
	if !ok {
		return Unset, false
	}
	return *a.fields()[i].ptr, true
}

// Apply sets every named value. Unknown names are rejected before anything is changed.
func (a *Answers) Apply(values map[string]Value) error {
	var unknown []string
	for name := range values {
		if !IsField(name) {
			unknown = append(unknown, name)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return UnknownFieldError{Names: unknown}
	}
	fs := a.fields()
	for name, v := range values {
		*fs[fieldIndex[name]].ptr = v
	}
	return nil
}

// Map returns every item keyed by name.
func (a *Answers) Map() map[string]Value {
	fs := a.fields()
	out := make(map[string]Value, len(fs))
	for _, f := range fs {
		out[f.name] = *f.ptr
	}
	return out
}

// Values returns the items in rubric order.
func (a *Answers) Values() []Value {
	fs := a.fields()
	out := make([]Value, len(fs))
	for i, f := range fs {
		out[i] = *f.ptr
	}
	return out
}

// SetValues assigns items in rubric order; len(values) must equal MaxScore.
func (a *Answers) SetValues(values []Value) error {
	fs := a.fields()
	if len(values) != len(fs) {
		return fmt.Errorf("checklist expects %d values, got %d", len(fs), len(values))
	}
	for i, f := range fs {
		*f.ptr = values[i]
	}
	return nil
}

// Score counts items evaluated true.
func (a *Answers) Score() int {
	score := 0
	for _, v := range a.Values() {
		if v == True {
			score++
		}
	}
	return score
}

// MarshalJSON encodes the answers as an object keyed by item name.
func (a Answers) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.Map())
}
