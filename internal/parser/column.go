package parser

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ColumnRef points at a source column by header name (case-insensitive) or
// zero-based index. In JSON and YAML it is written as a bare number, a bare
// string, or an object with name or index.
type ColumnRef struct {
	Name  string
	Index int
	// ByIndex distinguishes index 0 from an unset reference.
	ByIndex bool
}

// Named references a column by header name.
func Named(name string) ColumnRef {
	return ColumnRef{Name: name}
}

// Indexed references a column by position.
func Indexed(i int) ColumnRef {
	return ColumnRef{Index: i, ByIndex: true}
}

// IsZero reports an unset reference.
func (c ColumnRef) IsZero() bool {
	return !c.ByIndex && strings.TrimSpace(c.Name) == ""
}

func (c ColumnRef) String() string {
	if c.ByIndex {
		return fmt.Sprintf("#%d", c.Index)
	}
	return strconv.Quote(c.Name)
}

type columnRefObject struct {
	Name  string `json:"name,omitempty" yaml:"name,omitempty"`
	Index *int   `json:"index,omitempty" yaml:"index,omitempty"`
}

func (o columnRefObject) ref() (ColumnRef, error) {
	switch {
	case o.Index != nil && o.Name != "":
		return ColumnRef{}, fmt.Errorf("column reference cannot set both name and index")
	case o.Index != nil:
		return Indexed(*o.Index), nil
	default:
		return Named(o.Name), nil
	}
}

// MarshalJSON writes an index as a number and a name as a string.
func (c ColumnRef) MarshalJSON() ([]byte, error) {
	switch {
	case c.ByIndex:
		return json.Marshal(c.Index)
	case c.IsZero():
		return []byte("null"), nil
	default:
		return json.Marshal(c.Name)
	}
}

// UnmarshalJSON accepts 0, "Date", {"index":0} or {"name":"Date"}.
func (c *ColumnRef) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0 || string(data) == "null":
		*c = ColumnRef{}
		return nil
	case data[0] == '"':
		var name string
		if err := json.Unmarshal(data, &name); err != nil {
			return err
		}
		*c = Named(name)
		return nil
	case data[0] == '{':
		var obj columnRefObject
		if err := json.Unmarshal(data, &obj); err != nil {
			return err
		}
		ref, err := obj.ref()
		if err != nil {
			return err
		}
		*c = ref
		return nil
	default:
		var idx int
		if err := json.Unmarshal(data, &idx); err != nil {
			return fmt.Errorf("column reference must be a name or an index: %w", err)
		}
		*c = Indexed(idx)
		return nil
	}
}

// MarshalYAML mirrors MarshalJSON.
func (c ColumnRef) MarshalYAML() (interface{}, error) {
	if c.ByIndex {
		return c.Index, nil
	}
	if c.IsZero() {
		return nil, nil
	}
	return c.Name, nil
}

// UnmarshalYAML mirrors UnmarshalJSON. Unquoted integers are indexes.
func (c *ColumnRef) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		tag := node.ShortTag()
		if tag == "!!null" {
			*c = ColumnRef{}
			return nil
		}
		if tag == "!!int" {
			idx, err := strconv.Atoi(node.Value)
			if err != nil {
				return fmt.Errorf("line %d: invalid column index %q", node.Line, node.Value)
			}
			*c = Indexed(idx)
			return nil
		}
		*c = Named(node.Value)
		return nil
	case yaml.MappingNode:
		var obj columnRefObject
		if err := node.Decode(&obj); err != nil {
			return err
		}
		ref, err := obj.ref()
		if err != nil {
			return fmt.Errorf("line %d: %w", node.Line, err)
		}
		*c = ref
		return nil
	default:
		return fmt.Errorf("line %d: column reference must be a name or an index", node.Line)
	}
}

// ColumnMapping declares which source column supplies each field.
type ColumnMapping struct {
	Date        ColumnRef `json:"date" yaml:"date"`
	Amount      ColumnRef `json:"amount" yaml:"amount"`
	Description ColumnRef `json:"description" yaml:"description"`
	Merchant    ColumnRef `json:"merchant,omitzero" yaml:"merchant,omitempty"`
	ReferenceID ColumnRef `json:"referenceId,omitzero" yaml:"referenceId,omitempty"`
	CardMember  ColumnRef `json:"cardMember,omitzero" yaml:"cardMember,omitempty"`
	SignColumn  ColumnRef `json:"signColumn,omitzero" yaml:"signColumn,omitempty"`
}

// HeaderNames returns the header names the mapping refers to.
func (m ColumnMapping) HeaderNames() []string {
	var names []string
	for _, ref := range m.refs() {
		if !ref.ByIndex && !ref.IsZero() {
			names = append(names, ref.Name)
		}
	}
	return names
}

func (m ColumnMapping) refs() []ColumnRef {
	return []ColumnRef{m.Date, m.Amount, m.Description, m.Merchant, m.ReferenceID, m.CardMember, m.SignColumn}
}
