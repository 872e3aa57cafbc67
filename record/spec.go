package record

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Field is one entry of a record map: a data key and its value expression.
// String values are expressions (token, documents path, custom handler or
// closure); any other value is copied into the record as a literal.
type Field struct {
	Name  string
	Value any
}

// FieldMap keeps declaration order, which is also resolution order.
type FieldMap []Field

func (m FieldMap) Names() []string {
	out := make([]string, 0, len(m))
	for _, f := range m {
		out = append(out, f.Name)
	}
	return out
}

func (m *FieldMap) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("record map must be a mapping, got %s", node.ShortTag())
	}
	out := make(FieldMap, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		var key string
		if err := node.Content[i].Decode(&key); err != nil {
			return fmt.Errorf("record map key: %w", err)
		}
		var value any
		if err := node.Content[i+1].Decode(&value); err != nil {
			return fmt.Errorf("record map %q: %w", key, err)
		}
		out = append(out, Field{Name: key, Value: value})
	}
	*m = out
	return nil
}

func (m *FieldMap) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("record map must be an object")
	}
	out := FieldMap{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("record map key must be a string")
		}
		var value any
		if err := dec.Decode(&value); err != nil {
			return fmt.Errorf("record map %q: %w", key, err)
		}
		out = append(out, Field{Name: key, Value: value})
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*m = out
	return nil
}

func (m FieldMap) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range m {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(f.Name)
		if err != nil {
			return nil, err
		}
		value, err := json.Marshal(f.Value)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Spec describes a register record. It is either Raw, a closure producing
// the whole record, or a declarative description.
type Spec struct {
	Raw string `json:"-" yaml:"-"`

	RecordID    any      `json:"recordId,omitempty" yaml:"recordId,omitempty"`
	RecordIDs   any      `json:"recordIds,omitempty" yaml:"recordIds,omitempty"`
	RegisterID  any      `json:"registerId,omitempty" yaml:"registerId,omitempty"`
	KeyID       any      `json:"keyId,omitempty" yaml:"keyId,omitempty"`
	AllowTokens any      `json:"allowTokens,omitempty" yaml:"allowTokens,omitempty"`
	Person      any      `json:"person,omitempty" yaml:"person,omitempty"`
	Map         FieldMap `json:"map,omitempty" yaml:"map,omitempty"`
	// SaveTo names a document data path that receives the created record id.
	SaveTo string `json:"saveTo,omitempty" yaml:"saveTo,omitempty"`
}

type specAlias Spec

// IsRaw reports whether the spec is a closure literal.
func (s *Spec) IsRaw() bool {
	return s != nil && strings.TrimSpace(s.Raw) != ""
}

func (s *Spec) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		s.Raw = node.Value
		return nil
	}
	var alias specAlias
	if err := node.Decode(&alias); err != nil {
		return err
	}
	*s = Spec(alias)
	return nil
}

func (s *Spec) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		return json.Unmarshal(trimmed, &s.Raw)
	}
	var alias specAlias
	if err := json.Unmarshal(trimmed, &alias); err != nil {
		return err
	}
	*s = Spec(alias)
	return nil
}

func (s Spec) MarshalJSON() ([]byte, error) {
	if s.IsRaw() {
		return json.Marshal(s.Raw)
	}
	return json.Marshal(specAlias(s))
}

// Record is the resolved, persistable output of a Spec.
type Record struct {
	RecordID    any            `json:"recordId,omitempty"`
	RecordIDs   any            `json:"recordIds,omitempty"`
	RegisterID  any            `json:"registerId,omitempty"`
	KeyID       any            `json:"keyId,omitempty"`
	AllowTokens any            `json:"allowTokens,omitempty"`
	Person      any            `json:"person,omitempty"`
	Data        map[string]any `json:"data"`
}

// fromValue builds a record out of a closure result.
func fromValue(v any) (*Record, bool) {
	m, ok := v.(map[string]any)
	if !ok {
		return nil, false
	}
	rec := &Record{
		RecordID:    m["recordId"],
		RecordIDs:   m["recordIds"],
		RegisterID:  m["registerId"],
		KeyID:       m["keyId"],
		AllowTokens: m["allowTokens"],
		Person:      m["person"],
		Data:        map[string]any{},
	}
	if data, ok := m["data"].(map[string]any); ok {
		rec.Data = data
	}
	return rec, true
}
