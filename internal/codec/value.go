package codec

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/ggonzalez94/stratsync/internal/registry"
)

// Kind discriminates the payload carried by a Value.
type Kind uint8

const (
	KindEmpty Kind = iota
	KindString
	KindBool
	KindList
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindBool:
		return "bool"
	case KindList:
		return "list"
	default:
		return "empty"
	}
}

// Value is a user-entered parameter value. The zero Value is empty.
type Value struct {
	kind  Kind
	text  string
	flag  bool
	items []string
}

// Inputs holds pending parameter values by parameter name.
type Inputs map[string]Value

func String(s string) Value {
	if s == "" {
		return Value{}
	}
	return Value{kind: KindString, text: s}
}

func Bool(b bool) Value {
	return Value{kind: KindBool, flag: b}
}

func List(items ...string) Value {
	cp := make([]string, len(items))
	copy(cp, items)
	return Value{kind: KindList, items: cp}
}

func (v Value) Kind() Kind { return v.kind }

// IsEmpty reports whether v carries no user input. Booleans and lists are
// never empty, including false and the empty list.
func (v Value) IsEmpty() bool {
	return v.kind == KindEmpty || (v.kind == KindString && strings.TrimSpace(v.text) == "")
}

// Text is the string form of v as a form control would hold it.
func (v Value) Text() string {
	switch v.kind {
	case KindString:
		return v.text
	case KindBool:
		return strconv.FormatBool(v.flag)
	case KindList:
		buf, _ := json.Marshal(v.items)
		return string(buf)
	default:
		return ""
	}
}

// Items returns the list payload, or nil when v is not a list.
func (v Value) Items() []string {
	if v.kind != KindList {
		return nil
	}
	out := make([]string, len(v.items))
	copy(out, v.items)
	return out
}

func (v Value) Equal(o Value) bool {
	if v.IsEmpty() && o.IsEmpty() {
		return true
	}
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindString:
		return v.text == o.text
	case KindBool:
		return v.flag == o.flag
	case KindList:
		if len(v.items) != len(o.items) {
			return false
		}
		for i := range v.items {
			if v.items[i] != o.items[i] {
				return false
			}
		}
		return true
	}
	return true
}

func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindString:
		return json.Marshal(v.text)
	case KindBool:
		return json.Marshal(v.flag)
	case KindList:
		if v.items == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(v.items)
	default:
		return []byte("null"), nil
	}
}

func (v *Value) UnmarshalJSON(buf []byte) error {
	dec := json.NewDecoder(bytes.NewReader(buf))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	switch t := raw.(type) {
	case nil:
		*v = Value{}
	case string:
		*v = String(t)
	case bool:
		*v = Bool(t)
	case json.Number:
		*v = String(t.String())
	case []any:
		items, err := stringifyItems(t)
		if err != nil {
			return err
		}
		*v = List(items...)
	default:
		return fmt.Errorf("unsupported parameter value %s", string(buf))
	}
	return nil
}

// ParseValue builds a Value for a parameter of type t from raw text. Array
// types become lists when raw is a JSON array or comma-separated; other raw
// text is kept as a string so validation can report it.
func ParseValue(t registry.ParamType, raw string) Value {
	if raw == "" {
		return Value{}
	}
	switch {
	case t == registry.ParamBool:
		if b, err := strconv.ParseBool(strings.TrimSpace(raw)); err == nil {
			return Bool(b)
		}
		return String(raw)
	case t.IsArray():
		if items, ok := parseJSONList(raw); ok {
			return List(items...)
		}
		if strings.Contains(raw, ",") {
			return List(splitList(raw)...)
		}
		return String(raw)
	default:
		return String(raw)
	}
}

// listItems resolves an array value the way encoding does: lists as-is,
// strings parsed as JSON first and comma-split otherwise.
func listItems(v Value) []string {
	switch v.kind {
	case KindList:
		return v.Items()
	case KindString:
		if items, ok := parseJSONList(v.text); ok {
			return items
		}
		return splitList(v.text)
	default:
		return nil
	}
}

func parseJSONList(raw string) ([]string, bool) {
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	var arr []any
	if err := dec.Decode(&arr); err != nil {
		return nil, false
	}
	items, err := stringifyItems(arr)
	if err != nil {
		return nil, false
	}
	return items, true
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		out = append(out, strings.TrimSpace(p))
	}
	return out
}

func stringifyItems(arr []any) ([]string, error) {
	out := make([]string, 0, len(arr))
	for _, item := range arr {
		switch t := item.(type) {
		case string:
			out = append(out, t)
		case json.Number:
			out = append(out, t.String())
		case bool:
			out = append(out, strconv.FormatBool(t))
		default:
			return nil, fmt.Errorf("unsupported list element %v", item)
		}
	}
	return out, nil
}
