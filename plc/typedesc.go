// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package plc

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
)

// Kind is the closed set of value shapes the codec understands.
type Kind uint8

const (
	KindInvalid Kind = iota
	KindInt1
	KindInt2
	KindInt4
	KindInt8
	KindFloat4
	KindFloat8
	KindText
	KindArray
	KindRecord
)

var kindNames = [...]string{
	KindInvalid: "invalid",
	KindInt1:    "int1",
	KindInt2:    "int2",
	KindInt4:    "int4",
	KindInt8:    "int8",
	KindFloat4:  "float4",
	KindFloat8:  "float8",
	KindText:    "text",
	KindArray:   "array",
	KindRecord:  "record",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// IsScalar reports whether k is one of the scalar kinds.
func (k Kind) IsScalar() bool {
	return k >= KindInt1 && k <= KindText
}

// Width is the fixed wire width of a scalar kind in bytes. Text is variable
// length and reports 0, as do the composite kinds.
func (k Kind) Width() int {
	switch k {
	case KindInt1:
		return 1
	case KindInt2:
		return 2
	case KindInt4, KindFloat4:
		return 4
	case KindInt8, KindFloat8:
		return 8
	default:
		return 0
	}
}

func kindFromName(name string) Kind {
	for k, n := range kindNames {
		if n == name {
			return Kind(k)
		}
	}
	return KindInvalid
}

// TypeDesc describes the shape of one argument or result column. It is built
// once per function and never mutated afterwards.
type TypeDesc struct {
	kind     Kind
	name     string
	children []*TypeDesc
}

// Scalar returns the descriptor of a scalar kind.
func Scalar(kind Kind) *TypeDesc {
	if !kind.IsScalar() {
		panic(fmt.Sprintf("plc: Scalar called with non-scalar kind %s", kind))
	}
	return &TypeDesc{kind: kind}
}

// ArrayOf returns the descriptor of an array whose elements are of the given
// scalar type. The number of dimensions is a property of each value, not of
// the type.
func ArrayOf(elem *TypeDesc) *TypeDesc {
	if elem == nil || !elem.kind.IsScalar() {
		panic("plc: ArrayOf requires a scalar element type")
	}
	return &TypeDesc{kind: KindArray, children: []*TypeDesc{elem}}
}

// Field names one member of a record type.
type Field struct {
	Name string
	Type *TypeDesc
}

// RecordOf returns the descriptor of a record with the given named members.
func RecordOf(fields ...Field) *TypeDesc {
	if len(fields) == 0 {
		panic("plc: RecordOf requires at least one field")
	}
	td := &TypeDesc{kind: KindRecord, children: make([]*TypeDesc, len(fields))}
	for i, f := range fields {
		child := *f.Type
		child.name = f.Name
		td.children[i] = &child
	}
	return td
}

// Kind returns the descriptor's kind.
func (t *TypeDesc) Kind() Kind { return t.kind }

// Name returns the member name for record children, empty otherwise.
func (t *TypeDesc) Name() string { return t.name }

// NumChildren returns the number of child descriptors.
func (t *TypeDesc) NumChildren() int { return len(t.children) }

// Child returns the i-th child descriptor.
func (t *TypeDesc) Child(i int) *TypeDesc { return t.children[i] }

// Elem returns the element type of an array descriptor.
func (t *TypeDesc) Elem() *TypeDesc {
	if t.kind != KindArray {
		return nil
	}
	return t.children[0]
}

func (t *TypeDesc) String() string {
	switch t.kind {
	case KindArray:
		return t.children[0].String() + "[]"
	case KindRecord:
		parts := make([]string, len(t.children))
		for i, c := range t.children {
			parts[i] = c.name + " " + c.String()
		}
		return "record(" + strings.Join(parts, ", ") + ")"
	default:
		return t.kind.String()
	}
}

// Equal reports whether two descriptors describe the same shape.
func (t *TypeDesc) Equal(o *TypeDesc) bool {
	if t == nil || o == nil {
		return t == o
	}
	if t.kind != o.kind || t.name != o.name || len(t.children) != len(o.children) {
		return false
	}
	for i := range t.children {
		if !t.children[i].Equal(o.children[i]) {
			return false
		}
	}
	return true
}

// typeNames maps catalog type names onto scalar kinds.
var typeNames = map[string]Kind{
	`"char"`:            KindInt1,
	"int1":              KindInt1,
	"tinyint":           KindInt1,
	"int2":              KindInt2,
	"smallint":          KindInt2,
	"int4":              KindInt4,
	"int":               KindInt4,
	"integer":           KindInt4,
	"int8":              KindInt8,
	"bigint":            KindInt8,
	"float4":            KindFloat4,
	"real":              KindFloat4,
	"float8":            KindFloat8,
	"float":             KindFloat8,
	"double precision":  KindFloat8,
	"text":              KindText,
	"varchar":           KindText,
	"character varying": KindText,
	"char":              KindText,
	"bpchar":            KindText,
	"name":              KindText,
}

// ParseType builds a descriptor from a catalog type name such as "int4",
// "double precision" or "text[][]". Any number of trailing "[]" makes an
// array type.
func ParseType(name string) (*TypeDesc, error) {
	s := strings.ToLower(strings.TrimSpace(name))
	isArray := false
	for strings.HasSuffix(s, "[]") {
		isArray = true
		s = strings.TrimSpace(strings.TrimSuffix(s, "[]"))
	}
	if strings.HasPrefix(s, "_") {
		// catalog array names, e.g. _int4
		isArray = true
		s = s[1:]
	}
	kind, ok := typeNames[s]
	if !ok {
		return nil, fmt.Errorf("unsupported type %q: %w", name, ErrUnsupportedType)
	}
	td := Scalar(kind)
	if isArray {
		td = ArrayOf(td)
	}
	return td, nil
}

// ArrowType returns the Arrow data type a column of this descriptor uses on
// the wire. Arrays are a struct of the dimension vector and the flat,
// nullable element list.
func (t *TypeDesc) ArrowType() arrow.DataType {
	switch t.kind {
	case KindInt1:
		return arrow.PrimitiveTypes.Int8
	case KindInt2:
		return arrow.PrimitiveTypes.Int16
	case KindInt4:
		return arrow.PrimitiveTypes.Int32
	case KindInt8:
		return arrow.PrimitiveTypes.Int64
	case KindFloat4:
		return arrow.PrimitiveTypes.Float32
	case KindFloat8:
		return arrow.PrimitiveTypes.Float64
	case KindText:
		return arrow.BinaryTypes.String
	case KindArray:
		return arrow.StructOf(
			arrow.Field{Name: "dims", Type: arrow.ListOf(arrow.PrimitiveTypes.Int32)},
			arrow.Field{Name: "values", Type: arrow.ListOf(t.children[0].ArrowType())},
		)
	case KindRecord:
		fields := make([]arrow.Field, len(t.children))
		for i, c := range t.children {
			fields[i] = arrow.Field{Name: c.name, Type: c.ArrowType(), Nullable: true}
		}
		return arrow.StructOf(fields...)
	default:
		panic(fmt.Sprintf("plc: no arrow type for kind %s", t.kind))
	}
}

// typeJSON is the serialized form of a TypeDesc carried in message metadata.
type typeJSON struct {
	Kind     string      `json:"kind"`
	Name     string      `json:"name,omitempty"`
	Children []*typeJSON `json:"children,omitempty"`
}

func (t *TypeDesc) toJSON() *typeJSON {
	j := &typeJSON{Kind: t.kind.String(), Name: t.name}
	for _, c := range t.children {
		j.Children = append(j.Children, c.toJSON())
	}
	return j
}

func typeFromJSON(j *typeJSON) (*TypeDesc, error) {
	if j == nil {
		return nil, fmt.Errorf("missing type: %w", ErrUnsupportedType)
	}
	kind := kindFromName(j.Kind)
	td := &TypeDesc{kind: kind, name: j.Name}
	switch {
	case kind.IsScalar():
		if len(j.Children) != 0 {
			return nil, fmt.Errorf("scalar type %s with children", kind)
		}
	case kind == KindArray:
		if len(j.Children) != 1 {
			return nil, fmt.Errorf("array type needs exactly one element type, got %d", len(j.Children))
		}
	case kind == KindRecord:
		if len(j.Children) == 0 {
			return nil, fmt.Errorf("record type without fields")
		}
	default:
		return nil, fmt.Errorf("unknown kind %q: %w", j.Kind, ErrUnsupportedType)
	}
	for _, cj := range j.Children {
		c, err := typeFromJSON(cj)
		if err != nil {
			return nil, err
		}
		td.children = append(td.children, c)
	}
	if kind == KindArray && !td.children[0].kind.IsScalar() {
		return nil, fmt.Errorf("array element must be scalar, got %s", td.children[0].kind)
	}
	return td, nil
}

// encodeTypes serializes a list of descriptors for message metadata.
func encodeTypes(types []*TypeDesc) string {
	js := make([]*typeJSON, len(types))
	for i, t := range types {
		js[i] = t.toJSON()
	}
	data, _ := json.Marshal(js)
	return string(data)
}

// decodeTypes is the inverse of encodeTypes.
func decodeTypes(raw string) ([]*TypeDesc, error) {
	var js []*typeJSON
	if err := json.Unmarshal([]byte(raw), &js); err != nil {
		return nil, fmt.Errorf("parsing type list: %w", err)
	}
	types := make([]*TypeDesc, len(js))
	for i, j := range js {
		td, err := typeFromJSON(j)
		if err != nil {
			return nil, err
		}
		types[i] = td
	}
	return types, nil
}
