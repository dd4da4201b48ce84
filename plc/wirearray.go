// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package plc

import (
	"fmt"
	"reflect"
)

// WireArray is the flat form of an N-dimensional array.
//
// Nulls has one flag per logical element in row-major order. Values of the
// non-null elements are packed: fixed-width kinds store them back to back in
// Data in native byte order, text stores them in Text, one slot per non-null
// element.
type WireArray struct {
	Elem  Kind
	Dims  []int
	Nulls []bool
	Data  []byte
	Text  []string
}

// NDims returns the number of dimensions.
func (a *WireArray) NDims() int { return len(a.Dims) }

// Len returns the number of logical elements, the product of the dimension
// lengths. A zero-dimensional array has no elements.
func (a *WireArray) Len() int {
	if len(a.Dims) == 0 {
		return 0
	}
	n := 1
	for _, d := range a.Dims {
		n *= d
	}
	return n
}

// Validate checks the structural invariants of the array.
func (a *WireArray) Validate() error {
	if !a.Elem.IsScalar() {
		return fmt.Errorf("array element kind %s: %w", a.Elem, ErrUnsupportedType)
	}
	for i, d := range a.Dims {
		if d < 0 {
			return fmt.Errorf("dimension %d has negative length %d", i, d)
		}
	}
	if got, want := len(a.Nulls), a.Len(); got != want {
		return fmt.Errorf("null vector has %d entries, dimensions need %d", got, want)
	}
	nonNull := 0
	for _, isNull := range a.Nulls {
		if !isNull {
			nonNull++
		}
	}
	if a.Elem == KindText {
		if len(a.Text) != nonNull {
			return fmt.Errorf("text array has %d values for %d non-null elements", len(a.Text), nonNull)
		}
		return nil
	}
	if got, want := len(a.Data), nonNull*a.Elem.Width(); got != want {
		return fmt.Errorf("value buffer has %d bytes, %d non-null %s elements need %d", got, nonNull, a.Elem, want)
	}
	return nil
}

// appendValue appends one encoded non-null element.
func (a *WireArray) appendValue(encoded []byte) {
	if a.Elem == KindText {
		a.Text = append(a.Text, decodeText(encoded))
		return
	}
	a.Data = append(a.Data, encoded...)
}

// decodeCursor is the position of a single row-major pass over a wire array:
// elem indexes the null vector, data indexes Data in bytes (fixed-width kinds)
// or Text in slots (text).
type decodeCursor struct {
	elem int
	data int
}

// DecodeArray converts a wire array into a nested value: a []any per
// dimension down to the scalars, with nil for null elements. A
// zero-dimensional array decodes to an empty []any.
func DecodeArray(a *WireArray) (any, error) {
	if len(a.Dims) == 0 {
		return []any{}, nil
	}
	var cur decodeCursor
	return decodeDim(a, 0, &cur)
}

func decodeDim(a *WireArray, dim int, cur *decodeCursor) (any, error) {
	if dim == len(a.Dims) {
		return decodeElem(a, cur)
	}
	list := make([]any, a.Dims[dim])
	for i := range list {
		v, err := decodeDim(a, dim+1, cur)
		if err != nil {
			return nil, err
		}
		list[i] = v
	}
	return list, nil
}

func decodeElem(a *WireArray, cur *decodeCursor) (any, error) {
	if cur.elem >= len(a.Nulls) {
		return nil, marshalErr("decode", a.Elem, fmt.Errorf("%w: null vector ends at %d", ErrShortBuffer, cur.elem))
	}
	isNull := a.Nulls[cur.elem]
	cur.elem++
	if isNull {
		return nil, nil
	}
	if a.Elem == KindText {
		if cur.data >= len(a.Text) {
			return nil, marshalErr("decode", a.Elem, fmt.Errorf("%w: text slot %d missing", ErrShortBuffer, cur.data))
		}
		s := a.Text[cur.data]
		cur.data++
		return s, nil
	}
	w := a.Elem.Width()
	if cur.data+w > len(a.Data) {
		return nil, marshalErr("decode", a.Elem, fmt.Errorf("%w: value at byte %d", ErrShortBuffer, cur.data))
	}
	v, err := DecodeScalar(a.Elem, a.Data[cur.data:cur.data+w])
	if err != nil {
		return nil, err
	}
	cur.data += w
	return v, nil
}

// asList returns v as a sequence. []any is returned as is; other slice and
// array types (except []byte) are copied element-wise.
func asList(v any) ([]any, bool) {
	switch val := v.(type) {
	case nil:
		return nil, false
	case []any:
		return val, true
	case []byte, string:
		return nil, false
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

func isMap(v any) bool {
	return v != nil && reflect.ValueOf(v).Kind() == reflect.Map
}
