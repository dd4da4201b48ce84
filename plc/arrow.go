// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package plc

import (
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// buildColumn builds one Arrow column of type t from a column of cells.
func buildColumn(mem memory.Allocator, t *TypeDesc, cells []Cell) (arrow.Array, error) {
	b := array.NewBuilder(mem, t.ArrowType())
	defer b.Release()
	for i, c := range cells {
		if err := appendCell(b, t, c); err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
	}
	return b.NewArray(), nil
}

// appendCell appends one cell to a builder of the column type t.
func appendCell(b array.Builder, t *TypeDesc, c Cell) error {
	if c.Null {
		b.AppendNull()
		return nil
	}
	switch t.Kind() {
	case KindArray:
		if c.Array == nil {
			return marshalErr("encode", KindArray, fmt.Errorf("%w: cell carries no array", ErrTypeMismatch))
		}
		return appendWireArray(b.(*array.StructBuilder), c.Array)
	case KindRecord:
		return marshalErr("encode", KindRecord, ErrUnsupportedType)
	default:
		return appendScalar(b, t.Kind(), c.Data)
	}
}

// appendScalar appends the wire bytes of one scalar to a builder of the
// matching Arrow type.
func appendScalar(b array.Builder, kind Kind, data []byte) error {
	v, err := DecodeScalar(kind, data)
	if err != nil {
		return err
	}
	switch kind {
	case KindInt1:
		b.(*array.Int8Builder).Append(int8(v.(int64)))
	case KindInt2:
		b.(*array.Int16Builder).Append(int16(v.(int64)))
	case KindInt4:
		b.(*array.Int32Builder).Append(int32(v.(int64)))
	case KindInt8:
		b.(*array.Int64Builder).Append(v.(int64))
	case KindFloat4:
		b.(*array.Float32Builder).Append(float32(v.(float64)))
	case KindFloat8:
		b.(*array.Float64Builder).Append(v.(float64))
	case KindText:
		b.(*array.StringBuilder).Append(v.(string))
	default:
		return marshalErr("encode", kind, ErrUnsupportedType)
	}
	return nil
}

// appendWireArray appends a wire array as one struct{dims, values} value.
func appendWireArray(sb *array.StructBuilder, a *WireArray) error {
	if err := a.Validate(); err != nil {
		return marshalErr("encode", KindArray, err)
	}
	sb.Append(true)

	db := sb.FieldBuilder(0).(*array.ListBuilder)
	db.Append(true)
	dims := db.ValueBuilder().(*array.Int32Builder)
	for _, d := range a.Dims {
		dims.Append(int32(d))
	}

	vlb := sb.FieldBuilder(1).(*array.ListBuilder)
	vlb.Append(true)
	vb := vlb.ValueBuilder()
	w := a.Elem.Width()
	slot := 0
	for _, isNull := range a.Nulls {
		if isNull {
			vb.AppendNull()
			continue
		}
		if a.Elem == KindText {
			vb.(*array.StringBuilder).Append(a.Text[slot])
			slot++
			continue
		}
		if err := appendScalar(vb, a.Elem, a.Data[slot*w:(slot+1)*w]); err != nil {
			return err
		}
		slot++
	}
	return nil
}

// cellFromArrow reads row idx of an Arrow column of type t into a cell. The
// cell owns its memory; nothing in it refers back to the Arrow buffers.
func cellFromArrow(t *TypeDesc, col arrow.Array, idx int) (Cell, error) {
	if col.IsNull(idx) {
		return NullCell, nil
	}
	switch t.Kind() {
	case KindArray:
		st, ok := col.(*array.Struct)
		if !ok {
			return Cell{}, marshalErr("decode", KindArray, fmt.Errorf("%w: expected struct column, got %T", ErrTypeMismatch, col))
		}
		a, err := wireArrayFromArrow(t.Elem().Kind(), st, idx)
		if err != nil {
			return Cell{}, err
		}
		return Cell{Array: a}, nil
	case KindRecord:
		return Cell{}, marshalErr("decode", KindRecord, ErrUnsupportedType)
	default:
		data, err := scalarFromArrow(t.Kind(), col, idx)
		if err != nil {
			return Cell{}, err
		}
		return Cell{Data: data}, nil
	}
}

// scalarFromArrow reads one non-null scalar and returns its wire bytes.
func scalarFromArrow(kind Kind, col arrow.Array, idx int) ([]byte, error) {
	var v any
	switch c := col.(type) {
	case *array.Int8:
		v = int64(c.Value(idx))
	case *array.Int16:
		v = int64(c.Value(idx))
	case *array.Int32:
		v = int64(c.Value(idx))
	case *array.Int64:
		v = c.Value(idx)
	case *array.Float32:
		v = float64(c.Value(idx))
	case *array.Float64:
		v = c.Value(idx)
	case *array.String:
		v = c.Value(idx)
	default:
		return nil, marshalErr("decode", kind, fmt.Errorf("%w: unexpected Arrow column %T", ErrTypeMismatch, col))
	}
	return EncodeScalar(kind, v)
}

func wireArrayFromArrow(elem Kind, st *array.Struct, idx int) (*WireArray, error) {
	if st.NumField() != 2 {
		return nil, marshalErr("decode", KindArray, fmt.Errorf("%w: array struct has %d fields", ErrTypeMismatch, st.NumField()))
	}
	dimList, ok := st.Field(0).(*array.List)
	if !ok {
		return nil, marshalErr("decode", KindArray, fmt.Errorf("%w: dims column is %T", ErrTypeMismatch, st.Field(0)))
	}
	valList, ok := st.Field(1).(*array.List)
	if !ok {
		return nil, marshalErr("decode", KindArray, fmt.Errorf("%w: values column is %T", ErrTypeMismatch, st.Field(1)))
	}

	a := &WireArray{Elem: elem}

	start, end := dimList.ValueOffsets(idx)
	dims, ok := dimList.ListValues().(*array.Int32)
	if !ok {
		return nil, marshalErr("decode", KindArray, fmt.Errorf("%w: dims are %T", ErrTypeMismatch, dimList.ListValues()))
	}
	for j := start; j < end; j++ {
		a.Dims = append(a.Dims, int(dims.Value(int(j))))
	}

	start, end = valList.ValueOffsets(idx)
	values := valList.ListValues()
	a.Nulls = make([]bool, 0, end-start)
	for j := start; j < end; j++ {
		if values.IsNull(int(j)) {
			a.Nulls = append(a.Nulls, true)
			continue
		}
		data, err := scalarFromArrow(elem, values, int(j))
		if err != nil {
			return nil, err
		}
		a.Nulls = append(a.Nulls, false)
		a.appendValue(data)
	}

	if err := a.Validate(); err != nil {
		return nil, marshalErr("decode", KindArray, err)
	}
	return a, nil
}
