// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package plc

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestArrayRoundTrip(t *testing.T) {
	cases := []struct {
		name string
		elem Kind
		in   any
		dims []int
	}{
		{"int4 depth 1", KindInt4, []any{int64(1), int64(2), int64(3)}, []int{3}},
		{"int4 depth 1 nulls", KindInt4, []any{int64(1), nil, int64(3), nil}, []int{4}},
		{"int8 depth 2", KindInt8, []any{
			[]any{int64(1), int64(2), nil},
			[]any{nil, int64(5), int64(6)},
		}, []int{2, 3}},
		{"float8 depth 3", KindFloat8, []any{
			[]any{[]any{1.5, nil}, []any{2.5, 3.5}},
			[]any{[]any{nil, nil}, []any{4.5, 5.5}},
		}, []int{2, 2, 2}},
		{"int2 depth 4", KindInt2, []any{
			[]any{[]any{[]any{int64(1)}, []any{nil}}},
			[]any{[]any{[]any{int64(3)}, []any{int64(4)}}},
		}, []int{2, 1, 2, 1}},
		{"text depth 2 nulls", KindText, []any{
			[]any{"a", nil},
			[]any{"", "dé"},
		}, []int{2, 2}},
		{"all null", KindFloat4, []any{nil, nil}, []int{2}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			wa, err := EncodeArray(tc.elem, tc.in)
			require.NoError(t, err)
			require.Equal(t, tc.dims, wa.Dims)
			require.NoError(t, wa.Validate())

			got, err := DecodeArray(wa)
			require.NoError(t, err)
			require.Equal(t, tc.in, got)
		})
	}
}

func TestArrayPacksNonNullValues(t *testing.T) {
	wa, err := EncodeArray(KindInt4, []any{int64(7), nil, int64(9)})
	require.NoError(t, err)
	require.Equal(t, []bool{false, true, false}, wa.Nulls)
	require.Len(t, wa.Data, 2*4)

	wa, err = EncodeArray(KindText, []any{nil, "x", nil, "yz"})
	require.NoError(t, err)
	require.Equal(t, []string{"x", "yz"}, wa.Text)
	require.Empty(t, wa.Data)
}

func TestArrayZeroDimensions(t *testing.T) {
	for _, in := range []any{[]any{}, []any{[]any{}, []any{}}, []int64{}} {
		wa, err := EncodeArray(KindInt4, in)
		require.NoError(t, err)
		require.Equal(t, 0, wa.NDims())
		require.Equal(t, 0, wa.Len())
		require.Empty(t, wa.Nulls)

		got, err := DecodeArray(wa)
		require.NoError(t, err)
		require.Equal(t, []any{}, got)
	}
}

func TestArrayTypedSlices(t *testing.T) {
	wa, err := EncodeArray(KindInt8, [][]int64{{1, 2}, {3, 4}})
	require.NoError(t, err)
	require.Equal(t, []int{2, 2}, wa.Dims)

	got, err := DecodeArray(wa)
	require.NoError(t, err)
	require.Equal(t, []any{
		[]any{int64(1), int64(2)},
		[]any{int64(3), int64(4)},
	}, got)
}

func TestProducerUsesDeclaredEncoder(t *testing.T) {
	// Elements are encoded with the producer's kind, whatever their Go type.
	wa, err := EncodeArray(KindInt2, []any{1.9, int64(2), uint8(3)})
	require.NoError(t, err)
	got, err := DecodeArray(wa)
	require.NoError(t, err)
	require.Equal(t, []any{int64(1), int64(2), int64(3)}, got)

	_, err = EncodeArray(KindInt4, []any{int64(1), "two"})
	require.ErrorIs(t, err, ErrTypeMismatch)
}

func TestProducerReleasesFramesOnExhaustion(t *testing.T) {
	in := []any{
		[]any{[]any{int64(1), int64(2)}, []any{int64(3), int64(4)}},
		[]any{[]any{int64(5), nil}, []any{int64(7), int64(8)}},
	}
	p, err := NewArrayProducer(KindInt4, in)
	require.NoError(t, err)
	require.Equal(t, []int{2, 2, 2}, p.Dims())
	require.Equal(t, 3, p.Held())

	var nulls []bool
	for {
		cell, ok, err := p.Next()
		require.NoError(t, err)
		if !ok {
			break
		}
		nulls = append(nulls, cell.Null)
		require.LessOrEqual(t, p.Held(), 3)
	}
	require.Len(t, nulls, 8)
	require.True(t, nulls[5])
	require.Equal(t, 0, p.Held())

	// Further calls keep reporting exhaustion.
	_, ok, err := p.Next()
	require.NoError(t, err)
	require.False(t, ok)
}

func TestProducerCloseMidTraversal(t *testing.T) {
	p, err := NewArrayProducer(KindText, []any{[]any{"a", "b"}, []any{"c", "d"}})
	require.NoError(t, err)
	_, ok, err := p.Next()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 2, p.Held())

	p.Close()
	require.Equal(t, 0, p.Held())
	_, ok, err = p.Next()
	require.NoError(t, err)
	require.False(t, ok)
}

func TestProducerRejectsScalars(t *testing.T) {
	for _, in := range []any{int64(1), "text", nil, []byte("bytes")} {
		_, err := NewArrayProducer(KindInt4, in)
		require.ErrorIs(t, err, ErrNotAnArray)
	}
	_, err := NewArrayProducer(KindArray, []any{})
	require.ErrorIs(t, err, ErrUnsupportedType)
}

func TestProducerRaggedInput(t *testing.T) {
	// A shorter sibling is detected when the traversal reaches it.
	_, err := EncodeArray(KindInt4, []any{
		[]any{int64(1), int64(2)},
		[]any{int64(3)},
	})
	require.ErrorIs(t, err, ErrRaggedArray)

	// A scalar where a sequence is expected.
	_, err = EncodeArray(KindInt4, []any{
		[]any{int64(1), int64(2)},
		int64(3),
	})
	require.ErrorIs(t, err, ErrRaggedArray)

	// A longer sibling is truncated to the first element's length.
	wa, err := EncodeArray(KindInt4, []any{
		[]any{int64(1)},
		[]any{int64(2), int64(99)},
	})
	require.NoError(t, err)
	require.Equal(t, []int{2, 1}, wa.Dims)
	got, err := DecodeArray(wa)
	require.NoError(t, err)
	require.Equal(t, []any{[]any{int64(1)}, []any{int64(2)}}, got)
}

func TestDecodeArrayShortBuffers(t *testing.T) {
	_, err := DecodeArray(&WireArray{Elem: KindInt4, Dims: []int{2}, Nulls: []bool{false, false}, Data: make([]byte, 4)})
	require.ErrorIs(t, err, ErrShortBuffer)

	_, err = DecodeArray(&WireArray{Elem: KindText, Dims: []int{2}, Nulls: []bool{false, false}, Text: []string{"a"}})
	require.ErrorIs(t, err, ErrShortBuffer)

	_, err = DecodeArray(&WireArray{Elem: KindInt1, Dims: []int{3}, Nulls: []bool{true}})
	require.ErrorIs(t, err, ErrShortBuffer)
}

func TestWireArrayValidate(t *testing.T) {
	require.NoError(t, (&WireArray{Elem: KindInt4}).Validate())
	require.Error(t, (&WireArray{Elem: KindArray}).Validate())
	require.Error(t, (&WireArray{Elem: KindInt4, Dims: []int{2}, Nulls: []bool{false}}).Validate())
	require.Error(t, (&WireArray{Elem: KindInt4, Dims: []int{1}, Nulls: []bool{false}, Data: make([]byte, 3)}).Validate())
	require.Error(t, (&WireArray{Elem: KindText, Dims: []int{1}, Nulls: []bool{true}, Text: []string{"x"}}).Validate())
}
