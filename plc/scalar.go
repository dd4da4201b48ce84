// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package plc

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
)

// DecodeScalar converts the wire bytes of one scalar into its native value:
// int64 for the integer kinds, float64 for the float kinds and string for
// text. Fixed-width kinds are read in native byte order; text is read up to
// the first NUL byte.
func DecodeScalar(kind Kind, b []byte) (any, error) {
	if w := kind.Width(); w > 0 && len(b) < w {
		return nil, marshalErr("decode", kind, fmt.Errorf("%w: need %d bytes, have %d", ErrShortBuffer, w, len(b)))
	}
	switch kind {
	case KindInt1:
		return int64(int8(b[0])), nil
	case KindInt2:
		return int64(int16(binary.NativeEndian.Uint16(b))), nil
	case KindInt4:
		return int64(int32(binary.NativeEndian.Uint32(b))), nil
	case KindInt8:
		return int64(binary.NativeEndian.Uint64(b)), nil
	case KindFloat4:
		return float64(math.Float32frombits(binary.NativeEndian.Uint32(b))), nil
	case KindFloat8:
		return math.Float64frombits(binary.NativeEndian.Uint64(b)), nil
	case KindText:
		return decodeText(b), nil
	default:
		return nil, marshalErr("decode", kind, ErrUnsupportedType)
	}
}

// EncodeScalar converts a native value into the wire bytes of the given
// scalar kind.
//
// Integer kinds accept any Go integer or float. Floats are truncated toward
// zero and every value is narrowed to the target width without an overflow
// check, so out-of-range values wrap. Float kinds accept integers and floats;
// float4 rounds to the nearest float32. Text accepts anything that is not a
// sequence or a map, using its string form, and returns a NUL-terminated
// copy.
func EncodeScalar(kind Kind, v any) ([]byte, error) {
	switch kind {
	case KindInt1, KindInt2, KindInt4, KindInt8:
		n, ok := asInt64(v)
		if !ok {
			return nil, marshalErr("encode", kind, fmt.Errorf("%w: cannot convert %T", ErrTypeMismatch, v))
		}
		return encodeInt(kind, n), nil
	case KindFloat4:
		f, ok := asFloat64(v)
		if !ok {
			return nil, marshalErr("encode", kind, fmt.Errorf("%w: cannot convert %T", ErrTypeMismatch, v))
		}
		return binary.NativeEndian.AppendUint32(nil, math.Float32bits(float32(f))), nil
	case KindFloat8:
		f, ok := asFloat64(v)
		if !ok {
			return nil, marshalErr("encode", kind, fmt.Errorf("%w: cannot convert %T", ErrTypeMismatch, v))
		}
		return binary.NativeEndian.AppendUint64(nil, math.Float64bits(f)), nil
	case KindText:
		s, ok := asText(v)
		if !ok {
			return nil, marshalErr("encode", kind, fmt.Errorf("%w: cannot convert %T", ErrTypeMismatch, v))
		}
		out := make([]byte, len(s)+1)
		copy(out, s)
		return out, nil
	default:
		return nil, marshalErr("encode", kind, ErrUnsupportedType)
	}
}

func encodeInt(kind Kind, n int64) []byte {
	switch kind {
	case KindInt1:
		return []byte{byte(int8(n))}
	case KindInt2:
		return binary.NativeEndian.AppendUint16(nil, uint16(int16(n)))
	case KindInt4:
		return binary.NativeEndian.AppendUint32(nil, uint32(int32(n)))
	default:
		return binary.NativeEndian.AppendUint64(nil, uint64(n))
	}
}

func decodeText(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}

// asInt64 converts an integer or float to int64. Floats truncate toward zero.
func asInt64(v any) (int64, bool) {
	switch val := v.(type) {
	case int64:
		return val, true
	case int:
		return int64(val), true
	case int32:
		return int64(val), true
	case int16:
		return int64(val), true
	case int8:
		return int64(val), true
	case uint64:
		return int64(val), true
	case uint:
		return int64(val), true
	case uint32:
		return int64(val), true
	case uint16:
		return int64(val), true
	case uint8:
		return int64(val), true
	case float64:
		return int64(val), true
	case float32:
		return int64(val), true
	default:
		return 0, false
	}
}

func asFloat64(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	default:
		n, ok := asInt64(v)
		return float64(n), ok
	}
}

func asText(v any) (string, bool) {
	switch val := v.(type) {
	case nil:
		return "", false
	case string:
		return val, true
	case []byte:
		return string(val), true
	case fmt.Stringer:
		return val.String(), true
	}
	if _, isList := asList(v); isList {
		return "", false
	}
	if isMap(v) {
		return "", false
	}
	return fmt.Sprint(v), true
}
