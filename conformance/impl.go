// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package conformance

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Query-farm/plcontainer-go/plc"
)

// RegisterFunctions registers all conformance function bodies on the runtime.
func RegisterFunctions(rt *plc.Runtime) {
	// Scalar echo
	rt.Register("echo_int1", echo)
	rt.Register("echo_int2", echo)
	rt.Register("echo_int4", echo)
	rt.Register("echo_int8", echo)
	rt.Register("echo_float4", echo)
	rt.Register("echo_float8", echo)
	rt.Register("echo_text", echo)

	// Arrays
	rt.Register("echo_int_array", echo)
	rt.Register("echo_float_array", echo)
	rt.Register("echo_text_array", echo)
	rt.Register("array_sum", arraySum)
	rt.Register("array_dims", arrayDims)
	rt.Register("make_matrix", makeMatrix)

	// Multi-param
	rt.Register("add_floats", addFloats)
	rt.Register("concatenate", concatenate)
	rt.Register("coalesce_int", coalesceInt)

	// Set-returning
	rt.RegisterSet("produce_n", produceN)
	rt.RegisterSet("produce_empty", produceEmpty)
	rt.RegisterSet("produce_arrays", produceArrays)
	rt.Register("split_text", splitText)

	// Error propagation
	rt.Register("raise_value_error", raiseValueError)
	rt.Register("raise_runtime_error", raiseRuntimeError)
	rt.Register("raise_panic", raisePanic)

	// Host-directed logging
	rt.Register("echo_with_info_log", echoWithInfoLog)
	rt.Register("echo_with_multi_logs", echoWithMultiLogs)

	// SQL callbacks
	rt.Register("sql_scalar", sqlScalar)
	rt.Register("sql_row_count", sqlRowCount)
	rt.Register("sql_bad_query", sqlBadQuery)
}

// --- Scalar and array echo ---

func echo(_ context.Context, _ *plc.CallContext, args []any) (any, error) {
	return args[0], nil
}

// --- Arrays ---

// arraySum adds every non-null element of an array of any depth.
func arraySum(_ context.Context, _ *plc.CallContext, args []any) (any, error) {
	var sum float64
	var walk func(v any) error
	walk = func(v any) error {
		switch val := v.(type) {
		case nil:
		case []any:
			for _, e := range val {
				if err := walk(e); err != nil {
					return err
				}
			}
		case int64:
			sum += float64(val)
		case float64:
			sum += val
		default:
			return &plc.RemoteError{Type: "TypeError", Message: fmt.Sprintf("cannot add %T", v)}
		}
		return nil
	}
	if err := walk(args[0]); err != nil {
		return nil, err
	}
	return sum, nil
}

// arrayDims returns the dimension lengths of an array along its first
// elements.
func arrayDims(_ context.Context, _ *plc.CallContext, args []any) (any, error) {
	dims := []any{}
	v := args[0]
	for {
		list, ok := v.([]any)
		if !ok {
			break
		}
		dims = append(dims, int64(len(list)))
		if len(list) == 0 {
			break
		}
		v = list[0]
	}
	return dims, nil
}

// makeMatrix builds a rows x cols matrix of row*cols+col.
func makeMatrix(_ context.Context, _ *plc.CallContext, args []any) (any, error) {
	rows, cols := args[0].(int64), args[1].(int64)
	m := make([][]int64, rows)
	for r := range m {
		m[r] = make([]int64, cols)
		for c := range m[r] {
			m[r][c] = int64(r)*cols + int64(c)
		}
	}
	return m, nil
}

// --- Multi-param ---

func addFloats(_ context.Context, _ *plc.CallContext, args []any) (any, error) {
	if args[0] == nil || args[1] == nil {
		return nil, nil
	}
	return args[0].(float64) + args[1].(float64), nil
}

func concatenate(_ context.Context, _ *plc.CallContext, args []any) (any, error) {
	parts := make([]string, 0, len(args))
	for _, a := range args {
		if a != nil {
			parts = append(parts, a.(string))
		}
	}
	return strings.Join(parts, ""), nil
}

func coalesceInt(_ context.Context, _ *plc.CallContext, args []any) (any, error) {
	for _, a := range args {
		if a != nil {
			return a, nil
		}
	}
	return nil, nil
}

// --- Set-returning ---

func produceN(_ context.Context, _ *plc.CallContext, args []any) ([]any, error) {
	n := args[0].(int64)
	rows := make([]any, n)
	for i := range rows {
		rows[i] = int64(i)
	}
	return rows, nil
}

func produceEmpty(_ context.Context, _ *plc.CallContext, _ []any) ([]any, error) {
	return nil, nil
}

// produceArrays yields n arrays, the i-th holding i+1 copies of i.
func produceArrays(_ context.Context, _ *plc.CallContext, args []any) ([]any, error) {
	n := args[0].(int64)
	rows := make([]any, n)
	for i := range rows {
		arr := make([]any, i+1)
		for j := range arr {
			arr[j] = int64(i)
		}
		rows[i] = arr
	}
	return rows, nil
}

// splitText is a scalar body used as a set-returning function: the returned
// slice becomes the rows.
func splitText(_ context.Context, _ *plc.CallContext, args []any) (any, error) {
	return strings.Split(args[0].(string), args[1].(string)), nil
}

// --- Error propagation ---

func raiseValueError(_ context.Context, _ *plc.CallContext, args []any) (any, error) {
	return nil, &plc.RemoteError{Type: "ValueError", Message: args[0].(string)}
}

func raiseRuntimeError(_ context.Context, _ *plc.CallContext, args []any) (any, error) {
	return nil, errors.New(args[0].(string))
}

func raisePanic(_ context.Context, _ *plc.CallContext, args []any) (any, error) {
	panic(args[0].(string))
}

// --- Host-directed logging ---

func echoWithInfoLog(_ context.Context, call *plc.CallContext, args []any) (any, error) {
	if err := call.Logf(plc.LogInfo, "info: %v", args[0]); err != nil {
		return nil, err
	}
	return args[0], nil
}

func echoWithMultiLogs(_ context.Context, call *plc.CallContext, args []any) (any, error) {
	for _, level := range []plc.LogLevel{plc.LogDebug, plc.LogInfo, plc.LogWarn} {
		if err := call.Logf(level, "%s: %v", strings.ToLower(string(level)), args[0]); err != nil {
			return nil, err
		}
	}
	return args[0], nil
}

// --- SQL callbacks ---

// sqlScalar runs a query and returns the first column of its first row.
func sqlScalar(_ context.Context, call *plc.CallContext, args []any) (any, error) {
	res, err := call.Query(args[0].(string))
	if err != nil {
		return nil, err
	}
	if len(res.Rows) == 0 || len(res.Rows[0]) == 0 {
		return nil, nil
	}
	return res.Rows[0][0], nil
}

// sqlRowCount logs before and after a query and returns its row count.
func sqlRowCount(_ context.Context, call *plc.CallContext, args []any) (any, error) {
	query := args[0].(string)
	if err := call.Logf(plc.LogInfo, "running %s", query); err != nil {
		return nil, err
	}
	res, err := call.Query(query)
	if err != nil {
		return nil, err
	}
	if err := call.Logf(plc.LogInfo, "got %d rows", len(res.Rows)); err != nil {
		return nil, err
	}
	return int64(len(res.Rows)), nil
}

// sqlBadQuery runs a failing query and reports the error it got back as the
// result.
func sqlBadQuery(_ context.Context, call *plc.CallContext, args []any) (any, error) {
	_, err := call.Query(args[0].(string))
	var remote *plc.RemoteError
	if errors.As(err, &remote) {
		return remote.Type, nil
	}
	if err != nil {
		return nil, err
	}
	return "ok", nil
}
