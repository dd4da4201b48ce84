// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package benchmark

import (
	"context"

	"github.com/Query-farm/plcontainer-go/plc"
)

// generate produces count rows where row i is i * 10.
func generate(_ context.Context, _ *plc.CallContext, args []any) ([]any, error) {
	count := args[0].(int64)
	rows := make([]any, count)
	for i := range rows {
		rows[i] = int64(i) * 10
	}
	return rows, nil
}

// transform scales every element of a one-dimensional array by factor.
// Null elements stay null.
func transform(_ context.Context, _ *plc.CallContext, args []any) (any, error) {
	values, _ := args[0].([]any)
	factor := args[1].(float64)

	out := make([]any, len(values))
	for i, v := range values {
		if f, ok := v.(float64); ok {
			out[i] = f * factor
		}
	}
	return out, nil
}
