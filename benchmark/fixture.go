// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

// Package benchmark holds a small set of function bodies used to measure the
// per-call overhead of the protocol and the cost of marshaling arrays.
package benchmark

import (
	"context"

	"github.com/Query-farm/plcontainer-go/plc"
)

// RegisterFunctions registers the benchmark function bodies on the runtime.
func RegisterFunctions(rt *plc.Runtime) {
	rt.Register("noop", noop)
	rt.Register("add", add)
	rt.Register("greet", greet)
	rt.Register("roundtrip_array", roundtripArray)
	rt.RegisterSet("generate", generate)
	rt.Register("transform", transform)
}

var signatures = []plc.FunctionDef{
	{Name: "noop", ReturnType: "int4"},
	{Name: "add", ArgNames: []string{"a", "b"}, ArgTypes: []string{"float8", "float8"}, ReturnType: "float8"},
	{Name: "greet", ArgNames: []string{"name"}, ArgTypes: []string{"text"}, ReturnType: "text"},
	{Name: "roundtrip_array", ArgNames: []string{"values"}, ArgTypes: []string{"int8[]"}, ReturnType: "int8[]"},
	{Name: "generate", ArgNames: []string{"count"}, ArgTypes: []string{"int4"}, ReturnType: "int8", ReturnsSet: true},
	{Name: "transform", ArgNames: []string{"values", "factor"}, ArgTypes: []string{"float8[]", "float8"}, ReturnType: "float8[]"},
}

// Catalog returns the benchmark functions bound to the given container.
func Catalog(container string, shared bool) plc.StaticCatalog {
	meta := "# container: " + container
	if shared {
		meta += " shared"
	}
	cat := make(plc.StaticCatalog, len(signatures))
	for _, s := range signatures {
		def := s
		def.Src = meta + "\n"
		cat[def.Name] = &def
	}
	return cat
}

func noop(_ context.Context, _ *plc.CallContext, _ []any) (any, error) {
	return nil, nil
}

func add(_ context.Context, _ *plc.CallContext, args []any) (any, error) {
	return args[0].(float64) + args[1].(float64), nil
}

func greet(_ context.Context, _ *plc.CallContext, args []any) (any, error) {
	return "Hello, " + args[0].(string) + "!", nil
}

func roundtripArray(_ context.Context, _ *plc.CallContext, args []any) (any, error) {
	return args[0], nil
}
