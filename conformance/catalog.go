// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package conformance

import (
	"fmt"

	"github.com/Query-farm/plcontainer-go/plc"
)

type signature struct {
	name       string
	argNames   []string
	argTypes   []string
	returnType string
	returnsSet bool
}

var signatures = []signature{
	{"echo_int1", []string{"v"}, []string{`"char"`}, `"char"`, false},
	{"echo_int2", []string{"v"}, []string{"smallint"}, "smallint", false},
	{"echo_int4", []string{"v"}, []string{"integer"}, "integer", false},
	{"echo_int8", []string{"v"}, []string{"bigint"}, "bigint", false},
	{"echo_float4", []string{"v"}, []string{"real"}, "real", false},
	{"echo_float8", []string{"v"}, []string{"double precision"}, "double precision", false},
	{"echo_text", []string{"v"}, []string{"text"}, "text", false},

	{"echo_int_array", []string{"v"}, []string{"int8[]"}, "int8[]", false},
	{"echo_float_array", []string{"v"}, []string{"float8[]"}, "float8[]", false},
	{"echo_text_array", []string{"v"}, []string{"text[]"}, "text[]", false},
	{"array_sum", []string{"v"}, []string{"float8[]"}, "float8", false},
	{"array_dims", []string{"v"}, []string{"int4[]"}, "int4[]", false},
	{"make_matrix", []string{"rows", "cols"}, []string{"int4", "int4"}, "int4[]", false},

	{"add_floats", []string{"a", "b"}, []string{"float8", "float8"}, "float8", false},
	{"concatenate", []string{"a", "b", "c"}, []string{"text", "text", "text"}, "text", false},
	{"coalesce_int", []string{"a", "b"}, []string{"int8", "int8"}, "int8", false},

	{"produce_n", []string{"n"}, []string{"int4"}, "int4", true},
	{"produce_empty", nil, nil, "int4", true},
	{"produce_arrays", []string{"n"}, []string{"int4"}, "int8[]", true},
	{"split_text", []string{"s", "sep"}, []string{"text", "text"}, "text", true},

	{"raise_value_error", []string{"msg"}, []string{"text"}, "text", false},
	{"raise_runtime_error", []string{"msg"}, []string{"text"}, "text", false},
	{"raise_panic", []string{"msg"}, []string{"text"}, "text", false},

	{"echo_with_info_log", []string{"v"}, []string{"text"}, "text", false},
	{"echo_with_multi_logs", []string{"v"}, []string{"text"}, "text", false},

	{"sql_scalar", []string{"query"}, []string{"text"}, "text", false},
	{"sql_row_count", []string{"query"}, []string{"text"}, "int8", false},
	{"sql_bad_query", []string{"query"}, []string{"text"}, "text", false},
}

// Functions returns the catalog definitions of every conformance function,
// bound to the given container.
func Functions(container string, shared bool) []plc.FunctionDef {
	meta := fmt.Sprintf("# container: %s", container)
	if shared {
		meta += " shared"
	}
	defs := make([]plc.FunctionDef, len(signatures))
	for i, s := range signatures {
		defs[i] = plc.FunctionDef{
			Name:       s.name,
			Src:        meta + "\n# conformance fixture " + s.name + "\n",
			ArgNames:   s.argNames,
			ArgTypes:   s.argTypes,
			ReturnType: s.returnType,
			ReturnsSet: s.returnsSet,
		}
	}
	return defs
}

// Catalog returns the conformance functions as a static catalog.
func Catalog(container string, shared bool) plc.StaticCatalog {
	cat := make(plc.StaticCatalog, len(signatures))
	for _, def := range Functions(container, shared) {
		def := def
		cat[def.Name] = &def
	}
	return cat
}
