// Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

// Package plc runs user-defined database function bodies inside an isolated
// runtime process (a container) and marshals arguments and results across
// the process boundary.
//
// The package has two sides that share one wire format:
//
//   - The host side ([Handler]) is embedded in the database. It builds a
//     [CallRequest] from the function's [TypeDesc] values, resolves a
//     [Session] through a [Resolver], and drives the call loop until the
//     runtime answers with a [Result] or an [Exception]. While waiting, the
//     runtime may send [Log] messages (emitted through slog) and [SQL]
//     messages (executed through a [SQLHandler] and answered on the same
//     session).
//   - The runtime side ([Runtime]) lives in the container. It decodes
//     arguments into nested values, calls the registered function body, and
//     encodes the return value.
//
// # Values
//
// Scalars are int1/int2/int4/int8, float4/float8 and text. Arrays are
// homogeneous N-dimensional arrays of one scalar kind. On the wire an array is
// a [WireArray]: a dimension vector, a null flag per element and a packed
// value buffer. In memory an array is a nested value: []any down to the
// innermost dimension, with nil standing for a missing element.
//
// [DecodeArray] turns a wire array into a nested value in a single row-major
// pass. The reverse direction is lazy: an [ArrayProducer] walks the nested
// value depth-first and yields one encoded element per call to Next, so a
// large array is never flattened into an intermediate copy.
//
// # Wire format
//
// Every message travels as one Apache Arrow IPC stream. A call request is a
// one-row batch with one column per argument; a result is an N-row batch.
// Log, SQL and exception messages are zero-row batches whose custom metadata
// carries the payload (see the Meta* constants). A [Channel] frames IPC
// streams with a length prefix and optional zstd compression.
package plc
