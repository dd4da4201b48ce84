// Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

// Package conformance provides test fixtures for the plc protocol
// conformance suite. It registers a set of function bodies that exercise
// every feature of the protocol: scalar kinds, nullable arguments,
// multi-dimensional arrays, set-returning functions, error propagation,
// host-directed logging, and SQL callbacks.
//
// [RegisterFunctions] registers the bodies on a [plc.Runtime]; [Functions]
// returns the catalog definitions a host needs to call them.
package conformance
