// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package plc

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrFunctionNotFound reports a function missing from the catalog.
	ErrFunctionNotFound = errors.New("function not found")
	// ErrTrigger reports an attempt to run a trigger function, which is not
	// supported.
	ErrTrigger = errors.New("trigger functions are not supported")
)

// FunctionDef is a function as stored in the catalog: its source and the
// names of its argument and return types.
type FunctionDef struct {
	Name       string   `yaml:"name"`
	Src        string   `yaml:"src"`
	ArgNames   []string `yaml:"arg_names"`
	ArgTypes   []string `yaml:"arg_types"`
	ReturnType string   `yaml:"return_type"`
	ReturnsSet bool     `yaml:"returns_set"`
	IsTrigger  bool     `yaml:"is_trigger"`
}

// Catalog looks up function definitions.
type Catalog interface {
	LookupFunction(ctx context.Context, name string) (*FunctionDef, error)
}

// StaticCatalog is an in-memory Catalog keyed by function name.
type StaticCatalog map[string]*FunctionDef

// LookupFunction implements Catalog.
func (c StaticCatalog) LookupFunction(_ context.Context, name string) (*FunctionDef, error) {
	def, ok := c[name]
	if !ok {
		return nil, fmt.Errorf("%q: %w", name, ErrFunctionNotFound)
	}
	return def, nil
}

// Function is the per-function state derived once from its definition and
// kept for the lifetime of the cache entry.
type Function struct {
	Def        *FunctionDef
	Container  string
	Shared     bool
	ArgNames   []string
	ArgTypes   []*TypeDesc
	ReturnType *TypeDesc

	mu      sync.Mutex
	pending *RowCursor // open set-returning result between InvokeSet calls
}

// NewFunction resolves the type descriptors and the container of a function
// definition.
func NewFunction(def *FunctionDef) (*Function, error) {
	if def.IsTrigger {
		return nil, fmt.Errorf("function %q: %w", def.Name, ErrTrigger)
	}
	if len(def.ArgNames) > len(def.ArgTypes) {
		return nil, fmt.Errorf("function %q: %d argument names for %d argument types", def.Name, len(def.ArgNames), len(def.ArgTypes))
	}
	container, shared, err := ParseContainerMeta(def.Src)
	if err != nil {
		return nil, fmt.Errorf("function %q: %w", def.Name, err)
	}

	fn := &Function{
		Def:       def,
		Container: container,
		Shared:    shared,
		ArgNames:  make([]string, len(def.ArgTypes)),
		ArgTypes:  make([]*TypeDesc, len(def.ArgTypes)),
	}
	copy(fn.ArgNames, def.ArgNames)
	for i, name := range def.ArgTypes {
		td, err := ParseType(name)
		if err != nil {
			return nil, fmt.Errorf("function %q argument %d: %w", def.Name, i, err)
		}
		fn.ArgTypes[i] = td
	}
	fn.ReturnType, err = ParseType(def.ReturnType)
	if err != nil {
		return nil, fmt.Errorf("function %q return type: %w", def.Name, err)
	}
	return fn, nil
}

// Name returns the function name.
func (f *Function) Name() string { return f.Def.Name }

// release drops any result held between set-returning calls.
func (f *Function) release() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pending != nil {
		f.pending.Close()
		f.pending = nil
	}
}

// FunctionCache builds Function values on first use and keeps them until
// evicted. It is safe for concurrent use.
type FunctionCache struct {
	catalog Catalog

	mu  sync.Mutex
	fns map[string]*Function
}

// NewFunctionCache creates a cache backed by catalog.
func NewFunctionCache(catalog Catalog) *FunctionCache {
	return &FunctionCache{catalog: catalog, fns: make(map[string]*Function)}
}

// Get returns the cached function, loading it from the catalog on a miss.
func (c *FunctionCache) Get(ctx context.Context, name string) (*Function, error) {
	c.mu.Lock()
	fn, ok := c.fns[name]
	c.mu.Unlock()
	if ok {
		return fn, nil
	}

	def, err := c.catalog.LookupFunction(ctx, name)
	if err != nil {
		return nil, err
	}
	fn, err = NewFunction(def)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.fns[name]; ok {
		return existing, nil
	}
	c.fns[name] = fn
	return fn, nil
}

// Evict drops a function from the cache and frees any result it holds.
// The next Get reloads it from the catalog.
func (c *FunctionCache) Evict(name string) {
	c.mu.Lock()
	fn, ok := c.fns[name]
	delete(c.fns, name)
	c.mu.Unlock()
	if ok {
		fn.release()
	}
}

// Len returns the number of cached functions.
func (c *FunctionCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.fns)
}
