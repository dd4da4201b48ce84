// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package plc

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const helperEnv = "PLC_TEST_RUNTIME"

// TestMain doubles as a runtime process: when started with helperEnv set,
// the test binary serves the test functions on stdio instead of running
// tests.
func TestMain(m *testing.M) {
	if os.Getenv(helperEnv) == "1" {
		newTestRuntime().RunStdio()
		os.Exit(0)
	}
	os.Exit(m.Run())
}

func helperPool(t *testing.T, compress bool) *Pool {
	t.Helper()
	pool := NewPool(ContainerSpec{
		Name:     "helper",
		Command:  []string{os.Args[0], "-test.run=^$"},
		Env:      []string{helperEnv + "=1"},
		Compress: compress,
	})
	t.Cleanup(func() { require.NoError(t, pool.Close()) })
	return pool
}

func TestPoolExclusiveSession(t *testing.T) {
	pool := helperPool(t, false)
	h := NewHandler(pool, nil)

	v, err := h.Call(context.Background(), namedFunction(t, "double", "# container: helper", "int4", "int4"), []any{int64(4)})
	require.NoError(t, err)
	require.Equal(t, int64(8), v)
	require.Nil(t, pool.Find("helper"), "exclusive sessions are not kept")
}

func TestPoolSharedSessionIsReused(t *testing.T) {
	pool := helperPool(t, true)
	h := NewHandler(pool, &countingSQL{})
	fn := namedFunction(t, "query", "# container: helper shared", "text", "text")

	sharedSession := func() *processSession {
		pool.mu.Lock()
		defer pool.mu.Unlock()
		return pool.shared["helper"]
	}

	_, err := h.Call(context.Background(), fn, []any{"select 1"})
	require.NoError(t, err)
	first := sharedSession()
	require.NotNil(t, first)

	v, err := h.Call(context.Background(), fn, []any{"select 1"})
	require.NoError(t, err)
	require.Equal(t, "[?column?] [[1]]", v)
	require.Same(t, first, sharedSession())
}

func TestPoolFindWaitsForRelease(t *testing.T) {
	pool := helperPool(t, false)
	ctx := context.Background()

	sess, err := pool.Start(ctx, "helper", true)
	require.NoError(t, err)

	found := make(chan Session, 1)
	go func() { found <- pool.Find("helper") }()

	select {
	case <-found:
		t.Fatal("Find returned while the session was in use")
	case <-time.After(50 * time.Millisecond):
	}

	sess.(Releaser).Release()
	select {
	case s := <-found:
		require.Same(t, sess, s)
	case <-time.After(5 * time.Second):
		t.Fatal("Find did not return after Release")
	}

	require.NoError(t, sess.Close())
	require.Nil(t, pool.Find("helper"))
}

func TestPoolFindAbortsOnClose(t *testing.T) {
	pool := helperPool(t, false)
	sess, err := pool.Start(context.Background(), "helper", true)
	require.NoError(t, err)

	found := make(chan Session, 1)
	go func() { found <- pool.Find("helper") }()
	time.Sleep(20 * time.Millisecond)

	require.NoError(t, pool.Close())
	select {
	case s := <-found:
		require.Nil(t, s)
	case <-time.After(10 * time.Second):
		t.Fatal("Find did not return after Close")
	}
	require.NoError(t, sess.Close())
}

func TestPoolUnknownContainer(t *testing.T) {
	h := NewHandler(NewPool(), nil)
	_, err := h.Call(context.Background(), namedFunction(t, "double", "# container: nowhere", "int4", "int4"), []any{int64(1)})

	var re *ResourceError
	require.True(t, errors.As(err, &re))
	require.ErrorIs(t, err, ErrUnknownContainer)
}

func TestPoolMissingCommand(t *testing.T) {
	pool := NewPool(ContainerSpec{Name: "empty"})
	_, err := pool.Start(context.Background(), "empty", false)
	require.ErrorContains(t, err, "has no command")

	pool = NewPool(ContainerSpec{Name: "bogus", Command: []string{"/nonexistent/plc-runtime"}})
	_, err = pool.Start(context.Background(), "bogus", false)
	require.ErrorContains(t, err, "starting runtime")
}

func TestDockerPolicyCommand(t *testing.T) {
	inner := []string{"/usr/local/bin/plc", "runtime"}

	require.Equal(t,
		[]string{"docker", "run", "-i", "--rm", "--network=none", "plc:latest", "/usr/local/bin/plc", "runtime"},
		DockerPolicy{Image: "plc:latest"}.Command(inner))

	require.Equal(t,
		[]string{"docker", "run", "-i", "--rm", "--memory", "512m", "--runtime", "runsc", "plc:latest", "/usr/local/bin/plc", "runtime"},
		DockerPolicy{Image: "plc:latest", Memory: "512m", Network: true, Runtime: "runsc"}.Command(inner))

	spec := ContainerSpec{Command: inner, Docker: &DockerPolicy{Image: "img"}}
	require.Equal(t, "docker", spec.argv()[0])
	require.Equal(t, inner, ContainerSpec{Command: inner}.argv())
}
