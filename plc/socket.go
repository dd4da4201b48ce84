// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package plc

import (
	"context"
	"errors"
	"net"
)

// SocketResolver is a Resolver for runtimes already listening on a socket,
// e.g. one started with "plc runtime --unix". Every invocation dials a new
// connection, so sessions are never shared.
type SocketResolver struct {
	Network  string // "unix" or "tcp"
	Address  string
	Compress bool

	dialer net.Dialer
}

// Find implements Resolver. Socket sessions are never reused.
func (r *SocketResolver) Find(string) Session { return nil }

// Start implements Resolver by dialing the socket.
func (r *SocketResolver) Start(ctx context.Context, name string, _ bool) (Session, error) {
	conn, err := r.dialer.DialContext(ctx, r.Network, r.Address)
	if err != nil {
		return nil, err
	}
	ch := NewChannel(conn, conn, WithCloser(conn), WithCompression(r.Compress))
	return NewChannelSession(name, ch), nil
}

// ServeListener accepts connections and serves each one on its own
// goroutine until the listener is closed.
func (rt *Runtime) ServeListener(ctx context.Context, ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		go func() {
			defer conn.Close()
			rt.ServeWithContext(ctx, conn, conn)
		}()
	}
}
