// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package plc

import (
	"bufio"
	"context"
	"errors"
	"strings"
)

// Session is a live, bidirectional message channel to one runtime. A session
// serves one invocation at a time.
type Session interface {
	// Name returns the container the session belongs to.
	Name() string
	Send(ctx context.Context, msg Message) error
	// Receive blocks until the next message arrives. It returns
	// ErrChannelClosed on an orderly close.
	Receive(ctx context.Context) (Message, error)
	Close() error
}

// Resolver finds or starts the session for a container.
type Resolver interface {
	// Find returns a live session for the container, or nil.
	Find(name string) Session
	// Start launches a runtime for the container. A shared session is kept
	// for reuse by later invocations; an exclusive one is closed by the
	// handler once the invocation ends.
	Start(ctx context.Context, name string, shared bool) (Session, error)
}

// ErrNoContainer reports a function source without a container line.
var ErrNoContainer = errors.New("function source does not name a container")

const containerMetaKey = "container:"

// ParseContainerMeta extracts the container a function runs in from its
// source. The first comment line of the form
//
//	# container: <name> [shared]
//
// names the container; the optional trailing word "shared" marks the
// session as reusable by other invocations.
func ParseContainerMeta(src string) (name string, shared bool, err error) {
	sc := bufio.NewScanner(strings.NewReader(src))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if !strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "#"))
		if !strings.HasPrefix(line, containerMetaKey) {
			continue
		}
		fields := strings.Fields(strings.TrimPrefix(line, containerMetaKey))
		if len(fields) == 0 {
			return "", false, ErrNoContainer
		}
		name = fields[0]
		for _, f := range fields[1:] {
			if strings.EqualFold(f, "shared") {
				shared = true
			}
		}
		return name, shared, nil
	}
	if err := sc.Err(); err != nil {
		return "", false, err
	}
	return "", false, ErrNoContainer
}

// ChannelSession is a Session over an already connected Channel, e.g. a
// unix socket or an in-process pipe.
type ChannelSession struct {
	*Channel
	name string
}

// NewChannelSession names ch as a session of the given container.
func NewChannelSession(name string, ch *Channel) *ChannelSession {
	return &ChannelSession{Channel: ch, name: name}
}

// Name implements Session.
func (s *ChannelSession) Name() string { return s.name }
