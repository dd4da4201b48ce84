// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package plc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/apache/arrow-go/v18/arrow/memory"
)

// ErrUnknownContainer reports a container name with no configured spec.
var ErrUnknownContainer = errors.New("unknown container")

// stopTimeout bounds how long Close waits for a runtime to exit after its
// stdin is closed.
const stopTimeout = 5 * time.Second

// DockerPolicy wraps a runtime command in a docker container.
type DockerPolicy struct {
	Image   string // Docker image (e.g. "plc-runtime:latest")
	Memory  string // memory limit, e.g. "512m"; empty for none
	Network bool   // allow network access
	Runtime string // OCI runtime, e.g. "runsc"; empty for the default
}

// Command returns the docker invocation running inner inside the image with
// stdin kept open for the channel.
func (p DockerPolicy) Command(inner []string) []string {
	args := []string{"docker", "run", "-i", "--rm"}
	if p.Memory != "" {
		args = append(args, "--memory", p.Memory)
	}
	if !p.Network {
		args = append(args, "--network=none")
	}
	if p.Runtime != "" {
		args = append(args, "--runtime", p.Runtime)
	}
	args = append(args, p.Image)
	return append(args, inner...)
}

// ContainerSpec describes how to launch the runtime of a container.
type ContainerSpec struct {
	Name     string
	Command  []string // runtime command; inside the image when Docker is set
	Env      []string // extra KEY=VALUE pairs
	Dir      string
	Compress bool // zstd-compress frames sent to the runtime
	Docker   *DockerPolicy
}

func (s ContainerSpec) argv() []string {
	if s.Docker != nil {
		return s.Docker.Command(s.Command)
	}
	return s.Command
}

// Pool is a Resolver that launches runtimes as child processes talking over
// their stdin and stdout. Shared sessions are kept in the pool and handed to
// one invocation at a time; exclusive ones are owned by the caller.
type Pool struct {
	specs  map[string]ContainerSpec
	logger *slog.Logger
	mem    memory.Allocator

	mu     sync.Mutex
	shared map[string]*processSession
}

// NewPool creates a pool for the given containers.
func NewPool(specs ...ContainerSpec) *Pool {
	p := &Pool{
		specs:  make(map[string]ContainerSpec, len(specs)),
		logger: slog.Default(),
		mem:    memory.DefaultAllocator,
		shared: make(map[string]*processSession),
	}
	for _, s := range specs {
		p.specs[s.Name] = s
	}
	return p
}

// SetLogger sets the logger for session lifecycle events.
func (p *Pool) SetLogger(logger *slog.Logger) {
	p.logger = logger
}

// SetAllocator sets the allocator used by session channels.
func (p *Pool) SetAllocator(mem memory.Allocator) {
	p.mem = mem
}

// Find implements Resolver. It blocks while the shared session of the
// container is in use by another invocation.
func (p *Pool) Find(name string) Session {
	p.mu.Lock()
	s := p.shared[name]
	p.mu.Unlock()
	if s == nil || !s.acquire() {
		return nil
	}
	return s
}

// Start implements Resolver.
func (p *Pool) Start(ctx context.Context, name string, shared bool) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	spec, ok := p.specs[name]
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownContainer, name)
	}
	argv := spec.argv()
	if len(argv) == 0 {
		return nil, fmt.Errorf("container %q has no command", name)
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Env = append(os.Environ(), spec.Env...)
	cmd.Dir = spec.Dir
	cmd.Stderr = os.Stderr
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("creating stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("creating stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting runtime: %w", err)
	}

	s := &processSession{
		name:   name,
		pool:   p,
		cmd:    cmd,
		shared: shared,
		sem:    make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	s.ch = NewChannel(stdout, stdin,
		WithCloser(stdin),
		WithCompression(spec.Compress),
		WithAllocator(p.mem),
	)
	s.sem <- struct{}{}
	p.logger.Debug("runtime started", "container", name, "pid", cmd.Process.Pid, "shared", shared)

	if shared {
		p.mu.Lock()
		old := p.shared[name]
		p.shared[name] = s
		p.mu.Unlock()
		if old != nil {
			p.logger.Debug("replacing shared runtime", "container", name)
		}
	}
	return s, nil
}

// Close stops every shared runtime in the pool.
func (p *Pool) Close() error {
	p.mu.Lock()
	sessions := make([]*processSession, 0, len(p.shared))
	for _, s := range p.shared {
		sessions = append(sessions, s)
	}
	p.shared = make(map[string]*processSession)
	p.mu.Unlock()

	var errs []error
	for _, s := range sessions {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (p *Pool) forget(s *processSession) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.shared[s.name] == s {
		delete(p.shared, s.name)
	}
}

// processSession is a Session over the stdio of a runtime process.
type processSession struct {
	name   string
	pool   *Pool
	cmd    *exec.Cmd
	ch     *Channel
	shared bool

	sem  chan struct{} // holds a token while an invocation uses the session
	done chan struct{}

	closeOnce sync.Once
	closeErr  error
}

func (s *processSession) Name() string { return s.name }

func (s *processSession) Send(ctx context.Context, msg Message) error {
	return s.ch.Send(ctx, msg)
}

func (s *processSession) Receive(ctx context.Context) (Message, error) {
	return s.ch.Receive(ctx)
}

// acquire waits until the session is free. It reports false if the session
// was closed meanwhile.
func (s *processSession) acquire() bool {
	select {
	case <-s.done:
		return false
	case s.sem <- struct{}{}:
		select {
		case <-s.done:
			<-s.sem
			return false
		default:
			return true
		}
	}
}

// Release hands a shared session back to the pool.
func (s *processSession) Release() {
	select {
	case <-s.sem:
	default:
	}
}

// Close stops the runtime: closing its stdin ends the serve loop, and a
// runtime that does not exit in time is killed.
func (s *processSession) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		s.pool.forget(s)
		if err := s.ch.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
			s.closeErr = err
		}

		exited := make(chan error, 1)
		go func() { exited <- s.cmd.Wait() }()
		select {
		case err := <-exited:
			var exitErr *exec.ExitError
			if err != nil && !errors.As(err, &exitErr) && s.closeErr == nil {
				s.closeErr = err
			}
		case <-time.After(stopTimeout):
			_ = s.cmd.Process.Kill()
			<-exited
			s.pool.logger.Warn("runtime killed after stop timeout", "container", s.name)
		}
		s.pool.logger.Debug("runtime stopped", "container", s.name)
	})
	return s.closeErr
}

var (
	_ Session   = (*processSession)(nil)
	_ Releaser  = (*processSession)(nil)
	_ io.Closer = (*Pool)(nil)
)
