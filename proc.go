package toolhost

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"os"
	"os/exec"
)

// ServerDescriptor is the caller-supplied identity of a tool server: a name,
// plus either a command to spawn (stdio transport) or a URL to connect to (SSE
// transport). It is immutable once a connect has been issued.
type ServerDescriptor struct {
	Name    string
	Command string
	Args    []string
	Env     []string

	// URL, when set, selects the SSE transport instead of spawning a process.
	URL string
}

// Process is a Transport backed by a spawned tool-server subprocess. It wires
// the child's stdin/stdout to a StdIO framer and reports the child's exit
// through Exited, making process death observable to the owning session. The
// subprocess handle is owned exclusively by this value; only Stop terminates it.
type Process struct {
	desc   ServerDescriptor
	logger *slog.Logger
	opts   []StdIOOption

	cmd    *exec.Cmd
	stdio  *StdIO
	exited chan error
}

// ProcessOption configures a Process transport.
type ProcessOption func(*Process)

// WithProcessLogger sets the logger for process lifecycle events.
func WithProcessLogger(logger *slog.Logger) ProcessOption {
	return func(p *Process) {
		p.logger = logger
	}
}

// WithProcessStdIOOptions forwards options to the underlying StdIO framer.
func WithProcessStdIOOptions(opts ...StdIOOption) ProcessOption {
	return func(p *Process) {
		p.opts = append(p.opts, opts...)
	}
}

// NewProcess creates a subprocess transport for the given descriptor. The
// child is not spawned until Start.
func NewProcess(desc ServerDescriptor, options ...ProcessOption) *Process {
	p := &Process{
		desc:   desc,
		logger: slog.Default(),
		exited: make(chan error, 1),
	}
	for _, opt := range options {
		opt(p)
	}
	return p
}

// Start spawns the subprocess, wires its stdio, and begins watching for exit.
// The child's stderr passes through to the host's stderr so server diagnostics
// stay visible.
func (p *Process) Start(ctx context.Context) error {
	cmd := exec.Command(p.desc.Command, p.desc.Args...)
	if len(p.desc.Env) > 0 {
		cmd.Env = append(os.Environ(), p.desc.Env...)
	}
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("spawn %q: %w", p.desc.Command, err)
	}

	p.cmd = cmd
	p.stdio = NewStdIO(stdout, stdin, p.opts...)
	if err := p.stdio.Start(ctx); err != nil {
		_ = cmd.Process.Kill()
		return err
	}

	go func() {
		err := cmd.Wait()
		if err != nil {
			p.logger.Warn("tool server process exited",
				slog.String("server", p.desc.Name), slog.String("err", err.Error()))
		}
		p.exited <- err
	}()

	return nil
}

// Send forwards to the stdio framer.
func (p *Process) Send(ctx context.Context, msg Message) error {
	return p.stdio.Send(ctx, msg)
}

// Messages forwards to the stdio framer.
func (p *Process) Messages() iter.Seq[Message] {
	return p.stdio.Messages()
}

// Exited delivers the subprocess exit exactly once; nil means a clean exit.
func (p *Process) Exited() <-chan error {
	return p.exited
}

// Stop closes the framer and terminates the subprocess if it is still alive.
func (p *Process) Stop() {
	if p.stdio != nil {
		p.stdio.Stop()
	}
	if p.cmd != nil && p.cmd.Process != nil {
		// Kill is a no-op error if the child already exited.
		_ = p.cmd.Process.Kill()
	}
}
