package supervisor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/mitchellh/go-ps"

	"github.com/oshokin/agent-updater/internal/logger"
)

// Controller stops, starts and reloads supervised services.
type Controller interface {
	// Start starts the named service.
	Start(ctx context.Context, name string) error
	// Stop stops the named service.
	Stop(ctx context.Context, name string) error
	// Reload makes the supervisor re-read its own configuration and apply it.
	Reload(ctx context.Context) error
}

// ErrSupervisorNotRunning is returned when the supervisor process cannot be found.
var ErrSupervisorNotRunning = errors.New("supervisor process is not running")

// ControlError reports a failed supervisor command.
type ControlError struct {
	// Action is the supervisorctl verb.
	Action string
	// Service is the target program, empty for reread/update.
	Service string
	// Output is the combined output of the command.
	Output string
	// Err is the underlying failure.
	Err error
}

// Error implements error.
func (e *ControlError) Error() string {
	target := e.Action
	if e.Service != "" {
		target += " " + e.Service
	}

	if e.Output == "" {
		return fmt.Sprintf("supervisorctl %s: %v", target, e.Err)
	}

	return fmt.Sprintf("supervisorctl %s: %v: %s", target, e.Err, e.Output)
}

// Unwrap returns the underlying failure.
func (e *ControlError) Unwrap() error {
	return e.Err
}

// Supervisorctl drives the supervisor through its control utility.
type Supervisorctl struct {
	// binary is the supervisorctl executable.
	binary string
	// processName is the supervisor daemon name checked before every command.
	processName string
	// timeout bounds one command.
	timeout time.Duration
	// processes lists running processes; replaced in tests.
	processes func() ([]ps.Process, error)
}

// Option configures Supervisorctl.
type Option func(*Supervisorctl)

// WithProcessCheck requires a running process with the given executable name
// before any command is issued.
func WithProcessCheck(name string) Option {
	return func(s *Supervisorctl) {
		s.processName = name
	}
}

// WithTimeout bounds every command.
func WithTimeout(timeout time.Duration) Option {
	return func(s *Supervisorctl) {
		if timeout > 0 {
			s.timeout = timeout
		}
	}
}

// defaultTimeout bounds a command when no timeout is configured.
const defaultTimeout = 30 * time.Second

// NewSupervisorctl creates a controller invoking binary.
func NewSupervisorctl(binary string, opts ...Option) *Supervisorctl {
	s := &Supervisorctl{
		binary:    binary,
		timeout:   defaultTimeout,
		processes: ps.Processes,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Start runs `supervisorctl start <name>`.
func (s *Supervisorctl) Start(ctx context.Context, name string) error {
	return s.run(ctx, "start", name)
}

// Stop runs `supervisorctl stop <name>`.
func (s *Supervisorctl) Stop(ctx context.Context, name string) error {
	return s.run(ctx, "stop", name)
}

// Reload runs `supervisorctl reread` followed by `supervisorctl update`.
func (s *Supervisorctl) Reload(ctx context.Context) error {
	if err := s.run(ctx, "reread", ""); err != nil {
		return err
	}

	return s.run(ctx, "update", "")
}

// run executes one supervisorctl verb.
func (s *Supervisorctl) run(ctx context.Context, action, service string) error {
	if err := s.ensureRunning(); err != nil {
		return &ControlError{Action: action, Service: service, Err: err}
	}

	args := []string{action}
	if service != "" {
		args = append(args, service)
	}

	cmdCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var output bytes.Buffer

	cmd := exec.CommandContext(cmdCtx, s.binary, args...)
	cmd.Stdout = &output
	cmd.Stderr = &output

	logger.DebugKV(ctx, "Running supervisor command", "binary", s.binary, "args", args)

	if err := cmd.Run(); err != nil {
		return &ControlError{
			Action:  action,
			Service: service,
			Output:  strings.TrimSpace(output.String()),
			Err:     err,
		}
	}

	return nil
}

// ensureRunning looks for the supervisor daemon among running processes.
func (s *Supervisorctl) ensureRunning() error {
	if s.processName == "" {
		return nil
	}

	processList, err := s.processes()
	if err != nil {
		return fmt.Errorf("list processes: %w", err)
	}

	for _, process := range processList {
		if process.Executable() == s.processName {
			return nil
		}
	}

	return fmt.Errorf("%s: %w", s.processName, ErrSupervisorNotRunning)
}
