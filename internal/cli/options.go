package cli

import (
	"errors"
	"io"

	"github.com/streamstore/mssqlfixture/container"
)

// Options are used to configure the command execution and are passed to the Run or Main function.
type Options interface {
	apply(*state) error
}

type optionFunc func(*state) error

func (f optionFunc) apply(s *state) error { return f(s) }

// WithStdout sets the writer for stdout.
func WithStdout(w io.Writer) Options {
	return optionFunc(func(s *state) error {
		if w == nil {
			return errors.New("stdout cannot be nil")
		}
		if s.stdout != nil {
			return errors.New("stdout already set")
		}
		s.stdout = w
		return nil
	})
}

// WithStderr sets the writer for stderr. Logs are written there too.
func WithStderr(w io.Writer) Options {
	return optionFunc(func(s *state) error {
		if w == nil {
			return errors.New("stderr cannot be nil")
		}
		if s.stderr != nil {
			return errors.New("stderr already set")
		}
		s.stderr = w
		return nil
	})
}

// WithContainers replaces the Docker-backed container runtime.
func WithContainers(c Containers) Options {
	return optionFunc(func(s *state) error {
		if c == nil {
			return errors.New("containers cannot be nil")
		}
		s.containers = c
		return nil
	})
}

// WithHealthCheck replaces the SQL health probe.
func WithHealthCheck(fn container.HealthFunc) Options {
	return optionFunc(func(s *state) error {
		if fn == nil {
			return errors.New("health check cannot be nil")
		}
		s.health = fn
		return nil
	})
}

// WithAdmin replaces the database administration issued against master.
func WithAdmin(a Admin) Options {
	return optionFunc(func(s *state) error {
		if a == nil {
			return errors.New("admin cannot be nil")
		}
		s.admin = a
		return nil
	})
}
