// Package systemtest provides a scripted system.Runner for tests.
package systemtest

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/BlueBeard63/nids-deploy/internal/system"
)

// ErrFailed is the error returned by commands scripted to fail
var ErrFailed = errors.New("exit status 1")

// Handler produces the result of a matched command
type Handler func(cmdline string) ([]byte, error)

type rule struct {
	prefix  string
	handler Handler
}

// Runner records every command and answers from rules matched by the
// longest command-line prefix. Unmatched commands succeed with no output.
type Runner struct {
	mu    sync.Mutex
	calls []string
	rules []rule
}

func NewRunner() *Runner {
	return &Runner{}
}

// On scripts the output and error for commands starting with prefix
func (r *Runner) On(prefix, output string, err error) *Runner {
	return r.OnFunc(prefix, func(string) ([]byte, error) {
		return []byte(output), err
	})
}

// Fail makes commands starting with prefix fail
func (r *Runner) Fail(prefix, output string) *Runner {
	return r.On(prefix, output, ErrFailed)
}

func (r *Runner) OnFunc(prefix string, handler Handler) *Runner {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rules = append(r.rules, rule{prefix: prefix, handler: handler})
	return r
}

func (r *Runner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmdline := system.CommandLine(name, args...)

	r.mu.Lock()
	r.calls = append(r.calls, cmdline)
	var match *rule
	for i := range r.rules {
		if strings.HasPrefix(cmdline, r.rules[i].prefix) {
			if match == nil || len(r.rules[i].prefix) >= len(match.prefix) {
				match = &r.rules[i]
			}
		}
	}
	r.mu.Unlock()

	if match == nil {
		return nil, nil
	}
	output, err := match.handler(cmdline)
	if err != nil {
		return output, &system.CommandError{Command: cmdline, Output: string(output), Err: err}
	}
	return output, nil
}

// Calls returns every command line run so far
func (r *Runner) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

// Count returns how many commands started with prefix
func (r *Runner) Count(prefix string) int {
	n := 0
	for _, call := range r.Calls() {
		if strings.HasPrefix(call, prefix) {
			n++
		}
	}
	return n
}

// Ran reports whether any command started with prefix
func (r *Runner) Ran(prefix string) bool {
	return r.Count(prefix) > 0
}

// Reset forgets recorded calls but keeps the rules
func (r *Runner) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = nil
}
