// Package shelltest provides a scripted shell.Runner for tests.
package shelltest

import (
	"context"
	"io"
	"strings"
	"sync"

	"github.com/aluedeke/go-fox/pkg/shell"
)

// Response is the scripted outcome of a command
type Response struct {
	Output   string
	ExitCode int
	Err      error

	// Do runs before the response is returned, e.g. to create files the
	// real tool would have produced.
	Do func(cmd shell.Cmd) error
}

// Rule maps a command to a response. A rule matches when Name equals the
// command name and every entry of Contains appears among its arguments.
type Rule struct {
	Name     string
	Contains []string
	Response Response
}

// Runner records every command it is asked to run and answers from its
// rules. Unmatched commands succeed with empty output.
type Runner struct {
	mu       sync.Mutex
	Rules    []Rule
	Commands []shell.Cmd
}

// On appends a rule and returns the runner for chaining
func (r *Runner) On(name string, contains []string, resp Response) *Runner {
	r.Rules = append(r.Rules, Rule{Name: name, Contains: contains, Response: resp})
	return r
}

// Run implements shell.Runner
func (r *Runner) Run(ctx context.Context, cmd shell.Cmd) (*shell.Result, error) {
	r.mu.Lock()
	r.Commands = append(r.Commands, cmd)
	r.mu.Unlock()

	resp := r.match(cmd)
	if resp.Do != nil {
		if err := resp.Do(cmd); err != nil {
			return nil, err
		}
	}
	if resp.Err != nil {
		return nil, resp.Err
	}
	if cmd.Stream != nil && resp.Output != "" {
		io.WriteString(cmd.Stream, resp.Output)
	}
	res := &shell.Result{Output: []byte(resp.Output), ExitCode: resp.ExitCode}
	if resp.ExitCode != 0 {
		return res, &shell.ExitError{Command: cmd.Name, ExitCode: resp.ExitCode, Output: res.Output}
	}
	return res, nil
}

func (r *Runner) match(cmd shell.Cmd) Response {
	for _, rule := range r.Rules {
		if rule.Name != cmd.Name {
			continue
		}
		if containsAll(cmd.Args, rule.Contains) {
			return rule.Response
		}
	}
	return Response{}
}

func containsAll(args, want []string) bool {
	for _, w := range want {
		found := false
		for _, a := range args {
			if a == w {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// Lines returns the recorded command lines, secrets masked
func (r *Runner) Lines() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	lines := make([]string, len(r.Commands))
	for i, c := range r.Commands {
		lines[i] = c.String()
	}
	return lines
}

// Find returns the first recorded command named name whose joined arguments
// contain substr.
func (r *Runner) Find(name, substr string) (shell.Cmd, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.Commands {
		if c.Name == name && strings.Contains(strings.Join(c.Args, " "), substr) {
			return c, true
		}
	}
	return shell.Cmd{}, false
}
