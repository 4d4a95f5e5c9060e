// Package shell runs the external tools fox orchestrates (xcodebuild,
// codesign, security, xcrun) and captures what they print.
package shell

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Cmd describes one external process invocation
type Cmd struct {
	Name string
	Args []string
	Dir  string
	Env  []string

	// Stream receives the combined output line by line while the process
	// runs. The output is captured either way.
	Stream io.Writer

	// Stderr, when set, receives standard error instead of merging it into
	// the captured output. Use it for commands whose stdout is parsed.
	Stderr io.Writer

	// Secrets are masked whenever the command line is printed or logged.
	Secrets []string
}

// String renders the command line with every secret masked
func (c Cmd) String() string {
	return Redact(Join(append([]string{c.Name}, c.Args...)), c.Secrets...)
}

// Result holds the captured output of a finished process
type Result struct {
	Output   []byte
	ExitCode int
}

// ExitError is returned when a process exits with a non-zero status
type ExitError struct {
	Command  string
	ExitCode int
	Output   []byte
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("%s exited with non-zero status %d", e.Command, e.ExitCode)
}

// Runner executes external commands
type Runner interface {
	Run(ctx context.Context, cmd Cmd) (*Result, error)
}

// DefaultWaitDelay bounds how long Run keeps reading output after the
// process exited or was cancelled. Background children that inherited the
// output pipe would otherwise block Run until they exit.
const DefaultWaitDelay = 5 * time.Second

// ExecRunner runs commands with os/exec
type ExecRunner struct {
	Logger    *logrus.Logger
	WaitDelay time.Duration
}

// NewExecRunner returns a Runner backed by os/exec
func NewExecRunner(logger *logrus.Logger) *ExecRunner {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &ExecRunner{Logger: logger, WaitDelay: DefaultWaitDelay}
}

// Run starts the command, waits for it and returns its combined output.
// A non-zero exit yields both the Result and an *ExitError.
func (r *ExecRunner) Run(ctx context.Context, c Cmd) (*Result, error) {
	r.Logger.WithField("dir", c.Dir).Debugf("exec: %s", c)

	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.Dir = c.Dir
	if len(c.Env) > 0 {
		cmd.Env = append(cmd.Environ(), c.Env...)
	}

	cmd.WaitDelay = r.WaitDelay
	if cmd.WaitDelay <= 0 {
		cmd.WaitDelay = DefaultWaitDelay
	}

	pr, pw := io.Pipe()
	cmd.Stdout = pw
	cmd.Stderr = pw
	if c.Stderr != nil {
		cmd.Stderr = c.Stderr
	}

	if err := cmd.Start(); err != nil {
		pw.Close()
		pr.Close()
		return nil, fmt.Errorf("failed to start %s: %w", c.Name, err)
	}

	var captured bytes.Buffer
	done := make(chan error, 1)
	go func() {
		done <- copyLines(&captured, c.Stream, pr)
	}()

	waitErr := cmd.Wait()
	pw.Close()
	if err := <-done; err != nil {
		r.Logger.WithError(err).Warnf("reading output of %s", c.Name)
	}

	if errors.Is(waitErr, exec.ErrWaitDelay) {
		// exited cleanly, a leftover child still held the output open
		r.Logger.Warnf("%s left a background process holding its output, stopped reading after %s", c.Name, cmd.WaitDelay)
		waitErr = nil
	}

	res := &Result{Output: captured.Bytes()}
	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
			r.Logger.WithField("status", res.ExitCode).Debugf("exec failed: %s", c.Name)
			return res, &ExitError{Command: c.Name, ExitCode: res.ExitCode, Output: res.Output}
		}
		return res, fmt.Errorf("failed to run %s: %w", c.Name, waitErr)
	}
	return res, nil
}

// copyLines reads r line by line into dst, echoing each line to stream
func copyLines(dst *bytes.Buffer, stream io.Writer, r io.Reader) error {
	br := bufio.NewReader(r)
	for {
		line, err := br.ReadString('\n')
		if len(line) > 0 {
			dst.WriteString(line)
			if stream != nil {
				io.WriteString(stream, line)
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// Output runs a command that is expected to succeed and returns its output
// with trailing whitespace removed.
func Output(ctx context.Context, r Runner, c Cmd) (string, error) {
	res, err := r.Run(ctx, c)
	if err != nil {
		return "", err
	}
	return strings.TrimRight(string(res.Output), "\r\n\t "), nil
}
