package job

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/j-angnoe/flux-framework-bundle/internal/shell"
)

// Files inside a job directory.
const (
	PIDFile      = "pid.txt"
	StdoutFile   = "stdout.txt"
	StderrFile   = "stderr.txt"
	ExitCodeFile = "exitcode.txt"
)

// minPID guards against pid files holding 0, 1 or garbage.
const minPID = 10

// killedExitCode is recorded for jobs ended by Stop.
const killedExitCode = 128 + int(syscall.SIGKILL)

// Job is a handle on a detached process and its output files. The process
// may be owned by another program; everything is read from the job
// directory.
type Job struct {
	token   Token
	dir     string
	grace   time.Duration
	logger  *zap.Logger
	metrics Metrics
}

// Status is a point-in-time view of a job.
type Status struct {
	Token     Token           `json:"token"`
	Running   bool            `json:"running"`
	PID       int             `json:"pid,omitempty"`
	ExitCode  *int            `json:"exit_code,omitempty"`
	Positions shell.Positions `json:"positions"`
}

// Token returns the job token.
func (j *Job) Token() Token { return j.token }

// Dir returns the job directory.
func (j *Job) Dir() string { return j.dir }

func (j *Job) path(name string) string {
	return filepath.Join(j.dir, name)
}

// PID returns the process id of the running job.
func (j *Job) PID() (int, error) {
	data, err := os.ReadFile(j.path(PIDFile))
	if errors.Is(err, os.ErrNotExist) {
		return 0, ErrNoActiveProcess
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read pid of %s: %w", j.token, err)
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return 0, ErrNoActiveProcess
	}
	pid, err := strconv.Atoi(text)
	if err != nil || pid < minPID {
		return 0, fmt.Errorf("%w: %q", ErrIllegalPID, text)
	}
	return pid, nil
}

// IsRunning reports whether the job process is alive.
func (j *Job) IsRunning() bool {
	pid, err := j.PID()
	if err != nil {
		return false
	}
	return syscall.Kill(pid, 0) == nil
}

// Stop kills the job's process group. A job without a running process is
// left alone and ErrNoActiveProcess is returned.
func (j *Job) Stop() error {
	pid, err := j.PID()
	if err != nil {
		if errors.Is(err, ErrNoActiveProcess) {
			j.logger.Info("no active process to stop", zap.String("token", j.token.String()))
		}
		return err
	}
	// The wrapper leads its own session, so its pid is the group id.
	if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
		return fmt.Errorf("failed to kill job %s: %w", j.token, err)
	}
	if err := syscall.Kill(pid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
		return fmt.Errorf("failed to kill job %s: %w", j.token, err)
	}

	// The wrapper died with the group, so record what it could not.
	if _, err := os.Stat(j.path(ExitCodeFile)); errors.Is(err, os.ErrNotExist) {
		if err := os.WriteFile(j.path(ExitCodeFile), []byte(strconv.Itoa(killedExitCode)+"\n"), 0o644); err != nil {
			return fmt.Errorf("failed to record exit code of %s: %w", j.token, err)
		}
	}
	if err := os.Remove(j.path(PIDFile)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove pid file of %s: %w", j.token, err)
	}
	j.metrics.JobStopped()
	j.logger.Info("job stopped", zap.String("token", j.token.String()), zap.Int("pid", pid))
	return nil
}

// ExitCode returns the recorded exit code. ok is false while the job has
// not finished.
func (j *Job) ExitCode() (code int, ok bool, err error) {
	data, err := os.ReadFile(j.path(ExitCodeFile))
	if errors.Is(err, os.ErrNotExist) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to read exit code of %s: %w", j.token, err)
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return 0, false, nil
	}
	code, err = strconv.Atoi(text)
	if err != nil {
		return 0, false, fmt.Errorf("malformed exit code of %s: %q", j.token, text)
	}
	return code, true, nil
}

// Positions returns the current sizes of the output files.
func (j *Job) Positions() shell.Positions {
	p := shell.Positions{}
	for name, file := range outputFiles {
		var size int64
		if info, err := os.Stat(j.path(file)); err == nil {
			size = info.Size()
		}
		p[name] = size
	}
	return p
}

// Status collects the running state, pid, exit code and positions.
func (j *Job) Status() (Status, error) {
	st := Status{Token: j.token, Positions: j.Positions()}
	if pid, err := j.PID(); err == nil {
		st.PID = pid
		st.Running = syscall.Kill(pid, 0) == nil
	} else if !errors.Is(err, ErrNoActiveProcess) {
		return st, err
	}
	code, ok, err := j.ExitCode()
	if err != nil {
		return st, err
	}
	if ok {
		st.ExitCode = &code
	}
	return st, nil
}

var outputFiles = map[string]string{
	shell.Stdout: StdoutFile,
	shell.Stderr: StderrFile,
}

// openHandles opens the output files at positions.
func (j *Job) openHandles(positions shell.Positions) ([]shell.Handle, error) {
	handles := make([]shell.Handle, 0, len(outputFiles))
	for _, name := range []string{shell.Stdout, shell.Stderr} {
		h, err := shell.NewFileHandle(name, j.path(outputFiles[name]), positions[name])
		if err != nil {
			closeHandles(handles)
			return nil, err
		}
		handles = append(handles, h)
	}
	return handles, nil
}

func closeHandles(handles []shell.Handle) {
	for _, h := range handles {
		h.Close()
	}
}

// Lines reads the job output from positions onwards, following the files
// while the job runs. Reading continues for the grace period after the
// process is gone, and for as long as that still produces lines.
//
// positions, when not nil, is updated in place after every line, so that
// its final state resumes exactly where the sequence stopped.
func (j *Job) Lines(ctx context.Context, positions shell.Positions) iter.Seq2[shell.Line, error] {
	return func(yield func(shell.Line, error) bool) {
		if positions == nil {
			positions = shell.Positions{}
		}
		handles, err := j.openHandles(positions)
		if err != nil {
			yield(shell.Line{}, err)
			return
		}
		defer closeHandles(handles)

		var deadAt time.Time
		var progress int64 = -1
		keepGoing := func() bool {
			if j.IsRunning() {
				return true
			}
			if deadAt.IsZero() {
				deadAt = time.Now()
			}
			total := positions[shell.Stdout] + positions[shell.Stderr]
			advanced := total != progress
			progress = total
			return advanced || time.Since(deadAt) < j.grace
		}

		for line, err := range shell.ReadHandles(ctx, handles, positions, keepGoing) {
			if !yield(line, err) || err != nil {
				return
			}
		}
	}
}

// Available yields the complete lines written after positions without
// waiting for more. A trailing partial line is only included once the
// job has finished. positions is updated in place like in Lines.
func (j *Job) Available(ctx context.Context, positions shell.Positions, finished bool) iter.Seq2[shell.Line, error] {
	return func(yield func(shell.Line, error) bool) {
		handles, err := j.openHandles(positions)
		if err != nil {
			yield(shell.Line{}, err)
			return
		}
		defer closeHandles(handles)

		for line, err := range shell.ReadAvailable(ctx, handles, positions, finished) {
			if !yield(line, err) || err != nil {
				return
			}
		}
	}
}

// Wait blocks until the job process is gone and returns its exit code.
// Jobs that vanished without recording one report ErrNoActiveProcess.
func (j *Job) Wait(ctx context.Context) (int, error) {
	b := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(5*time.Millisecond),
		backoff.WithMaxInterval(250*time.Millisecond),
		backoff.WithMaxElapsedTime(0),
	)
	for j.IsRunning() {
		timer := time.NewTimer(b.NextBackOff())
		select {
		case <-ctx.Done():
			timer.Stop()
			return 0, ctx.Err()
		case <-timer.C:
		}
	}

	// The wrapper writes the exit code just before removing the pid file,
	// but a killed wrapper may leave neither behind.
	deadline := time.Now().Add(j.grace)
	for {
		code, ok, err := j.ExitCode()
		if err != nil || ok {
			return code, err
		}
		if time.Now().After(deadline) {
			return 0, fmt.Errorf("%w: %s ended without an exit code", ErrNoActiveProcess, j.token)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
