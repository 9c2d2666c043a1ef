// Package runner executes a single external tool invocation as a supervised
// child process. It owns the process lifecycle, feeds its stdout and stderr
// line-by-line into a log publisher, and supports two-phase cancellation
// (polite interrupt, then forced kill after a grace interval).
package runner

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/caetera/spectronaut-webui/internal/logstream"
)

const (
	// maxLineSize bounds a single output line. Spectronaut occasionally
	// dumps long table rows; 1MB is comfortably above anything observed.
	maxLineSize = 1024 * 1024

	scanBufferSize = 64 * 1024
)

// Publisher receives output lines tagged with their source stream.
type Publisher interface {
	Publish(text string, source logstream.Source)
}

// Handle represents a supervised child process. It provides lifecycle
// management and safe concurrent observation of its state.
type Handle struct {
	cmd     *exec.Cmd
	state   AtomicState
	aborted atomic.Bool

	processState atomic.Pointer[os.ProcessState]
	pub          Publisher

	done chan struct{}
}

// New creates a Handle for the given argv, run in workingDir. Output lines
// are delivered to pub. The process is not started yet.
func New(argv []string, workingDir string, pub Publisher) (*Handle, error) {
	if len(argv) == 0 || argv[0] == "" {
		return nil, fmt.Errorf("argv cannot be empty")
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = workingDir

	// The tool is run in its own process group so that Abort reaches any
	// children it spawned; otherwise an orphaned child keeps the output
	// pipes open and holds up the tail drain indefinitely.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	h := &Handle{
		cmd:  cmd,
		pub:  pub,
		done: make(chan struct{}),
	}

	h.state.Store(StateCreated)

	return h, nil
}

// Start launches the process and begins draining its output. A launch
// failure (executable missing, permission denied) returns a SpawnError.
// Trying to start a Handle that is not in StateCreated returns an
// InvalidStateError.
func (h *Handle) Start() error {
	if !h.state.CompareAndSwap(StateCreated, StateStarting) {
		return NewInvalidStateError(h.state.Load(), StateStarting)
	}

	stdout, err := h.cmd.StdoutPipe()
	if err != nil {
		h.fail()
		return fmt.Errorf("create stdout pipe: %w", err)
	}

	stderr, err := h.cmd.StderrPipe()
	if err != nil {
		h.fail()
		return fmt.Errorf("create stderr pipe: %w", err)
	}

	if err := h.cmd.Start(); err != nil {
		h.fail()
		return SpawnError{Err: err}
	}

	h.state.Store(StateStarted)

	// Each stream gets a dedicated reader so a slow consumer downstream
	// never blocks the child: the publisher is non-blocking and the
	// readers drain the pipes as fast as the child writes.
	var readers sync.WaitGroup

	readers.Add(2)
	go h.drain(stdout, logstream.SourceStdout, &readers)
	go h.drain(stderr, logstream.SourceStderr, &readers)

	go func() {
		// Both pipes must reach EOF before Wait, and waiting for the
		// readers first guarantees every line produced before
		// termination was published before done closes.
		readers.Wait()

		h.cmd.Wait()

		h.processState.Store(h.cmd.ProcessState)
		h.state.Store(StateStopped)

		close(h.done)
	}()

	return nil
}

func (h *Handle) fail() {
	h.state.Store(StateFailed)
	close(h.done)
}

func (h *Handle) drain(pipe io.Reader, source logstream.Source, wg *sync.WaitGroup) {
	defer wg.Done()

	scanner := bufio.NewScanner(pipe)
	scanner.Buffer(make([]byte, scanBufferSize), maxLineSize)

	for scanner.Scan() {
		h.pub.Publish(scanner.Text(), source)
	}

	// A scan error (typically a line over maxLineSize) stops the scanner
	// short of EOF. The pipe must still be drained, or the child blocks on
	// a full pipe and never exits.
	if err := scanner.Err(); err != nil {
		h.pub.Publish(fmt.Sprintf("[output truncated: %v]", err), source)
		io.Copy(io.Discard, pipe)
	}
}

// Abort requests graceful termination: a polite interrupt first, then a
// forced kill if the process has not exited within grace. Abort is
// idempotent; calling it on an already-exited or already-aborted Handle is a
// no-op.
func (h *Handle) Abort(grace time.Duration) {
	if !h.state.CompareAndSwap(StateStarted, StateStopping) {
		return
	}

	h.aborted.Store(true)

	// Signal errors are ignored: the process may have exited between the
	// state check and the signal, which the waiter goroutine handles.
	syscall.Kill(-h.cmd.Process.Pid, syscall.SIGINT)

	go func() {
		select {
		case <-h.done:
		case <-time.After(grace):
			syscall.Kill(-h.cmd.Process.Pid, syscall.SIGKILL)
		}
	}()
}

// Done returns a channel that is closed when the process has exited and all
// of its output has been delivered.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// State returns the current lifecycle state.
func (h *Handle) State() State {
	return h.state.Load()
}

// Aborted reports whether termination was requested via Abort.
func (h *Handle) Aborted() bool {
	return h.aborted.Load()
}

// ExitCode returns the process exit code, or -1 if it has not exited or was
// killed by a signal.
func (h *Handle) ExitCode() int {
	ps := h.processState.Load()
	if ps == nil {
		return -1
	}

	return ps.ExitCode()
}

// Result classifies the outcome of an exited process: nil on exit code 0,
// ErrAborted if termination was requested via Abort (regardless of the
// resulting exit code), otherwise a ProcessExitError with the code.
func (h *Handle) Result() error {
	if h.aborted.Load() {
		return ErrAborted
	}

	if code := h.ExitCode(); code != 0 {
		return ProcessExitError{Code: code}
	}

	return nil
}
