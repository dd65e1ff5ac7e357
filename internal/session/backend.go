// Package session owns one agent child at a time: the PTY backend, the
// session loop that serializes every mutation, and the credential-switch
// restart that rebuilds the child without dropping client connections.
package session

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"
	"golang.org/x/sys/unix"

	"github.com/groblegark/coop/internal/logger"
)

// ErrClosed is returned by Write after the child has exited.
var ErrClosed = errors.New("backend closed")

// ExitStatus describes how the child ended.
type ExitStatus struct {
	Code   int
	Signal string // signal name when signal-terminated, else ""
}

// Backend wraps one agent process under a PTY.
type Backend struct {
	cmd  *exec.Cmd
	ptmx *os.File

	mu         sync.Mutex
	cols, rows int
	closed     bool

	done chan struct{}
	exit ExitStatus
}

// Spawn starts argv under a fresh PTY with the given environment and size.
func Spawn(argv []string, env []string, cwd string, cols, rows int) (*Backend, error) {
	if len(argv) == 0 {
		return nil, fmt.Errorf("spawn: empty argv")
	}
	binPath, err := exec.LookPath(argv[0])
	if err != nil {
		return nil, fmt.Errorf("spawn: agent %q not found: %w", argv[0], err)
	}

	cmd := exec.Command(binPath, argv[1:]...)
	cmd.Env = env
	if cwd != "" {
		cmd.Dir = cwd
	}

	size := &pty.Winsize{Cols: uint16(cols), Rows: uint16(rows)}
	ptmx, err := pty.StartWithSize(cmd, size)
	if err != nil {
		return nil, fmt.Errorf("spawn: start pty: %w", err)
	}

	b := &Backend{
		cmd:  cmd,
		ptmx: ptmx,
		cols: cols,
		rows: rows,
		done: make(chan struct{}),
	}

	go func() {
		exit := ExitStatus{}
		if err := cmd.Wait(); err != nil {
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				exit.Code = exitErr.ExitCode()
				if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
					exit.Signal = unix.SignalName(ws.Signal())
				}
			} else {
				exit.Code = 1
			}
		}
		b.mu.Lock()
		b.exit = exit
		b.closed = true
		b.mu.Unlock()
		close(b.done)
		ptmx.Close()
		logger.Info("child exited", "pid", cmd.Process.Pid, "code", exit.Code, "signal", exit.Signal)
	}()

	return b, nil
}

// PID returns the child process id.
func (b *Backend) PID() int {
	if b.cmd.Process == nil {
		return 0
	}
	return b.cmd.Process.Pid
}

// Write sends input bytes to the PTY.
func (b *Backend) Write(p []byte) (int, error) {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return 0, ErrClosed
	}
	return b.ptmx.Write(p)
}

// Resize changes the PTY dimensions; identical sizes are a no-op.
func (b *Backend) Resize(cols, rows int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	if cols == b.cols && rows == b.rows {
		return nil
	}
	if err := pty.Setsize(b.ptmx, &pty.Winsize{Cols: uint16(cols), Rows: uint16(rows)}); err != nil {
		return fmt.Errorf("resize: %w", err)
	}
	b.cols, b.rows = cols, rows
	return nil
}

// Size returns the current PTY dimensions.
func (b *Backend) Size() (cols, rows int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cols, b.rows
}

// Signal delivers a UNIX signal to the child.
func (b *Backend) Signal(sig unix.Signal) error {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return ErrClosed
	}
	return b.cmd.Process.Signal(sig)
}

// ReadLoop copies PTY output into fn until EOF. fn receives a private copy
// of each chunk. Runs on its own goroutine, one per child.
func (b *Backend) ReadLoop(fn func(data []byte)) {
	buf := make([]byte, 4096)
	firstByte := true
	started := time.Now()
	for {
		n, err := b.ptmx.Read(buf)
		if n > 0 {
			if firstByte {
				logger.Debug("first PTY output", "pid", b.PID(), "after", time.Since(started).Round(time.Millisecond))
				firstByte = false
			}
			data := make([]byte, n)
			copy(data, buf[:n])
			fn(data)
		}
		if err != nil {
			return
		}
	}
}

// Done is closed when the child has exited.
func (b *Backend) Done() <-chan struct{} { return b.done }

// Wait blocks until exit and returns the status.
func (b *Backend) Wait() ExitStatus {
	<-b.done
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.exit
}

// Terminate SIGTERMs the child, waits up to grace, then SIGKILLs.
func (b *Backend) Terminate(grace time.Duration) ExitStatus {
	b.Signal(unix.SIGTERM)
	select {
	case <-b.done:
	case <-time.After(grace):
		logger.Warn("child ignored SIGTERM, killing", "pid", b.PID())
		b.Signal(unix.SIGKILL)
		<-b.done
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.exit
}
