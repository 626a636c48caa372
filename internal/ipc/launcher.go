package ipc

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/transitwatch/internal/common"
)

// Worker process file descriptors. Stdout and stderr stay free for logs.
const (
	CommandsFD = 3
	EventsFD   = 4
)

// Transport is a running worker as seen by the orchestrator
type Transport struct {
	Commands io.WriteCloser // Orchestrator -> worker frames
	Events   io.ReadCloser  // Worker -> orchestrator frames

	// Exited is closed once the worker has gone away
	Exited <-chan struct{}

	// Kill stops the worker, forcibly if it does not exit in time
	Kill func() error
}

// Launcher starts a worker
type Launcher interface {
	Launch(ctx context.Context) (*Transport, error)
}

// ProcessLauncher runs the worker as a child process.
// Frames travel over two extra pipes so the child keeps its stdout and stderr.
type ProcessLauncher struct {
	Binary      string
	Args        []string
	Env         []string
	StopTimeout time.Duration
	Logger      arbor.ILogger
}

// NewProcessLauncher creates a launcher for `<binary> worker <args...>`.
// An empty binary means the running executable.
func NewProcessLauncher(binary string, args []string, logger arbor.ILogger) (*ProcessLauncher, error) {
	if binary == "" {
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve executable: %w", err)
		}
		binary = exe
	}
	return &ProcessLauncher{
		Binary:      binary,
		Args:        append([]string{"worker"}, args...),
		StopTimeout: 5 * time.Second,
		Logger:      logger,
	}, nil
}

// Launch starts the child process
func (l *ProcessLauncher) Launch(ctx context.Context) (*Transport, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	commandsR, commandsW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create command pipe: %w", err)
	}
	eventsR, eventsW, err := os.Pipe()
	if err != nil {
		commandsR.Close()
		commandsW.Close()
		return nil, fmt.Errorf("failed to create event pipe: %w", err)
	}

	// Not CommandContext: the worker outlives the launch request
	cmd := exec.Command(l.Binary, l.Args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Env = append(os.Environ(), l.Env...)
	cmd.ExtraFiles = []*os.File{commandsR, eventsW} // fd 3, fd 4

	if err := cmd.Start(); err != nil {
		commandsR.Close()
		commandsW.Close()
		eventsR.Close()
		eventsW.Close()
		return nil, fmt.Errorf("failed to start worker %s: %w", l.Binary, err)
	}

	// The child holds its own copies; closing ours lets EOF propagate on exit
	commandsR.Close()
	eventsW.Close()

	pid := cmd.Process.Pid
	l.Logger.Info().
		Int("pid", pid).
		Str("binary", l.Binary).
		Strs("args", l.Args).
		Msg("Worker process started")

	exited := make(chan struct{})
	common.SafeGo(l.Logger, "worker-wait", func() {
		err := cmd.Wait()
		if err != nil && !isProcessExitError(err) {
			l.Logger.Warn().Err(err).Int("pid", pid).Msg("Worker process exited with error")
		} else {
			l.Logger.Info().Int("pid", pid).Msg("Worker process exited")
		}
		close(exited)
	})

	var killOnce sync.Once
	var killErr error
	kill := func() error {
		killOnce.Do(func() {
			commandsW.Close()

			select {
			case <-exited:
				return
			case <-time.After(l.StopTimeout):
			}

			l.Logger.Info().Int("pid", pid).Msg("Terminating worker process")
			if err := cmd.Process.Kill(); err != nil {
				killErr = fmt.Errorf("failed to kill worker (pid %d): %w", pid, err)
				return
			}
			<-exited
		})
		return killErr
	}

	return &Transport{
		Commands: commandsW,
		Events:   eventsR,
		Exited:   exited,
		Kill:     kill,
	}, nil
}

// isProcessExitError returns true if the error is a normal process exit
func isProcessExitError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "signal: killed") ||
		strings.Contains(errStr, "exit status 0")
}

// PipeLauncher runs the worker host in this process over in-memory pipes
type PipeLauncher struct {
	NewHost func() *Host
	Logger  arbor.ILogger
}

// Launch starts a fresh host
func (l *PipeLauncher) Launch(ctx context.Context) (*Transport, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	host := l.NewHost()
	commandsR, commandsW := io.Pipe()
	eventsR, eventsW := io.Pipe()

	hostCtx, cancel := context.WithCancel(context.Background())
	exited := make(chan struct{})
	common.SafeGo(l.Logger, "worker-inproc", func() {
		defer close(exited)
		err := host.Serve(hostCtx, commandsR, eventsW)
		eventsW.CloseWithError(err)
		commandsR.Close()
	})

	l.Logger.Info().Msg("In-process worker started")

	kill := func() error {
		commandsW.Close()
		cancel()
		<-exited
		return nil
	}

	return &Transport{
		Commands: commandsW,
		Events:   eventsR,
		Exited:   exited,
		Kill:     kill,
	}, nil
}
