// Package capture produces raw PCM from an external recorder process.
//
// Audio is always signed 16-bit little-endian interleaved samples, which is
// what arecord and parec emit with the default command lines.
package capture

import (
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dxb134111/roc-droid-modified/internal/logging"
)

var log = logging.L("capture")

// Kind selects which recorder command an Opener runs.
type Kind int

const (
	Microphone Kind = iota
	Playback
)

func (k Kind) String() string {
	switch k {
	case Microphone:
		return "microphone"
	case Playback:
		return "playback"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ErrNoCommand is returned when the recorder command for a kind is blank.
var ErrNoCommand = errors.New("capture: no command configured")

// Opener starts a PCM stream for the given kind.
type Opener interface {
	Open(kind Kind) (io.ReadCloser, error)
}

// CommandOpener runs one command line per kind. Arguments are split on
// whitespace; no shell quoting is applied. The placeholders {rate} and
// {channels} are replaced with SampleRate and Channels so the recorder
// produces the format the stream is framed for.
type CommandOpener struct {
	Microphone string
	Playback   string
	SampleRate int
	Channels   int
}

func (o CommandOpener) Open(kind Kind) (io.ReadCloser, error) {
	line := o.Microphone
	if kind == Playback {
		line = o.Playback
	}
	src, err := StartCommand(o.expand(line))
	if err != nil {
		return nil, fmt.Errorf("open %s capture: %w", kind, err)
	}
	return src, nil
}

func (o CommandOpener) expand(line string) string {
	return strings.NewReplacer(
		"{rate}", strconv.Itoa(o.SampleRate),
		"{channels}", strconv.Itoa(o.Channels),
	).Replace(line)
}

// CommandSource is a running recorder process whose stdout is the PCM
// stream.
type CommandSource struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser

	closeOnce sync.Once
	closeErr  error
}

// StartCommand launches the command line and returns its stdout as a
// stream. Stderr is forwarded to the log at debug level.
func StartCommand(line string) (*CommandSource, error) {
	args := strings.Fields(line)
	if len(args) == 0 {
		return nil, ErrNoCommand
	}

	cmd := exec.Command(args[0], args[1:]...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	cmd.Stderr = &stderrLogger{command: args[0]}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", args[0], err)
	}
	log.Info("capture process started", "command", args[0], "pid", cmd.Process.Pid)
	return &CommandSource{cmd: cmd, stdout: stdout}, nil
}

func (s *CommandSource) Read(p []byte) (int, error) {
	return s.stdout.Read(p)
}

// Close kills the recorder and reaps it. Safe to call more than once.
func (s *CommandSource) Close() error {
	s.closeOnce.Do(func() {
		if s.cmd.ProcessState == nil {
			_ = s.cmd.Process.Kill()
		}
		waitDone := make(chan error, 1)
		go func() { waitDone <- s.cmd.Wait() }()

		select {
		case err := <-waitDone:
			var exitErr *exec.ExitError
			if err != nil && !errors.As(err, &exitErr) {
				s.closeErr = err
			}
		case <-time.After(5 * time.Second):
			s.closeErr = fmt.Errorf("capture process %d did not exit", s.cmd.Process.Pid)
		}
		log.Debug("capture process stopped", "pid", s.cmd.Process.Pid)
	})
	return s.closeErr
}

type stderrLogger struct {
	command string
}

func (l *stderrLogger) Write(p []byte) (int, error) {
	if msg := strings.TrimSpace(string(p)); msg != "" {
		log.Debug("capture stderr", "command", l.command, "output", msg)
	}
	return len(p), nil
}
