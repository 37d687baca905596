// Package dump runs the external logical dump utility and streams its output.
package dump

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"github.com/newthinker/dbbackup/internal/config"
	"github.com/newthinker/dbbackup/internal/core"
	"go.uber.org/zap"
)

// stderrLimit caps how much diagnostic output is kept for error messages
const stderrLimit = 16 * 1024

// CommandFunc builds the child process; tests swap it for a helper process.
type CommandFunc func(ctx context.Context, name string, args ...string) *exec.Cmd

// Producer launches the dump utility for a single database
type Producer struct {
	cfg        config.DatabaseConfig
	log        *zap.Logger
	newCommand CommandFunc
}

// New creates a Producer for the given database settings
func New(cfg config.DatabaseConfig, log *zap.Logger) *Producer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Producer{
		cfg:        cfg,
		log:        log,
		newCommand: exec.CommandContext,
	}
}

// WithCommand overrides how the child process is built
func (p *Producer) WithCommand(fn CommandFunc) *Producer {
	p.newCommand = fn
	return p
}

// Args returns the dump utility arguments. The credential is never part of
// argv; it travels in the child environment.
func (p *Producer) Args() []string {
	args := []string{
		"--single-transaction",
		"--quick",
		"--routines",
		"--triggers",
		"--events",
		"--hex-blob",
		"--user=" + p.cfg.User,
		"--host=" + p.cfg.Host,
	}
	if p.cfg.Port > 0 {
		args = append(args, "--port="+strconv.Itoa(p.cfg.Port))
	}
	return append(args, "--databases", p.cfg.Name)
}

// Produce starts the dump and returns its stdout as a stream. A non-zero exit
// surfaces from Read as a DUMP_FAILED error in place of io.EOF, so a consumer
// never mistakes a truncated dump for a complete one.
func (p *Producer) Produce(ctx context.Context) (io.ReadCloser, error) {
	ctx, cancel := context.WithCancel(ctx)

	cmd := p.newCommand(ctx, p.cfg.DumpCommand, p.Args()...)
	cmd.Env = append(cmd.Environ(), "MYSQL_PWD="+p.cfg.Password)

	stderr := &tailBuffer{limit: stderrLimit}
	cmd.Stderr = stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, core.WrapError(core.ErrDumpFailed, fmt.Errorf("creating stdout pipe: %w", err))
	}

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, core.WrapError(core.ErrDumpFailed, fmt.Errorf("starting %s: %w", p.cfg.DumpCommand, err))
	}

	p.log.Debug("dump process started",
		zap.String("command", p.cfg.DumpCommand),
		zap.Int("pid", cmd.Process.Pid),
	)

	return &stream{
		cmd:    cmd,
		stdout: stdout,
		stderr: stderr,
		cancel: cancel,
		name:   p.cfg.DumpCommand,
	}, nil
}

type stream struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
	stderr *tailBuffer
	cancel context.CancelFunc
	name   string

	once    sync.Once
	waitErr error
}

func (s *stream) Read(b []byte) (int, error) {
	n, err := s.stdout.Read(b)
	if errors.Is(err, io.EOF) {
		if werr := s.wait(); werr != nil {
			return n, werr
		}
	}
	return n, err
}

// Close kills a dump that has not finished and reaps the process
func (s *stream) Close() error {
	s.cancel()
	err := s.wait()
	if err != nil && s.cmd.ProcessState != nil && !s.cmd.ProcessState.Exited() {
		// killed by our own cancel after the consumer gave up
		return nil
	}
	return err
}

func (s *stream) wait() error {
	s.once.Do(func() {
		err := s.cmd.Wait()
		s.cancel()
		if err == nil {
			return
		}
		msg := strings.TrimSpace(s.stderr.String())
		if msg == "" {
			s.waitErr = core.WrapError(core.ErrDumpFailed, fmt.Errorf("%s: %w", s.name, err))
			return
		}
		s.waitErr = core.WrapError(core.ErrDumpFailed, fmt.Errorf("%s: %w: %s", s.name, err, msg))
	})
	return s.waitErr
}

// tailBuffer keeps the last limit bytes written to it
type tailBuffer struct {
	mu    sync.Mutex
	limit int
	buf   []byte
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.limit; over > 0 {
		t.buf = t.buf[over:]
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}

// LookPath reports whether the dump utility can be found before a run starts
func LookPath(command string) error {
	if _, err := exec.LookPath(command); err != nil {
		return core.WrapError(core.ErrDumpFailed, fmt.Errorf("locating %s: %w", command, err))
	}
	return nil
}
