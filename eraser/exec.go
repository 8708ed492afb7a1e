package eraser

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"
)

const (
	DefaultKillTimeout = 10 * time.Second
	// DefaultMaxLine bounds a recorded line in bytes; longer output is
	// recorded in pieces, each but the last ending in ContinuedMarker.
	DefaultMaxLine = 64 * 1024
)

// ContinuedMarker ends a piece of a line that was split at MaxLine.
const ContinuedMarker = " [continued]"

// Exec runs method sequences from a Table as child processes.
type Exec struct {
	Table Table
	// KillTimeout bounds how long a step may linger after closing its output.
	KillTimeout time.Duration
	// MaxLine is the longest piece of output recorded as one Line.
	MaxLine int
	// Env is appended to the parent environment for every step.
	Env    []string
	Logger *slog.Logger
}

func NewExec(t Table) *Exec {
	return &Exec{Table: t, KillTimeout: DefaultKillTimeout, MaxLine: DefaultMaxLine, Logger: slog.Default()}
}

// Start resolves the sequence and launches its first step. The context is
// not used to cancel running steps; an erase is never interrupted midway.
func (e *Exec) Start(ctx context.Context, job Job) (Process, error) {
	seq, err := e.Table.Resolve(job.Media, job.Method, Params{
		Device:   job.Target,
		Method:   job.Method,
		Password: job.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLaunch, err)
	}
	return e.StartSequence(seq)
}

// StartSequence launches seq directly, bypassing the table.
func (e *Exec) StartSequence(seq Sequence) (Process, error) {
	if len(seq) == 0 {
		return nil, fmt.Errorf("%w: empty sequence", ErrLaunch)
	}
	cmd, out, err := e.launch(seq[0])
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrLaunch, seq[0].Path, err)
	}

	p := &execProcess{
		exec:  e,
		seq:   seq,
		lines: make(chan Line),
		done:  make(chan struct{}),
	}
	go p.run(cmd, out)
	return p, nil
}

func (e *Exec) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

// launch starts one step with stdout and stderr sharing a single pipe, so
// lines arrive in the order the tool wrote them.
func (e *Exec) launch(st Step) (*exec.Cmd, *os.File, error) {
	pr, pw, err := os.Pipe()
	if err != nil {
		return nil, nil, err
	}
	cmd := exec.Command(st.Path, st.Args...)
	cmd.Stdout = pw
	cmd.Stderr = pw
	if len(e.Env) > 0 {
		cmd.Env = append(os.Environ(), e.Env...)
	}
	if err := cmd.Start(); err != nil {
		pr.Close()
		pw.Close()
		return nil, nil, err
	}
	pw.Close()
	e.logger().Debug("eraser step started", "path", st.Path, "pid", cmd.Process.Pid)
	return cmd, pr, nil
}

type execProcess struct {
	exec  *Exec
	seq   Sequence
	lines chan Line
	done  chan struct{}

	exit Exit
	err  error
}

func (p *execProcess) Lines() <-chan Line { return p.lines }

func (p *execProcess) Wait() (Exit, error) {
	<-p.done
	return p.exit, p.err
}

func (p *execProcess) run(cmd *exec.Cmd, out *os.File) {
	exit := Exit{FailedStep: -1}
	var runErr error

	for i, st := range p.seq {
		if i > 0 {
			var err error
			cmd, out, err = p.exec.launch(st)
			if err != nil {
				exit.Code = -1
				exit.FailedStep = i
				runErr = &ExitError{Step: i, Path: st.Path, Code: -1, Err: fmt.Errorf("%w: %w", ErrLaunch, err)}
				break
			}
		}
		exit.Steps = i + 1

		code, killed, err := p.runStep(i, cmd, out)
		exit.Code = code
		exit.Killed = exit.Killed || killed
		if err != nil {
			exit.FailedStep = i
			runErr = &ExitError{Step: i, Path: st.Path, Code: code, Err: err}
			break
		}
		if code != 0 {
			exit.FailedStep = i
			runErr = &ExitError{Step: i, Path: st.Path, Code: code}
			break
		}
	}

	p.exit = exit
	p.err = runErr
	close(p.lines)
	close(p.done)
}

// runStep pumps the step's output to EOF, then gives the process
// KillTimeout to exit before killing it.
func (p *execProcess) runStep(idx int, cmd *exec.Cmd, out *os.File) (code int, killed bool, err error) {
	exited := make(chan struct{})
	go func() {
		_ = cmd.Wait()
		close(exited)
	}()

	eof := make(chan struct{})
	var g errgroup.Group
	g.Go(func() error {
		defer close(eof)
		defer out.Close()
		return p.pump(idx, out)
	})
	g.Go(func() error {
		<-eof
		timeout := p.exec.KillTimeout
		if timeout <= 0 {
			timeout = DefaultKillTimeout
		}
		timer := time.NewTimer(timeout)
		defer timer.Stop()

		select {
		case <-exited:
		case <-timer.C:
			p.exec.logger().Warn("eraser step still running after output closed, killing",
				"step", idx, "pid", cmd.Process.Pid, "timeout", timeout)
			killed = true
			if kerr := cmd.Process.Kill(); kerr != nil {
				return fmt.Errorf("kill step %d: %w", idx, kerr)
			}
			<-exited
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		<-exited
		return cmd.ProcessState.ExitCode(), killed, err
	}
	return cmd.ProcessState.ExitCode(), killed, nil
}

func (p *execProcess) pump(idx int, out *os.File) error {
	limit := p.exec.MaxLine
	if limit <= 0 {
		limit = DefaultMaxLine
	}
	sp := &lineSplitter{max: limit}
	sc := bufio.NewScanner(out)
	sc.Buffer(make([]byte, 0, min(limit+1, 64*1024)), limit+1)
	sc.Split(sp.split)
	for sc.Scan() {
		text := sc.Text()
		if sp.cut {
			text += ContinuedMarker
		}
		p.lines <- Line{Step: idx, Text: text}
	}
	if err := sc.Err(); err != nil {
		// drain the rest so the child never blocks on a full pipe
		_, _ = io.Copy(io.Discard, out)
		return fmt.Errorf("read step %d output: %w", idx, err)
	}
	return nil
}

// lineSplitter splits on \n, \r\n or a bare \r, which progress meters use
// to redraw in place. Empty lines are skipped. A line longer than max is
// emitted in max-sized pieces and cut is set for every piece but the last.
type lineSplitter struct {
	max int
	cut bool
}

func (l *lineSplitter) split(data []byte, atEOF bool) (advance int, token []byte, err error) {
	l.cut = false
	start := 0
	for start < len(data) && (data[start] == '\n' || data[start] == '\r') {
		start++
	}
	rest := data[start:]
	if i := bytes.IndexAny(rest, "\r\n"); i >= 0 && i <= l.max {
		return start + i + 1, rest[:i], nil
	}
	if len(rest) > l.max {
		// cut on a rune boundary
		n := l.max
		for k := 0; k < utf8.UTFMax-1 && n > 1 && !utf8.RuneStart(rest[n]); k++ {
			n--
		}
		l.cut = true
		return start + n, rest[:n], nil
	}
	if atEOF && len(rest) > 0 {
		return len(data), rest, nil
	}
	return start, nil, nil
}
