package eraser_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajazfarhad/wipeproof/eraser"
)

// TestHelperProcess is not a real test. It stands in for the erase tool when
// re-executed by helperStep.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("WIPEPROOF_WANT_HELPER_PROCESS") != "1" {
		return
	}
	args := os.Args
	for len(args) > 0 && args[0] != "--" {
		args = args[1:]
	}
	if len(args) > 0 {
		args = args[1:]
	}
	code := 0
	for _, a := range args {
		op, val, _ := strings.Cut(a, ":")
		switch op {
		case "out":
			fmt.Fprintln(os.Stdout, val)
		case "err":
			fmt.Fprintln(os.Stderr, val)
		case "cr":
			fmt.Fprint(os.Stdout, val+"\r")
		case "long":
			n, _ := strconv.Atoi(val)
			fmt.Fprintln(os.Stdout, strings.Repeat("x", n))
		case "exit":
			code, _ = strconv.Atoi(val)
		case "linger":
			os.Stdout.Close()
			os.Stderr.Close()
			time.Sleep(30 * time.Second)
		}
	}
	os.Exit(code)
}

func helperStep(ops ...string) eraser.Step {
	return eraser.Step{
		Path: os.Args[0],
		Args: append([]string{"-test.run=TestHelperProcess", "--"}, ops...),
	}
}

func newExec() *eraser.Exec {
	e := eraser.NewExec(nil)
	e.Env = []string{"WIPEPROOF_WANT_HELPER_PROCESS=1"}
	e.KillTimeout = 5 * time.Second
	return e
}

func drain(t *testing.T, p eraser.Process) []eraser.Line {
	t.Helper()
	var out []eraser.Line
	for l := range p.Lines() {
		out = append(out, l)
	}
	return out
}

func texts(lines []eraser.Line) []string {
	out := make([]string, len(lines))
	for i, l := range lines {
		out[i] = l.Text
	}
	return out
}

func TestExecStreamsCombinedOutputInOrder(t *testing.T) {
	p, err := newExec().StartSequence(eraser.Sequence{
		helperStep("out:pass 1", "err:warning", "out:pass 2", "exit:0"),
	})
	require.NoError(t, err)

	lines := drain(t, p)
	exit, err := p.Wait()
	require.NoError(t, err)

	assert.Equal(t, []string{"pass 1", "warning", "pass 2"}, texts(lines))
	assert.True(t, exit.Success())
	assert.Equal(t, 1, exit.Steps)
	assert.Equal(t, -1, exit.FailedStep)
}

func TestExecCarriageReturnProgress(t *testing.T) {
	p, err := newExec().StartSequence(eraser.Sequence{
		helperStep("cr:10%", "cr:50%", "out:100%"),
	})
	require.NoError(t, err)
	lines := drain(t, p)
	_, err = p.Wait()
	require.NoError(t, err)
	assert.Equal(t, []string{"10%", "50%", "100%"}, texts(lines))
}

func TestExecSplitsOverlongLinesWithoutLosingOutput(t *testing.T) {
	e := newExec()
	e.MaxLine = 1000
	p, err := e.StartSequence(eraser.Sequence{
		helperStep("long:2500", "out:after", "exit:0"),
	})
	require.NoError(t, err)
	lines := drain(t, p)
	exit, err := p.Wait()
	require.NoError(t, err)
	assert.True(t, exit.Success())

	piece := strings.Repeat("x", 1000) + eraser.ContinuedMarker
	assert.Equal(t, []string{piece, piece, strings.Repeat("x", 500), "after"}, texts(lines))
}

func TestExecDefaultLineLimitKeepsStreaming(t *testing.T) {
	p, err := newExec().StartSequence(eraser.Sequence{
		helperStep("long:2000000", "out:after", "exit:0"),
	})
	require.NoError(t, err)
	lines := drain(t, p)
	_, err = p.Wait()
	require.NoError(t, err)

	require.NotEmpty(t, lines)
	assert.Equal(t, "after", lines[len(lines)-1].Text)
	total := 0
	for _, l := range lines[:len(lines)-1] {
		total += len(strings.TrimSuffix(l.Text, eraser.ContinuedMarker))
	}
	assert.Equal(t, 2000000, total)
}

func TestExecStopsAtFirstNonzeroStep(t *testing.T) {
	p, err := newExec().StartSequence(eraser.Sequence{
		helperStep("out:set password"),
		helperStep("out:erasing", "exit:3"),
		helperStep("out:never"),
	})
	require.NoError(t, err)

	lines := drain(t, p)
	exit, err := p.Wait()

	var exitErr *eraser.ExitError
	require.True(t, errors.As(err, &exitErr))
	assert.Equal(t, 1, exitErr.Step)
	assert.Equal(t, 3, exitErr.Code)

	assert.Equal(t, []string{"set password", "erasing"}, texts(lines))
	assert.Equal(t, 1, lines[1].Step)
	assert.Equal(t, 3, exit.Code)
	assert.Equal(t, 2, exit.Steps)
	assert.Equal(t, 1, exit.FailedStep)
	assert.False(t, exit.Success())
}

func TestExecLaunchFailure(t *testing.T) {
	_, err := newExec().StartSequence(eraser.Sequence{{Path: "/nonexistent/wipe-tool"}})
	require.ErrorIs(t, err, eraser.ErrLaunch)

	_, err = newExec().StartSequence(nil)
	require.ErrorIs(t, err, eraser.ErrLaunch)
}

func TestExecLaterStepLaunchFailureIsRuntimeFailure(t *testing.T) {
	p, err := newExec().StartSequence(eraser.Sequence{
		helperStep("out:ok"),
		{Path: "/nonexistent/wipe-tool"},
	})
	require.NoError(t, err)
	drain(t, p)
	exit, err := p.Wait()

	var exitErr *eraser.ExitError
	require.True(t, errors.As(err, &exitErr))
	assert.ErrorIs(t, err, eraser.ErrLaunch)
	assert.Equal(t, 1, exit.FailedStep)
	assert.False(t, exit.Success())
}

func TestExecKillsStepThatLingersAfterEOF(t *testing.T) {
	e := newExec()
	e.KillTimeout = 200 * time.Millisecond

	p, err := e.StartSequence(eraser.Sequence{helperStep("out:done", "linger")})
	require.NoError(t, err)

	start := time.Now()
	lines := drain(t, p)
	exit, err := p.Wait()

	assert.Less(t, time.Since(start), 20*time.Second)
	assert.Equal(t, []string{"done"}, texts(lines))
	assert.True(t, exit.Killed)
	assert.False(t, exit.Success())
	assert.Error(t, err)
}

func TestExecStartResolvesFromTable(t *testing.T) {
	e := newExec()
	e.Table = eraser.Table{
		eraser.MediaHDD: {"zero": {helperStep("out:{{.Method}} {{.Device}}")}},
	}

	p, err := e.Start(context.Background(), eraser.Job{Target: "/dev/sdz", Media: eraser.MediaHDD, Method: "zero"})
	require.NoError(t, err)
	lines := drain(t, p)
	_, err = p.Wait()
	require.NoError(t, err)
	assert.Equal(t, []string{"zero /dev/sdz"}, texts(lines))

	_, err = e.Start(context.Background(), eraser.Job{Target: "/dev/sdz", Media: eraser.MediaHDD, Method: "gutmann"})
	assert.ErrorIs(t, err, eraser.ErrLaunch)
}
