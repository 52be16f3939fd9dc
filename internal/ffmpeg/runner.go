package ffmpeg

import (
	"bufio"
	"fmt"
	"os/exec"
	"strings"
	"sync"
)

// tailLines bounds the diagnostic output kept from a failed encode. The
// interesting lines (encoder init errors) are always near the end.
const tailLines = 40

// ExitError wraps a failed ffmpeg run together with the tail of its
// diagnostic output so callers can classify and report the failure.
type ExitError struct {
	Err  error
	Tail string
}

func (e *ExitError) Error() string {
	if e.Tail == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%v\n%s", e.Err, e.Tail)
}

func (e *ExitError) Unwrap() error { return e.Err }

// TailBuffer is an io.Writer that retains only the last tailLines lines.
type TailBuffer struct {
	mu      sync.Mutex
	lines   []string
	partial string
}

func (t *TailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	text := t.partial + string(p)
	parts := strings.Split(text, "\n")
	t.partial = parts[len(parts)-1]
	for _, line := range parts[:len(parts)-1] {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			continue
		}
		t.lines = append(t.lines, line)
		if len(t.lines) > tailLines {
			t.lines = t.lines[len(t.lines)-tailLines:]
		}
	}
	return len(p), nil
}

// Tail returns the retained diagnostic lines.
func (t *TailBuffer) Tail() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.partial != "" {
		return strings.Join(append(append([]string{}, t.lines...), t.partial), "\n")
	}
	return strings.Join(t.lines, "\n")
}

// ProgressUpdate is delivered once per -progress block during a run.
type ProgressUpdate struct {
	Percent float64
	FPS     float64
	Speed   string
	Done    bool
}

// RunWithProgress starts cmd, streams -progress output from stdout into
// onProgress, and retains a bounded stderr tail. The command is expected to
// have been created with exec.CommandContext so cancellation kills it.
// On failure the returned error is an *ExitError carrying the tail.
func RunWithProgress(cmd *exec.Cmd, durationSec float64, onProgress func(ProgressUpdate)) error {
	tail := &TailBuffer{}
	cmd.Stderr = tail

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return &ExitError{Err: err}
	}

	if err := cmd.Start(); err != nil {
		return &ExitError{Err: err}
	}

	var st ProgressState
	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		if !ParseProgressLine(scanner.Text(), &st) {
			continue
		}
		if onProgress != nil {
			onProgress(ProgressUpdate{
				Percent: st.Percent(durationSec),
				FPS:     st.FPS,
				Speed:   st.Speed,
				Done:    st.End,
			})
		}
	}

	if err := cmd.Wait(); err != nil {
		return &ExitError{Err: err, Tail: tail.Tail()}
	}
	return nil
}
